package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/software3/software3"
	"github.com/software3/software3/internal/render"
)

type exportOptions struct {
	format     string
	output     string
	theme      string
	view       string
	fragment   bool
	lineNums   bool
	noMetadata bool
	indented   bool
	stats      bool
}

func newExportCommand(g *globalFlags) *cobra.Command {
	o := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export a document as HTML or markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(configDir(args[0]))
			if err != nil {
				return err
			}
			doc, err := requireValid(parser(cfg), args[0])
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if o.output != "" && o.output != "-" {
				f, err := os.Create(o.output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			switch o.format {
			case "html":
				opts := render.DefaultOptions()
				opts.Theme = o.theme
				opts.LineNumbers = o.lineNums
				opts.WrapInDocument = !o.fragment
				opts.IncludeStats = o.stats
				if o.view != "" {
					if v := render.View(o.view); v != render.ViewText && v != render.ViewCode {
						return fmt.Errorf("unsupported view %q (want text or code)", o.view)
					}
					opts.EnableToggle = false
					opts.DefaultView = render.View(o.view)
				}
				r := render.New(g.logger(cmd, cfg))
				return r.Document(out, doc, opts)
			case "markdown", "md":
				opts := software3.DefaultMarkdownOptions()
				opts.IncludeMetadata = !o.noMetadata
				opts.Indented = o.indented
				md, err := software3.ToMarkdown(doc, opts)
				if err != nil {
					return err
				}
				_, err = io.WriteString(out, md+"\n")
				return err
			default:
				return fmt.Errorf("unsupported format %q (want html or markdown)", o.format)
			}
		},
	}
	cmd.Flags().StringVarP(&o.format, "format", "f", "html", "Output format: html or markdown")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&o.theme, "theme", "light", "HTML theme: light or dark")
	cmd.Flags().StringVar(&o.view, "view", "", "Show only one view in HTML: text or code")
	cmd.Flags().BoolVar(&o.fragment, "fragment", false, "Write an HTML fragment instead of a full page")
	cmd.Flags().BoolVar(&o.lineNums, "line-numbers", false, "Number code lines in HTML")
	cmd.Flags().BoolVar(&o.stats, "stats", false, "Append a statistics summary to HTML")
	cmd.Flags().BoolVar(&o.noMetadata, "no-metadata", false, "Leave metadata out of markdown")
	cmd.Flags().BoolVar(&o.indented, "indented", false, "Write markdown code as indented blocks")
	return cmd
}
