package commands

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/software3/software3"
	"github.com/software3/software3/internal/editor"
)

func newFmtCommand(g *globalFlags) *cobra.Command {
	var (
		check  bool
		indent int
	)

	cmd := &cobra.Command{
		Use:   "fmt <file...>",
		Short: "Rewrite documents in canonical form",
		Long: `Fmt rewrites each file with normalized JSON: duplicate block ids made
unique, multi-language code kept in order, HTML characters left unescaped.
With --check nothing is written and the command fails if a file would change.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(configDir(args[0]))
			if err != nil {
				return err
			}
			p := software3.NewParser(append(cfg.Parser.Options(),
				software3.WithStrict(false), software3.WithValidateSchema(false))...)

			out := cmd.OutOrStdout()
			unformatted := 0
			for _, file := range args {
				data, err := files.ReadFile(file)
				if err != nil {
					return err
				}
				formatted, err := format(p, data, indent)
				if err != nil {
					if pe, ok := asParseError(err); ok {
						pe.File = file
					}
					return err
				}
				if bytes.Equal(data, formatted) {
					continue
				}
				if check {
					fmt.Fprintln(out, file)
					unformatted++
					continue
				}
				if err := files.WriteFile(file, formatted); err != nil {
					return fmt.Errorf("failed to write %s: %w", file, err)
				}
				fmt.Fprintf(out, "formatted %s\n", file)
			}
			if unformatted > 0 {
				return fmt.Errorf("%d file(s) need formatting", unformatted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Report files that would change and fail if any")
	cmd.Flags().IntVar(&indent, "indent", 2, "Indentation width")
	return cmd
}

// format returns data in canonical form, ending with a newline.
func format(p *software3.Parser, data []byte, indent int) ([]byte, error) {
	if editor.IsContent(data) {
		return append(editor.ParseContent(data).Marshal(), '\n'), nil
	}
	doc, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	s, err := software3.Stringify(doc, indent)
	if err != nil {
		return nil, err
	}
	return []byte(s + "\n"), nil
}
