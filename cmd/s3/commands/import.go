package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/software3/software3"
)

func newImportCommand(g *globalFlags) *cobra.Command {
	var (
		title    string
		output   string
		split    bool
		level    int
		language string
		author   string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.md>",
		Short: "Convert a markdown file into a .s3 document",
		Long: `Import turns prose and fenced code blocks into document blocks. Front
matter supplies the title and metadata. By default one block is created per
fenced code block; --split starts a block at every heading instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			cfg, err := g.loadConfig(configDir(src))
			if err != nil {
				return err
			}
			data, err := files.ReadFile(src)
			if err != nil {
				return err
			}

			opts := software3.ImportOptions{
				SplitByHeadings: split,
				MaxHeadingLevel: level,
				Author:          author,
			}
			if language != "" {
				opts.Language = software3.LanguageFromFence(language)
			}

			doc, err := parser(cfg).FromMarkdown(title, data, opts)
			if err != nil {
				return err
			}
			out, err := software3.Stringify(doc, 2)
			if err != nil {
				return err
			}

			if output == "-" {
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			if output == "" {
				output = strings.TrimSuffix(src, filepath.Ext(src)) + ".s3"
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}
			if err := files.WriteFile(output, []byte(out+"\n")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d block(s) into %s\n", len(doc.Blocks), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (default: front matter title or Untitled)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout (default: input with .s3 extension)")
	cmd.Flags().BoolVar(&split, "split", false, "Start a new block at every heading")
	cmd.Flags().IntVar(&level, "max-heading-level", 6, "Deepest heading level that starts a block with --split")
	cmd.Flags().StringVar(&language, "language", "", "Language for sections without fenced code")
	cmd.Flags().StringVar(&author, "author", "", "Author recorded in metadata")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing output file")
	return cmd
}
