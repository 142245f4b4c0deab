package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/software3/software3"
)

func newValidateCommand(g *globalFlags) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate .s3 documents",
		Long: `Validate checks .s3 files against the document rules. Directories are
searched recursively, skipping hidden directories. With no arguments the
current directory is validated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			cfg, err := g.loadConfig(configDir(args[0]))
			if err != nil {
				return err
			}
			p := parser(cfg)

			files, err := collectDocuments(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no .s3 files found")
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, file := range files {
				if !validateFile(out, p, file, quiet) {
					failed++
				}
			}

			fmt.Fprintf(out, "\n%d file(s) checked, %d failed\n", len(files), failed)
			if failed > 0 {
				return fmt.Errorf("validation failed for %d file(s)", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only report invalid files")
	return cmd
}

// validateFile prints the report for one file and reports whether it passed.
func validateFile(out io.Writer, p *software3.Parser, file string, quiet bool) bool {
	_, result, err := loadDocument(p, file)
	if err != nil {
		fmt.Fprintf(out, "✗ %s\n", file)
		if pe, ok := asParseError(err); ok {
			fmt.Fprintf(out, "%s\n", indent(pe.Format(), "    "))
		} else {
			fmt.Fprintf(out, "    %v\n", err)
		}
		return false
	}

	if result.Valid && (quiet || len(result.Warnings) == 0) {
		if !quiet {
			fmt.Fprintf(out, "✓ %s\n", file)
		}
		return true
	}

	mark := "✓"
	if !result.Valid {
		mark = "✗"
	}
	fmt.Fprintf(out, "%s %s\n", mark, file)
	for _, issue := range result.Errors {
		fmt.Fprintf(out, "    error   %s: %s (%s)\n", issue.Path, issue.Message, issue.Code)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(out, "    warning %s: %s (%s)\n", issue.Path, issue.Message, issue.Code)
	}
	return result.Valid
}

// collectDocuments expands directories into the .s3 files they contain.
func collectDocuments(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != path && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(p) == ".s3" {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

func asParseError(err error) (*software3.ParseError, bool) {
	var pe *software3.ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
