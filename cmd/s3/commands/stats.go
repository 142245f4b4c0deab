package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/software3/software3"
)

func newStatsCommand(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats <file>",
		Short: "Show block, language and line statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(configDir(args[0]))
			if err != nil {
				return err
			}
			doc, _, err := loadDocument(parser(cfg), args[0])
			if err != nil {
				return err
			}
			stats := software3.GenerateStats(doc)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			fmt.Fprintf(out, "%s\n\n", doc.Title)
			fmt.Fprintf(out, "Blocks:        %d\n", stats.TotalBlocks)
			fmt.Fprintf(out, "Lines:         %d (%d text, %d code)\n", stats.TotalLines.Total, stats.TotalLines.Text, stats.TotalLines.Code)
			fmt.Fprintf(out, "Reading time:  %d min\n", stats.EstimatedReadingTime)

			if len(stats.Languages) > 0 {
				fmt.Fprintf(out, "\nLanguages:\n")
				for _, l := range stats.Languages {
					fmt.Fprintf(out, "  %-12s %3d blocks %5d lines %5.1f%%\n", l.Language, l.BlockCount, l.LineCount, l.Percentage)
				}
			}

			c := stats.ComplexityDistribution
			fmt.Fprintf(out, "\nComplexity:    beginner %d, intermediate %d, advanced %d, unspecified %d\n",
				c.Beginner, c.Intermediate, c.Advanced, c.Unspecified)

			if len(stats.Tags) > 0 {
				fmt.Fprintf(out, "\nTags:\n")
				for _, t := range stats.Tags {
					fmt.Fprintf(out, "  %-12s %3d (%s)\n", t.Tag, t.Count, strings.Join(t.Blocks, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}
