// Package commands implements the s3 command line.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/software3/software3"
	"github.com/software3/software3/internal/config"
	"github.com/software3/software3/internal/editor"
	"github.com/software3/software3/internal/host"
	"github.com/software3/software3/internal/logging"
)

// files is where commands read and write documents.
var files host.FileSystem = host.OSFS{}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the s3 command tree.
func NewRootCommand(version string) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "s3",
		Short: "Software 3.0 documents: natural-language instructions next to runnable code",
		Long: `s3 works with .s3 documents, JSON files that pair instructions with code.

Use 's3 [command] --help' for more information about a command.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to "+config.FileName+" (default: look next to the document)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, off")

	root.AddCommand(
		newValidateCommand(g),
		newStatsCommand(g),
		newFmtCommand(g),
		newExportCommand(g),
		newImportCommand(g),
		newRunCommand(g),
		newServeCommand(g),
		newVersionCommand(version),
	)
	return root
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "s3 version %s\n", version)
		},
	}
}

// loadConfig reads --config, or software3.yaml in dir.
func (g *globalFlags) loadConfig(dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load(g.configPath)
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, nil
}

// logger builds the root logger on the command's error stream.
func (g *globalFlags) logger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Log, cmd.ErrOrStderr())
}

// parser returns a parser configured from cfg. Strict mode is off so that
// commands can report every problem instead of stopping at the first.
func parser(cfg *config.Config) *software3.Parser {
	return software3.NewParser(append(cfg.Parser.Options(), software3.WithStrict(false))...)
}

// loadDocument reads path as a full document. Simplified documents become
// one block named "main".
func loadDocument(p *software3.Parser, path string) (*software3.Document, software3.ValidationResult, error) {
	data, err := files.ReadFile(path)
	if err != nil {
		return nil, software3.ValidationResult{}, err
	}
	if editor.IsContent(data) {
		doc := editor.ParseContent(data).Document(baseName(path))
		return doc, p.Validate(doc), nil
	}
	doc, result, err := p.ParseWithReport(data)
	if err != nil {
		if pe, ok := asParseError(err); ok {
			pe.File = path
		}
		return nil, result, err
	}
	return doc, result, nil
}

// requireValid loads path and fails on any validation error.
func requireValid(p *software3.Parser, path string) (*software3.Document, error) {
	doc, result, err := loadDocument(p, path)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fmt.Errorf("%s: %w", path, result.Err())
	}
	return doc, nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// configDir is the directory searched for software3.yaml when working on path.
func configDir(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return filepath.Dir(path)
}
