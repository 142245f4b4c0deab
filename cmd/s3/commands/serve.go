package commands

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/software3/software3/internal/ai"
	"github.com/software3/software3/internal/server"
	"github.com/software3/software3/internal/store"
)

type serveOptions struct {
	host      string
	port      int
	watch     bool
	noBackups bool
}

func newServeCommand(g *globalFlags) *cobra.Command {
	o := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve [directory]",
		Short: "Start the document editor server",
		Long: `Serve opens every .s3 file below the directory in a browser editor.
Each browser tab is an editor panel connected over a WebSocket. Unsaved edits
are backed up when a tab closes and can be restored from /api/backups.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("failed to get absolute path: %w", err)
			}
			if _, err := os.Stat(absDir); os.IsNotExist(err) {
				return fmt.Errorf("directory does not exist: %s", dir)
			}

			cfg, err := g.loadConfig(absDir)
			if err != nil {
				return err
			}
			// CLI flags override config
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = o.host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = o.port
			}
			if cmd.Flags().Changed("watch") {
				cfg.Server.Watch = o.watch
			}

			log := g.logger(cmd, cfg)
			var opts []server.Option

			switch gen := ai.New(cfg.AI, log); {
			case gen.Err() != nil:
				log.Warn().Err(gen.Err()).Msg("AI generation disabled")
			case !gen.Available():
				log.Info().Str("env", cfg.AI.APIKeyEnv).Msg("AI generation disabled: API key not set")
			default:
				opts = append(opts, server.WithGenerator(gen))
			}

			if !o.noBackups {
				dbPath := cfg.Store.Path
				if !filepath.IsAbs(dbPath) {
					dbPath = filepath.Join(absDir, dbPath)
				}
				backups, err := store.Open(dbPath)
				if err != nil {
					return fmt.Errorf("failed to open backup store: %w", err)
				}
				defer backups.Close()
				opts = append(opts, server.WithBackups(backups))
			}

			srv, err := server.New(absDir, cfg, log, opts...)
			if err != nil {
				return err
			}
			defer srv.Close()

			if err := srv.Discover(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Serving: %s\n\nDocuments discovered:\n", absDir)
			for _, d := range srv.Documents() {
				fmt.Fprintf(out, "  %-30s %s\n", d.Path, d.Title)
			}

			if cfg.Server.Watch {
				if err := srv.EnableWatch(); err != nil {
					return err
				}
				fmt.Fprintf(out, "\nWatch mode enabled: documents reload when changed on disk\n")
			}
			fmt.Fprintf(out, "\nServer running at http://%s\nPress Ctrl+C to stop\n\n", cfg.Server.Addr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&o.host, "host", "", "Address to listen on (default from config: 127.0.0.1)")
	cmd.Flags().IntVarP(&o.port, "port", "p", 0, "Port to listen on (default from config: 8080)")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "Reload documents when they change on disk")
	cmd.Flags().BoolVar(&o.noBackups, "no-backups", false, "Do not back up unsaved edits")
	return cmd
}
