package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/software3/software3"
	"github.com/software3/software3/internal/exec"
	"github.com/software3/software3/internal/host"
)

type runOptions struct {
	block        string
	language     string
	requirements string
	wait         bool
}

func newRunCommand(g *globalFlags) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute the code of one block",
		Long: `Run executes a block the way the editor does. JavaScript, TypeScript and
Python run as scripts; HTML and CSS start a preview server that stays up until
interrupted. Multi-language blocks run the --language variant, then the
block's default language, then the first variant.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig(configDir(args[0]))
			if err != nil {
				return err
			}
			doc, err := requireValid(parser(cfg), args[0])
			if err != nil {
				return err
			}
			req, err := blockRequest(doc, o.block, o.language)
			if err != nil {
				return err
			}
			req.DocumentPath = path
			req.Requirements = o.requirements

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			log := g.logger(cmd, cfg)
			handler := exec.New(cfg.Execution, nil, log, exec.WithWorkspace(filepath.Dir(path)))
			defer handler.Dispose()

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			var (
				mu      sync.Mutex
				failure string
				started bool
			)
			panel := host.FuncPanel{
				PanelID: "cli",
				Post: func(msg host.Message) error {
					mu.Lock()
					defer mu.Unlock()
					switch msg.Type {
					case host.TypeOutput:
						if msg.OutputType == host.OutputError {
							fmt.Fprintln(errOut, msg.Text)
						} else {
							fmt.Fprintln(out, msg.Text)
						}
					case host.TypeServerStarted:
						started = true
						fmt.Fprintf(out, "Preview running at %s\n", msg.URL)
					case host.TypeExecutionError:
						failure = msg.Error
					}
					return nil
				},
			}

			handler.Execute(ctx, panel, req)

			mu.Lock()
			waitForPreview := started && o.wait
			mu.Unlock()
			if waitForPreview {
				fmt.Fprintln(out, "Press Ctrl+C to stop")
				<-ctx.Done()
			}

			mu.Lock()
			defer mu.Unlock()
			if failure != "" {
				return errors.New(failure)
			}
			if ctx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&o.block, "block", "b", "", "Block id (default: first block)")
	cmd.Flags().StringVarP(&o.language, "language", "l", "", "Variant to run for multi-language blocks")
	cmd.Flags().StringVarP(&o.requirements, "requirements", "r", "", "pip requirements for Python, one per line")
	cmd.Flags().BoolVar(&o.wait, "wait", true, "Keep preview servers running until interrupted")
	return cmd
}

// blockRequest picks the block and code variant to run.
func blockRequest(doc *software3.Document, id, language string) (exec.Request, error) {
	if len(doc.Blocks) == 0 {
		return exec.Request{}, fmt.Errorf("document has no blocks")
	}
	b := doc.Blocks[0]
	if id != "" {
		if b = doc.Block(id); b == nil {
			return exec.Request{}, fmt.Errorf("no block with id %q (have %v)", id, doc.IDs())
		}
	}

	if !b.Code.IsMulti() {
		lang := string(b.Language)
		if language != "" && language != lang {
			return exec.Request{}, fmt.Errorf("block %q is %s, not %s", b.ID, lang, language)
		}
		return exec.Request{Code: b.Code.Source(), Language: lang}, nil
	}

	candidates := []string{language}
	if b.Metadata != nil {
		candidates = append(candidates, b.Metadata.DefaultLanguage)
	}
	candidates = append(candidates, b.Code.Languages()...)
	for _, lang := range candidates {
		if lang == "" {
			continue
		}
		if src, ok := b.Code.Variant(lang); ok {
			return exec.Request{Code: src, Language: lang}, nil
		}
		if lang == language {
			return exec.Request{}, fmt.Errorf("block %q has no %s variant (have %v)", b.ID, language, b.Code.Languages())
		}
	}
	return exec.Request{}, fmt.Errorf("block %q has no code", b.ID)
}
