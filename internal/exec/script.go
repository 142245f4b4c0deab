package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/software3/software3/internal/host"
)

// writeScript writes code to a fresh file in dir and makes the panel own it.
func (h *Handler) writeScript(p host.Panel, dir, pattern, code string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create script file: %w", err)
	}
	name := f.Name()
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to write script file: %w", err)
	}
	h.setTempFile(p.ID(), name)
	return name, nil
}

// streamOptions tune how a finished process is reported.
type streamOptions struct {
	// ignoreStderr drops stderr containing this text (tool banners).
	ignoreStderr string
}

// stream runs cmd under the execution timeout and reports its output: each
// stdout line as it arrives, the no-output sentinel when nothing was
// printed, then stderr verbatim.
func (h *Handler) stream(ctx context.Context, p host.Panel, cmd host.Command, opts streamOptions) error {
	timeout := h.cfg.GetTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := h.runner.Run(runCtx, cmd, func(line string) {
		if line == "" {
			line = " "
		}
		h.post(p, host.Output(line, host.OutputInfo))
	})

	if ctx.Err() != nil {
		return errStopped
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("execution timed out after %s", timeout)
	}

	stderr := res.Stderr
	if opts.ignoreStderr != "" && strings.Contains(stderr, opts.ignoreStderr) {
		stderr = ""
	}

	var exitErr *host.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return err
	}

	if res.Lines == 0 && stderr == "" && err == nil {
		h.post(p, host.Output(NoOutput, host.OutputInfo))
	}
	if stderr != "" {
		h.post(p, host.Output(strings.TrimRight(stderr, "\n"), host.OutputError))
	}
	return err
}

func (h *Handler) runJavaScript(ctx context.Context, p host.Panel, req Request) error {
	dir, err := h.scratchDir()
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	file, err := h.writeScript(p, dir, "script_*.js", req.Code)
	if err != nil {
		return err
	}
	defer h.removeTempFile(p.ID(), file)

	return h.stream(ctx, p, host.Command{Name: h.cfg.GetNode(), Args: []string{file}, Dir: dir}, streamOptions{})
}

// runTypeScript prefers ts-node and falls back to stripping the types and
// running the result with node.
func (h *Handler) runTypeScript(ctx context.Context, p host.Panel, req Request) error {
	dir, err := h.scratchDir()
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	file, err := h.writeScript(p, dir, "script_*.ts", req.Code)
	if err != nil {
		return err
	}
	defer h.removeTempFile(p.ID(), file)

	tsNode := h.cfg.GetTSNode()
	if h.commandWorks(ctx, tsNode[0], withArgs(tsNode[1:], "--version")...) {
		cmd := host.Command{Name: tsNode[0], Args: withArgs(tsNode[1:], file), Dir: dir}
		return h.stream(ctx, p, cmd, streamOptions{ignoreStderr: "ts-node"})
	}
	if ctx.Err() != nil {
		return errStopped
	}

	h.post(p, host.Output("ts-node not found. Transpiling TypeScript to JavaScript...", host.OutputInfo))

	jsFile := strings.TrimSuffix(file, ".ts") + ".js"
	if err := os.WriteFile(jsFile, []byte(StripTypes(req.Code)), 0644); err != nil {
		return fmt.Errorf("failed to write transpiled script: %w", err)
	}
	defer os.Remove(jsFile)

	return h.stream(ctx, p, host.Command{Name: h.cfg.GetNode(), Args: []string{jsFile}, Dir: dir}, streamOptions{})
}

// commandWorks reports whether name runs successfully with args.
func (h *Handler) commandWorks(ctx context.Context, name string, args ...string) bool {
	checkCtx, cancel := context.WithTimeout(ctx, h.cfg.GetTimeout())
	defer cancel()
	_, err := h.runner.Run(checkCtx, host.Command{Name: name, Args: args}, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("command", name).Msg("Version check failed")
		return false
	}
	return true
}

func withArgs(base []string, extra ...string) []string {
	args := make([]string, 0, len(base)+len(extra))
	args = append(args, base...)
	return append(args, extra...)
}
