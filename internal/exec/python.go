package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/software3/software3/internal/host"
)

// ErrPythonNotFound is returned when no configured interpreter runs.
var ErrPythonNotFound = errors.New("Python is not installed or not in PATH. Please install Python to run Python code.")

var unsafeVenvChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// VenvDir returns the virtual environment directory used for a document:
// .venv_<name> next to the document, with the name reduced to [a-zA-Z0-9_-].
func VenvDir(documentPath string) string {
	name := strings.TrimSuffix(filepath.Base(documentPath), ".s3")
	return filepath.Join(filepath.Dir(documentPath), ".venv_"+unsafeVenvChars.ReplaceAllString(name, "_"))
}

func venvBin(venv, name string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venv, "Scripts", name+".exe")
	}
	return filepath.Join(venv, "bin", name)
}

func (h *Handler) runPython(ctx context.Context, p host.Panel, req Request) error {
	python, err := h.resolvePython(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errStopped
		}
		return err
	}

	dir := ""
	env := "system"
	if req.DocumentPath != "" && strings.TrimSpace(req.Requirements) != "" {
		if venvPython := h.prepareVenv(ctx, p, python, req); venvPython != "" {
			python = venvPython
			dir = filepath.Dir(req.DocumentPath)
			env = "virtual environment"
		}
		if ctx.Err() != nil {
			return errStopped
		}
	}
	if dir == "" {
		if dir, err = h.scratchDir(); err != nil {
			return fmt.Errorf("failed to create temp directory: %w", err)
		}
	}

	file, err := h.writeScript(p, dir, "script_*.py", req.Code)
	if err != nil {
		return err
	}
	defer h.removeTempFile(p.ID(), file)

	h.post(p, host.Output("Executing with "+env+" Python...", host.OutputInfo))
	return h.stream(ctx, p, host.Command{Name: python, Args: []string{file}, Dir: dir}, streamOptions{})
}

// resolvePython returns the first configured interpreter that answers --version.
func (h *Handler) resolvePython(ctx context.Context) (string, error) {
	for _, candidate := range h.cfg.GetPython() {
		if h.commandWorks(ctx, candidate, "--version") {
			return candidate, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrPythonNotFound
}

// prepareVenv creates the document's virtual environment if needed and
// installs the requirements into it. It returns the venv interpreter, or ""
// when the run should fall back to the system interpreter.
func (h *Handler) prepareVenv(ctx context.Context, p host.Panel, python string, req Request) string {
	venv := VenvDir(req.DocumentPath)

	unlock := h.venvLocks.Lock(venv)
	defer unlock()

	if _, err := os.Stat(venv); errors.Is(err, os.ErrNotExist) {
		h.post(p, host.Output("Creating virtual environment at "+venv+"...", host.OutputInfo))

		createCtx, cancel := context.WithTimeout(ctx, h.cfg.GetVenvTimeout())
		_, err := h.runner.Run(createCtx, host.Command{Name: python, Args: []string{"-m", "venv", venv}}, nil)
		cancel()
		if err != nil {
			h.log.Warn().Err(err).Str("venv", venv).Msg("Virtual environment creation failed")
			h.post(p, host.Output("Failed to create virtual environment: "+err.Error(), host.OutputError))
			// a half-created directory would be mistaken for a ready venv next time
			_ = os.RemoveAll(venv)
			return ""
		}
		h.post(p, host.Output("Virtual environment created successfully.", host.OutputSuccess))
	}

	reqFile := filepath.Join(venv, "requirements.txt")
	if err := os.WriteFile(reqFile, []byte(req.Requirements), 0644); err != nil {
		h.post(p, host.Output("Failed to write requirements: "+err.Error(), host.OutputError))
		return ""
	}

	h.post(p, host.Output("Installing requirements...", host.OutputInfo))
	installCtx, cancel := context.WithTimeout(ctx, h.cfg.GetInstallTimeout())
	defer cancel()
	_, err := h.runner.Run(installCtx, host.Command{Name: venvBin(venv, "pip"), Args: []string{"install", "-r", reqFile}}, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("venv", venv).Msg("Requirements install failed")
		h.post(p, host.Output("Warning: requirements failed to install, using system Python: "+err.Error(), host.OutputWarning))
		return ""
	}
	h.post(p, host.Output("Requirements installed successfully.", host.OutputSuccess))
	return venvBin(venv, "python")
}

// keyedMutex serializes work per key. Entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
