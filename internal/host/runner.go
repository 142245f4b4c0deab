package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ExecRunner runs commands on the local machine.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes to close after
	// the process was killed (default: 2s).
	WaitDelay time.Duration
}

// Run starts cmd and delivers each stdout line to onLine in order.
func (r ExecRunner) Run(ctx context.Context, c Command, onLine func(string)) (Result, error) {
	var res Result

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	var stderr bytes.Buffer
	lines := &lineWriter{onLine: onLine}
	cmd.Stdout = lines
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}
	waitErr := cmd.Wait()
	lines.flush()

	res.Lines = lines.count()
	res.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", c.Name, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, &ExitError{Command: c.Name, Code: exitErr.ExitCode(), Stderr: res.Stderr}
		}
		return res, fmt.Errorf("%s: %w", c.Name, waitErr)
	}
	return res, nil
}

// lineWriter splits a byte stream into lines. A trailing carriage return
// is dropped so Windows line endings read the same.
type lineWriter struct {
	mu     sync.Mutex
	buf    []byte
	n      int
	onLine func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	w.n++
	if w.onLine != nil {
		w.onLine(string(line))
	}
}

func (w *lineWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}
