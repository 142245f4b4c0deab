package exec

import (
	"context"
	osexec "os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/software3/software3/internal/config"
	"github.com/software3/software3/internal/host"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := osexec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestRealPythonTimeout(t *testing.T) {
	requireBinary(t, "python3")

	tmp := t.TempDir()
	h := New(config.ExecutionConfig{TempDir: tmp, Timeout: "1s"}, host.ExecRunner{WaitDelay: 200 * time.Millisecond}, zerolog.Nop())
	defer h.Dispose()
	p := host.NewRecorder("p1")

	start := time.Now()
	h.Execute(context.Background(), p, Request{Code: "while True: pass", Language: "python"})

	msg, ok := p.WaitFor(host.TypeExecutionError, time.Second)
	require.True(t, ok)
	assert.Equal(t, "execution timed out after 1s", msg.Error)
	assert.Less(t, time.Since(start), 10*time.Second)

	leftovers, err := filepath.Glob(filepath.Join(tmp, "software3", "script_*.py"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRealPythonOutput(t *testing.T) {
	requireBinary(t, "python3")

	h := New(config.ExecutionConfig{TempDir: t.TempDir()}, nil, zerolog.Nop())
	defer h.Dispose()
	p := host.NewRecorder("p1")

	h.Execute(context.Background(), p, Request{Code: "print('a')\nprint()\nprint('b')", Language: "python"})

	assert.Equal(t, []string{"Executing with system Python...", "a", " ", "b"}, p.Outputs())
	assert.Equal(t, host.TypeExecutionComplete, lastType(p))
}

func TestRealNodeStderr(t *testing.T) {
	requireBinary(t, "node")

	h := New(config.ExecutionConfig{TempDir: t.TempDir()}, nil, zerolog.Nop())
	defer h.Dispose()
	p := host.NewRecorder("p1")

	h.Execute(context.Background(), p, Request{Code: "console.error('careful')", Language: "js"})

	assert.Equal(t, []string{"careful"}, p.Outputs())
	assert.Equal(t, host.TypeExecutionComplete, lastType(p))
}
