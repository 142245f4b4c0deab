// Package host defines the capabilities the editor core needs from its
// surroundings: file access, a message channel to a panel and process
// execution. The server and the CLI provide concrete implementations.
package host

import (
	"context"
	"fmt"
)

// FileSystem reads and writes documents and scratch files.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	// DeleteFile removes name. Deleting a missing file is not an error.
	DeleteFile(name string) error
}

// Panel is one live editor surface. It owns execution resources and
// receives outbound messages.
type Panel interface {
	ID() string
	PostMessage(msg Message) error
}

// Command describes a process to start.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the current environment
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return fmt.Sprintf("%s %v", c.Name, c.Args)
}

// Result is what remains of a finished process.
type Result struct {
	Stderr   string
	ExitCode int
	Lines    int // stdout lines delivered to the callback
}

// Runner starts processes and streams their stdout line by line.
//
// Run blocks until the process exits. It returns a context error when ctx
// expired or was cancelled, an *ExitError on a non-zero exit status, and
// any other error when the process could not be started.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine func(line string)) (Result, error)
}

// ExitError reports a process that ran but exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// FuncPanel adapts a function into a Panel.
type FuncPanel struct {
	PanelID string
	Post    func(Message) error
}

// ID returns the panel identifier.
func (p FuncPanel) ID() string { return p.PanelID }

// PostMessage forwards msg to Post.
func (p FuncPanel) PostMessage(msg Message) error {
	if p.Post == nil {
		return nil
	}
	return p.Post(msg)
}
