package host

import (
	"sync"
	"time"
)

// Recorder is a Panel that keeps every message it receives. It is used by
// tests and by the CLI to collect the output of a run.
type Recorder struct {
	id string

	mu     sync.Mutex
	msgs   []Message
	notify chan struct{}
}

// NewRecorder creates a Recorder with the given panel id.
func NewRecorder(id string) *Recorder {
	return &Recorder{id: id, notify: make(chan struct{}, 1)}
}

// ID returns the panel identifier.
func (r *Recorder) ID() string { return r.id }

// PostMessage records msg.
func (r *Recorder) PostMessage(msg Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Messages returns a copy of everything received so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Types returns the type of every received message in order.
func (r *Recorder) Types() []string {
	msgs := r.Messages()
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i] = m.Type
	}
	return types
}

// Outputs returns the text of every output message in order.
func (r *Recorder) Outputs() []string {
	var lines []string
	for _, m := range r.Messages() {
		if m.Type == TypeOutput {
			lines = append(lines, m.Text)
		}
	}
	return lines
}

// WaitFor blocks until a message of the given type arrives or timeout
// elapses, and returns it.
func (r *Recorder) WaitFor(msgType string, timeout time.Duration) (Message, bool) {
	deadline := time.After(timeout)
	for {
		for _, m := range r.Messages() {
			if m.Type == msgType {
				return m, true
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			return Message{}, false
		}
	}
}

// Reset drops all recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
