package host

// Message types exchanged with a panel.
const (
	// inbound
	TypeExecute       = "execute"
	TypeStopExecution = "stop-execution"
	TypeEdit          = "edit"
	TypeSave          = "save"
	TypeUndo          = "undo"
	TypeRedo          = "redo"
	TypeRevert        = "revert"
	TypeGenerate      = "generate"

	// outbound
	TypeOutput             = "output"
	TypeExecutionComplete  = "execution-complete"
	TypeExecutionError     = "execution-error"
	TypeServerStarted      = "server-started"
	TypeSaved              = "saved"
	TypeUpdate             = "update"
	TypeReload             = "reload"
	TypeGenerationChunk    = "generation-chunk"
	TypeGenerationComplete = "generation-complete"
	TypeError              = "error"
)

// Output styles for TypeOutput messages.
const (
	OutputInfo    = "info"
	OutputError   = "error"
	OutputSuccess = "success"
	OutputWarning = "warning"
	OutputURL     = "url"
)

// Message is the single JSON shape used in both directions. Only the
// fields relevant to Type are set.
type Message struct {
	Type string `json:"type"`

	// output
	Text       string `json:"text,omitempty"`
	OutputType string `json:"outputType,omitempty"`

	// execution-error, error
	Error string `json:"error,omitempty"`

	// server-started
	URL string `json:"url,omitempty"`

	// execute, generation-complete
	Code         string `json:"code,omitempty"`
	Language     string `json:"language,omitempty"`
	Requirements string `json:"requirements,omitempty"`

	// edit, update
	EditType string `json:"editType,omitempty"`
	Content  string `json:"content,omitempty"`

	// update
	Dirty bool `json:"dirty,omitempty"`

	// generate
	Prompt string `json:"prompt,omitempty"`
}

// Terminal reports whether msg ends an execution.
func (m Message) Terminal() bool {
	return m.Type == TypeExecutionComplete || m.Type == TypeExecutionError
}

// Output builds an output line.
func Output(text, outputType string) Message {
	return Message{Type: TypeOutput, Text: text, OutputType: outputType}
}

// ExecutionComplete signals a finished run.
func ExecutionComplete() Message {
	return Message{Type: TypeExecutionComplete}
}

// ExecutionError signals a failed run.
func ExecutionError(err string) Message {
	return Message{Type: TypeExecutionError, Error: err}
}

// ServerStarted reports the URL of a running preview server.
func ServerStarted(url string) Message {
	return Message{Type: TypeServerStarted, URL: url}
}

// Saved acknowledges a save.
func Saved() Message {
	return Message{Type: TypeSaved}
}

// Update carries the full document content after an edit, undo, redo or revert.
func Update(content string, dirty bool) Message {
	return Message{Type: TypeUpdate, Content: content, Dirty: dirty}
}

// Reload tells a panel its document changed on disk.
func Reload(content string) Message {
	return Message{Type: TypeReload, Content: content}
}

// GenerationChunk streams part of a generated answer.
func GenerationChunk(text string) Message {
	return Message{Type: TypeGenerationChunk, Text: text}
}

// GenerationComplete delivers the extracted code of a generated answer.
func GenerationComplete(code, language, requirements string) Message {
	return Message{Type: TypeGenerationComplete, Code: code, Language: language, Requirements: requirements}
}

// Error reports a request the panel sent that could not be handled.
func Error(err string) Message {
	return Message{Type: TypeError, Error: err}
}
