// Package ai generates code for a document from its instructions using an
// OpenAI-compatible chat completions endpoint with streaming responses.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/software3/software3/internal/config"
	"github.com/software3/software3/internal/logging"
	"github.com/software3/software3/internal/security"
)

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("AI service not initialized: no API key")
	// ErrNoJSON is returned when the model answered without a JSON object.
	ErrNoJSON = errors.New("no valid JSON found in response")
)

const systemInstruction = `You generate code for Software 3 (.s3) documents.

Never modify the instructions. Only produce the code, language and requirements.

Supported languages:
- Python: complete scripts with a main() function, an if __name__ == "__main__" guard,
  error handling and progress output. List third-party packages as requirements
  in package==version form.
- HTML: a single page with inline CSS and JavaScript, responsive and accessible.

Return JSON only:
{
  "instructions": "<preserved exactly as provided>",
  "code": "<generated implementation>",
  "language": "python|html",
  "requirements": "<Python only: package==version lines>"
}`

// Prompt is a generation request.
type Prompt struct {
	Text     string // the document's instructions
	Language string // preferred language, optional
}

// Result is the parsed answer.
type Result struct {
	Code         string `json:"code"`
	Language     string `json:"language"`
	Requirements string `json:"requirements,omitempty"`
}

// Client talks to the completions endpoint.
type Client struct {
	endpoint  string
	model     string
	apiKey    string
	maxTokens int
	http      *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger

	allowLocal  bool
	endpointErr error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAPIKey sets the key instead of reading it from the environment.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithEndpoint overrides the configured endpoint.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		c.endpoint = url
	}
}

// New creates a Client from cfg. Requests are limited to
// cfg.GetRequestsPerMinute() per minute.
func New(cfg config.AIConfig, log zerolog.Logger, opts ...Option) *Client {
	rpm := cfg.GetRequestsPerMinute()
	c := &Client{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    cfg.GetAPIKey(),
		maxTokens: cfg.GetMaxTokens(),
		http:      &http.Client{Timeout: cfg.GetTimeout()},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		log:       logging.Component(log, "ai"),

		allowLocal: cfg.AllowLocal,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := security.ValidateEndpoint(c.endpoint, c.allowLocal); err != nil {
		c.endpointErr = fmt.Errorf("AI endpoint %q: %w", c.endpoint, err)
	}
	return c
}

// Available reports whether an API key and a usable endpoint are configured.
func (c *Client) Available() bool {
	return c.apiKey != "" && c.endpointErr == nil
}

// Err returns the endpoint validation error, if any.
func (c *Client) Err() error {
	return c.endpointErr
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate streams an answer for p. Every content delta is passed to
// onChunk as it arrives; the parsed result is returned at the end.
func (c *Client) Generate(ctx context.Context, p Prompt, onChunk func(string)) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrNoAPIKey
	}
	if c.endpointErr != nil {
		return Result{}, c.endpointErr
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit: %w", err)
	}

	user := "Generate code for the following instructions. Return ONLY valid JSON with no additional text or markdown formatting:\n\n" + p.Text
	if p.Language != "" {
		user += "\n\nPreferred language: " + p.Language
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   c.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug().Str("model", c.model).Int("prompt_len", len(p.Text)).Msg("Generating code")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	full, err := readStream(resp.Body, onChunk)
	if err != nil {
		return Result{}, err
	}

	res, err := ParseResult(full)
	if err != nil {
		return Result{}, err
	}
	if res.Language == "" {
		res.Language = p.Language
	}
	if res.Language == "" {
		res.Language = "python"
	}
	c.log.Debug().Str("language", res.Language).Int("code_len", len(res.Code)).Msg("Generation complete")
	return res, nil
}

// readStream collects the content deltas of a server-sent event stream.
// Lines that are not data events or do not parse are skipped.
func readStream(r io.Reader, onChunk func(string)) (string, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		full.WriteString(content)
		if onChunk != nil {
			onChunk(content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return full.String(), nil
}

// ParseResult extracts the JSON object from a model answer, ignoring any
// text around it.
func ParseResult(answer string) (Result, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return Result{}, ErrNoJSON
	}

	var res Result
	if err := json.Unmarshal([]byte(answer[start:end+1]), &res); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return res, nil
}
