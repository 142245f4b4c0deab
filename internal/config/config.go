package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/software3/software3"
)

// FileName is the configuration file looked up by LoadFromDir.
const FileName = "software3.yaml"

// Config represents the software3 configuration
type Config struct {
	Parser    ParserConfig    `yaml:"parser"`
	Execution ExecutionConfig `yaml:"execution"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	AI        AIConfig        `yaml:"ai"`
}

// ParserConfig mirrors the parser options.
type ParserConfig struct {
	Strict         *bool `yaml:"strict,omitempty"`          // Fail on validation errors (default: true)
	ValidateSchema *bool `yaml:"validate_schema,omitempty"` // Run the validator while parsing (default: true)
	MaxFileSize    int   `yaml:"max_file_size,omitempty"`   // Bytes (default: 10 MiB)
	MaxBlocks      int   `yaml:"max_blocks,omitempty"`      // Default: 1000
}

// ExecutionConfig holds code execution settings
type ExecutionConfig struct {
	Timeout        string   `yaml:"timeout,omitempty"`         // Script run timeout (default: 30s)
	VenvTimeout    string   `yaml:"venv_timeout,omitempty"`    // Virtual environment creation (default: 60s)
	InstallTimeout string   `yaml:"install_timeout,omitempty"` // pip install (default: 120s)
	MaxPreviews    int      `yaml:"max_previews,omitempty"`    // preview_*.html files kept (default: 5)
	TempDir        string   `yaml:"temp_dir,omitempty"`        // Scratch directory (default: os.TempDir())
	PreviewDir     string   `yaml:"preview_dir,omitempty"`     // Preview directory under the workspace (default: .s3-preview)
	Node           string   `yaml:"node,omitempty"`            // Node binary (default: node)
	Python         []string `yaml:"python,omitempty"`          // Interpreters tried in order (default: python3, python)
	TSNode         []string `yaml:"ts_node,omitempty"`         // ts-node command (default: npx ts-node)
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	Watch     bool            `yaml:"watch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps,omitempty"`          // default: 20
	Burst             int     `yaml:"burst,omitempty"`        // default: 40
	MaxClients        int     `yaml:"max_clients,omitempty"`  // default: 10000
	IdleTimeout       string  `yaml:"idle_timeout,omitempty"` // default: 10m
}

// StoreConfig holds the backup database location
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// AIConfig holds the code generation endpoint configuration
type AIConfig struct {
	Endpoint          string `yaml:"endpoint"`
	Model             string `yaml:"model"`
	APIKeyEnv         string `yaml:"api_key_env"`
	RequestsPerMinute int    `yaml:"requests_per_minute,omitempty"`
	MaxTokens         int    `yaml:"max_tokens,omitempty"`
	Timeout           string `yaml:"timeout,omitempty"`
	AllowLocal        bool   `yaml:"allow_local,omitempty"` // Permit loopback and private endpoints
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Execution: ExecutionConfig{
			Timeout:        "30s",
			VenvTimeout:    "60s",
			InstallTimeout: "120s",
			MaxPreviews:    5,
			PreviewDir:     ".s3-preview",
			Node:           "node",
			Python:         []string{"python3", "python"},
			TSNode:         []string{"npx", "ts-node"},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Store: StoreConfig{
			Path: filepath.Join(".s3", "backups.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		AI: AIConfig{
			Endpoint:          "https://api.x.ai/v1/chat/completions",
			Model:             "grok-code-fast-1",
			APIKeyEnv:         "S3_AI_API_KEY",
			RequestsPerMinute: 10,
			MaxTokens:         8192,
			Timeout:           "120s",
		},
	}
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// IsStrict returns whether parsing fails on validation errors (default: true)
func (c ParserConfig) IsStrict() bool {
	return c.Strict == nil || *c.Strict
}

// ShouldValidate returns whether parsing runs the validator (default: true)
func (c ParserConfig) ShouldValidate() bool {
	return c.ValidateSchema == nil || *c.ValidateSchema
}

// Options converts the configuration into parser options.
func (c ParserConfig) Options() []software3.Option {
	opts := []software3.Option{
		software3.WithStrict(c.IsStrict()),
		software3.WithValidateSchema(c.ShouldValidate()),
	}
	if c.MaxFileSize > 0 {
		opts = append(opts, software3.WithMaxFileSize(c.MaxFileSize))
	}
	if c.MaxBlocks > 0 {
		opts = append(opts, software3.WithMaxBlocks(c.MaxBlocks))
	}
	return opts
}

// GetTimeout returns the script run timeout (default: 30s)
func (c ExecutionConfig) GetTimeout() time.Duration {
	return durationOr(c.Timeout, 30*time.Second)
}

// GetVenvTimeout returns the venv creation timeout (default: 60s)
func (c ExecutionConfig) GetVenvTimeout() time.Duration {
	return durationOr(c.VenvTimeout, 60*time.Second)
}

// GetInstallTimeout returns the requirements install timeout (default: 120s)
func (c ExecutionConfig) GetInstallTimeout() time.Duration {
	return durationOr(c.InstallTimeout, 120*time.Second)
}

// GetMaxPreviews returns how many preview files are kept (default: 5)
func (c ExecutionConfig) GetMaxPreviews() int {
	if c.MaxPreviews <= 0 {
		return 5
	}
	return c.MaxPreviews
}

// GetTempDir returns the scratch directory (default: the OS temp directory)
func (c ExecutionConfig) GetTempDir() string {
	if c.TempDir == "" {
		return os.TempDir()
	}
	return c.TempDir
}

// GetPreviewDir returns the preview directory name (default: .s3-preview)
func (c ExecutionConfig) GetPreviewDir() string {
	if c.PreviewDir == "" {
		return ".s3-preview"
	}
	return c.PreviewDir
}

// GetNode returns the Node binary (default: node)
func (c ExecutionConfig) GetNode() string {
	if c.Node == "" {
		return "node"
	}
	return c.Node
}

// GetPython returns the interpreters tried in order (default: python3, python)
func (c ExecutionConfig) GetPython() []string {
	if len(c.Python) == 0 {
		return []string{"python3", "python"}
	}
	return c.Python
}

// GetTSNode returns the ts-node command line (default: npx ts-node)
func (c ExecutionConfig) GetTSNode() []string {
	if len(c.TSNode) == 0 {
		return []string{"npx", "ts-node"}
	}
	return c.TSNode
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetRPS returns the rate limit in requests per second (default: 20)
func (c RateLimitConfig) GetRPS() float64 {
	if c.RequestsPerSecond <= 0 {
		return 20
	}
	return c.RequestsPerSecond
}

// GetBurst returns the burst size (default: 40)
func (c RateLimitConfig) GetBurst() int {
	if c.Burst <= 0 {
		return 40
	}
	return c.Burst
}

// GetMaxClients returns how many client buckets are kept (default: 10000)
func (c RateLimitConfig) GetMaxClients() int {
	if c.MaxClients <= 0 {
		return 10000
	}
	return c.MaxClients
}

// GetIdleTimeout returns how long an unused client bucket is kept (default: 10m)
func (c RateLimitConfig) GetIdleTimeout() time.Duration {
	return durationOr(c.IdleTimeout, 10*time.Minute)
}

// GetAPIKey returns the API key from the configured environment variable
func (c AIConfig) GetAPIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// GetRequestsPerMinute returns the client-side request budget (default: 10)
func (c AIConfig) GetRequestsPerMinute() int {
	if c.RequestsPerMinute <= 0 {
		return 10
	}
	return c.RequestsPerMinute
}

// GetMaxTokens returns the completion token limit (default: 8192)
func (c AIConfig) GetMaxTokens() int {
	if c.MaxTokens <= 0 {
		return 8192
	}
	return c.MaxTokens
}

// GetTimeout returns the request timeout (default: 120s)
func (c AIConfig) GetTimeout() time.Duration {
	return durationOr(c.Timeout, 120*time.Second)
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromDir looks for software3.yaml in the given directory.
// If none is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
