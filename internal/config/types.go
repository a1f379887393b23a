package config

import "fmt"

// Config is the root configuration for tasklane.
type Config struct {
	Server  ServerConfig  `yaml:"server,omitempty"`
	Auth    AuthConfig    `yaml:"auth,omitempty"`
	Model   ModelConfig   `yaml:"model,omitempty"`
	Agent   AgentConfig   `yaml:"agent,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket gateway.
type ServerConfig struct {
	Port           int       `yaml:"port,omitempty"`
	Bind           string    `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string    `yaml:"customBindHost,omitempty"`
	TLS            TLSConfig `yaml:"tls,omitempty"`
	AllowedOrigins []string  `yaml:"allowedOrigins,omitempty"`
}

// TLSConfig configures TLS for the gateway.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// AuthConfig maps caller identities to API tokens. Token values may be
// written as ${ENV_VAR} references; they are expanded at load time.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens,omitempty"` // user id → token
}

// ModelConfig configures the OpenAI-compatible model backend.
type ModelConfig struct {
	BaseURL      string   `yaml:"baseUrl,omitempty"`
	APIKey       string   `yaml:"apiKey,omitempty"`
	Model        string   `yaml:"model,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	MaxTokens    int      `yaml:"maxTokens,omitempty"`
	LogExchanges bool     `yaml:"logExchanges,omitempty"` // wrap the client with request/response logging
}

// AgentConfig tunes the turn orchestration loop.
type AgentConfig struct {
	HistoryLimit        int    `yaml:"historyLimit,omitempty"`
	MaxToolRounds       int    `yaml:"maxToolRounds,omitempty"`
	ModelTimeoutSeconds int    `yaml:"modelTimeoutSeconds,omitempty"`
	ExtraPrompt         string `yaml:"extraPrompt,omitempty"`
}

// StoreConfig controls persistence.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // sqlite file, ":memory:" for tests
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// HooksConfig defines shell hooks for lifecycle events.
type HooksConfig struct {
	ServerStart   []HookEntry `yaml:"serverStart,omitempty"`
	ServerStop    []HookEntry `yaml:"serverStop,omitempty"`
	TurnCompleted []HookEntry `yaml:"turnCompleted,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	temp := 0.7
	return Config{
		Server: ServerConfig{
			Port: 8321,
			Bind: "loopback",
		},
		Model: ModelConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: &temp,
			MaxTokens:   1000,
		},
		Agent: AgentConfig{
			HistoryLimit:        20,
			MaxToolRounds:       8,
			ModelTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
