package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "server.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Server.Bind),
		})
	}

	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "server.customBindHost",
			Message: "required when bind: custom",
		})
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertPath == "" {
			issues = append(issues, ValidationIssue{
				Path:    "server.tls.certPath",
				Message: "required when tls is enabled",
			})
		}
		if cfg.Server.TLS.KeyPath == "" {
			issues = append(issues, ValidationIssue{
				Path:    "server.tls.keyPath",
				Message: "required when tls is enabled",
			})
		}
	}

	for identity, token := range cfg.Auth.Tokens {
		if identity == "" {
			issues = append(issues, ValidationIssue{
				Path:    "auth.tokens",
				Message: "identity must not be empty",
			})
		}
		if token == "" {
			issues = append(issues, ValidationIssue{
				Path:    "auth.tokens." + identity,
				Message: "token must not be empty",
			})
		}
	}

	if cfg.Model.Model == "" {
		issues = append(issues, ValidationIssue{
			Path:    "model.model",
			Message: "model name is required",
		})
	}
	if cfg.Model.Temperature != nil && (*cfg.Model.Temperature < 0 || *cfg.Model.Temperature > 2) {
		issues = append(issues, ValidationIssue{
			Path:    "model.temperature",
			Message: fmt.Sprintf("must be 0-2, got %g", *cfg.Model.Temperature),
		})
	}
	if cfg.Model.MaxTokens < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "model.maxTokens",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Model.MaxTokens),
		})
	}

	if cfg.Agent.HistoryLimit < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.historyLimit",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Agent.HistoryLimit),
		})
	}
	if cfg.Agent.MaxToolRounds < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.maxToolRounds",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Agent.MaxToolRounds),
		})
	}
	if cfg.Agent.ModelTimeoutSeconds < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.modelTimeoutSeconds",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Agent.ModelTimeoutSeconds),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	for group, entries := range map[string][]HookEntry{
		"hooks.serverStart":   cfg.Hooks.ServerStart,
		"hooks.serverStop":    cfg.Hooks.ServerStop,
		"hooks.turnCompleted": cfg.Hooks.TurnCompleted,
	} {
		for i, h := range entries {
			if h.Command == "" {
				issues = append(issues, ValidationIssue{
					Path:    fmt.Sprintf("%s[%d].command", group, i),
					Message: "command is required",
				})
			}
		}
	}

	return issues
}
