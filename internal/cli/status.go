package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tasklane/tasklane/internal/config"
	"github.com/tasklane/tasklane/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tasklane status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Tasklane %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Printf("Server:  port=%d bind=%s tls=%v\n",
				cfg.Server.Port, cfg.Server.Bind, cfg.Server.TLS.Enabled)

			if len(cfg.Auth.Tokens) > 0 {
				identities := make([]string, 0, len(cfg.Auth.Tokens))
				for id := range cfg.Auth.Tokens {
					identities = append(identities, id)
				}
				sort.Strings(identities)
				fmt.Printf("Auth:    %s\n", strings.Join(identities, ", "))
			} else {
				fmt.Println("Auth:    (no identities configured)")
			}

			apiKey := "unset"
			if cfg.Model.APIKey != "" {
				apiKey = "set"
			}
			fmt.Printf("Model:   %s base=%s key=%s\n", cfg.Model.Model, cfg.Model.BaseURL, apiKey)
			fmt.Printf("Agent:   history=%d rounds=%d timeout=%ds\n",
				cfg.Agent.HistoryLimit, cfg.Agent.MaxToolRounds, cfg.Agent.ModelTimeoutSeconds)
			fmt.Printf("Store:   %s\n", paths.DatabasePath(cfg.Store.Path))

			hookCount := len(cfg.Hooks.ServerStart) + len(cfg.Hooks.ServerStop) + len(cfg.Hooks.TurnCompleted)
			if hookCount > 0 {
				fmt.Printf("Hooks:   %d configured\n", hookCount)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
