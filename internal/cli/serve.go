package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tasklane/tasklane/internal/agent"
	"github.com/tasklane/tasklane/internal/config"
	"github.com/tasklane/tasklane/internal/gateway"
	"github.com/tasklane/tasklane/internal/hooks"
	"github.com/tasklane/tasklane/internal/llm"
	"github.com/tasklane/tasklane/internal/logging"
	"github.com/tasklane/tasklane/internal/store"
	"github.com/tasklane/tasklane/internal/tools"
)

// runtime bundles the wired service stack so serve and one-shot commands
// compose it the same way.
type runtime struct {
	cfg     config.Config
	db      *store.DB
	threads *store.ThreadStore
	turns   *agent.Service
	hooks   *hooks.Manager
}

func (rt *runtime) close() {
	if rt.db != nil {
		rt.db.Close()
	}
}

// openRuntime loads config, opens the store, and wires the turn service.
// dbOverride replaces the configured sqlite path when non-empty.
func openRuntime(dbOverride string) (*runtime, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}

	// When no explicit --log-level was given, the config decides.
	if logLevel == "" {
		log = logging.NewStyled(cfg.Logging.Level, cfg.Logging.ConsoleStyle)
	}

	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	dbPath := paths.DatabasePath(cfg.Store.Path)
	if dbOverride != "" {
		dbPath = dbOverride
	}
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	threads := store.NewThreadStore(db)
	tasks := store.NewTaskStore(db)

	registry := tools.NewRegistry(log)
	if err := tools.RegisterTaskTools(registry, tasks); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	var client llm.Client = llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Model)
	if cfg.Model.LogExchanges {
		client = llm.NewLoggingClient(client, log)
	}

	orch := agent.NewOrchestrator(agent.Config{
		Model:         cfg.Model.Model,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		ModelTimeout:  modelTimeout(cfg.Agent.ModelTimeoutSeconds),
		ExtraPrompt:   cfg.Agent.ExtraPrompt,
	}, client, registry, log)

	hookMgr := hooks.NewManager(log)
	hooks.RegisterConfigHooks(hookMgr, cfg.Hooks)

	turns := agent.NewService(orch, threads, hookMgr, cfg.Agent.HistoryLimit, log)

	return &runtime{
		cfg:     cfg,
		db:      db,
		threads: threads,
		turns:   turns,
		hooks:   hookMgr,
	}, nil
}

func modelTimeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
		db   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tasklane server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(db)
			if err != nil {
				return err
			}
			defer rt.close()

			if port != 0 {
				rt.cfg.Server.Port = port
			}
			if bind != "" {
				rt.cfg.Server.Bind = bind
			}

			issues := config.Validate(&rt.cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			srv := gateway.New(rt.cfg, rt.turns, rt.threads, log, gateway.WithHooks(rt.hooks))

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().StringVar(&db, "db", "", "override sqlite database path")

	return cmd
}
