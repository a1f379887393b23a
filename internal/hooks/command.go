package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tasklane/tasklane/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// RegisterConfigHooks wires the shell commands from the hooks config section
// into the manager. Each command receives the event payload as JSON on stdin
// and the event name in the TASKLANE_HOOK_EVENT environment variable.
func RegisterConfigHooks(m *Manager, cfg config.HooksConfig) {
	registerEntries(m, EventServerStart, cfg.ServerStart)
	registerEntries(m, EventServerStop, cfg.ServerStop)
	registerEntries(m, EventTurnCompleted, cfg.TurnCompleted)
}

func registerEntries(m *Manager, event string, entries []config.HookEntry) {
	for i, entry := range entries {
		name := fmt.Sprintf("command[%d]", i)
		m.On(event, name, commandHandler(entry))
	}
}

func commandHandler(entry config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Millisecond
	}

	return func(ctx context.Context, p Payload) error {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal hook payload: %w", err)
		}

		cmd := exec.CommandContext(runCtx, "sh", "-c", entry.Command)
		cmd.Stdin = strings.NewReader(string(body))
		cmd.Env = append(cmd.Environ(), "TASKLANE_HOOK_EVENT="+p.Event)

		out, err := cmd.CombinedOutput()
		if err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("hook command timed out after %s", timeout)
			}
			return fmt.Errorf("hook command failed: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}
