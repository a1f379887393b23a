package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tasklane/tasklane/internal/agent"
	"github.com/tasklane/tasklane/internal/domain"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send and manage messages",
	}

	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		user   string
		thread string
		db     string
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message to the assistant and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")

			rt, err := openRuntime(db)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req := agent.TurnRequest{
				OwnerID:   user,
				ThreadRef: thread,
				Message:   message,
			}

			var emit domain.EmitFunc
			if stream {
				emit = func(ev domain.TurnEvent) {
					if ev.Type == domain.TurnItemUpdated && ev.Delta != "" {
						fmt.Print(ev.Delta)
					}
				}
			}

			outcome, err := rt.turns.Run(ctx, req, emit)
			if err != nil {
				return err
			}

			if stream {
				fmt.Println()
			} else {
				fmt.Println(outcome.Answer)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[thread=%s state=%s model=%s tokens=%d+%d]\n",
				outcome.ThreadID, outcome.State, rt.cfg.Model.Model,
				outcome.Usage.InputTokens, outcome.Usage.OutputTokens)

			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "local", "identity to run the turn as")
	cmd.Flags().StringVar(&thread, "thread", "", "thread id to continue (defaults to the most recent thread)")
	cmd.Flags().StringVar(&db, "db", "", "override sqlite database path")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response")

	return cmd
}
