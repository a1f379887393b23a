package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tasklane/tasklane/internal/domain"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and manage conversation threads",
	}

	cmd.AddCommand(newThreadsListCmd())
	cmd.AddCommand(newThreadsShowCmd())
	cmd.AddCommand(newThreadsDeleteCmd())
	return cmd
}

func newThreadsListCmd() *cobra.Command {
	var (
		user  string
		limit int
		db    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads for an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(db)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			threads, hasMore, err := rt.threads.ListThreads(ctx, user, "", limit, "desc")
			if err != nil {
				return err
			}
			if len(threads) == 0 {
				fmt.Println("(no threads)")
				return nil
			}
			for _, t := range threads {
				fmt.Printf("%s  updated=%s\n", t.ID, t.UpdatedAt.Format(time.RFC3339))
			}
			if hasMore {
				fmt.Println("(more threads not shown)")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "local", "identity whose threads to list")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of threads")
	cmd.Flags().StringVar(&db, "db", "", "override sqlite database path")
	return cmd
}

func newThreadsShowCmd() *cobra.Command {
	var (
		user  string
		limit int
		db    string
	)

	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print the items of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(db)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			items, err := rt.threads.ListItems(ctx, user, args[0], limit)
			if err != nil {
				return err
			}
			for _, item := range items {
				text := item.Text
				if item.Kind == domain.KindToolCall && item.ToolCall != nil {
					text = item.ToolCall.Name + "(" + item.ToolCall.Arguments + ")"
				}
				fmt.Printf("[%s] %s: %s\n", item.Kind, item.Role, text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "local", "identity owning the thread")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of items")
	cmd.Flags().StringVar(&db, "db", "", "override sqlite database path")
	return cmd
}

func newThreadsDeleteCmd() *cobra.Command {
	var (
		user string
		db   string
	)

	cmd := &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(db)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := rt.threads.DeleteThread(ctx, user, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "local", "identity owning the thread")
	cmd.Flags().StringVar(&db, "db", "", "override sqlite database path")
	return cmd
}
