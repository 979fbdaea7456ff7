package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/corelay/corelay/internal/config"
	"github.com/corelay/corelay/internal/store"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the message queue",
	}
	cmd.AddCommand(queueStatusCmd())
	deadCmd := &cobra.Command{
		Use:   "dead",
		Short: "Manage dead-lettered messages",
	}
	deadCmd.AddCommand(queueDeadListCmd())
	deadCmd.AddCommand(queueDeadRetryCmd())
	deadCmd.AddCommand(queueDeadDeleteCmd())
	cmd.AddCommand(deadCmd)
	return cmd
}

func openStoreFromConfig() (*store.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.Open(cfg.Database.Path)
}

func queueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreFromConfig()
			if err != nil {
				return err
			}
			defer st.Close()

			// 0: the CLI has no live conversation.Tracker to ask; only the
			// running daemon's /api/queue/status reports a real count.
			status, err := st.Status(context.Background(), 0)
			if err != nil {
				return fmt.Errorf("fetch queue status: %w", err)
			}

			fmt.Printf("%s %d\n", color.New(color.FgCyan).Sprint("incoming:"), status.Incoming)
			fmt.Printf("%s %d\n", color.New(color.FgHiBlue).Sprint("processing:"), status.Processing)
			fmt.Printf("%s %d\n", color.New(color.FgHiGreen).Sprint("outgoing:"), status.Outgoing)
			fmt.Printf("%s %d\n", colorizeDeadCount(status.Dead), status.Dead)
			fmt.Printf("%s %d\n", color.New(color.FgHiMagenta).Sprint("active conversations:"), status.ActiveConversations)
			return nil
		},
	}
}

func colorizeDeadCount(n int) string {
	if n > 0 {
		return color.New(color.FgRed).Sprint("dead:")
	}
	return color.New(color.FgHiBlack).Sprint("dead:")
}

func queueDeadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreFromConfig()
			if err != nil {
				return err
			}
			defer st.Close()

			msgs, err := st.DeadMessages(context.Background())
			if err != nil {
				return fmt.Errorf("list dead messages: %w", err)
			}
			if len(msgs) == 0 {
				fmt.Println("no dead messages")
				return nil
			}
			for _, m := range msgs {
				errText := ""
				if m.LastError != nil {
					errText = *m.LastError
				}
				fmt.Printf("%s %s [%s] retries=%d: %s\n",
					color.New(color.FgRed).Sprintf("#%d", m.ID),
					m.Channel, m.SenderDisplay, m.RetryCount,
					color.New(color.FgHiBlack).Sprint(errText))
			}
			return nil
		},
	}
}

func queueDeadRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a dead message for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q: %w", args[0], err)
			}
			st, err := openStoreFromConfig()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RetryDead(context.Background(), id); err != nil {
				return err
			}
			fmt.Println(color.New(color.FgHiGreen).Sprintf("message #%d requeued", id))
			return nil
		},
	}
}

func queueDeadDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Permanently delete a dead message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q: %w", args[0], err)
			}
			st, err := openStoreFromConfig()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteDead(context.Background(), id); err != nil {
				return err
			}
			fmt.Println(color.New(color.FgYellow).Sprintf("message #%d deleted", id))
			return nil
		},
	}
}
