package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/matheus3301/chatsync/internal/control"
	"github.com/spf13/cobra"
)

var (
	listRefresh bool
	searchConv  string
	searchLimit int
	createName  string
	createRole  string
	tailPrefix  string
	typingStop  bool
)

func init() {
	listCmd.Flags().BoolVar(&listRefresh, "refresh", false, "reload the list from the backend")
	searchCmd.Flags().StringVar(&searchConv, "conversation", "", "limit the search to one conversation")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum number of results")
	createCmd.Flags().StringVar(&createName, "name", "", "display name for the counterpart")
	createCmd.Flags().StringVar(&createRole, "role", "", "counterpart role")
	tailCmd.Flags().StringVar(&tailPrefix, "prefix", "", "only show events whose kind starts with prefix")
	typingCmd.Flags().BoolVar(&typingStop, "stop", false, "stop typing instead of starting")

	rootCmd.AddCommand(statusCmd, listCmd, createCmd, openCmd, closeCmd, olderCmd,
		sendCmd, readCmd, typingCmd, retryCmd, discardCmd, searchCmd, tailCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(st)
				return nil
			}
			fmt.Printf("Session:    %s\n", st.Session)
			fmt.Printf("Actor:      %s\n", st.ActorID)
			fmt.Printf("Connection: %s\n", st.State)
			if st.SessionID != "" {
				fmt.Printf("Stream id:  %s\n", st.SessionID)
			}
			fmt.Printf("Rooms:      %s\n", strings.Join(st.Rooms, ", "))
			fmt.Printf("Unread:     %d\n", st.TotalUnread)
			if st.Active != "" {
				fmt.Printf("Active:     %s\n", st.Active)
			}
			if len(st.Online) > 0 {
				fmt.Printf("Online:     %s\n", strings.Join(st.Online, ", "))
			}
			for conv, users := range st.Typing {
				fmt.Printf("Typing in %s: %s\n", conv, strings.Join(users, ", "))
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			list, err := c.Conversations(ctx, listRefresh)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(list)
				return nil
			}
			if list.Error != "" {
				fmt.Fprintf(os.Stderr, "warning: showing %s list: %s\n", list.Reason, list.Error)
			}
			if len(list.Conversations) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for _, conv := range list.Conversations {
				unread := ""
				if conv.UnreadCount > 0 {
					unread = fmt.Sprintf(" (%d)", conv.UnreadCount)
				}
				fmt.Printf("%-3s %-24s %-20s%s %s\n", conv.Avatar, conv.ID, conv.DisplayName, unread, conv.Preview)
			}
			return nil
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create <counterpart-id>",
	Short: "Start a conversation with a user, or find the existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			res, err := c.Create(ctx, control.CreateRequest{CounterpartID: args[0], DisplayName: createName, Role: createRole})
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(res)
				return nil
			}
			verb := "Found"
			if res.Created {
				verb = "Created"
			}
			fmt.Printf("%s conversation %s with %s\n", verb, res.Conversation.ID, res.Conversation.DisplayName)
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:     "open <conversation-id>",
	Aliases: []string{"history"},
	Short:   "Open a conversation and print its newest messages",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			h, err := c.Open(ctx, args[0])
			if err != nil {
				return err
			}
			printHistory(h)
			return nil
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <conversation-id>",
	Short: "Leave a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			return c.CloseConversation(ctx, args[0])
		})
	},
}

var olderCmd = &cobra.Command{
	Use:   "older <conversation-id>",
	Short: "Load the next page of older messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			h, err := c.Older(ctx, args[0])
			if err != nil {
				return err
			}
			printHistory(h)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			res, err := c.Send(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printSend(res)
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <client-id>",
	Short: "Re-send a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			res, err := c.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			return printSend(res)
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <client-id>",
	Short: "Drop a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			return c.Discard(ctx, args[0])
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			return c.MarkRead(ctx, args[0])
		})
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing <conversation-id>",
	Short: "Signal that you are typing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			return c.Typing(ctx, args[0], !typingStop)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search loaded messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			h, err := c.Search(ctx, strings.Join(args, " "), searchConv, searchLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(h)
				return nil
			}
			if len(h.Messages) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, m := range h.Messages {
				fmt.Printf("%s  %-16s %-10s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.ConversationID, m.SenderID, m.Content)
			}
			return nil
		})
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow live session events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := c.Events(ctx, tailPrefix)
		if err != nil {
			return err
		}
		for evt := range events {
			if jsonOutput {
				outputJSON(evt)
				continue
			}
			fmt.Printf("%s  %-28s %s\n", evt.Timestamp.Local().Format("15:04:05.000"), evt.Kind, string(evt.Payload))
		}
		return nil
	},
}

func printHistory(h *control.History) {
	if jsonOutput {
		outputJSON(h)
		return
	}
	if h.HasMore {
		fmt.Println("  (older messages available: chatctl older " + h.ConversationID + ")")
	}
	for _, m := range h.Messages {
		mark := ""
		switch m.Delivery {
		case "pending":
			mark = " [sending]"
		case "failed":
			mark = " [failed: " + m.Error + "] retry with: chatctl retry " + m.ClientID
		}
		fmt.Printf("%s  %-10s %s%s\n", m.CreatedAt.Local().Format("15:04"), m.SenderID, m.Content, mark)
	}
}

func printSend(res *control.SendResult) error {
	if jsonOutput {
		outputJSON(res)
		return nil
	}
	if res.Route == "none" {
		reason := ""
		if res.Message != nil {
			reason = res.Message.Error
		}
		return fmt.Errorf("send failed after %s: %s (client id %s)", strings.Join(res.Stages, ", "), reason, res.ClientID)
	}
	fmt.Printf("Sent via %s (client id %s)\n", res.Route, res.ClientID)
	if res.Message != nil && res.Message.ID != "" {
		fmt.Printf("  Message ID: %s\n", res.Message.ID)
	}
	return nil
}
