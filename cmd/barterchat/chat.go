package main

import (
	"context"
	"fmt"
	"time"

	barterchat "github.com/barter-app/barterchat"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations
	conversationsPage int
	conversationsSize int
	conversationsJSON bool

	// history
	historyPage int
	historySize int
	historyJSON bool

	// send
	sendImage bool
	sendJSON  bool

	// typing
	typingStop bool
)

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.GetConversations(ctx, conversationsPage, conversationsSize)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if conversationsJSON {
			return printJSON(page)
		}

		if len(page.Content) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		for _, c := range page.Content {
			last := ""
			if c.LastMessage != nil {
				last = c.LastMessage.Content
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			fmt.Printf("#%d  %s%s\n", c.ID, c.OtherUser.DisplayName(), unread)
			if last != "" {
				fmt.Printf("     %s\n", last)
			}
		}
		fmt.Printf("Page %d of %d\n", page.Number+1, page.TotalPages)
		return nil
	},
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show a page of conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID("conversation-id", args[0])
		if err != nil {
			return err
		}
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		rec := barterchat.NewReconciler(client, client, &barterchat.ReconcilerConfig{
			SelfUserID: cfg.Auth.UserID,
			Logger:     newLogger(),
		})
		msgs, err := rec.LoadPage(ctx, convID, historyPage, historySize)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if historyJSON {
			return printJSON(msgs)
		}

		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		if peer, ok := rec.OtherUser(convID); ok {
			fmt.Printf("Conversation #%d with %s\n\n", convID, peer.DisplayName())
		}
		for _, m := range msgs {
			printMessage(m, cfg.Auth.UserID)
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <receiver-id> <message>",
	Short: "Send a message to a user",
	Long:  "Send a message to a user. With --image the message is an image URL.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		receiverID, err := parseID("receiver-id", args[0])
		if err != nil {
			return err
		}
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		kind := barterchat.MessageText
		if sendImage {
			kind = barterchat.MessageImage
		}
		msg, err := client.SendMessageKind(ctx, receiverID, args[1], kind)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if sendJSON {
			return printJSON(msg)
		}

		fmt.Printf("Message sent to user %d\n", receiverID)
		fmt.Printf("  Message ID: %d\n", msg.ID)
		fmt.Printf("  Content:    %s\n", msg.Content)
		return nil
	},
}

// ============================================================================
// typing
// ============================================================================

var typingCmd = &cobra.Command{
	Use:   "typing <conversation-id> <target-user-id>",
	Short: "Send a typing indicator",
	Long:  "Connect to the relay, send one typing (or --stop) indicator and disconnect.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID("conversation-id", args[0])
		if err != nil {
			return err
		}
		targetID, err := parseID("target-user-id", args[1])
		if err != nil {
			return err
		}
		client, cfg := getClient()

		chat := barterchat.NewChatSync(client, &barterchat.SyncConfig{
			SelfUserID:      cfg.Auth.UserID,
			SelfDisplayName: cfg.Auth.Nickname,
		})
		defer chat.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := chat.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		state, err := chat.WaitForState(ctx, barterchat.StateConnected, barterchat.StateFailed, barterchat.StateDisconnected)
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		if state != barterchat.StateConnected {
			return fmt.Errorf("relay connection %s", state)
		}

		if typingStop {
			chat.NotifyStopTyping(ctx, convID, targetID)
			fmt.Println("Stop-typing sent.")
		} else {
			chat.NotifyTyping(ctx, convID, targetID)
			fmt.Println("Typing sent.")
		}
		return nil
	},
}

// ============================================================================
// Helper
// ============================================================================

func printMessage(m barterchat.Message, self int64) {
	who := m.SenderDisplayName
	if who == "" {
		who = fmt.Sprintf("user %d", m.SenderID)
	}
	if self != 0 && m.SenderID == self {
		who = "me"
	}
	content := m.Content
	if m.Kind == barterchat.MessageImage {
		content = "[image] " + content
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), who, content)
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	conversationsCmd.Flags().IntVar(&conversationsPage, "page", 0, "Page number, starting at 0")
	conversationsCmd.Flags().IntVar(&conversationsSize, "size", 20, "Page size")
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output JSON")

	historyCmd.Flags().IntVar(&historyPage, "page", 0, "Page number, starting at 0")
	historyCmd.Flags().IntVar(&historySize, "size", barterchat.DefaultPageSize, "Page size")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output JSON")

	sendCmd.Flags().BoolVar(&sendImage, "image", false, "Send the message as an image URL")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output JSON")

	typingCmd.Flags().BoolVar(&typingStop, "stop", false, "Send stop-typing instead")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(typingCmd)
}
