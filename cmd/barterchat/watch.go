package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	barterchat "github.com/barter-app/barterchat"
	"github.com/spf13/cobra"
)

var (
	watchConversation int64
	watchReconnect    bool
	watchMetricsAddr  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live chat events",
	Long: "Connect to the relay and print connection, message and typing events until interrupted.\n" +
		"With --conversation the conversation's history is loaded first and live messages are merged into it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		logger := newLogger()

		rtCfg := &barterchat.RealtimeConfig{Logger: logger}
		if watchReconnect {
			rtCfg.ReconnectPolicy = barterchat.DefaultBackoff()
		}
		chat := barterchat.NewChatSync(client, &barterchat.SyncConfig{
			SelfUserID:      cfg.Auth.UserID,
			SelfDisplayName: cfg.Auth.Nickname,
			Realtime:        rtCfg,
			Logger:          logger,
		})
		chat.Start()
		defer chat.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if watchMetricsAddr != "" {
			srv := &http.Server{Addr: watchMetricsAddr, Handler: metricsMux()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Metrics on http://%s/metrics\n", watchMetricsAddr)
		}

		if watchConversation != 0 {
			loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			msgs, err := chat.LoadPage(loadCtx, watchConversation, 0, barterchat.DefaultPageSize)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			for _, m := range msgs {
				printMessage(m, cfg.Auth.UserID)
			}
			fmt.Println("--- live ---")
		}

		sub := chat.Events().Subscribe()
		defer sub.Close()

		if err := chat.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nDisconnecting.")
				return nil
			case ev, ok := <-sub.C:
				if !ok {
					return nil
				}
				if done, err := printEvent(ev, cfg.Auth.UserID); done {
					return err
				}
			}
		}
	},
}

// printEvent prints one stream event. done is true when watching should
// stop.
func printEvent(ev barterchat.Event, self int64) (done bool, err error) {
	switch e := ev.(type) {
	case barterchat.StateChangeEvent:
		if e.Err != nil {
			fmt.Printf("* %s -> %s: %v\n", e.From, e.To, e.Err)
		} else {
			fmt.Printf("* %s -> %s\n", e.From, e.To)
		}
		if e.To == barterchat.StateFailed && !watchReconnect {
			return true, fmt.Errorf("relay connection failed")
		}
		if e.To == barterchat.StateDisconnected && e.From == barterchat.StateConnected {
			return true, nil
		}
	case barterchat.AuthFailedEvent:
		fmt.Printf("* authentication %s: sign in again and update auth.token\n", e.Reason)
		return true, e.Err
	case barterchat.ReconnectScheduledEvent:
		fmt.Printf("* reconnect attempt %d in %s\n", e.Attempt, e.Delay.Round(time.Millisecond))
	case barterchat.NewMessageEvent:
		if watchConversation != 0 && e.ConversationID != watchConversation {
			return false, nil
		}
		fmt.Printf("#%d ", e.ConversationID)
		printMessage(e.Message, self)
	case barterchat.TypingStartedEvent:
		if watchConversation != 0 && e.ConversationID != watchConversation {
			return false, nil
		}
		name := e.DisplayName
		if name == "" {
			name = fmt.Sprintf("user %d", e.UserID)
		}
		fmt.Printf("#%d %s is typing...\n", e.ConversationID, name)
	case barterchat.TypingStoppedEvent:
		if watchConversation != 0 && e.ConversationID != watchConversation {
			return false, nil
		}
		fmt.Printf("#%d user %d stopped typing\n", e.ConversationID, e.UserID)
	}
	return false, nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", barterchat.MetricsHandler())
	return mux
}

func init() {
	watchCmd.Flags().Int64Var(&watchConversation, "conversation", 0, "Load and follow a single conversation")
	watchCmd.Flags().BoolVar(&watchReconnect, "reconnect", false, "Reconnect with exponential backoff after failures")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(watchCmd)
}
