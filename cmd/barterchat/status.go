package main

import (
	"context"
	"fmt"
	"time"

	barterchat "github.com/barter-app/barterchat"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check whether the token has expired, and check that the API answers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		if cfg.Default.BaseURL != "" {
			if relay, err := barterchat.RelayURL(cfg.Default.BaseURL, barterchat.DefaultRelayPath, "***"); err == nil {
				fmt.Printf("  Relay:       %s\n", relay)
			}
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.UserID != 0 {
			fmt.Printf("  User ID:     %d\n", cfg.Auth.UserID)
		}
		fmt.Printf("  Nickname:    %s\n", valueOrDefault(cfg.Auth.Nickname, "(not set)"))

		tokenStatus := "none"
		if cfg.Auth.Token != "" {
			if exp, ok := barterchat.TokenExpiry(cfg.Auth.Token); ok {
				if time.Now().Before(exp) {
					tokenStatus = fmt.Sprintf("valid (expires %s)", exp.Format(time.RFC3339))
				} else {
					tokenStatus = fmt.Sprintf("EXPIRED (expired %s)", exp.Format(time.RFC3339))
				}
			} else {
				tokenStatus = "present (no expiry claim)"
			}
			fmt.Printf("  Token:       %s\n", maskKey(cfg.Auth.Token))
		}
		fmt.Printf("  Status:      %s\n", tokenStatus)

		if cfg.Default.BaseURL == "" || cfg.Auth.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		page, err := client.GetConversations(ctx, 0, 1)
		if err != nil {
			if barterchat.IsAuthError(err) {
				fmt.Println("  Token rejected by the API. Sign in again and update auth.token.")
				return nil
			}
			fmt.Printf("  Error: %v\n", err)
			return nil
		}
		fmt.Printf("  Conversations: %d\n", page.TotalElements)
		return nil
	},
}

// maskKey shows the first and last few characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
