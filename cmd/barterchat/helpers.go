package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	barterchat "github.com/barter-app/barterchat"
)

// configCredentials reads the token from the config file on every call, so
// a `config set auth.token` in another shell is picked up by a running watch.
type configCredentials struct{}

func (configCredentials) Token(context.Context) (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Auth.Token, nil
}

// getClient creates a chat client from the config file.
func getClient() (*barterchat.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No base URL. Run 'barterchat init <base-url>' first.")
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'barterchat config set auth.token <token>' first.")
		os.Exit(1)
	}
	return barterchat.NewClient(cfg.Default.BaseURL, configCredentials{}, barterchat.WithLogger(newLogger())), cfg
}

// newLogger logs to stderr; --verbose enables debug output.
func newLogger() barterchat.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return barterchat.NewSlogLogger(slog.New(h))
}

func parseID(name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
