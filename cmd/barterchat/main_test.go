package main

import (
	"context"
	"testing"
)

func TestSetConfigValue(t *testing.T) {
	t.Run("known keys", func(t *testing.T) {
		cfg := &Config{}
		for key, value := range map[string]string{
			"default.base_url": "https://api.barter.example/",
			"auth.token":       "tok",
			"auth.user_id":     "42",
			"auth.nickname":    "Ann",
		} {
			if err := setConfigValue(cfg, key, value); err != nil {
				t.Fatalf("%s: %v", key, err)
			}
		}
		if cfg.Default.BaseURL != "https://api.barter.example" {
			t.Errorf("expected trailing slash trimmed, got %q", cfg.Default.BaseURL)
		}
		if cfg.Auth.Token != "tok" || cfg.Auth.UserID != 42 || cfg.Auth.Nickname != "Ann" {
			t.Errorf("unexpected auth: %+v", cfg.Auth)
		}
	})

	t.Run("rejects bad keys", func(t *testing.T) {
		for _, key := range []string{"token", "auth.password", "server.port"} {
			if err := setConfigValue(&Config{}, key, "x"); err == nil {
				t.Errorf("%s: expected error", key)
			}
		}
		if err := setConfigValue(&Config{}, "auth.user_id", "abc"); err == nil {
			t.Error("expected error for non-numeric user_id")
		}
	})
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("BARTERCHAT_HOME", t.TempDir())

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Default.BaseURL != "" {
		t.Fatalf("expected empty config, got %+v", cfg)
	}

	cfg.Default.BaseURL = "http://localhost:8080"
	cfg.Auth.Token = "tok-1"
	cfg.Auth.UserID = 7
	if err := saveConfig(cfg); err != nil {
		t.Fatal(err)
	}

	got, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if *got != *cfg {
		t.Fatalf("expected %+v, got %+v", cfg, got)
	}

	token, err := configCredentials{}.Token(context.Background())
	if err != nil || token != "tok-1" {
		t.Fatalf("expected tok-1, got %q (%v)", token, err)
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"short":                       "****",
		"abcdefghijkl":                "abcd...ijkl",
		"eyJhbGciOiJIUzI1NiJ9.payload": "eyJhbGciOiJI...load",
	}
	for in, want := range tests {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}
