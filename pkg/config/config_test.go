package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "symbols:\n  - BTCUSDT\n")

	mgr, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := mgr.Current()
	if s.Venue != "bybit" {
		t.Errorf("venue = %q, want default bybit", s.Venue)
	}
	if s.Leverage != 1 || s.Depth != 50 {
		t.Errorf("leverage/depth = %d/%d, want defaults 1/50", s.Leverage, s.Depth)
	}
	if s.APIAddr != ":8080" {
		t.Errorf("api_addr = %q, want default :8080", s.APIAddr)
	}
	if len(s.Symbols) != 1 || s.Symbols[0] != "BTCUSDT" {
		t.Errorf("symbols = %v", s.Symbols)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
venue: binance
symbols:
  - BTCUSDT
  - ETHUSDT
leverage: 5
depth: 100
api_addr: ":9000"
testnet: true
`)
	mgr, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := mgr.Current()
	if s.Venue != "binance" || s.Leverage != 5 || s.Depth != 100 || !s.Testnet {
		t.Errorf("settings = %+v", s)
	}
	if len(s.Symbols) != 2 {
		t.Errorf("symbols = %v, want 2", s.Symbols)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no symbols", "venue: bybit\n"},
		{"bad venue", "venue: kraken\nsymbols:\n  - BTCUSDT\n"},
		{"zero leverage", "symbols:\n  - BTCUSDT\nleverage: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Load accepted an invalid config")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")

	c, err := LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if c.BybitKey != "key" || c.BybitSecret != "secret" {
		t.Errorf("bybit creds = %q/%q", c.BybitKey, c.BybitSecret)
	}
	if c.TelegramChat != 12345 {
		t.Errorf("chat id = %d, want 12345", c.TelegramChat)
	}

	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	if _, err := LoadCredentials(); err == nil {
		t.Error("LoadCredentials accepted a malformed chat id")
	}
}
