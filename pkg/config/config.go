// Package config loads the runtime settings file and the credentials
// environment. Settings support hot reload; credentials are read once at
// startup and never watched.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the reloadable part of the configuration.
type Settings struct {
	LogLevel string   `mapstructure:"log_level"`
	Venue    string   `mapstructure:"venue"` // bybit or binance
	Symbols  []string `mapstructure:"symbols"`
	Leverage int      `mapstructure:"leverage"`
	Depth    int      `mapstructure:"depth"` // levels kept per book side
	APIAddr  string   `mapstructure:"api_addr"`
	DBPath   string   `mapstructure:"db_path"`
	Testnet  bool     `mapstructure:"testnet"`
}

// Credentials holds every secret the connector needs. Loaded from the
// environment, optionally via a .env file.
type Credentials struct {
	BybitKey      string
	BybitSecret   string
	BinanceKey    string
	BinanceSecret string
	TelegramToken string
	TelegramChat  int64
	JWTSecret     string
}

// Manager owns the settings file and republishes it on change.
type Manager struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur Settings

	updates chan Settings
}

// Load reads the settings file at path and starts watching it for changes.
func Load(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("log_level", "info")
	v.SetDefault("venue", "bybit")
	v.SetDefault("leverage", 1)
	v.SetDefault("depth", 50)
	v.SetDefault("api_addr", ":8080")
	v.SetDefault("db_path", "./data/smm.db")
	v.SetDefault("testnet", false)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	m := &Manager{v: v, updates: make(chan Settings, 1)}
	if err := m.refresh(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := m.refresh(); err != nil {
			return
		}
		// Coalesce: drop the stale update if nobody consumed it yet.
		select {
		case <-m.updates:
		default:
		}
		m.updates <- m.Current()
	})
	v.WatchConfig()

	return m, nil
}

func (m *Manager) refresh() error {
	var s Settings
	if err := m.v.Unmarshal(&s); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	return nil
}

func (s Settings) validate() error {
	if len(s.Symbols) == 0 {
		return fmt.Errorf("config: symbols must not be empty")
	}
	switch s.Venue {
	case "bybit", "binance":
	default:
		return fmt.Errorf("config: unknown venue %q", s.Venue)
	}
	if s.Leverage < 1 {
		return fmt.Errorf("config: leverage must be >= 1")
	}
	return nil
}

// Current returns the latest validated settings.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Updates delivers new settings after each file change. Invalid edits are
// ignored; the previous settings stay in force.
func (m *Manager) Updates() <-chan Settings {
	return m.updates
}

// LoadCredentials reads secrets from the environment. A missing .env file is
// not an error; the variables may come from the real environment.
func LoadCredentials() (*Credentials, error) {
	_ = godotenv.Load()

	c := &Credentials{
		BybitKey:      os.Getenv("BYBIT_API_KEY"),
		BybitSecret:   os.Getenv("BYBIT_API_SECRET"),
		BinanceKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecret: os.Getenv("BINANCE_API_SECRET"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.TelegramChat = id
	}
	return c, nil
}
