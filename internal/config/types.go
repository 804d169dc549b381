package config

import (
	"fmt"
	"strings"

	"slotwatch/internal/storage"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Provider  ProviderConfig  `json:"provider"`
	Watcher   WatcherConfig   `json:"watcher"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ProviderConfig points at the enlistment offerings endpoint.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ProviderConfig struct {
	BaseURL    string `json:"base_url"`
	Timeout    string `json:"timeout,omitempty"`      // per-request deadline, default 15s
	RatePerSec int    `json:"rate_per_sec,omitempty"` // outbound fetch rate, default 2
}

// WatcherConfig controls the periodic availability sweep.
type WatcherConfig struct {
	Enabled bool `json:"enabled"`
	// Interval between sweeps, a Go duration string. Default "2m".
	Interval string `json:"interval,omitempty"`
	// FetchTimeout bounds a single course fetch within a sweep. Default "30s".
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	// MaxInFlight caps concurrent course fetches per sweep. Default 4.
	MaxInFlight int `json:"max_in_flight,omitempty"`
	// Reannounce repeats an unchanged broadcast payload every sweep while
	// slots stay open. Off by default: only changes are announced.
	Reannounce bool `json:"reannounce,omitempty"`
}

// BroadcastConfig controls the optional websocket fan-out server.
type BroadcastConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty"` // default "127.0.0.1:8090"
	Path       string `json:"path,omitempty"` // default "/ws"
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the subscriber persistence backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./subscriptions.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	URI         string `json:"uri,omitempty"`      // mongo connection string
	Database    string `json:"database,omitempty"` // mongo database name
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Validate checks the fields main cannot start without. Reloadable
// sections (logging, watcher cadence) are checked at apply time instead.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	driver, err := storage.NormalizeDriver(c.Storage.Driver)
	if err != nil {
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if driver == "mongo" && strings.TrimSpace(c.Storage.URI) == "" {
		return fmt.Errorf("storage.uri is required for the mongo driver")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("provider.timeout", c.Provider.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("watcher.interval", c.Watcher.Interval); err != nil {
		return err
	}
	if _, err := ParseDurationField("watcher.fetch_timeout", c.Watcher.FetchTimeout); err != nil {
		return err
	}
	if c.Watcher.MaxInFlight < 0 {
		return fmt.Errorf("watcher.max_in_flight must be >= 0")
	}
	return nil
}
