package storage

import (
	"context"
	"errors"
	"strings"

	logx "slotwatch/pkg/logx"
)

// Store is the persistence API used by the registry.
type Store interface {
	LoadSubscribers(ctx context.Context) ([]SubscriberRecord, error)
	PutSubscriber(ctx context.Context, rec SubscriberRecord) error
	DeleteSubscriber(ctx context.Context, chatID int64) error
	Close() error
}

// NormalizeDriver maps accepted driver spellings to their canonical name.
// Config validation and Open share this so they can never disagree on
// which spellings exist.
func NormalizeDriver(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "file":
		return "file", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "mongo", "mongodb":
		return "mongo", nil
	}
	return "", errors.New("unknown storage driver: " + s)
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver, err := NormalizeDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return openMongo(ctx, cfg, log)
	}
}
