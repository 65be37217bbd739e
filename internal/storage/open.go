package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"logbot/pkg/logx"
)

// Store is the journal API used by the audit and digest services.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// RecentDeliveries returns up to limit records, newest last.
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	CountsSince(ctx context.Context, since time.Time) (DeliveryCounts, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
