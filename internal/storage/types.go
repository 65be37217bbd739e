package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the delivery journal.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + compaction)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// KeepRecords bounds the tail retained for queries. 0 uses a default.
	KeepRecords int
}

// DeliveryRecord is one remote delivery outcome.
// Keep it compact and schema-stable; it never carries the message body.
type DeliveryRecord struct {
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id"`
	Severity  string    `json:"severity"`
	Kind      string    `json:"kind"`
	Event     string    `json:"event,omitempty"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	Outcome   string    `json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
}

// DeliveryCounts aggregates outcomes over a window.
type DeliveryCounts struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

func (c DeliveryCounts) Total() int64 { return c.Sent + c.Failed + c.Dropped }
