package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// BotLog configures the leveled event log facade: which channel receives
	// forwarded records and how the drain queue paces them.
	BotLog BotLogConfig `json:"botlog"`

	// Events controls which host updates (joins, leaves, edits) are turned
	// into structured log events.
	Events EventsConfig `json:"events"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Digest  *DigestConfig  `json:"digest,omitempty"`
	Pprof   PprofConfig    `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// RatePerSec caps outbound API calls. 0 keeps the default budget.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BotLogConfig controls the log facade.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Channel is "chatID" or "chatID:threadID". With an empty channel the
// facade still mirrors to the console; any call that asks for remote
// delivery fails synchronously.
//
// DrainInterval > 0 switches remote delivery to the paced queue; "0s"
// (the default) sends inline on the caller's goroutine.
type BotLogConfig struct {
	Channel       string `json:"channel"`
	Debug         bool   `json:"debug"`
	DrainInterval string `json:"drain_interval,omitempty"`
	// MaxPending bounds the paced queue; over the cap the oldest pending
	// entry is dropped. 0 means unbounded.
	MaxPending  int    `json:"max_pending,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// Mention is prepended to critical records (e.g. "@admins"). Default "🚨".
	Mention string `json:"mention,omitempty"`
}

// EventsConfig controls host event logging.
//
// Forward lists the event names additionally delivered to the log channel
// ("*" forwards every emitted event); events not listed are console-only.
type EventsConfig struct {
	Enabled bool     `json:"enabled"`
	Forward []string `json:"forward,omitempty"`
	// Channel overrides botlog.channel for forwarded events.
	Channel string `json:"channel,omitempty"`
}

// ForwardsEvent reports whether the named event should go remote.
func (e EventsConfig) ForwardsEvent(name string) bool {
	for _, f := range e.Forward {
		if f == "*" || f == name {
			return true
		}
	}
	return false
}

// StorageConfig controls the optional delivery journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./logbot_store" }
//
// Only delivery metadata is journaled, never message bodies.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// KeepRecords bounds the journal tail kept in memory and on load.
	KeepRecords int `json:"keep_records,omitempty"`
}

// DigestConfig controls the periodic delivery summary.
type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression ("0 9 * * *") or descriptor ("@daily").
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// Channel overrides botlog.channel for the digest message.
	Channel string `json:"channel,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
