package botlog

import (
	"errors"
	"time"

	kit "logbot/internal/transport"
)

var (
	// ErrNoChannel is returned when a call requests remote delivery but no
	// channel is set on the call or in the config.
	ErrNoChannel = errors.New("botlog channel not configured")
	// ErrClosed is returned by facade calls after Close.
	ErrClosed = errors.New("botlog logger closed")
)

// Severity orders log requests. It drives console tagging and the
// per-severity remote defaults; it never gates remote delivery by itself.
type Severity int8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Request is the immutable value built per facade call. Exactly one payload
// kind is populated: plain message, exception, or event; the facade sets
// the fields for the entry point that was used and dispatch branches on
// which ones are present.
type Request struct {
	ID       string
	Severity Severity
	Message  string

	// Send requests remote delivery. Defaults: false for debug/info/warning
	// and events, true for errors.
	Send bool
	// Critical adds the escalation marker to the remote body. Only
	// meaningful for error and event requests.
	Critical bool
	Channel  kit.Channel

	Exc     *Exception
	Context map[string]any

	Event   string
	Payload map[string]any

	CreatedAt time.Time

	// Fixed at call time so the diagnostic reflects the moment of failure.
	operatorText string
	userText     string
}

func (r *Request) kind() string {
	switch {
	case r.Exc != nil:
		return "error"
	case r.Event != "":
		return "event"
	default:
		return "plain"
	}
}

// Option adjusts a single request.
type Option func(*Request)

// Send requests remote delivery for this request.
func Send() Option { return func(r *Request) { r.Send = true } }

// ConsoleOnly forces a request to skip the remote sink (overrides the
// error-severity default).
func ConsoleOnly() Option { return func(r *Request) { r.Send = false } }

// To routes this request to a specific channel instead of the default.
func To(ch kit.Channel) Option { return func(r *Request) { r.Channel = ch } }

// Critical marks the remote body for escalation.
func Critical() Option { return func(r *Request) { r.Critical = true } }

// Field attaches one execution-context entry (rendered with error
// diagnostics).
func Field(k string, v any) Option {
	return func(r *Request) {
		if r.Context == nil {
			r.Context = map[string]any{}
		}
		r.Context[k] = v
	}
}

// WithContext attaches a whole execution-context mapping.
func WithContext(m map[string]any) Option {
	return func(r *Request) {
		if len(m) == 0 {
			return
		}
		if r.Context == nil {
			r.Context = make(map[string]any, len(m))
		}
		for k, v := range m {
			r.Context[k] = v
		}
	}
}

// Payload attaches one event-payload entry (rendered by the event rules).
func Payload(k string, v any) Option {
	return func(r *Request) {
		if r.Payload == nil {
			r.Payload = map[string]any{}
		}
		r.Payload[k] = v
	}
}

// Config controls one Logger instance.
type Config struct {
	// Name tags console output with the log source.
	Name string
	// Debug lowers the console threshold to DEBUG.
	Debug bool
	// DrainInterval enables queue mode: the quiet period between
	// consecutive remote sends. Zero means no queue; remote sends happen
	// synchronously inside the facade call.
	DrainInterval time.Duration
	// DefaultChannel receives requests that don't route elsewhere via To().
	DefaultChannel kit.Channel
	// Mention is the escalation marker prepended to critical bodies.
	Mention string
	// MaxPending caps the queue; the oldest entry is dropped on overflow.
	// Zero keeps the queue unbounded.
	MaxPending int
	// SendTimeout bounds each remote attempt.
	SendTimeout time.Duration
}

// Stats is a point-in-time snapshot of the remote pipeline.
type Stats struct {
	Pending int
	Sent    uint64
	Failed  uint64
	Dropped uint64
	State   string // "direct", "idle", "draining" or "stopped"
}

// Bus topics for remote delivery lifecycle events.
const (
	TopicRemoteSent    = "log.remote.sent"
	TopicRemoteFailed  = "log.remote.failed"
	TopicRemoteDropped = "log.remote.dropped"
)

// DeliveryEvent is the bus payload for the log.remote.* topics.
// Keep it small; Data may be logged/serialized by subscribers.
type DeliveryEvent struct {
	RequestID string    `json:"request_id"`
	Severity  string    `json:"severity"`
	Kind      string    `json:"kind"`
	Event     string    `json:"event,omitempty"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	At        time.Time `json:"at"`
	Outcome   string    `json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
}
