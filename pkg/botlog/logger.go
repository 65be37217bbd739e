package botlog

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"logbot/internal/eventbus"
	kit "logbot/internal/transport"
	"logbot/pkg/logx"
)

// Logger is the public facade. One instance per host application; all
// methods are safe for concurrent use. There is no process-wide singleton:
// the host constructs, owns and closes its Logger.
type Logger struct {
	cfg      Config
	console  ConsoleSink
	renderer *Renderer
	disp     *Dispatcher

	closed uint32
}

// LoggerOption customizes construction (mainly for tests and embedding).
type LoggerOption func(*Logger)

// WithConsoleSink replaces the default console sink.
func WithConsoleSink(cs ConsoleSink) LoggerOption {
	return func(l *Logger) {
		if cs != nil {
			l.console = cs
		}
	}
}

// WithRenderer replaces the default event renderer registry.
func WithRenderer(r *Renderer) LoggerOption {
	return func(l *Logger) {
		if r != nil {
			l.renderer = r
		}
	}
}

// New builds a Logger. remote may be nil (console-only deployments); bus
// may be nil (no delivery lifecycle events). A positive cfg.DrainInterval
// starts the background drain goroutine; otherwise remote sends run
// synchronously inside the facade call.
func New(cfg Config, remote kit.Sink, bus eventbus.Bus, opts ...LoggerOption) *Logger {
	if cfg.Name == "" {
		cfg.Name = "botlog"
	}
	if cfg.Mention == "" {
		cfg.Mention = "🚨"
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	l := &Logger{cfg: cfg, renderer: NewRenderer()}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	if l.console == nil {
		level := "INFO"
		if cfg.Debug {
			level = "DEBUG"
		}
		l.console = NewConsoleSink(logx.NewConsole(level).With(logx.String("comp", cfg.Name)))
	}
	l.disp = newDispatcher(cfg, l.console, remote, l.renderer, bus)
	return l
}

// Debug mirrors to the console only, unless Send() is given.
func (l *Logger) Debug(msg string, opts ...Option) error {
	return l.log(SeverityDebug, msg, false, opts)
}

// Info mirrors to the console only, unless Send() is given.
func (l *Logger) Info(msg string, opts ...Option) error {
	return l.log(SeverityInfo, msg, false, opts)
}

// Warning mirrors to the console only, unless Send() is given.
func (l *Logger) Warning(msg string, opts ...Option) error {
	return l.log(SeverityWarning, msg, false, opts)
}

// Error logs a caught failure. Remote delivery defaults to on; the
// operator diagnostic and user remediation are translated here, at call
// time, so the texts are fixed at the moment of the failure. A nil exc is
// wrapped into an internal-kind exception.
func (l *Logger) Error(msg string, exc *Exception, opts ...Option) error {
	if atomic.LoadUint32(&l.closed) == 1 {
		return ErrClosed
	}
	if exc == nil {
		exc = NewException(KindInternal, msg)
	}
	req := l.newRequest(SeverityError, msg, true, opts)
	req.Exc = exc
	req.operatorText, req.userText = Translate(exc, req.Context)
	return l.disp.Dispatch(req)
}

// Event logs a structured host event. before/after may be nil; extra
// payload entries come from Payload() options.
func (l *Logger) Event(name string, before, after any, opts ...Option) error {
	if atomic.LoadUint32(&l.closed) == 1 {
		return ErrClosed
	}
	req := l.newRequest(SeverityInfo, name, false, opts)
	req.Event = name
	if before != nil || after != nil {
		if req.Payload == nil {
			req.Payload = map[string]any{}
		}
		if before != nil {
			req.Payload["before"] = before
		}
		if after != nil {
			req.Payload["after"] = after
		}
	}
	return l.disp.Dispatch(req)
}

func (l *Logger) log(sev Severity, msg string, defSend bool, opts []Option) error {
	if atomic.LoadUint32(&l.closed) == 1 {
		return ErrClosed
	}
	return l.disp.Dispatch(l.newRequest(sev, msg, defSend, opts))
}

func (l *Logger) newRequest(sev Severity, msg string, defSend bool, opts []Option) *Request {
	req := &Request{
		ID:        uuid.NewString(),
		Severity:  sev,
		Message:   msg,
		Send:      defSend,
		CreatedAt: time.Now(),
	}
	for _, o := range opts {
		if o != nil {
			o(req)
		}
	}
	if req.Channel.IsZero() {
		req.Channel = l.cfg.DefaultChannel
	}
	return req
}

// Console exposes the synchronous sink for call sites that cannot take the
// asynchronous path.
func (l *Logger) Console() ConsoleSink { return l.console }

// Renderer exposes the event rule registry for host-defined event kinds.
func (l *Logger) Renderer() *Renderer { return l.renderer }

func (l *Logger) Stats() Stats { return l.disp.stats() }

// Close stops the drain loop: the in-flight send (if any) finishes, queued
// entries are discarded, and no further sends happen once Close returns.
// Idempotent; later facade calls return ErrClosed.
func (l *Logger) Close() error {
	if !atomic.CompareAndSwapUint32(&l.closed, 0, 1) {
		return nil
	}
	l.disp.close()
	return nil
}
