// Package digest emits a recurring summary of remote log deliveries
// through the log facade itself, so the summary travels the same console
// and channel paths as any other event.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"logbot/internal/storage"
	kit "logbot/internal/transport"
	"logbot/pkg/botlog"
	"logbot/pkg/logx"
)

const countsTimeout = 3 * time.Second

// Config controls the digest schedule and destination.
type Config struct {
	// Schedule is a cron expression ("0 9 * * *", optionally with a seconds
	// field) or a descriptor ("@daily", "@every 1h").
	Schedule string
	// Timezone is an IANA zone name; empty means the process-local zone.
	Timezone string
	// Channel overrides the facade default for the digest message.
	Channel kit.Channel
}

// Service owns the cron entry that produces "digest" events. Counts come
// from the delivery journal when one is configured (window since the
// previous run) and from the facade's cumulative stats otherwise.
type Service struct {
	cfg   Config
	blog  *botlog.Logger
	store storage.Store // may be nil
	log   logx.Logger

	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	lastRun time.Time
	runs    uint64
}

func New(cfg Config, blog *botlog.Logger, store storage.Store, log logx.Logger) (*Service, error) {
	if blog == nil {
		return nil, errors.New("digest requires a log facade")
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@daily"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg,
		blog:  blog,
		store: store,
		log:   log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if _, err := s.parser.Parse(s.cfg.Schedule); err != nil {
		return nil, fmt.Errorf("digest schedule %q: %w", s.cfg.Schedule, err)
	}
	if _, err := loadLocation(s.cfg.Timezone); err != nil {
		return nil, fmt.Errorf("digest timezone %q: %w", s.cfg.Timezone, err)
	}
	blog.Renderer().Register("digest", renderDigest)
	return s, nil
}

// ValidateSchedule checks a schedule/timezone pair without building a
// service; config validation uses it before accepting a reload.
func ValidateSchedule(schedule, timezone string) error {
	if strings.TrimSpace(schedule) == "" {
		return nil
	}
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(schedule); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	if _, err := loadLocation(timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", timezone, err)
	}
	return nil
}

// Start registers the cron entry and begins firing. Idempotent while
// running; ctx bounds every digest emitted by this run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.run(ctx) }); err != nil {
		return err
	}
	s.c = c
	s.lastRun = time.Now()
	c.Start()
	s.log.Info("digest started",
		logx.String("schedule", s.cfg.Schedule),
		logx.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule. A digest already in flight finishes; ctx bounds
// the wait.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("digest stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow emits one digest outside the schedule (owner command, tests).
func (s *Service) RunNow(ctx context.Context) { s.run(ctx) }

// Runs reports how many digests have been emitted.
func (s *Service) Runs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Service) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	since := s.lastRun
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	s.lastRun = time.Now()
	s.runs++
	s.mu.Unlock()

	st := s.blog.Stats()
	opts := []botlog.Option{
		botlog.Send(),
		botlog.Payload("since", since.UTC().Format(time.RFC3339)),
		botlog.Payload("queue", st.State),
		botlog.Payload("pending", st.Pending),
	}
	if !s.cfg.Channel.IsZero() {
		opts = append(opts, botlog.To(s.cfg.Channel))
	}

	counts, ok := s.windowCounts(ctx, since)
	if ok {
		opts = append(opts,
			botlog.Payload("sent", counts.Sent),
			botlog.Payload("failed", counts.Failed),
			botlog.Payload("dropped", counts.Dropped),
		)
	} else {
		// No journal window; fall back to process-lifetime totals.
		opts = append(opts,
			botlog.Payload("sent", st.Sent),
			botlog.Payload("failed", st.Failed),
			botlog.Payload("dropped", st.Dropped),
			botlog.Payload("totals", true),
		)
	}

	if err := s.blog.Event("digest", nil, nil, opts...); err != nil {
		s.log.Warn("digest emit failed", logx.Err(err))
	}
}

func (s *Service) windowCounts(ctx context.Context, since time.Time) (storage.DeliveryCounts, bool) {
	if s.store == nil {
		return storage.DeliveryCounts{}, false
	}
	cctx, cancel := context.WithTimeout(ctx, countsTimeout)
	defer cancel()
	counts, err := s.store.CountsSince(cctx, since)
	if err != nil {
		s.log.Warn("digest journal query failed", logx.Err(err))
		return storage.DeliveryCounts{}, false
	}
	return counts, true
}

// renderDigest formats the summary event this service emits.
func renderDigest(event string, payload map[string]any) string {
	var b strings.Builder
	b.WriteString("delivery digest")
	if v, ok := payload["since"]; ok {
		fmt.Fprintf(&b, " since %v", v)
	}
	fmt.Fprintf(&b, "\nsent: %v  failed: %v  dropped: %v",
		countOf(payload, "sent"), countOf(payload, "failed"), countOf(payload, "dropped"))
	if t, ok := payload["totals"].(bool); ok && t {
		b.WriteString(" (lifetime totals)")
	}
	if v, ok := payload["queue"]; ok {
		fmt.Fprintf(&b, "\nqueue: %v, %v pending", v, countOf(payload, "pending"))
	}
	return b.String()
}

func countOf(payload map[string]any, key string) any {
	if v, ok := payload[key]; ok {
		return v
	}
	return 0
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
