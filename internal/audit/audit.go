// Package audit persists remote log delivery outcomes from the event bus
// into the journal, so operators can reconstruct what the bot forwarded
// (and what it failed to forward) after the fact.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"logbot/internal/eventbus"
	"logbot/internal/storage"
	"logbot/pkg/botlog"
	"logbot/pkg/logx"
)

const appendTimeout = 2 * time.Second

type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
	unsub   func()

	appended atomic.Uint64
	failed   atomic.Uint64
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, bus: bus, store: store}
}

// Start begins consuming delivery events. Idempotent; a Service with no
// store or bus starts as a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.store == nil || s.bus == nil {
		s.log.Debug("audit disabled (no store or bus)")
		return nil
	}

	events, unsub := s.bus.Subscribe(128)
	s.unsub = unsub
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.started = true

	go s.loop(ctx, events)
	s.log.Info("audit started")
	return nil
}

// Stop unsubscribes and waits for the consumer to finish, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopCh)
	if s.unsub != nil {
		s.unsub()
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Appended reports how many records reached the journal.
func (s *Service) Appended() uint64 { return s.appended.Load() }

func (s *Service) loop(ctx context.Context, events <-chan eventbus.Event) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Service) handle(ev eventbus.Event) {
	switch ev.Type {
	case botlog.TopicRemoteSent, botlog.TopicRemoteFailed, botlog.TopicRemoteDropped:
	default:
		return
	}
	de, ok := ev.Data.(botlog.DeliveryEvent)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	err := s.store.AppendDelivery(ctx, storage.DeliveryRecord{
		At:        de.At,
		RequestID: de.RequestID,
		Severity:  de.Severity,
		Kind:      de.Kind,
		Event:     de.Event,
		ChatID:    de.ChatID,
		ThreadID:  de.ThreadID,
		Outcome:   de.Outcome,
		ErrorKind: de.ErrorKind,
		MessageID: de.MessageID,
	})
	cancel()
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("audit append failed", logx.Err(err), logx.String("request_id", de.RequestID))
		return
	}
	s.appended.Add(1)
}
