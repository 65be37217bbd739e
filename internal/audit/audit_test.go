package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"logbot/internal/eventbus"
	"logbot/internal/storage"
	"logbot/pkg/botlog"
	"logbot/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	recs []storage.DeliveryRecord
}

func (m *memStore) AppendDelivery(_ context.Context, r storage.DeliveryRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memStore) RecentDeliveries(_ context.Context, limit int) ([]storage.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.recs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]storage.DeliveryRecord, limit)
	copy(out, m.recs[n-limit:])
	return out, nil
}

func (m *memStore) CountsSince(_ context.Context, since time.Time) (storage.DeliveryCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c storage.DeliveryCounts
	for _, r := range m.recs {
		if r.At.Before(since) {
			continue
		}
		switch r.Outcome {
		case "sent":
			c.Sent++
		case "failed":
			c.Failed++
		case "dropped":
			c.Dropped++
		}
	}
	return c, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func deliveryEvent(topic, outcome string) eventbus.Event {
	return eventbus.Event{
		Type: topic,
		Time: time.Now(),
		Data: botlog.DeliveryEvent{
			RequestID: "req-" + outcome,
			Severity:  "ERROR",
			Kind:      "error",
			ChatID:    -100500,
			At:        time.Now(),
			Outcome:   outcome,
		},
	}
}

func TestPersistsDeliveryOutcomes(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	st := &memStore{}
	svc := New(st, bus, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	bus.Publish(deliveryEvent(botlog.TopicRemoteSent, "sent"))
	bus.Publish(deliveryEvent(botlog.TopicRemoteFailed, "failed"))
	// Unrelated topics are ignored.
	bus.Publish(eventbus.Event{Type: "config.reloaded", Time: time.Now()})

	waitFor(t, 3*time.Second, func() bool { return st.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := st.count(); got != 2 {
		t.Fatalf("records = %d, want 2", got)
	}

	recs, err := st.RecentDeliveries(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	if recs[0].Outcome != "sent" || recs[1].Outcome != "failed" {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].RequestID != "req-sent" || recs[0].ChatID != -100500 {
		t.Fatalf("record fields = %+v", recs[0])
	}
	if svc.Appended() != 2 {
		t.Fatalf("Appended() = %d", svc.Appended())
	}
}

func TestStopHaltsConsumption(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	st := &memStore{}
	svc := New(st, bus, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bus.Publish(deliveryEvent(botlog.TopicRemoteSent, "sent"))
	waitFor(t, 3*time.Second, func() bool { return st.count() == 1 })

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	bus.Publish(deliveryEvent(botlog.TopicRemoteSent, "sent"))
	time.Sleep(30 * time.Millisecond)
	if got := st.count(); got != 1 {
		t.Fatalf("records after Stop = %d, want 1", got)
	}

	// Stop is idempotent.
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestNoStoreIsNoop(t *testing.T) {
	t.Parallel()

	svc := New(nil, eventbus.New(), logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
