package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"logbot/pkg/logx"
)

const (
	defaultKeep  = 500
	compactEvery = 2048
)

// fileStore is a dependency-free journal backend.
//
// Files:
//   - <prefix>.deliveries.jsonl (append-only JSON Lines)
//
// The journal is periodically compacted down to the retained tail so it
// cannot grow without bound. Queries are served from the in-memory tail.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path string
	file *os.File

	keep   int
	tail   []DeliveryRecord // newest last, len <= keep
	writes int              // appends since the last compaction
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	keep := cfg.KeepRecords
	if keep <= 0 {
		keep = defaultKeep
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	journalPath := filepath.Join(dir, base) + ".deliveries.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tail, _ := loadTail(journalPath, keep)

	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:  log,
		path: journalPath,
		file: f,
		keep: keep,
		tail: tail,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("delivery journal closed")
	}
	if err := json.NewEncoder(s.file).Encode(r); err != nil {
		return err
	}

	s.tail = append(s.tail, r)
	if over := len(s.tail) - s.keep; over > 0 {
		s.tail = append(s.tail[:0], s.tail[over:]...)
	}

	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.tail)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]DeliveryRecord, limit)
	copy(out, s.tail[n-limit:])
	return out, nil
}

// CountsSince aggregates outcomes over the retained tail; records older
// than the tail are not counted.
func (s *fileStore) CountsSince(ctx context.Context, since time.Time) (DeliveryCounts, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var c DeliveryCounts
	for _, r := range s.tail {
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

// compactLocked rewrites the journal down to the retained tail. The old
// handle is swapped for one on the new file.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range s.tail {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.file.Close()
	s.file = nf
	return nil
}

func loadTail(path string, keep int) ([]DeliveryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tail []DeliveryRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r DeliveryRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		tail = append(tail, r)
		if over := len(tail) - keep; over > 0 {
			tail = append(tail[:0], tail[over:]...)
		}
	}
	return tail, sc.Err()
}
