package core

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultDirectoryCap = 512

// MemberInfo is one remembered chat member.
type MemberInfo struct {
	UserID      int64
	Username    string
	DisplayName string
	ChatID      int64
	LastSeen    time.Time
}

// Directory remembers members recently seen in updates, so lookup commands
// can answer without an external data backend. Bounded: when full, the
// least recently seen entry is evicted.
type Directory struct {
	mu   sync.Mutex
	byID map[int64]MemberInfo
	cap  int
}

func NewDirectory(capacity int) *Directory {
	if capacity <= 0 {
		capacity = defaultDirectoryCap
	}
	return &Directory{byID: make(map[int64]MemberInfo, capacity), cap: capacity}
}

func (d *Directory) Observe(info MemberInfo) {
	if info.UserID == 0 {
		return
	}
	if info.LastSeen.IsZero() {
		info.LastSeen = time.Now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.byID[info.UserID]; ok {
		// Keep known names when the update carries none.
		if info.Username == "" {
			info.Username = prev.Username
		}
		if info.DisplayName == "" {
			info.DisplayName = prev.DisplayName
		}
	} else if len(d.byID) >= d.cap {
		d.evictOldestLocked()
	}
	d.byID[info.UserID] = info
}

// Forget removes one member (e.g. after a leave event). Reports whether an
// entry existed.
func (d *Directory) Forget(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byID[userID]
	delete(d.byID, userID)
	return ok
}

// Resolve looks a member up by "@username" (case-insensitive) or numeric
// user ID.
func (d *Directory) Resolve(token string) (MemberInfo, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return MemberInfo{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if name, ok := strings.CutPrefix(token, "@"); ok {
		for _, m := range d.byID {
			if strings.EqualFold(m.Username, name) {
				return m, true
			}
		}
		return MemberInfo{}, false
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return MemberInfo{}, false
	}
	m, ok := d.byID[id]
	return m, ok
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID)
}

func (d *Directory) evictOldestLocked() {
	var (
		oldestID int64
		oldestAt time.Time
		first    = true
	)
	for id, m := range d.byID {
		if first || m.LastSeen.Before(oldestAt) {
			oldestID, oldestAt = id, m.LastSeen
			first = false
		}
	}
	if !first {
		delete(d.byID, oldestID)
	}
}
