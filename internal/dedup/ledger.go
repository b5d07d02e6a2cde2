package dedup

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"

	"lixiwatch/internal/storage"
	logx "lixiwatch/pkg/logx"
)

const (
	// SeenKey is the store key holding the serialized set.
	SeenKey = "seenEvents"
	// DefaultCap bounds the number of remembered keys.
	DefaultCap = 500
)

// EventKey identifies one ledger-observed event.
func EventKey(txDigest string, eventSeq int64) string {
	return txDigest + "-" + strconv.FormatInt(eventSeq, 10)
}

// ManualKey identifies a transaction that was already announced locally.
func ManualKey(txDigest string) string {
	return txDigest + "-manual"
}

// Ledger is safe for concurrent use.
type Ledger struct {
	st  storage.Store
	cap int
	log logx.Logger

	// writeMu orders snapshots so an older one never lands after a newer one.
	writeMu sync.Mutex

	mu    sync.RWMutex
	order []string // persisted keys, oldest first
	set   map[string]struct{}
	// pending holds remembered keys. They count as seen but are left out of
	// every snapshot until Promote.
	pending []string
}

func New(st storage.Store, capacity int, log logx.Logger) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{
		st:  st,
		cap: capacity,
		log: log.With(logx.String("comp", "dedup")),
		set: map[string]struct{}{},
	}
}

// Load replaces the in-memory set with the persisted one. A missing or
// unreadable key leaves the set empty; the error is returned for logging
// only.
func (l *Ledger) Load(ctx context.Context) error {
	var keys []string
	_, err := storage.LoadJSON(ctx, l.st, SeenKey, &keys)
	if err != nil {
		keys = nil
		l.log.Warn("seen keys unreadable, starting empty", logx.Err(err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = l.order[:0]
	l.pending = nil
	l.set = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := l.set[k]; dup {
			continue
		}
		l.set[k] = struct{}{}
		l.order = append(l.order, k)
	}
	l.evictLocked()
	return err
}

func (l *Ledger) HasSeen(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasLocked(key)
}

func (l *Ledger) hasLocked(key string) bool {
	if _, ok := l.set[key]; ok {
		return true
	}
	return slices.Contains(l.pending, key)
}

// SeenEvent reports whether either the event key or the manual key of its
// transaction has been recorded.
func (l *Ledger) SeenEvent(txDigest string, eventSeq int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasLocked(ManualKey(txDigest)) || l.hasLocked(EventKey(txDigest, eventSeq))
}

// SeenTx reports whether any key of txDigest, polled or manual, is present.
func (l *Ledger) SeenTx(txDigest string) bool {
	if txDigest == "" {
		return false
	}
	prefix := txDigest + "-"
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, k := range slices.Concat(l.order, l.pending) {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if rest == "manual" {
			return true
		}
		if _, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return true
		}
	}
	return false
}

// MarkSeen records key and persists the set. Re-marking a persisted key
// does nothing; a remembered key is promoted. The key stays marked in memory
// even when the write fails.
func (l *Ledger) MarkSeen(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	if _, ok := l.set[key]; ok {
		l.mu.Unlock()
		return nil
	}
	l.pending = slices.DeleteFunc(l.pending, func(k string) bool { return k == key })
	l.appendLocked(key)
	snapshot := append([]string(nil), l.order...)
	l.mu.Unlock()

	return l.persist(ctx, snapshot)
}

// Remember marks key as seen for this session without persisting it. The
// reconciler uses it when the outputs of the same event failed to write, so
// the event is not re-announced now and a restart delivers it again.
// Remembered keys stay out of every persisted snapshot until Promote.
func (l *Ledger) Remember(key string) {
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasLocked(key) {
		return
	}
	l.pending = append(l.pending, key)
	if over := len(l.pending) - l.cap; over > 0 {
		l.pending = append(l.pending[:0], l.pending[over:]...)
	}
}

// Pending returns how many remembered keys wait for Promote.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Promote moves every remembered key into the persisted set and writes it.
// Call it only once the outputs of those keys are stored.
func (l *Ledger) Promote(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return nil
	}
	for _, k := range l.pending {
		l.appendLocked(k)
	}
	l.pending = nil
	snapshot := append([]string(nil), l.order...)
	l.mu.Unlock()

	return l.persist(ctx, snapshot)
}

func (l *Ledger) appendLocked(key string) {
	if _, ok := l.set[key]; ok {
		return
	}
	l.set[key] = struct{}{}
	l.order = append(l.order, key)
	l.evictLocked()
}

func (l *Ledger) persist(ctx context.Context, snapshot []string) error {
	if err := storage.SaveJSON(ctx, l.st, SeenKey, snapshot); err != nil {
		l.log.Error("persist seen keys failed", logx.Err(err))
		return err
	}
	return nil
}

func (l *Ledger) MarkManual(ctx context.Context, txDigest string) error {
	if txDigest == "" {
		return nil
	}
	return l.MarkSeen(ctx, ManualKey(txDigest))
}

// Keys returns the persisted set oldest first. Remembered keys are not
// included.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// Len counts persisted and remembered keys.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order) + len(l.pending)
}

func (l *Ledger) evictLocked() {
	over := len(l.order) - l.cap
	if over <= 0 {
		return
	}
	for _, k := range l.order[:over] {
		delete(l.set, k)
	}
	l.order = append(l.order[:0], l.order[over:]...)
}
