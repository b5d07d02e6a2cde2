package inbox

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lixiwatch/internal/storage"
	logx "lixiwatch/pkg/logx"

	"github.com/google/uuid"
)

const (
	// StoreKey is where the collection is persisted.
	StoreKey   = "notifications"
	DefaultCap = 50
)

// Kind is the user-facing notification category.
type Kind string

const (
	KindGiftSent           Kind = "gift_sent"
	KindGiftReceived       Kind = "gift_received"
	KindGiftOpened         Kind = "gift_opened"
	KindGiftRejected       Kind = "gift_rejected"
	KindGiftRefunded       Kind = "gift_refunded"
	KindLixiCreated        Kind = "lixi_created"
	KindLixiClaimed        Kind = "lixi_claimed"
	KindLixiClaimedCreator Kind = "lixi_claimed_creator"
	KindLixiRefunded       Kind = "lixi_refunded"
	KindLixiLocked         Kind = "lixi_locked"
	KindLixiCompleted      Kind = "lixi_completed"
)

type Notification struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	SubjectID   string `json:"subjectId,omitempty"`
	Amount      string `json:"amount,omitempty"`
	TimestampMs int64  `json:"timestampMs"`
	Read        bool   `json:"read"`
	TxDigest    string `json:"txDigest,omitempty"`
}

// Input is what callers supply; id and read state are assigned by the store.
// A zero TimestampMs means now.
type Input struct {
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	SubjectID   string `json:"subjectId,omitempty"`
	Amount      string `json:"amount,omitempty"`
	TimestampMs int64  `json:"timestampMs,omitempty"`
	TxDigest    string `json:"txDigest,omitempty"`
}

type Options struct {
	Cap int
	Now func() time.Time
	Log logx.Logger
}

// Store is safe for concurrent use. In-memory state is authoritative; a
// failed write is logged and returned, and the next successful write
// re-syncs the store.
type Store struct {
	st  storage.Store
	cap int
	now func() time.Time
	log logx.Logger

	// writeMu is held from snapshot to write so writes land in the order
	// their snapshots were taken.
	writeMu sync.Mutex

	mu    sync.RWMutex
	items []Notification
}

func New(st storage.Store, opt Options) *Store {
	if opt.Cap <= 0 {
		opt.Cap = DefaultCap
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Store{
		st:  st,
		cap: opt.Cap,
		now: opt.Now,
		log: opt.Log.With(logx.String("comp", "inbox")),
	}
}

// Load replaces the in-memory collection with the persisted one. Corrupt
// data loads as empty.
func (s *Store) Load(ctx context.Context) error {
	var items []Notification
	if _, err := storage.LoadJSON(ctx, s.st, StoreKey, &items); err != nil {
		s.log.Warn("notifications unreadable, starting empty", logx.Err(err))
		s.mu.Lock()
		s.items = nil
		s.mu.Unlock()
		return err
	}
	items = normalize(items, s.cap)
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// Add stores a new notification and returns it. The returned error only
// reports persistence; the notification is kept either way.
func (s *Store) Add(ctx context.Context, in Input) (Notification, error) {
	n := Notification{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		Title:       strings.TrimSpace(in.Title),
		Message:     strings.TrimSpace(in.Message),
		SubjectID:   in.SubjectID,
		Amount:      in.Amount,
		TimestampMs: in.TimestampMs,
		TxDigest:    in.TxDigest,
	}
	if n.TimestampMs <= 0 {
		n.TimestampMs = s.now().UnixMilli()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	items := make([]Notification, 0, len(s.items)+1)
	items = append(items, n)
	items = append(items, s.items...)
	s.items = normalize(items, s.cap)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return n, s.persist(ctx, snapshot)
}

// MarkRead flips one notification to read. It reports whether id was found.
func (s *Store) MarkRead(ctx context.Context, id string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	found := false
	for i := range s.items {
		if s.items[i].ID == id {
			found = true
			s.items[i].Read = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return false, nil
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return true, s.persist(ctx, snapshot)
}

// MarkAllRead returns how many notifications changed state.
func (s *Store) MarkAllRead(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	changed := 0
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed++
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return changed, s.persist(ctx, snapshot)
}

// Flush writes the current collection again, e.g. after an earlier write
// failed.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	snapshot := s.snapshotLocked()
	s.mu.RUnlock()
	return s.persist(ctx, snapshot)
}

// List returns a copy, newest first.
func (s *Store) List() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		if !it.Read {
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) snapshotLocked() []Notification {
	return append([]Notification(nil), s.items...)
}

func (s *Store) persist(ctx context.Context, items []Notification) error {
	if err := storage.SaveJSON(ctx, s.st, StoreKey, items); err != nil {
		s.log.Error("persist notifications failed", logx.Err(err))
		return err
	}
	return nil
}

// normalize sorts newest first and then applies the cap, so the cap keeps
// the most recent by timestamp rather than by insertion.
func normalize(items []Notification, max int) []Notification {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TimestampMs > items[j].TimestampMs
	})
	if len(items) > max {
		items = items[:max]
	}
	return items
}
