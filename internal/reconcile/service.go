package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lixiwatch/internal/classify"
	"lixiwatch/internal/dedup"
	"lixiwatch/internal/eventbus"
	"lixiwatch/internal/history"
	"lixiwatch/internal/identity"
	"lixiwatch/internal/inbox"
	"lixiwatch/internal/ledger"
	logx "lixiwatch/pkg/logx"
)

var ErrInvalidDirection = errors.New("history direction must be debit, credit or refund")

// Source is the event side of the ledger adapter.
type Source interface {
	FetchRecent(ctx context.Context, tags []string) map[string][]ledger.Event
}

type Deps struct {
	Source   Source
	Tags     []string
	Seen     *dedup.Ledger
	Inbox    *inbox.Store
	History  *history.Ledger
	Identity identity.Provider
	Bus      eventbus.Bus
	Log      logx.Logger
	Currency string
}

// TickStats summarizes one poll cycle.
type TickStats struct {
	Fetched       int           `json:"fetched"`
	Applied       int           `json:"applied"`
	Suppressed    int           `json:"suppressed"`
	Ignored       int           `json:"ignored"`
	Notifications int           `json:"notifications"`
	History       int           `json:"history"`
	Skipped       bool          `json:"skipped,omitempty"`
	Took          time.Duration `json:"took"`
	At            time.Time     `json:"at"`
}

// Suppressed is published for every event dropped by the dedup set.
type Suppressed struct {
	Key      string      `json:"key"`
	Kind     ledger.Kind `json:"kind"`
	TxDigest string      `json:"txDigest"`
}

// Health is the persistence status. Writes never fail an operation; a
// failed write only shows up here and in the logs.
type Health struct {
	Degraded    bool      `json:"degraded"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitempty"`
}

type Service struct {
	src   Source
	tags  []string
	seen  *dedup.Ledger
	inbox *inbox.Store
	hist  *history.Ledger
	ident identity.Provider
	bus   eventbus.Bus
	log   logx.Logger
	opts  classify.Options

	// mu serializes classify-then-mark-seen and the optimistic path.
	mu sync.Mutex

	stateMu  sync.RWMutex
	health   Health
	lastTick TickStats
}

func New(d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	return &Service{
		src:   d.Source,
		tags:  append([]string(nil), d.Tags...),
		seen:  d.Seen,
		inbox: d.Inbox,
		hist:  d.History,
		ident: d.Identity,
		bus:   d.Bus,
		log:   d.Log.With(logx.String("comp", "reconcile")),
		opts:  classify.Options{Currency: d.Currency},
	}
}

// Load restores all three collections. Each loads on its own; a corrupt one
// comes back empty without affecting the others.
func (s *Service) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inbox.Load(ctx); err != nil {
		s.log.Warn("notifications reset", logx.Err(err))
	}
	if err := s.hist.Load(ctx); err != nil {
		s.log.Warn("history reset", logx.Err(err))
	}
	if err := s.seen.Load(ctx); err != nil {
		s.log.Warn("seen keys reset", logx.Err(err))
	}
	s.log.Info("state loaded",
		logx.Int("notifications", s.inbox.Len()),
		logx.Int("history", s.hist.Len()),
		logx.Int("seen", s.seen.Len()))
}

// SetTags swaps the tracked event types, e.g. after a config reload.
func (s *Service) SetTags(tags []string) {
	s.mu.Lock()
	s.tags = append([]string(nil), tags...)
	s.mu.Unlock()
}

func (s *Service) currentTags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tags...)
}

// Tick runs one poll cycle. Fetch failures are absorbed by the source, so
// Tick itself only fails when ctx is done before anything was fetched.
func (s *Service) Tick(ctx context.Context) error {
	started := time.Now()
	stats := TickStats{At: started}
	s.retryPending(ctx)

	var viewer identity.Viewer
	if s.ident != nil {
		viewer = s.ident.Current()
	}
	if viewer.Empty() {
		stats.Skipped = true
		s.log.Debug("no viewer, tick skipped")
		s.finishTick(stats, started)
		return nil
	}

	tags := s.currentTags()
	batches := s.src.FetchRecent(ctx, tags)
	if len(batches) == 0 && ctx.Err() != nil {
		return ctx.Err()
	}

	for _, tag := range tags {
		for _, ev := range batches[tag] {
			stats.Fetched++
			s.apply(ctx, ev, viewer, &stats)
		}
	}
	s.finishTick(stats, started)
	return nil
}

// retryPending writes the notifications and history again when some seen
// keys are held back, and promotes those keys once both writes land.
func (s *Service) retryPending(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen.Pending() == 0 {
		return
	}
	if err := s.inbox.Flush(ctx); err != nil {
		s.note(err)
		return
	}
	if err := s.hist.Flush(ctx); err != nil {
		s.note(err)
		return
	}
	s.note(s.seen.Promote(ctx))
}

func (s *Service) finishTick(stats TickStats, started time.Time) {
	stats.Took = time.Since(started)
	s.stateMu.Lock()
	s.lastTick = stats
	s.stateMu.Unlock()
	if stats.Applied > 0 || stats.Notifications > 0 {
		s.log.Info("tick applied events",
			logx.Int("fetched", stats.Fetched),
			logx.Int("applied", stats.Applied),
			logx.Int("notifications", stats.Notifications),
			logx.Int("history", stats.History),
			logx.Duration("took", stats.Took))
	}
	s.bus.Publish(eventbus.Event{Topic: eventbus.TickCompleted, Data: stats})
}

func (s *Service) apply(ctx context.Context, ev ledger.Event, viewer identity.Viewer, stats *TickStats) {
	if ev.Kind == ledger.KindUnknown {
		stats.Ignored++
		s.log.Debug("unknown event type ignored", logx.String("type", ev.TypeTag), logx.String("tx", ev.TxDigest))
		return
	}
	// Without a digest there is no stable dedup key.
	if strings.TrimSpace(ev.TxDigest) == "" {
		stats.Ignored++
		s.log.Debug("event without tx digest ignored", logx.String("type", ev.TypeTag))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedup.EventKey(ev.TxDigest, ev.EventSeq)
	if s.seen.SeenEvent(ev.TxDigest, ev.EventSeq) {
		stats.Suppressed++
		s.log.Debug("duplicate suppressed", logx.String("key", key))
		s.bus.Publish(eventbus.Event{Topic: eventbus.EventSuppressed, Data: Suppressed{Key: key, Kind: ev.Kind, TxDigest: ev.TxDigest}})
		return
	}

	writeFailed := false
	for _, out := range classify.Classify(ev, viewer, s.opts) {
		if s.addNotificationLocked(ctx, out.Notification) != nil {
			writeFailed = true
		}
		stats.Notifications++
		if out.History != nil {
			if s.addHistoryLocked(ctx, *out.History) != nil {
				writeFailed = true
			}
			stats.History++
		}
	}
	stats.Applied++

	if writeFailed {
		// The store does not hold this event's outputs yet; the key waits
		// for retryPending.
		s.seen.Remember(key)
		return
	}
	s.note(s.seen.MarkSeen(ctx, key))
}

func (s *Service) addNotificationLocked(ctx context.Context, in inbox.Input) error {
	n, err := s.inbox.Add(ctx, in)
	s.bus.Publish(eventbus.Event{Topic: eventbus.NotificationAdded, Data: n})
	s.note(err)
	return err
}

func (s *Service) addHistoryLocked(ctx context.Context, in history.Input) error {
	e, err := s.hist.Add(ctx, in)
	s.bus.Publish(eventbus.Event{Topic: eventbus.HistoryAdded, Data: e})
	s.note(err)
	return err
}

// AddNotification is the optimistic path: the caller announces a
// transaction it just submitted. When TxDigest is set, the later ledger
// event for that transaction is suppressed, and a transaction the poll
// already announced is not announced again; added is false then.
func (s *Service) AddNotification(ctx context.Context, in inbox.Input) (n inbox.Notification, added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.TxDigest != "" && s.seen.SeenTx(in.TxDigest) {
		key := dedup.ManualKey(in.TxDigest)
		s.log.Debug("optimistic duplicate suppressed", logx.String("key", key))
		s.bus.Publish(eventbus.Event{Topic: eventbus.EventSuppressed, Data: Suppressed{Key: key, TxDigest: in.TxDigest}})
		return inbox.Notification{}, false
	}

	n, err := s.inbox.Add(ctx, in)
	s.bus.Publish(eventbus.Event{Topic: eventbus.NotificationAdded, Data: n})
	s.note(err)
	if in.TxDigest == "" {
		return n, true
	}
	key := dedup.ManualKey(in.TxDigest)
	if err != nil {
		s.seen.Remember(key)
		return n, true
	}
	s.note(s.seen.MarkSeen(ctx, key))
	return n, true
}

// AddHistoryEntry is the optimistic counterpart for history. The error is
// only ErrInvalidDirection; a failed write keeps the entry in memory and
// shows up in Degraded.
func (s *Service) AddHistoryEntry(ctx context.Context, in history.Input) (history.Entry, error) {
	if !in.Direction.Valid() {
		return history.Entry{}, ErrInvalidDirection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.hist.Add(ctx, in)
	s.bus.Publish(eventbus.Event{Topic: eventbus.HistoryAdded, Data: e})
	s.note(err)
	return e, nil
}

func (s *Service) MarkRead(ctx context.Context, id string) bool {
	ok, err := s.inbox.MarkRead(ctx, id)
	s.note(err)
	return ok
}

func (s *Service) MarkAllRead(ctx context.Context) int {
	n, err := s.inbox.MarkAllRead(ctx)
	s.note(err)
	return n
}

func (s *Service) Notifications() []inbox.Notification { return s.inbox.List() }
func (s *Service) History() []history.Entry            { return s.hist.List() }
func (s *Service) Totals() history.Totals              { return s.hist.Totals() }
func (s *Service) Unread() int                         { return s.inbox.Unread() }
func (s *Service) SeenCount() int                      { return s.seen.Len() }

func (s *Service) LastTick() TickStats {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastTick
}

// Degraded reports whether the most recent write failed.
func (s *Service) Degraded() Health {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.health
}

// note tracks persistence health. The first failure after a healthy period
// is published; a later successful write clears the flag.
func (s *Service) note(err error) {
	s.stateMu.Lock()
	if err == nil {
		if s.health.Degraded {
			s.log.Info("storage recovered")
		}
		s.health.Degraded = false
		s.stateMu.Unlock()
		return
	}
	was := s.health.Degraded
	s.health = Health{Degraded: true, LastError: err.Error(), LastErrorAt: time.Now()}
	h := s.health
	s.stateMu.Unlock()

	if !was {
		s.bus.Publish(eventbus.Event{Topic: eventbus.StorageDegraded, Data: h})
	}
}
