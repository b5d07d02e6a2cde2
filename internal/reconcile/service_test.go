package reconcile

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"lixiwatch/internal/dedup"
	"lixiwatch/internal/eventbus"
	"lixiwatch/internal/history"
	"lixiwatch/internal/identity"
	"lixiwatch/internal/inbox"
	"lixiwatch/internal/ledger"
	"lixiwatch/internal/storage"
	logx "lixiwatch/pkg/logx"
)

const pkg = "0xpkg"

var tags = ledger.EventTypes(pkg, "", "")

// recordingStore logs every Put key and can fail writes per key.
type recordingStore struct {
	*storage.Memory

	mu   sync.Mutex
	puts []string
	fail map[string]error
}

func newRecordingStore(mem *storage.Memory) *recordingStore {
	return &recordingStore{Memory: mem, fail: map[string]error{}}
}

func (s *recordingStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.puts = append(s.puts, key)
	err := s.fail[key]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Put(ctx, key, value)
}

func (s *recordingStore) failKey(key string, err error) {
	s.mu.Lock()
	s.fail[key] = err
	s.mu.Unlock()
}

func (s *recordingStore) putKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.puts...)
}

type fakeSource struct {
	mu     sync.Mutex
	events map[string][]ledger.Event
	calls  int
}

func (f *fakeSource) FetchRecent(_ context.Context, tags []string) map[string][]ledger.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := map[string][]ledger.Event{}
	for _, t := range tags {
		if evs, ok := f.events[t]; ok {
			out[t] = append([]ledger.Event(nil), evs...)
		}
	}
	return out
}

func (f *fakeSource) set(kind ledger.Kind, evs ...ledger.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = map[string][]ledger.Event{}
	}
	for i := range evs {
		evs[i].Kind = kind
	}
	f.events[tagFor(kind)] = evs
}

func tagFor(kind ledger.Kind) string {
	for _, t := range tags {
		if ledger.ParseKind(t) == kind {
			return t
		}
	}
	return ""
}

func giftCreated(tx string, seq int64, sender, recipientEmail string) ledger.Event {
	return ledger.Event{
		TypeTag:     tagFor(ledger.KindGiftCreated),
		TxDigest:    tx,
		EventSeq:    seq,
		TimestampMs: 1_700_000_000_000 + seq,
		Payload: map[string]any{
			"sender":          sender,
			"recipient_email": recipientEmail,
			"amount":          "1500000000",
			"gift_id":         "0xgift",
		},
	}
}

type harness struct {
	svc   *Service
	src   *fakeSource
	st    *recordingStore
	ident *identity.Static
	bus   eventbus.Bus
}

func newHarness(t *testing.T, mem *storage.Memory, viewer identity.Viewer) *harness {
	t.Helper()
	st := newRecordingStore(mem)
	src := &fakeSource{}
	ident := identity.NewStatic(viewer)
	bus := eventbus.New()
	log := logx.Nop()
	svc := New(Deps{
		Source:   src,
		Tags:     tags,
		Seen:     dedup.New(st, 0, log),
		Inbox:    inbox.New(st, inbox.Options{Log: log}),
		History:  history.New(st, history.Options{Log: log}),
		Identity: ident,
		Bus:      bus,
		Log:      log,
	})
	svc.Load(context.Background())
	return &harness{svc: svc, src: src, st: st, ident: ident, bus: bus}
}

func TestTickIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
	h.src.set(ledger.KindGiftCreated, giftCreated("0xabc", 0, "0xSENDER", "a@x.com"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.svc.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	notes := h.svc.Notifications()
	if len(notes) != 1 {
		t.Fatalf("notifications=%d want 1", len(notes))
	}
	if notes[0].Kind != inbox.KindGiftSent || notes[0].Amount != "1.5000" {
		t.Fatalf("unexpected notification: %+v", notes[0])
	}
	hist := h.svc.History()
	if len(hist) != 1 || hist[0].Direction != history.Debit || hist[0].Amount != "-1.5000 SUI" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if last := h.svc.LastTick(); last.Suppressed != 1 || last.Fetched != 1 {
		t.Fatalf("last tick=%+v", last)
	}
}

func TestOptimisticNotificationSuppressesPolledEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
	ctx := context.Background()

	optimistic, added := h.svc.AddNotification(ctx, inbox.Input{Kind: inbox.KindGiftSent, Title: "Gift created", TxDigest: "0xabc"})
	if !added {
		t.Fatalf("first announcement should be added")
	}
	h.src.set(ledger.KindGiftCreated,
		giftCreated("0xabc", 0, "0xSENDER", "a@x.com"),
		giftCreated("0xabc", 1, "0xSENDER", "a@x.com"),
	)
	if err := h.svc.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	notes := h.svc.Notifications()
	if len(notes) != 1 || notes[0].ID != optimistic.ID {
		t.Fatalf("expected only the optimistic notification, got %+v", notes)
	}
	if len(h.svc.History()) != 0 {
		t.Fatalf("suppressed event should not produce history")
	}
}

func TestViewerScenarios(t *testing.T) {
	t.Parallel()

	ev := giftCreated("0xabc", 0, "0xSENDER", "a@x.com")

	sender := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
	sender.src.set(ledger.KindGiftCreated, ev)
	_ = sender.svc.Tick(context.Background())
	if n := sender.svc.Notifications(); len(n) != 1 || n[0].Kind != inbox.KindGiftSent {
		t.Fatalf("sender notifications=%+v", n)
	}

	recipient := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xOTHER", Email: "a@x.com"})
	recipient.src.set(ledger.KindGiftCreated, ev)
	_ = recipient.svc.Tick(context.Background())
	if n := recipient.svc.Notifications(); len(n) != 1 || n[0].Kind != inbox.KindGiftReceived {
		t.Fatalf("recipient notifications=%+v", n)
	}
	if len(recipient.svc.History()) != 0 {
		t.Fatalf("recipient should have no history yet")
	}
}

func TestTickSkipsWithoutViewer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{})
	h.src.set(ledger.KindGiftCreated, giftCreated("0xabc", 0, "0xSENDER", ""))
	if err := h.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if h.src.calls != 0 {
		t.Fatalf("source should not be queried without a viewer")
	}
	if !h.svc.LastTick().Skipped {
		t.Fatalf("tick should be reported as skipped")
	}
}

func TestViewerIsReadEveryTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xnobody"})
	h.src.set(ledger.KindGiftCreated, giftCreated("0xabc", 0, "0xSENDER", ""))
	_ = h.svc.Tick(context.Background())
	if len(h.svc.Notifications()) != 0 {
		t.Fatalf("unrelated viewer should get nothing")
	}

	h.ident.Set(identity.Viewer{Address: "0xSENDER"})
	h.src.set(ledger.KindGiftCreated, giftCreated("0xdef", 0, "0xSENDER", ""))
	_ = h.svc.Tick(context.Background())
	if len(h.svc.Notifications()) != 1 {
		t.Fatalf("new viewer should see the new event")
	}
}

func TestPersistOrderPutsSeenKeyLast(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
	h.src.set(ledger.KindGiftCreated, giftCreated("0xabc", 0, "0xSENDER", ""))
	if err := h.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	want := []string{inbox.StoreKey, history.StoreKey, dedup.SeenKey}
	if got := h.st.putKeys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("put order=%v want %v", got, want)
	}
}

func TestCrashBeforeSeenWriteYieldsDuplicateNotLoss(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	ev := giftCreated("0xabc", 0, "0xSENDER", "")

	first := newHarness(t, mem, identity.Viewer{Address: "0xSENDER"})
	first.st.failKey(dedup.SeenKey, errors.New("crashed"))
	first.src.set(ledger.KindGiftCreated, ev)
	_ = first.svc.Tick(context.Background())
	if !first.svc.Degraded().Degraded {
		t.Fatalf("failed seen write should mark storage degraded")
	}

	// Restart on the same store.
	second := newHarness(t, mem, identity.Viewer{Address: "0xSENDER"})
	if got := len(second.svc.Notifications()); got != 1 {
		t.Fatalf("notification should have survived the crash, got %d", got)
	}
	second.src.set(ledger.KindGiftCreated, ev)
	_ = second.svc.Tick(context.Background())
	if got := len(second.svc.Notifications()); got != 2 {
		t.Fatalf("expected a duplicate after the lost seen write, got %d", got)
	}
}

func TestFailedNotificationWriteDoesNotPersistSeenKey(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	h := newHarness(t, mem, identity.Viewer{Address: "0xSENDER"})
	h.st.failKey(inbox.StoreKey, errors.New("quota exceeded"))
	h.src.set(ledger.KindGiftCreated, giftCreated("0xabc", 0, "0xSENDER", ""))
	_ = h.svc.Tick(context.Background())
	_ = h.svc.Tick(context.Background())

	if got := len(h.svc.Notifications()); got != 1 {
		t.Fatalf("in-memory state should hold exactly one notification, got %d", got)
	}
	for _, k := range h.st.putKeys() {
		if k == dedup.SeenKey {
			t.Fatalf("seen key persisted ahead of its notification")
		}
	}
}

func persistedSeen(t *testing.T, st storage.Store) []string {
	t.Helper()
	var keys []string
	if _, err := storage.LoadJSON(context.Background(), st, dedup.SeenKey, &keys); err != nil {
		t.Fatalf("load seen: %v", err)
	}
	return keys
}

func TestHeldBackKeySurvivesUnrelatedSeenWrite(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	h := newHarness(t, mem, identity.Viewer{Address: "0xSENDER"})
	h.st.failKey(inbox.StoreKey, errors.New("quota exceeded"))
	h.src.set(ledger.KindGiftCreated,
		giftCreated("0xA", 0, "0xSENDER", ""),
		giftCreated("0xB", 0, "0xother", "z@x.com"),
	)
	_ = h.svc.Tick(context.Background())

	if got := persistedSeen(t, mem); !reflect.DeepEqual(got, []string{"0xB-0"}) {
		t.Fatalf("persisted seen=%v want [0xB-0]", got)
	}

	// Restart on the same store: the gift whose notification never landed
	// is announced again.
	again := newHarness(t, mem, identity.Viewer{Address: "0xSENDER"})
	again.src.set(ledger.KindGiftCreated, giftCreated("0xA", 0, "0xSENDER", ""))
	_ = again.svc.Tick(context.Background())
	if n := again.svc.Notifications(); len(n) != 1 || n[0].Kind != inbox.KindGiftSent {
		t.Fatalf("notifications after restart=%+v", n)
	}
}

func TestHeldBackKeyPromotedAfterStoreRecovers(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	h := newHarness(t, mem, identity.Viewer{Address: "0xSENDER"})
	h.st.failKey(inbox.StoreKey, errors.New("quota exceeded"))
	h.src.set(ledger.KindGiftCreated, giftCreated("0xA", 0, "0xSENDER", ""))
	_ = h.svc.Tick(context.Background())
	if len(persistedSeen(t, mem)) != 0 {
		t.Fatalf("seen key persisted ahead of its notification")
	}

	h.st.failKey(inbox.StoreKey, nil)
	_ = h.svc.Tick(context.Background())

	if got := persistedSeen(t, mem); !reflect.DeepEqual(got, []string{"0xA-0"}) {
		t.Fatalf("persisted seen=%v want [0xA-0]", got)
	}
	var stored []inbox.Notification
	if _, err := storage.LoadJSON(context.Background(), mem, inbox.StoreKey, &stored); err != nil || len(stored) != 1 {
		t.Fatalf("stored notifications=%d err=%v", len(stored), err)
	}
	if h.svc.Degraded().Degraded {
		t.Fatalf("health should recover")
	}
	if len(h.svc.Notifications()) != 1 {
		t.Fatalf("retry must not announce twice")
	}
}

func TestAddHistoryEntryKeepsEntryWhenWriteFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
	h.st.failKey(history.StoreKey, errors.New("quota exceeded"))
	e, err := h.svc.AddHistoryEntry(context.Background(), history.Input{Title: "Lixi created", Amount: "-2.0000 SUI", Direction: history.Debit})
	if err != nil || e.ID == "" {
		t.Fatalf("entry=%+v err=%v", e, err)
	}
	if !h.svc.Degraded().Degraded || len(h.svc.History()) != 1 {
		t.Fatalf("failed write should degrade and keep the entry")
	}
	if _, err := h.svc.AddHistoryEntry(context.Background(), history.Input{Direction: "sideways"}); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("err=%v want ErrInvalidDirection", err)
	}
}

func TestCorruptKeyDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	h := newHarness(t, mem, identity.Viewer{Address: "0xSENDER"})
	h.src.set(ledger.KindGiftCreated, giftCreated("0xabc", 0, "0xSENDER", ""))
	_ = h.svc.Tick(context.Background())

	_ = mem.Put(context.Background(), inbox.StoreKey, []byte("not json"))
	again := newHarness(t, mem, identity.Viewer{Address: "0xSENDER"})
	if len(again.svc.Notifications()) != 0 {
		t.Fatalf("corrupt notifications should load empty")
	}
	if len(again.svc.History()) != 1 || again.svc.SeenCount() != 1 {
		t.Fatalf("history and seen keys should still load, history=%d seen=%d", len(again.svc.History()), again.svc.SeenCount())
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	a := newHarness(t, mem, identity.Viewer{Address: "0xSENDER", Email: "me@x.com"})
	a.src.set(ledger.KindGiftCreated,
		giftCreated("0x1", 0, "0xSENDER", "me@x.com"),
		giftCreated("0x2", 0, "0xother", "me@x.com"),
	)
	_ = a.svc.Tick(context.Background())
	a.svc.AddNotification(context.Background(), inbox.Input{Kind: inbox.KindLixiCreated, TxDigest: "0x3", TimestampMs: 5})
	if _, err := a.svc.AddHistoryEntry(context.Background(), history.Input{Title: "Lixi created", Amount: "-2.0000 SUI", Direction: history.Debit, TimestampMs: 5}); err != nil {
		t.Fatalf("add history: %v", err)
	}
	if !a.svc.MarkRead(context.Background(), a.svc.Notifications()[0].ID) {
		t.Fatalf("mark read failed")
	}

	b := newHarness(t, mem, identity.Viewer{})
	if !reflect.DeepEqual(a.svc.Notifications(), b.svc.Notifications()) {
		t.Fatalf("notifications differ after reload")
	}
	if !reflect.DeepEqual(a.svc.History(), b.svc.History()) {
		t.Fatalf("history differs after reload")
	}
	if !reflect.DeepEqual(a.svc.seen.Keys(), b.svc.seen.Keys()) {
		t.Fatalf("seen keys differ after reload")
	}
}

func TestSelfGiftFanOutThroughTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xME", Email: "me@x.com"})
	h.src.set(ledger.KindGiftOpened, ledger.Event{
		TxDigest:    "0xself",
		TimestampMs: 10,
		Payload:     map[string]any{"sender": "0xME", "recipient_email": "me@x.com", "amount": "1000000000"},
	})
	_ = h.svc.Tick(context.Background())
	if len(h.svc.Notifications()) != 2 || len(h.svc.History()) != 2 {
		t.Fatalf("self gift should fan out, notifications=%d history=%d", len(h.svc.Notifications()), len(h.svc.History()))
	}
	tot := h.svc.Totals()
	if tot.Debit != "1.0000" || tot.Credit != "1.0000" || tot.Net != "0.0000" {
		t.Fatalf("totals=%+v", tot)
	}
}

func TestUnknownAndDigestlessEventsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
	h.src.set(ledger.KindGiftCreated, giftCreated("", 0, "0xSENDER", ""))
	h.src.mu.Lock()
	h.src.events[tagFor(ledger.KindLixiLocked)] = []ledger.Event{{TypeTag: "0xpkg::sui_lixi::Mystery", TxDigest: "0xm"}}
	h.src.mu.Unlock()

	_ = h.svc.Tick(context.Background())
	if len(h.svc.Notifications()) != 0 {
		t.Fatalf("nothing should be announced")
	}
	if got := h.svc.LastTick().Ignored; got != 2 {
		t.Fatalf("ignored=%d want 2", got)
	}
}

func TestPublishesBusEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
	ch, unsub := h.bus.Subscribe(16, eventbus.NotificationAdded, eventbus.EventSuppressed)
	defer unsub()

	h.src.set(ledger.KindGiftCreated, giftCreated("0xabc", 0, "0xSENDER", ""))
	_ = h.svc.Tick(context.Background())
	_ = h.svc.Tick(context.Background())

	var topics []eventbus.Topic
	for len(ch) > 0 {
		topics = append(topics, (<-ch).Topic)
	}
	want := []eventbus.Topic{eventbus.NotificationAdded, eventbus.EventSuppressed}
	if !reflect.DeepEqual(topics, want) {
		t.Fatalf("topics=%v want %v", topics, want)
	}
}

func TestAddHistoryEntryValidatesDirection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xME"})
	if _, err := h.svc.AddHistoryEntry(context.Background(), history.Input{Direction: "sideways"}); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestConcurrentOptimisticAndPollYieldOneNotification(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
		h.src.set(ledger.KindGiftCreated, giftCreated("0xrace", 0, "0xSENDER", ""))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = h.svc.Tick(context.Background())
		}()
		go func() {
			defer wg.Done()
			h.svc.AddNotification(context.Background(), inbox.Input{Kind: inbox.KindGiftSent, TxDigest: "0xrace"})
		}()
		wg.Wait()

		// Whichever side won, one notification and later polls add none.
		_ = h.svc.Tick(context.Background())
		if n := len(h.svc.Notifications()); n != 1 {
			t.Fatalf("iteration %d: notifications=%d want 1", i, n)
		}
	}
}

func TestOptimisticAfterPollIsSuppressed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.NewMemory(), identity.Viewer{Address: "0xSENDER"})
	h.src.set(ledger.KindGiftCreated, giftCreated("0xabc", 0, "0xSENDER", ""))
	_ = h.svc.Tick(context.Background())

	if _, added := h.svc.AddNotification(context.Background(), inbox.Input{Kind: inbox.KindGiftSent, TxDigest: "0xabc"}); added {
		t.Fatalf("transaction already announced by the poll")
	}
	if _, added := h.svc.AddNotification(context.Background(), inbox.Input{Kind: inbox.KindLixiLocked}); !added {
		t.Fatalf("notification without digest should always be added")
	}
	if got := len(h.svc.Notifications()); got != 2 {
		t.Fatalf("notifications=%d want 2", got)
	}
}
