package history

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"lixiwatch/internal/storage"
	logx "lixiwatch/pkg/logx"

	"github.com/google/uuid"
)

const (
	StoreKey   = "history"
	DefaultCap = 100
)

type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
	Refund Direction = "refund"
)

func (d Direction) Valid() bool {
	switch d {
	case Debit, Credit, Refund:
		return true
	}
	return false
}

// Entry is one money movement. Amount is a signed decimal with a currency
// suffix, e.g. "-1.5000 SUI".
type Entry struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Amount      string    `json:"amount"`
	Direction   Direction `json:"direction"`
	TimestampMs int64     `json:"timestampMs"`
}

type Input struct {
	Title       string    `json:"title"`
	Amount      string    `json:"amount"`
	Direction   Direction `json:"direction"`
	TimestampMs int64     `json:"timestampMs,omitempty"`
}

// Totals sums entry amounts by direction. Values are unsigned magnitudes
// except Net, which is credit + refund - debit.
type Totals struct {
	Debit  string `json:"debit"`
	Credit string `json:"credit"`
	Refund string `json:"refund"`
	Net    string `json:"net"`
	Count  int    `json:"count"`
}

type Options struct {
	Cap int
	Now func() time.Time
	Log logx.Logger
}

type Ledger struct {
	st  storage.Store
	cap int
	now func() time.Time
	log logx.Logger

	// writeMu is held from snapshot to write.
	writeMu sync.Mutex

	mu      sync.RWMutex
	entries []Entry
}

func New(st storage.Store, opt Options) *Ledger {
	if opt.Cap <= 0 {
		opt.Cap = DefaultCap
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Ledger{
		st:  st,
		cap: opt.Cap,
		now: opt.Now,
		log: opt.Log.With(logx.String("comp", "history")),
	}
}

func (l *Ledger) Load(ctx context.Context) error {
	var entries []Entry
	if _, err := storage.LoadJSON(ctx, l.st, StoreKey, &entries); err != nil {
		l.log.Warn("history unreadable, starting empty", logx.Err(err))
		l.mu.Lock()
		l.entries = nil
		l.mu.Unlock()
		return err
	}
	entries = normalize(entries, l.cap)
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Add records an entry. As with the notification inbox, the error only
// reports persistence.
func (l *Ledger) Add(ctx context.Context, in Input) (Entry, error) {
	e := Entry{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Amount:      strings.TrimSpace(in.Amount),
		Direction:   in.Direction,
		TimestampMs: in.TimestampMs,
	}
	if e.TimestampMs <= 0 {
		e.TimestampMs = l.now().UnixMilli()
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	entries := make([]Entry, 0, len(l.entries)+1)
	entries = append(entries, e)
	entries = append(entries, l.entries...)
	l.entries = normalize(entries, l.cap)
	snapshot := append([]Entry(nil), l.entries...)
	l.mu.Unlock()

	return e, l.persist(ctx, snapshot)
}

// Flush writes the current entries again.
func (l *Ledger) Flush(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	snapshot := append([]Entry(nil), l.entries...)
	l.mu.RUnlock()
	return l.persist(ctx, snapshot)
}

func (l *Ledger) persist(ctx context.Context, entries []Entry) error {
	if err := storage.SaveJSON(ctx, l.st, StoreKey, entries); err != nil {
		l.log.Error("persist history failed", logx.Err(err))
		return err
	}
	return nil
}

func (l *Ledger) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Ledger) Totals() Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()

	debit, credit, refund := new(big.Rat), new(big.Rat), new(big.Rat)
	for _, e := range l.entries {
		v := magnitude(e.Amount)
		switch e.Direction {
		case Debit:
			debit.Add(debit, v)
		case Credit:
			credit.Add(credit, v)
		case Refund:
			refund.Add(refund, v)
		}
	}
	net := new(big.Rat).Add(credit, refund)
	net.Sub(net, debit)
	return Totals{
		Debit:  debit.FloatString(4),
		Credit: credit.FloatString(4),
		Refund: refund.FloatString(4),
		Net:    net.FloatString(4),
		Count:  len(l.entries),
	}
}

// magnitude parses the leading number of "-1.5000 SUI" and drops the sign.
// Unparsable amounts count as zero.
func magnitude(amount string) *big.Rat {
	fields := strings.Fields(amount)
	if len(fields) == 0 {
		return new(big.Rat)
	}
	num := strings.TrimLeft(fields[0], "+-")
	r, ok := new(big.Rat).SetString(num)
	if !ok {
		return new(big.Rat)
	}
	return r.Abs(r)
}

func normalize(entries []Entry, max int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TimestampMs > entries[j].TimestampMs
	})
	if len(entries) > max {
		entries = entries[:max]
	}
	return entries
}
