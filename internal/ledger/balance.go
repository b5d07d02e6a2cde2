package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultCoinType   = "0x2::sui::SUI"
	DefaultBalanceTTL = 15 * time.Second
)

var ErrNoOwner = errors.New("balance owner is empty")

type Balance struct {
	Owner     string    `json:"owner"`
	CoinType  string    `json:"coinType"`
	Raw       string    `json:"raw"`
	Display   string    `json:"display"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// BalanceCache serves wallet balances from a short TTL cache so every UI
// read doesn't turn into a node round trip.
type BalanceCache struct {
	reader   BalanceReader
	coinType string
	cache    *cache.Cache
}

func NewBalanceCache(reader BalanceReader, coinType string, ttl time.Duration) *BalanceCache {
	if strings.TrimSpace(coinType) == "" {
		coinType = DefaultCoinType
	}
	if ttl <= 0 {
		ttl = DefaultBalanceTTL
	}
	return &BalanceCache{
		reader:   reader,
		coinType: coinType,
		cache:    cache.New(ttl, 2*ttl),
	}
}

func (b *BalanceCache) Get(ctx context.Context, owner string) (Balance, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Balance{}, ErrNoOwner
	}
	if v, ok := b.cache.Get(owner); ok {
		if bal, ok := v.(Balance); ok {
			return bal, nil
		}
	}
	raw, err := b.reader.Balance(ctx, owner, b.coinType)
	if err != nil {
		return Balance{}, err
	}
	bal := Balance{
		Owner:     owner,
		CoinType:  b.coinType,
		Raw:       raw,
		Display:   FormatUnits(raw),
		FetchedAt: time.Now(),
	}
	b.cache.Set(owner, bal, cache.DefaultExpiration)
	return bal, nil
}

// Invalidate drops a cached balance, e.g. after a local transaction.
func (b *BalanceCache) Invalidate(owner string) {
	b.cache.Delete(strings.TrimSpace(owner))
}
