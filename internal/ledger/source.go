package ledger

import (
	"context"
	"time"

	logx "lixiwatch/pkg/logx"
)

// DefaultQueryLimit is how many recent events are requested per type tag.
const DefaultQueryLimit = 20

// Source fetches the most recent events for a set of type tags.
type Source struct {
	client Client
	limit  int
	log    logx.Logger
}

func NewSource(client Client, limit int, log logx.Logger) *Source {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{client: client, limit: limit, log: log}
}

// FetchRecent issues one descending query per tag. A failing tag is logged
// and left out of the result; the next poll retries it. Cancellation stops
// the loop and returns what was fetched so far.
func (s *Source) FetchRecent(ctx context.Context, tags []string) map[string][]Event {
	out := make(map[string][]Event, len(tags))
	if s == nil || s.client == nil {
		return out
	}
	for _, tag := range tags {
		if ctx.Err() != nil {
			break
		}
		started := time.Now()
		events, err := s.client.QueryEvents(ctx, tag, s.limit, true)
		if err != nil {
			s.log.Warn("event query failed", logx.String("type", tag), logx.Err(err))
			continue
		}
		for i := range events {
			if events[i].TypeTag == "" {
				events[i].TypeTag = tag
			}
			if events[i].Kind == KindUnknown {
				events[i].Kind = ParseKind(events[i].TypeTag)
			}
		}
		s.log.Debug("events fetched", logx.String("type", tag), logx.Int("count", len(events)), logx.Duration("took", time.Since(started)))
		out[tag] = events
	}
	return out
}
