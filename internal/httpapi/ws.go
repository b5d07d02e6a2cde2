package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"lixiwatch/internal/eventbus"
	logx "lixiwatch/pkg/logx"
)

const (
	wsBuffer       = 32
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

var streamTopics = map[string]eventbus.Topic{
	string(eventbus.NotificationAdded): eventbus.NotificationAdded,
	string(eventbus.HistoryAdded):      eventbus.HistoryAdded,
	string(eventbus.EventSuppressed):   eventbus.EventSuppressed,
	string(eventbus.TickCompleted):     eventbus.TickCompleted,
	string(eventbus.StorageDegraded):   eventbus.StorageDegraded,
	string(eventbus.ViewerChanged):     eventbus.ViewerChanged,
}

// parseTopics reads ?topics=a,b. Unknown names are ignored; nothing valid
// means notifications only.
func parseTopics(raw string) []eventbus.Topic {
	var out []eventbus.Topic
	for _, name := range strings.Split(raw, ",") {
		if t, ok := streamTopics[strings.TrimSpace(name)]; ok {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = []eventbus.Topic{eventbus.NotificationAdded}
	}
	return out
}

// stream pushes bus events to a websocket client as JSON until either side
// goes away. Messages from the client are discarded.
func (s *Server) stream(c *gin.Context) {
	opts := &websocket.AcceptOptions{}
	if origins := s.d.AllowedOrigins; len(origins) > 0 {
		opts.OriginPatterns = origins
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		s.log.Debug("websocket accept failed", logx.Err(err))
		return
	}
	defer conn.CloseNow()

	topics := parseTopics(c.Query("topics"))
	events, unsubscribe := s.d.Bus.Subscribe(wsBuffer, topics...)
	defer unsubscribe()

	ctx := conn.CloseRead(c.Request.Context())
	s.log.Debug("websocket client connected", logx.Int("topics", len(topics)))

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "")
				return
			}
			if err := s.write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Debug("websocket write failed", logx.Err(err))
				}
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, ev eventbus.Event) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
