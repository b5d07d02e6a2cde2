package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lixiwatch/internal/eventbus"
	"lixiwatch/internal/history"
	"lixiwatch/internal/identity"
	"lixiwatch/internal/inbox"
	"lixiwatch/internal/ledger"
	"lixiwatch/internal/reconcile"
	"lixiwatch/internal/runtime/supervisor"
	logx "lixiwatch/pkg/logx"
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) health(c *gin.Context) {
	h := s.d.Reconciler.Degraded()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"degraded": h.Degraded,
		"uptime":   time.Since(s.start).Round(time.Second).String(),
	})
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.d.Session.Current())
}

func (s *Server) putSession(c *gin.Context) {
	var v identity.Viewer
	if err := c.ShouldBindJSON(&v); err != nil {
		badRequest(c, "invalid session: "+err.Error())
		return
	}
	prev := s.d.Session.Current()
	if s.d.Session.Set(v) {
		cur := s.d.Session.Current()
		s.log.Info("viewer changed",
			logx.Bool("address_set", cur.Address != ""),
			logx.Bool("email_set", cur.Email != ""))
		if s.d.Balances != nil && prev.Address != "" {
			s.d.Balances.Invalidate(prev.Address)
		}
		s.d.Bus.Publish(eventbus.Event{Topic: eventbus.ViewerChanged, Data: cur})
	}
	c.JSON(http.StatusOK, s.d.Session.Current())
}

func (s *Server) listNotifications(c *gin.Context) {
	items := s.d.Reconciler.Notifications()
	if c.Query("unread") == "true" {
		unread := items[:0:0]
		for _, n := range items {
			if !n.Read {
				unread = append(unread, n)
			}
		}
		items = unread
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": items,
		"unread":        s.d.Reconciler.Unread(),
	})
}

type notificationRequest struct {
	Kind        inbox.Kind `json:"kind" binding:"required"`
	Title       string     `json:"title" binding:"required"`
	Message     string     `json:"message"`
	SubjectID   string     `json:"subjectId"`
	Amount      string     `json:"amount"`
	TimestampMs int64      `json:"timestampMs"`
	TxDigest    string     `json:"txDigest"`
}

// addNotification records a notification for a transaction the client just
// submitted. A transaction that was already announced yields 200 with
// added=false.
func (s *Server) addNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid notification: "+err.Error())
		return
	}
	n, added := s.d.Reconciler.AddNotification(c.Request.Context(), inbox.Input{
		Kind:        req.Kind,
		Title:       strings.TrimSpace(req.Title),
		Message:     req.Message,
		SubjectID:   req.SubjectID,
		Amount:      req.Amount,
		TimestampMs: req.TimestampMs,
		TxDigest:    strings.TrimSpace(req.TxDigest),
	})
	if !added {
		c.JSON(http.StatusOK, gin.H{"added": false})
		return
	}
	if s.d.Balances != nil {
		if v := s.d.Session.Current(); v.Address != "" {
			s.d.Balances.Invalidate(v.Address)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"added": true, "notification": n})
}

func (s *Server) markRead(c *gin.Context) {
	id := c.Param("id")
	if !s.d.Reconciler.MarkRead(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "read": true})
}

func (s *Server) markAllRead(c *gin.Context) {
	n := s.d.Reconciler.MarkAllRead(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (s *Server) listHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": s.d.Reconciler.History()})
}

type historyRequest struct {
	Title       string            `json:"title" binding:"required"`
	Amount      string            `json:"amount" binding:"required"`
	Direction   history.Direction `json:"direction" binding:"required"`
	TimestampMs int64             `json:"timestampMs"`
}

func (s *Server) addHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid history entry: "+err.Error())
		return
	}
	e, err := s.d.Reconciler.AddHistoryEntry(c.Request.Context(), history.Input{
		Title:       strings.TrimSpace(req.Title),
		Amount:      strings.TrimSpace(req.Amount),
		Direction:   history.Direction(strings.ToLower(string(req.Direction))),
		TimestampMs: req.TimestampMs,
	})
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *Server) totals(c *gin.Context) {
	c.JSON(http.StatusOK, s.d.Reconciler.Totals())
}

func (s *Server) balance(c *gin.Context) {
	if s.d.Balances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "balance lookups are disabled"})
		return
	}
	owner := strings.TrimSpace(c.Query("owner"))
	if owner == "" {
		owner = s.d.Session.Current().Address
	}
	bal, err := s.d.Balances.Get(c.Request.Context(), owner)
	switch {
	case errors.Is(err, ledger.ErrNoOwner):
		c.JSON(http.StatusConflict, gin.H{"error": "no wallet address in session"})
	case err != nil:
		s.log.Warn("balance lookup failed", logx.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "balance lookup failed"})
	default:
		c.JSON(http.StatusOK, bal)
	}
}

type statusResponse struct {
	Health        reconcile.Health    `json:"health"`
	LastTick      reconcile.TickStats `json:"lastTick"`
	Notifications int                 `json:"notifications"`
	Unread        int                 `json:"unread"`
	History       int                 `json:"history"`
	Seen          int                 `json:"seen"`
	BusDropped    uint64              `json:"busDropped"`
	Workers       *supervisor.Status  `json:"workers,omitempty"`
	Uptime        string              `json:"uptime"`
}

func (s *Server) status(c *gin.Context) {
	r := s.d.Reconciler
	resp := statusResponse{
		Health:        r.Degraded(),
		LastTick:      r.LastTick(),
		Notifications: len(r.Notifications()),
		Unread:        r.Unread(),
		History:       len(r.History()),
		Seen:          r.SeenCount(),
		BusDropped:    s.d.Bus.Dropped(),
		Uptime:        time.Since(s.start).Round(time.Second).String(),
	}
	if s.d.Status != nil {
		st := s.d.Status()
		resp.Workers = &st
	}
	c.JSON(http.StatusOK, resp)
}
