package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
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

// Reconciler is the part of reconcile.Service the API serves.
type Reconciler interface {
	AddNotification(ctx context.Context, in inbox.Input) (inbox.Notification, bool)
	AddHistoryEntry(ctx context.Context, in history.Input) (history.Entry, error)
	MarkRead(ctx context.Context, id string) bool
	MarkAllRead(ctx context.Context) int
	Notifications() []inbox.Notification
	History() []history.Entry
	Totals() history.Totals
	Unread() int
	SeenCount() int
	LastTick() reconcile.TickStats
	Degraded() reconcile.Health
}

// Session holds the current viewer.
type Session interface {
	Current() identity.Viewer
	Set(v identity.Viewer) bool
}

type Balances interface {
	Get(ctx context.Context, owner string) (ledger.Balance, error)
	Invalidate(owner string)
}

type Deps struct {
	Reconciler     Reconciler
	Session        Session
	Balances       Balances // optional
	Bus            eventbus.Bus
	Status         func() supervisor.Status // optional
	AllowedOrigins []string
	Log            logx.Logger
}

type Server struct {
	d      Deps
	log    logx.Logger
	engine *gin.Engine
	start  time.Time
}

func New(d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	s := &Server{
		d:     d,
		log:   d.Log.With(logx.String("comp", "http")),
		start: time.Now(),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.Use(cors.New(corsConfig(s.d.AllowedOrigins)))

	r.GET("/health", s.health)
	r.GET("/ws", s.stream)

	api := r.Group("/api")
	{
		api.GET("/session", s.getSession)
		api.PUT("/session", s.putSession)

		api.GET("/notifications", s.listNotifications)
		api.POST("/notifications", s.addNotification)
		api.POST("/notifications/read-all", s.markAllRead)
		api.POST("/notifications/:id/read", s.markRead)

		api.GET("/history", s.listHistory)
		api.POST("/history", s.addHistory)
		api.GET("/history/totals", s.totals)

		api.GET("/balance", s.balance)
		api.GET("/status", s.status)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	clean := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			clean = append(clean, o)
		}
	}
	if len(clean) == 0 || (len(clean) == 1 && clean[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = clean
	return cfg
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.log.Debug("request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(started)))
	}
}

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.Err(err))
		return err
	}
	s.log.Info("http api stopped", logx.String("addr", ln.Addr().String()))
	return nil
}
