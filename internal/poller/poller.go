package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "lixiwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

// MinInterval guards against a zero or negative interval spinning the loop.
const MinInterval = 10 * time.Millisecond

// TickFunc is one poll cycle. Its error is logged; it never stops the loop.
type TickFunc func(ctx context.Context) error

// constantDelay fires every d after the previous activation. Unlike
// cron.Every it is not rounded to whole seconds.
type constantDelay struct {
	d time.Duration
}

func (s constantDelay) Next(t time.Time) time.Time { return t.Add(s.d) }

// Handle controls one running loop.
type Handle struct {
	c     *cron.Cron
	first sync.WaitGroup
	log   logx.Logger

	runs    atomic.Int64
	skipped atomic.Int64
	running atomic.Bool

	once    sync.Once
	stopped chan struct{}
	done    chan struct{}
}

// Start runs onTick right away and then every interval until Cancel is
// called or ctx is done. ctx is also handed to every tick.
func Start(ctx context.Context, interval time.Duration, onTick TickFunc, log logx.Logger) *Handle {
	if interval < MinInterval {
		interval = MinInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "poller"))

	h := &Handle{
		log:     log,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	clog := cronLogger{log: log}
	h.c = cron.New(cron.WithLogger(clog))

	job := cron.NewChain(cron.Recover(clog), h.skipIfRunning()).Then(cron.FuncJob(func() {
		h.runs.Add(1)
		started := time.Now()
		if err := onTick(ctx); err != nil {
			log.Warn("tick failed", logx.Err(err), logx.Duration("took", time.Since(started)))
			return
		}
		log.Debug("tick done", logx.Duration("took", time.Since(started)))
	}))

	h.c.Schedule(constantDelay{d: interval}, job)
	h.c.Start()

	h.first.Add(1)
	go func() {
		defer h.first.Done()
		job.Run()
	}()

	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.stopped:
		}
	}()

	log.Info("started", logx.Duration("interval", interval))
	return h
}

// skipIfRunning drops a due tick while the previous one is in flight. It
// plays the role of cron.SkipIfStillRunning but also counts the skips.
func (h *Handle) skipIfRunning() cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			if !h.running.CompareAndSwap(false, true) {
				h.skipped.Add(1)
				h.log.Debug("tick skipped, previous still running")
				return
			}
			defer h.running.Store(false)
			j.Run()
		})
	}
}

// Cancel stops future ticks. A tick already running is left to finish;
// use Wait to block until it has.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		close(h.stopped)
		stopCtx := h.c.Stop()
		go func() {
			<-stopCtx.Done()
			h.first.Wait()
			close(h.done)
			h.log.Info("stopped", logx.Int64("runs", h.runs.Load()), logx.Int64("skipped", h.skipped.Load()))
		}()
	})
}

// Wait blocks until the loop has been cancelled and any in-flight tick has
// returned, or until ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the loop is fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Runs() int64    { return h.runs.Load() }
func (h *Handle) Skipped() int64 { return h.skipped.Load() }

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
