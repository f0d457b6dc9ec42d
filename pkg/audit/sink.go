package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

// Sink accepts audit events without blocking or failing the request path.
// Events are queued onto a bounded channel and drained by worker goroutines
// that perform the durable write and an independent structured log write.
// The two writes are not transactional: a failed durable write is counted
// and logged, never propagated. When the queue is full the event is dropped
// and counted; audit completeness is a compliance goal, not a correctness
// precondition for serving responses.
type Sink struct {
	store        *Store
	logger       *slog.Logger
	queue        chan event
	writeTimeout time.Duration
	wg           sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
	closing sync.Once
}

type event struct {
	access *models.AccessEvent
	usage  *models.UsageEvent
}

// NewSink starts the worker pool. A nil store disables durable writes; the
// structured log write still happens (log-only degradation).
func NewSink(store *Store, cfg models.AuditConfig, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}

	s := &Sink{
		store:        store,
		logger:       logger,
		queue:        make(chan event, queueSize),
		writeTimeout: writeTimeout,
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// EmitAccess queues an access event. Fire-and-forget: never blocks, never
// returns an error. Missing ID and timestamp are filled in.
func (s *Sink) EmitAccess(ev models.AccessEvent) {
	stampAccess(&ev)
	s.enqueue(event{access: &ev})
}

// EmitUsage queues a usage event. Fire-and-forget, same contract as
// EmitAccess.
func (s *Sink) EmitUsage(ev models.UsageEvent) {
	stampUsage(&ev)
	s.enqueue(event{usage: &ev})
}

func (s *Sink) enqueue(ev event) {
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		s.logger.Error("audit queue full, event dropped", "dropped_total", s.dropped.Load())
	}
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for ev := range s.queue {
		s.process(ev)
	}
}

func (s *Sink) process(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	switch {
	case ev.access != nil:
		a := *ev.access
		s.logger.Info("audit access",
			"event_id", a.ID,
			"caller", a.Caller,
			"endpoint", a.Endpoint,
			"source_addr", a.SourceAddr,
			"authorized", a.Authorized,
		)
		if s.store == nil {
			return
		}
		if err := s.store.WriteAccess(ctx, a); err != nil {
			s.failed.Add(1)
			s.logger.Error("audit access write failed", "event_id", a.ID, "error", err)
		}
	case ev.usage != nil:
		u := *ev.usage
		s.logger.Info("audit usage",
			"event_id", u.ID,
			"caller", u.Caller,
			"vin_suffix", u.VINSuffix,
			"subsystem", u.Subsystem,
			"cache_served", u.CacheServed,
		)
		if s.store == nil {
			return
		}
		if err := s.store.WriteUsage(ctx, u); err != nil {
			s.failed.Add(1)
			s.logger.Error("audit usage write failed", "event_id", u.ID, "error", err)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Failed returns how many durable writes failed.
func (s *Sink) Failed() int64 { return s.failed.Load() }

// Close stops accepting events and waits for the queue to drain. Safe to
// call more than once.
func (s *Sink) Close() {
	s.closing.Do(func() {
		close(s.queue)
		s.wg.Wait()
	})
}

func stampAccess(ev *models.AccessEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Caller == "" {
		ev.Caller = models.AnonymousCaller
	}
}

func stampUsage(ev *models.UsageEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Caller == "" {
		ev.Caller = models.AnonymousCaller
	}
}
