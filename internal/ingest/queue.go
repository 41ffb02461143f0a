package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"example.com/sitepulse/internal/domain"
	"example.com/sitepulse/internal/telemetry"
)

// QueueConfig sizes the pixel queue.
type QueueConfig struct {
	MaxSize      int
	Workers      int
	BatchMaxSize int
	BatchMaxWait time.Duration
	WriteTimeout time.Duration
}

// Queue decouples pixel responses from enrichment and storage. Requests
// are enriched by a worker pool and written in batches; failures are only
// logged.
type Queue struct {
	ingestor *Ingestor
	store    domain.EventStore
	requests chan TrackRequest
	cfg      QueueConfig
	log      *slog.Logger
	metrics  *telemetry.Metrics
	done     chan struct{}
}

func NewQueue(ig *Ingestor, store domain.EventStore, cfg QueueConfig, log *slog.Logger, m *telemetry.Metrics) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 100
	}
	if cfg.BatchMaxWait <= 0 {
		cfg.BatchMaxWait = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		ingestor: ig,
		store:    store,
		requests: make(chan TrackRequest, cfg.MaxSize),
		cfg:      cfg,
		log:      log,
		metrics:  m,
		done:     make(chan struct{}),
	}
}

// Enqueue never blocks; it reports false when the queue is full.
func (q *Queue) Enqueue(req TrackRequest) bool {
	select {
	case q.requests <- req:
		return true
	default:
		q.metrics.PixelEvent(OutcomeDropped)
		return false
	}
}

// Start launches the workers and the batch writer. When ctx is cancelled
// the workers stop, the pending batch is flushed and Wait returns.
func (q *Queue) Start(ctx context.Context) {
	events := make(chan domain.Event, q.cfg.BatchMaxSize)
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, events)
		}()
	}
	go func() {
		wg.Wait()
		close(events)
	}()
	go func() {
		defer close(q.done)
		q.flushLoop(events)
	}()
}

// Wait blocks until the final flush after shutdown.
func (q *Queue) Wait() { <-q.done }

func (q *Queue) work(ctx context.Context, out chan<- domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.requests:
			ev, err := q.ingestor.Build(ctx, req)
			switch {
			case err != nil:
				q.metrics.PixelEvent(outcomeOf(err))
				q.log.Debug("pixel event rejected", "domain", req.Domain, "error", err)
				continue
			case ev == nil:
				q.metrics.PixelEvent(OutcomeBot)
				continue
			}
			out <- *ev
		}
	}
}

func (q *Queue) flushLoop(events <-chan domain.Event) {
	batch := make([]domain.Event, 0, q.cfg.BatchMaxSize)
	t := time.NewTimer(q.cfg.BatchMaxWait)
	defer t.Stop()

	resetTimer := func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(q.cfg.BatchMaxWait)
	}

	flush := func() {
		if len(batch) == 0 {
			resetTimer()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), q.cfg.WriteTimeout)
		affected, err := q.store.CreateEvents(ctx, batch)
		cancel()
		if err != nil {
			q.metrics.BatchFlush("error")
			q.metrics.PixelEvents(OutcomeStorage, len(batch))
			q.log.Error("pixel batch insert failed", "dropped", len(batch), "error", err)
		} else {
			q.metrics.BatchFlush("ok")
			q.metrics.PixelEvents(OutcomePersisted, len(batch))
			q.log.Debug("pixel batch inserted", "inserted", affected, "size", len(batch))
		}
		batch = batch[:0]
		resetTimer()
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= q.cfg.BatchMaxSize {
				flush()
			}
		case <-t.C:
			flush()
		}
	}
}
