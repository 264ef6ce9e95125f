package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"edgerelay/internal/logger"
	"edgerelay/internal/metrics"
	"edgerelay/internal/models"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool is stopped")

// Handler processes one delivery.
type Handler interface {
	Handle(ctx context.Context, d models.Delivery) models.Outcome
}

// Acker acknowledges a completed delivery to the transport.
type Acker interface {
	Ack(ctx context.Context, d models.Delivery) error
}

// Pool runs deliveries through a Handler on a fixed set of workers. All
// deliveries of one partition go to the same worker, so they are handled
// and acknowledged in arrival order. An abandoned delivery is handed to the
// handler again, with backoff, until it completes or the pool stops.
type Pool struct {
	handler Handler
	acker   Acker
	queues  []chan models.Delivery

	backoff      time.Duration
	maxBackoff   time.Duration
	drainTimeout time.Duration

	mu       sync.RWMutex
	stopped  bool
	quit     chan struct{}
	quitOnce sync.Once

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	completed   atomic.Uint64
	abandoned   atomic.Uint64
	redelivered atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Handler   Handler
	Acker     Acker
	Workers   int
	QueueSize int

	// Wait before the first redelivery, doubled up to MaxBackoff
	Backoff    time.Duration
	MaxBackoff time.Duration

	// How long Stop waits for queued deliveries before cancelling them
	DrainTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	queues := make([]chan models.Delivery, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan models.Delivery, cfg.QueueSize)
	}

	return &Pool{
		handler:      cfg.Handler,
		acker:        cfg.Acker,
		queues:       queues,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		drainTimeout: cfg.DrainTimeout,
		quit:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing deliveries
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", len(p.queues)).
		Dur("backoff", p.backoff).
		Dur("max_backoff", p.maxBackoff).
		Msg("starting worker pool")

	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues a delivery on the worker owning its partition. It blocks
// while that worker's queue is full.
func (p *Pool) Submit(ctx context.Context, d models.Delivery) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	idx := p.route(d)
	select {
	case p.queues[idx] <- d:
		metrics.WorkerQueueSize.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(p.queues[idx])))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

func (p *Pool) route(d models.Delivery) int {
	n := len(p.queues)
	idx := d.Partition % n
	if idx < 0 {
		idx += n
	}
	return idx
}

// Stop closes the queues and waits for workers to drain them. Deliveries
// still pending after the drain timeout are left unacknowledged.
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")

	// Release submitters blocked on a full queue before taking the lock.
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	log.Info().Msg("stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.drainTimeout):
		log.Warn().Dur("timeout", p.drainTimeout).Msg("drain timeout, cancelling pending deliveries")
		p.cancel()
		<-done
	}
	p.cancel()

	log.Info().Msg("worker pool stopped")
}

// worker processes deliveries from its queue
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	log.Info().Msg("worker started")
	defer log.Info().Msg("worker stopped")

	label := strconv.Itoa(id)
	for d := range p.queues[id] {
		metrics.WorkerQueueSize.WithLabelValues(label).Set(float64(len(p.queues[id])))
		if p.ctx.Err() != nil {
			continue // cancelled: leave unacknowledged for redelivery
		}
		p.process(d)
	}
}

// process hands d to the handler until it completes, then acknowledges it.
func (p *Pool) process(d models.Delivery) {
	log := logger.WithMessage("worker", d.Partition, d.Offset)
	backoff := p.backoff

	for attempt := 1; ; attempt++ {
		outcome := p.handle(d)
		if outcome == models.Completed {
			p.completed.Add(1)
			if p.acker != nil {
				if err := p.acker.Ack(p.ctx, d); err != nil {
					log.Error().Err(err).Msg("failed to acknowledge completed message")
				}
			}
			return
		}

		p.abandoned.Add(1)
		log.Warn().
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("message abandoned, redelivering")

		select {
		case <-time.After(backoff):
		case <-p.ctx.Done():
			return
		}

		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
		p.redelivered.Add(1)
		metrics.RedeliveriesTotal.Inc()
	}
}

// handle calls the handler, turning a panic into an abandonment.
func (p *Pool) handle(d models.Delivery) (outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.WithComponent("worker")
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			outcome = models.Abandoned
		}
	}()
	return p.handler.Handle(p.ctx, d)
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Completed:   p.completed.Load(),
		Abandoned:   p.abandoned.Load(),
		Redelivered: p.redelivered.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Completed   uint64
	Abandoned   uint64
	Redelivered uint64
}
