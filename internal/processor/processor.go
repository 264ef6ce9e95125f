package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"edgerelay/internal/certs"
	"edgerelay/internal/config"
	"edgerelay/internal/desired"
	"edgerelay/internal/handlers"
	"edgerelay/internal/kafka"
	"edgerelay/internal/logger"
	"edgerelay/internal/models"
	"edgerelay/internal/status"
	"edgerelay/internal/storage"
	"edgerelay/internal/threshold"
	"edgerelay/internal/worker"
)

// messageSource is the inbound side of the transport.
type messageSource interface {
	Start(ctx context.Context, sink kafka.Submitter) error
	Ack(ctx context.Context, d models.Delivery) error
	Stop() error
}

// outputSink is the outbound side of the transport.
type outputSink interface {
	Publisher
	HealthCheck(ctx context.Context) error
	Stats() kafka.ProducerStats
	Close() error
}

// Processor is the high-level coordinator: it keeps thresholds in sync with
// the desired properties, runs inbound messages through the Handler and
// serves the status method.
type Processor struct {
	cfg           *config.Config
	store         *threshold.Store
	thresholdSync *threshold.Sync
	reporter      *status.Reporter

	producer outputSink
	consumer messageSource
	desired  desired.Source
	journal  storage.Journal

	workerPool *worker.Pool
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	store := threshold.NewStore()
	return &Processor{
		cfg:           cfg,
		store:         store,
		thresholdSync: threshold.NewSync(store),
		reporter:      status.NewReporter(),
	}
}

// Run connects to the brokers and blocks until ctx is cancelled. A
// certificate problem is returned wrapped in certs.ErrCertificate.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	if err := p.connect(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		p.closeAll()
		return err
	}
	return p.run(ctx)
}

// connect builds the external clients.
func (p *Processor) connect(ctx context.Context) error {
	log := logger.WithComponent("processor")

	tlsCfg, err := certs.Load(p.cfg.TLS)
	if err != nil {
		return err
	}

	var producerOpts []kafka.ProducerOption
	var consumerOpts []kafka.ConsumerOption
	if tlsCfg != nil {
		producerOpts = append(producerOpts, kafka.WithTLS(tlsCfg))
		consumerOpts = append(consumerOpts, kafka.WithReaderTLS(tlsCfg))
	}

	producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.OutputName, p.cfg.Kafka.Producer, producerOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}
	p.producer = producer
	log.Info().
		Strs("brokers", p.cfg.Kafka.Brokers).
		Str("output", p.cfg.Kafka.OutputName).
		Msg("kafka producer initialized")

	consumer, err := kafka.NewConsumer(p.cfg.Kafka.Brokers, p.cfg.Kafka.InputName, p.cfg.Kafka.Consumer, consumerOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}
	p.consumer = consumer

	journal, err := storage.Open(ctx, p.cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("failed to open alert journal: %w", err)
	}
	p.journal = journal

	source, err := desired.New(ctx, p.cfg.Desired, tlsCfg)
	if err != nil {
		return fmt.Errorf("failed to connect desired properties source: %w", err)
	}
	p.desired = source
	log.Info().Str("backend", p.cfg.Desired.Backend).Msg("desired properties source connected")

	return nil
}

// run starts every component and blocks until ctx is cancelled.
func (p *Processor) run(ctx context.Context) error {
	log := logger.WithComponent("processor")

	// Thresholds are loaded before the first message is read.
	p.loadDesired(ctx)

	handler := NewHandler(HandlerConfig{
		Store:     p.store,
		Publisher: p.producer,
		Output:    p.cfg.Kafka.OutputName,
		Recorder:  p.journal,
	})

	p.workerPool = worker.NewPool(worker.Config{
		Handler:    handler,
		Acker:      p.consumer,
		Workers:    p.cfg.Kafka.Consumer.Workers,
		Backoff:    p.cfg.Kafka.Consumer.RedeliveryBackoff,
		MaxBackoff: p.cfg.Kafka.Consumer.MaxRedeliveryBackoff,
	})
	p.workerPool.Start()

	if err := p.startHTTPServer(); err != nil {
		p.workerPool.Stop()
		p.closeAll()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watchDesired(runCtx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.consumer.Start(runCtx, p.workerPool); err != nil {
			log.Error().Err(err).Msg("consumer stopped")
			cancel()
		}
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(runCtx)
	}()

	log.Info().
		Str("input", p.cfg.Kafka.InputName).
		Str("output", p.cfg.Kafka.OutputName).
		Msg("processor running")

	<-runCtx.Done()
	log.Info().Msg("shutdown signal received")

	return p.shutdown()
}

// loadDesired applies the current desired properties once. A failed fetch
// leaves the thresholds unset.
func (p *Processor) loadDesired(ctx context.Context) {
	log := logger.WithComponent("processor")

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	props, err := p.desired.Fetch(fetchCtx)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch desired properties, starting without thresholds")
		return
	}
	p.thresholdSync.ApplyDesiredProperties("startup", props)
}

// watchDesired applies every pushed document until ctx is cancelled,
// re-subscribing after errors.
func (p *Processor) watchDesired(ctx context.Context) {
	log := logger.WithComponent("processor")
	backoff := time.Second

	for {
		err := p.desired.Watch(ctx, func(props map[string]any) {
			p.thresholdSync.ApplyDesiredProperties("push", props)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error().Err(err).Dur("backoff", backoff).Msg("desired properties watch failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// startHTTPServer serves the direct methods, health and metrics.
func (p *Processor) startHTTPServer() error {
	log := logger.WithComponent("processor")

	methods := handlers.NewMethods()
	methods.Register(handlers.MethodMiddlewareStatus, func(ctx context.Context, payload []byte) (any, error) {
		return p.reporter.Snapshot(), nil
	})

	p.httpServer = &http.Server{
		Addr: p.cfg.HTTPAddr,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Methods: methods,
			Health:  p.producer.HealthCheck,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", p.cfg.HTTPAddr)
	if err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Thresholds returns the currently active threshold set.
func (p *Processor) Thresholds() threshold.Set {
	return p.store.Read()
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Let the consumer and watcher goroutines return
	p.wg.Wait()

	// 3. Drain workers; unfinished deliveries stay uncommitted
	p.workerPool.Stop()

	// 4. Close clients
	p.closeAll()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

func (p *Processor) closeAll() {
	log := logger.WithComponent("processor")

	if p.consumer != nil {
		if err := p.consumer.Stop(); err != nil {
			log.Error().Err(err).Msg("consumer close error")
		}
	}
	if p.desired != nil {
		if err := p.desired.Close(); err != nil {
			log.Error().Err(err).Msg("desired source close error")
		}
	}
	if p.journal != nil {
		if err := p.journal.Close(); err != nil {
			log.Error().Err(err).Msg("journal close error")
		}
	}
	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workerStats := p.workerPool.Stats()
			producerStats := p.producer.Stats()

			log.Info().
				Uint64("completed", workerStats.Completed).
				Uint64("abandoned", workerStats.Abandoned).
				Uint64("redelivered", workerStats.Redelivered).
				Uint64("producer_sent", producerStats.MessagesSent).
				Uint64("producer_failed", producerStats.MessagesFailed).
				Uint64("producer_bytes", producerStats.BytesWritten).
				Msg("stats")
		}
	}
}
