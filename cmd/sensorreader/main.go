package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgerelay/internal/certs"
	"edgerelay/internal/config"
	"edgerelay/internal/handlers"
	"edgerelay/internal/kafka"
	"edgerelay/internal/logger"
	"edgerelay/internal/sensor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("sensorreader", os.Getenv("LOG_LEVEL"))
		logger.Logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	cfg = cfg.ForSensorReader()
	logger.Init("sensorreader", cfg.LogLevel)

	if err := run(cfg); err != nil {
		logger.Logger.Error().Err(err).Msg("sensor reader failed")
		os.Exit(1)
	}
	logger.Logger.Info().Msg("exited")
}

func run(cfg *config.Config) error {
	log := logger.WithComponent("sensorreader")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tlsCfg, err := certs.Load(cfg.TLS)
	if err != nil {
		return err
	}

	var opts []kafka.ProducerOption
	if tlsCfg != nil {
		opts = append(opts, kafka.WithTLS(tlsCfg))
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Sensor.OutputName, cfg.Kafka.Producer, opts...)
	if err != nil {
		return err
	}
	defer producer.Close()

	var source sensor.Source
	if len(cfg.Sensor.Command) > 0 {
		source = &sensor.CommandSource{Command: cfg.Sensor.Command}
	} else {
		log.Warn().Msg("no sensor command configured, using simulated readings")
		source = sensor.NewSimulatedSource(cfg.Sensor.Device, time.Now().UnixNano())
	}

	reader := sensor.NewReader(sensor.ReaderConfig{
		Source:    source,
		Publisher: producer,
		Output:    cfg.Sensor.OutputName,
		Interval:  cfg.Sensor.Interval,
	})

	methods := handlers.NewMethods()
	methods.Register(handlers.MethodSensorStatus, func(ctx context.Context, payload []byte) (any, error) {
		return reader.Status(), nil
	})

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Methods: methods,
			Health:  producer.HealthCheck,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	err = reader.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("HTTP server shutdown error")
	}
	return err
}
