package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"edgerelay/internal/alerts"
	"edgerelay/internal/logger"
	"edgerelay/internal/metrics"
	"edgerelay/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS threshold_alerts (
	id            TEXT PRIMARY KEY,
	device        TEXT NOT NULL,
	measured_at   BIGINT NOT NULL,
	temperature   DOUBLE PRECISION NOT NULL,
	pressure      DOUBLE PRECISION NOT NULL,
	humidity      DOUBLE PRECISION NOT NULL,
	annotations   JSONB NOT NULL,
	received_at   TIMESTAMPTZ NOT NULL
)`

const insertAlert = `
INSERT INTO threshold_alerts (id, device, measured_at, temperature, pressure, humidity, annotations, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

// Postgres writes alerts to the threshold_alerts table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the table if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse journal dsn: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect journal: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	log := logger.WithComponent("journal")
	log.Info().Msg("alert journal ready")
	return &Postgres{pool: pool}, nil
}

// Record inserts one alert. Re-recording the same envelope is a no-op.
func (p *Postgres) Record(ctx context.Context, envelope *models.Envelope, m *models.Measurement, res alerts.Result) error {
	rec := NewRecord(envelope, m, res)

	annotations, err := annotationsJSON(rec.Annotations)
	if err != nil {
		metrics.JournalWritesTotal.WithLabelValues("error").Inc()
		return err
	}

	_, err = p.pool.Exec(ctx, insertAlert,
		rec.ID, rec.Device, rec.Timestamp,
		rec.Temperature, rec.Pressure, rec.Humidity,
		annotations, rec.ReceivedAt)
	if err != nil {
		metrics.JournalWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("insert alert: %w", err)
	}

	metrics.JournalWritesTotal.WithLabelValues("success").Inc()
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// annotationsJSON encodes annotations as an ordered array of key/value
// objects, duplicates included.
func annotationsJSON(a models.Annotations) ([]byte, error) {
	if a == nil {
		a = models.Annotations{}
	}
	return json.Marshal(a)
}
