// Package storage keeps a journal of threshold alerts.
package storage

import (
	"context"
	"time"

	"edgerelay/internal/alerts"
	"edgerelay/internal/models"
)

// AlertRecord is one journal row.
type AlertRecord struct {
	ID          string
	Device      string
	Timestamp   int64
	Temperature float64
	Pressure    float64
	Humidity    float64
	Annotations models.Annotations
	ReceivedAt  time.Time
}

// Journal persists alerts raised for forwarded messages.
type Journal interface {
	Record(ctx context.Context, envelope *models.Envelope, m *models.Measurement, res alerts.Result) error
	Close() error
}

// NewRecord builds the row written for an alert.
func NewRecord(envelope *models.Envelope, m *models.Measurement, res alerts.Result) AlertRecord {
	rec := AlertRecord{
		ID:          envelope.ID,
		Device:      envelope.Device,
		Annotations: res.Annotations.Clone(),
		ReceivedAt:  envelope.ReceivedAt,
	}
	if m != nil {
		rec.Timestamp = m.Timestamp
		rec.Temperature = m.Temperature
		rec.Pressure = m.Pressure
		rec.Humidity = m.Humidity
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	return rec
}

type noopJournal struct{}

// NewNoop returns a journal that discards everything.
func NewNoop() Journal { return noopJournal{} }

func (noopJournal) Record(context.Context, *models.Envelope, *models.Measurement, alerts.Result) error {
	return nil
}

func (noopJournal) Close() error { return nil }

// Open returns a Postgres journal for dsn, or a no-op journal when dsn is empty.
func Open(ctx context.Context, dsn string) (Journal, error) {
	if dsn == "" {
		return NewNoop(), nil
	}
	return NewPostgres(ctx, dsn)
}
