package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgerelay/internal/alerts"
	"edgerelay/internal/models"
	"edgerelay/internal/threshold"
)

func sampleAlert(t *testing.T) (*models.Envelope, *models.Measurement, alerts.Result) {
	t.Helper()
	m := &models.Measurement{Timestamp: 1700000000, Device: "bme280", Temperature: 40, Pressure: 1000, Humidity: 50}
	res := alerts.Evaluate(m, threshold.Set{}.With(threshold.MaxTemperature, threshold.At(35)))
	require.True(t, res.Violated)

	env := models.NewEnvelope("middlewareoutput", models.Delivery{Payload: []byte(`{}`)})
	env.Device = m.Device
	env.Annotate(res.Annotations...)
	return env, m, res
}

func TestNewRecord(t *testing.T) {
	env, m, res := sampleAlert(t)

	rec := NewRecord(env, m, res)

	assert.Equal(t, env.ID, rec.ID)
	assert.Equal(t, "bme280", rec.Device)
	assert.Equal(t, int64(1700000000), rec.Timestamp)
	assert.Equal(t, 40.0, rec.Temperature)
	assert.Equal(t, res.Annotations, rec.Annotations)
	assert.False(t, rec.ReceivedAt.IsZero())

	// the record owns its annotations
	rec.Annotations[0].Value = "changed"
	assert.NotEqual(t, "changed", res.Annotations[0].Value)
}

func TestAnnotationsJSONKeepsOrderAndDuplicates(t *testing.T) {
	got, err := annotationsJSON(models.Annotations{{Key: "b", Value: "1"}, {Key: "a", Value: "2"}, {Key: "b", Value: "3"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"key":"b","value":"1"},{"key":"a","value":"2"},{"key":"b","value":"3"}]`, string(got))

	empty, err := annotationsJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestOpenWithoutDSNIsNoop(t *testing.T) {
	j, err := Open(context.Background(), "")
	require.NoError(t, err)
	env, m, res := sampleAlert(t)
	assert.NoError(t, j.Record(context.Background(), env, m, res))
	assert.NoError(t, j.Close())
}

func TestPostgresRecord(t *testing.T) {
	dsn := os.Getenv("ALERT_JOURNAL_DSN")
	if os.Getenv("PG_TEST") != "1" || dsn == "" {
		t.Skip("Skipping Postgres integration test. Set PG_TEST=1 and ALERT_JOURNAL_DSN to run.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	journal, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	defer journal.Close()

	env, m, res := sampleAlert(t)
	require.NoError(t, journal.Record(ctx, env, m, res))
	require.NoError(t, journal.Record(ctx, env, m, res))

	var count int
	require.NoError(t, journal.pool.QueryRow(ctx, `SELECT count(*) FROM threshold_alerts WHERE id = $1`, env.ID).Scan(&count))
	assert.Equal(t, 1, count)
}
