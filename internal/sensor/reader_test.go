package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgerelay/internal/models"
)

type scriptedSource struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	raw string
	err error
}

func (s *scriptedSource) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[s.calls%len(s.results)]
	s.calls++
	return []byte(r.raw), r.err
}

type mockPublisher struct {
	mu         sync.Mutex
	sent       []*models.Envelope
	failFirst  int
	sendErrors int
}

func (m *mockPublisher) Publish(ctx context.Context, envelope *models.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErrors < m.failFirst {
		m.sendErrors++
		return errors.New("output unavailable")
	}
	m.sent = append(m.sent, envelope)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

const reading = `{"timestamp":1700000000,"device":"bme280","temperature":22.5,"pressure":1012.3,"humidity":41}`

func TestReadAndSendPublishesRawBytes(t *testing.T) {
	pub := &mockPublisher{}
	r := NewReader(ReaderConfig{
		Source:    &scriptedSource{results: []result{{raw: reading}}},
		Publisher: pub,
		Output:    "sensor",
	})

	require.True(t, r.ReadAndSend(context.Background()))

	require.Equal(t, 1, pub.count())
	env := pub.sent[0]
	assert.Equal(t, "sensor", env.Output)
	assert.Equal(t, []byte(reading), env.Payload)
	assert.Equal(t, []byte("bme280"), env.Key)
	assert.Empty(t, env.Annotations)

	last := r.Last()
	require.NotNil(t, last)
	assert.Equal(t, 22.5, last.Temperature)
}

func TestReadAndSendContinuesAfterErrors(t *testing.T) {
	pub := &mockPublisher{failFirst: 1}
	src := &scriptedSource{results: []result{
		{err: errors.New("i2c timeout")},
		{raw: `{"temperature":`},
		{raw: ""},
		{raw: reading},
		{raw: reading},
	}}
	r := NewReader(ReaderConfig{Source: src, Publisher: pub, Output: "sensor"})

	ctx := context.Background()
	assert.False(t, r.ReadAndSend(ctx))
	assert.False(t, r.ReadAndSend(ctx))
	assert.False(t, r.ReadAndSend(ctx))
	assert.Nil(t, r.Last())

	// the reading is kept even when sending it fails
	assert.False(t, r.ReadAndSend(ctx))
	assert.NotNil(t, r.Last())

	assert.True(t, r.ReadAndSend(ctx))
	assert.Equal(t, 1, pub.count())
}

func TestRunReadsImmediatelyAndOnTick(t *testing.T) {
	pub := &mockPublisher{}
	r := NewReader(ReaderConfig{
		Source:    &scriptedSource{results: []result{{raw: reading}}},
		Publisher: pub,
		Output:    "sensor",
		Interval:  20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestReaderStatus(t *testing.T) {
	r := NewReader(ReaderConfig{
		Source:    &scriptedSource{results: []result{{raw: reading}}},
		Publisher: &mockPublisher{},
	})

	data, err := json.Marshal(r.Status())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "device")

	r.ReadAndSend(context.Background())

	var body map[string]any
	data, err = json.Marshal(r.Status())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "bme280", body["device"])
	assert.Equal(t, 22.5, body["temp"])
	assert.Equal(t, 41.0, body["humidity"])
	assert.Equal(t, 1012.3, body["pressure"])
	assert.Contains(t, body, "startTime")
	assert.Contains(t, body, "uptimeSeconds")
}

func TestSimulatedSource(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)
	src := NewSimulatedSource("sim", 42)
	src.now = func() time.Time { return fixed }

	raw, err := src.Read(context.Background())
	require.NoError(t, err)

	m, err := models.DecodeMeasurement(raw)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "sim", m.Device)
	// epoch milliseconds, not seconds
	assert.Equal(t, fixed.UnixMilli(), m.Timestamp)
	assert.Greater(t, m.Timestamp, int64(1e12))
	assert.InDelta(t, 1013, m.Pressure, 100)
}

func TestCommandSource(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	src := &CommandSource{Command: []string{"sh", "-c", `printf '{"device":"cmd",\n"temperature":19}\n'`}}
	raw, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"device":"cmd","temperature":19}`, string(raw))

	_, err = (&CommandSource{Command: []string{"sh", "-c", "exit 3"}}).Read(context.Background())
	assert.Error(t, err)

	_, err = (&CommandSource{}).Read(context.Background())
	assert.Error(t, err)
}
