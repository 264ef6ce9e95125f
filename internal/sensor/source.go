package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"sync"
	"time"

	"edgerelay/internal/models"
)

// Source produces one raw JSON measurement per call.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// CommandSource runs an external program that prints a measurement on
// stdout, such as a driver script for the sensor.
type CommandSource struct {
	Command []string
	Timeout time.Duration
}

// Read runs the command and returns its output with line breaks removed.
func (s *CommandSource) Read(ctx context.Context) ([]byte, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("sensor command is empty")
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", s.Command[0], err, bytes.TrimSpace(stderr.Bytes()))
	}

	out = bytes.ReplaceAll(out, []byte("\r\n"), nil)
	out = bytes.ReplaceAll(out, []byte("\n"), nil)
	return out, nil
}

// SimulatedSource generates plausible readings around fixed baselines.
type SimulatedSource struct {
	Device string

	mu   sync.Mutex
	rng  *rand.Rand
	now  func() time.Time
	once sync.Once
}

// NewSimulatedSource returns a generator for device seeded with seed.
func NewSimulatedSource(device string, seed int64) *SimulatedSource {
	return &SimulatedSource{
		Device: device,
		rng:    rand.New(rand.NewSource(seed)),
		now:    time.Now,
	}
}

func (s *SimulatedSource) init() {
	s.once.Do(func() {
		if s.rng == nil {
			s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		if s.now == nil {
			s.now = time.Now
		}
	})
}

// Read returns one generated measurement.
func (s *SimulatedSource) Read(ctx context.Context) ([]byte, error) {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	m := models.Measurement{
		Timestamp:   s.now().UnixMilli(),
		Device:      s.Device,
		Temperature: round(21 + s.rng.NormFloat64()*4),
		Pressure:    round(1013 + s.rng.NormFloat64()*8),
		Humidity:    round(45 + s.rng.NormFloat64()*10),
	}
	return json.Marshal(m)
}

func round(v float64) float64 {
	return float64(int64(v*100)) / 100
}
