// Package status answers the status direct method with process uptime.
package status

import (
	"time"

	"edgerelay/internal/models"
)

// Snapshot is the body of a status reply.
type Snapshot struct {
	StartTime     string  `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// SensorSnapshot adds the last reading of a sensor reader. The reading
// fields are omitted until something has been read.
type SensorSnapshot struct {
	Snapshot
	Device   string   `json:"device,omitempty"`
	Temp     *float64 `json:"temp,omitempty"`
	Humidity *float64 `json:"humidity,omitempty"`
	Pressure *float64 `json:"pressure,omitempty"`
}

// Reporter reports the time since it was created. It holds no mutable
// state and is safe for concurrent use.
type Reporter struct {
	started time.Time
	now     func() time.Time
}

// NewReporter returns a reporter started now.
func NewReporter() *Reporter {
	return NewReporterWithClock(time.Now)
}

// NewReporterWithClock returns a reporter that reads time from now.
func NewReporterWithClock(now func() time.Time) *Reporter {
	return &Reporter{started: now(), now: now}
}

// StartTime returns when the reporter was created.
func (r *Reporter) StartTime() time.Time {
	return r.started
}

// Snapshot returns the current start time and uptime.
func (r *Reporter) Snapshot() Snapshot {
	return Snapshot{
		StartTime:     r.started.UTC().Format(time.RFC3339),
		UptimeSeconds: r.now().Sub(r.started).Seconds(),
	}
}

// SensorSnapshot returns Snapshot plus the fields of last, if any.
func (r *Reporter) SensorSnapshot(last *models.Measurement) SensorSnapshot {
	out := SensorSnapshot{Snapshot: r.Snapshot()}
	if last == nil {
		return out
	}
	temp, humidity, pressure := last.Temperature, last.Humidity, last.Pressure
	out.Device = last.Device
	out.Temp = &temp
	out.Humidity = &humidity
	out.Pressure = &pressure
	return out
}
