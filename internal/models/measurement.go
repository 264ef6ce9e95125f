package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire field names of a measurement payload. Matching is case-sensitive.
const (
	FieldTimestamp   = "timestamp"
	FieldDevice      = "device"
	FieldTemperature = "temperature"
	FieldPressure    = "pressure"
	FieldHumidity    = "humidity"
)

// ErrDecode marks a payload that is not a JSON measurement object.
var ErrDecode = errors.New("malformed measurement payload")

// Measurement is one telemetry sample as produced by the sensor reader.
// Temperature is in °C, pressure in hPa and humidity in %RH.
type Measurement struct {
	Timestamp   int64   `json:"timestamp"`
	Device      string  `json:"device"`
	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Humidity    float64 `json:"humidity"`
}

// DecodeMeasurement decodes a raw payload.
//
// An empty payload or a JSON null yields (nil, nil): there is nothing to
// evaluate, but the payload is not malformed either. Unknown fields are
// ignored and missing ones keep their zero value.
func DecodeMeasurement(payload []byte) (*Measurement, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if fields == nil {
		return nil, nil
	}

	m := &Measurement{}
	targets := []struct {
		name string
		dst  any
	}{
		{FieldTimestamp, &m.Timestamp},
		{FieldDevice, &m.Device},
		{FieldTemperature, &m.Temperature},
		{FieldPressure, &m.Pressure},
		{FieldHumidity, &m.Humidity},
	}
	for _, t := range targets {
		raw, ok := fields[t.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, t.dst); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrDecode, t.name, err)
		}
	}

	return m, nil
}
