package threshold

import (
	"encoding/json"
	"fmt"
	"math"
	"runtime/debug"
	"strconv"
	"strings"

	"edgerelay/internal/logger"
	"edgerelay/internal/metrics"
)

// Property names carried in the desired configuration bag.
const (
	PropMaxTemperature = "MaxTemperatureThreshold"
	PropMinTemperature = "MinTemperatureThreshold"
	PropMaxPressure    = "MaxPressureThreshold"
	PropMinPressure    = "MinPressureThreshold"
	PropMaxHumidity    = "MaxHumidityThreshold"
	PropMinHumidity    = "MinHumidityThreshold"
)

// Property returns the desired property name that feeds f.
func (f Field) Property() string {
	switch f {
	case MaxTemperature:
		return PropMaxTemperature
	case MinTemperature:
		return PropMinTemperature
	case MaxPressure:
		return PropMaxPressure
	case MinPressure:
		return PropMinPressure
	case MaxHumidity:
		return PropMaxHumidity
	case MinHumidity:
		return PropMinHumidity
	default:
		return ""
	}
}

// Status is the outcome of staging one property.
type Status int

const (
	// StatusAbsent means the property was missing or empty.
	StatusAbsent Status = iota
	// StatusApplied means the parsed value was staged.
	StatusApplied
	// StatusUnparseable means the value was present but not a number.
	StatusUnparseable
	// StatusNotPositive means a Max-* value parsed but was <= 0.
	StatusNotPositive
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusApplied:
		return "applied"
	case StatusUnparseable:
		return "unparseable"
	case StatusNotPositive:
		return "not_positive"
	default:
		return "unknown"
	}
}

// FieldResult describes what happened to one property during staging.
type FieldResult struct {
	Field  Field
	Status Status
	Value  float64
	Err    error
}

// Stage builds the next set from current and a desired property bag.
//
// Every field is handled independently: a property that fails to parse
// leaves its field as it was and does not affect the others. Max-* values
// are only taken when strictly greater than zero; Min-* values are taken as
// parsed, zero and negatives included.
func Stage(current Set, props map[string]any) (Set, []FieldResult) {
	next := current
	results := make([]FieldResult, 0, len(Fields))

	for _, f := range Fields {
		res := FieldResult{Field: f}

		raw, ok := props[f.Property()]
		if !ok {
			results = append(results, res)
			continue
		}

		v, present, err := parseNumber(raw)
		switch {
		case err != nil:
			res.Status = StatusUnparseable
			res.Err = err
		case !present:
			res.Status = StatusAbsent
		case f.IsMax() && v <= 0:
			res.Status = StatusNotPositive
			res.Value = v
		default:
			res.Status = StatusApplied
			res.Value = v
			next = next.With(f, At(v))
		}
		results = append(results, res)
	}

	return next, results
}

// parseNumber accepts JSON numbers, Go numeric types and numeric strings.
// present is false for nil and blank strings.
func parseNumber(raw any) (v float64, present bool, err error) {
	switch x := raw.(type) {
	case nil:
		return 0, false, nil
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint:
		v = float64(x)
	case uint32:
		v = float64(x)
	case uint64:
		v = float64(x)
	case json.Number:
		v, err = x.Float64()
		if err != nil {
			return 0, true, err
		}
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false, nil
		}
		v, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, true, err
		}
	default:
		return 0, true, fmt.Errorf("unsupported value type %T", raw)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true, fmt.Errorf("value %v is not finite", v)
	}
	return v, true, nil
}

// Sync applies desired configuration bags to a Store. The initial fetch at
// startup and every pushed change go through ApplyDesiredProperties.
type Sync struct {
	store *Store
}

// NewSync binds a Sync to store.
func NewSync(store *Store) *Sync {
	return &Sync{store: store}
}

// ApplyDesiredProperties stages props onto the current set and commits the
// result with a single Replace. It never fails: bad properties are skipped,
// and if anything unexpected happens the previous set stays active.
func (s *Sync) ApplyDesiredProperties(source string, props map[string]any) {
	log := logger.WithComponent("threshold_sync").With().Str("source", source).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("failed applying desired properties, keeping previous thresholds")
			metrics.PanicsRecovered.WithLabelValues("threshold_sync").Inc()
			metrics.ThresholdUpdatesTotal.WithLabelValues(source, "failed").Inc()
		}
	}()

	next, results := Stage(s.store.Read(), props)

	for _, res := range results {
		metrics.ThresholdPropertiesTotal.WithLabelValues(res.Field.Property(), res.Status.String()).Inc()
		switch res.Status {
		case StatusApplied:
			log.Info().
				Str("bound", res.Field.String()).
				Float64("value", res.Value).
				Msg("threshold update")
		case StatusUnparseable:
			log.Warn().
				Err(res.Err).
				Str("property", res.Field.Property()).
				Msg("ignoring unparseable threshold property")
		case StatusNotPositive:
			log.Debug().
				Str("property", res.Field.Property()).
				Float64("value", res.Value).
				Msg("ignoring non-positive max threshold")
		}
	}

	s.store.Replace(next)
	exportBounds(next)
	metrics.ThresholdUpdatesTotal.WithLabelValues(source, "applied").Inc()
}

func exportBounds(set Set) {
	for _, f := range Fields {
		if v, ok := set.Get(f).Value(); ok {
			metrics.ThresholdBound.WithLabelValues(f.String()).Set(v)
		} else {
			metrics.ThresholdBound.DeleteLabelValues(f.String())
		}
	}
}
