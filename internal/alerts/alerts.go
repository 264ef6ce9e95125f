// Package alerts checks measurements against threshold bounds and produces
// the annotations used downstream to filter out-of-bound events.
package alerts

import (
	"strconv"

	"edgerelay/internal/models"
	"edgerelay/internal/threshold"
)

// Annotation keys. The spelling is the one downstream routes filter on and
// must not be corrected.
const (
	KeyHumidity    = "MaxHumidityThresold"
	KeyTemperature = "TemperatureThresold"
	KeyPressure    = "PressureThresold"
	KeyAlert       = "Alert"

	AlertValue = "1"
)

// Rule ties one measured quantity to its pair of bounds.
type Rule struct {
	Key string
	Max threshold.Field
	Min threshold.Field
	Of  func(*models.Measurement) float64
}

// Rules are evaluated in this order.
var Rules = []Rule{
	{
		Key: KeyHumidity,
		Max: threshold.MaxHumidity,
		Min: threshold.MinHumidity,
		Of:  func(m *models.Measurement) float64 { return m.Humidity },
	},
	{
		Key: KeyTemperature,
		Max: threshold.MaxTemperature,
		Min: threshold.MinTemperature,
		Of:  func(m *models.Measurement) float64 { return m.Temperature },
	},
	{
		Key: KeyPressure,
		Max: threshold.MaxPressure,
		Min: threshold.MinPressure,
		Of:  func(m *models.Measurement) float64 { return m.Pressure },
	},
}

// Violation is one exceeded bound.
type Violation struct {
	Bound threshold.Field
	Limit float64
	Value float64
}

// Result is the output of Evaluate.
type Result struct {
	// Annotations in emission order; Alert=1 is last when Violated.
	Annotations models.Annotations
	Violations  []Violation
	Violated    bool
}

// Evaluate compares m against set. Max bounds use a strict >, Min bounds a
// strict <. A rule emits its key at most once: when both of its bounds are
// violated the Max violation is the one recorded.
func Evaluate(m *models.Measurement, set threshold.Set) Result {
	var res Result
	if m == nil {
		return res
	}

	for _, rule := range Rules {
		v := rule.Of(m)
		violation, ok := check(rule, v, set)
		if !ok {
			continue
		}
		res.Violations = append(res.Violations, violation)
		res.Annotations = append(res.Annotations, models.Annotation{
			Key:   rule.Key,
			Value: FormatValue(v),
		})
	}

	if len(res.Annotations) > 0 {
		res.Violated = true
		res.Annotations = append(res.Annotations, models.Annotation{Key: KeyAlert, Value: AlertValue})
	}
	return res
}

func check(rule Rule, v float64, set threshold.Set) (Violation, bool) {
	if limit, ok := set.Get(rule.Max).Value(); ok && v > limit {
		return Violation{Bound: rule.Max, Limit: limit, Value: v}, true
	}
	if limit, ok := set.Get(rule.Min).Value(); ok && v < limit {
		return Violation{Bound: rule.Min, Limit: limit, Value: v}, true
	}
	return Violation{}, false
}

// FormatValue renders a measured value the way it appears in annotations:
// shortest exact decimal, no exponent, no trailing zeros.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
