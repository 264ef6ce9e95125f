// Package threshold holds the mutable min/max bounds measurements are checked
// against, and the protocol for replacing them at runtime.
package threshold

import (
	"strconv"
	"sync/atomic"
)

// Field identifies one of the six bounds.
type Field int

const (
	MaxTemperature Field = iota
	MinTemperature
	MaxPressure
	MinPressure
	MaxHumidity
	MinHumidity
)

// Fields lists every bound in a stable order.
var Fields = []Field{
	MaxTemperature, MinTemperature,
	MaxPressure, MinPressure,
	MaxHumidity, MinHumidity,
}

var fieldNames = [...]string{
	MaxTemperature: "MaxTemperature",
	MinTemperature: "MinTemperature",
	MaxPressure:    "MaxPressure",
	MinPressure:    "MinPressure",
	MaxHumidity:    "MaxHumidity",
	MinHumidity:    "MinHumidity",
}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return "Field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldNames[f]
}

// IsMax reports whether f is an upper bound.
func (f Field) IsMax() bool {
	switch f {
	case MaxTemperature, MaxPressure, MaxHumidity:
		return true
	default:
		return false
	}
}

// Bound is an optional limit. The zero value is unset.
type Bound struct {
	value float64
	set   bool
}

// At returns a bound set to v.
func At(v float64) Bound {
	return Bound{value: v, set: true}
}

// Value returns the limit and whether it is set.
func (b Bound) Value() (float64, bool) {
	return b.value, b.set
}

// IsSet reports whether the bound constrains anything.
func (b Bound) IsSet() bool {
	return b.set
}

func (b Bound) String() string {
	if !b.set {
		return "unset"
	}
	return strconv.FormatFloat(b.value, 'f', -1, 64)
}

// Set is one version of the six bounds. Any subset may be set and no
// ordering between a Min and its Max is enforced. A Set is a value; the
// With method returns a modified copy.
type Set struct {
	MaxTemperature Bound
	MinTemperature Bound
	MaxPressure    Bound
	MinPressure    Bound
	MaxHumidity    Bound
	MinHumidity    Bound
}

// Get returns the bound stored for f.
func (s Set) Get(f Field) Bound {
	switch f {
	case MaxTemperature:
		return s.MaxTemperature
	case MinTemperature:
		return s.MinTemperature
	case MaxPressure:
		return s.MaxPressure
	case MinPressure:
		return s.MinPressure
	case MaxHumidity:
		return s.MaxHumidity
	case MinHumidity:
		return s.MinHumidity
	default:
		return Bound{}
	}
}

// With returns a copy of s with f replaced by b.
func (s Set) With(f Field, b Bound) Set {
	switch f {
	case MaxTemperature:
		s.MaxTemperature = b
	case MinTemperature:
		s.MinTemperature = b
	case MaxPressure:
		s.MaxPressure = b
	case MinPressure:
		s.MinPressure = b
	case MaxHumidity:
		s.MaxHumidity = b
	case MinHumidity:
		s.MinHumidity = b
	}
	return s
}

// IsEmpty reports whether no bound is set.
func (s Set) IsEmpty() bool {
	for _, f := range Fields {
		if s.Get(f).IsSet() {
			return false
		}
	}
	return true
}

// Store holds the current Set. Readers never observe a partially applied
// update: each Replace publishes a fresh snapshot with a single atomic
// pointer swap, and a snapshot is never written after it is published.
type Store struct {
	current atomic.Pointer[Set]
}

// NewStore returns a store whose current set has no bounds.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Set{})
	return s
}

// Read returns the currently active set.
func (s *Store) Read() Set {
	if cur := s.current.Load(); cur != nil {
		return *cur
	}
	return Set{}
}

// Replace installs next as the current set.
func (s *Store) Replace(next Set) {
	snapshot := next
	s.current.Store(&snapshot)
}
