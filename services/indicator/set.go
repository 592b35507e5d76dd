// Package indicator computes technical indicator series and exposes them to
// the simulation through a bar-indexed Set. Warm-up values are NaN and come
// back as undefined from Value; consumers must treat undefined as "no
// signal", never as zero.
package indicator

import "math"

// Set maps indicator names to series aligned with the bar index.
type Set struct {
	series map[string][]float64
	length int
}

// NewSet creates an empty Set for a bar stream of the given length.
func NewSet(length int) *Set {
	return &Set{series: make(map[string][]float64), length: length}
}

// Add registers a named series. Series shorter than the bar stream are
// treated as undefined past their end.
func (s *Set) Add(name string, values []float64) {
	s.series[name] = values
}

// Value returns the indicator value at bar i. The second return is false
// when the indicator is unknown, the index is out of range, or the value is
// still in its warm-up period (NaN).
func (s *Set) Value(name string, i int) (float64, bool) {
	values, ok := s.series[name]
	if !ok || i < 0 || i >= len(values) {
		return 0, false
	}
	v := values[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Has reports whether a named series is registered.
func (s *Set) Has(name string) bool {
	_, ok := s.series[name]
	return ok
}

// Names returns the registered indicator names.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	return names
}

// Len returns the bar stream length the Set was created for.
func (s *Set) Len() int { return s.length }
