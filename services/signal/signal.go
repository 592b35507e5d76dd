// Package signal derives per-bar trade signals from indicator values and an
// optional external prediction, after running a declared-order filter chain.
// Generation is a pure function of its inputs so runs replay bit-identically.
package signal

import "fmt"

// Direction is the discrete directional decision for one bar.
type Direction int

const (
	Flat Direction = iota
	Long
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// MarshalJSON emits the direction as its wire name (FLAT/LONG/SHORT).
func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts the wire names produced by MarshalJSON.
func (d *Direction) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"LONG"`:
		*d = Long
	case `"SHORT"`:
		*d = Short
	case `"FLAT"`:
		*d = Flat
	default:
		return fmt.Errorf("unknown direction %s", b)
	}
	return nil
}

// Opposite returns the reverse direction; Flat has no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Flat
	}
}

// Signal is the decision for exactly one bar. Confidence is in [0,1];
// rule-only signals carry confidence 1.
type Signal struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	// BlockedBy names the first failing filter when the signal was
	// downgraded to Flat. Diagnostics only; it never changes the trade
	// stream relative to evaluating all filters as one conjunction.
	BlockedBy string `json:"blocked_by,omitempty"`
}

// Prediction is an external model's opinion for one bar.
type Prediction struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
}
