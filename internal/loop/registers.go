package loop

import "time"

// Registers holds the last-observed cumulative counters and the timestamp of
// the last completed cycle. The store is owned by the control loop and
// mutated exactly once per successful cycle, by the snapshot builder. It is
// a plain value so tests can construct arbitrary prior states.
type Registers struct {
	LastCycleTime time.Time
	last          map[string]float64
}

// NewRegisters creates a register store with all counters at zero and the
// cycle timestamp at start.
func NewRegisters(start time.Time) *Registers {
	return &Registers{LastCycleTime: start, last: make(map[string]float64)}
}

// Exchange stores raw as the counter's new last value and returns the value
// it replaced. Counters never observed before start at zero.
func (r *Registers) Exchange(name string, raw float64) float64 {
	prev := r.last[name]
	r.last[name] = raw
	return prev
}

// Observe records a cumulative counter reading and returns the delta since
// the previous reading. The sign is not checked: a counter reset surfaces as
// a negative delta for the caller to flag.
func (r *Registers) Observe(name string, raw float64) float64 {
	return raw - r.Exchange(name, raw)
}

// Last returns the stored value for a counter without mutating it.
func (r *Registers) Last(name string) float64 {
	return r.last[name]
}
