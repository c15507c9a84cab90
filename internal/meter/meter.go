// Package meter defines the metrology boundary: cumulative grid energy
// counters and process uptime, as exposed by a smart energy meter.
package meter

import (
	"sync"
	"time"
)

// EnergyTotal holds the meter's cumulative counters in joules. Both counters
// are non-decreasing for the lifetime of the meter.
type EnergyTotal struct {
	ActivePlusJ  float64 // energy drawn from the grid
	ActiveMinusJ float64 // energy returned to the grid
}

// Meter is the metrology contract consumed by the control loop.
type Meter interface {
	EnergyTotal() (EnergyTotal, error)
	Uptime() time.Duration
}

// Sim integrates constant import/export power into cumulative counters,
// scaled by the simulation speed. Counters advance lazily on read.
type Sim struct {
	mu      sync.Mutex
	importW float64
	exportW float64
	speed   float64
	now     func() time.Time
	start   time.Time
}

// NewSim creates a simulated meter drawing importW and exporting exportW,
// with simulated time running speed times faster than wall time.
func NewSim(importW, exportW, speed float64) *Sim {
	if speed <= 0 {
		speed = 1
	}
	s := &Sim{importW: importW, exportW: exportW, speed: speed, now: time.Now}
	s.start = s.now()
	return s
}

func (s *Sim) EnergyTotal() (EnergyTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	simSeconds := s.now().Sub(s.start).Seconds() * s.speed
	return EnergyTotal{
		ActivePlusJ:  s.importW * simSeconds,
		ActiveMinusJ: s.exportW * simSeconds,
	}, nil
}

func (s *Sim) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.now().Sub(s.start).Seconds() * s.speed * float64(time.Second))
}
