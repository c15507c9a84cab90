package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

const simDaySeconds = 86400.0

// simClock converts wall time into simulated seconds under a speed factor.
// Each call to step returns the simulated time elapsed since the last call.
type simClock struct {
	speed   float64
	now     func() time.Time
	last    time.Time
	elapsed float64 // simulated seconds since construction
}

func newSimClock(speed float64, now func() time.Time) simClock {
	if now == nil {
		now = time.Now
	}
	if speed <= 0 {
		speed = 1
	}
	return simClock{speed: speed, now: now, last: now()}
}

func (c *simClock) step() float64 {
	t := c.now()
	dt := t.Sub(c.last).Seconds() * c.speed
	c.last = t
	c.elapsed += dt
	return dt
}

// SimPV is a photovoltaic installation producing along a sinusoidal day
// curve. Its energy counter is cumulative joules and never decreases.
type SimPV struct {
	mu        sync.Mutex
	clock     simClock
	peakW     float64
	producedJ float64
}

func NewSimPV(peakW, speed float64) *SimPV {
	return &SimPV{clock: newSimClock(speed, nil), peakW: peakW}
}

func (p *SimPV) GetInfo(ctx context.Context) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dt := p.clock.step()
	p.producedJ += p.currentPower() * dt
	return map[string]any{
		"energy_produced": p.producedJ,
		"current_power":   p.currentPower(),
	}, nil
}

func (p *SimPV) SetParams(ctx context.Context, params map[string]any) error {
	return fmt.Errorf("pv installation accepts no parameters")
}

func (p *SimPV) currentPower() float64 {
	frac := math.Mod(p.clock.elapsed, simDaySeconds) / simDaySeconds
	return p.peakW * math.Max(0, math.Sin(2*math.Pi*frac))
}

// SimStorage is a battery with a state of charge in percent. The control
// loop steers it through the "mode" and "power" parameters.
type SimStorage struct {
	mu          sync.Mutex
	clock       simClock
	capacityKWh float64
	minSOC      float64
	nominalKW   float64
	efficiency  float64
	soc         float64
	mode        string // charge | discharge | idle
	powerKW     float64
}

func NewSimStorage(capacityKWh, minSOC, nominalKW, efficiency, initialSOC, speed float64) *SimStorage {
	return &SimStorage{
		clock:       newSimClock(speed, nil),
		capacityKWh: capacityKWh,
		minSOC:      minSOC,
		nominalKW:   nominalKW,
		efficiency:  efficiency,
		soc:         initialSOC,
		mode:        "idle",
	}
}

func (s *SimStorage) GetInfo(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return map[string]any{
		"max_capacity":      s.capacityKWh,
		"min_charge_level":  s.minSOC,
		"nominal_power":     s.nominalKW,
		"efficiency":        s.efficiency,
		"curr_charge_level": s.soc,
	}, nil
}

func (s *SimStorage) SetParams(ctx context.Context, params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	if mode, ok := params["mode"].(string); ok {
		switch mode {
		case "charge", "discharge", "idle":
			s.mode = mode
		default:
			return fmt.Errorf("unknown storage mode %q", mode)
		}
	}
	if power, ok := asFloat(params["power"]); ok {
		s.powerKW = math.Min(math.Abs(power), s.nominalKW)
	}
	return nil
}

func (s *SimStorage) advance() {
	dt := s.clock.step()
	if s.capacityKWh <= 0 {
		return
	}
	hours := dt / 3600.0
	switch s.mode {
	case "charge":
		s.soc += s.powerKW * hours * s.efficiency / s.capacityKWh * 100
	case "discharge":
		s.soc -= s.powerKW * hours / s.efficiency / s.capacityKWh * 100
	}
	s.soc = math.Min(100, math.Max(s.minSOC, s.soc))
}

// SimHeating models one room with a bank of resistive heaters and a simple
// first-order thermal response toward the configured optimal temperature.
type SimHeating struct {
	mu           sync.Mutex
	clock        simClock
	name         string
	tempC        float64
	optimalC     float64
	powersKW     []float64
	on           []bool
	lossWPerK    float64
	heatCapacity float64 // J/K
	ambientC     float64
}

func NewSimHeating(name string, initialTempC, optimalC float64, powersKW []float64, speed float64) *SimHeating {
	h := &SimHeating{
		clock:        newSimClock(speed, nil),
		name:         name,
		tempC:        initialTempC,
		optimalC:     optimalC,
		powersKW:     powersKW,
		on:           make([]bool, len(powersKW)),
		lossWPerK:    120,
		heatCapacity: 1.5e7,
		ambientC:     8,
	}
	return h
}

func (h *SimHeating) GetInfo(ctx context.Context) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advance()
	on := make([]bool, len(h.on))
	copy(on, h.on)
	powers := make([]float64, len(h.powersKW))
	copy(powers, h.powersKW)
	return map[string]any{
		"name":                      h.name,
		"curr_temp":                 h.tempC,
		"powers_of_heating_devices": powers,
		"is_device_switch_on":       on,
	}, nil
}

func (h *SimHeating) SetParams(ctx context.Context, params map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advance()
	if t, ok := asFloat(params["optimal_temp"]); ok {
		h.optimalC = t
		return nil
	}
	return fmt.Errorf("heating for %s: missing optimal_temp", h.name)
}

func (h *SimHeating) advance() {
	dt := h.clock.step()
	heating := h.tempC < h.optimalC
	var heatW float64
	for i := range h.on {
		h.on[i] = heating
		if heating {
			heatW += h.powersKW[i] * 1000
		}
	}
	dT := (heatW - h.lossWPerK*(h.tempC-h.ambientC)) * dt / h.heatCapacity
	h.tempC += dT
}

// SimOutdoor is an outdoor temperature sensor following a daily sine curve.
type SimOutdoor struct {
	mu     sync.Mutex
	clock  simClock
	baseC  float64
	swingC float64
}

func NewSimOutdoor(baseC, swingC, speed float64) *SimOutdoor {
	return &SimOutdoor{clock: newSimClock(speed, nil), baseC: baseC, swingC: swingC}
}

func (o *SimOutdoor) GetInfo(ctx context.Context) (map[string]any, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clock.step()
	frac := math.Mod(o.clock.elapsed, simDaySeconds) / simDaySeconds
	return map[string]any{
		"temperature": o.baseC + o.swingC*math.Sin(2*math.Pi*frac),
	}, nil
}

func (o *SimOutdoor) SetParams(ctx context.Context, params map[string]any) error {
	return fmt.Errorf("outdoor sensor accepts no parameters")
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
