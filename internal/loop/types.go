// Package loop implements the cyclic control engine: once per cadence it
// snapshots live device and meter state, invokes the decision function
// through an execution strategy, and applies the returned setpoints.
package loop

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoRemoteRuntime      = errors.New("no remote runtime configured")
	ErrPolicyUpdateInFlight = errors.New("policy update already in progress")
)

// Counter names tracked by the register store.
const (
	CounterGridIn     = "active_plus"
	CounterGridOut    = "active_minus"
	CounterPVProduced = "pv_energy"
	CounterStorageSOC = "storage_soc"
)

// joulesPerKWh converts cumulative joule counters into kWh deltas.
const joulesPerKWh = 3.6e6

// RoomHeating is one room's heating state for a cycle, augmented with the
// user's preferred temperature.
type RoomHeating struct {
	Name           string    `json:"name"`
	CurrTempC      float64   `json:"curr_temp"`
	PreferredTempC float64   `json:"preferred_temp"`
	HeaterPowersKW []float64 `json:"powers_of_heating_devices"`
	SwitchOn       []bool    `json:"is_device_switch_on"`
}

// CycleInput is the immutable snapshot handed to the decision function once
// per cycle. The field order mirrors the decision contract's positional
// argument order; do not reorder.
type CycleInput struct {
	ModelParams     map[string]float64 `json:"model_parameters"`
	StepSeconds     int                `json:"step_timedelta_s"`
	StorageParams   map[string]float64 `json:"storage_parameters"`
	RoomHeating     []RoomHeating      `json:"room_heating_params_list"`
	GridDrawnKWh    float64            `json:"energy_drawn_from_grid"`
	GridReturnedKWh float64            `json:"energy_returned_to_grid"`
	PVProducedKWh   float64            `json:"energy_pv_produced"`
	OutdoorTempC    float64            `json:"temp_outdoor"`
	StorageSOC      float64            `json:"charge_level_of_storage"`
	PrevStorageSOC  float64            `json:"prev_charge_level_of_storage"`
	HeatingOnByRoom map[string][]bool  `json:"heating_status_per_room"`
	TempByRoom      map[string]float64 `json:"temp_per_room"`
}

// CycleResult is the decision function's output. The five fields carry the
// same meaning and order as the decision contract.
type CycleResult struct {
	RoomTempConfig     map[string]float64 `json:"conf_temp_per_room"`
	StorageConfig      map[string]any     `json:"storage_params"`
	RoomTempForecast   map[string]float64 `json:"next_temp_per_room"`
	StorageSOCForecast float64            `json:"next_charge_level_of_storage"`
	GridDrawnForecast  float64            `json:"energy_from_power_grid"`
}

// DecisionFunc computes setpoints from one cycle's snapshot. Implementations
// must be pure: they never retain or mutate the input.
type DecisionFunc func(in *CycleInput) (*CycleResult, error)

// Strategy invokes the decision function for one cycle. A (nil, nil) return
// means no decision was produced this cycle; that is a normal outcome, not
// an error.
type Strategy interface {
	Invoke(ctx context.Context, in *CycleInput) (*CycleResult, error)
}

// Snapshotter assembles the cycle input. *SnapshotBuilder is the production
// implementation.
type Snapshotter interface {
	Build(ctx context.Context, now time.Time, speed float64, regs *Registers) (*CycleInput, error)
}

// Applier pushes a cycle's result onto the controlled devices.
type Applier interface {
	Apply(ctx context.Context, res *CycleResult)
}

// PolicyUpdater pushes a new scheduling policy to the remote runtime.
type PolicyUpdater interface {
	UpdatePolicy(ctx context.Context, greenEnergyPercent int) error
}

// Cycle outcomes as recorded in summaries and metrics.
const (
	OutcomeApplied    = "applied"
	OutcomeNoDecision = "no_decision"
	OutcomeFailed     = "failed"
)

// Summary is the structured record of one control cycle, emitted to the
// reporting sink.
type Summary struct {
	Start    time.Time     `json:"start"`
	Uptime   time.Duration `json:"uptime"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
	Input    *CycleInput   `json:"input,omitempty"`
	Result   *CycleResult  `json:"result,omitempty"`
	Err      string        `json:"error,omitempty"`
}

// Sink consumes one summary per fired cycle.
type Sink interface {
	Record(ctx context.Context, s Summary) error
}
