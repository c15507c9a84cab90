package loop

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/awaistahir/gridloop/internal/device"
	"github.com/awaistahir/gridloop/internal/meter"
)

// Collaborators are the external readings sources a snapshot is built from.
type Collaborators struct {
	Meter   meter.Meter
	PV      device.Device
	Storage device.Device
	Outdoor device.Device
	Rooms   map[string]device.Device
}

// SnapshotBuilder assembles the per-cycle decision input from live device
// and meter state, computing deltas against the register store. Each logical
// quantity is read exactly once per cycle, and the registers are committed
// only after every collaborator read succeeded, so a failed cycle never
// advances a baseline.
type SnapshotBuilder struct {
	model map[string]float64
	c     Collaborators
	prefs *Preferences
}

// NewSnapshotBuilder creates a builder over fixed model parameters, the
// collaborator set and the mutable heating preferences.
func NewSnapshotBuilder(model map[string]float64, c Collaborators, prefs *Preferences) *SnapshotBuilder {
	return &SnapshotBuilder{model: model, c: c, prefs: prefs}
}

// Build reads all collaborator state for one cycle and returns the immutable
// input record. On success the register counters and LastCycleTime advance;
// on any read failure the registers are left untouched and the error is
// returned.
func (b *SnapshotBuilder) Build(ctx context.Context, now time.Time, speed float64, regs *Registers) (*CycleInput, error) {
	storageInfo, err := b.c.Storage.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading storage: %w", err)
	}
	soc, err := numField(storageInfo, "curr_charge_level")
	if err != nil {
		return nil, fmt.Errorf("reading storage: %w", err)
	}

	prefs := b.prefs.Snapshot()
	roomNames := make([]string, 0, len(prefs))
	for room := range prefs {
		roomNames = append(roomNames, room)
	}
	sort.Strings(roomNames)

	rooms := make([]RoomHeating, 0, len(roomNames))
	for _, room := range roomNames {
		dev, ok := b.c.Rooms[room]
		if !ok {
			return nil, fmt.Errorf("no heating device for room %q", room)
		}
		info, err := dev.GetInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading heating for %q: %w", room, err)
		}
		rh, err := roomHeatingFromInfo(room, info)
		if err != nil {
			return nil, fmt.Errorf("reading heating for %q: %w", room, err)
		}
		rh.PreferredTempC = prefs[room]
		rooms = append(rooms, rh)
	}

	energy, err := b.c.Meter.EnergyTotal()
	if err != nil {
		return nil, fmt.Errorf("reading meter: %w", err)
	}

	pvInfo, err := b.c.PV.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading pv: %w", err)
	}
	pvEnergy, err := numField(pvInfo, "energy_produced")
	if err != nil {
		return nil, fmt.Errorf("reading pv: %w", err)
	}

	outdoorInfo, err := b.c.Outdoor.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading outdoor sensor: %w", err)
	}
	outdoorTemp, err := numField(outdoorInfo, "temperature")
	if err != nil {
		return nil, fmt.Errorf("reading outdoor sensor: %w", err)
	}

	// All reads succeeded; commit the registers.
	step := int(math.Floor(now.Sub(regs.LastCycleTime).Seconds() * speed))
	if step < 0 {
		step = 0
	}
	regs.LastCycleTime = now

	drawnJ := regs.Observe(CounterGridIn, energy.ActivePlusJ)
	returnedJ := regs.Observe(CounterGridOut, energy.ActiveMinusJ)
	pvJ := regs.Observe(CounterPVProduced, pvEnergy)
	prevSOC := regs.Exchange(CounterStorageSOC, soc)

	heatingOn := make(map[string][]bool, len(rooms))
	tempByRoom := make(map[string]float64, len(rooms))
	for _, rh := range rooms {
		heatingOn[rh.Name] = rh.SwitchOn
		tempByRoom[rh.Name] = rh.CurrTempC
	}

	return &CycleInput{
		ModelParams:     b.model,
		StepSeconds:     step,
		StorageParams:   numericValues(storageInfo),
		RoomHeating:     rooms,
		GridDrawnKWh:    drawnJ / joulesPerKWh,
		GridReturnedKWh: returnedJ / joulesPerKWh,
		PVProducedKWh:   pvJ / joulesPerKWh,
		OutdoorTempC:    outdoorTemp,
		StorageSOC:      soc,
		PrevStorageSOC:  prevSOC,
		HeatingOnByRoom: heatingOn,
		TempByRoom:      tempByRoom,
	}, nil
}

func roomHeatingFromInfo(room string, info map[string]any) (RoomHeating, error) {
	rh := RoomHeating{Name: room}
	if name, ok := info["name"].(string); ok && name != "" {
		rh.Name = name
	}
	curr, err := numField(info, "curr_temp")
	if err != nil {
		return rh, err
	}
	rh.CurrTempC = curr
	powers, err := floatsField(info, "powers_of_heating_devices")
	if err != nil {
		return rh, err
	}
	rh.HeaterPowersKW = powers
	on, err := boolsField(info, "is_device_switch_on")
	if err != nil {
		return rh, err
	}
	rh.SwitchOn = on
	return rh, nil
}

func numField(info map[string]any, key string) (float64, error) {
	v, ok := info[key]
	if !ok {
		return 0, fmt.Errorf("info missing %q", key)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("info field %q is not numeric", key)
	}
	return f, nil
}

func floatsField(info map[string]any, key string) ([]float64, error) {
	switch v := info[key].(type) {
	case []float64:
		return v, nil
	case []any:
		out := make([]float64, 0, len(v))
		for _, e := range v {
			f, ok := toFloat(e)
			if !ok {
				return nil, fmt.Errorf("info field %q has a non-numeric element", key)
			}
			out = append(out, f)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("info missing %q", key)
	default:
		return nil, fmt.Errorf("info field %q is not a list", key)
	}
}

func boolsField(info map[string]any, key string) ([]bool, error) {
	switch v := info[key].(type) {
	case []bool:
		return v, nil
	case []any:
		out := make([]bool, 0, len(v))
		for _, e := range v {
			b, ok := e.(bool)
			if !ok {
				return nil, fmt.Errorf("info field %q has a non-boolean element", key)
			}
			out = append(out, b)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("info missing %q", key)
	default:
		return nil, fmt.Errorf("info field %q is not a list", key)
	}
}

// numericValues filters an info map down to its scalar numeric fields.
func numericValues(info map[string]any) map[string]float64 {
	out := make(map[string]float64, len(info))
	for k, v := range info {
		if f, ok := toFloat(v); ok {
			out[k] = f
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
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
