// Package decision ships the built-in rule-based decision algorithm. Any
// function matching loop.DecisionFunc can replace it at assembly time.
package decision

import (
	"errors"
	"math"

	"github.com/awaistahir/gridloop/internal/loop"
)

var errNilInput = errors.New("nil cycle input")

// Model parameter defaults used when the configured model omits a key.
const (
	defaultHighSOC   = 90.0
	defaultDeltaTemp = 0.5
)

// Heuristic returns the built-in decision function: heating steers each room
// toward the user's preferred temperature, the storage charges on PV surplus
// and discharges to cover grid draw.
func Heuristic() loop.DecisionFunc {
	return decide
}

func decide(in *loop.CycleInput) (*loop.CycleResult, error) {
	if in == nil {
		return nil, errNilInput
	}

	confTemp := make(map[string]float64, len(in.RoomHeating))
	nextTemp := make(map[string]float64, len(in.RoomHeating))
	var heatingKWh float64
	for _, room := range in.RoomHeating {
		confTemp[room.Name] = room.PreferredTempC
		nextTemp[room.Name] = predictRoomTemp(room, in)
		if room.CurrTempC < room.PreferredTempC {
			heatingKWh += totalPower(room.HeaterPowersKW) * stepHours(in)
		}
	}

	storageConf, nextSOC := planStorage(in)

	gridForecast := heatingKWh - in.PVProducedKWh
	if gridForecast < 0 {
		gridForecast = 0
	}

	return &loop.CycleResult{
		RoomTempConfig:     confTemp,
		StorageConfig:      storageConf,
		RoomTempForecast:   nextTemp,
		StorageSOCForecast: nextSOC,
		GridDrawnForecast:  gridForecast,
	}, nil
}

// planStorage picks the storage mode for the next cycle from the energy
// balance of the one just observed.
func planStorage(in *loop.CycleInput) (map[string]any, float64) {
	high := param(in.ModelParams, "storage_high_charge_level", defaultHighSOC)
	minSOC := in.StorageParams["min_charge_level"]
	nominal := in.StorageParams["nominal_power"]
	capacity := in.StorageParams["max_capacity"]
	efficiency := in.StorageParams["efficiency"]
	if efficiency <= 0 {
		efficiency = 1
	}

	surplus := in.PVProducedKWh + in.GridReturnedKWh - in.GridDrawnKWh

	mode := "idle"
	switch {
	case surplus > 0 && in.StorageSOC < high:
		mode = "charge"
	case surplus < 0 && in.StorageSOC > minSOC:
		mode = "discharge"
	}

	nextSOC := in.StorageSOC
	if capacity > 0 {
		moved := nominal * stepHours(in)
		switch mode {
		case "charge":
			nextSOC += moved * efficiency / capacity * 100
		case "discharge":
			nextSOC -= moved / efficiency / capacity * 100
		}
		nextSOC = math.Min(100, math.Max(minSOC, nextSOC))
	}

	return map[string]any{"mode": mode, "power": nominal}, nextSOC
}

// predictRoomTemp applies a first-order thermal model over the cycle's step
// duration.
func predictRoomTemp(room loop.RoomHeating, in *loop.CycleInput) float64 {
	heatCapacity := param(in.ModelParams, "heat_capacity", 1.5e7)
	lossCoeff := param(in.ModelParams, "heat_loss_coefficient", 120)
	deltaT := param(in.ModelParams, "heating_delta_temperature", defaultDeltaTemp)

	var heatW float64
	if room.CurrTempC < room.PreferredTempC-deltaT {
		heatW = totalPower(room.HeaterPowersKW) * 1000
	}
	lossW := lossCoeff * (room.CurrTempC - in.OutdoorTempC)
	step := float64(in.StepSeconds)
	return room.CurrTempC + (heatW-lossW)*step/heatCapacity
}

func totalPower(powersKW []float64) float64 {
	var total float64
	for _, p := range powersKW {
		total += p
	}
	return total
}

func stepHours(in *loop.CycleInput) float64 {
	return float64(in.StepSeconds) / 3600.0
}

func param(m map[string]float64, key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}
