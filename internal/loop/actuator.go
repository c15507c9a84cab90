package loop

import (
	"context"
	"log/slog"
	"sort"

	"github.com/awaistahir/gridloop/internal/device"
	"github.com/awaistahir/gridloop/internal/metrics"
)

// Actuator pushes a cycle's decision result onto the controlled devices. It
// holds no state; all side effects are external device writes.
type Actuator struct {
	storage device.Device
	rooms   map[string]device.Device
	log     *slog.Logger
}

// NewActuator creates an actuator over the storage device and the per-room
// heating devices.
func NewActuator(storage device.Device, rooms map[string]device.Device, log *slog.Logger) *Actuator {
	if log == nil {
		log = slog.Default()
	}
	return &Actuator{storage: storage, rooms: rooms, log: log}
}

// Apply writes the storage configuration and every room's configured
// temperature. A nil result means no decision was produced this cycle and no
// device is touched. Individual write failures are logged per device and do
// not stop the remaining writes.
func (a *Actuator) Apply(ctx context.Context, res *CycleResult) {
	if res == nil {
		a.log.Warn("no decision this cycle, skipping actuation")
		return
	}

	if err := a.storage.SetParams(ctx, res.StorageConfig); err != nil {
		a.log.Error("storage actuation failed", "error", err)
		metrics.IncWriteError("storage")
	}

	names := make([]string, 0, len(a.rooms))
	for name := range a.rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		temp, ok := res.RoomTempConfig[name]
		if !ok {
			a.log.Warn("decision carries no temperature for room", "room", name)
			continue
		}
		if err := a.rooms[name].SetParams(ctx, map[string]any{"optimal_temp": temp}); err != nil {
			a.log.Error("heating actuation failed", "room", name, "error", err)
			metrics.IncWriteError("heating:" + name)
		}
	}
}
