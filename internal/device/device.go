package device

import "context"

// Device is the boundary contract for every controlled device and sensor:
// a snapshot read of named values plus a fire-and-forget parameter write.
//
// Conventional info keys consumed by the control loop:
//
//	storage:  "max_capacity", "min_charge_level", "nominal_power",
//	          "efficiency", "curr_charge_level"
//	pv:       "energy_produced" (cumulative joules)
//	heating:  "name", "curr_temp", "powers_of_heating_devices",
//	          "is_device_switch_on"
//	outdoor:  "temperature"
type Device interface {
	GetInfo(ctx context.Context) (map[string]any, error)
	SetParams(ctx context.Context, params map[string]any) error
}
