package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.CadenceSeconds)
	assert.Equal(t, 1.0, cfg.Speedup)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.Remote.Enabled)
	assert.Equal(t, 3, cfg.Remote.TimeoutSeconds)
	assert.Equal(t, 12, cfg.Remote.SettleSeconds)
	assert.Equal(t, 90.0, cfg.Model["storage_high_charge_level"])
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
cadence_seconds: 60
speedup: 20
db_path: /tmp/history.db
remote:
  enabled: true
  endpoint: http://platform:9000
  timeout_seconds: 5
  green_energy_percent: 80
rooms:
  - name: kitchen
    preferred_temp: 21.5
    initial_temp: 18
    heater_powers_kw: [1.5, 1.0]
  - name: bedroom
    preferred_temp: 19
    device_url: http://bedroom-heater:8000
storage:
  max_capacity_kwh: 15
  initial_soc: 60
`))
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.CadenceSeconds)
	assert.Equal(t, 20.0, cfg.Speedup)
	assert.True(t, cfg.Remote.Enabled)
	assert.Equal(t, "http://platform:9000", cfg.Remote.Endpoint)
	assert.Equal(t, 80, cfg.Remote.GreenEnergyPercent)

	require.Len(t, cfg.Rooms, 2)
	assert.Equal(t, "kitchen", cfg.Rooms[0].Name)
	assert.Equal(t, []float64{1.5, 1.0}, cfg.Rooms[0].HeaterPowersKW)
	assert.Equal(t, "http://bedroom-heater:8000", cfg.Rooms[1].DeviceURL)

	assert.Equal(t, 15.0, cfg.Storage.MaxCapacityKWh)
	assert.Equal(t, 60.0, cfg.Storage.InitialSOC)
	// Unset storage fields still fall back to defaults.
	assert.Equal(t, 0.9, cfg.Storage.Efficiency)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "zero cadence",
			mutate:  func(c *Config) { c.CadenceSeconds = 0 },
			wantErr: "cadence_seconds",
		},
		{
			name:    "negative speedup",
			mutate:  func(c *Config) { c.Speedup = -2 },
			wantErr: "speedup",
		},
		{
			name: "remote without timeout",
			mutate: func(c *Config) {
				c.Remote.Enabled = true
				c.Remote.TimeoutSeconds = 0
			},
			wantErr: "timeout_seconds",
		},
		{
			name: "unnamed room",
			mutate: func(c *Config) {
				c.Rooms = []RoomConfig{{PreferredTemp: 20}}
			},
			wantErr: "name",
		},
		{
			name: "duplicate room",
			mutate: func(c *Config) {
				c.Rooms = []RoomConfig{{Name: "kitchen"}, {Name: "kitchen"}}
			},
			wantErr: "duplicate room",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{CadenceSeconds: 300, Speedup: 1}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := &Config{
		CadenceSeconds: 300,
		Speedup:        100,
		Remote:         RemoteConfig{Enabled: true, TimeoutSeconds: 3},
		Rooms:          []RoomConfig{{Name: "kitchen"}, {Name: "bedroom"}},
	}
	assert.NoError(t, cfg.Validate())
}
