// Package config loads the daemon configuration from file, environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the daemon's full configuration.
type Config struct {
	CadenceSeconds int     `mapstructure:"cadence_seconds"`
	Speedup        float64 `mapstructure:"speedup"`
	HTTPAddr       string  `mapstructure:"http_addr"`
	DBPath         string  `mapstructure:"db_path"`
	LogFile        string  `mapstructure:"log_file"`

	Model map[string]float64 `mapstructure:"model"`

	Remote  RemoteConfig  `mapstructure:"remote"`
	Rooms   []RoomConfig  `mapstructure:"rooms"`
	Storage StorageConfig `mapstructure:"storage"`
	PV      PVConfig      `mapstructure:"pv"`
	Outdoor OutdoorConfig `mapstructure:"outdoor"`
	Meter   MeterConfig   `mapstructure:"meter"`
}

// RemoteConfig configures the remote execution path. With Enabled and an
// empty Endpoint the decision function runs asynchronously in-process.
type RemoteConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Endpoint           string `mapstructure:"endpoint"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	GreenEnergyPercent int    `mapstructure:"green_energy_percent"`
	SettleSeconds      int    `mapstructure:"settle_seconds"`
}

// RoomConfig describes one heated room.
type RoomConfig struct {
	Name           string    `mapstructure:"name"`
	PreferredTemp  float64   `mapstructure:"preferred_temp"`
	InitialTemp    float64   `mapstructure:"initial_temp"`
	HeaterPowersKW []float64 `mapstructure:"heater_powers_kw"`
	DeviceURL      string    `mapstructure:"device_url"` // empty = simulated
}

// StorageConfig describes the energy storage device.
type StorageConfig struct {
	MaxCapacityKWh float64 `mapstructure:"max_capacity_kwh"`
	MinChargeLevel float64 `mapstructure:"min_charge_level"`
	NominalPowerKW float64 `mapstructure:"nominal_power_kw"`
	Efficiency     float64 `mapstructure:"efficiency"`
	InitialSOC     float64 `mapstructure:"initial_soc"`
	DeviceURL      string  `mapstructure:"device_url"`
}

// PVConfig describes the photovoltaic installation.
type PVConfig struct {
	PeakPowerW float64 `mapstructure:"peak_power_w"`
	DeviceURL  string  `mapstructure:"device_url"`
}

// OutdoorConfig describes the outdoor temperature sensor.
type OutdoorConfig struct {
	BaseTempC float64 `mapstructure:"base_temp_c"`
	SwingC    float64 `mapstructure:"swing_c"`
	DeviceURL string  `mapstructure:"device_url"`
}

// MeterConfig describes the simulated metrology load.
type MeterConfig struct {
	ImportPowerW float64 `mapstructure:"import_power_w"`
	ExportPowerW float64 `mapstructure:"export_power_w"`
}

// Load reads configuration from cfgFile, or from $HOME/.gridloop/config.yaml
// when cfgFile is empty. Environment variables with the GRIDLOOP_ prefix
// override file values.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir := filepath.Join(home, ".gridloop")
		os.MkdirAll(configDir, 0755)
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)
	v.SetEnvPrefix("GRIDLOOP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cadence_seconds", 300)
	v.SetDefault("speedup", 1.0)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("remote.timeout_seconds", 3)
	v.SetDefault("remote.green_energy_percent", 50)
	v.SetDefault("remote.settle_seconds", 12)
	v.SetDefault("storage.max_capacity_kwh", 10)
	v.SetDefault("storage.nominal_power_kw", 5)
	v.SetDefault("storage.efficiency", 0.9)
	v.SetDefault("storage.min_charge_level", 20)
	v.SetDefault("storage.initial_soc", 50)
	v.SetDefault("pv.peak_power_w", 4000)
	v.SetDefault("outdoor.base_temp_c", 8)
	v.SetDefault("outdoor.swing_c", 6)
	v.SetDefault("meter.import_power_w", 1500)
	v.SetDefault("meter.export_power_w", 200)
	v.SetDefault("model", map[string]float64{
		"heat_capacity":             1.5e7,
		"heating_delta_temperature": 0.5,
		"heating_coefficient":       1.0,
		"heat_loss_coefficient":     120,
		"storage_delta_power_perc":  10,
		"storage_high_charge_level": 90,
	})
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.CadenceSeconds <= 0 {
		return fmt.Errorf("cadence_seconds must be positive, got %d", c.CadenceSeconds)
	}
	if c.Speedup <= 0 {
		return fmt.Errorf("speedup must be positive, got %g", c.Speedup)
	}
	if c.Remote.Enabled && c.Remote.TimeoutSeconds <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be positive, got %d", c.Remote.TimeoutSeconds)
	}
	if c.Remote.Enabled && c.Remote.SettleSeconds < 0 {
		return fmt.Errorf("remote.settle_seconds must not be negative, got %d", c.Remote.SettleSeconds)
	}
	seen := make(map[string]bool, len(c.Rooms))
	for _, room := range c.Rooms {
		if room.Name == "" {
			return errors.New("every room needs a name")
		}
		if seen[room.Name] {
			return fmt.Errorf("duplicate room %q", room.Name)
		}
		seen[room.Name] = true
	}
	return nil
}
