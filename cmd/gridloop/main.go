package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/awaistahir/gridloop/internal/config"
	"github.com/awaistahir/gridloop/internal/ctlapi"
	"github.com/awaistahir/gridloop/internal/decision"
	"github.com/awaistahir/gridloop/internal/device"
	"github.com/awaistahir/gridloop/internal/loop"
	"github.com/awaistahir/gridloop/internal/meter"
	"github.com/awaistahir/gridloop/internal/offload"
	"github.com/awaistahir/gridloop/internal/report"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "gridloop",
		Short: "Cyclic control loop for home energy management",
		Long: `gridloop drives a home-energy decision process: on a configurable,
speed-scalable cadence it snapshots device and meter state, invokes the
decision function locally or on a remote runtime, and applies the returned
setpoints back to the devices.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gridloop/config.yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the control loop daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			logger, closeLog, err := newLogger(cfg.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()

			return runDaemon(cfg, logger)
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("configuration ok: %d room(s), cadence %ds, speedup %g\n",
				len(cfg.Rooms), cfg.CadenceSeconds, cfg.Speedup)
			return nil
		},
	}
}

func runDaemon(cfg *config.Config, logger *slog.Logger) error {
	speed := cfg.Speedup

	mtr := meter.NewSim(cfg.Meter.ImportPowerW, cfg.Meter.ExportPowerW, speed)
	pv := buildDevice(cfg.PV.DeviceURL, func() device.Device {
		return device.NewSimPV(cfg.PV.PeakPowerW, speed)
	})
	storage := buildDevice(cfg.Storage.DeviceURL, func() device.Device {
		return device.NewSimStorage(cfg.Storage.MaxCapacityKWh, cfg.Storage.MinChargeLevel,
			cfg.Storage.NominalPowerKW, cfg.Storage.Efficiency, cfg.Storage.InitialSOC, speed)
	})
	outdoor := buildDevice(cfg.Outdoor.DeviceURL, func() device.Device {
		return device.NewSimOutdoor(cfg.Outdoor.BaseTempC, cfg.Outdoor.SwingC, speed)
	})

	rooms := make(map[string]device.Device, len(cfg.Rooms))
	prefTemps := make(map[string]float64, len(cfg.Rooms))
	for _, room := range cfg.Rooms {
		room := room
		rooms[room.Name] = buildDevice(room.DeviceURL, func() device.Device {
			return device.NewSimHeating(room.Name, room.InitialTemp, room.PreferredTemp, room.HeaterPowersKW, speed)
		})
		prefTemps[room.Name] = room.PreferredTemp
	}
	prefs := loop.NewPreferences(prefTemps)

	decisionFn := decision.Heuristic()

	var (
		strategy loop.Strategy
		policy   loop.PolicyUpdater
	)
	if cfg.Remote.Enabled {
		timeout := time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
		var rt offload.Runtime
		if cfg.Remote.Endpoint != "" {
			httpRT := offload.NewHTTPRuntime(cfg.Remote.Endpoint)
			initCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			err := httpRT.Init(initCtx, cfg.Remote.GreenEnergyPercent)
			cancel()
			if err != nil {
				// Remote-runtime misconfiguration is fatal at startup only.
				return fmt.Errorf("remote runtime init: %w", err)
			}
			logger.Info("remote runtime ready", "endpoint", cfg.Remote.Endpoint)
			rt = httpRT
		} else {
			logger.Info("remote endpoint not set, dispatching in-process")
			rt = offload.NewInProc(decisionFn)
		}
		defer rt.Close(context.Background())
		strategy = offload.NewRemote(rt, timeout, logger)
		policy = rt
	} else {
		strategy = offload.NewLocal(decisionFn)
	}

	var (
		sinks   report.Multi
		history *report.Store
	)
	sinks = append(sinks, report.NewLogSink(logger))
	if cfg.DBPath != "" {
		var err error
		history, err = report.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer history.Close()
		sinks = append(sinks, history)
	}

	builder := loop.NewSnapshotBuilder(cfg.Model, loop.Collaborators{
		Meter:   mtr,
		PV:      pv,
		Storage: storage,
		Outdoor: outdoor,
		Rooms:   rooms,
	}, prefs)

	app := loop.New(loop.Deps{
		Builder:  builder,
		Strategy: strategy,
		Actuator: loop.NewActuator(storage, rooms, logger),
		Sink:     sinks,
		Prefs:    prefs,
		Policy:   policy,
		Uptime:   mtr.Uptime,
	}, loop.Options{
		Cadence:     time.Duration(cfg.CadenceSeconds) * time.Second,
		Speed:       speed,
		SettleDelay: time.Duration(cfg.Remote.SettleSeconds) * time.Second,
		Logger:      logger,
	})

	app.Start()
	logger.Info("control loop started",
		"cadence_s", cfg.CadenceSeconds, "speedup", speed,
		"rooms", len(rooms), "remote", cfg.Remote.Enabled)

	api := ctlapi.NewServer(app, history, logger)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Handler()}
	go func() {
		logger.Info("control API listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control API failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	app.Shutdown()
	return nil
}

// buildDevice returns an HTTP client for the device when a URL is
// configured, otherwise the simulated fallback.
func buildDevice(url string, sim func() device.Device) device.Device {
	if url != "" {
		return device.NewHTTPDevice(url)
	}
	return sim()
}

// newLogger builds a slog logger writing to stdout and, when configured, a
// log file as well.
func newLogger(logFile string) (*slog.Logger, func(), error) {
	writers := []io.Writer{os.Stdout}
	closeLog := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, f)
		closeLog = func() { f.Close() }
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), closeLog, nil
}
