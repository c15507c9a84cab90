// Package report delivers per-cycle summaries to logging and storage sinks.
package report

import (
	"context"
	"log/slog"

	"github.com/awaistahir/gridloop/internal/loop"
)

// LogSink writes each cycle summary as one structured log record.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink logging through the given logger.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Record(ctx context.Context, sum loop.Summary) error {
	attrs := []any{
		"outcome", sum.Outcome,
		"uptime", sum.Uptime,
		"duration", sum.Duration,
	}
	if in := sum.Input; in != nil {
		attrs = append(attrs,
			"step_s", in.StepSeconds,
			"grid_drawn_kwh", in.GridDrawnKWh,
			"grid_returned_kwh", in.GridReturnedKWh,
			"pv_produced_kwh", in.PVProducedKWh,
			"temp_outdoor", in.OutdoorTempC,
			"storage_soc", in.StorageSOC,
			"prev_storage_soc", in.PrevStorageSOC,
		)
	}
	if res := sum.Result; res != nil {
		attrs = append(attrs,
			"predicted_soc", res.StorageSOCForecast,
			"predicted_grid_kwh", res.GridDrawnForecast,
		)
	}

	switch sum.Outcome {
	case loop.OutcomeApplied:
		s.log.Info("cycle complete", attrs...)
	case loop.OutcomeNoDecision:
		s.log.Warn("cycle complete without decision", attrs...)
	default:
		s.log.Error("cycle failed", append(attrs, "error", sum.Err)...)
	}
	return nil
}

// Multi fans a summary out to every sink, returning the first error after
// all sinks have been given the record.
type Multi []loop.Sink

func (m Multi) Record(ctx context.Context, sum loop.Summary) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, sum); err != nil && first == nil {
			first = err
		}
	}
	return first
}
