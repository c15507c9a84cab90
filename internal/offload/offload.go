// Package offload provides the two interchangeable ways of invoking the
// decision function: a synchronous in-process call, and an asynchronous
// dispatch to a remote runtime with a bounded wait.
package offload

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahir/gridloop/internal/loop"
	"github.com/awaistahir/gridloop/internal/metrics"
)

// Runtime is the handle to a remote execution platform. Submit dispatches
// one cycle's input and returns an execution handle; Wait blocks up to
// timeout for that execution's result, returning (nil, nil) when it is not
// finished in time. Results arriving after a timed-out Wait are discarded.
type Runtime interface {
	Submit(ctx context.Context, in *loop.CycleInput) (uuid.UUID, error)
	Wait(ctx context.Context, id uuid.UUID, timeout time.Duration) (*loop.CycleResult, error)
	UpdatePolicy(ctx context.Context, greenEnergyPercent int) error
	Close(ctx context.Context) error
}

// Local invokes the decision function synchronously in-process. Errors from
// the function propagate as cycle failures.
type Local struct {
	fn loop.DecisionFunc
}

// NewLocal binds the decision function for in-process invocation.
func NewLocal(fn loop.DecisionFunc) *Local {
	return &Local{fn: fn}
}

func (s *Local) Invoke(ctx context.Context, in *loop.CycleInput) (*loop.CycleResult, error) {
	return s.fn(in)
}

// Remote dispatches to a runtime and waits up to the configured timeout.
// Submission failures, rejections and timeouts all map to the empty
// (nil, nil) outcome: no decision this cycle, not a fatal fault.
type Remote struct {
	rt      Runtime
	timeout time.Duration
	log     *slog.Logger
}

// NewRemote creates a remote strategy over the given runtime handle.
func NewRemote(rt Runtime, timeout time.Duration, log *slog.Logger) *Remote {
	if log == nil {
		log = slog.Default()
	}
	return &Remote{rt: rt, timeout: timeout, log: log}
}

func (s *Remote) Invoke(ctx context.Context, in *loop.CycleInput) (*loop.CycleResult, error) {
	id, err := s.rt.Submit(ctx, in)
	if err != nil {
		s.log.Warn("remote submission rejected", "error", err)
		metrics.IncDecisionTimeout()
		return nil, nil
	}

	res, err := s.rt.Wait(ctx, id, s.timeout)
	if err != nil {
		s.log.Warn("remote wait failed", "exec_id", id, "error", err)
		metrics.IncDecisionTimeout()
		return nil, nil
	}
	if res == nil {
		s.log.Warn("remote execution timed out", "exec_id", id, "timeout", s.timeout)
		metrics.IncDecisionTimeout()
		return nil, nil
	}
	return res, nil
}
