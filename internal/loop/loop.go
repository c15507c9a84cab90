package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/awaistahir/gridloop/internal/metrics"
)

// minTick is the smallest wait between deadline re-evaluations. It keeps the
// loop from spinning when the deadline is already in the past by a hair.
const minTick = time.Millisecond

// Deps are the collaborators a Loop drives each cycle.
type Deps struct {
	Builder  Snapshotter
	Strategy Strategy
	Actuator Applier
	Sink     Sink
	Prefs    *Preferences
	Policy   PolicyUpdater         // nil when running without a remote runtime
	Uptime   func() time.Duration  // optional, stamped into summaries
}

// Options tune the Loop's timing.
type Options struct {
	Cadence     time.Duration // simulated length of one cycle
	Speed       float64       // time-dilation factor, > 0
	SettleDelay time.Duration // simulated pause after a policy update
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Loop is the control engine. A single goroutine fires cycles on the
// configured cadence; reconfiguration calls are safe from any goroutine and
// promptly wake a sleeping loop. No lock is held while a cycle executes, and
// cycles never overlap.
type Loop struct {
	mu        sync.Mutex
	wake      chan struct{} // replaced on every broadcast
	cadence   time.Duration
	speed     float64
	forced    bool
	quiesced  bool
	stopping  bool
	started   bool
	lastCycle time.Time // last fired cycle, drives scheduling only

	regs *Registers
	deps Deps

	settle time.Duration
	log    *slog.Logger
	now    func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New assembles a Loop. Cadence must be positive; a non-positive speed
// defaults to 1.
func New(deps Deps, opts Options) *Loop {
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 12 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	l := &Loop{
		wake:    make(chan struct{}),
		cadence: opts.Cadence,
		speed:   opts.Speed,
		deps:    deps,
		settle:  opts.SettleDelay,
		log:     opts.Logger,
		now:     opts.Clock,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	metrics.SetCadence(opts.Cadence.Seconds())
	metrics.SetSpeed(opts.Speed)
	return l
}

// Start launches the loop goroutine. The first cycle fires one scaled
// cadence after Start.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.started || l.stopping {
		l.mu.Unlock()
		return
	}
	l.started = true
	start := l.now()
	l.lastCycle = start
	l.regs = NewRegisters(start)
	l.mu.Unlock()
	go l.run()
}

// Shutdown stops the loop and blocks until it has exited. A cycle already in
// flight runs to completion; no new cycle starts afterwards. Safe to call
// more than once.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	if !l.stopping {
		l.stopping = true
		close(l.stop)
		l.broadcastLocked()
	}
	started := l.started
	l.mu.Unlock()
	if started {
		<-l.done
	}
}

// SetCadence changes the simulated cycle length and wakes the loop so it
// recomputes its deadline. Non-positive cadences are ignored.
func (l *Loop) SetCadence(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.cadence = d
	l.broadcastLocked()
	l.mu.Unlock()
	metrics.SetCadence(d.Seconds())
}

// SetSpeed changes the time-dilation factor and wakes the loop. Non-positive
// speeds are ignored.
func (l *Loop) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	l.mu.Lock()
	l.speed = speed
	l.broadcastLocked()
	l.mu.Unlock()
	metrics.SetSpeed(speed)
}

// ForceCycle makes the loop fire as soon as it next evaluates its wake
// condition, regardless of the deadline.
func (l *Loop) ForceCycle() {
	l.mu.Lock()
	l.forced = true
	l.broadcastLocked()
	l.mu.Unlock()
}

// SetHeatingPreference stores a room's preferred temperature. The new value
// is picked up by the next cycle's snapshot.
func (l *Loop) SetHeatingPreference(room string, tempC float64) {
	l.deps.Prefs.Set(room, tempC)
}

// UpdateRemotePolicy pushes a new scheduling policy to the remote runtime
// and holds the loop quiescent for the settle window afterwards: the loop
// cannot fire during that window even if its deadline passes. Shutdown or
// ctx cancellation cuts the settle short. Returns ErrNoRemoteRuntime when
// running without a remote runtime.
func (l *Loop) UpdateRemotePolicy(ctx context.Context, greenEnergyPercent int) error {
	if l.deps.Policy == nil {
		return ErrNoRemoteRuntime
	}

	l.mu.Lock()
	if l.quiesced {
		l.mu.Unlock()
		return ErrPolicyUpdateInFlight
	}
	l.quiesced = true
	speed := l.speed
	l.broadcastLocked()
	l.mu.Unlock()

	err := l.deps.Policy.UpdatePolicy(ctx, greenEnergyPercent)
	if err == nil {
		wall := time.Duration(float64(l.settle) / speed)
		l.log.Info("remote policy updated, settling", "green_energy_percent", greenEnergyPercent, "settle", wall)
		t := time.NewTimer(wall)
		select {
		case <-t.C:
		case <-l.stop:
			t.Stop()
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		}
	} else {
		l.log.Error("remote policy update failed", "error", err)
	}

	l.mu.Lock()
	l.quiesced = false
	l.broadcastLocked()
	l.mu.Unlock()
	return err
}

// Status describes the loop's current configuration and timing.
type Status struct {
	Running   bool      `json:"running"`
	CadenceS  float64   `json:"cadence_s"`
	Speed     float64   `json:"speed"`
	Quiesced  bool      `json:"quiesced"`
	LastCycle time.Time `json:"last_cycle"`
	NextDue   time.Time `json:"next_due"`
}

// Status returns a snapshot of the loop's configuration.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Running:   l.started && !l.stopping,
		CadenceS:  l.cadence.Seconds(),
		Speed:     l.speed,
		Quiesced:  l.quiesced,
		LastCycle: l.lastCycle,
		NextDue:   l.lastCycle.Add(scaled(l.cadence, l.speed)),
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for l.await() {
		l.fire()
	}
	l.log.Info("control loop stopped")
}

// await blocks until the next cycle is due, a forced trigger arrives, or
// shutdown is requested. Returns false when the loop should exit.
func (l *Loop) await() bool {
	l.mu.Lock()
	for {
		if l.stopping {
			l.mu.Unlock()
			return false
		}

		var wait time.Duration
		waitForWake := false
		if l.quiesced {
			waitForWake = true
		} else if l.forced {
			l.forced = false
			l.mu.Unlock()
			return true
		} else {
			deadline := l.lastCycle.Add(scaled(l.cadence, l.speed))
			now := l.now()
			if !now.Before(deadline) {
				l.mu.Unlock()
				return true
			}
			wait = deadline.Sub(now)
			if wait < minTick {
				wait = minTick
			}
		}

		wake := l.wake
		l.mu.Unlock()

		if waitForWake {
			<-wake
		} else {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-wake:
				t.Stop()
			}
		}

		l.mu.Lock()
	}
}

// fire runs one full cycle: snapshot, decide, actuate, report. Cycle-local
// failures are absorbed here; they never escape to the loop.
func (l *Loop) fire() {
	l.mu.Lock()
	speed := l.speed
	l.mu.Unlock()

	start := l.now()
	ctx := context.Background()
	sum := Summary{Start: start}
	if l.deps.Uptime != nil {
		sum.Uptime = l.deps.Uptime()
	}

	in, err := l.deps.Builder.Build(ctx, start, speed, l.regs)
	if err != nil {
		l.log.Error("cycle aborted, snapshot failed", "error", err)
		sum.Outcome = OutcomeFailed
		sum.Err = err.Error()
	} else {
		sum.Input = in
		metrics.SetStorageSOC(in.StorageSOC)
		if in.GridDrawnKWh < 0 || in.GridReturnedKWh < 0 || in.PVProducedKWh < 0 {
			l.log.Warn("negative energy delta, counter reset suspected",
				"grid_drawn_kwh", in.GridDrawnKWh,
				"grid_returned_kwh", in.GridReturnedKWh,
				"pv_produced_kwh", in.PVProducedKWh)
		}

		res, derr := l.deps.Strategy.Invoke(ctx, in)
		switch {
		case derr != nil:
			l.log.Error("decision failed", "error", derr)
			sum.Outcome = OutcomeFailed
			sum.Err = derr.Error()
		case res == nil:
			sum.Outcome = OutcomeNoDecision
			l.deps.Actuator.Apply(ctx, nil)
		default:
			sum.Outcome = OutcomeApplied
			sum.Result = res
			l.deps.Actuator.Apply(ctx, res)
		}
	}

	sum.Duration = l.now().Sub(start)
	metrics.IncCycle(sum.Outcome)
	metrics.ObserveCycleDuration(sum.Duration)

	if l.deps.Sink != nil {
		if rerr := l.deps.Sink.Record(ctx, sum); rerr != nil {
			l.log.Error("cycle report failed", "error", rerr)
		}
	}

	l.mu.Lock()
	l.lastCycle = start
	l.mu.Unlock()
}

// broadcastLocked wakes every goroutine waiting on the loop's condition.
// Callers must hold mu.
func (l *Loop) broadcastLocked() {
	close(l.wake)
	l.wake = make(chan struct{})
}

func scaled(cadence time.Duration, speed float64) time.Duration {
	return time.Duration(float64(cadence) / speed)
}
