package offload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahir/gridloop/internal/loop"
)

type outcome struct {
	res *loop.CycleResult
	err error
}

// InProc runs the decision function on local goroutines behind the Runtime
// contract. It backs the asynchronous execution path when no remote platform
// is configured, and serves as the runtime double in tests.
type InProc struct {
	fn loop.DecisionFunc

	mu     sync.Mutex
	jobs   map[uuid.UUID]chan outcome
	policy int
	closed bool
}

// NewInProc creates an in-process runtime executing fn.
func NewInProc(fn loop.DecisionFunc) *InProc {
	return &InProc{fn: fn, jobs: make(map[uuid.UUID]chan outcome)}
}

func (r *InProc) Submit(ctx context.Context, in *loop.CycleInput) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return uuid.Nil, fmt.Errorf("runtime is closed")
	}
	id := uuid.New()
	ch := make(chan outcome, 1)
	r.jobs[id] = ch
	go func() {
		res, err := r.fn(in)
		ch <- outcome{res: res, err: err}
	}()
	return id, nil
}

func (r *InProc) Wait(ctx context.Context, id uuid.UUID, timeout time.Duration) (*loop.CycleResult, error) {
	r.mu.Lock()
	ch, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown execution %s", id)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case o := <-ch:
		r.forget(id)
		if o.err != nil {
			return nil, o.err
		}
		return o.res, nil
	case <-t.C:
		// The execution keeps running but its result is discarded.
		r.forget(id)
		return nil, nil
	case <-ctx.Done():
		r.forget(id)
		return nil, ctx.Err()
	}
}

func (r *InProc) UpdatePolicy(ctx context.Context, greenEnergyPercent int) error {
	r.mu.Lock()
	r.policy = greenEnergyPercent
	r.mu.Unlock()
	return nil
}

// Policy returns the last applied scheduling policy.
func (r *InProc) Policy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

func (r *InProc) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.jobs = make(map[uuid.UUID]chan outcome)
	r.mu.Unlock()
	return nil
}

func (r *InProc) forget(id uuid.UUID) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}
