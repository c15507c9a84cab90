package ctlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/gridloop/internal/loop"
	"github.com/awaistahir/gridloop/internal/report"
)

type fixedBuilder struct{}

func (fixedBuilder) Build(ctx context.Context, now time.Time, speed float64, regs *loop.Registers) (*loop.CycleInput, error) {
	return &loop.CycleInput{StepSeconds: 1}, nil
}

type fixedStrategy struct{}

func (fixedStrategy) Invoke(ctx context.Context, in *loop.CycleInput) (*loop.CycleResult, error) {
	return &loop.CycleResult{}, nil
}

type noopApplier struct{}

func (noopApplier) Apply(ctx context.Context, res *loop.CycleResult) {}

type fakePolicy struct {
	percent int
	err     error
}

func (p *fakePolicy) UpdatePolicy(ctx context.Context, greenEnergyPercent int) error {
	p.percent = greenEnergyPercent
	return p.err
}

type serverFixture struct {
	policy  *fakePolicy
	history *report.Store
	handler http.Handler
}

func newServerFixture(t *testing.T, withHistory bool) *serverFixture {
	t.Helper()
	f := &serverFixture{policy: &fakePolicy{}}

	if withHistory {
		var err error
		f.history, err = report.NewStore(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { f.history.Close() })
	}

	app := loop.New(loop.Deps{
		Builder:  fixedBuilder{},
		Strategy: fixedStrategy{},
		Actuator: noopApplier{},
		Prefs:    loop.NewPreferences(nil),
		Policy:   f.policy,
	}, loop.Options{
		Cadence:     time.Hour,
		SettleDelay: time.Millisecond,
	})
	t.Cleanup(app.Shutdown)

	f.handler = NewServer(app, f.history, nil).Handler()
	return f
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	f := newServerFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st loop.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3600.0, st.CadenceS)
	assert.Equal(t, 1.0, st.Speed)
}

func TestSetCadenceEndpoint(t *testing.T) {
	f := newServerFixture(t, false)

	rec := f.do(t, http.MethodPut, "/api/cadence", `{"seconds": 60}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var st loop.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 60.0, st.CadenceS)
}

func TestSetCadenceRejectsBadInput(t *testing.T) {
	f := newServerFixture(t, false)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/cadence", `{"seconds": 0}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/cadence", `{"seconds": -5}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/cadence", `not json`).Code)
}

func TestSetSpeedEndpoint(t *testing.T) {
	f := newServerFixture(t, false)

	rec := f.do(t, http.MethodPut, "/api/speed", `{"multiplier": 1000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var st loop.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1000.0, st.Speed)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/speed", `{"multiplier": 0}`).Code)
}

func TestForceCycleEndpoint(t *testing.T) {
	f := newServerFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/cycle", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSetPreferenceEndpoint(t *testing.T) {
	f := newServerFixture(t, false)

	rec := f.do(t, http.MethodPut, "/api/preferences/kitchen", `{"temperature": 22.5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "kitchen", resp["room"])
	assert.Equal(t, 22.5, resp["temperature"])
}

func TestUpdatePolicyEndpoint(t *testing.T) {
	f := newServerFixture(t, false)

	rec := f.do(t, http.MethodPut, "/api/policy", `{"green_energy_percent": 70}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 70, f.policy.percent)
}

func TestUpdatePolicyRejectsOutOfRange(t *testing.T) {
	f := newServerFixture(t, false)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/policy", `{"green_energy_percent": 101}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/policy", `{"green_energy_percent": -1}`).Code)
}

func TestUpdatePolicyWithoutRuntimeConflicts(t *testing.T) {
	f := newServerFixture(t, false)

	app := loop.New(loop.Deps{
		Builder:  fixedBuilder{},
		Strategy: fixedStrategy{},
		Actuator: noopApplier{},
		Prefs:    loop.NewPreferences(nil),
	}, loop.Options{Cadence: time.Hour})
	t.Cleanup(app.Shutdown)
	f.handler = NewServer(app, nil, nil).Handler()

	rec := f.do(t, http.MethodPut, "/api/policy", `{"green_energy_percent": 50}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListCyclesWithoutHistory(t *testing.T) {
	f := newServerFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/cycles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListCyclesFromHistory(t *testing.T) {
	f := newServerFixture(t, true)

	require.NoError(t, f.history.Record(context.Background(), loop.Summary{
		Start:   time.Now(),
		Outcome: loop.OutcomeApplied,
	}))

	rec := f.do(t, http.MethodGet, "/api/cycles", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []loop.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, loop.OutcomeApplied, got[0].Outcome)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t, false)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gridloop_")
}
