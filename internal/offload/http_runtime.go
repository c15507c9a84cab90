package offload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahir/gridloop/internal/loop"
)

const runtimeName = "gridloop-decision-runtime"

// HTTPRuntime talks to a serverless execution platform over HTTP. The
// decision function is deployed on the platform; the client only ships cycle
// inputs and collects results.
//
// Endpoints: POST /v1/runtime creates the runtime, GET /v1/runtime reports
// its state, PUT /v1/runtime/policy updates scheduling, DELETE /v1/runtime
// tears it down. POST /v1/executions submits an input and returns an
// execution id; GET /v1/executions/{id}?timeout={d} long-polls for the
// result, answering 204 while unfinished.
type HTTPRuntime struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPRuntime creates a client for a platform served at baseURL.
func NewHTTPRuntime(baseURL string) *HTTPRuntime {
	return &HTTPRuntime{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Init creates the remote runtime and blocks until it reports running.
// Failure here is fatal to remote-mode startup; it never applies to
// steady-state cycles.
func (r *HTTPRuntime) Init(ctx context.Context, greenEnergyPercent int) error {
	body := map[string]any{
		"name":                 runtimeName,
		"flavour":              "Energy",
		"green_energy_percent": greenEnergyPercent,
	}
	if err := r.do(ctx, http.MethodPost, "/v1/runtime", body, nil); err != nil {
		return fmt.Errorf("creating runtime: %w", err)
	}

	for {
		var status struct {
			State string `json:"state"`
		}
		if err := r.do(ctx, http.MethodGet, "/v1/runtime", nil, &status); err != nil {
			return fmt.Errorf("polling runtime state: %w", err)
		}
		if status.State == "RUNNING" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (r *HTTPRuntime) Submit(ctx context.Context, in *loop.CycleInput) (uuid.UUID, error) {
	var resp struct {
		ExecID string `json:"exec_id"`
	}
	if err := r.do(ctx, http.MethodPost, "/v1/executions", in, &resp); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(resp.ExecID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed exec_id %q: %w", resp.ExecID, err)
	}
	return id, nil
}

func (r *HTTPRuntime) Wait(ctx context.Context, id uuid.UUID, timeout time.Duration) (*loop.CycleResult, error) {
	q := url.Values{}
	q.Set("timeout", timeout.String())
	path := fmt.Sprintf("/v1/executions/%s?%s", id, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	// The platform holds the request open up to the wait timeout; give the
	// transport a little slack on top.
	client := &http.Client{Timeout: timeout + 5*time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("waiting for execution: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var res loop.CycleResult
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		return &res, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("platform returned status %d: %s", resp.StatusCode, string(body))
	}
}

func (r *HTTPRuntime) UpdatePolicy(ctx context.Context, greenEnergyPercent int) error {
	body := map[string]any{"green_energy_percent": greenEnergyPercent}
	return r.do(ctx, http.MethodPut, "/v1/runtime/policy", body, nil)
}

func (r *HTTPRuntime) Close(ctx context.Context) error {
	return r.do(ctx, http.MethodDelete, "/v1/runtime", nil, nil)
}

func (r *HTTPRuntime) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("platform returned status %d: %s", resp.StatusCode, string(b))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
