package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nova-rey/crapssim-control/internal/envelope"
	"github.com/nova-rey/crapssim-control/internal/game"
)

// HTTPTransport speaks the engine contract to a remote engine over JSON.
// Timeouts and non-2xx responses surface as errors; the caller journals
// them as failed executions.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport builds a transport against baseURL. timeout bounds every
// request.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type startRequest struct {
	RunID    string  `json:"run_id"`
	Seed     int64   `json:"seed"`
	Bankroll float64 `json:"bankroll"`
	Bubble   bool    `json:"bubble"`
	Level    float64 `json:"level"`
}

type rollRequest struct {
	Dice []int `json:"dice,omitempty"`
}

type applyRequest struct {
	Verb string         `json:"verb"`
	Args map[string]any `json:"args,omitempty"`
}

type sessionResponse struct {
	SessionID string                  `json:"session_id"`
	Snapshot  *game.Snapshot          `json:"snapshot"`
	Effect    *envelope.EffectSummary `json:"effect_summary"`
	Error     string                  `json:"error"`
}

// StartSession opens a remote session. An unreachable engine here is fatal
// to the run by contract.
func (t *HTTPTransport) StartSession(ctx context.Context, spec SessionSpec) error {
	req := startRequest{
		RunID:    spec.RunID,
		Seed:     spec.Seed,
		Bankroll: spec.Bankroll,
		Bubble:   spec.Table.Bubble,
		Level:    spec.Table.Level,
	}
	_, err := t.post(ctx, "/session/start", req)
	return err
}

// StepRoll advances the remote session one roll.
func (t *HTTPTransport) StepRoll(ctx context.Context, dice [2]int) (game.Snapshot, error) {
	req := rollRequest{}
	if dice != [2]int{} {
		req.Dice = []int{dice[0], dice[1]}
	}
	resp, err := t.post(ctx, "/session/roll", req)
	if err != nil {
		return game.Snapshot{}, err
	}
	if resp.Snapshot == nil {
		return game.Snapshot{}, fmt.Errorf("engine http: roll response missing snapshot")
	}
	return *resp.Snapshot, nil
}

// ApplyAction applies a verb remotely and returns the reported effect.
func (t *HTTPTransport) ApplyAction(ctx context.Context, verb string, args map[string]any) (envelope.EffectSummary, error) {
	resp, err := t.post(ctx, "/apply_action", applyRequest{Verb: verb, Args: args})
	if err != nil {
		return envelope.EffectSummary{}, err
	}
	if resp.Effect == nil {
		return envelope.EffectSummary{}, fmt.Errorf("engine http: apply response missing effect_summary")
	}
	return *resp.Effect, nil
}

// SnapshotState fetches the current snapshot without rolling.
func (t *HTTPTransport) SnapshotState(ctx context.Context) (game.Snapshot, error) {
	resp, err := t.get(ctx, "/session/snapshot")
	if err != nil {
		return game.Snapshot{}, err
	}
	if resp.Snapshot == nil {
		return game.Snapshot{}, fmt.Errorf("engine http: snapshot response missing snapshot")
	}
	return *resp.Snapshot, nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, body any) (*sessionResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("engine http: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("engine http: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, path)
}

func (t *HTTPTransport) get(ctx context.Context, path string) (*sessionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("engine http: %w", err)
	}
	return t.do(req, path)
}

func (t *HTTPTransport) do(req *http.Request, path string) (*sessionResponse, error) {
	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine http: %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("engine http: %s: %w", path, err)
	}
	var resp sessionResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("engine http: %s: %w", path, err)
		}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return nil, fmt.Errorf("engine http: %s: %d %s", path, httpResp.StatusCode, msg)
	}
	return &resp, nil
}
