package forsys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/silvaplan/silvaplan/internal/config"
	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/resilience"
)

// RPCRunner invokes a long-running optimizer service over HTTP. The same
// logical inputs as the subprocess mode are posted to /run; a circuit
// breaker guards the service so a dead optimizer fails fast.
type RPCRunner struct {
	url     string
	timeout config.Optimizer
	client  *http.Client
	breaker *resilience.Breaker
	logger  *slog.Logger
}

type rpcRequest struct {
	ScenarioID int64        `json:"scenario_id"`
	Input      *InputRecord `json:"input"`
}

type rpcResponse struct {
	Status       string       `json:"status"` // SUCCESS | INFEASIBLE | ERROR
	Message      string       `json:"message,omitempty"`
	ProjectAreas []OutputArea `json:"project_areas,omitempty"`
}

// NewRPCRunner creates an RPC runner.
func NewRPCRunner(cfg config.Optimizer, breaker *resilience.Breaker, logger *slog.Logger) *RPCRunner {
	return &RPCRunner{
		url:     cfg.RPCURL,
		timeout: cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Run posts the input record to the optimizer service and maps its status
// onto the same error taxonomy as the subprocess mode.
func (r *RPCRunner) Run(ctx context.Context, scenarioID int64, rec *InputRecord) (*Output, error) {
	payload, err := json.Marshal(rpcRequest{ScenarioID: scenarioID, Input: rec})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout.Timeout)
	defer cancel()

	var resp rpcResponse
	err = r.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(runCtx, http.MethodPost, r.url+"/run",
			bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = httpResp.Body.Close() }()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		if httpResp.StatusCode != http.StatusOK {
			return fmt.Errorf("optimizer service returned %d: %s", httpResp.StatusCode, body)
		}
		return json.Unmarshal(body, &resp)
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("after %s: %w", r.timeout.Timeout, domain.ErrOptimizerTimeout)
		}
		return nil, fmt.Errorf("%v: %w", err, domain.ErrOptimizerPanic)
	}

	switch resp.Status {
	case "SUCCESS":
		return &Output{ProjectAreas: resp.ProjectAreas}, nil
	case "INFEASIBLE":
		return nil, fmt.Errorf("%s: %w", resp.Message, domain.ErrOptimizerInfeasible)
	default:
		return nil, fmt.Errorf("optimizer status %q: %s: %w",
			resp.Status, resp.Message, domain.ErrOptimizerPanic)
	}
}
