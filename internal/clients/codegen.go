package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CodegenClient talks to a codegen.com-style agent-run API over HTTP.
// Calls go through a circuit breaker: once the service misbehaves
// repeatedly, further calls fail fast instead of hanging the workflow.
// The breaker never retries; retry policy belongs to the poller and the
// orchestrator.
type CodegenClient struct {
	baseURL string
	orgID   string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewCodegenClient creates a client for the given org. baseURL defaults
// to the public API host.
func NewCodegenClient(baseURL, orgID, token string, log *zap.Logger) (*CodegenClient, error) {
	if orgID == "" || token == "" {
		return nil, errors.New("codegen org id and token are required")
	}
	if baseURL == "" {
		baseURL = "https://api.codegen.com"
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "codegen",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// User cancellation is not a service failure.
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &CodegenClient{
		baseURL: baseURL,
		orgID:   orgID,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: cb,
	}, nil
}

type codegenRun struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
	Result string      `json:"result"`
}

// StartJob submits a new agent run and returns its job id.
func (c *CodegenClient) StartJob(ctx context.Context, description string) (string, error) {
	if description == "" {
		return "", errors.New("job description cannot be empty")
	}

	body, err := json.Marshal(map[string]string{"prompt": description})
	if err != nil {
		return "", fmt.Errorf("encoding job request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/organizations/%s/agent/run", c.baseURL, c.orgID)
	run, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("starting codegen job: %w", err)
	}
	if run.ID.String() == "" {
		return "", errors.New("codegen response missing job id")
	}
	return run.ID.String(), nil
}

// PollJob queries the current status of a run.
func (c *CodegenClient) PollJob(ctx context.Context, jobID string) (JobStatus, error) {
	url := fmt.Sprintf("%s/v1/organizations/%s/agent/run/%s", c.baseURL, c.orgID, jobID)
	run, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("polling codegen job %s: %w", jobID, err)
	}
	return JobStatus{Raw: run.Status, Result: run.Result}, nil
}

// do executes one request through the circuit breaker.
func (c *CodegenClient) do(ctx context.Context, method, url string, body []byte) (*codegenRun, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("codegen API returned %d: %s", resp.StatusCode, payload)
		}

		var run codegenRun
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			return nil, fmt.Errorf("decoding codegen response: %w", err)
		}
		return &run, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*codegenRun), nil
}
