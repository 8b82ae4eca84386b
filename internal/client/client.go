// Package client defines the engine's outbound collaborator contracts: the
// task runner that performs a task step's actual work, and the inference
// service backing ai-decision conditions and ai-generation dynamic tasks
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomhq/loom/pkg/api"
)

type (
	// TaskRunner executes a task step's command
	TaskRunner interface {
		Run(
			ctx context.Context, command, agentType string, vars api.Vars,
		) (any, error)
	}

	// Inference answers natural-language prompts for ai-decision
	// conditions and ai-generation task batches
	Inference interface {
		Ask(ctx context.Context, prompt string, vars api.Vars) (string, error)
	}

	// HTTPTaskRunner delegates task execution to a remote runner endpoint
	HTTPTaskRunner struct {
		httpClient *http.Client
		endpoint   string
	}

	// HTTPInference delegates prompts to a remote inference endpoint
	HTTPInference struct {
		httpClient *http.Client
		endpoint   string
	}

	taskRequest struct {
		Command   string   `json:"command"`
		AgentType string   `json:"agent_type,omitempty"`
		Variables api.Vars `json:"variables,omitempty"`
	}

	taskResponse struct {
		Output  any    `json:"output,omitempty"`
		Error   string `json:"error,omitempty"`
		Success bool   `json:"success"`
	}

	askRequest struct {
		Prompt  string   `json:"prompt"`
		Context api.Vars `json:"context,omitempty"`
	}

	askResponse struct {
		Response string `json:"response"`
	}
)

var (
	ErrTaskUnsuccessful = errors.New("task runner returned success=false")
	ErrHTTPStatus       = errors.New("collaborator returned HTTP error")
)

var (
	_ TaskRunner = (*HTTPTaskRunner)(nil)
	_ Inference  = (*HTTPInference)(nil)
)

// NewHTTPTaskRunner creates a task runner client for the given endpoint
func NewHTTPTaskRunner(endpoint string, timeout time.Duration) *HTTPTaskRunner {
	return &HTTPTaskRunner{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
}

func (c *HTTPTaskRunner) Run(
	ctx context.Context, command, agentType string, vars api.Vars,
) (any, error) {
	var res taskResponse
	err := postJSON(ctx, c.httpClient, c.endpoint, taskRequest{
		Command:   command,
		AgentType: agentType,
		Variables: vars,
	}, &res)
	if err != nil {
		return nil, err
	}

	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrTaskUnsuccessful, res.Error)
	}
	return res.Output, nil
}

// NewHTTPInference creates an inference client for the given endpoint
func NewHTTPInference(endpoint string, timeout time.Duration) *HTTPInference {
	return &HTTPInference{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}
}

func (c *HTTPInference) Ask(
	ctx context.Context, prompt string, vars api.Vars,
) (string, error) {
	var res askResponse
	err := postJSON(ctx, c.httpClient, c.endpoint, askRequest{
		Prompt:  prompt,
		Context: vars,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.Response, nil
}

func postJSON(
	ctx context.Context, client *http.Client, endpoint string,
	payload, result any,
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, bytes.NewBuffer(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}
	return json.Unmarshal(data, result)
}
