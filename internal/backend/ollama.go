package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// OllamaClient talks to one Ollama runtime plus the node agent's stats probe
// served on the same host.
type OllamaClient struct {
	client    *resty.Client
	model     string
	probePath string
}

// OllamaOptions configures timeouts for an OllamaClient. Probe calls are
// bounded by the caller's context rather than a client-level timeout.
type OllamaOptions struct {
	GenerateTimeout time.Duration
	ConnectTimeout  time.Duration
	ProbePath       string
}

// NewOllamaClient constructs a client for the given base URL and model.
func NewOllamaClient(baseURL, model string, opts OllamaOptions) *OllamaClient {
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 90 * time.Second
	}
	if opts.ProbePath == "" {
		opts.ProbePath = "/api/stats"
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(opts.GenerateTimeout)
	if opts.ConnectTimeout > 0 {
		dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
		c.SetTransport(&http.Transport{
			DialContext:     dialer.DialContext,
			IdleConnTimeout: 90 * time.Second,
		})
	}
	return &OllamaClient{client: c, model: model, probePath: opts.ProbePath}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate produces a completion for prompt, capped at maxTokens.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := generateRequest{Model: o.model, Prompt: prompt, Stream: false}
	if maxTokens > 0 {
		req.Options = map[string]any{"num_predict": maxTokens}
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(&req).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("ollama generate status %d: %s", resp.StatusCode(), resp.String())
	}

	var gr generateResponse
	if err := json.Unmarshal(resp.Body(), &gr); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if gr.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", gr.Error)
	}
	return gr.Response, nil
}

// StatsProbe fetches the current utilization and free resource from the node
// agent. Callers bound the wait through ctx.
func (o *OllamaClient) StatsProbe(ctx context.Context) (Stats, error) {
	resp, err := o.client.R().
		SetContext(ctx).
		Get(o.probePath)
	if err != nil {
		return Stats{}, fmt.Errorf("stats probe: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Stats{}, fmt.Errorf("stats probe status %d", resp.StatusCode())
	}

	var s Stats
	if err := json.Unmarshal(resp.Body(), &s); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	if s.Utilization < 0 || s.Utilization > 1 {
		return Stats{}, fmt.Errorf("stats probe: utilization out of range: %v", s.Utilization)
	}
	return s, nil
}
