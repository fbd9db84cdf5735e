// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     upstream
// Description: Streaming client for the text generation backend
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

// Config holds client configuration
type Config struct {
	// Endpoint is the full generate URL, e.g. http://localhost:11434/api/generate
	Endpoint       string
	Model          string
	ConnectTimeout time.Duration
	AbortTimeout   time.Duration
	Logger         *logging.Logger
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Endpoint:       "http://localhost:11434/api/generate",
		Model:          "deepseek-r1:1.5b",
		ConnectTimeout: 10 * time.Second,
		AbortTimeout:   3 * time.Second,
	}
}

// GenerateRequest is the request body sent to the backend
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// GenerateResponse is one newline-delimited chunk of the response
type GenerateResponse struct {
	Model    string `json:"model,omitempty"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Client opens generations against one backend endpoint
type Client struct {
	endpoint     string
	model        string
	httpClient   *http.Client
	abortTimeout time.Duration
	logger       *logging.Logger
}

// NewClient creates a new client. The HTTP client carries no overall timeout
// because responses are streamed; only dialing and headers are bounded.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.AbortTimeout <= 0 {
		cfg.AbortTimeout = def.AbortTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("upstream")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = 0

	return &Client{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		httpClient:   &http.Client{Transport: transport},
		abortTimeout: cfg.AbortTimeout,
		logger:       cfg.Logger,
	}
}

// Endpoint returns the generate URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Model returns the model name sent with each request
func (c *Client) Model() string {
	return c.model
}

// Generate prepares a streaming generation for prompt. The connection is
// opened by the first call to Next, so the handle can be installed and
// cancelled before any network I/O happens.
func (c *Client) Generate(ctx context.Context, prompt string) (*Generation, error) {
	body, err := json.Marshal(GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: true,
	})
	if err != nil {
		return nil, fault.Wrap(err, "failed to marshal request").WithCode(fault.CodeInternal)
	}

	genCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(genCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fault.Wrap(err, "failed to create request").WithCode(fault.CodeInvalidInput)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	return &Generation{
		client: c,
		req:    req,
		cancel: cancel,
		logger: c.logger,
	}, nil
}

// abort sends the out-of-band DELETE. Failures are only logged.
func (c *Client) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), c.abortTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint, nil)
	if err != nil {
		c.logger.Debug("abort request not created", "error", err)
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("abort request failed", "error", err)
		return
	}
	resp.Body.Close()
	c.logger.Debug("abort sent", "status", resp.StatusCode)
}
