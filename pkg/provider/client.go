// Package provider adapts the external text-generation service. The
// provider is an opaque collaborator: it either produces a content artifact
// or fails, and its failures are classified into a small stable taxonomy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WriteProRO/writeproro-backendv2/pkg/config"
	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

// Failure taxonomy. The gateway maps these onto caller-visible statuses.
var (
	// ErrQuotaExhausted means the upstream account is out of quota.
	ErrQuotaExhausted = errors.New("generation quota exhausted")
	// ErrUpstreamAuth means the configured upstream credential was rejected.
	ErrUpstreamAuth = errors.New("generation credential rejected")
	// ErrUpstreamUnavailable covers timeouts and transient upstream failures.
	ErrUpstreamUnavailable = errors.New("generation provider unavailable")
)

// Generator produces documentation text for a diagnostic request.
type Generator interface {
	Generate(ctx context.Context, req models.DiagnosticRequest) (string, error)
	Name() string
}

// HTTPClient talks to an OpenAI-style or Anthropic-style HTTP endpoint,
// selected by configuration. Every call is bounded by the configured
// timeout.
type HTTPClient struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds an HTTPClient from provider configuration.
func New(cfg config.ProviderConfig, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Name returns the configured provider name.
func (c *HTTPClient) Name() string { return c.cfg.Name }

// Generate sends the documentation prompt upstream and returns the text.
func (c *HTTPClient) Generate(ctx context.Context, req models.DiagnosticRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		path    string
		body    []byte
		headers map[string]string
		err     error
	)
	prompt := buildPrompt(req)

	switch c.cfg.Type {
	case "anthropic":
		path = "/v1/messages"
		body, err = json.Marshal(anthropicRequest{
			Model:     c.cfg.Model,
			MaxTokens: 2048,
			Messages:  []chatMessage{{Role: "user", Content: prompt}},
		})
		headers = map[string]string{
			"x-api-key":         c.cfg.APIKey,
			"anthropic-version": "2023-06-01",
		}
	default:
		path = "/v1/chat/completions"
		body, err = json.Marshal(chatCompletionRequest{
			Model:    c.cfg.Model,
			Messages: []chatMessage{{Role: "user", Content: prompt}},
		})
		headers = map[string]string{
			"Authorization": "Bearer " + c.cfg.APIKey,
		}
	}
	if err != nil {
		return "", fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.URL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("generation call failed", "provider", c.cfg.Name, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}

	c.logger.Debug("generation call completed",
		"provider", c.cfg.Name,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if err := classifyStatus(resp.StatusCode); err != nil {
		return "", err
	}

	return c.extractContent(respBody)
}

// classifyStatus maps upstream status codes onto the failure taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUpstreamAuth
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return ErrQuotaExhausted
	default:
		return fmt.Errorf("%w: upstream status %d", ErrUpstreamUnavailable, status)
	}
}

func (c *HTTPClient) extractContent(body []byte) (string, error) {
	if c.cfg.Type == "anthropic" {
		var resp anthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
		}
		for _, block := range resp.Content {
			if block.Type == "text" && block.Text != "" {
				return block.Text, nil
			}
		}
		return "", fmt.Errorf("%w: empty completion", ErrUpstreamUnavailable)
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstreamUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// buildPrompt assembles the generation prompt. Prompt quality is outside
// this system's scope; the fields below are the complete contract.
func buildPrompt(req models.DiagnosticRequest) string {
	var b strings.Builder
	b.WriteString("Write a professional diagnostic documentation entry.\n")
	fmt.Fprintf(&b, "Vehicle: %s\n", req.VehicleIdentifier)
	fmt.Fprintf(&b, "Subsystem: %s\n", models.NormalizeSubsystem(req.Subsystem))
	if req.DiagnosticCodes != "" {
		fmt.Fprintf(&b, "Diagnostic codes: %s\n", req.DiagnosticCodes)
	}
	fmt.Fprintf(&b, "Technician notes: %s\n", req.Notes)
	return b.String()
}
