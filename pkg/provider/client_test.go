package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WriteProRO/writeproro-backendv2/pkg/config"
	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

func testRequest() models.DiagnosticRequest {
	return models.DiagnosticRequest{
		VehicleIdentifier: "1HGBH41JXMN109186",
		Subsystem:         "Engine",
		DiagnosticCodes:   "P0301",
		Notes:             "misfire under load",
	}
}

func newClient(upstreamURL, providerType string) *HTTPClient {
	return New(config.ProviderConfig{
		Name:    "test",
		Type:    providerType,
		URL:     upstreamURL,
		APIKey:  "sk-provider",
		Model:   "test-model",
		Timeout: 2 * time.Second,
	}, nil)
}

func TestGenerateOpenAI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-provider" {
			t.Error("expected provider API key in upstream request")
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode upstream body: %v", err)
		}
		if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "1HGBH41JXMN109186") {
			t.Error("prompt should carry the vehicle identifier")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "Replace coil."}, "finish_reason": "stop"},
			},
		})
	}))
	defer upstream.Close()

	got, err := newClient(upstream.URL, "openai").Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Replace coil." {
		t.Errorf("unexpected content %q", got)
	}
}

func TestGenerateAnthropic(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-provider" {
			t.Error("expected x-api-key header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "msg-1",
			"content": []map[string]string{{"type": "text", "text": "Bleed brake lines."}},
		})
	}))
	defer upstream.Close()

	got, err := newClient(upstream.URL, "anthropic").Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Bleed brake lines." {
		t.Errorf("unexpected content %q", got)
	}
}

func TestGenerateClassifiesQuota(t *testing.T) {
	for _, status := range []int{http.StatusPaymentRequired, http.StatusTooManyRequests} {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := newClient(upstream.URL, "openai").Generate(context.Background(), testRequest())
		if !errors.Is(err, ErrQuotaExhausted) {
			t.Errorf("status %d: expected ErrQuotaExhausted, got %v", status, err)
		}
		upstream.Close()
	}
}

func TestGenerateClassifiesAuth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	_, err := newClient(upstream.URL, "openai").Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrUpstreamAuth) {
		t.Errorf("expected ErrUpstreamAuth, got %v", err)
	}
}

func TestGenerateClassifiesServerError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	_, err := newClient(upstream.URL, "openai").Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestGenerateTimeoutIsUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer upstream.Close()

	c := New(config.ProviderConfig{
		Name:    "slow",
		URL:     upstream.URL,
		Timeout: 50 * time.Millisecond,
	}, nil)

	_, err := c.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected timeout to classify as unavailable, got %v", err)
	}
}

func TestGenerateEmptyCompletion(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "chatcmpl-2", "choices": []any{}})
	}))
	defer upstream.Close()

	_, err := newClient(upstream.URL, "openai").Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected empty completion to be unavailable, got %v", err)
	}
}
