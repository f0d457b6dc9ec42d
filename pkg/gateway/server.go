// Package gateway composes the documentation pipeline behind an HTTP
// surface: rate governance, request validation, cache lookup, generation,
// enrichment and audit emission, one terminal response per request.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/WriteProRO/writeproro-backendv2/pkg/audit"
	cachepkg "github.com/WriteProRO/writeproro-backendv2/pkg/cache/sqlite"
	"github.com/WriteProRO/writeproro-backendv2/pkg/compliance"
	"github.com/WriteProRO/writeproro-backendv2/pkg/config"
	"github.com/WriteProRO/writeproro-backendv2/pkg/fingerprint"
	"github.com/WriteProRO/writeproro-backendv2/pkg/provider"
	"github.com/WriteProRO/writeproro-backendv2/pkg/ratelimit"
)

// Server is the documentation gateway.
type Server struct {
	cfg       *config.Config
	fp        fingerprint.Builder
	cache     *cachepkg.Cache // nil when caching is disabled
	generator provider.Generator
	store     *audit.Store // nil when audit is disabled
	sink      *audit.Sink
	governor  *ratelimit.Governor
	reporter  *compliance.Reporter // nil when audit is disabled
	logger    *slog.Logger

	// flight coalesces concurrent generations for the same fingerprint.
	// A cost optimization only; duplicate calls on a miss race are tolerated.
	flight singleflight.Group

	mux *http.ServeMux
}

// New creates a gateway Server wired with all dependencies. cache, store
// and reporter may be nil when the corresponding subsystem is disabled.
func New(cfg *config.Config, gen provider.Generator, c *cachepkg.Cache, store *audit.Store, sink *audit.Sink, gov *ratelimit.Governor, rep *compliance.Reporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		fp:        fingerprint.New(cfg.Cache.NotesPrefixLen),
		cache:     c,
		generator: gen,
		store:     store,
		sink:      sink,
		governor:  gov,
		reporter:  rep,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/generate-documentation", s.handleGenerate)
	if cfg.Rate.ElevatedPrefix != "" {
		s.mux.HandleFunc(cfg.Rate.ElevatedPrefix+"generate-documentation", s.handleGenerate)
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/compliance/status", s.handleComplianceStatus)
	s.mux.HandleFunc("/api/compliance/export", s.handleComplianceExport)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// isElevated reports whether the request targets a compliance-sensitive
// route, by reserved path prefix or explicit header.
func (s *Server) isElevated(r *http.Request) bool {
	if s.cfg.Rate.ElevatedPrefix != "" && strings.HasPrefix(r.URL.Path, s.cfg.Rate.ElevatedPrefix) {
		return true
	}
	return r.Header.Get("X-Compliance-Elevated") == "true"
}

// clientKey resolves the caller key used for rate governance and audit
// source attribution: first X-Forwarded-For hop, else the remote address.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// errorBody is the caller-visible failure envelope.
type errorBody struct {
	Error          string `json:"error"`
	ComplianceNote string `json:"complianceNote,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, category, note, detail string) {
	s.writeJSON(w, code, errorBody{Error: category, ComplianceNote: note, Detail: detail})
}

// governRate applies the rate policies and writes the rejection when a
// ceiling is hit. Returns true when the request may proceed.
func (s *Server) governRate(w http.ResponseWriter, r *http.Request, elevated bool) bool {
	err := s.governor.Allow(clientKey(r), elevated)
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ratelimit.ErrElevatedLimited):
		s.writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
			"compliance-mandated throttling: elevated request ceiling reached", "")
	default:
		s.writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
			"general request ceiling reached", "")
	}
	return false
}
