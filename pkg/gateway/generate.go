package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/WriteProRO/writeproro-backendv2/pkg/enrich"
	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
	"github.com/WriteProRO/writeproro-backendv2/pkg/provider"
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 1 << 20

// generateResponse is the success envelope for documentation requests.
type generateResponse struct {
	Success    bool               `json:"success"`
	Content    string             `json:"content"`
	Enrichment *models.Enrichment `json:"enrichment,omitempty"`
	Compliance complianceBlock    `json:"compliance"`
	Metadata   metadataBlock      `json:"metadata"`
}

type complianceBlock struct {
	Attribution string `json:"attribution"`
	Authorized  bool   `json:"authorized"`
	Tracked     bool   `json:"tracked"`
	AuditID     string `json:"auditId"`
}

type metadataBlock struct {
	Timestamp        string `json:"timestamp"`
	Subsystem        string `json:"subsystem"`
	IdentifierSuffix string `json:"identifierSuffix"`
	CacheServed      bool   `json:"cacheServed"`
}

// handleGenerate runs the request pipeline: govern rate, validate, tag
// elevated, consult cache, generate on miss, enrich, store, emit audit
// events. Every branch terminates in exactly one response.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "", "")
		return
	}

	elevated := s.isElevated(r)
	if !s.governRate(w, r, elevated) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "", "failed to read request body")
		return
	}
	r.Body.Close()

	wire, verr := decodeGenerateRequest(body)
	if verr != nil {
		s.writeError(w, http.StatusBadRequest, "validation_failed", "", verr.Error())
		return
	}

	req := toDiagnosticRequest(wire)
	req.Elevated = elevated
	req.SourceAddr = clientKey(r)
	req.ReceivedAt = time.Now().UTC()

	// Elevated access is logged inline: downstream accountability depends
	// on it. Its failure is still absorbed, never surfaced.
	if elevated {
		s.recordAccess(r.URL.Path, req)
	}

	fp := s.fp.Compute(req)

	if s.cache != nil {
		if artifact, ok := s.cache.Get(r.Context(), fp); ok {
			s.respond(w, req, artifact, true)
			return
		}
	}

	v, err, _ := s.flight.Do(fp, func() (any, error) {
		// Deliberately detached from the request context: a caller
		// disconnect must not abort a generation other waiters share, and
		// a completed artifact is worth caching either way. The provider
		// timeout still bounds the call.
		ctx := context.Background()
		content, err := s.generator.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		artifact := models.Artifact{
			Content:     content,
			Enrichment:  enrich.Lookup(req.Subsystem),
			Subsystem:   models.NormalizeSubsystem(req.Subsystem),
			GeneratedAt: time.Now().UTC(),
		}
		if s.cache != nil {
			s.cache.Put(ctx, fp, artifact, s.cfg.Cache.TTL)
		}
		return artifact, nil
	})
	if err != nil {
		s.writeGenerateError(w, req, err)
		return
	}

	s.respond(w, req, v.(models.Artifact), false)
}

// respond assembles the success envelope and emits the usage event.
func (s *Server) respond(w http.ResponseWriter, req models.DiagnosticRequest, artifact models.Artifact, cacheServed bool) {
	auditID := newAuditID()

	s.emitUsage(req, cacheServed, auditID)

	s.writeJSON(w, http.StatusOK, generateResponse{
		Success:    true,
		Content:    artifact.Content,
		Enrichment: &artifact.Enrichment,
		Compliance: complianceBlock{
			Attribution: attribution(req),
			Authorized:  req.Authorized,
			Tracked:     s.sink != nil,
			AuditID:     auditID,
		},
		Metadata: metadataBlock{
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			Subsystem:        artifact.Subsystem,
			IdentifierSuffix: req.VINSuffix(),
			CacheServed:      cacheServed,
		},
	})
}

// writeGenerateError maps the provider failure taxonomy onto caller-visible
// statuses. Full detail is withheld in production.
func (s *Server) writeGenerateError(w http.ResponseWriter, req models.DiagnosticRequest, err error) {
	s.logger.Error("generation failed",
		"subsystem", req.Subsystem,
		"identifier_suffix", req.VINSuffix(),
		"error", err)

	detail := ""
	if !s.cfg.IsProduction() {
		detail = err.Error()
	}

	switch {
	case errors.Is(err, provider.ErrQuotaExhausted):
		s.writeError(w, http.StatusPaymentRequired, "quota_exhausted",
			"generation quota exhausted; no usage was recorded", detail)
	case errors.Is(err, provider.ErrUpstreamAuth):
		s.writeError(w, http.StatusUnauthorized, "upstream_auth_failed",
			"generation credential rejected; no usage was recorded", detail)
	default:
		s.writeError(w, http.StatusInternalServerError, "generation_failed",
			"documentation generation failed; no usage was recorded", detail)
	}
}

// recordAccess writes the elevated-path access event. The durable write is
// inline with its own short timeout; a failure is logged and absorbed.
func (s *Server) recordAccess(endpoint string, req models.DiagnosticRequest) {
	ev := models.AccessEvent{
		ID:         uuid.NewString(),
		Caller:     req.Caller,
		Endpoint:   endpoint,
		SourceAddr: req.SourceAddr,
		Authorized: req.Authorized,
		Metadata:   map[string]string{"subsystem": models.NormalizeSubsystem(req.Subsystem)},
		CreatedAt:  time.Now().UTC(),
	}

	if s.store == nil {
		if s.sink != nil {
			s.sink.EmitAccess(ev)
		}
		return
	}

	timeout := s.cfg.Audit.WriteTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.store.WriteAccess(ctx, ev); err != nil {
		s.logger.Error("access log write failed", "endpoint", endpoint, "error", err)
	}
}

// emitUsage hands the usage event to the async audit pipeline.
func (s *Server) emitUsage(req models.DiagnosticRequest, cacheServed bool, auditID string) {
	if s.sink == nil {
		return
	}
	s.sink.EmitUsage(models.UsageEvent{
		Caller:       req.Caller,
		VINSuffix:    req.VINSuffix(),
		Subsystem:    models.NormalizeSubsystem(req.Subsystem),
		Submitter:    req.Submitter,
		Organization: req.Organization,
		CacheServed:  cacheServed,
		Enhanced:     true,
		Metadata: map[string]string{
			"auditId":  auditID,
			"elevated": strconv.FormatBool(req.Elevated),
		},
	})
}

// newAuditID builds a unique per-response audit identifier from a time
// component and a random component.
func newAuditID() string {
	return fmt.Sprintf("%d-%s", time.Now().UTC().UnixNano(), uuid.NewString()[:8])
}

// attribution names the responsible party for the compliance block.
func attribution(req models.DiagnosticRequest) string {
	switch {
	case req.Submitter != "" && req.Organization != "":
		return req.Submitter + " / " + req.Organization
	case req.Submitter != "":
		return req.Submitter
	case req.Caller != "":
		return req.Caller
	default:
		return models.AnonymousCaller
	}
}
