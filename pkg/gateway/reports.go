package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// healthResponse reports liveness with per-dependency status strings.
type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "", "")
		return
	}

	deps := map[string]string{}

	switch {
	case s.cache == nil:
		deps["cache"] = "disabled"
	case s.cache.Ping(r.Context()) != nil:
		deps["cache"] = "degraded: store unreachable"
	default:
		deps["cache"] = "ok"
	}

	switch {
	case s.store == nil:
		deps["audit"] = "disabled"
	case s.store.Ping(r.Context()) != nil:
		deps["audit"] = "degraded: store unreachable"
	default:
		deps["audit"] = "ok"
	}

	if s.cfg.Provider.URL == "" {
		deps["provider"] = "unconfigured"
	} else {
		deps["provider"] = "configured: " + s.generator.Name()
	}

	status := "ok"
	for _, v := range deps {
		if strings.HasPrefix(v, "degraded") || v == "unconfigured" {
			status = "degraded"
		}
	}

	s.writeJSON(w, http.StatusOK, healthResponse{Status: status, Dependencies: deps})
}

func (s *Server) handleComplianceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "", "")
		return
	}
	if !s.governRate(w, r, false) {
		return
	}
	if s.reporter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "audit_disabled",
			"compliance reporting requires the audit subsystem", "")
		return
	}

	snapshot, err := s.reporter.StatusLast24h(r.Context())
	if err != nil {
		s.logger.Error("compliance status failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "report_failed", "", "")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleComplianceExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "", "")
		return
	}
	if !s.governRate(w, r, false) {
		return
	}
	if err := s.authorizeExport(r); err != nil {
		s.writeError(w, http.StatusUnauthorized, "export_unauthorized",
			"compliance exports require a valid bearer credential", "")
		return
	}
	if s.reporter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "audit_disabled",
			"compliance reporting requires the audit subsystem", "")
		return
	}

	start, end, verr := parseExportRange(r)
	if verr != nil {
		s.writeError(w, http.StatusBadRequest, "validation_failed", "", verr.Error())
		return
	}

	export, err := s.reporter.Export(r.Context(), start, end)
	if err != nil {
		s.logger.Error("compliance export failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "report_failed", "", "")
		return
	}
	s.writeJSON(w, http.StatusOK, export)
}

// authorizeExport verifies the HS256 bearer token against the configured
// export secret. Claim contents beyond validity are not inspected.
func (s *Server) authorizeExport(r *http.Request) error {
	if s.cfg.ExportSecret == "" {
		return fmt.Errorf("export secret not configured")
	}

	header := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header || strings.TrimSpace(tokenString) == "" {
		return fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(strings.TrimSpace(tokenString), func(token *jwt.Token) (any, error) {
		return []byte(s.cfg.ExportSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

func parseExportRange(r *http.Request) (start, end time.Time, verr *validationError) {
	const layout = "2006-01-02"

	startStr := r.URL.Query().Get("startDate")
	endStr := r.URL.Query().Get("endDate")
	if startStr == "" || endStr == "" {
		return start, end, validationErrorf("startDate and endDate are required (YYYY-MM-DD)")
	}

	start, err := time.Parse(layout, startStr)
	if err != nil {
		return start, end, validationErrorf("startDate must be YYYY-MM-DD")
	}
	end, err = time.Parse(layout, endStr)
	if err != nil {
		return start, end, validationErrorf("endDate must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return start, end, validationErrorf("endDate must not precede startDate")
	}
	return start, end, nil
}
