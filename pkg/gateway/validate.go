package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

// generateRequest is the inbound JSON body for documentation requests.
type generateRequest struct {
	VehicleIdentifier string              `json:"vehicleIdentifier"`
	Subsystem         string              `json:"subsystem"`
	DiagnosticCodes   string              `json:"diagnosticCodes,omitempty"`
	Notes             string              `json:"notes"`
	Submitter         string              `json:"submitter,omitempty"`
	Organization      string              `json:"organization,omitempty"`
	Authorization     *authorizationBlock `json:"authorization,omitempty"`
}

type authorizationBlock struct {
	Caller     string `json:"caller"`
	Authorized bool   `json:"authorized"`
}

const generateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["vehicleIdentifier", "subsystem", "notes"],
  "properties": {
    "vehicleIdentifier": {"type": "string", "minLength": 1},
    "subsystem": {"type": "string", "minLength": 1},
    "diagnosticCodes": {"type": "string"},
    "notes": {"type": "string", "minLength": 1},
    "submitter": {"type": "string"},
    "organization": {"type": "string"},
    "authorization": {
      "type": "object",
      "properties": {
        "caller": {"type": "string"},
        "authorized": {"type": "boolean"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var generateSchema = jsonschema.MustCompileString("generate-request.json", generateSchemaJSON)

// validationError is a caller-visible 400 with a field-specific message.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) *validationError {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// decodeGenerateRequest validates the raw body structurally against the
// JSON schema, then decodes it strictly and applies semantic checks.
func decodeGenerateRequest(body []byte) (generateRequest, *validationError) {
	var req generateRequest

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return req, validationErrorf("request body is not valid JSON")
	}
	if err := generateSchema.Validate(payload); err != nil {
		return req, validationErrorf("invalid request: %s", schemaFailure(err))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, validationErrorf("invalid request: %v", err)
	}

	if utf8.RuneCountInString(req.VehicleIdentifier) != models.VehicleIdentifierLength {
		return req, validationErrorf("vehicleIdentifier must be exactly %d characters", models.VehicleIdentifierLength)
	}
	return req, nil
}

// schemaFailure extracts the most specific cause from a schema validation
// error, prefixed with the offending field path.
func schemaFailure(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := strings.TrimPrefix(ve.InstanceLocation, "/")
	if loc == "" {
		return ve.Message
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(loc, "/", "."), ve.Message)
}

// toDiagnosticRequest converts the wire body into the canonical internal
// request, carrying caller identity from the optional authorization block.
func toDiagnosticRequest(req generateRequest) models.DiagnosticRequest {
	d := models.DiagnosticRequest{
		VehicleIdentifier: req.VehicleIdentifier,
		Subsystem:         req.Subsystem,
		DiagnosticCodes:   req.DiagnosticCodes,
		Notes:             req.Notes,
		Submitter:         req.Submitter,
		Organization:      req.Organization,
	}
	if req.Authorization != nil {
		d.Caller = req.Authorization.Caller
		d.Authorized = req.Authorization.Authorized
	}
	return d
}
