package models

import (
	"strings"
	"time"
)

// VehicleIdentifierLength is the exact length a VIN must have to be accepted.
const VehicleIdentifierLength = 17

// KnownSubsystems is the bounded set of subsystem categories the enrichment
// tables understand. Anything else falls back to SubsystemUnknown.
var KnownSubsystems = []string{
	"Engine",
	"Transmission",
	"Brakes",
	"Electrical",
	"Suspension",
	"HVAC",
	"Emissions",
}

// SubsystemUnknown is the fallback category for unrecognized subsystems.
const SubsystemUnknown = "unknown"

// DiagnosticRequest is the canonical internal representation of an inbound
// documentation request. It is created once per call, tagged by the gateway
// (elevated flag, source address), and never mutated afterwards.
type DiagnosticRequest struct {
	VehicleIdentifier string
	Subsystem         string
	DiagnosticCodes   string
	Notes             string
	Submitter         string
	Organization      string

	// Caller identity for audit attribution; "anonymous" when absent.
	Caller     string
	Authorized bool

	// Set by the gateway, not the client.
	Elevated   bool
	SourceAddr string
	ReceivedAt time.Time
}

// VINSuffix returns the last four characters of the vehicle identifier.
// Only this suffix may ever reach the audit trail.
func (r DiagnosticRequest) VINSuffix() string {
	if len(r.VehicleIdentifier) <= 4 {
		return r.VehicleIdentifier
	}
	return r.VehicleIdentifier[len(r.VehicleIdentifier)-4:]
}

// NormalizeSubsystem maps a free-form subsystem string onto the known set,
// case-insensitively, falling back to SubsystemUnknown.
func NormalizeSubsystem(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, s := range KnownSubsystems {
		if strings.EqualFold(raw, s) {
			return s
		}
	}
	return SubsystemUnknown
}
