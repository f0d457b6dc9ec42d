// Package enrich derives contextual data for generated documentation from
// static per-subsystem lookup tables.
package enrich

import "github.com/WriteProRO/writeproro-backendv2/pkg/models"

// tables maps each known subsystem to its diagnostic protocol label,
// historical success-rate estimate and shop time estimate. Unknown
// subsystems resolve to the fallback entry.
var tables = map[string]models.Enrichment{
	"Engine":       {Protocol: "OBD-II / SAE J1979", SuccessRate: 0.92, TimeEstimate: "1.5-3.0 hours"},
	"Transmission": {Protocol: "OBD-II / SAE J2534", SuccessRate: 0.84, TimeEstimate: "2.0-4.5 hours"},
	"Brakes":       {Protocol: "ABS/EBCM scan", SuccessRate: 0.95, TimeEstimate: "1.0-2.0 hours"},
	"Electrical":   {Protocol: "DVOM + wiring diagram trace", SuccessRate: 0.78, TimeEstimate: "1.5-4.0 hours"},
	"Suspension":   {Protocol: "Visual + ride-height measurement", SuccessRate: 0.9, TimeEstimate: "1.0-2.5 hours"},
	"HVAC":         {Protocol: "Manifold gauge + actuator scan", SuccessRate: 0.88, TimeEstimate: "1.0-3.0 hours"},
	"Emissions":    {Protocol: "OBD-II mode 06 / smoke test", SuccessRate: 0.81, TimeEstimate: "1.5-3.5 hours"},
}

// fallback is returned for any subsystem outside the known set.
var fallback = models.Enrichment{
	Protocol:     "General diagnostic procedure",
	SuccessRate:  0.7,
	TimeEstimate: "2.0-5.0 hours",
}

// Lookup returns the enrichment for a subsystem, normalizing the name first.
// It never fails; unknown subsystems get the fallback entry.
func Lookup(subsystem string) models.Enrichment {
	if e, ok := tables[models.NormalizeSubsystem(subsystem)]; ok {
		return e
	}
	return fallback
}
