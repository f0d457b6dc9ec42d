package enrich

import "testing"

func TestLookupKnownSubsystem(t *testing.T) {
	e := Lookup("Engine")
	if e.Protocol != "OBD-II / SAE J1979" {
		t.Errorf("unexpected protocol %q", e.Protocol)
	}
	if e.SuccessRate <= 0 || e.SuccessRate > 1 {
		t.Errorf("success rate out of range: %f", e.SuccessRate)
	}
	if e.TimeEstimate == "" {
		t.Error("expected a time estimate")
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	if Lookup("brakes") != Lookup("Brakes") {
		t.Error("lookup should normalize subsystem casing")
	}
}

func TestLookupUnknownFallsBack(t *testing.T) {
	e := Lookup("Flux Capacitor")
	if e.Protocol != "General diagnostic procedure" {
		t.Errorf("expected fallback entry, got %q", e.Protocol)
	}
}
