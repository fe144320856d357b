package alerts

import (
	"testing"

	"github.com/akmatori/incidentflow/internal/incidents"
)

func TestNormalizeSeverity_CustomMapping(t *testing.T) {
	mapping := map[incidents.Severity][]string{
		incidents.SeverityP1: {"sev2"},
	}
	if got := NormalizeSeverity("SEV2", mapping); got != incidents.SeverityP1 {
		t.Errorf("got %s, want P1", got)
	}
	if got := NormalizeSeverity("sev9", mapping); got != incidents.SeverityP2 {
		t.Errorf("unknown severity should map to P2, got %s", got)
	}
}

func TestIsFiring(t *testing.T) {
	tests := map[string]bool{
		"firing":   true,
		"alerting": true,
		"":         true,
		"resolved": false,
		"OK":       false,
		"recovery": false,
	}
	for status, want := range tests {
		if got := IsFiring(status); got != want {
			t.Errorf("IsFiring(%q) = %v, want %v", status, got, want)
		}
	}
}
