package testhelpers

import (
	"strings"
	"testing"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/notify"
)

// AssertSliceLen checks if a slice has a specific length
func AssertSliceLen[T any](t *testing.T, slice []T, expectedLen int, msg string) {
	t.Helper()
	if len(slice) != expectedLen {
		t.Errorf("%s: expected slice length %d, got %d", msg, expectedLen, len(slice))
	}
}

// AssertSliceContains checks if a slice contains a specific element
func AssertSliceContains[T comparable](t *testing.T, slice []T, elem T, msg string) {
	t.Helper()
	for _, e := range slice {
		if e == elem {
			return
		}
	}
	t.Errorf("%s: %v not found in %v", msg, elem, slice)
}

// AssertTimeline checks event texts in order. A want entry ending in "*" matches by prefix.
func AssertTimeline(t *testing.T, events []incidents.TimelineEvent, want ...string) {
	t.Helper()
	got := make([]string, len(events))
	for i, e := range events {
		got[i] = e.Event
	}
	if len(got) != len(want) {
		t.Fatalf("timeline = %q, want %d events %q", got, len(want), want)
	}
	for i, w := range want {
		if prefix, ok := strings.CutSuffix(w, "*"); ok {
			if !strings.HasPrefix(got[i], prefix) {
				t.Errorf("timeline[%d] = %q, want prefix %q", i, got[i], prefix)
			}
			continue
		}
		if got[i] != w {
			t.Errorf("timeline[%d] = %q, want %q", i, got[i], w)
		}
	}
}

// AssertNotified checks that n recorded exactly count notifications of kind for incidentID
func AssertNotified(t *testing.T, n *RecordingNotifier, kind notify.Kind, incidentID string, count int) {
	t.Helper()
	matched := 0
	for _, sent := range n.OfKind(kind) {
		if sent.IncidentID == incidentID {
			matched++
		}
	}
	if matched != count {
		t.Errorf("%s notifications for %s = %d, want %d", kind, incidentID, matched, count)
	}
}
