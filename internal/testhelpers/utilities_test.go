package testhelpers

import (
	"context"
	"testing"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/notify"
)

func TestAssertSliceHelpers(t *testing.T) {
	AssertSliceContains(t, []string{"restart_service", "scale_up"}, "scale_up", "contains")
	AssertSliceLen(t, []int{1, 2, 3}, 3, "len")
}

func TestAssertTimeline(t *testing.T) {
	events := []incidents.TimelineEvent{
		{Event: "Incident created from prometheus alert"},
		{Event: "Status changed from RECEIVED to ANALYZING"},
	}
	AssertTimeline(t, events, "Incident created*", "Status changed from RECEIVED to ANALYZING")
}

func TestAssertNotified(t *testing.T) {
	n := &RecordingNotifier{}
	ctx := context.Background()
	_ = n.Send(ctx, notify.Notification{Kind: notify.KindEscalation, IncidentID: "inc-1"})
	_ = n.Send(ctx, notify.Notification{Kind: notify.KindEscalation, IncidentID: "inc-2"})
	_ = n.Send(ctx, notify.Notification{Kind: notify.KindRollback, IncidentID: "inc-1"})

	AssertNotified(t, n, notify.KindEscalation, "inc-1", 1)
	AssertNotified(t, n, notify.KindRollback, "inc-2", 0)
}
