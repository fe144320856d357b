package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func validAlert() Alert {
	return Alert{
		Source:           "prometheus",
		AlertType:        "HighErrorRate",
		Severity:         "P1",
		Message:          "5xx rate above 5% for checkout",
		AffectedServices: []string{"checkout"},
		Timestamp:        "2026-10-16T09:30:00Z",
		Metadata:         map[string]any{"region": "eu-west-1"},
	}
}

func newTestStore(opts ...Option) *Store {
	return NewStore(NewMemoryRepository(), opts...)
}

func createIncident(t *testing.T, s *Store) *Incident {
	t.Helper()
	inc, err := s.Create(context.Background(), validAlert())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return inc
}

// --- Create ---

func TestStore_Create(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	inc := createIncident(t, s)

	if inc.Status != StatusReceived {
		t.Errorf("Status = %s, want RECEIVED", inc.Status)
	}
	if inc.Severity != SeverityP1 {
		t.Errorf("Severity = %s, want P1", inc.Severity)
	}
	if !strings.HasPrefix(inc.ID, "inc-") || len(strings.Split(inc.ID, "-")) != 3 {
		t.Errorf("ID = %q, want inc-<time>-<suffix>", inc.ID)
	}
	if !inc.CreatedAt.Equal(inc.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v", inc.CreatedAt, inc.UpdatedAt)
	}
	if inc.Metadata["alert_type"] != "HighErrorRate" || inc.Metadata["region"] != "eu-west-1" {
		t.Errorf("Metadata = %v", inc.Metadata)
	}

	history, err := s.GetHistory(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly 1 timeline event, got %d", len(history))
	}
	if history[0].Event != "Incident created" {
		t.Errorf("first event = %q", history[0].Event)
	}
}

func TestStore_Create_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Alert)
		field  string
	}{
		{"missing source", func(a *Alert) { a.Source = "" }, "source"},
		{"missing alert type", func(a *Alert) { a.AlertType = "" }, "alert_type"},
		{"missing severity", func(a *Alert) { a.Severity = "" }, "severity"},
		{"unknown severity", func(a *Alert) { a.Severity = "P7" }, "severity"},
		{"missing message", func(a *Alert) { a.Message = "" }, "message"},
		{"no services", func(a *Alert) { a.AffectedServices = nil }, "affected_services"},
		{"empty services", func(a *Alert) { a.AffectedServices = []string{} }, "affected_services"},
		{"missing timestamp", func(a *Alert) { a.Timestamp = "" }, "timestamp"},
		{"bad timestamp", func(a *Alert) { a.Timestamp = "yesterday" }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			s := NewStore(repo)
			alert := validAlert()
			tt.mutate(&alert)

			inc, err := s.Create(context.Background(), alert)
			if inc != nil {
				t.Errorf("expected nil incident, got %+v", inc)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("expected field %q in %v", tt.field, verr.Fields)
			}

			list, _ := s.List(context.Background())
			if len(list) != 0 {
				t.Errorf("validation failure created %d incidents", len(list))
			}
		})
	}
}

func TestStore_Create_ConcurrentUniqueIDs(t *testing.T) {
	s := newTestStore()
	const n = 5

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inc, err := s.Create(context.Background(), validAlert())
			if err != nil {
				t.Errorf("Create() error = %v", err)
				return
			}
			ids <- inc.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct ids, got %d", n, len(seen))
	}
}

// --- Get / List ---

func TestStore_Get_Absent(t *testing.T) {
	s := newTestStore()
	inc, err := s.Get(context.Background(), "inc-missing")
	if err != nil || inc != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", inc, err)
	}
}

func TestStore_Get_ReturnsCopy(t *testing.T) {
	s := newTestStore()
	inc := createIncident(t, s)

	got, _ := s.Get(context.Background(), inc.ID)
	got.Title = "mutated"
	got.Metadata["x"] = 1

	again, _ := s.Get(context.Background(), inc.ID)
	if again.Title == "mutated" || again.Metadata["x"] != nil {
		t.Error("mutating a returned incident changed the stored record")
	}
}

func TestStore_List_Stable(t *testing.T) {
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s := newTestStore(WithClock(func() time.Time { return base }))

	for i := 0; i < 4; i++ {
		createIncident(t, s)
	}

	first, _ := s.List(context.Background())
	second, _ := s.List(context.Background())
	if len(first) != 4 {
		t.Fatalf("List() returned %d incidents", len(first))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("List order changed between calls at %d", i)
		}
		if i > 0 && first[i].CreatedAt.Before(first[i-1].CreatedAt) {
			t.Errorf("List not ordered by created_at at %d", i)
		}
	}
}

// --- UpdateStatus ---

func TestStore_UpdateStatus_ForwardPath(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	inc := createIncident(t, s)

	prev := inc.UpdatedAt
	for _, status := range []Status{StatusInvestigating, StatusAnalyzing, StatusRemediating, StatusResolved} {
		updated, err := s.UpdateStatus(ctx, inc.ID, status)
		if err != nil {
			t.Fatalf("UpdateStatus(%s) error = %v", status, err)
		}
		if updated.Status != status {
			t.Errorf("Status = %s, want %s", updated.Status, status)
		}
		if !updated.UpdatedAt.After(prev) {
			t.Errorf("UpdatedAt did not strictly increase: %v -> %v", prev, updated.UpdatedAt)
		}
		prev = updated.UpdatedAt
	}

	history, _ := s.GetHistory(ctx, inc.ID)
	if len(history) != 5 {
		t.Fatalf("expected 5 events, got %d", len(history))
	}
	last := history[4]
	if last.Event != "Status changed from REMEDIATING to RESOLVED" {
		t.Errorf("last event = %q", last.Event)
	}
	if last.Metadata["previous_status"] != "REMEDIATING" || last.Metadata["new_status"] != "RESOLVED" {
		t.Errorf("last event metadata = %v", last.Metadata)
	}
}

func TestStore_UpdateStatus_Illegal(t *testing.T) {
	tests := []struct {
		name   string
		walkTo []Status
		target Status
	}{
		{"skip to analyzing", nil, StatusAnalyzing},
		{"skip to resolved", nil, StatusResolved},
		{"same status", nil, StatusReceived},
		{"backward", []Status{StatusInvestigating, StatusAnalyzing}, StatusInvestigating},
		{"from resolved", []Status{StatusInvestigating, StatusAnalyzing, StatusRemediating, StatusResolved}, StatusReceived},
		{"unknown status", nil, Status("CLOSED")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			ctx := context.Background()
			inc := createIncident(t, s)
			for _, st := range tt.walkTo {
				if _, err := s.UpdateStatus(ctx, inc.ID, st); err != nil {
					t.Fatalf("setup UpdateStatus(%s) error = %v", st, err)
				}
			}
			before, _ := s.Get(ctx, inc.ID)
			beforeHistory, _ := s.GetHistory(ctx, inc.ID)

			_, err := s.UpdateStatus(ctx, inc.ID, tt.target)
			if !errors.Is(err, ErrStateTransition) {
				t.Fatalf("expected ErrStateTransition, got %v", err)
			}
			var terr *StateTransitionError
			if !errors.As(err, &terr) || terr.From != before.Status || terr.To != tt.target {
				t.Errorf("error = %v, want from %s to %s", err, before.Status, tt.target)
			}

			after, _ := s.Get(ctx, inc.ID)
			if after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
				t.Errorf("rejected transition changed incident: %+v", after)
			}
			afterHistory, _ := s.GetHistory(ctx, inc.ID)
			if len(afterHistory) != len(beforeHistory) {
				t.Errorf("rejected transition appended an event")
			}
		})
	}
}

func TestStore_UpdateStatus_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	s := NewStore(repo)
	ctx := context.Background()
	existing := createIncident(t, s)

	_, err := s.UpdateStatus(ctx, "inc-missing", StatusInvestigating)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	missing, _ := s.GetHistory(ctx, "inc-missing")
	if len(missing) != 0 {
		t.Errorf("timeline created for unknown incident: %v", missing)
	}
	history, _ := s.GetHistory(ctx, existing.ID)
	if len(history) != 1 {
		t.Errorf("unrelated timeline changed: %d events", len(history))
	}
}

func TestStore_UpdateStatus_ConcurrentSingleWinner(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	inc := createIncident(t, s)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.UpdateStatus(ctx, inc.ID, StatusInvestigating); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("expected exactly 1 successful transition, got %d", success)
	}
	history, _ := s.GetHistory(ctx, inc.ID)
	if len(history) != 2 {
		t.Errorf("expected 2 events, got %d", len(history))
	}
}

// --- ReserveCounter ---

func TestStore_ReserveCounter(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	inc := createIncident(t, s)

	for want := 1; want <= 3; want++ {
		got, err := s.ReserveCounter(ctx, inc.ID, MetadataRestartAttempts, 3)
		if err != nil || got != want {
			t.Fatalf("ReserveCounter() = %d, %v, want %d", got, err, want)
		}
	}
	got, err := s.ReserveCounter(ctx, inc.ID, MetadataRestartAttempts, 3)
	if !errors.Is(err, ErrCounterLimit) || got != 3 {
		t.Fatalf("ReserveCounter() at limit = %d, %v", got, err)
	}

	stored, _ := s.Get(ctx, inc.ID)
	if stored.MetadataInt(MetadataRestartAttempts) != 3 || stored.Metadata["region"] != "eu-west-1" {
		t.Errorf("metadata = %v", stored.Metadata)
	}
	history, _ := s.GetHistory(ctx, inc.ID)
	if len(history) != 4 || history[3].Event != "Incident updated: metadata" {
		t.Errorf("history = %v", history)
	}

	if _, err := s.ReserveCounter(ctx, "inc-missing", MetadataRestartAttempts, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ReserveCounter_ConcurrentNeverExceedsLimit(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	inc := createIncident(t, s)
	if _, err := s.UpdateFields(ctx, inc.ID, map[string]any{
		"metadata": map[string]any{MetadataRestartAttempts: 2},
	}); err != nil {
		t.Fatalf("UpdateFields() error = %v", err)
	}

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ReserveCounter(ctx, inc.ID, MetadataRestartAttempts, 3); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if reserved != 1 {
		t.Errorf("reservations = %d, want 1", reserved)
	}
	stored, _ := s.Get(ctx, inc.ID)
	if got := stored.MetadataInt(MetadataRestartAttempts); got != 3 {
		t.Errorf("restart_attempts = %d, want 3", got)
	}
}

func TestStore_LocksAreReleased(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		inc := createIncident(t, s)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.AddTimelineEvent(ctx, inc.ID, "note", nil)
				_, _ = s.UpdateStatus(ctx, inc.ID, StatusInvestigating)
			}()
		}
	}
	wg.Wait()

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if len(s.locks) != 0 {
		t.Errorf("%d lock entries left after all operations finished", len(s.locks))
	}
}

func TestIncident_MetadataInt(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{3, 3}, {int64(2), 2}, {float64(3), 3}, {"4", 4}, {nil, 0}, {"x", 0},
	}
	for _, tt := range tests {
		inc := &Incident{Metadata: map[string]any{"n": tt.in}}
		if got := inc.MetadataInt("n"); got != tt.want {
			t.Errorf("MetadataInt(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// --- UpdateFields ---

func TestStore_UpdateFields(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	inc := createIncident(t, s)

	updated, err := s.UpdateFields(ctx, inc.ID, map[string]any{
		"title":             "Checkout degraded",
		"affected_services": []any{"checkout", "payments"},
		"metadata":          map[string]any{"restart_attempts": 1},
	})
	if err != nil {
		t.Fatalf("UpdateFields() error = %v", err)
	}
	if updated.Title != "Checkout degraded" {
		t.Errorf("Title = %q", updated.Title)
	}
	if len(updated.AffectedServices) != 2 {
		t.Errorf("AffectedServices = %v", updated.AffectedServices)
	}
	if updated.Metadata["restart_attempts"] != 1 || updated.Metadata["region"] != "eu-west-1" {
		t.Errorf("metadata not merged: %v", updated.Metadata)
	}
	if !updated.UpdatedAt.After(inc.UpdatedAt) {
		t.Error("UpdatedAt did not increase")
	}

	history, _ := s.GetHistory(ctx, inc.ID)
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if want := "Incident updated: affected_services, metadata, title"; history[1].Event != want {
		t.Errorf("event = %q, want %q", history[1].Event, want)
	}
}

func TestStore_UpdateFields_Absent(t *testing.T) {
	s := newTestStore()
	inc, err := s.UpdateFields(context.Background(), "inc-missing", map[string]any{"title": "x"})
	if inc != nil || err != nil {
		t.Errorf("UpdateFields(missing) = %v, %v; want nil, nil", inc, err)
	}
}

func TestStore_UpdateFields_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		field  string
	}{
		{"id", map[string]any{"id": "inc-other"}, "id"},
		{"severity", map[string]any{"severity": "P0"}, "severity"},
		{"created_at", map[string]any{"created_at": "2020-01-01T00:00:00Z"}, "created_at"},
		{"updated_at", map[string]any{"updated_at": "2020-01-01T00:00:00Z"}, "updated_at"},
		{"status", map[string]any{"status": "RESOLVED"}, "status"},
		{"unknown", map[string]any{"owner": "alice"}, "owner"},
		{"wrong type", map[string]any{"title": 42}, "title"},
		{"empty services", map[string]any{"affected_services": []any{}}, "affected_services"},
		{"bad services", map[string]any{"affected_services": []any{"a", 1}}, "affected_services"},
		{"bad metadata", map[string]any{"metadata": "x"}, "metadata"},
		{"mixed valid and protected", map[string]any{"title": "ok", "severity": "P0"}, "severity"},
		{"empty", map[string]any{}, "fields"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			ctx := context.Background()
			inc := createIncident(t, s)

			_, err := s.UpdateFields(ctx, inc.ID, tt.fields)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("expected field %q in %v", tt.field, verr.Fields)
			}

			after, _ := s.Get(ctx, inc.ID)
			if after.Title != inc.Title || after.Severity != inc.Severity || !after.UpdatedAt.Equal(inc.UpdatedAt) {
				t.Errorf("rejected update changed incident: %+v", after)
			}
		})
	}
}

// --- Timeline ---

func TestStore_AddTimelineEvent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	inc := createIncident(t, s)

	if err := s.AddTimelineEvent(ctx, inc.ID, "Paged on-call", map[string]any{"who": "sre"}); err != nil {
		t.Fatalf("AddTimelineEvent() error = %v", err)
	}
	history, _ := s.GetHistory(ctx, inc.ID)
	if len(history) != 2 || history[1].Event != "Paged on-call" {
		t.Fatalf("history = %+v", history)
	}

	if err := s.AddTimelineEvent(ctx, "inc-missing", "x", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.AddTimelineEvent(ctx, inc.ID, "  ", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for empty text, got %v", err)
	}
}

func TestStore_GetHistory_UnknownIsEmpty(t *testing.T) {
	s := newTestStore()
	history, err := s.GetHistory(context.Background(), "inc-missing")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", history)
	}
}

func TestStore_GetHistory_SortedUnderInterleaving(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	inc := createIncident(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AddTimelineEvent(ctx, inc.ID, fmt.Sprintf("note %d", i), nil)
		}(i)
	}
	wg.Wait()

	history, _ := s.GetHistory(ctx, inc.ID)
	if len(history) != 21 {
		t.Fatalf("expected 21 events, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

func TestStore_GetHistory_SortsRepositoryOrder(t *testing.T) {
	repo := NewMemoryRepository()
	s := NewStore(repo)
	ctx := context.Background()
	inc := createIncident(t, s)

	// An event written out of order by another writer still reads back sorted
	_ = repo.Append(ctx, TimelineEvent{IncidentID: inc.ID, Event: "late", Timestamp: inc.CreatedAt.Add(time.Hour)})
	_ = repo.Append(ctx, TimelineEvent{IncidentID: inc.ID, Event: "early", Timestamp: inc.CreatedAt.Add(time.Minute)})

	history, _ := s.GetHistory(ctx, inc.ID)
	got := []string{history[0].Event, history[1].Event, history[2].Event}
	want := []string{"Incident created", "early", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history = %v, want %v", got, want)
		}
	}
}

// --- Escalation ---

func TestStore_CheckEscalationThresholds(t *testing.T) {
	var calls int
	evaluator := EvaluatorFunc(func(inc *Incident, now time.Time) bool {
		calls++
		if inc.Title == "boom" {
			panic("bad policy")
		}
		return inc.Severity == SeverityP0
	})
	s := newTestStore(WithEvaluator(evaluator))
	ctx := context.Background()

	p0 := validAlert()
	p0.Severity = "P0"
	flaggedInc, _ := s.Create(ctx, p0)
	createIncident(t, s)
	boom := createIncident(t, s)
	_, _ = s.UpdateFields(ctx, boom.ID, map[string]any{"title": "boom"})

	flagged, err := s.CheckEscalationThresholds(ctx)
	if err != nil {
		t.Fatalf("CheckEscalationThresholds() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("evaluator called %d times, want 3", calls)
	}
	if len(flagged) != 1 || flagged[0].ID != flaggedInc.ID {
		t.Errorf("flagged = %v", flagged)
	}
}

func TestStore_CheckEscalationThresholds_NoEvaluator(t *testing.T) {
	s := newTestStore()
	createIncident(t, s)
	flagged, err := s.CheckEscalationThresholds(context.Background())
	if err != nil || len(flagged) != 0 {
		t.Errorf("got %v, %v; want empty", flagged, err)
	}
}
