package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/akmatori/incidentflow/internal/incidents"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// A single connection keeps every query on the same in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestRepository_GetMissing(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	inc, err := repo.Get(context.Background(), "inc-missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if inc != nil {
		t.Errorf("Get() = %+v, want nil", inc)
	}
}

func TestRepository_SaveUpserts(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	inc := &incidents.Incident{
		ID:               "inc-1",
		Severity:         incidents.SeverityP0,
		Status:           incidents.StatusReceived,
		AffectedServices: []string{"api", "db"},
		Metadata:         map[string]any{"region": "eu"},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	created := incidents.TimelineEvent{IncidentID: "inc-1", Event: "Incident created", Timestamp: now}
	if err := repo.Save(ctx, inc, created); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	inc.Status = incidents.StatusAnalyzing
	inc.UpdatedAt = now.Add(time.Second)
	changed := incidents.TimelineEvent{
		IncidentID: "inc-1",
		Event:      "Status changed from RECEIVED to ANALYZING",
		Timestamp:  now.Add(time.Second),
		Metadata:   map[string]any{"previous_status": "RECEIVED"},
	}
	if err := repo.Save(ctx, inc, changed); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.Get(ctx, "inc-1")
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if got.Status != incidents.StatusAnalyzing {
		t.Errorf("Status = %s, want ANALYZING", got.Status)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now.Add(time.Second)) {
		t.Errorf("timestamps changed: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
	if len(got.AffectedServices) != 2 || got.AffectedServices[1] != "db" {
		t.Errorf("AffectedServices = %v", got.AffectedServices)
	}
	if got.Metadata["region"] != "eu" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	timeline, err := repo.Timeline(ctx, "inc-1")
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 events, got %d", len(timeline))
	}
	if timeline[1].Metadata["previous_status"] != "RECEIVED" {
		t.Errorf("event metadata = %v", timeline[1].Metadata)
	}
	if timeline[0].Metadata != nil {
		t.Errorf("event without metadata decoded as %v", timeline[0].Metadata)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("List() = %v, %v", list, err)
	}
}

func TestRepository_TimelineOrdering(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	// Same timestamp falls back to insertion order.
	events := []incidents.TimelineEvent{
		{IncidentID: "inc-1", Event: "third", Timestamp: base.Add(2 * time.Second)},
		{IncidentID: "inc-1", Event: "first", Timestamp: base},
		{IncidentID: "inc-1", Event: "second", Timestamp: base},
		{IncidentID: "inc-2", Event: "other", Timestamp: base},
	}
	for _, e := range events {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := repo.Timeline(ctx, "inc-1")
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Event != w {
			t.Errorf("event[%d] = %q, want %q", i, got[i].Event, w)
		}
	}

	empty, err := repo.Timeline(ctx, "inc-none")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("Timeline(unknown) = %v, %v", empty, err)
	}
}

func TestRepository_ListOrderedByCreation(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	for _, inc := range []*incidents.Incident{
		{ID: "inc-c", Status: incidents.StatusReceived, CreatedAt: base.Add(time.Minute)},
		{ID: "inc-b", Status: incidents.StatusReceived, CreatedAt: base},
		{ID: "inc-a", Status: incidents.StatusReceived, CreatedAt: base},
	} {
		if err := repo.Save(ctx, inc); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"inc-a", "inc-b", "inc-c"}
	for i, w := range want {
		if list[i].ID != w {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID, w)
		}
	}
}

func TestRepository_BacksStore(t *testing.T) {
	store := incidents.NewStore(NewRepository(setupTestDB(t)))
	ctx := context.Background()

	inc, err := store.Create(ctx, incidents.Alert{
		Source:           "prometheus",
		AlertType:        "HighErrorRate",
		Severity:         "P1",
		Message:          "5xx above 10%",
		AffectedServices: []string{"checkout"},
		Timestamp:        "2026-10-16T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateStatus(ctx, inc.ID, incidents.StatusInvestigating)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one transition to win, got %d", succeeded)
	}

	history, err := store.GetHistory(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 events, got %d", len(history))
	}
}
