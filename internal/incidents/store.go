package incidents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/logging"
	"github.com/akmatori/incidentflow/internal/metrics"
)

// EscalationEvaluator decides whether an open incident has exceeded its severity threshold
type EscalationEvaluator interface {
	RequiresEscalation(incident *Incident, now time.Time) bool
}

// EvaluatorFunc adapts a plain function to EscalationEvaluator
type EvaluatorFunc func(incident *Incident, now time.Time) bool

func (f EvaluatorFunc) RequiresEscalation(incident *Incident, now time.Time) bool {
	return f(incident, now)
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEvaluator sets the policy used by CheckEscalationThresholds
func WithEvaluator(e EscalationEvaluator) Option {
	return func(s *Store) { s.evaluator = e }
}

// WithLogger sets the store logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// Store owns incident records and their timelines. Every operation on one incident id is
// serialized; different ids proceed in parallel.
type Store struct {
	repo      Repository
	now       func() time.Time
	evaluator EscalationEvaluator
	logger    *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*idLock

	clockMu sync.Mutex
	last    time.Time
}

// NewStore creates a store on top of repo
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		now:    time.Now,
		logger: zap.NewNop(),
		locks:  make(map[string]*idLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// idLock is a per-incident mutex; refs counts holders and waiters
type idLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes work on one incident id. The entry is dropped once nobody holds or waits for it.
func (s *Store) lock(id string) func() {
	s.locksMu.Lock()
	l := s.locks[id]
	if l == nil {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// tick returns a microsecond timestamp strictly after every one it returned before
func (s *Store) tick() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func newIncidentID(now time.Time) string {
	return fmt.Sprintf("inc-%d-%s", now.UnixNano(), uuid.New().String()[:8])
}

// Create validates the alert and opens a new incident in RECEIVED
func (s *Store) Create(ctx context.Context, alert Alert) (*Incident, error) {
	if err := ValidateAlert(alert); err != nil {
		return nil, err
	}
	severity, _ := ParseSeverity(alert.Severity)

	now := s.tick()
	metadata := make(map[string]any, len(alert.Metadata)+2)
	for k, v := range alert.Metadata {
		metadata[k] = v
	}
	metadata["alert_type"] = alert.AlertType
	metadata["alert_timestamp"] = alert.Timestamp

	incident := &Incident{
		ID:               newIncidentID(now),
		Title:            fmt.Sprintf("%s - %s", alert.AlertType, strings.Join(alert.AffectedServices, ", ")),
		Description:      alert.Message,
		Severity:         severity,
		Status:           StatusReceived,
		Source:           alert.Source,
		AffectedServices: append([]string(nil), alert.AffectedServices...),
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         metadata,
	}

	unlock := s.lock(incident.ID)
	defer unlock()

	created := TimelineEvent{
		IncidentID: incident.ID,
		Event:      "Incident created",
		Timestamp:  now,
		Metadata: map[string]any{
			"source":   alert.Source,
			"severity": string(severity),
		},
	}
	if err := s.repo.Save(ctx, incident, created); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	metrics.IncidentCreated(string(severity))
	s.logger.Info("incident created",
		zap.String("incident_id", incident.ID),
		zap.String("severity", string(severity)),
		zap.String("source", alert.Source))

	return incident.Clone(), nil
}

// Get returns nil, nil when the incident does not exist
func (s *Store) Get(ctx context.Context, id string) (*Incident, error) {
	return s.repo.Get(ctx, id)
}

// List returns all incidents ordered by created_at then id
func (s *Store) List(ctx context.Context) ([]*Incident, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	SortByCreation(list)
	return list, nil
}

// UpdateFields merges editable fields into the incident. Returns nil, nil when absent.
func (s *Store) UpdateFields(ctx context.Context, id string, fields map[string]any) (*Incident, error) {
	unlock := s.lock(id)
	defer unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, nil
	}

	changed, err := applyFields(incident, fields)
	if err != nil {
		return nil, err
	}

	incident.UpdatedAt = s.tick()
	event := TimelineEvent{
		IncidentID: id,
		Event:      "Incident updated: " + strings.Join(changed, ", "),
		Timestamp:  incident.UpdatedAt,
		Metadata:   map[string]any{"fields": changed},
	}
	if err := s.repo.Save(ctx, incident, event); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	s.logger.Debug("incident updated", zap.String("incident_id", id), zap.Strings("fields", changed))
	return incident.Clone(), nil
}

// ReserveCounter increments the integer metadata counter key when it is below limit and
// returns the new value. At or above limit nothing changes and the current value is returned
// with ErrCounterLimit. The check and the increment happen under the incident lock, so
// concurrent callers never reserve past limit.
func (s *Store) ReserveCounter(ctx context.Context, id, key string, limit int) (int, error) {
	unlock := s.lock(id)
	defer unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if incident == nil {
		return 0, notFound(id)
	}

	current := incident.MetadataInt(key)
	if current >= limit {
		return current, fmt.Errorf("%w: %s is %d (limit %d)", ErrCounterLimit, key, current, limit)
	}

	if incident.Metadata == nil {
		incident.Metadata = map[string]any{}
	}
	incident.Metadata[key] = current + 1
	incident.UpdatedAt = s.tick()
	event := TimelineEvent{
		IncidentID: id,
		Event:      "Incident updated: metadata",
		Timestamp:  incident.UpdatedAt,
		Metadata:   map[string]any{"fields": []string{"metadata"}, "counter": key, "value": current + 1},
	}
	if err := s.repo.Save(ctx, incident, event); err != nil {
		return 0, fmt.Errorf("failed to save incident: %w", err)
	}
	return current + 1, nil
}

// UpdateStatus advances the incident by exactly one lifecycle step
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) (*Incident, error) {
	unlock := s.lock(id)
	defer unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, notFound(id)
	}

	previous := incident.Status
	if err := ValidateTransition(previous, status); err != nil {
		return nil, err
	}

	incident.Status = status
	incident.UpdatedAt = s.tick()
	event := TimelineEvent{
		IncidentID: id,
		Event:      fmt.Sprintf("Status changed from %s to %s", previous, status),
		Timestamp:  incident.UpdatedAt,
		Metadata: map[string]any{
			"previous_status": string(previous),
			"new_status":      string(status),
		},
	}
	if err := s.repo.Save(ctx, incident, event); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	metrics.StatusTransition(string(previous), string(status))
	s.logger.Info("incident status changed",
		zap.String("incident_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(status)))

	return incident.Clone(), nil
}

// GetHistory returns the timeline in timestamp order; unknown ids yield an empty slice
func (s *Store) GetHistory(ctx context.Context, id string) ([]TimelineEvent, error) {
	events, err := s.repo.Timeline(ctx, id)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []TimelineEvent{}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// AddTimelineEvent annotates an existing incident
func (s *Store) AddTimelineEvent(ctx context.Context, id, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return newValidationError("event", "is required")
	}

	unlock := s.lock(id)
	defer unlock()

	incident, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if incident == nil {
		return notFound(id)
	}

	return s.repo.Append(ctx, TimelineEvent{
		IncidentID: id,
		Event:      text,
		Timestamp:  s.tick(),
		Metadata:   metadata,
	})
}

// CheckEscalationThresholds returns the incidents the evaluator flags right now.
// A panicking evaluation is logged and treated as not flagged.
func (s *Store) CheckEscalationThresholds(ctx context.Context) ([]*Incident, error) {
	if s.evaluator == nil {
		return []*Incident{}, nil
	}

	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	flagged := []*Incident{}
	for _, incident := range list {
		if s.evaluate(incident, now) {
			flagged = append(flagged, incident)
		}
	}
	return flagged, nil
}

func (s *Store) evaluate(incident *Incident, now time.Time) (escalate bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("escalation evaluation panicked",
				zap.String("incident_id", incident.ID),
				zap.Any("panic", r))
			escalate = false
		}
	}()
	return s.evaluator.RequiresEscalation(incident, now)
}
