package incidents

import (
	"context"
	"sort"
	"sync"
)

// Repository is the persistence primitive behind the Store.
// Consistency is only required per incident id.
type Repository interface {
	// Get returns nil, nil when the incident does not exist
	Get(ctx context.Context, id string) (*Incident, error)

	// Save writes the incident record and appends events to its timeline as one unit
	Save(ctx context.Context, incident *Incident, events ...TimelineEvent) error

	// Append adds a single event to an incident's timeline
	Append(ctx context.Context, event TimelineEvent) error

	// Timeline returns events in insertion order
	Timeline(ctx context.Context, id string) ([]TimelineEvent, error)

	// List returns every stored incident
	List(ctx context.Context) ([]*Incident, error)
}

// MemoryRepository keeps incidents and timelines in two maps keyed by incident id
type MemoryRepository struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
	timelines map[string][]TimelineEvent
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		incidents: make(map[string]*Incident),
		timelines: make(map[string][]TimelineEvent),
	}
}

// Get returns a copy of the stored incident
func (r *MemoryRepository) Get(_ context.Context, id string) (*Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.incidents[id].Clone(), nil
}

// Save stores a copy of the incident and appends events
func (r *MemoryRepository) Save(_ context.Context, incident *Incident, events ...TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[incident.ID] = incident.Clone()
	r.timelines[incident.ID] = append(r.timelines[incident.ID], events...)
	return nil
}

// Append adds an event; the timeline is created on first use
func (r *MemoryRepository) Append(_ context.Context, event TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timelines[event.IncidentID] = append(r.timelines[event.IncidentID], event)
	return nil
}

// Timeline returns a copy of the incident's events
func (r *MemoryRepository) Timeline(_ context.Context, id string) ([]TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TimelineEvent{}, r.timelines[id]...), nil
}

// List returns copies of all incidents ordered by creation time then id
func (r *MemoryRepository) List(_ context.Context) ([]*Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Incident, 0, len(r.incidents))
	for _, inc := range r.incidents {
		out = append(out, inc.Clone())
	}
	SortByCreation(out)
	return out, nil
}

// SortByCreation orders incidents by created_at, breaking ties by id
func SortByCreation(list []*Incident) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
