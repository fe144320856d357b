package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/akmatori/incidentflow/internal/incidents"
)

// Repository persists incidents and timelines with gorm.
// This type accepts a db parameter rather than using the global DB so tests can inject SQLite.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, id string) (*incidents.Incident, error) {
	var record IncidentRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %s: %w", id, err)
	}
	return record.toIncident(), nil
}

// Save upserts the incident and inserts events in one transaction
func (r *Repository) Save(ctx context.Context, incident *incidents.Incident, events ...incidents.TimelineEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(toIncidentRecord(incident)).Error; err != nil {
			return fmt.Errorf("failed to save incident %s: %w", incident.ID, err)
		}
		if len(events) == 0 {
			return nil
		}
		records := make([]TimelineEventRecord, 0, len(events))
		for _, e := range events {
			records = append(records, toEventRecord(e))
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to append timeline for %s: %w", incident.ID, err)
		}
		return nil
	})
}

func (r *Repository) Append(ctx context.Context, event incidents.TimelineEvent) error {
	record := toEventRecord(event)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	return nil
}

func (r *Repository) Timeline(ctx context.Context, id string) ([]incidents.TimelineEvent, error) {
	var records []TimelineEventRecord
	err := r.db.WithContext(ctx).
		Where("incident_id = ?", id).
		Order("timestamp asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline for %s: %w", id, err)
	}

	events := make([]incidents.TimelineEvent, 0, len(records))
	for i := range records {
		events = append(events, records[i].toEvent())
	}
	return events, nil
}

func (r *Repository) List(ctx context.Context) ([]*incidents.Incident, error) {
	var records []IncidentRecord
	if err := r.db.WithContext(ctx).Order("created_at asc, id asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}

	list := make([]*incidents.Incident, 0, len(records))
	for i := range records {
		list = append(list, records[i].toIncident())
	}
	return list, nil
}
