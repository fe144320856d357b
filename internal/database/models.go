package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/akmatori/incidentflow/internal/incidents"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// IncidentRecord is the persisted form of incidents.Incident
type IncidentRecord struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)"`
	Title            string    `gorm:"type:text"`
	Description      string    `gorm:"type:text"`
	Severity         string    `gorm:"type:varchar(8);index"`
	Status           string    `gorm:"type:varchar(32);index"`
	Source           string    `gorm:"type:varchar(255)"`
	AffectedServices []string  `gorm:"serializer:json"`
	Metadata         JSONB     `gorm:"type:jsonb"`
	CreatedAt        time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
}

// TableName specifies the table name for IncidentRecord
func (IncidentRecord) TableName() string {
	return "incidents"
}

// TimelineEventRecord is one append-only timeline row; ID preserves insertion order
type TimelineEventRecord struct {
	ID         uint      `gorm:"primaryKey"`
	IncidentID string    `gorm:"type:varchar(64);not null;index"`
	Event      string    `gorm:"type:text;not null"`
	Timestamp  time.Time `gorm:"index"`
	Metadata   JSONB     `gorm:"type:jsonb"`
}

// TableName specifies the table name for TimelineEventRecord
func (TimelineEventRecord) TableName() string {
	return "incident_timeline_events"
}

func toIncidentRecord(inc *incidents.Incident) *IncidentRecord {
	return &IncidentRecord{
		ID:               inc.ID,
		Title:            inc.Title,
		Description:      inc.Description,
		Severity:         string(inc.Severity),
		Status:           string(inc.Status),
		Source:           inc.Source,
		AffectedServices: append([]string(nil), inc.AffectedServices...),
		Metadata:         JSONB(inc.Metadata),
		CreatedAt:        inc.CreatedAt,
		UpdatedAt:        inc.UpdatedAt,
	}
}

func (r *IncidentRecord) toIncident() *incidents.Incident {
	metadata := map[string]any(r.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &incidents.Incident{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Severity:         incidents.Severity(r.Severity),
		Status:           incidents.Status(r.Status),
		Source:           r.Source,
		AffectedServices: r.AffectedServices,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		Metadata:         metadata,
	}
}

func toEventRecord(e incidents.TimelineEvent) TimelineEventRecord {
	var metadata JSONB
	if e.Metadata != nil {
		metadata = JSONB(e.Metadata)
	}
	return TimelineEventRecord{
		IncidentID: e.IncidentID,
		Event:      e.Event,
		Timestamp:  e.Timestamp,
		Metadata:   metadata,
	}
}

func (r *TimelineEventRecord) toEvent() incidents.TimelineEvent {
	var metadata map[string]any
	if len(r.Metadata) > 0 {
		metadata = map[string]any(r.Metadata)
	}
	return incidents.TimelineEvent{
		IncidentID: r.IncidentID,
		Event:      r.Event,
		Timestamp:  r.Timestamp.UTC(),
		Metadata:   metadata,
	}
}
