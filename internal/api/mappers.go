package api

import "github.com/akmatori/incidentflow/internal/incidents"

// IncidentToListItem converts an incident to a compact list representation.
// It omits description and metadata to reduce response size.
func IncidentToListItem(i *incidents.Incident) IncidentListItem {
	return IncidentListItem{
		ID:               i.ID,
		Title:            i.Title,
		Severity:         i.Severity,
		Status:           i.Status,
		Source:           i.Source,
		AffectedServices: i.AffectedServices,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
}

// IncidentsToListItems converts a slice of incidents to list items.
func IncidentsToListItems(list []*incidents.Incident) []IncidentListItem {
	items := make([]IncidentListItem, len(list))
	for i, inc := range list {
		items[i] = IncidentToListItem(inc)
	}
	return items
}
