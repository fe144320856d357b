package incidents

import (
	"sort"
	"strings"
)

// protectedFields are computed or owned by the store and never accepted from callers.
// status moves only through UpdateStatus.
var protectedFields = map[string]bool{
	"id":         true,
	"severity":   true,
	"created_at": true,
	"updated_at": true,
	"status":     true,
}

// applyFields validates fields against the editable set and merges them into incident.
// It returns the sorted names of the applied fields.
func applyFields(incident *Incident, fields map[string]any) ([]string, error) {
	if len(fields) == 0 {
		return nil, newValidationError("fields", "at least one field is required")
	}

	problems := map[string]string{}
	for name := range fields {
		if protectedFields[name] {
			problems[name] = "is read-only"
		}
	}

	var (
		title, description, source *string
		services                   []string
		metadata                   map[string]any
	)
	for name, value := range fields {
		if protectedFields[name] {
			continue
		}
		switch name {
		case "title":
			title = stringField(name, value, problems)
		case "description":
			description = stringField(name, value, problems)
		case "source":
			source = stringField(name, value, problems)
			if source != nil && strings.TrimSpace(*source) == "" {
				problems[name] = "must not be empty"
			}
		case "affected_services":
			var ok bool
			services, ok = stringList(value)
			if !ok {
				problems[name] = "must be a list of strings"
			} else if len(services) == 0 {
				problems[name] = "must contain at least 1 item(s)"
			}
		case "metadata":
			m, ok := value.(map[string]any)
			if !ok {
				problems[name] = "must be an object"
			}
			metadata = m
		default:
			problems[name] = "is not an updatable field"
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}

	if title != nil {
		incident.Title = *title
	}
	if description != nil {
		incident.Description = *description
	}
	if source != nil {
		incident.Source = *source
	}
	if services != nil {
		incident.AffectedServices = services
	}
	if metadata != nil {
		if incident.Metadata == nil {
			incident.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			incident.Metadata[k] = v
		}
	}

	changed := make([]string, 0, len(fields))
	for name := range fields {
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed, nil
}

func stringField(name string, value any, problems map[string]string) *string {
	s, ok := value.(string)
	if !ok {
		problems[name] = "must be a string"
		return nil
	}
	return &s
}

// stringList accepts both []string and the []any produced by encoding/json
func stringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if strings.TrimSpace(s) == "" {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
