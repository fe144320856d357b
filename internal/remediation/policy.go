package remediation

import (
	"strings"
	"time"
)

// Policy holds the business rules the coordinator applies on top of caller risk labels
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	RestartLimit int

	// ApprovalPatterns are substrings of action types that always need approval
	ApprovalPatterns []string

	// RollbackActions maps an action type to its inverse
	RollbackActions map[string]string
}

// DefaultPolicy returns the built-in rules
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		BaseDelay:        500 * time.Millisecond,
		RestartLimit:     3,
		ApprovalPatterns: []string{"database", "db_", "sql", "migration"},
		RollbackActions: map[string]string{
			"scale_up":             "scale_down",
			"scale_down":           "scale_up",
			"enable_feature_flag":  "disable_feature_flag",
			"disable_feature_flag": "enable_feature_flag",
			"deploy":               "rollback_deployment",
			"drain_node":           "uncordon_node",
			"enable_maintenance":   "disable_maintenance",
		},
	}
}

// withDefaults fills zero fields from DefaultPolicy
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.RestartLimit <= 0 {
		p.RestartLimit = d.RestartLimit
	}
	if p.ApprovalPatterns == nil {
		p.ApprovalPatterns = d.ApprovalPatterns
	}
	if p.RollbackActions == nil {
		p.RollbackActions = d.RollbackActions
	}
	return p
}

// IsDatabaseOperation reports whether the action type matches an approval pattern
func (p Policy) IsDatabaseOperation(actionType string) bool {
	t := strings.ToLower(actionType)
	for _, pattern := range p.ApprovalPatterns {
		if pattern != "" && strings.Contains(t, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// RequiresApproval applies the reclassification rules to an action
func (p Policy) RequiresApproval(a RecommendedAction) bool {
	if p.IsDatabaseOperation(a.ActionType) {
		return true
	}
	return a.RiskLevel != RiskAutonomousSafe
}
