package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/remediation"
)

// PolicyFile is the YAML document named by POLICY_FILE.
//
//	escalation:
//	  thresholds:
//	    P0: 5m
//	    P1: 15m
//	remediation:
//	  max_attempts: 3
//	  base_delay: 500ms
//	  restart_limit: 3
//	  approval_patterns: [database, db_, sql, migration]
//	  rollback_actions:
//	    scale_up: scale_down
type PolicyFile struct {
	Escalation struct {
		Thresholds map[string]time.Duration `yaml:"thresholds"`
	} `yaml:"escalation"`

	Remediation struct {
		MaxAttempts      int               `yaml:"max_attempts"`
		BaseDelay        *time.Duration    `yaml:"base_delay"`
		RestartLimit     int               `yaml:"restart_limit"`
		ApprovalPatterns []string          `yaml:"approval_patterns"`
		RollbackActions  map[string]string `yaml:"rollback_actions"`
	} `yaml:"remediation"`
}

// LoadPolicy reads the policy file at path. An empty path yields an empty document,
// which maps to the built-in defaults.
func LoadPolicy(path string) (*PolicyFile, error) {
	if path == "" {
		return &PolicyFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a policy document and rejects unknown severities
func ParsePolicy(data []byte) (*PolicyFile, error) {
	var p PolicyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	for sev := range p.Escalation.Thresholds {
		if _, ok := incidents.ParseSeverity(sev); !ok {
			return nil, fmt.Errorf("escalation threshold: unknown severity %q", sev)
		}
	}
	return &p, nil
}

// EscalationOverrides returns the thresholds keyed by severity
func (p *PolicyFile) EscalationOverrides() map[incidents.Severity]time.Duration {
	out := make(map[incidents.Severity]time.Duration, len(p.Escalation.Thresholds))
	for sev, d := range p.Escalation.Thresholds {
		s, ok := incidents.ParseSeverity(sev)
		if !ok {
			continue
		}
		out[s] = d
	}
	return out
}

// RemediationPolicy merges the file over remediation.DefaultPolicy
func (p *PolicyFile) RemediationPolicy() remediation.Policy {
	policy := remediation.DefaultPolicy()
	r := p.Remediation
	if r.MaxAttempts > 0 {
		policy.MaxAttempts = r.MaxAttempts
	}
	if r.BaseDelay != nil && *r.BaseDelay >= 0 {
		policy.BaseDelay = *r.BaseDelay
	}
	if r.RestartLimit > 0 {
		policy.RestartLimit = r.RestartLimit
	}
	if r.ApprovalPatterns != nil {
		policy.ApprovalPatterns = r.ApprovalPatterns
	}
	for action, inverse := range r.RollbackActions {
		policy.RollbackActions[action] = inverse
	}
	return policy
}
