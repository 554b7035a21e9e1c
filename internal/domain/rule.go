package domain

import "time"

// RuleConfig is a tenant-defined expression rule. The CEL expression is
// evaluated once per event of a matching kind and must return a bool; true
// produces a finding.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	Expression string      `json:"expression"`
	EventKinds []EventKind `json:"eventKinds,omitempty"` // empty matches every kind
	Severity   Severity    `json:"severity"`
	Enabled    bool        `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
