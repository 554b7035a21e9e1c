package domain

import (
	"sort"
	"strings"
	"time"
)

// Severity ranks findings.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Weight maps a severity onto [0, 1] for report scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityHigh:
		return 1.0
	case SeverityMedium:
		return 0.6
	case SeverityLow:
		return 0.3
	}
	return 0
}

// Finding is a single rule hit. Evidence holds rule-specific details
// (cities, distances, amounts) and must not be mutated once emitted.
type Finding struct {
	RuleID          string         `json:"ruleId"`
	PrimaryEventID  string         `json:"primaryEventId"`
	RelatedEventIDs []string       `json:"relatedEventIds,omitempty"`
	UserID          string         `json:"userId"`
	UserName        string         `json:"userName,omitempty"`
	Severity        Severity       `json:"severity"`
	Evidence        map[string]any `json:"evidence,omitempty"`
}

// Fingerprint identifies a finding regardless of which candidate group
// produced it.
func (f Finding) Fingerprint() string {
	related := append([]string(nil), f.RelatedEventIDs...)
	sort.Strings(related)
	return f.RuleID + "|" + f.PrimaryEventID + "|" + strings.Join(related, ",")
}

// RuleFailure records a rule that could not complete.
type RuleFailure struct {
	RuleID string `json:"ruleId"`
	Error  string `json:"error"`
}

// Report is the persisted outcome of one evaluation run.
type Report struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenantId"`
	Status    string        `json:"status"` // "ALRT" or "NALT"
	Score     float64       `json:"score"`
	Timestamp time.Time     `json:"timestamp"`
	Findings  []Finding     `json:"findings"`
	Failures  []RuleFailure `json:"failures,omitempty"`
	Summary   []RuleSummary `json:"summary,omitempty"`
	Metadata  ReportMeta    `json:"metadata"`
}

// RuleSummary is one rule's share of a report score.
type RuleSummary struct {
	RuleID   string  `json:"ruleId"`
	Findings int     `json:"findings"`
	Score    float64 `json:"score"`
}

// ReportMeta contains processing information.
type ReportMeta struct {
	TraceID         string `json:"traceId"`
	EventsEvaluated int    `json:"eventsEvaluated"`
	RulesEvaluated  int    `json:"rulesEvaluated"`
	GroupsEvaluated int    `json:"groupsEvaluated"`
	RulesMs         int64  `json:"rulesMs"`
	TotalMs         int64  `json:"totalMs"`
	EngineVersion   string `json:"engineVersion"`
}

// Report status constants.
const (
	StatusAlert   = "ALRT"
	StatusNoAlert = "NALT"
)

// Alert is published once per finding of an alerting report.
type Alert struct {
	ReportID string  `json:"reportId"`
	TenantID string  `json:"tenantId"`
	Title    string  `json:"title"`
	Details  string  `json:"details"`
	Finding  Finding `json:"finding"`
}
