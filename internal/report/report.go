// Package report turns a rule engine result into a scored report and the
// alerts that go with it.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/metrics"
	"github.com/opensource-finance/tripwire/internal/rules"
)

// EngineVersion is stamped on every report.
const EngineVersion = "tripwire-1.0"

// Processor scores findings and decides whether a report alerts.
type Processor struct {
	// Score at or above which a report alerts.
	AlertThreshold float64

	// Any finding at or above this severity alerts on its own.
	AlertSeverity domain.Severity
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		AlertThreshold: 0.7,
		AlertSeverity:  domain.SeverityHigh,
	}
}

// Input is everything Process needs.
type Input struct {
	TenantID  string
	TraceID   string
	Result    *rules.Result
	StartTime time.Time
}

// Process builds the report for one evaluation run.
//
// Each finding contributes its severity weight, and the contributions are
// combined as independent signals: score = 1 - prod(1 - w). Two medium
// findings therefore outscore one, and the score never exceeds 1.
func (p *Processor) Process(_ context.Context, in *Input) *domain.Report {
	res := in.Result
	if res == nil {
		res = &rules.Result{}
	}

	rep := &domain.Report{
		ID:        uuid.New().String(),
		TenantID:  in.TenantID,
		Timestamp: time.Now().UTC(),
		Findings:  res.Findings,
		Failures:  res.Failures,
	}
	if rep.Findings == nil {
		rep.Findings = []domain.Finding{}
	}

	rep.Score, rep.Summary = p.score(res.Findings)

	severe := false
	for _, f := range res.Findings {
		if f.Severity.Weight() >= p.AlertSeverity.Weight() {
			severe = true
			break
		}
	}
	if severe || rep.Score >= p.AlertThreshold {
		rep.Status = domain.StatusAlert
	} else {
		rep.Status = domain.StatusNoAlert
	}

	var totalMs int64
	if !in.StartTime.IsZero() {
		totalMs = time.Since(in.StartTime).Milliseconds()
	}
	rep.Metadata = domain.ReportMeta{
		TraceID:         in.TraceID,
		EventsEvaluated: res.EventsEvaluated,
		RulesEvaluated:  res.RulesEvaluated,
		GroupsEvaluated: res.GroupsEvaluated,
		RulesMs:         res.Duration.Milliseconds(),
		TotalMs:         totalMs,
		EngineVersion:   EngineVersion,
	}

	metrics.ReportsGenerated.WithLabelValues(rep.Status).Inc()
	return rep
}

func (p *Processor) score(findings []domain.Finding) (float64, []domain.RuleSummary) {
	if len(findings) == 0 {
		return 0, nil
	}

	miss := 1.0
	byRule := make(map[string]*domain.RuleSummary)
	var order []string
	for _, f := range findings {
		w := f.Severity.Weight()
		miss *= 1 - w

		s, ok := byRule[f.RuleID]
		if !ok {
			s = &domain.RuleSummary{RuleID: f.RuleID}
			byRule[f.RuleID] = s
			order = append(order, f.RuleID)
		}
		s.Findings++
		s.Score = 1 - (1-s.Score)*(1-w)
	}

	summary := make([]domain.RuleSummary, 0, len(order))
	for _, id := range order {
		summary = append(summary, *byRule[id])
	}
	sort.SliceStable(summary, func(i, j int) bool { return summary[i].Score > summary[j].Score })
	return 1 - miss, summary
}

// ShouldAlert returns true if the report should trigger alerts.
func ShouldAlert(rep *domain.Report) bool {
	return rep.Status == domain.StatusAlert
}

// Describe renders a finding as a title and one line of details, using
// the rule's own formatter when it has one.
func Describe(rule *rules.Rule, f domain.Finding) (title, details string) {
	if rule != nil && rule.Format != nil {
		return rule.Format(f)
	}
	title = f.RuleID
	if rule != nil && rule.Title != "" {
		title = rule.Title
	}
	details = fmt.Sprintf("user %s, event %s", f.UserID, f.PrimaryEventID)
	if n := len(f.RelatedEventIDs); n > 0 {
		details += fmt.Sprintf(" with %d related", n)
	}
	return title, details
}

// RuleLookup resolves rule IDs for Describe.
type RuleLookup func(id string) (*rules.Rule, error)

// Alerts builds one alert per finding of an alerting report.
func Alerts(rep *domain.Report, lookup RuleLookup) []domain.Alert {
	if !ShouldAlert(rep) {
		return nil
	}
	out := make([]domain.Alert, 0, len(rep.Findings))
	for _, f := range rep.Findings {
		var rule *rules.Rule
		if lookup != nil {
			rule, _ = lookup(f.RuleID)
		}
		title, details := Describe(rule, f)
		out = append(out, domain.Alert{
			ReportID: rep.ID,
			TenantID: rep.TenantID,
			Title:    title,
			Details:  details,
			Finding:  f,
		})
	}
	return out
}
