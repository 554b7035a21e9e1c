package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/grouping"
	"github.com/opensource-finance/tripwire/internal/travel"
)

// ErrUnknownRule is returned when a rule ID is not registered.
var ErrUnknownRule = errors.New("unknown rule")

// Rule sources.
const (
	SourceBuiltin    = "builtin"
	SourceExpression = "expression"
)

// DetectFunc inspects one candidate group and returns its findings.
type DetectFunc func(ctx context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error)

// FormatFunc renders a finding as a short title and one line of details.
type FormatFunc func(f domain.Finding) (title, details string)

// Rule is a named detection: which events it looks at, how they are
// grouped, and the function that inspects each group.
type Rule struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Severity    domain.Severity    `json:"severity"`
	Kinds       []domain.EventKind `json:"eventKinds,omitempty"`
	Grouping    grouping.Spec      `json:"grouping"`
	Source      string             `json:"source"`
	Detect      DetectFunc         `json:"-"`
	Format      FormatFunc         `json:"-"`
}

// Validate checks that the rule can be run.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Detect == nil {
		return fmt.Errorf("rule %s: detect function is required", r.ID)
	}
	for _, k := range r.Kinds {
		if !k.Valid() {
			return fmt.Errorf("rule %s: unknown event kind %q", r.ID, k)
		}
	}
	if err := r.Grouping.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

// NewFinding builds a finding attributed to this rule and primary's user.
func (r *Rule) NewFinding(primary domain.Event, related []string, evidence map[string]any) domain.Finding {
	return domain.Finding{
		RuleID:          r.ID,
		PrimaryEventID:  primary.ID,
		RelatedEventIDs: related,
		UserID:          primary.UserID,
		UserName:        primary.UserName,
		Severity:        r.Severity,
		Evidence:        evidence,
	}
}

// Env is what a rule may consult while detecting: the configuration
// snapshot and the travel evaluator. It is shared read-only across rules.
type Env struct {
	Config *domain.DetectionConfig
	Travel *travel.Evaluator
	Zone   *time.Location
}

// NewEnv resolves the time zone once per evaluation.
func NewEnv(cfg *domain.DetectionConfig, ev *travel.Evaluator) *Env {
	if cfg == nil {
		cfg = domain.DefaultDetectionConfig()
	}
	return &Env{Config: cfg, Travel: ev, Zone: cfg.Location()}
}

// Registry holds rules in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	rules map[string]*Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]*Rule)}
}

// Register adds a rule. IDs must be unique.
func (r *Registry) Register(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.rules[rule.ID]; dup {
		return fmt.Errorf("rule %s already registered", rule.ID)
	}
	r.rules[rule.ID] = rule
	r.order = append(r.order, rule.ID)
	return nil
}

// Get looks a rule up by ID.
func (r *Registry) Get(id string) (*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// List returns rules in registration order.
func (r *Registry) List() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id])
	}
	return out
}

// Len is the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// sortFindings orders findings by user, primary event, then fingerprint.
func sortFindings(findings []domain.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.PrimaryEventID != b.PrimaryEventID {
			return a.PrimaryEventID < b.PrimaryEventID
		}
		return a.Fingerprint() < b.Fingerprint()
	})
}
