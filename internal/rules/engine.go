// Package rules provides the rule driver, the builtin rule catalog and
// CEL-based expression rules.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/geo"
	"github.com/opensource-finance/tripwire/internal/grouping"
	"github.com/opensource-finance/tripwire/internal/metrics"
	"github.com/opensource-finance/tripwire/internal/travel"
)

// ErrRulePanic marks a rule that panicked while detecting.
var ErrRulePanic = errors.New("rule panicked")

var tracer = otel.Tracer("tripwire-rules")

// RuleError wraps a failure of one rule.
type RuleError struct {
	RuleID string
	Err    error
}

func (e *RuleError) Error() string { return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err) }
func (e *RuleError) Unwrap() error { return e.Err }

// Result is the outcome of running every enabled rule over a batch.
type Result struct {
	Findings        []domain.Finding     `json:"findings"`
	Failures        []domain.RuleFailure `json:"failures,omitempty"`
	RulesEvaluated  int                  `json:"rulesEvaluated"`
	GroupsEvaluated int                  `json:"groupsEvaluated"`
	EventsEvaluated int                  `json:"eventsEvaluated"`
	Duration        time.Duration        `json:"duration"`
}

// Engine drives rules over event batches. Builtin and Go rules live in a
// registry; expression rules are compiled from stored configs and can be
// swapped at runtime.
type Engine struct {
	mu          sync.RWMutex
	registry    *Registry
	expressions map[string]*compiledExpression
	compiler    *ExpressionCompiler
	travel      *travel.Evaluator
	detection   atomic.Pointer[domain.DetectionConfig]
	maxWorkers  int
	ruleTimeout time.Duration
}

// NewEngine creates a rule engine. Register rules before evaluating;
// Builtin() supplies the standard catalog.
func NewEngine(distances geo.DistanceService, cfg domain.EngineConfig, detection *domain.DetectionConfig) (*Engine, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if detection == nil {
		detection = domain.DefaultDetectionConfig()
	}

	compiler, err := NewExpressionCompiler()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		registry:    NewRegistry(),
		expressions: make(map[string]*compiledExpression),
		compiler:    compiler,
		travel:      travel.NewEvaluator(distances),
		maxWorkers:  cfg.MaxWorkers,
		ruleTimeout: time.Duration(cfg.RuleTimeoutSeconds) * time.Second,
	}
	e.detection.Store(detection)
	return e, nil
}

// Register adds a Go rule to the engine.
func (e *Engine) Register(rules ...*Rule) error {
	for _, r := range rules {
		if r.Source == "" {
			r.Source = SourceBuiltin
		}
		if err := e.registry.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// SetDetectionConfig swaps the configuration snapshot used by subsequent
// evaluations. Running evaluations keep the snapshot they started with.
func (e *Engine) SetDetectionConfig(cfg *domain.DetectionConfig) {
	if cfg != nil {
		e.detection.Store(cfg)
	}
}

// DetectionConfig returns the current snapshot.
func (e *Engine) DetectionConfig() *domain.DetectionConfig {
	return e.detection.Load()
}

// Rules returns registered rules in order, then expression rules by ID.
func (e *Engine) Rules() []*Rule {
	out := e.registry.List()

	e.mu.RLock()
	ids := make([]string, 0, len(e.expressions))
	for id := range e.expressions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, e.expressions[id].rule)
	}
	e.mu.RUnlock()

	return out
}

// Rule looks up a rule by ID.
func (e *Engine) Rule(id string) (*Rule, error) {
	if r, ok := e.registry.Get(id); ok {
		return r, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.expressions[id]; ok {
		return c.rule, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
}

// RulesCount returns the number of runnable rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Len() + len(e.expressions)
}

// ValidateRule compiles an expression rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	_, err := e.prepare(cfg)
	return err
}

// LoadRule compiles and loads one expression rule.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	compiled, err := e.prepare(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.expressions[cfg.ID] = compiled
	return nil
}

// ReloadRules replaces every expression rule. Disabled configs are
// skipped. On error nothing changes.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	next := make(map[string]*compiledExpression)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.prepare(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.expressions = next
	e.mu.Unlock()
	return nil
}

func (e *Engine) prepare(cfg *domain.RuleConfig) (*compiledExpression, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule config is required")
	}
	if _, ok := e.registry.Get(cfg.ID); ok {
		return nil, fmt.Errorf("rule %s collides with a builtin rule", cfg.ID)
	}
	return e.compiler.compile(cfg)
}

// GetLoadedRules returns the configs of loaded expression rules.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleConfig, 0, len(e.expressions))
	for _, c := range e.expressions {
		out = append(out, c.config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate runs a single rule over events: filter by kind, group, then
// detect on every group. Errors and panics come back as *RuleError.
func (e *Engine) Evaluate(ctx context.Context, rule *Rule, events []domain.Event, cfg *domain.DetectionConfig) ([]domain.Finding, error) {
	if cfg == nil {
		cfg = e.DetectionConfig()
	}
	findings, _, err := e.run(ctx, rule, events, NewEnv(cfg, e.travel))
	return findings, err
}

// EvaluateAll runs every enabled rule over events in parallel. A failing
// rule is recorded in Result.Failures and does not affect the others.
// Findings are deduplicated and ordered by rule, user and primary event.
func (e *Engine) EvaluateAll(ctx context.Context, events []domain.Event, cfg *domain.DetectionConfig) *Result {
	start := time.Now()
	if cfg == nil {
		cfg = e.DetectionConfig()
	}
	env := NewEnv(cfg, e.travel)

	var rules []*Rule
	for _, r := range e.Rules() {
		if cfg.RuleEnabled(r.ID) {
			rules = append(rules, r)
		}
	}

	type outcome struct {
		findings []domain.Finding
		groups   int
		err      error
	}
	outcomes := make([]outcome, len(rules))

	var g errgroup.Group
	g.SetLimit(e.maxWorkers)
	for i, r := range rules {
		g.Go(func() error {
			f, n, err := e.run(ctx, r, events, env)
			outcomes[i] = outcome{findings: f, groups: n, err: err}
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{RulesEvaluated: len(rules), EventsEvaluated: len(events)}
	seen := make(map[string]struct{})
	for i, o := range outcomes {
		res.GroupsEvaluated += o.groups
		if o.err != nil {
			res.Failures = append(res.Failures, domain.RuleFailure{RuleID: rules[i].ID, Error: o.err.Error()})
			continue
		}
		for _, f := range o.findings {
			fp := f.Fingerprint()
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			res.Findings = append(res.Findings, f)
		}
	}
	res.Duration = time.Since(start)
	return res
}

// run executes one rule and records its metrics. Findings are deduplicated
// and sorted so the rule's output is stable across runs.
func (e *Engine) run(ctx context.Context, rule *Rule, events []domain.Event, env *Env) (findings []domain.Finding, groups int, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "rule."+rule.ID, trace.WithAttributes(
		attribute.String("rule.id", rule.ID),
		attribute.String("rule.grouping", string(rule.Grouping.Strategy)),
	))
	defer span.End()

	if e.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.ruleTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			findings, err = nil, &RuleError{RuleID: rule.ID, Err: fmt.Errorf("%w: %v", ErrRulePanic, p)}
		}
		status := "ok"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("rule failed", "rule_id", rule.ID, "error", err)
		}
		metrics.RuleEvaluations.WithLabelValues(rule.ID, status).Inc()
		metrics.RuleDuration.WithLabelValues(rule.ID).Observe(float64(time.Since(start).Milliseconds()))
		if len(findings) > 0 {
			metrics.FindingsEmitted.WithLabelValues(rule.ID).Add(float64(len(findings)))
		}
		span.SetAttributes(attribute.Int("rule.findings", len(findings)), attribute.Int("rule.groups", groups))
	}()

	candidates, err := grouping.Group(domain.FilterByKind(events, rule.Kinds), rule.Grouping, env.Zone)
	if err != nil {
		return nil, 0, &RuleError{RuleID: rule.ID, Err: err}
	}

	seen := make(map[string]struct{})
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, groups, &RuleError{RuleID: rule.ID, Err: err}
		}
		groups++
		out, err := rule.Detect(ctx, env, c)
		if err != nil {
			return nil, groups, &RuleError{RuleID: rule.ID, Err: err}
		}
		for _, f := range out {
			fp := f.Fingerprint()
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			findings = append(findings, f)
		}
	}
	sortFindings(findings)
	return findings, groups, nil
}

// Close drops loaded expression rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expressions = make(map[string]*compiledExpression)
	return nil
}
