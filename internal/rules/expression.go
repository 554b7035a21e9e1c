package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/grouping"
)

// ExpressionCompiler turns tenant RuleConfigs into runnable rules. The
// expression sees one event at a time through these variables:
//
//	event           map of the event's fields
//	kind, user_id   strings
//	amount          double
//	city            the event's city, or its departure city
//	from_city       departure city of transport, else ""
//	to_city         arrival city of transport, else ""
//	duration_hours  double, effective end minus effective start
//	start_hour      int, local hour of the effective start
//	weekday         int, 0 = Sunday
//	reversed        bool, exact end before exact start
type ExpressionCompiler struct {
	env *cel.Env
}

type compiledExpression struct {
	config  *domain.RuleConfig
	program cel.Program
	rule    *Rule
}

// NewExpressionCompiler creates the CEL environment.
func NewExpressionCompiler() (*ExpressionCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("kind", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("city", cel.StringType),
		cel.Variable("from_city", cel.StringType),
		cel.Variable("to_city", cel.StringType),
		cel.Variable("duration_hours", cel.DoubleType),
		cel.Variable("start_hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("reversed", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &ExpressionCompiler{env: env}, nil
}

// compile checks and compiles cfg. The expression must return bool.
func (c *ExpressionCompiler) compile(cfg *domain.RuleConfig) (*compiledExpression, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	ast, issues := c.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	severity := cfg.Severity
	if severity == "" {
		severity = domain.SeverityMedium
	}
	title := cfg.Name
	if title == "" {
		title = cfg.ID
	}

	compiled := &compiledExpression{config: cfg, program: program}
	compiled.rule = &Rule{
		ID:          cfg.ID,
		Title:       title,
		Description: cfg.Description,
		Severity:    severity,
		Kinds:       cfg.EventKinds,
		Grouping:    grouping.ByEvent(),
		Source:      SourceExpression,
		Detect:      compiled.detect,
	}
	if err := compiled.rule.Validate(); err != nil {
		return nil, err
	}
	return compiled, nil
}

func (c *compiledExpression) detect(_ context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
	var out []domain.Finding
	for _, ev := range group.Events {
		val, _, err := c.program.Eval(activation(ev, env.Zone))
		if err != nil {
			return nil, fmt.Errorf("evaluate %s on event %s: %w", c.config.ID, ev.ID, err)
		}
		if hit, ok := val.(types.Bool); ok && bool(hit) {
			out = append(out, c.rule.NewFinding(ev, nil, map[string]any{
				"expression": c.config.Expression,
				"amount":     ev.Amount,
			}))
		}
	}
	return out, nil
}

func activation(ev domain.Event, zone *time.Location) map[string]any {
	var city, fromCity, toCity string
	if p := ev.Place(); p != nil {
		city = p.City
	}
	if ev.From != nil {
		fromCity = ev.From.City
	}
	if ev.To != nil {
		toCity = ev.To.City
	}
	start := ev.Window.Start().In(zone)

	return map[string]any{
		"event": map[string]any{
			"id":          ev.ID,
			"kind":        string(ev.Kind),
			"user_id":     ev.UserID,
			"department":  ev.Department,
			"amount":      ev.Amount,
			"city":        city,
			"from_city":   fromCity,
			"to_city":     toCity,
			"start":       ev.Window.Start().UTC().Format(time.RFC3339),
			"end":         ev.Window.End().UTC().Format(time.RFC3339),
			"exact_start": ev.Window.ExactStart != nil,
			"exact_end":   ev.Window.ExactEnd != nil,
		},
		"kind":           string(ev.Kind),
		"user_id":        ev.UserID,
		"amount":         ev.Amount,
		"city":           city,
		"from_city":      fromCity,
		"to_city":        toCity,
		"duration_hours": ev.Window.Duration().Hours(),
		"start_hour":     int64(start.Hour()),
		"weekday":        int64(start.Weekday()),
		"reversed":       ev.Window.IsReversed(),
	}
}
