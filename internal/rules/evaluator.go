package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Match is a rule that fired, with its indicator.
type Match struct {
	Rule      *domain.Rule
	Indicator domain.Indicator
}

// Evaluator runs compiled rules against an event.
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator creates an evaluator that derives hour and weekday in loc.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc}
}

// Evaluate returns the rules of the event's rule type that fire, in catalog
// order. Only the event's own rule type is ever evaluated. Evaluation is
// deterministic and never mutates the profile.
func (e *Evaluator) Evaluate(ev *domain.Event, snap *Snapshot, profile *domain.BehaviorProfile) []Match {
	compiled := snap.ForType(ev.Category.RuleType())
	if len(compiled) == 0 {
		return nil
	}

	fields := ev.Fields(e.loc)
	var activation map[string]any

	var matches []Match
	for _, c := range compiled {
		var (
			fired     bool
			rationale string
		)
		switch c.Rule.Method {
		case domain.MethodThreshold:
			fired, rationale = evalThreshold(c, fields)
		case domain.MethodPattern:
			fired, rationale = evalPattern(c, fields)
		case domain.MethodStatistical:
			fired, rationale = evalStatistical(c, fields, profile)
		case domain.MethodExpression:
			if activation == nil {
				activation = e.activation(ev, fields, profile)
			}
			fired, rationale = evalExpression(c, activation)
		}
		if !fired {
			continue
		}
		name := c.Rule.Name
		if name == "" {
			name = c.Rule.ID
		}
		matches = append(matches, Match{
			Rule: c.Rule,
			Indicator: domain.Indicator{
				Name:      name,
				Score:     c.Score(),
				Source:    domain.SourceRule,
				RuleID:    c.Rule.ID,
				Rationale: rationale,
			},
		})
	}
	return matches
}

func (e *Evaluator) activation(ev *domain.Event, fields map[string]any, profile *domain.BehaviorProfile) map[string]any {
	local := ev.OccurredAt.In(e.loc)
	samples := 0
	if profile != nil {
		samples = profile.Samples
	}
	return map[string]any{
		"fields":   fields,
		"hour":     int64(local.Hour()),
		"weekday":  int64(local.Weekday()),
		"category": string(ev.Category),
		"samples":  int64(samples),
	}
}

func evalThreshold(c *CompiledRule, fields map[string]any) (bool, string) {
	v, ok := toFloat(fields[c.field])
	if !ok {
		return false, ""
	}
	var fired bool
	switch c.operator {
	case OpGreater:
		fired = v > c.threshold
	case OpGreaterEqual:
		fired = v >= c.threshold
	case OpLess:
		fired = v < c.threshold
	case OpLessEqual:
		fired = v <= c.threshold
	}
	return fired, fmt.Sprintf("%s %g %s %g", c.field, v, c.operator, c.threshold)
}

func evalPattern(c *CompiledRule, fields map[string]any) (bool, string) {
	v, ok := fields[c.field].(string)
	if !ok || v == "" {
		return false, ""
	}
	if c.regexes != nil {
		for _, re := range c.regexes {
			if re.MatchString(v) {
				return true, fmt.Sprintf("%s matches %s", c.field, re.String())
			}
		}
		return false, ""
	}
	lower := strings.ToLower(v)
	for _, p := range c.patterns {
		if lower == p {
			return true, fmt.Sprintf("%s equals %q", c.field, p)
		}
	}
	return false, ""
}

func evalStatistical(c *CompiledRule, fields map[string]any, profile *domain.BehaviorProfile) (bool, string) {
	x, ok := toFloat(fields[c.field])
	if !ok || profile == nil {
		return false, ""
	}
	history := profile.Numeric[c.field]
	if len(history) < c.minSamples {
		return false, ""
	}

	mean, stddev := meanStddev(history)
	if stddev == 0 {
		if x != mean {
			return true, fmt.Sprintf("%s %g differs from constant baseline %g", c.field, x, mean)
		}
		return false, ""
	}
	z := math.Abs(x-mean) / stddev
	if z > c.zThreshold {
		return true, fmt.Sprintf("%s %g is %.2f standard deviations from mean %.2f", c.field, x, z, mean)
	}
	return false, ""
}

// meanStddev returns the population mean and standard deviation.
func meanStddev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// evalExpression treats evaluation errors, such as a missing map key, as
// not firing.
func evalExpression(c *CompiledRule, activation map[string]any) (bool, string) {
	out, _, err := c.program.Eval(activation)
	if err != nil {
		return false, ""
	}
	if b, ok := out.(types.Bool); ok && bool(b) {
		return true, "expression matched"
	}
	return false, ""
}
