package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Comparison operators accepted by threshold rules.
const (
	OpGreater      = "gt"
	OpGreaterEqual = "gte"
	OpLess         = "lt"
	OpLessEqual    = "lte"
)

// Pattern match modes.
const (
	MatchExact = "exact"
	MatchRegex = "regex"
)

// Statistical defaults.
const (
	DefaultZThreshold = 3.0
	MinStatSamples    = 5
)

// CompiledRule holds a validated rule ready for evaluation.
type CompiledRule struct {
	Rule *domain.Rule

	field string

	// threshold
	threshold float64
	operator  string

	// pattern
	patterns []string
	regexes  []*regexp.Regexp

	// statistical
	zThreshold float64
	minSamples int

	// expression
	program cel.Program
}

// Score is the contribution of the rule when it fires.
func (c *CompiledRule) Score() float64 {
	if c.Rule.Weight > 1 {
		return 1
	}
	return c.Rule.Weight
}

// Compiler turns rules into CompiledRules. It is safe for concurrent use.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a compiler with the expression environment.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("category", cel.StringType),
		cel.Variable("samples", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile validates rule and prepares it for evaluation. Every rejection is
// a *domain.ConfigurationError.
func (c *Compiler) Compile(rule *domain.Rule) (*CompiledRule, error) {
	if rule == nil {
		return nil, domain.NewConfigurationError("", "rule is required")
	}
	if rule.ID == "" {
		return nil, domain.NewConfigurationError("", "rule id is required")
	}
	if !rule.RuleType.Valid() {
		return nil, domain.NewConfigurationError(rule.ID, "unknown rule type %q", rule.RuleType)
	}
	if rule.Weight < 0 {
		return nil, domain.NewConfigurationError(rule.ID, "weight must not be negative, got %v", rule.Weight)
	}
	if rule.Severity != "" && !rule.Severity.Valid() {
		return nil, domain.NewConfigurationError(rule.ID, "unknown severity %q", rule.Severity)
	}

	compiled := &CompiledRule{Rule: rule}
	var err error
	switch rule.Method {
	case domain.MethodThreshold:
		err = compileThreshold(compiled)
	case domain.MethodPattern:
		err = compilePattern(compiled)
	case domain.MethodStatistical:
		err = compileStatistical(compiled)
	case domain.MethodExpression:
		err = c.compileExpression(compiled)
	default:
		err = domain.NewConfigurationError(rule.ID, "unknown detection method %q", rule.Method)
	}
	if err != nil {
		return nil, err
	}
	return compiled, nil
}

func compileThreshold(c *CompiledRule) error {
	id := c.Rule.ID
	field, err := stringParam(c.Rule, "field")
	if err != nil {
		return err
	}
	raw, ok := c.Rule.Parameters["threshold"]
	if !ok {
		return domain.NewConfigurationError(id, "threshold rule requires parameters.threshold")
	}
	threshold, ok := toFloat(raw)
	if !ok {
		return domain.NewConfigurationError(id, "parameters.threshold must be numeric, got %T", raw)
	}

	op := OpGreater
	if v, ok := c.Rule.Parameters["operator"]; ok {
		s, _ := v.(string)
		switch s {
		case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
			op = s
		default:
			return domain.NewConfigurationError(id, "unknown operator %v", v)
		}
	}

	c.field = field
	c.threshold = threshold
	c.operator = op
	return nil
}

func compilePattern(c *CompiledRule) error {
	id := c.Rule.ID
	field, err := stringParam(c.Rule, "field")
	if err != nil {
		return err
	}
	patterns, err := stringListParam(c.Rule, "patterns")
	if err != nil {
		return err
	}

	mode := MatchExact
	if v, ok := c.Rule.Parameters["match"]; ok {
		s, _ := v.(string)
		if s != MatchExact && s != MatchRegex {
			return domain.NewConfigurationError(id, "unknown match mode %v", v)
		}
		mode = s
	}

	c.field = field
	if mode == MatchRegex {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return domain.NewConfigurationError(id, "invalid pattern %q: %v", p, err)
			}
			c.regexes = append(c.regexes, re)
		}
		return nil
	}
	for _, p := range patterns {
		c.patterns = append(c.patterns, strings.ToLower(p))
	}
	return nil
}

func compileStatistical(c *CompiledRule) error {
	id := c.Rule.ID
	field, err := stringParam(c.Rule, "field")
	if err != nil {
		return err
	}

	z := DefaultZThreshold
	if v, ok := c.Rule.Parameters["z_threshold"]; ok {
		f, ok := toFloat(v)
		if !ok || f <= 0 {
			return domain.NewConfigurationError(id, "z_threshold must be a positive number, got %v", v)
		}
		z = f
	}

	minSamples := MinStatSamples
	if v, ok := c.Rule.Parameters["min_samples"]; ok {
		f, ok := toFloat(v)
		if !ok || f < MinStatSamples || f != float64(int(f)) {
			return domain.NewConfigurationError(id, "min_samples must be an integer of at least %d, got %v", MinStatSamples, v)
		}
		minSamples = int(f)
	}

	c.field = field
	c.zThreshold = z
	c.minSamples = minSamples
	return nil
}

func (c *Compiler) compileExpression(cr *CompiledRule) error {
	id := cr.Rule.ID
	expr, err := stringParam(cr.Rule, "expression")
	if err != nil {
		return err
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return domain.NewConfigurationError(id, "failed to compile expression: %v", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return domain.NewConfigurationError(id, "expression must return bool, got %s", ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return domain.NewConfigurationError(id, "failed to create program: %v", err)
	}
	cr.program = program
	return nil
}

func stringParam(rule *domain.Rule, name string) (string, error) {
	v, ok := rule.Parameters[name]
	if !ok {
		return "", domain.NewConfigurationError(rule.ID, "%s rule requires parameters.%s", rule.Method, name)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", domain.NewConfigurationError(rule.ID, "parameters.%s must be a non-empty string", name)
	}
	return s, nil
}

func stringListParam(rule *domain.Rule, name string) ([]string, error) {
	v, ok := rule.Parameters[name]
	if !ok {
		return nil, domain.NewConfigurationError(rule.ID, "%s rule requires parameters.%s", rule.Method, name)
	}

	var out []string
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, domain.NewConfigurationError(rule.ID, "parameters.%s must contain only strings", name)
			}
			out = append(out, s)
		}
	default:
		return nil, domain.NewConfigurationError(rule.ID, "parameters.%s must be a list, got %T", name, v)
	}
	if len(out) == 0 {
		return nil, domain.NewConfigurationError(rule.ID, "parameters.%s must not be empty", name)
	}
	return out, nil
}

// toFloat accepts the numeric types produced by JSON and YAML decoding.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
