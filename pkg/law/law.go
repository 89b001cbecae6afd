// Package law implements the law oracle: a versioned, hashable rule set of
// norms (legality conditions) and witness rules (oversight conditions) that
// an authorization request must also satisfy. Rules are CEL expressions over
// the action, role, cost, and free-form request context. A new interpretation
// bumps the ruleset version and changes its content hash, but never
// retroactively invalidates prior decisions' logs.
package law

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog"

	"github.com/trustplane/trustplane/pkg/canonicalize"
)

// Oracle is the external contract consumed by the authorization engine.
type Oracle interface {
	// CheckActionLegality reports whether the action is legal for the role in
	// the given context, with a reason on rejection.
	CheckActionLegality(action string, reqContext map[string]any, role string) (bool, string)
	// WitnessRequired reports whether the action, though legal, needs witness
	// oversight before it may be granted.
	WitnessRequired(action string, reqContext map[string]any, role string) bool
	// WitnessTypeFor names the witness type of the first matching witness
	// rule, or "" when none applies.
	WitnessTypeFor(action string, reqContext map[string]any, role string) string
}

// Norm is a legality condition: the expression must evaluate true for the
// request to be legal. Empty Roles means the norm applies to every role.
type Norm struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	Roles       []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Expr        string   `json:"expr" yaml:"expr"`

	prog cel.Program
}

// WitnessRule flags requests that require oversight: when the expression
// evaluates true, the decision is deferred pending witness evidence.
type WitnessRule struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	WitnessType string   `json:"witness_type,omitempty" yaml:"witness_type,omitempty"`
	Roles       []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Expr        string   `json:"expr" yaml:"expr"`

	prog cel.Program
}

// Ruleset is a compiled, versioned collection of norms and witness rules.
type Ruleset struct {
	Version      *semver.Version
	Norms        []Norm
	WitnessRules []WitnessRule

	log zerolog.Logger
}

var _ Oracle = (*Ruleset)(nil)

// newEnv builds the CEL environment shared by all rules.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("cost", cel.IntType),
		cel.Variable("ctx", cel.DynType),
	)
}

// Compile builds a Ruleset from declarations, compiling every expression.
func Compile(version string, norms []Norm, witnessRules []WitnessRule) (*Ruleset, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("law: invalid ruleset version %q: %w", version, err)
	}
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("law: create environment: %w", err)
	}

	rs := &Ruleset{Version: v, log: zerolog.Nop()}
	for _, n := range norms {
		prog, err := compileExpr(env, n.Expr)
		if err != nil {
			return nil, fmt.Errorf("law: norm %s: %w", n.ID, err)
		}
		n.prog = prog
		rs.Norms = append(rs.Norms, n)
	}
	for _, w := range witnessRules {
		prog, err := compileExpr(env, w.Expr)
		if err != nil {
			return nil, fmt.Errorf("law: witness rule %s: %w", w.ID, err)
		}
		w.prog = prog
		rs.WitnessRules = append(rs.WitnessRules, w)
	}
	return rs, nil
}

// WithLogger sets the operational logger.
func (r *Ruleset) WithLogger(log zerolog.Logger) *Ruleset {
	r.log = log
	return r
}

func compileExpr(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression %q must evaluate to bool", expr)
	}
	return env.Program(ast)
}

func roleApplies(roles []string, role string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func evalInput(action string, reqContext map[string]any, role string) map[string]any {
	cost := int64(0)
	if reqContext != nil {
		switch v := reqContext["cost"].(type) {
		case int64:
			cost = v
		case int:
			cost = int64(v)
		case float64:
			cost = int64(v)
		}
	}
	if reqContext == nil {
		reqContext = map[string]any{}
	}
	return map[string]any{
		"action": action,
		"role":   role,
		"cost":   cost,
		"ctx":    reqContext,
	}
}

// CheckActionLegality evaluates every applicable norm. Evaluation errors fail
// closed: a norm that cannot be evaluated denies the request.
func (r *Ruleset) CheckActionLegality(action string, reqContext map[string]any, role string) (bool, string) {
	input := evalInput(action, reqContext, role)
	for _, n := range r.Norms {
		if !roleApplies(n.Roles, role) {
			continue
		}
		out, _, err := n.prog.Eval(input)
		if err != nil {
			r.log.Warn().Err(err).Str("norm", n.ID).Msg("norm evaluation failed, denying")
			return false, fmt.Sprintf("norm %s could not be evaluated", n.ID)
		}
		if allowed, ok := out.Value().(bool); !ok || !allowed {
			return false, n.Description
		}
	}
	return true, ""
}

// WitnessRequired evaluates the witness rules; any applicable rule that fires
// requires oversight. Evaluation errors fail toward requiring a witness.
func (r *Ruleset) WitnessRequired(action string, reqContext map[string]any, role string) bool {
	input := evalInput(action, reqContext, role)
	for _, w := range r.WitnessRules {
		if !roleApplies(w.Roles, role) {
			continue
		}
		out, _, err := w.prog.Eval(input)
		if err != nil {
			r.log.Warn().Err(err).Str("rule", w.ID).Msg("witness rule evaluation failed, requiring oversight")
			return true
		}
		if fired, ok := out.Value().(bool); ok && fired {
			return true
		}
	}
	return false
}

// WitnessTypeFor returns the witness type of the first firing rule, for the
// deferred result's missing-evidence requirement.
func (r *Ruleset) WitnessTypeFor(action string, reqContext map[string]any, role string) string {
	input := evalInput(action, reqContext, role)
	for _, w := range r.WitnessRules {
		if !roleApplies(w.Roles, role) {
			continue
		}
		out, _, err := w.prog.Eval(input)
		if err != nil {
			return w.WitnessType
		}
		if fired, ok := out.Value().(bool); ok && fired {
			return w.WitnessType
		}
	}
	return ""
}

// hashForm is the canonical serializable shape of a ruleset.
type hashForm struct {
	Version      string        `json:"version"`
	Norms        []Norm        `json:"norms"`
	WitnessRules []WitnessRule `json:"witness_rules"`
}

// ContentHash returns the SHA-256 of the JCS canonical form of the ruleset.
// Two rulesets with identical declarations hash identically.
func (r *Ruleset) ContentHash() (string, error) {
	hash, err := canonicalize.Hash(hashForm{
		Version:      r.Version.String(),
		Norms:        r.Norms,
		WitnessRules: r.WitnessRules,
	})
	if err != nil {
		return "", fmt.Errorf("law: hash ruleset: %w", err)
	}
	return hash, nil
}
