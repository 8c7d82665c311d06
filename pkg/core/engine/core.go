//
//  Copyright © Manetu Inc. All rights reserved.
//
// Cedar abstraction for compiling and evaluating policies

package engine

import (
	"fmt"
	"sort"

	cedar "github.com/cedar-policy/cedar-go"
	"github.com/cedar-policy/cedar-go/types"

	"github.com/manetu/cedarengine/internal/logging"
	"github.com/manetu/cedarengine/pkg/common"
)

var logger = logging.GetLogger("engine")
var agent = "engine"

// Sources is a map of document name to Cedar policy source text.  A
// single document may contain any number of policy statements.
type Sources map[string]string

// Compiler converts textual Cedar policies into a reusable [PolicySet].
type Compiler struct {
	options *CompilerOptions
}

// CompilerOptions contains configuration options for the compiler.
type CompilerOptions struct {
	trace bool
}

// CompilerOptionFunc is a function that modifies CompilerOptions.
type CompilerOptionFunc func(*CompilerOptions)

// WithDefaultTracing sets the default diagnostic logging in effect
// during evaluation that is used if not explicitly set by the
// Authorize() option 'WithTrace'.
func WithDefaultTracing(trace bool) CompilerOptionFunc {
	return func(o *CompilerOptions) {
		o.trace = trace
	}
}

// NewCompiler creates a new Compiler with the specified options.
func NewCompiler(options ...CompilerOptionFunc) *Compiler {
	opts := &CompilerOptions{
		trace: logger.IsTraceEnabled(),
	}
	for _, o := range options {
		o(opts)
	}

	return &Compiler{options: opts}
}

// Clone creates a new instance of Compiler based on the current configuration,
// optionally applying additional options.
func (c *Compiler) Clone(options ...CompilerOptionFunc) *Compiler {
	opts := &CompilerOptions{
		trace: c.options.trace,
	}
	for _, o := range options {
		o(opts)
	}

	return &Compiler{options: opts}
}

// PolicySet is a compiled, immutable collection of Cedar policies,
// suitable for reusable evaluation.
type PolicySet struct {
	name  string
	ps    *cedar.PolicySet
	count int
	trace bool
}

// Compile parses the provided policy sources into a [PolicySet].
// Policies receive stable ids of the form <document>.policy<N>, in
// statement order within each document.
func (c *Compiler) Compile(name string, sources Sources) (*PolicySet, error) {
	ps := cedar.NewPolicySet()
	count := 0

	// deterministic policy ids regardless of map iteration order
	docs := make([]string, 0, len(sources))
	for doc := range sources {
		docs = append(docs, doc)
	}
	sort.Strings(docs)

	for _, doc := range docs {
		policies, err := cedar.NewPolicyListFromBytes(doc, []byte(sources[doc]))
		if err != nil {
			return nil, fmt.Errorf("policy document %q: %w", doc, err)
		}
		for i, policy := range policies {
			ps.Add(cedar.PolicyID(fmt.Sprintf("%s.policy%d", doc, i)), policy)
			count++
		}
	}

	return &PolicySet{
		name:  name,
		ps:    ps,
		count: count,
		trace: c.options.trace,
	}, nil
}

// Len returns the number of compiled policy statements.
func (p *PolicySet) Len() int { return p.count }

// Name returns the label given to the set at compile time.
func (p *PolicySet) Name() string { return p.name }

// Decision is the outcome of one authorization query, including the
// per-policy diagnostics Cedar produced while evaluating it.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// EvalOptions contains configuration options for policy evaluation.
type EvalOptions struct {
	trace bool
}

// EvalOptionFunc is a function that modifies EvalOptions.
type EvalOptionFunc func(*EvalOptions)

// WithTrace configures whether to log diagnostics during policy evaluation.
func WithTrace(trace bool) EvalOptionFunc {
	return func(o *EvalOptions) {
		o.trace = trace
	}
}

// Authorize evaluates the policy set against a single request and the
// entity slice constructed for it.  Evaluation is deny-by-default: an
// empty policy set, an unknown principal, or an evaluation error all
// yield a deny.  Evaluation errors are carried in the decision rather
// than returned, matching Cedar semantics where an erroring policy
// simply does not contribute.
func (p *PolicySet) Authorize(entities types.EntityMap, req cedar.Request, options ...EvalOptionFunc) (Decision, *common.DecisionError) {
	logger.Debugf(agent, "Authorize", "request: %+v", req)

	opts := &EvalOptions{trace: p.trace}
	for _, o := range options {
		o(opts)
	}

	if p.ps == nil {
		return Decision{}, common.NewError(common.ReasonEvaluation, "policy set is not compiled")
	}

	decision, diag := p.ps.IsAuthorized(entities, req)

	out := Decision{Allowed: decision == cedar.Allow}
	for _, reason := range diag.Reasons {
		out.Reasons = append(out.Reasons, string(reason.PolicyID))
	}
	for _, evalErr := range diag.Errors {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", evalErr.PolicyID, evalErr.Message))
	}

	if opts.trace {
		logger.Tracef(agent, "Authorize", "decision: %v reasons: %v errors: %v",
			decision, out.Reasons, out.Errors)
	}

	return out, nil
}
