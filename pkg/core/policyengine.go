//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package core provides the primary interface for the Manetu Cedar Engine,
// an authorization system that derives Cedar entities from bearer tokens
// and evaluates access control decisions against a policy store.
//
// Each decision runs a fixed pipeline: token normalization, trust-mode
// validation, entity construction, Cedar policy evaluation per principal,
// and decision record emission for audit trail purposes.
//
// # Quick Start
//
// Create an engine from a policy store file:
//
//	pe, err := core.NewPolicyEngine(
//	    options.WithStorePaths("policy-store.yaml"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Make an authorization decision:
//
//	result, err := pe.Authorize(ctx, `{
//	    "tokens": {
//	        "access_token": "eyJhbGciOi...",
//	        "id_token": "eyJhbGciOi..."
//	    },
//	    "action": "read",
//	    "resource": {"uid": {"type": "Authz::Document", "id": "doc-1"}}
//	}`)
//
// # Configuration
//
// The engine supports various configuration options via functional options:
//
//	pe, err := core.NewPolicyEngine(
//	    options.WithStorePaths("/etc/cedarengine/stores"),
//	    options.WithAccessLog(accesslog.NewStdoutFactory()),
//	    options.WithTrustMode("strict"),
//	)
//
// # Probe Mode
//
// For UI capabilities discovery without impacting audit logs, use probe mode:
//
//	result, err := pe.Authorize(ctx, request, options.SetProbeMode(true))
//
// See the [options] package for all available configuration options.
package core

import (
	"context"

	"github.com/manetu/cedarengine/internal/core"
	"github.com/manetu/cedarengine/internal/logging"
	"github.com/manetu/cedarengine/pkg/core/accesslog"
	"github.com/manetu/cedarengine/pkg/core/config"
	"github.com/manetu/cedarengine/pkg/core/options"
	"github.com/manetu/cedarengine/pkg/core/policystore"
	"github.com/manetu/cedarengine/pkg/core/types"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("cedarengine")
var agent = "cedarengine"

// PolicyEngine is the primary interface for making authorization decisions.
//
// PolicyEngine evaluates token-based and unsigned access control requests
// against a compiled policy store snapshot. The engine supports pluggable
// decision record streams for audit trails.
//
// Implementations of PolicyEngine are safe for concurrent use by multiple
// goroutines.
type PolicyEngine interface {
	// Authorize evaluates a token-based authorization request.
	//
	// The request parameter accepts a JSON string, raw JSON bytes, or a
	// *types.Request. See the [types] package for the structure.
	//
	// Returns the per-principal result. Returns an error if the request
	// is malformed, fails trust-mode validation, or entity construction
	// fails; the error carries a machine-readable reason code.
	Authorize(ctx context.Context, request types.AnyRequest, authzOptions ...options.AuthzOptionsFunc) (*types.Result, error)

	// AuthorizeUnsigned evaluates a request whose principals are asserted
	// directly by the caller instead of being derived from tokens.
	AuthorizeUnsigned(ctx context.Context, request types.AnyRequestUnsigned, authzOptions ...options.AuthzOptionsFunc) (*types.Result, error)

	// GetStore returns the underlying policy store snapshot.
	//
	// This is useful for advanced use cases where direct access to the
	// schema or issuer registry is needed, such as debugging or
	// introspection.
	GetStore() *policystore.Store

	// Close flushes and releases the decision record stream.
	Close()
}

// PolicyEngineImpl is the default implementation of the [PolicyEngine] interface.
//
// PolicyEngineImpl wraps the internal engine implementation and can be
// embedded or wrapped by applications that need to extend or customize the
// engine's behavior, such as adding context management or middleware.
//
// Use [NewPolicyEngine] to create a properly initialized instance.
type PolicyEngineImpl struct {
	instance *core.PolicyEngine
}

// NewPolicyEngine creates and initializes a new [PolicyEngine] instance.
//
// By default, the engine uses a stdout decision record stream and loads the
// policy store from the configured store.paths. Use functional options to
// supply a store and access log programmatically:
//
//	pe, err := core.NewPolicyEngine(
//	    options.WithStore(store),
//	    options.WithAccessLog(accesslog.NewNullFactory()),
//	)
//
// NewPolicyEngine loads configuration from environment variables and config
// files before initializing the engine. See the [config] package for details.
//
// Returns an error if configuration loading fails or if no policy store
// can be resolved.
func NewPolicyEngine(engineOptions ...options.EngineOptionsFunc) (PolicyEngine, error) {
	err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	opts := &options.EngineOptions{
		AccessLogFactory: accesslog.NewStdoutFactory(),
	}
	for _, o := range engineOptions {
		o(opts)
	}

	instance, err := core.NewPolicyEngine(opts)
	if err != nil {
		return nil, err
	}

	return &PolicyEngineImpl{
		instance: instance,
	}, nil
}

// NewLocalPolicyEngine creates and initializes a new [PolicyEngine]
// instance from local policy store files.
//
// Each storePath should be a policy store document (YAML or JSON) or a
// directory of documents. Documents merge into one store snapshot; see
// [policystore.Load] for the merge rules.
//
// Other defaults are inherited from [NewPolicyEngine].
func NewLocalPolicyEngine(storePaths []string, engineOptions ...options.EngineOptionsFunc) (PolicyEngine, error) {
	err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	engineOptions = append(engineOptions, options.WithStorePaths(storePaths...))
	return NewPolicyEngine(engineOptions...)
}

// Authorize evaluates a token-based authorization request.
//
// The request can be provided as either:
//   - A JSON string or raw JSON bytes containing the request structure
//   - A *types.Request with the fields already populated
//
// The request must name an action and a resource; tokens are optional but
// at least one principal entity must be constructible from them.
//
// Authorization options can modify the evaluation behavior:
//
//	// Enable probe mode to skip decision record emission
//	result, err := pe.Authorize(ctx, request, options.SetProbeMode(true))
//
// The decision and any evaluation errors are logged to the configured
// decision record stream (unless probe mode is enabled).
func (pe *PolicyEngineImpl) Authorize(ctx context.Context, request types.AnyRequest, authzOptions ...options.AuthzOptionsFunc) (*types.Result, error) {
	logger.Debug(agent, "Authorize", "Enter")
	defer logger.Debug(agent, "Authorize", "Exit")

	opts := &options.AuthzOptions{Probe: false}
	for _, o := range authzOptions {
		o(opts)
	}

	input, err := types.UnmarshalRequest(request)
	if err != nil {
		return nil, err
	}

	result, derr := pe.instance.Authorize(ctx, input, opts)
	if derr != nil {
		return nil, derr
	}
	logger.Debugf(agent, "Authorize", "returned from authorize(): %t", result.Decision)

	return result, nil
}

// AuthorizeUnsigned evaluates a request with caller-asserted principals.
//
// The request can be provided as a JSON string, raw JSON bytes, or a
// *types.RequestUnsigned. Each principal's attributes are built with the
// same schema-guided attribute builder used for token-derived entities.
func (pe *PolicyEngineImpl) AuthorizeUnsigned(ctx context.Context, request types.AnyRequestUnsigned, authzOptions ...options.AuthzOptionsFunc) (*types.Result, error) {
	logger.Debug(agent, "AuthorizeUnsigned", "Enter")
	defer logger.Debug(agent, "AuthorizeUnsigned", "Exit")

	opts := &options.AuthzOptions{Probe: false}
	for _, o := range authzOptions {
		o(opts)
	}

	input, err := types.UnmarshalRequestUnsigned(request)
	if err != nil {
		return nil, err
	}

	result, derr := pe.instance.AuthorizeUnsigned(ctx, input, opts)
	if derr != nil {
		return nil, derr
	}

	return result, nil
}

// GetStore returns the policy store snapshot serving this engine.
//
// The store provides access to the compiled policies, the mapping schema,
// and the trusted-issuer registry. This method is primarily intended for
// advanced use cases such as introspection or debugging.
func (pe *PolicyEngineImpl) GetStore() *policystore.Store {
	return pe.instance.GetStore()
}

// Close flushes and releases the decision record stream.
func (pe *PolicyEngineImpl) Close() {
	pe.instance.Close()
}
