//
//  Copyright © Manetu Inc. All rights reserved.
//
// shared between pkg/core and internal/core, and thus must be in a separate package to avoid circular dependencies

package options

import (
	"github.com/manetu/cedarengine/internal/logging"
	"github.com/manetu/cedarengine/pkg/core/accesslog"
	"github.com/manetu/cedarengine/pkg/core/config"
	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/policystore"
)

var logger = logging.GetLogger("cedarengine")
var agent = "cedarengine"

// EngineOptions defines the configuration options for initializing a policy
// engine, including the access log factory and the policy store source.
type EngineOptions struct {
	AccessLogFactory accesslog.Factory
	CompilerOptions  []engine.CompilerOptionFunc

	// Store is a pre-loaded policy store snapshot. Takes precedence over
	// StorePaths when both are set.
	Store *policystore.Store

	// StorePaths are policy store files or directories to load at engine
	// construction.
	StorePaths []string

	// TrustMode overrides the configured trust mode when non-empty.
	TrustMode string

	// EntityNames overrides the configured entity type names for the
	// identified kinds. Empty fields inherit configuration defaults.
	EntityNames EntityNames
}

// EntityNames carries per-kind entity type name overrides.
type EntityNames struct {
	Workload string
	User     string
	Role     string
	Issuer   string
	Action   string

	// Tokens maps token names (access_token etc) to the entity type
	// representing the token record itself.
	Tokens map[string]string
}

// EngineOptionsFunc is a function that modifies EngineOptions.
type EngineOptionsFunc func(*EngineOptions)

// WithAccessLog configures the decision record stream for the engine.
func WithAccessLog(factory accesslog.Factory) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.AccessLogFactory = factory
	}
}

// WithStore configures a pre-loaded policy store for the engine.
func WithStore(store *policystore.Store) EngineOptionsFunc {
	return func(o *EngineOptions) {
		if config.VConfig.GetBool(config.MockEnabled) {
			logger.Warn(agent, "WithStore", "Ignoring policy store as mock mode is enabled")
		} else {
			o.Store = store
		}
	}
}

// WithStorePaths configures policy store files or directories to load at
// engine construction.
func WithStorePaths(paths ...string) EngineOptionsFunc {
	return func(o *EngineOptions) {
		if config.VConfig.GetBool(config.MockEnabled) {
			logger.Warn(agent, "WithStorePaths", "Ignoring policy store paths as mock mode is enabled")
		} else {
			o.StorePaths = append(o.StorePaths, paths...)
		}
	}
}

// WithTrustMode overrides the configured token trust mode ("none" or
// "strict") for the engine.
func WithTrustMode(mode string) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.TrustMode = mode
	}
}

// WithEntityNames overrides the entity type names the engine emits.
// Empty fields fall back to configuration and then to the defaults.
func WithEntityNames(names EntityNames) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.EntityNames = names
	}
}

// WithCompilerOptions configures the policy compiler options for the engine.
func WithCompilerOptions(opts ...engine.CompilerOptionFunc) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.CompilerOptions = opts
	}
}

// AuthzOptions represents configuration options for Authorize operations.
type AuthzOptions struct {
	Probe bool
}

// AuthzOptionsFunc is a function that modifies AuthzOptions.
type AuthzOptionsFunc func(*AuthzOptions)

// SetProbeMode configures the probe mode for Authorize operations.  Probe mode evaluates policies but does not
// log decisions, which is helpful for returning information about what capabilities a user/service has without impacting
// the audit trail.  For instance, if you want to show a UI user whether they can modify a resource, you can run Authorize
// in probe mode as if they have tried to modify the resource, using the decision outcome in the display.  However,
// it would be unfair to generate an audit record that suggests that the user tried to modify the resource, when really
// your service was merely testing to see if they could.
//
// Probe mode is disabled by default. Use with caution and only in places where you are sure that the decision doesn't
// require logging.
func SetProbeMode(probe bool) AuthzOptionsFunc {
	return func(o *AuthzOptions) {
		o.Probe = probe
	}
}
