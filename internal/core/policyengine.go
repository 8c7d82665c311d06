//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/manetu/cedarengine/internal/core/mock"
	"github.com/manetu/cedarengine/internal/entities"
	"github.com/manetu/cedarengine/internal/logging"
	"github.com/manetu/cedarengine/internal/trustmode"
	"github.com/manetu/cedarengine/pkg/core/accesslog"
	"github.com/manetu/cedarengine/pkg/core/config"
	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/options"
	"github.com/manetu/cedarengine/pkg/core/policystore"
	"github.com/manetu/cedarengine/pkg/core/token"
)

var logger = logging.GetLogger("cedarengine")

const agent string = "cedarengine"

// PolicyEngine binds a policy store snapshot to the evaluation pipeline:
// trust-mode gate, entity construction, Cedar evaluation, and decision
// record emission.
type PolicyEngine struct {
	audit    accesslog.Stream
	store    *policystore.Store
	compiler *engine.Compiler
	builder  *entities.Builder

	trustMode  trustmode.Mode
	combineAll bool
	actionType string
	auditEnv   map[string]string
}

// NewPolicyEngine returns an engine instance bound to the store resolved
// from the options and configuration.
func NewPolicyEngine(engineOptions *options.EngineOptions) (*PolicyEngine, error) {
	compiler := engine.NewCompiler(engineOptions.CompilerOptions...)

	al, err := engineOptions.AccessLogFactory.NewStream()
	if err != nil {
		return nil, err
	}

	store, err := resolveStore(compiler, engineOptions)
	if err != nil {
		return nil, err
	}

	mode, err := resolveTrustMode(engineOptions)
	if err != nil {
		return nil, err
	}

	combineAll, err := resolveCombineMode()
	if err != nil {
		return nil, err
	}

	names := resolveNames(engineOptions.EntityNames)

	return &PolicyEngine{
		audit:      al,
		store:      store,
		compiler:   compiler,
		builder:    entities.NewBuilder(store, names),
		trustMode:  mode,
		combineAll: combineAll,
		actionType: resolveActionType(engineOptions.EntityNames),
		auditEnv:   config.GetAuditEnv(),
	}, nil
}

// resolveStore picks the policy store source in precedence order: mock
// mode, pre-loaded store, option paths, configured paths.
func resolveStore(compiler *engine.Compiler, engineOptions *options.EngineOptions) (*policystore.Store, error) {
	if config.VConfig.GetBool(config.MockEnabled) {
		return mock.NewStore(compiler)
	}
	if engineOptions.Store != nil {
		return engineOptions.Store, nil
	}
	paths := engineOptions.StorePaths
	if len(paths) == 0 {
		paths = config.VConfig.GetStringSlice(config.StorePaths)
	}
	if len(paths) == 0 {
		return nil, errors.New("no policy store configured")
	}
	return policystore.Load(compiler, paths...)
}

func resolveTrustMode(engineOptions *options.EngineOptions) (trustmode.Mode, error) {
	raw := engineOptions.TrustMode
	if raw == "" {
		raw = config.VConfig.GetString(config.TrustMode)
	}
	return trustmode.Parse(raw)
}

func resolveCombineMode() (bool, error) {
	switch mode := strings.ToLower(strings.TrimSpace(config.VConfig.GetString(config.PrincipalMode))); mode {
	case "", "any":
		return false, nil
	case "all":
		return true, nil
	default:
		return false, errors.Errorf("invalid principal mode %q", mode)
	}
}

// resolveNames layers option overrides on top of configuration, which in
// turn defaults to the conventional Authz namespace.
func resolveNames(overrides options.EntityNames) entities.Names {
	pick := func(override, key string) string {
		if override != "" {
			return override
		}
		return config.VConfig.GetString(key)
	}

	names := entities.Names{
		Workload: pick(overrides.Workload, config.EntityWorkload),
		User:     pick(overrides.User, config.EntityUser),
		Role:     pick(overrides.Role, config.EntityRole),
		Issuer:   pick(overrides.Issuer, config.EntityIssuer),
		Tokens:   entities.DefaultNames().Tokens,
	}
	for name, entityType := range config.VConfig.GetStringMapString("entities.tokens") {
		names.Tokens[name] = entityType
	}
	for name, entityType := range overrides.Tokens {
		names.Tokens[name] = entityType
	}
	return names
}

func resolveActionType(overrides options.EntityNames) string {
	if overrides.Action != "" {
		return overrides.Action
	}
	return config.VConfig.GetString(config.EntityAction)
}

// GetStore returns the policy store snapshot serving this engine.
func (pe *PolicyEngine) GetStore() *policystore.Store {
	return pe.store
}

// TrustMode returns the active token trust mode.
func (pe *PolicyEngine) TrustMode() trustmode.Mode {
	return pe.trustMode
}

// Close flushes and releases the decision record stream.
func (pe *PolicyEngine) Close() {
	if pe.audit != nil {
		pe.audit.Close()
	}
}

// auditDecision finalizes and emits one decision record.
func (pe *PolicyEngine) auditDecision(aos *options.AuthzOptions, record *accesslog.Record) {
	if logger.IsDebugEnabled() {
		logger.Debugf(agent, "auditDecision", "action: %s, resource: %s, decision: %t, reason: %s, options: %+v",
			record.Action, record.Resource, record.Decision, record.Reason, aos)
	}

	if pe.audit != nil && !aos.Probe {
		if err := pe.audit.Send(record); err != nil {
			logger.Errorf(agent, "auditDecision", "unable to send decision record %+v", err)
		}
	}
}

// tokenNames returns the presented token names in the builder's
// evaluation order for record determinism.
func tokenNames(toks map[string]*token.Token) []string {
	names := make([]string, 0, len(toks))
	for _, well := range []string{token.Access, token.ID, token.Userinfo} {
		if _, ok := toks[well]; ok {
			names = append(names, well)
		}
	}
	var rest []string
	for name := range toks {
		if name != token.Access && name != token.ID && name != token.Userinfo {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
