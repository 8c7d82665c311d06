//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"context"
	"strconv"
	"strings"
	"time"

	cedar "github.com/cedar-policy/cedar-go"
	cedartypes "github.com/cedar-policy/cedar-go/types"
	"github.com/google/uuid"

	"github.com/manetu/cedarengine/internal/entities"
	"github.com/manetu/cedarengine/internal/trustmode"
	"github.com/manetu/cedarengine/pkg/common"
	"github.com/manetu/cedarengine/pkg/core/accesslog"
	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/options"
	"github.com/manetu/cedarengine/pkg/core/types"
)

// safeMicros converts a time.Duration to microseconds, clamping
// negative values from clock adjustments.
func safeMicros(d time.Duration) int64 {
	return max(0, d.Microseconds())
}

// principal is one evaluated identity within a single request.
type principal struct {
	name string
	uid  cedartypes.EntityUID
}

// Authorize runs the token-based pipeline: normalize, trust gate, entity
// construction, per-principal Cedar evaluation, decision record.
func (pe *PolicyEngine) Authorize(ctx context.Context, input *types.Request, authOptions *options.AuthzOptions) (*types.Result, *common.DecisionError) {
	logger.Debug(agent, "authorize", "Enter")
	defer logger.Debug(agent, "authorize", "Exit")

	start := time.Now()
	result := &types.Result{ID: uuid.New().String()}
	record := &accesslog.Record{
		ID:          result.ID,
		Timestamp:   start.UTC(),
		Store:       pe.store.Name(),
		Action:      input.Action,
		Environment: pe.auditEnv,
	}

	// -------------------------- NOTE: all returns audited -----------------
	defer func() {
		record.DurationUs = safeMicros(time.Since(start))
		pe.auditDecision(authOptions, record)
	}()

	fail := func(derr *common.DecisionError) (*types.Result, *common.DecisionError) {
		record.ReasonCode = derr.ReasonCode.String()
		record.Reason = derr.Error()
		return nil, derr
	}

	raw := make(map[string]map[string]interface{}, len(input.Tokens))
	for name, anyTok := range input.Tokens {
		claims, err := types.NormalizeToken(anyTok)
		if err != nil {
			return fail(common.WrapError(common.ReasonInvalidParam, "token "+name, err))
		}
		raw[name] = claims
	}

	toks, err := pe.builder.PrepareTokens(raw)
	if err != nil {
		return fail(common.WrapError(common.ReasonTrustMode, "token rejected", err))
	}

	if err := trustmode.Validate(pe.trustMode, toks); err != nil {
		return fail(common.WrapError(common.ReasonTrustMode, "trust mode "+string(pe.trustMode), err))
	}
	record.Tokens = tokenNames(toks)

	action, err := pe.parseAction(input.Action)
	if err != nil {
		return fail(common.WrapError(common.ReasonInvalidParam, "action", err))
	}

	if err := input.Resource.Validate(); err != nil {
		return fail(common.WrapError(common.ReasonInvalidParam, "resource", err))
	}
	resource := cedartypes.NewEntityUID(cedartypes.EntityType(input.Resource.UID.Type), cedartypes.String(input.Resource.UID.ID))
	record.Resource = resource.String()

	evalContext, err := entities.ContextRecord(input.Context)
	if err != nil {
		return fail(common.WrapError(common.ReasonInvalidParam, "context", err))
	}

	out, err := pe.builder.Build(toks, &input.Resource)
	if err != nil {
		return fail(common.WrapError(common.ReasonEntityBuild, "entity construction", err))
	}

	var principals []principal
	if out.Workload != nil {
		principals = append(principals, principal{name: "workload", uid: *out.Workload})
	}
	if out.User != nil {
		principals = append(principals, principal{name: "user", uid: *out.User})
	}
	if len(principals) == 0 {
		return fail(common.NewError(common.ReasonEntityBuild, "no principal entities could be constructed"))
	}

	decisions := make([]engine.Decision, len(principals))
	for i, p := range principals {
		record.Principals = append(record.Principals, p.uid.String())

		d, derr := pe.store.Policies().Authorize(out.Entities, cedar.Request{
			Principal: p.uid,
			Action:    action,
			Resource:  resource,
			Context:   evalContext,
		})
		if derr != nil {
			return fail(derr)
		}
		decisions[i] = d

		switch p.name {
		case "workload":
			result.Workload = &decisions[i]
			record.Workload = &decisions[i]
		case "user":
			result.User = &decisions[i]
			record.User = &decisions[i]
		}
	}

	result.Decision = pe.combine(decisions)
	record.Decision = result.Decision

	if logger.IsDebugEnabled() {
		logger.Debugf(agent, "authorize", "decision: %t over %d principal(s)", result.Decision, len(principals))
	}

	return result, nil
}

// AuthorizeUnsigned evaluates caller-asserted principals against the
// store, bypassing token handling entirely.
func (pe *PolicyEngine) AuthorizeUnsigned(ctx context.Context, input *types.RequestUnsigned, authOptions *options.AuthzOptions) (*types.Result, *common.DecisionError) {
	logger.Debug(agent, "authorizeUnsigned", "Enter")
	defer logger.Debug(agent, "authorizeUnsigned", "Exit")

	start := time.Now()
	result := &types.Result{
		ID:         uuid.New().String(),
		Principals: map[string]engine.Decision{},
	}
	record := &accesslog.Record{
		ID:          result.ID,
		Timestamp:   start.UTC(),
		Store:       pe.store.Name(),
		Action:      input.Action,
		Environment: pe.auditEnv,
	}

	defer func() {
		record.DurationUs = safeMicros(time.Since(start))
		pe.auditDecision(authOptions, record)
	}()

	fail := func(derr *common.DecisionError) (*types.Result, *common.DecisionError) {
		record.ReasonCode = derr.ReasonCode.String()
		record.Reason = derr.Error()
		return nil, derr
	}

	if len(input.Principals) == 0 {
		return fail(common.NewError(common.ReasonInvalidParam, "no principals provided"))
	}

	action, err := pe.parseAction(input.Action)
	if err != nil {
		return fail(common.WrapError(common.ReasonInvalidParam, "action", err))
	}

	if err := input.Resource.Validate(); err != nil {
		return fail(common.WrapError(common.ReasonInvalidParam, "resource", err))
	}
	resource := cedartypes.NewEntityUID(cedartypes.EntityType(input.Resource.UID.Type), cedartypes.String(input.Resource.UID.ID))
	record.Resource = resource.String()

	evalContext, err := entities.ContextRecord(input.Context)
	if err != nil {
		return fail(common.WrapError(common.ReasonInvalidParam, "context", err))
	}

	em := cedartypes.EntityMap{}
	uids, err := pe.builder.AddUnsignedPrincipals(em, input.Principals)
	if err != nil {
		return fail(common.WrapError(common.ReasonEntityBuild, "principal construction", err))
	}
	if err := pe.builder.AddEntityData(em, input.Resource); err != nil {
		return fail(common.WrapError(common.ReasonEntityBuild, "resource construction", err))
	}
	if err := pe.builder.AddDefaultEntities(em); err != nil {
		return fail(common.WrapError(common.ReasonEntityBuild, "default entities", err))
	}

	decisions := make([]engine.Decision, len(uids))
	for i, uid := range uids {
		record.Principals = append(record.Principals, uid.String())

		d, derr := pe.store.Policies().Authorize(em, cedar.Request{
			Principal: uid,
			Action:    action,
			Resource:  resource,
			Context:   evalContext,
		})
		if derr != nil {
			return fail(derr)
		}
		decisions[i] = d
		result.Principals[uid.String()] = d
	}

	result.Decision = pe.combine(decisions)
	record.Decision = result.Decision

	return result, nil
}

// combine folds per-principal outcomes into the final decision using
// the configured operator.
func (pe *PolicyEngine) combine(decisions []engine.Decision) bool {
	if pe.combineAll {
		for _, d := range decisions {
			if !d.Allowed {
				return false
			}
		}
		return len(decisions) > 0
	}
	for _, d := range decisions {
		if d.Allowed {
			return true
		}
	}
	return false
}

// parseAction accepts either the full Type::"id" form or a bare action
// id, which is qualified with the configured action entity type.
func (pe *PolicyEngine) parseAction(action string) (cedartypes.EntityUID, error) {
	if action == "" {
		return cedartypes.EntityUID{}, common.NewError(common.ReasonInvalidParam, "action is required")
	}

	idx := strings.LastIndex(action, "::")
	if idx < 0 {
		return cedartypes.NewEntityUID(cedartypes.EntityType(pe.actionType), cedartypes.String(action)), nil
	}

	entityType, quoted := action[:idx], action[idx+2:]
	id, err := strconv.Unquote(quoted)
	if err != nil || entityType == "" {
		return cedartypes.EntityUID{}, common.NewError(common.ReasonInvalidParam, "malformed action "+action)
	}
	return cedartypes.NewEntityUID(cedartypes.EntityType(entityType), cedartypes.String(id)), nil
}
