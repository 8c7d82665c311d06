//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"sort"

	"github.com/cedar-policy/cedar-go/types"

	"github.com/manetu/cedarengine/internal/schema"
	"github.com/manetu/cedarengine/pkg/core/token"
)

// claimValue pairs a claim's raw value with the token that supplied it,
// so claim mappings and error messages can refer back to the source.
type claimValue struct {
	value interface{}
	tok   *token.Token
}

// mergeClaims folds token claim maps into one view.  Tokens are applied
// in argument order, so a claim present in a later token overrides the
// same claim from an earlier one.  Nil tokens are skipped.
func mergeClaims(toks ...*token.Token) map[string]claimValue {
	merged := map[string]claimValue{}
	for _, tok := range toks {
		if tok == nil {
			continue
		}
		for name, value := range tok.Claims() {
			merged[name] = claimValue{value: value, tok: tok}
		}
	}
	return merged
}

// mappedValue applies the source token's claim mapping, when one is
// registered for the claim.  An inapplicable mapping leaves the raw
// value in place.
func mappedValue(name string, cv claimValue) interface{} {
	if cv.tok == nil {
		return cv.value
	}
	mapping := cv.tok.Metadata().Mapping(name)
	if mapping == nil {
		return cv.value
	}
	if out, ok := mapping.Apply(cv.value); ok {
		return out
	}
	return cv.value
}

// buildAttrs constructs the attribute record for one entity.
//
// When the schema declares the entity type, construction is
// schema-guided: only declared attributes are produced, claims are
// coerced to the declared shapes, and attributes declared as entity
// references resolve against the entities already built for this
// request.  A missing optional attribute is omitted; a missing required
// one fails the build.
//
// Without schema guidance every claim is carried over with its type
// inferred structurally; claims that cannot be represented are dropped.
//
// Overrides carry values the builder computes itself, such as the iss
// claim rewritten to a trusted-issuer entity reference.  They win over
// claims, but in schema-guided mode an override whose attribute the
// shape does not declare is dropped like any other undeclared claim.
func buildAttrs(ms *schema.MappingSchema, entityType string, claims map[string]claimValue, overrides types.RecordMap, bt *built) (types.RecordMap, error) {
	attrs := types.RecordMap{}

	var shape map[string]schema.AttrShape
	if ms != nil {
		shape, _ = ms.Shape(entityType)
	}

	if shape == nil {
		for name, cv := range claims {
			value, err := inferredValue(name, mappedValue(name, cv))
			if err != nil {
				logger.Debugf(actor, "buildAttrs", "dropping claim %q for %s: %v", name, entityType, err)
				continue
			}
			attrs[types.String(name)] = value
		}
		for name, value := range overrides {
			attrs[name] = value
		}
		return attrs, nil
	}

	names := make([]string, 0, len(shape))
	for name := range shape {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attrShape := shape[name]
		key := types.String(name)

		if override, ok := overrides[key]; ok {
			attrs[key] = override
			continue
		}

		cv, present := claims[name]

		switch src := attrShape.Source.(type) {
		case schema.ClaimSource:
			if !present {
				if attrShape.Required {
					return nil, &BuildError{EntityType: entityType, Cause: &MissingClaimError{Claim: name, TokenName: "any available token"}}
				}
				continue
			}
			value, err := typedValue(name, mappedValue(name, cv), src.Expected)
			if err != nil {
				return nil, &BuildError{EntityType: entityType, Cause: err}
			}
			attrs[key] = value

		case schema.EntityRefSource:
			uid, err := resolveRef(entityType, name, src.Target, cv, present, attrShape.Required, bt)
			if err != nil {
				return nil, err
			}
			if uid != nil {
				attrs[key] = *uid
			}

		case schema.EntityRefSetSource:
			uids, err := resolveRefSet(entityType, name, src.Target, cv, present, attrShape.Required, bt)
			if err != nil {
				return nil, err
			}
			if uids != nil {
				values := make([]types.Value, 0, len(uids))
				for _, uid := range uids {
					values = append(values, uid)
				}
				attrs[key] = types.NewSet(values...)
			}
		}
	}

	// overrides for attributes the shape does not declare are dropped;
	// declared ones were consumed in the loop above
	return attrs, nil
}

// resolveRef determines the entity a reference attribute points at.
// A string claim names the target id directly, but only an entity
// actually constructed for this request may be referenced; a
// {"type","id"} marker is taken verbatim; with no claim at all the
// reference falls back to the first constructed entity of the target
// type.
func resolveRef(entityType, attrName, target string, cv claimValue, present, required bool, bt *built) (*types.EntityUID, error) {
	if present {
		switch v := mappedValue(attrName, cv).(type) {
		case string:
			if v != "" {
				uid := types.NewEntityUID(types.EntityType(target), types.String(v))
				if !bt.contains(uid) {
					return nil, &BuildError{
						EntityType: entityType,
						Cause:      &UnbuiltRefError{Attr: attrName, Target: target, ID: v},
					}
				}
				return &uid, nil
			}
		case map[string]interface{}:
			if uid, ok := entityMarker(v); ok {
				euid := uid.(types.EntityUID)
				return &euid, nil
			}
		}
		return nil, &BuildError{
			EntityType: entityType,
			Cause:      &TypeMismatchError{Claim: attrName, Expected: target, Actual: jsonTypeName(cv.value)},
		}
	}

	if uid, ok := bt.lookup(target); ok {
		return &uid, nil
	}
	if required {
		return nil, &BuildError{
			EntityType: entityType,
			Cause:      &MissingClaimError{Claim: attrName, TokenName: "any available token"},
		}
	}
	return nil, nil
}

func resolveRefSet(entityType, attrName, target string, cv claimValue, present, required bool, bt *built) ([]types.EntityUID, error) {
	if present {
		ids, err := collectIDs(attrName, mappedValue(attrName, cv))
		if err != nil {
			return nil, &BuildError{EntityType: entityType, Cause: err}
		}
		uids := make([]types.EntityUID, 0, len(ids))
		for _, id := range ids {
			uids = append(uids, types.NewEntityUID(types.EntityType(target), types.String(id)))
		}
		return uids, nil
	}

	if uids := bt.all(target); len(uids) > 0 {
		return uids, nil
	}
	if required {
		return nil, &BuildError{
			EntityType: entityType,
			Cause:      &MissingClaimError{Claim: attrName, TokenName: "any available token"},
		}
	}
	return nil, nil
}
