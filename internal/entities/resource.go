//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"fmt"

	"github.com/cedar-policy/cedar-go/types"

	coretypes "github.com/manetu/cedarengine/pkg/core/types"
)

// AddEntityData converts one caller-supplied entity description (the
// request's resource, an unsigned principal, or a store default) and
// inserts it into the entity map.  Attributes are schema-typed when the
// schema declares the entity type, otherwise structurally inferred.
// Unlike token-derived entities there are no fallback chains: the data
// either satisfies the shape or the request fails with invalid entity
// data.
func (b *Builder) AddEntityData(em types.EntityMap, data coretypes.EntityData) error {
	uidStr := fmt.Sprintf("%s::%q", data.UID.Type, data.UID.ID)

	if err := data.Validate(); err != nil {
		return &InvalidEntityDataError{UID: uidStr, Cause: err}
	}

	claims := make(map[string]claimValue, len(data.Attributes))
	for name, value := range data.Attributes {
		claims[name] = claimValue{value: value}
	}

	attrs, err := buildAttrs(b.schema(), data.UID.Type, claims, nil, newBuilt())
	if err != nil {
		return &InvalidEntityDataError{UID: uidStr, Cause: err}
	}

	parents := make([]types.EntityUID, 0, len(data.Parents))
	for _, parent := range data.Parents {
		if parent.Type == "" || parent.ID == "" {
			return &InvalidEntityDataError{UID: uidStr, Cause: fmt.Errorf("parent reference is missing a type or id")}
		}
		parents = append(parents, types.NewEntityUID(types.EntityType(parent.Type), types.String(parent.ID)))
	}

	uid := types.NewEntityUID(types.EntityType(data.UID.Type), types.String(data.UID.ID))
	em[uid] = types.Entity{
		UID:        uid,
		Parents:    types.NewEntityUIDSet(parents...),
		Attributes: types.NewRecord(attrs),
	}
	return nil
}

// AddDefaultEntities inserts the store's default entities.  Entities
// already present, e.g. built from tokens, are not overwritten.
func (b *Builder) AddDefaultEntities(em types.EntityMap) error {
	if b.store == nil {
		return nil
	}
	for _, data := range b.store.DefaultEntities() {
		uid := types.NewEntityUID(types.EntityType(data.UID.Type), types.String(data.UID.ID))
		if _, exists := em[uid]; exists {
			continue
		}
		if err := b.AddEntityData(em, data); err != nil {
			return err
		}
	}
	return nil
}

// AddUnsignedPrincipals converts caller-asserted principals for the
// unsigned request path and returns their uids in input order.
func (b *Builder) AddUnsignedPrincipals(em types.EntityMap, principals []coretypes.EntityData) ([]types.EntityUID, error) {
	uids := make([]types.EntityUID, 0, len(principals))
	for _, data := range principals {
		if err := b.AddEntityData(em, data); err != nil {
			return nil, err
		}
		uids = append(uids, types.NewEntityUID(types.EntityType(data.UID.Type), types.String(data.UID.ID)))
	}
	return uids, nil
}
