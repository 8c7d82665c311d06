//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"github.com/cedar-policy/cedar-go/types"
)

// built tracks the entities constructed so far within one request so
// that later entities can resolve schema attributes declared as
// references.  Registration order is preserved per type; the first
// registered entity of a type wins singular lookups.
type built struct {
	order  []types.EntityUID
	byType map[types.EntityType][]types.EntityUID
}

func newBuilt() *built {
	return &built{byType: map[types.EntityType][]types.EntityUID{}}
}

func (b *built) register(uid types.EntityUID) {
	b.order = append(b.order, uid)
	b.byType[uid.Type] = append(b.byType[uid.Type], uid)
}

// lookup returns the first entity of the given type.
func (b *built) lookup(entityType string) (types.EntityUID, bool) {
	uids := b.byType[types.EntityType(entityType)]
	if len(uids) == 0 {
		return types.EntityUID{}, false
	}
	return uids[0], true
}

// contains reports whether the exact entity has been built.
func (b *built) contains(uid types.EntityUID) bool {
	for _, u := range b.byType[uid.Type] {
		if u == uid {
			return true
		}
	}
	return false
}

// all returns every entity of the given type in registration order.
func (b *built) all(entityType string) []types.EntityUID {
	return b.byType[types.EntityType(entityType)]
}
