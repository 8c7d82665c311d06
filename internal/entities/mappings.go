//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"github.com/cedar-policy/cedar-go/types"
)

// principalMappings records, per principal entity type, which token
// entities should surface as attributes on that principal.  An issuer
// opts a token in by listing principal types in the token's
// principal_mapping metadata; the attribute name is the token's name,
// so a policy can write principal.access_token.
type principalMappings struct {
	byType map[types.EntityType][]principalAttr
}

type principalAttr struct {
	attr string
	uid  types.EntityUID
}

func newPrincipalMappings() *principalMappings {
	return &principalMappings{byType: map[types.EntityType][]principalAttr{}}
}

func (m *principalMappings) register(principalTypes []string, attr string, uid types.EntityUID) {
	for _, pt := range principalTypes {
		key := types.EntityType(pt)
		m.byType[key] = append(m.byType[key], principalAttr{attr: attr, uid: uid})
	}
}

// apply adds the registered token references to a principal's attribute
// record.
func (m *principalMappings) apply(principalType types.EntityType, attrs types.RecordMap) {
	for _, entry := range m.byType[principalType] {
		attrs[types.String(entry.attr)] = entry.uid
	}
}
