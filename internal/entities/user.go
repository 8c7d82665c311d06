//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"github.com/cedar-policy/cedar-go/types"

	"github.com/manetu/cedarengine/pkg/core/token"
)

// buildUserEntity constructs the user principal.  The id is resolved
// from the userinfo token first, then the id token, using each token's
// configured user-id claim (sub unless overridden).  When every
// candidate fails, the returned error preserves one entry per
// attempted token so the full fallback chain is visible.
//
// Attributes merge both tokens' claims, with the userinfo token taking
// precedence, and the role entities built for this request become the
// user's parents.
func (b *Builder) buildUserEntity(state *buildState, toks []*token.Token) error {
	userinfo := tokenByName(toks, token.Userinfo)
	idTok := tokenByName(toks, token.ID)
	if userinfo == nil && idTok == nil {
		return nil
	}

	var srcs []idSource
	if userinfo != nil {
		srcs = append(srcs, idSource{tok: userinfo, claim: userinfo.Metadata().UserIDClaim()})
	}
	if idTok != nil {
		srcs = append(srcs, idSource{tok: idTok, claim: idTok.Metadata().UserIDClaim()})
	}

	entityType := b.names.User
	id, err := firstValidID(entityType, srcs)
	if err != nil {
		return &BuildError{EntityType: entityType, Cause: err}
	}

	attrs, err := buildAttrs(b.schema(), entityType, mergeClaims(idTok, userinfo), state.issuerOverride(idTok, userinfo), state.bt)
	if err != nil {
		return err
	}
	state.pm.apply(types.EntityType(entityType), attrs)

	uid := types.NewEntityUID(types.EntityType(entityType), types.String(id))
	state.add(types.Entity{
		UID:        uid,
		Parents:    types.NewEntityUIDSet(state.out.Roles...),
		Attributes: types.NewRecord(attrs),
	})
	state.out.User = &uid
	return nil
}
