//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"github.com/cedar-policy/cedar-go/types"

	"github.com/manetu/cedarengine/pkg/core/token"
)

// workloadClaims is the attribute allow-list used when the schema does
// not declare the workload type.
var workloadClaims = map[string]bool{
	"iss":       true,
	"aud":       true,
	"client_id": true,
	"name":      true,
	"rp_id":     true,
	"spiffe_id": true,
}

// buildWorkloadEntity constructs the workload principal from the access
// token, falling back to the id token.  The id resolves through a
// fixed fallback chain, with any issuer-declared workload-id claim
// consulted ahead of that token's defaults:
//
//	access_token.aud -> access_token.client_id -> id_token.aud
//
// With no access or id token present the request simply has no
// workload principal.
func (b *Builder) buildWorkloadEntity(state *buildState, toks []*token.Token) error {
	access := tokenByName(toks, token.Access)
	idTok := tokenByName(toks, token.ID)
	if access == nil && idTok == nil {
		return nil
	}

	var srcs []idSource
	if access != nil {
		if override := access.Metadata().WorkloadIDClaim(); override != "" {
			srcs = append(srcs, idSource{tok: access, claim: override})
		}
		srcs = append(srcs,
			idSource{tok: access, claim: "aud"},
			idSource{tok: access, claim: "client_id"})
	}
	if idTok != nil {
		if override := idTok.Metadata().WorkloadIDClaim(); override != "" {
			srcs = append(srcs, idSource{tok: idTok, claim: override})
		}
		srcs = append(srcs, idSource{tok: idTok, claim: "aud"})
	}

	entityType := b.names.Workload
	id, err := firstValidID(entityType, srcs)
	if err != nil {
		return &BuildError{EntityType: entityType, Cause: err}
	}

	src := access
	if src == nil {
		src = idTok
	}

	claims := mergeClaims(src)
	if ms := b.schema(); ms == nil || !ms.HasEntityType(entityType) {
		filtered := map[string]claimValue{}
		for name, cv := range claims {
			if workloadClaims[name] {
				filtered[name] = cv
			}
		}
		claims = filtered
	}

	attrs, err := buildAttrs(b.schema(), entityType, claims, state.issuerOverride(src), state.bt)
	if err != nil {
		return err
	}
	state.pm.apply(types.EntityType(entityType), attrs)

	uid := types.NewEntityUID(types.EntityType(entityType), types.String(id))
	state.add(types.Entity{
		UID:        uid,
		Attributes: types.NewRecord(attrs),
	})
	state.out.Workload = &uid
	return nil
}
