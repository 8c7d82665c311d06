//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"github.com/cedar-policy/cedar-go/types"

	"github.com/manetu/cedarengine/internal/schema"
	"github.com/manetu/cedarengine/pkg/core/policystore"
	"github.com/manetu/cedarengine/pkg/core/token"
)

func (b *Builder) schema() *schema.MappingSchema {
	if b.store == nil {
		return nil
	}
	return b.store.Schema()
}

// buildIssuerEntities constructs one trusted-issuer entity per distinct
// issuer referenced by the request's tokens, and records which issuer
// entity each token resolved to so that iss attributes can be rewritten
// to references.
func (b *Builder) buildIssuerEntities(state *buildState, toks []*token.Token) error {
	byOrigin := map[string]types.EntityUID{}

	for _, tok := range toks {
		issuer := b.issuerFor(tok)
		if issuer == nil {
			continue
		}
		origin, err := issuer.Origin()
		if err != nil {
			continue
		}
		if uid, ok := byOrigin[origin]; ok {
			state.issuers[tok.Name()] = uid
			continue
		}
		uid := b.buildIssuerEntity(state, issuer)
		byOrigin[origin] = uid
		state.issuers[tok.Name()] = uid
	}

	return nil
}

// buildIssuerEntity emits the issuer entity.  Attributes follow the
// schema shape when the issuer type is declared; a shape the issuer's
// registration data cannot satisfy downgrades to an attribute-less
// entity rather than failing the request, since issuer entities exist
// primarily as reference targets.
func (b *Builder) buildIssuerEntity(state *buildState, issuer *policystore.TrustedIssuer) types.EntityUID {
	entityType := b.names.Issuer

	claims := map[string]claimValue{
		"name":          {value: issuer.Name},
		"oidc_endpoint": {value: issuer.OIDCEndpoint},
	}
	if issuer.Description != "" {
		claims["description"] = claimValue{value: issuer.Description}
	}

	attrs, err := buildAttrs(b.schema(), entityType, claims, nil, state.bt)
	if err != nil {
		logger.Warnf(actor, "buildIssuerEntity", "issuer %s does not satisfy the %s shape, emitting without attributes: %v",
			issuer.ID(), entityType, err)
		attrs = types.RecordMap{}
	}

	uid := types.NewEntityUID(types.EntityType(entityType), types.String(issuer.ID()))
	state.add(types.Entity{
		UID:        uid,
		Attributes: types.NewRecord(attrs),
	})
	return uid
}
