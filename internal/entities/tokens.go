//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"github.com/cedar-policy/cedar-go/types"

	"github.com/manetu/cedarengine/pkg/core/token"
)

// tokenEntityType resolves the entity type representing a token:
// issuer metadata first, then the configured per-token defaults.
// Tokens with no mapping produce no entity.
func (b *Builder) tokenEntityType(tok *token.Token) string {
	if meta := tok.Metadata(); meta != nil && meta.EntityTypeName != "" {
		return meta.EntityTypeName
	}
	return b.names.Tokens[tok.Name()]
}

// buildTokenEntities emits one entity per trusted token.  The entity id
// comes from the token-id claim (jti unless overridden).  Attributes
// are the token's full claim set, schema-typed when the schema declares
// the token's entity type; a token whose iss matched a trusted issuer
// has its iss attribute rewritten to a reference to the issuer entity.
//
// Each token entity also registers itself for injection onto the
// principal types named by its principal_mapping metadata.
func (b *Builder) buildTokenEntities(state *buildState, toks []*token.Token) error {
	for _, tok := range toks {
		entityType := b.tokenEntityType(tok)
		if entityType == "" {
			logger.Debugf(actor, "buildTokenEntities", "no entity type for token %q, skipping", tok.Name())
			continue
		}

		id, err := firstValidID(entityType, []idSource{{tok: tok, claim: tok.Metadata().TokenIDClaim()}})
		if err != nil {
			return &BuildError{EntityType: entityType, Cause: err}
		}

		attrs, err := buildAttrs(b.schema(), entityType, mergeClaims(tok), state.issuerOverride(tok), state.bt)
		if err != nil {
			return err
		}

		uid := types.NewEntityUID(types.EntityType(entityType), types.String(id))
		state.add(types.Entity{
			UID:        uid,
			Attributes: types.NewRecord(attrs),
		})
		state.out.Tokens[tok.Name()] = uid

		if meta := tok.Metadata(); meta != nil {
			state.pm.register(meta.PrincipalMapping, tok.Name(), uid)
		}
	}
	return nil
}
