//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"github.com/cedar-policy/cedar-go/types"
	"github.com/pkg/errors"

	"github.com/manetu/cedarengine/pkg/core/token"
)

// buildRoleEntities constructs one role entity per distinct role named
// by any token.  Tokens are consulted in a fixed order (userinfo, id,
// access, then any others) and roles are de-duplicated by id across all
// of them, so the same role asserted twice yields a single entity.
// Role entities carry no attributes; principals reference them as
// parents.
func (b *Builder) buildRoleEntities(state *buildState, toks []*token.Token) error {
	var ordered []*token.Token
	for _, name := range []string{token.Userinfo, token.ID, token.Access} {
		if tok := tokenByName(toks, name); tok != nil {
			ordered = append(ordered, tok)
		}
	}
	for _, tok := range toks {
		switch tok.Name() {
		case token.Userinfo, token.ID, token.Access:
		default:
			ordered = append(ordered, tok)
		}
	}

	seen := map[string]bool{}
	for _, tok := range ordered {
		claim := tok.Metadata().RoleClaim()
		raw, ok := tok.GetClaim(claim)
		if !ok {
			continue
		}

		ids, err := collectIDs(claim, raw)
		if err != nil {
			return errors.Wrapf(err, "token %s", tok.Name())
		}

		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			uid := types.NewEntityUID(types.EntityType(b.names.Role), types.String(id))
			state.add(types.Entity{UID: uid, Attributes: types.NewRecord(types.RecordMap{})})
			state.out.Roles = append(state.out.Roles, uid)
		}
	}

	return nil
}
