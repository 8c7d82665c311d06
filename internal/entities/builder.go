//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package entities constructs the Cedar entity graph for one
// authorization request: principal entities (workload, user), role
// entities, one entity per trusted token, trusted-issuer entities, the
// resource, and any default entities declared by the policy store.
//
// Construction is deterministic and single-threaded per request.  All
// shared inputs (schema, issuer registry) are immutable snapshots, so
// concurrent requests need no synchronization.
package entities

import (
	"errors"
	"sort"

	"github.com/cedar-policy/cedar-go/types"

	"github.com/manetu/cedarengine/internal/logging"
	"github.com/manetu/cedarengine/pkg/core/policystore"
	"github.com/manetu/cedarengine/pkg/core/token"
	coretypes "github.com/manetu/cedarengine/pkg/core/types"
)

var logger = logging.GetLogger("entities")
var actor = "entities"

// Names configures the entity type names the builder emits.  The zero
// value is not useful; start from DefaultNames.
type Names struct {
	Workload string
	User     string
	Role     string
	Issuer   string

	// Tokens maps token names to the entity type representing the
	// token itself.  Issuer metadata may override per issuer.
	Tokens map[string]string
}

// DefaultNames returns the conventional entity type names.
func DefaultNames() Names {
	return Names{
		Workload: "Authz::Workload",
		User:     "Authz::User",
		Role:     "Authz::Role",
		Issuer:   "Authz::TrustedIssuer",
		Tokens: map[string]string{
			token.Access:      "Authz::Access_token",
			token.ID:          "Authz::Id_token",
			token.Userinfo:    "Authz::Userinfo_token",
			token.Transaction: "Authz::Tx_token",
		},
	}
}

// Builder constructs entity graphs against one policy store snapshot.
// Safe for concurrent use; per-request state lives in the Build call.
type Builder struct {
	store *policystore.Store
	names Names
}

// NewBuilder creates a Builder bound to a store snapshot.
func NewBuilder(store *policystore.Store, names Names) *Builder {
	return &Builder{store: store, names: names}
}

// PrepareTokens binds raw claim maps to their issuer metadata.  Tokens
// whose iss claim matches a registered trusted issuer pick up that
// issuer's per-token metadata; unmatched tokens run with defaults.
// Tokens failing their metadata's required-claims check are rejected.
func (b *Builder) PrepareTokens(raw map[string]map[string]interface{}) (map[string]*token.Token, error) {
	out := make(map[string]*token.Token, len(raw))
	for name, claims := range raw {
		var meta *token.EntityMetadata
		if issuer := b.issuerFor(token.New(name, claims, nil)); issuer != nil {
			meta = issuer.Metadata(name)
		}
		tok := token.New(name, claims, meta)
		if err := tok.CheckRequiredClaims(); err != nil {
			return nil, err
		}
		out[name] = tok
	}
	return out, nil
}

// Output is the entity graph constructed for one request.
type Output struct {
	// Entities holds every constructed entity keyed by uid.
	Entities types.EntityMap

	// Workload and User identify the principal entities, when built.
	Workload *types.EntityUID
	User     *types.EntityUID

	// Tokens maps token names to their token entity uids.
	Tokens map[string]types.EntityUID

	// Roles lists the role entity uids in construction order.
	Roles []types.EntityUID
}

// buildState carries the bookkeeping scoped to one Build call.
type buildState struct {
	out     *Output
	bt      *built
	pm      *principalMappings
	issuers map[string]types.EntityUID // token name -> issuer entity uid
}

func (s *buildState) add(e types.Entity) {
	s.out.Entities[e.UID] = e
	s.bt.register(e.UID)
}

// Build constructs the full entity graph from the prepared tokens.
// Token entities and issuer entities are built first so that principal
// attributes declared as references can resolve against them; roles
// precede the user entity that parents them.
//
// An unresolvable workload id is tolerated when the user principal can
// still be constructed: the request simply proceeds without a workload.
// Every other failure aborts the request with no partial entity set.
func (b *Builder) Build(toks map[string]*token.Token, resource *coretypes.EntityData) (*Output, error) {
	state := &buildState{
		out: &Output{
			Entities: types.EntityMap{},
			Tokens:   map[string]types.EntityUID{},
		},
		bt:      newBuilt(),
		pm:      newPrincipalMappings(),
		issuers: map[string]types.EntityUID{},
	}

	trusted := b.trustedTokens(toks)

	if err := b.buildIssuerEntities(state, trusted); err != nil {
		return nil, err
	}
	if err := b.buildTokenEntities(state, trusted); err != nil {
		return nil, err
	}
	if err := b.buildRoleEntities(state, trusted); err != nil {
		return nil, err
	}
	var workloadErr error
	if err := b.buildWorkloadEntity(state, trusted); err != nil {
		var idErr *MissingIDError
		if !errors.As(err, &idErr) {
			return nil, err
		}
		workloadErr = err
	}
	if err := b.buildUserEntity(state, trusted); err != nil {
		return nil, err
	}
	if workloadErr != nil && state.out.User == nil {
		return nil, workloadErr
	}

	if resource != nil {
		if err := b.AddEntityData(state.out.Entities, *resource); err != nil {
			return nil, err
		}
	}
	if err := b.AddDefaultEntities(state.out.Entities); err != nil {
		return nil, err
	}

	return state.out, nil
}

// trustedTokens filters out tokens an issuer marked untrusted or that
// carry no claims, and returns the rest in deterministic order:
// the well-known triad first, everything else sorted by name.
func (b *Builder) trustedTokens(toks map[string]*token.Token) []*token.Token {
	var out []*token.Token

	seen := map[string]bool{}
	for _, name := range []string{token.Access, token.ID, token.Userinfo} {
		if tok, ok := toks[name]; ok {
			seen[name] = true
			if tok.Metadata().IsTrusted() && tok.HasClaims() {
				out = append(out, tok)
			}
		}
	}

	rest := make([]string, 0, len(toks))
	for name := range toks {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		tok := toks[name]
		if tok.Metadata().IsTrusted() && tok.HasClaims() {
			out = append(out, tok)
		}
	}

	return out
}

func tokenByName(toks []*token.Token, name string) *token.Token {
	for _, tok := range toks {
		if tok.Name() == name {
			return tok
		}
	}
	return nil
}

// issuerFor resolves the trusted issuer a token's iss claim names.
func (b *Builder) issuerFor(tok *token.Token) *policystore.TrustedIssuer {
	if b.store == nil {
		return nil
	}
	origin, ok := tok.IssuerOrigin()
	if !ok {
		return nil
	}
	issuer, ok := b.store.IssuerForOrigin(origin)
	if !ok {
		return nil
	}
	return issuer
}

// issuerOverride returns the iss attribute override for a merged claim
// view: the issuer entity of the last token in merge order whose iss
// matched a trusted issuer, mirroring the later-source-wins rule used
// for ordinary claims.
func (s *buildState) issuerOverride(toks ...*token.Token) types.RecordMap {
	overrides := types.RecordMap{}
	for _, tok := range toks {
		if tok == nil {
			continue
		}
		if uid, ok := s.issuers[tok.Name()]; ok {
			overrides["iss"] = uid
		}
	}
	return overrides
}
