//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"testing"

	"github.com/cedar-policy/cedar-go/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/policystore"
	"github.com/manetu/cedarengine/pkg/core/token"
	coretypes "github.com/manetu/cedarengine/pkg/core/types"
)

const jansStore = `
name: jans-test
schema: |
  {
    "Jans": {
      "entityTypes": {
        "TrustedIssuer": {},
        "Access_token": {},
        "Role": {},
        "Workload": {
          "shape": {
            "type": "Record",
            "attributes": {
              "iss": {"type": "EntityOrCommon", "name": "TrustedIssuer"},
              "aud": {"type": "String", "required": false},
              "access_token": {"type": "EntityOrCommon", "name": "Access_token", "required": false}
            }
          }
        }
      }
    }
  }
trusted_issuers:
  some_iss:
    name: Jans Test
    oidc_endpoint: https://test.jans.org/.well-known/openid-configuration
`

func jansNames() Names {
	return Names{
		Workload: "Jans::Workload",
		User:     "Jans::User",
		Role:     "Jans::Role",
		Issuer:   "Jans::TrustedIssuer",
		Tokens: map[string]string{
			token.Access:   "Jans::Access_token",
			token.ID:       "Jans::Id_token",
			token.Userinfo: "Jans::Userinfo_token",
		},
	}
}

func jansBuilder(t *testing.T) *Builder {
	t.Helper()
	store, err := policystore.FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(jansStore),
	})
	require.NoError(t, err)
	return NewBuilder(store, jansNames())
}

func prepare(t *testing.T, b *Builder, raw map[string]map[string]interface{}) map[string]*token.Token {
	t.Helper()
	toks, err := b.PrepareTokens(raw)
	require.NoError(t, err)
	return toks
}

func TestEndToEndWorkload(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {
			"iss": "https://test.jans.org/",
			"aud": "some_aud",
			"jti": "some_jti",
		},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)

	require.NotNil(t, out.Workload)
	assert.Equal(t, types.NewEntityUID("Jans::Workload", "some_aud"), *out.Workload)
	assert.Nil(t, out.User)

	workload := out.Entities[*out.Workload]
	assert.Equal(t, types.NewRecord(types.RecordMap{
		"iss":          types.NewEntityUID("Jans::TrustedIssuer", "some_iss"),
		"aud":          types.String("some_aud"),
		"access_token": types.NewEntityUID("Jans::Access_token", "some_jti"),
	}), workload.Attributes)
	assert.Equal(t, 0, workload.Parents.Len())

	// the referenced entities themselves exist
	_, ok := out.Entities[types.NewEntityUID("Jans::TrustedIssuer", "some_iss")]
	assert.True(t, ok)
	_, ok = out.Entities[types.NewEntityUID("Jans::Access_token", "some_jti")]
	assert.True(t, ok)
}

func TestBuildIsDeterministic(t *testing.T) {
	b := jansBuilder(t)

	raw := map[string]map[string]interface{}{
		token.Access: {
			"iss":  "https://test.jans.org/",
			"aud":  "some_aud",
			"jti":  "some_jti",
			"role": []interface{}{"r1", "r2"},
		},
		token.ID: {
			"iss": "https://test.jans.org/",
			"aud": "some_aud",
			"sub": "user-1",
			"jti": "id_jti",
		},
	}

	out1, err := b.Build(prepare(t, b, raw), nil)
	require.NoError(t, err)
	out2, err := b.Build(prepare(t, b, raw), nil)
	require.NoError(t, err)

	assert.Equal(t, out1.Entities, out2.Entities)
	assert.Equal(t, out1.Roles, out2.Roles)
}

func TestWorkloadIDFallbackOrder(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {
			"iss":       "https://test.jans.org/",
			"aud":       "the_aud",
			"client_id": "the_client",
			"jti":       "j1",
		},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Workload)
	assert.Equal(t, types.String("the_aud"), out.Workload.ID)
}

func TestWorkloadIDFallsBackToClientID(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {
			"iss":       "https://test.jans.org/",
			"client_id": "the_client",
			"jti":       "j1",
		},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Workload)
	assert.Equal(t, types.String("the_client"), out.Workload.ID)
}

func TestRoleDeduplication(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {"iss": "https://test.jans.org/", "jti": "j1", "aud": "a", "role": "admin"},
		token.ID:     {"iss": "https://test.jans.org/", "jti": "j2", "aud": "a", "sub": "u", "role": "admin"},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	require.Len(t, out.Roles, 1)
	assert.Equal(t, types.NewEntityUID("Jans::Role", "admin"), out.Roles[0])
}

func TestRolesAcrossAllTokens(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access:   {"iss": "https://test.jans.org/", "jti": "j1", "aud": "a", "role": "role1"},
		token.ID:       {"iss": "https://test.jans.org/", "jti": "j2", "aud": "a", "sub": "u", "role": "role2"},
		token.Userinfo: {"jti": "j3", "sub": "u", "role": []interface{}{"role3", "role4"}},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	assert.Len(t, out.Roles, 4)

	// userinfo, id, access enumeration order
	assert.Equal(t, types.String("role3"), out.Roles[0].ID)
	assert.Equal(t, types.String("role4"), out.Roles[1].ID)
	assert.Equal(t, types.String("role2"), out.Roles[2].ID)
	assert.Equal(t, types.String("role1"), out.Roles[3].ID)

	// user entity is parented by every role
	require.NotNil(t, out.User)
	user := out.Entities[*out.User]
	assert.Equal(t, 4, user.Parents.Len())
}

func TestRoleClaimTypeMismatch(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {"jti": "j1", "aud": "a", "role": true},
	})

	_, err := b.Build(toks, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), token.Access)
}

func TestUserMissingClaimAggregation(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.ID:       {"iss": "https://test.jans.org/", "jti": "j1", "aud": "a"},
		token.Userinfo: {"jti": "j2"},
	})

	_, err := b.Build(toks, nil)
	require.Error(t, err)

	var missing *MissingIDError
	require.ErrorAs(t, err, &missing)
	require.Len(t, missing.Attempts, 2)

	for _, attempt := range missing.Attempts {
		var mc *MissingClaimError
		require.ErrorAs(t, attempt, &mc)
		assert.Equal(t, "sub", mc.Claim)
	}
}

func TestUserPrefersUserinfo(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.ID:       {"iss": "https://test.jans.org/", "jti": "j1", "aud": "a", "sub": "from_id", "email": "id@example.com"},
		token.Userinfo: {"jti": "j2", "sub": "from_userinfo"},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	require.NotNil(t, out.User)
	assert.Equal(t, types.String("from_userinfo"), out.User.ID)

	// merged attributes still include the id token's contribution
	user := out.Entities[*out.User]
	email, ok := user.Attributes.Get("email")
	require.True(t, ok)
	assert.Equal(t, types.String("id@example.com"), email)
}

func TestWorkloadUnvalidatedAttributeAllowList(t *testing.T) {
	store, err := policystore.FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte("name: bare\npolicies:\n  p: \"permit (principal, action, resource);\"\n"),
	})
	require.NoError(t, err)
	b := NewBuilder(store, jansNames())

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {
			"aud":       "a",
			"client_id": "c",
			"jti":       "j1",
			"custom":    "dropped",
		},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Workload)

	workload := out.Entities[*out.Workload]
	_, ok := workload.Attributes.Get("aud")
	assert.True(t, ok)
	_, ok = workload.Attributes.Get("client_id")
	assert.True(t, ok)
	_, ok = workload.Attributes.Get("custom")
	assert.False(t, ok)
	_, ok = workload.Attributes.Get("jti")
	assert.False(t, ok)
}

func TestUntrustedTokenIsSkipped(t *testing.T) {
	untrusted := `
name: untrusted-test
trusted_issuers:
  some_iss:
    name: Jans Test
    oidc_endpoint: https://test.jans.org/
    token_metadata:
      access_token:
        trusted: false
`
	store, err := policystore.FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(untrusted),
	})
	require.NoError(t, err)
	b := NewBuilder(store, jansNames())

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {"iss": "https://test.jans.org/", "aud": "a", "jti": "j1", "role": "admin"},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	assert.Nil(t, out.Workload)
	assert.Empty(t, out.Roles)
	assert.Empty(t, out.Tokens)
}

func TestPrincipalMappingInjection(t *testing.T) {
	mapped := `
name: mapping-test
trusted_issuers:
  some_iss:
    name: Jans Test
    oidc_endpoint: https://test.jans.org/
    token_metadata:
      access_token:
        principal_mapping:
          - Jans::Workload
`
	store, err := policystore.FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(mapped),
	})
	require.NoError(t, err)
	b := NewBuilder(store, jansNames())

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {"iss": "https://test.jans.org/", "aud": "a", "jti": "some_jti"},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Workload)

	workload := out.Entities[*out.Workload]
	ref, ok := workload.Attributes.Get("access_token")
	require.True(t, ok)
	assert.Equal(t, types.NewEntityUID("Jans::Access_token", "some_jti"), ref)
}

func TestRequiredClaimsRejection(t *testing.T) {
	doc := `
name: required-test
trusted_issuers:
  some_iss:
    name: Jans Test
    oidc_endpoint: https://test.jans.org/
    token_metadata:
      access_token:
        required_claims: [jti]
`
	store, err := policystore.FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(doc),
	})
	require.NoError(t, err)
	b := NewBuilder(store, jansNames())

	_, err = b.PrepareTokens(map[string]map[string]interface{}{
		token.Access: {"iss": "https://test.jans.org/", "aud": "a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jti")
}

func TestResourceAndDefaults(t *testing.T) {
	doc := `
name: defaults-test
default_entities:
  - uid:
      type: Jans::App
      id: app-1
    attributes:
      tier: gold
`
	store, err := policystore.FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(doc),
	})
	require.NoError(t, err)
	b := NewBuilder(store, jansNames())

	resource := &coretypes.EntityData{
		UID:        coretypes.EntityUID{Type: "Jans::Doc", ID: "doc-1"},
		Attributes: map[string]interface{}{"owner": "alice"},
		Parents:    []coretypes.EntityUID{{Type: "Jans::App", ID: "app-1"}},
	}

	out, err := b.Build(map[string]*token.Token{}, resource)
	require.NoError(t, err)

	res, ok := out.Entities[types.NewEntityUID("Jans::Doc", "doc-1")]
	require.True(t, ok)
	owner, _ := res.Attributes.Get("owner")
	assert.Equal(t, types.String("alice"), owner)
	assert.True(t, res.Parents.Contains(types.NewEntityUID("Jans::App", "app-1")))

	app, ok := out.Entities[types.NewEntityUID("Jans::App", "app-1")]
	require.True(t, ok)
	tier, _ := app.Attributes.Get("tier")
	assert.Equal(t, types.String("gold"), tier)
}

func TestInvalidResourceData(t *testing.T) {
	b := jansBuilder(t)

	resource := &coretypes.EntityData{
		UID: coretypes.EntityUID{Type: "Jans::Doc"},
	}

	_, err := b.Build(map[string]*token.Token{}, resource)
	require.Error(t, err)
	var invalid *InvalidEntityDataError
	assert.ErrorAs(t, err, &invalid)
}

func TestSchemaCoercionFailureNamesAttribute(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {"aud": float64(123), "client_id": "cid", "jti": "j1"},
	})

	_, err := b.Build(toks, nil)
	require.Error(t, err)

	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "aud", mismatch.Claim)
	assert.Equal(t, "String", mismatch.Expected)
}

func TestUnsignedPrincipals(t *testing.T) {
	b := jansBuilder(t)

	em := types.EntityMap{}
	uids, err := b.AddUnsignedPrincipals(em, []coretypes.EntityData{
		{UID: coretypes.EntityUID{Type: "Jans::User", ID: "alice"}},
		{UID: coretypes.EntityUID{Type: "Jans::Workload", ID: "svc"},
			Attributes: map[string]interface{}{"iss": "https://test.jans.org/"}},
	})
	require.NoError(t, err)
	require.Len(t, uids, 2)
	assert.Equal(t, types.NewEntityUID("Jans::User", "alice"), uids[0])
	assert.Len(t, em, 2)
}

func TestUserOnlyTokens(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.ID: {
			"iss": "https://test.jans.org/",
			"jti": "id_jti",
			"sub": "alice",
		},
		token.Userinfo: {
			"iss":  "https://test.jans.org/",
			"jti":  "uif_jti",
			"sub":  "alice",
			"role": "admin",
		},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)

	// the id token carries no aud, so no workload principal results,
	// but the user principal still authorizes the request
	assert.Nil(t, out.Workload)
	require.NotNil(t, out.User)
	assert.Equal(t, types.NewEntityUID("Jans::User", "alice"), *out.User)
	require.Len(t, out.Roles, 1)
	assert.Equal(t, types.NewEntityUID("Jans::Role", "admin"), out.Roles[0])
}

func TestWorkloadIDUnresolvableWithoutUserFails(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {
			"iss": "https://test.jans.org/",
			"jti": "j1",
		},
	})

	_, err := b.Build(toks, nil)
	require.Error(t, err)

	var missing *MissingIDError
	assert.ErrorAs(t, err, &missing)
}

func TestWorkloadNoIssuerMetadata(t *testing.T) {
	store, err := policystore.FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte("name: bare\npolicies:\n  p: \"permit (principal, action, resource);\"\n"),
	})
	require.NoError(t, err)
	b := NewBuilder(store, jansNames())

	// no trusted issuer matches, so the token runs with nil metadata
	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {
			"iss": "https://unknown.example.com/",
			"aud": "a1",
			"jti": "j1",
		},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Workload)
	assert.Equal(t, types.NewEntityUID("Jans::Workload", "a1"), *out.Workload)
}

func TestEntityRefClaimMustNameBuiltEntity(t *testing.T) {
	b := jansBuilder(t)

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {
			"iss":          "https://test.jans.org/",
			"aud":          "a",
			"jti":          "some_jti",
			"access_token": "bogus_id",
		},
	})

	_, err := b.Build(toks, nil)
	require.Error(t, err)

	var dangling *UnbuiltRefError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, "access_token", dangling.Attr)
	assert.Equal(t, "bogus_id", dangling.ID)

	// naming the entity that was actually built is fine
	toks = prepare(t, b, map[string]map[string]interface{}{
		token.Access: {
			"iss":          "https://test.jans.org/",
			"aud":          "a",
			"jti":          "some_jti",
			"access_token": "some_jti",
		},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	workload := out.Entities[*out.Workload]
	ref, ok := workload.Attributes.Get("access_token")
	require.True(t, ok)
	assert.Equal(t, types.NewEntityUID("Jans::Access_token", "some_jti"), ref)
}

func TestUndeclaredOverrideDropped(t *testing.T) {
	doc := `
name: no-iss
schema: |
  {
    "Jans": {
      "entityTypes": {
        "TrustedIssuer": {},
        "Workload": {
          "shape": {
            "type": "Record",
            "attributes": {
              "aud": {"type": "String"}
            }
          }
        }
      }
    }
  }
trusted_issuers:
  some_iss:
    name: Jans Test
    oidc_endpoint: https://test.jans.org/
`
	store, err := policystore.FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(doc),
	})
	require.NoError(t, err)
	b := NewBuilder(store, jansNames())

	toks := prepare(t, b, map[string]map[string]interface{}{
		token.Access: {"iss": "https://test.jans.org/", "aud": "a", "jti": "j1"},
	})

	out, err := b.Build(toks, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Workload)

	// the shape does not declare iss, so the issuer rewrite is dropped
	workload := out.Entities[*out.Workload]
	_, ok := workload.Attributes.Get("iss")
	assert.False(t, ok)
	_, ok = workload.Attributes.Get("aud")
	assert.True(t, ok)
}
