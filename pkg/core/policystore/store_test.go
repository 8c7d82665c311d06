//
//  Copyright © Manetu Inc. All rights reserved.
//

package policystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manetu/cedarengine/pkg/core/engine"
)

const storeDoc = `
name: demo
description: test store
schema: |
  {
    "Authz": {
      "entityTypes": {
        "Workload": {
          "shape": {
            "type": "Record",
            "attributes": {
              "client_id": {"type": "String"}
            }
          }
        },
        "Doc": {}
      },
      "actions": {
        "read": {
          "appliesTo": {
            "principalTypes": ["Workload"],
            "resourceTypes": ["Doc"]
          }
        }
      }
    }
  }
policies:
  allow-workloads: |
    permit (
        principal is Authz::Workload,
        action == Authz::Action::"read",
        resource
    );
trusted_issuers:
  idp:
    name: Test IDP
    oidc_endpoint: https://idp.example.com/.well-known/openid-configuration
    token_metadata:
      access_token:
        entity_type_name: Authz::Access_token
        workload_id: client_id
default_entities:
  - uid:
      type: Authz::Doc
      id: doc-1
`

func TestFromDocuments(t *testing.T) {
	store, err := FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(storeDoc),
	})
	require.NoError(t, err)

	assert.Equal(t, "demo", store.Name())
	assert.Equal(t, 1, store.Policies().Len())

	require.NotNil(t, store.Schema())
	assert.True(t, store.Schema().HasEntityType("Authz::Workload"))

	iss, ok := store.IssuerForOrigin("https://idp.example.com")
	require.True(t, ok)
	assert.Equal(t, "Test IDP", iss.Name)
	assert.Equal(t, "idp", iss.ID())

	meta := iss.Metadata("access_token")
	require.NotNil(t, meta)
	assert.Equal(t, "Authz::Access_token", meta.EntityTypeName)
	assert.Equal(t, "client_id", meta.WorkloadID)

	assert.Nil(t, iss.Metadata("id_token"))

	require.Len(t, store.DefaultEntities(), 1)
	assert.Equal(t, "Authz::Doc", store.DefaultEntities()[0].UID.Type)

	assert.Equal(t, []string{"https://idp.example.com"}, store.Origins())
}

func TestFromDocumentsJSON(t *testing.T) {
	doc := `{
  "name": "json-store",
  "schema": {"Authz": {"entityTypes": {"Doc": {}}}},
  "policies": {
    "p": "permit (principal, action, resource);"
  }
}`
	store, err := FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.json": []byte(doc),
	})
	require.NoError(t, err)
	assert.Equal(t, "json-store", store.Name())
	assert.True(t, store.Schema().HasEntityType("Authz::Doc"))
	assert.Equal(t, 1, store.Policies().Len())
}

func TestDuplicateIssuerOrigin(t *testing.T) {
	doc := `
trusted_issuers:
  a:
    name: A
    oidc_endpoint: https://idp.example.com/a
  b:
    name: B
    oidc_endpoint: https://idp.example.com/b
`
	_, err := FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(doc),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share the origin")
}

func TestInvalidIssuerEndpoint(t *testing.T) {
	doc := `
trusted_issuers:
  a:
    name: A
    oidc_endpoint: "not a url"
`
	_, err := FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(doc),
	})
	assert.Error(t, err)
}

func TestDuplicateSchemaAcrossDocuments(t *testing.T) {
	doc := `
schema: '{"Authz": {"entityTypes": {"Doc": {}}}}'
`
	_, err := FromDocuments(engine.NewCompiler(), map[string][]byte{
		"a.yaml": []byte(doc),
		"b.yaml": []byte(doc),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both declare a schema")
}

func TestInvalidDefaultEntity(t *testing.T) {
	doc := `
default_entities:
  - uid:
      type: Authz::Doc
`
	_, err := FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(doc),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing an id")
}

func TestBadPolicySource(t *testing.T) {
	doc := `
policies:
  broken: "permit (wat"
`
	_, err := FromDocuments(engine.NewCompiler(), map[string][]byte{
		"store.yaml": []byte(doc),
	})
	assert.Error(t, err)
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "store.yaml"), []byte(storeDoc), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	store, err := Load(engine.NewCompiler(), dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", store.Name())
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(engine.NewCompiler(), "/does/not/exist")
	assert.Error(t, err)
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, err := Load(engine.NewCompiler(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no policy store documents")
}
