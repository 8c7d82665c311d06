//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package policystore loads and validates the policy store: the Cedar
// schema, the policy documents, the trusted issuer registry and any
// default entities, all sourced from local YAML or JSON files.
//
// A store is immutable once loaded.  Applications that rotate policies
// load a fresh store and swap it into the engine atomically.
package policystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/manetu/cedarengine/internal/logging"
	"github.com/manetu/cedarengine/internal/schema"
	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/types"
)

var logger = logging.GetLogger("policystore")
var actor = "policystore"

// Document is the serialized form of one policy store file.  YAML and
// JSON are both accepted; JSON parses as a YAML subset.
type Document struct {
	// Name labels the store for logging and audit records.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Schema is the Cedar JSON-format schema, either as a string or as
	// an inline structure.  At most one document per store may carry it.
	Schema yaml.Node `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Policies maps document names to Cedar policy source text.
	Policies map[string]string `json:"policies,omitempty" yaml:"policies,omitempty"`

	// TrustedIssuers registers identity providers keyed by a local
	// label; the effective lookup key is each issuer's URL origin.
	TrustedIssuers map[string]*TrustedIssuer `json:"trusted_issuers,omitempty" yaml:"trusted_issuers,omitempty"`

	// DefaultEntities are included in every request's entity slice.
	DefaultEntities []types.EntityData `json:"default_entities,omitempty" yaml:"default_entities,omitempty"`
}

// Store is a validated, compiled policy store snapshot.  Safe for
// concurrent use.
type Store struct {
	name      string
	schemaDoc []byte
	schema    *schema.MappingSchema
	policies  *engine.PolicySet
	issuers   map[string]*TrustedIssuer
	defaults  []types.EntityData
}

// Name returns the store's label.
func (s *Store) Name() string { return s.name }

// Schema returns the attribute mapping index, or nil when the store
// carries no schema and entity construction must infer types.
func (s *Store) Schema() *schema.MappingSchema { return s.schema }

// SchemaDocument returns the raw Cedar JSON schema, or nil.
func (s *Store) SchemaDocument() []byte { return s.schemaDoc }

// Policies returns the compiled policy set.
func (s *Store) Policies() *engine.PolicySet { return s.policies }

// IssuerForOrigin returns the trusted issuer registered for a URL
// origin.
func (s *Store) IssuerForOrigin(origin string) (*TrustedIssuer, bool) {
	iss, ok := s.issuers[origin]
	return iss, ok
}

// Origins returns the registered issuer origins in sorted order.
func (s *Store) Origins() []string {
	origins := make([]string, 0, len(s.issuers))
	for origin := range s.issuers {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}

// DefaultEntities returns the entities included in every request.
func (s *Store) DefaultEntities() []types.EntityData { return s.defaults }

// Load reads one or more store files or directories and compiles the
// result.  Directories are scanned non-recursively for .yaml, .yml and
// .json files.  Multiple documents merge: policies and issuers
// accumulate, default entities append, and exactly one document may
// carry the schema.
func Load(compiler *engine.Compiler, paths ...string) (*Store, error) {
	docs := map[string][]byte{}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "policy store path %q", path)
		}

		if !info.IsDir() {
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "policy store file %q", path)
			}
			docs[path] = content
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, errors.Wrapf(err, "policy store directory %q", path)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".yaml", ".yml", ".json":
			default:
				continue
			}
			full := filepath.Join(path, entry.Name())
			content, err := os.ReadFile(full)
			if err != nil {
				return nil, errors.Wrapf(err, "policy store file %q", full)
			}
			docs[full] = content
		}
	}

	if len(docs) == 0 {
		return nil, errors.New("no policy store documents found")
	}

	return FromDocuments(compiler, docs)
}

// FromDocuments compiles a store from in-memory documents keyed by
// name.  The keys only serve error reporting and policy id prefixes.
func FromDocuments(compiler *engine.Compiler, docs map[string][]byte) (*Store, error) {
	store := &Store{
		issuers: map[string]*TrustedIssuer{},
	}

	sources := engine.Sources{}
	var schemaOrigin string

	// deterministic merge order
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var doc Document
		if err := yaml.Unmarshal(docs[name], &doc); err != nil {
			return nil, errors.Wrapf(err, "policy store document %q", name)
		}

		if store.name == "" {
			store.name = doc.Name
		}

		if !doc.Schema.IsZero() {
			if schemaOrigin != "" {
				return nil, errors.Errorf("policy store documents %q and %q both declare a schema", schemaOrigin, name)
			}
			schemaDoc, err := schemaBytes(&doc.Schema)
			if err != nil {
				return nil, errors.Wrapf(err, "policy store document %q", name)
			}
			ms, err := schema.New(schemaDoc)
			if err != nil {
				return nil, errors.Wrapf(err, "policy store document %q", name)
			}
			store.schemaDoc = schemaDoc
			store.schema = ms
			schemaOrigin = name
		}

		for policyName, src := range doc.Policies {
			key := policyName
			if _, dup := sources[key]; dup {
				key = name + "/" + policyName
			}
			sources[key] = src
		}

		for label, issuer := range doc.TrustedIssuers {
			if issuer == nil {
				return nil, errors.Errorf("policy store document %q: trusted issuer %q is empty", name, label)
			}
			origin, err := issuer.Origin()
			if err != nil {
				return nil, errors.Wrapf(err, "policy store document %q: trusted issuer %q", name, label)
			}
			if existing, dup := store.issuers[origin]; dup {
				return nil, errors.Errorf("trusted issuers %q and %q share the origin %s", existing.Name, issuer.Name, origin)
			}
			issuer.id = label
			if issuer.Name == "" {
				issuer.Name = label
			}
			store.issuers[origin] = issuer
		}

		for i, entity := range doc.DefaultEntities {
			if err := entity.Validate(); err != nil {
				return nil, errors.Wrapf(err, "policy store document %q: default entity %d", name, i)
			}
			store.defaults = append(store.defaults, entity)
		}
	}

	policies, err := compiler.Compile(store.name, sources)
	if err != nil {
		return nil, err
	}
	store.policies = policies

	logger.SysInfof("loaded policy store %q: %d policies, %d issuers, %d default entities",
		store.name, policies.Len(), len(store.issuers), len(store.defaults))

	return store, nil
}

// schemaBytes accepts the schema either as a string scalar containing
// JSON or as an inline YAML/JSON structure, which is re-encoded to the
// JSON form the schema parser expects.
func schemaBytes(node *yaml.Node) ([]byte, error) {
	var asString string
	if err := node.Decode(&asString); err == nil {
		return []byte(asString), nil
	}

	var asValue interface{}
	if err := node.Decode(&asValue); err != nil {
		return nil, errors.Wrap(err, "schema must be a string or structure")
	}
	out, err := json.Marshal(asValue)
	if err != nil {
		return nil, errors.Wrap(err, "schema structure is not JSON-encodable")
	}
	return out, nil
}
