//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package schema derives attribute mapping information from a Cedar
// JSON-format schema document.
//
// The authorization schema declares, per entity type, the shape of each
// attribute.  Entity construction needs that information in a different
// form than the schema document provides: for every (entity type,
// attribute) pair it needs to know whether the attribute is required and
// what kind of source can satisfy it -- a token claim of a particular
// JSON shape, a reference to another entity, or a set of such
// references.  [New] computes that index once per schema load; the
// resulting [MappingSchema] is immutable and shared by all requests
// using that store snapshot.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ExpectedType describes the JSON shape a claim value must have to
// satisfy a schema attribute.
type ExpectedType interface {
	fmt.Stringer
	isExpectedType()
}

// StringType expects a JSON string.
type StringType struct{}

// LongType expects a JSON integer.
type LongType struct{}

// BoolType expects a JSON boolean.
type BoolType struct{}

// ExtensionType expects a string encoding of a Cedar extension value
// (decimal, ipaddr, datetime, duration).
type ExtensionType struct {
	Name string
}

// ArrayType expects a JSON array whose elements satisfy Element.
type ArrayType struct {
	Element ExpectedType
}

// ObjectType expects a JSON object whose fields satisfy the declared
// field types.
type ObjectType struct {
	Fields map[string]ExpectedType
}

func (StringType) isExpectedType()    {}
func (LongType) isExpectedType()      {}
func (BoolType) isExpectedType()      {}
func (ExtensionType) isExpectedType() {}
func (ArrayType) isExpectedType()     {}
func (ObjectType) isExpectedType()    {}

func (StringType) String() string    { return "String" }
func (LongType) String() string      { return "Long" }
func (BoolType) String() string      { return "Boolean" }
func (e ExtensionType) String() string { return e.Name }
func (a ArrayType) String() string   { return "Set<" + a.Element.String() + ">" }

func (o ObjectType) String() string {
	keys := make([]string, 0, len(o.Fields))
	for k := range o.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+o.Fields[k].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// AttrSource describes where the value for an attribute may come from.
type AttrSource interface {
	isAttrSource()
}

// ClaimSource indicates the attribute is satisfied by a token claim (or
// caller-supplied payload field) of the expected JSON shape.
type ClaimSource struct {
	Expected ExpectedType
}

// EntityRefSource indicates the attribute is a reference to an entity
// of the target type, which must already have been constructed.
type EntityRefSource struct {
	Target string
}

// EntityRefSetSource indicates the attribute is a set of references to
// entities of the target type.
type EntityRefSetSource struct {
	Target string
}

func (ClaimSource) isAttrSource()        {}
func (EntityRefSource) isAttrSource()    {}
func (EntityRefSetSource) isAttrSource() {}

// AttrShape captures, for one attribute of one entity type, whether the
// schema requires it and what source can satisfy it.
type AttrShape struct {
	Required bool
	Source   AttrSource
}

// MappingSchema is a read-only index of attribute shapes keyed by fully
// qualified entity type name.  Built once per schema document; safe for
// concurrent use.
type MappingSchema struct {
	shapes map[string]map[string]AttrShape
}

// Error reports a malformed schema declaration.  Schema errors are
// fatal at store-load time and are never surfaced per-request.
type Error struct {
	EntityType string
	Attr       string
	Msg        string
}

func (e *Error) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("schema: entity type %q attribute %q: %s", e.EntityType, e.Attr, e.Msg)
	}
	return fmt.Sprintf("schema: entity type %q: %s", e.EntityType, e.Msg)
}

type jsonAttrType struct {
	Type       string              `json:"type"`
	Name       string              `json:"name,omitempty"`
	Element    *jsonAttrType       `json:"element,omitempty"`
	Attributes map[string]jsonAttr `json:"attributes,omitempty"`
}

type jsonAttr struct {
	jsonAttrType
	Required *bool `json:"required,omitempty"`
}

type jsonEntityType struct {
	MemberOfTypes []string      `json:"memberOfTypes,omitempty"`
	Shape         *jsonAttrType `json:"shape,omitempty"`
}

type jsonNamespace struct {
	CommonTypes map[string]jsonAttrType   `json:"commonTypes,omitempty"`
	EntityTypes map[string]jsonEntityType `json:"entityTypes,omitempty"`
	Actions     map[string]json.RawMessage `json:"actions,omitempty"`
}

type jsonSchema map[string]jsonNamespace

// New parses a Cedar JSON-format schema document and derives the
// per-entity-type attribute shapes.
func New(document []byte) (*MappingSchema, error) {
	var doc jsonSchema
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("schema: invalid JSON document: %w", err)
	}
	return fromDocument(doc)
}

func fromDocument(doc jsonSchema) (*MappingSchema, error) {
	ms := &MappingSchema{shapes: make(map[string]map[string]AttrShape)}

	for ns, nsDecl := range doc {
		r := resolver{doc: doc, ns: ns, nsDecl: nsDecl}
		for typeName, entity := range nsDecl.EntityTypes {
			qualified := qualify(ns, typeName)
			attrs := make(map[string]AttrShape)
			if entity.Shape != nil {
				if entity.Shape.Type != "Record" {
					return nil, &Error{EntityType: qualified, Msg: "entity shape must be a Record"}
				}
				for attrName, attr := range entity.Shape.Attributes {
					shape, err := r.resolveAttr(qualified, attrName, attr)
					if err != nil {
						return nil, err
					}
					attrs[attrName] = shape
				}
			}
			ms.shapes[qualified] = attrs
		}
	}

	return ms, nil
}

// Shape returns the attribute shapes for an entity type, or false if the
// type is unknown to the schema.  Callers receiving false fall back to
// untyped, best-effort construction.
func (s *MappingSchema) Shape(entityType string) (map[string]AttrShape, bool) {
	attrs, ok := s.shapes[entityType]
	return attrs, ok
}

// HasEntityType reports whether the schema declares the entity type.
func (s *MappingSchema) HasEntityType(entityType string) bool {
	_, ok := s.shapes[entityType]
	return ok
}

// EntityTypes returns the declared entity type names in sorted order.
func (s *MappingSchema) EntityTypes() []string {
	names := make([]string, 0, len(s.shapes))
	for name := range s.shapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type resolver struct {
	doc    jsonSchema
	ns     string
	nsDecl jsonNamespace
}

func (r resolver) resolveAttr(entityType, attrName string, attr jsonAttr) (AttrShape, error) {
	// Cedar JSON schema attributes are required unless declared otherwise.
	required := attr.Required == nil || *attr.Required

	src, err := r.resolveType(entityType, attrName, attr.jsonAttrType)
	if err != nil {
		return AttrShape{}, err
	}
	return AttrShape{Required: required, Source: src}, nil
}

func (r resolver) resolveType(entityType, attrName string, t jsonAttrType) (AttrSource, error) {
	switch t.Type {
	case "String":
		return ClaimSource{Expected: StringType{}}, nil
	case "Long":
		return ClaimSource{Expected: LongType{}}, nil
	case "Boolean", "Bool":
		return ClaimSource{Expected: BoolType{}}, nil
	case "Extension":
		if t.Name == "" {
			return nil, &Error{EntityType: entityType, Attr: attrName, Msg: "extension type requires a name"}
		}
		return ClaimSource{Expected: ExtensionType{Name: t.Name}}, nil
	case "Set":
		if t.Element == nil {
			return nil, &Error{EntityType: entityType, Attr: attrName, Msg: "set type requires an element"}
		}
		elem, err := r.resolveType(entityType, attrName, *t.Element)
		if err != nil {
			return nil, err
		}
		switch e := elem.(type) {
		case EntityRefSource:
			return EntityRefSetSource{Target: e.Target}, nil
		case EntityRefSetSource:
			return nil, &Error{EntityType: entityType, Attr: attrName, Msg: "nested sets of entity references are not supported"}
		case ClaimSource:
			return ClaimSource{Expected: ArrayType{Element: e.Expected}}, nil
		}
		return nil, &Error{EntityType: entityType, Attr: attrName, Msg: "unsupported set element"}
	case "Record":
		fields := make(map[string]ExpectedType, len(t.Attributes))
		for name, attr := range t.Attributes {
			src, err := r.resolveType(entityType, attrName, attr.jsonAttrType)
			if err != nil {
				return nil, err
			}
			claim, ok := src.(ClaimSource)
			if !ok {
				return nil, &Error{
					EntityType: entityType,
					Attr:       attrName,
					Msg:        fmt.Sprintf("record field %q: entity references are not supported inside records", name),
				}
			}
			fields[name] = claim.Expected
		}
		return ClaimSource{Expected: ObjectType{Fields: fields}}, nil
	case "Entity":
		if t.Name == "" {
			return nil, &Error{EntityType: entityType, Attr: attrName, Msg: "entity reference requires a name"}
		}
		ns, base := splitRef(r.ns, t.Name)
		return EntityRefSource{Target: qualify(ns, base)}, nil
	case "EntityOrCommon":
		return r.resolveEntityOrCommon(entityType, attrName, t.Name)
	case "":
		return nil, &Error{EntityType: entityType, Attr: attrName, Msg: "attribute is missing a type"}
	default:
		return nil, &Error{EntityType: entityType, Attr: attrName, Msg: fmt.Sprintf("unsupported attribute type %q", t.Type)}
	}
}

// resolveEntityOrCommon disambiguates Cedar's EntityOrCommon references:
// common types shadow entity types, which shadow the primitive and
// extension names.
func (r resolver) resolveEntityOrCommon(entityType, attrName, name string) (AttrSource, error) {
	if name == "" {
		return nil, &Error{EntityType: entityType, Attr: attrName, Msg: "type reference requires a name"}
	}

	if common, ok := r.lookupCommonType(name); ok {
		return r.resolveType(entityType, attrName, common)
	}

	if target, ok := r.lookupEntityType(name); ok {
		return EntityRefSource{Target: target}, nil
	}

	if r.isActionRef(name) {
		return nil, &Error{EntityType: entityType, Attr: attrName, Msg: "action entities cannot be used as attribute types"}
	}

	switch name {
	case "String":
		return ClaimSource{Expected: StringType{}}, nil
	case "Long":
		return ClaimSource{Expected: LongType{}}, nil
	case "Boolean", "Bool":
		return ClaimSource{Expected: BoolType{}}, nil
	case "decimal", "ipaddr", "datetime", "duration":
		return ClaimSource{Expected: ExtensionType{Name: name}}, nil
	}

	return nil, &Error{EntityType: entityType, Attr: attrName, Msg: fmt.Sprintf("unresolvable type reference %q", name)}
}

func (r resolver) lookupCommonType(name string) (jsonAttrType, bool) {
	ns, base := splitRef(r.ns, name)
	decl, ok := r.doc[ns]
	if !ok {
		return jsonAttrType{}, false
	}
	common, ok := decl.CommonTypes[base]
	return common, ok
}

func (r resolver) lookupEntityType(name string) (string, bool) {
	ns, base := splitRef(r.ns, name)
	decl, ok := r.doc[ns]
	if !ok {
		return "", false
	}
	if _, ok := decl.EntityTypes[base]; !ok {
		return "", false
	}
	return qualify(ns, base), true
}

func (r resolver) isActionRef(name string) bool {
	ns, base := splitRef(r.ns, name)
	decl, ok := r.doc[ns]
	if !ok {
		return false
	}
	_, ok = decl.Actions[base]
	return ok || base == "Action"
}

// splitRef resolves a possibly-qualified type reference against the
// current namespace.  "Other::Type" names the Type in namespace Other;
// a bare "Type" names it in the current namespace.
func splitRef(currentNs, name string) (ns, base string) {
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		return name[:idx], name[idx+2:]
	}
	return currentNs, name
}

func qualify(ns, name string) string {
	if ns == "" || strings.Contains(name, "::") {
		return name
	}
	return ns + "::" + name
}
