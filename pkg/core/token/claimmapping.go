//
//  Copyright © Manetu Inc. All rights reserved.
//

package token

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ClaimMapping transforms a raw claim value before it becomes an entity
// attribute.  Two parsers are supported:
//
//   - regex: the claim is a string matched against a regular expression
//     with named capture groups; each declared field maps a group to an
//     output attribute with a primitive type.
//   - json: the claim is a string containing embedded JSON, which is
//     parsed and substituted in place.
//
// In its serialized form a regex mapping carries the field definitions
// as additional top-level keys alongside parser, type and
// regex_expression:
//
//	{"parser": "regex", "type": "Acme::Url",
//	 "regex_expression": "^(?P<SCHEME>[a-z]+)://(?P<HOST>[^/]+)",
//	 "SCHEME": {"attr": "protocol", "type": "String"},
//	 "HOST":   {"attr": "host", "type": "String"}}
type ClaimMapping struct {
	Parser string
	Type   string

	expr   *regexp.Regexp
	fields map[string]RegexField
}

// RegexField maps one named capture group to an output attribute.
type RegexField struct {
	Attr string `json:"attr" yaml:"attr"`
	Type string `json:"type" yaml:"type"`
}

const (
	parserRegex = "regex"
	parserJSON  = "json"
)

// UnmarshalJSON decodes the tagged-union wire form described on
// ClaimMapping.
func (m *ClaimMapping) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return m.fromMap(raw)
}

// UnmarshalYAML accepts the same structure from YAML store documents.
func (m *ClaimMapping) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return m.fromMap(raw)
}

func (m *ClaimMapping) fromMap(raw map[string]interface{}) error {
	parser, _ := raw["parser"].(string)
	typeName, _ := raw["type"].(string)

	switch parser {
	case parserJSON:
		*m = ClaimMapping{Parser: parserJSON, Type: typeName}
		return nil

	case parserRegex:
		exprStr, ok := raw["regex_expression"].(string)
		if !ok || exprStr == "" {
			return errors.New("claim mapping: regex parser requires a regex_expression")
		}
		expr, err := regexp.Compile(exprStr)
		if err != nil {
			return errors.Wrap(err, "claim mapping: invalid regex_expression")
		}

		fields := map[string]RegexField{}
		for key, val := range raw {
			switch key {
			case "parser", "type", "regex_expression":
				continue
			}
			def, ok := val.(map[string]interface{})
			if !ok {
				return errors.Errorf("claim mapping: field %q must be an object", key)
			}
			attr, _ := def["attr"].(string)
			ftype, _ := def["type"].(string)
			if attr == "" {
				return errors.Errorf("claim mapping: field %q is missing attr", key)
			}
			switch ftype {
			case "String", "Number", "Boolean":
			default:
				return errors.Errorf("claim mapping: field %q has unsupported type %q", key, ftype)
			}
			fields[key] = RegexField{Attr: attr, Type: ftype}
		}

		groups := map[string]bool{}
		for _, name := range expr.SubexpNames() {
			if name != "" {
				groups[name] = true
			}
		}
		for name := range fields {
			if !groups[name] {
				return errors.Errorf("claim mapping: field %q does not name a capture group", name)
			}
		}

		*m = ClaimMapping{Parser: parserRegex, Type: typeName, expr: expr, fields: fields}
		return nil

	case "":
		return errors.New("claim mapping: missing parser")
	default:
		return errors.Errorf("claim mapping: unknown parser %q", parser)
	}
}

// Fields returns the declared regex field definitions keyed by capture
// group name.
func (m *ClaimMapping) Fields() map[string]RegexField {
	return m.fields
}

// Apply transforms a raw claim value.  The second result is false when
// the mapping does not apply, e.g. the claim is not a string or the
// regex does not match; callers then keep the raw value.
func (m *ClaimMapping) Apply(value interface{}) (interface{}, bool) {
	s, ok := value.(string)
	if !ok {
		return nil, false
	}

	switch m.Parser {
	case parserJSON:
		var parsed interface{}
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil, false
		}
		return parsed, true

	case parserRegex:
		match := m.expr.FindStringSubmatch(s)
		if match == nil {
			return nil, false
		}
		out := map[string]interface{}{}
		for i, name := range m.expr.SubexpNames() {
			field, declared := m.fields[name]
			if !declared || i >= len(match) {
				continue
			}
			converted, err := convertField(match[i], field.Type)
			if err != nil {
				return nil, false
			}
			out[field.Attr] = converted
		}
		return out, true
	}

	return nil, false
}

func convertField(raw, ftype string) (interface{}, error) {
	switch ftype {
	case "String":
		return raw, nil
	case "Number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "value %q is not a number", raw)
		}
		return f, nil
	case "Boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "value %q is not a boolean", raw)
		}
		return b, nil
	}
	return nil, errors.Errorf("unsupported field type %q", ftype)
}
