//
//  Copyright © Manetu Inc. All rights reserved.
//

package token

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const urlMappingJSON = `{
  "parser": "regex",
  "type": "Acme::Url",
  "regex_expression": "^(?P<SCHEME>[a-z]+)://(?P<HOST>[^/]+)(?P<PATH>/.*)?$",
  "SCHEME": {"attr": "protocol", "type": "String"},
  "HOST":   {"attr": "host", "type": "String"}
}`

func TestRegexMapping(t *testing.T) {
	var m ClaimMapping
	require.NoError(t, json.Unmarshal([]byte(urlMappingJSON), &m))

	assert.Equal(t, "regex", m.Parser)
	assert.Equal(t, "Acme::Url", m.Type)
	assert.Len(t, m.Fields(), 2)

	out, ok := m.Apply("https://idp.example.com/auth")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{
		"protocol": "https",
		"host":     "idp.example.com",
	}, out)

	// undeclared capture groups are dropped, not surfaced
	_, hasPath := out.(map[string]interface{})["PATH"]
	assert.False(t, hasPath)
}

func TestRegexMappingTypedFields(t *testing.T) {
	var m ClaimMapping
	require.NoError(t, json.Unmarshal([]byte(`{
	  "parser": "regex",
	  "regex_expression": "^(?P<N>[0-9]+):(?P<B>true|false)$",
	  "N": {"attr": "count", "type": "Number"},
	  "B": {"attr": "flag", "type": "Boolean"}
	}`), &m))

	out, ok := m.Apply("42:true")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"count": float64(42), "flag": true}, out)
}

func TestRegexMappingDoesNotApply(t *testing.T) {
	var m ClaimMapping
	require.NoError(t, json.Unmarshal([]byte(urlMappingJSON), &m))

	_, ok := m.Apply("no match here")
	assert.False(t, ok)

	_, ok = m.Apply(42)
	assert.False(t, ok)
}

func TestJSONMapping(t *testing.T) {
	var m ClaimMapping
	require.NoError(t, json.Unmarshal([]byte(`{"parser": "json", "type": "Acme::Acr"}`), &m))

	out, ok := m.Apply(`{"values": ["a", "b"]}`)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"values": []interface{}{"a", "b"}}, out)

	_, ok = m.Apply("{broken")
	assert.False(t, ok)
}

func TestMappingValidation(t *testing.T) {
	cases := map[string]string{
		"missing parser":       `{"type": "X"}`,
		"unknown parser":       `{"parser": "xml"}`,
		"missing expression":   `{"parser": "regex"}`,
		"bad expression":       `{"parser": "regex", "regex_expression": "(?P<A"}`,
		"field not a group":    `{"parser": "regex", "regex_expression": "(?P<A>.*)", "B": {"attr": "b", "type": "String"}}`,
		"field missing attr":   `{"parser": "regex", "regex_expression": "(?P<A>.*)", "A": {"type": "String"}}`,
		"field bad type":       `{"parser": "regex", "regex_expression": "(?P<A>.*)", "A": {"attr": "a", "type": "Float"}}`,
		"field not an object":  `{"parser": "regex", "regex_expression": "(?P<A>.*)", "A": "a"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			var m ClaimMapping
			assert.Error(t, json.Unmarshal([]byte(doc), &m))
		})
	}
}

func TestMappingFromYAML(t *testing.T) {
	doc := `
parser: regex
type: Acme::Url
regex_expression: "^(?P<SCHEME>[a-z]+)://(?P<HOST>[^/]+)$"
SCHEME:
  attr: protocol
  type: String
HOST:
  attr: host
  type: String
`
	var m ClaimMapping
	require.NoError(t, yaml.Unmarshal([]byte(doc), &m))

	out, ok := m.Apply("https://idp.example.com")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{
		"protocol": "https",
		"host":     "idp.example.com",
	}, out)
}
