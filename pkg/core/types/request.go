//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package types defines the request and result structures exchanged
// with the policy engine.
package types

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/token"
)

// AnyToken allows a token to be submitted as either a compact JWT
// string or an already-decoded claim map.  This allows the caller to
// choose between convenience and efficiency.
type AnyToken interface{}

// NormalizeToken reduces an AnyToken to a claim map.  Compact JWT
// strings are decoded without signature verification; callers must
// have verified them upstream.
func NormalizeToken(input AnyToken) (map[string]interface{}, error) {
	switch input := input.(type) {
	case string:
		if strings.Count(input, ".") >= 2 {
			return token.DecodeUnverified(input)
		}
		claims := make(map[string]interface{})
		if err := json.Unmarshal([]byte(input), &claims); err != nil {
			return nil, errors.Wrap(err, "token is neither a compact jwt nor a json claim map")
		}
		return claims, nil
	case map[string]interface{}:
		return input, nil
	default:
		return nil, errors.New("invalid token type")
	}
}

// EntityUID identifies one Cedar entity.
type EntityUID struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// EntityData describes an entity supplied from outside the token
// pipeline: the request's resource, an unsigned principal, or a default
// entity declared in the policy store.
type EntityData struct {
	UID        EntityUID              `json:"uid" yaml:"uid"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Parents    []EntityUID            `json:"parents,omitempty" yaml:"parents,omitempty"`
}

// Validate checks the minimum shape an entity description must have.
func (e *EntityData) Validate() error {
	if e.UID.Type == "" {
		return errors.New("entity is missing a type")
	}
	if e.UID.ID == "" {
		return errors.New("entity is missing an id")
	}
	return nil
}

// Request is a token-based authorization query: who the tokens prove
// the caller to be, what they want to do, and to what.
type Request struct {
	// Tokens maps token names (access_token, id_token, userinfo_token,
	// or issuer-declared names) to their content.
	Tokens map[string]AnyToken `json:"tokens"`

	// Action names the operation, e.g. "Authz::Action::\"read\"" or the
	// short form "read" when the store configures an action namespace.
	Action string `json:"action"`

	// Resource describes the target entity.
	Resource EntityData `json:"resource"`

	// Context carries additional key/value pairs visible to policies.
	Context map[string]interface{} `json:"context,omitempty"`
}

// RequestUnsigned is an authorization query whose principals are
// asserted directly by the caller instead of being derived from tokens.
type RequestUnsigned struct {
	Principals []EntityData           `json:"principals"`
	Action     string                 `json:"action"`
	Resource   EntityData             `json:"resource"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// AnyRequest allows an authorization request to be submitted as a JSON
// string, raw JSON bytes, or an already-populated *Request.
type AnyRequest interface{}

// UnmarshalRequest reduces an AnyRequest to a *Request.
func UnmarshalRequest(input AnyRequest) (*Request, error) {
	switch input := input.(type) {
	case *Request:
		return input, nil
	case Request:
		return &input, nil
	case string:
		return UnmarshalRequest([]byte(input))
	case []byte:
		var req Request
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, errors.Wrap(err, "malformed request")
		}
		return &req, nil
	default:
		return nil, errors.New("invalid request type")
	}
}

// AnyRequestUnsigned allows an unsigned authorization request to be
// submitted as a JSON string, raw JSON bytes, or an already-populated
// *RequestUnsigned.
type AnyRequestUnsigned interface{}

// UnmarshalRequestUnsigned reduces an AnyRequestUnsigned to a
// *RequestUnsigned.
func UnmarshalRequestUnsigned(input AnyRequestUnsigned) (*RequestUnsigned, error) {
	switch input := input.(type) {
	case *RequestUnsigned:
		return input, nil
	case RequestUnsigned:
		return &input, nil
	case string:
		return UnmarshalRequestUnsigned([]byte(input))
	case []byte:
		var req RequestUnsigned
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, errors.Wrap(err, "malformed request")
		}
		return &req, nil
	default:
		return nil, errors.New("invalid request type")
	}
}

// Result is the outcome of one authorization request.
type Result struct {
	// ID uniquely identifies the decision for audit correlation.
	ID string `json:"request_id"`

	// Decision is the combined outcome across all evaluated principals.
	Decision bool `json:"decision"`

	// Workload and User carry the per-principal outcomes for
	// token-based requests.  Either may be nil when the corresponding
	// principal was not part of the request.
	Workload *engine.Decision `json:"workload,omitempty"`
	User     *engine.Decision `json:"user,omitempty"`

	// Principals carries per-principal outcomes for unsigned requests,
	// keyed by entity uid string.
	Principals map[string]engine.Decision `json:"principals,omitempty"`
}
