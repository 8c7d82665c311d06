//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package token models the vetted authentication tokens presented with
// an authorization request.  Tokens arrive as claim maps or as compact
// JWTs whose signatures have already been verified upstream; this
// package never performs signature validation.
package token

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

// Well-known token names.  Requests may also carry tokens under
// arbitrary names when the issuer metadata declares them.
const (
	Access      = "access_token"
	ID          = "id_token"
	Userinfo    = "userinfo_token"
	Transaction = "tx_token"
)

// Default claim names used when issuer metadata does not override them.
const (
	DefaultUserIDClaim = "sub"
	DefaultRoleClaim   = "role"
	DefaultTokenID     = "jti"
)

// EntityMetadata configures how a token of one kind contributes to
// entity construction.  Zero-valued fields fall back to defaults at the
// point of use.
type EntityMetadata struct {
	// Trusted marks the token usable for entity construction.  Unset
	// means trusted.
	Trusted *bool `json:"trusted,omitempty" yaml:"trusted,omitempty"`

	// EntityTypeName overrides the Cedar entity type created for the
	// token itself.
	EntityTypeName string `json:"entity_type_name,omitempty" yaml:"entity_type_name,omitempty"`

	// UserID names the claim holding the user entity id.
	UserID string `json:"user_id,omitempty" yaml:"user_id,omitempty"`

	// RoleMapping names the claim holding role names.
	RoleMapping string `json:"role_mapping,omitempty" yaml:"role_mapping,omitempty"`

	// WorkloadID names the claim holding the workload entity id.
	WorkloadID string `json:"workload_id,omitempty" yaml:"workload_id,omitempty"`

	// TokenID names the claim holding the token's own entity id.
	TokenID string `json:"token_id,omitempty" yaml:"token_id,omitempty"`

	// PrincipalMapping lists entity types whose instances receive a
	// reference to this token's entity as an attribute.
	PrincipalMapping []string `json:"principal_mapping,omitempty" yaml:"principal_mapping,omitempty"`

	// RequiredClaims must all be present before the token is accepted.
	RequiredClaims []string `json:"required_claims,omitempty" yaml:"required_claims,omitempty"`

	// ClaimMapping transforms raw claim values before they become
	// entity attributes, keyed by claim name.
	ClaimMapping map[string]*ClaimMapping `json:"claim_mapping,omitempty" yaml:"claim_mapping,omitempty"`
}

// IsTrusted reports whether the token may participate in entity
// construction.
func (m *EntityMetadata) IsTrusted() bool {
	if m == nil || m.Trusted == nil {
		return true
	}
	return *m.Trusted
}

// UserIDClaim returns the claim name holding the user entity id.
func (m *EntityMetadata) UserIDClaim() string {
	if m == nil || m.UserID == "" {
		return DefaultUserIDClaim
	}
	return m.UserID
}

// WorkloadIDClaim returns the issuer-declared claim holding the
// workload entity id, or "" when the builder's fallback chain applies.
func (m *EntityMetadata) WorkloadIDClaim() string {
	if m == nil {
		return ""
	}
	return m.WorkloadID
}

// TokenIDClaim returns the claim name holding the token's entity id.
func (m *EntityMetadata) TokenIDClaim() string {
	if m == nil || m.TokenID == "" {
		return DefaultTokenID
	}
	return m.TokenID
}

// RoleClaim returns the claim name holding role names.
func (m *EntityMetadata) RoleClaim() string {
	if m == nil || m.RoleMapping == "" {
		return DefaultRoleClaim
	}
	return m.RoleMapping
}

// Mapping returns the claim mapping registered for a claim, if any.
func (m *EntityMetadata) Mapping(claim string) *ClaimMapping {
	if m == nil {
		return nil
	}
	return m.ClaimMapping[claim]
}

// Token is an immutable claim map plus the metadata governing its use.
// The claims are deep-copied at construction so later mutation of the
// caller's map cannot affect evaluation.
type Token struct {
	name   string
	claims map[string]interface{}
	meta   *EntityMetadata
}

// New builds a token from a claim map.  A nil metadata pointer selects
// all defaults.
func New(name string, claims map[string]interface{}, meta *EntityMetadata) *Token {
	snapshot, _ := deepcopy.Copy(claims).(map[string]interface{})
	if snapshot == nil {
		snapshot = map[string]interface{}{}
	}
	return &Token{name: name, claims: snapshot, meta: meta}
}

// Name returns the token's name within the request, e.g. "access_token".
func (t *Token) Name() string { return t.name }

// Metadata returns the issuer metadata governing this token.  May be
// nil when the issuer declares none; the EntityMetadata accessors treat
// nil as all-defaults.
func (t *Token) Metadata() *EntityMetadata { return t.meta }

// GetClaim returns the raw value of a claim.
func (t *Token) GetClaim(name string) (interface{}, bool) {
	v, ok := t.claims[name]
	return v, ok
}

// StringClaim returns a claim known to hold a string.  The second
// result is false when the claim is absent or not a string.
func (t *Token) StringClaim(name string) (string, bool) {
	v, ok := t.claims[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Claims returns a deep copy of the full claim map.
func (t *Token) Claims() map[string]interface{} {
	snapshot, _ := deepcopy.Copy(t.claims).(map[string]interface{})
	return snapshot
}

// HasClaims reports whether the token carries any claims at all.
func (t *Token) HasClaims() bool { return len(t.claims) > 0 }

// Issuer returns the iss claim, when present and a string.
func (t *Token) Issuer() (string, bool) {
	return t.StringClaim("iss")
}

// IssuerOrigin normalizes the iss claim to its URL origin
// (scheme://host[:port]), the key under which trusted issuers are
// registered.
func (t *Token) IssuerOrigin() (string, bool) {
	iss, ok := t.Issuer()
	if !ok {
		return "", false
	}
	origin, err := Origin(iss)
	if err != nil {
		return "", false
	}
	return origin, true
}

// CheckRequiredClaims verifies the metadata's required claim list.
func (t *Token) CheckRequiredClaims() error {
	if t.meta == nil {
		return nil
	}
	for _, claim := range t.meta.RequiredClaims {
		if _, ok := t.claims[claim]; !ok {
			return errors.Errorf("token %s is missing required claim %q", t.name, claim)
		}
	}
	return nil
}

// Origin reduces an issuer URL to scheme://host[:port].
func Origin(issuer string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "", errors.Wrapf(err, "invalid issuer url %q", issuer)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("issuer url %q lacks a scheme or host", issuer)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, strings.ToLower(u.Host)), nil
}

// DecodeUnverified extracts the claim map from a compact JWT without
// checking its signature.  Callers are responsible for having verified
// the token upstream.
func DecodeUnverified(raw string) (map[string]interface{}, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, errors.Wrap(err, "malformed jwt")
	}
	return map[string]interface{}(claims), nil
}
