//
//  Copyright © Manetu Inc. All rights reserved.
//

package policystore

import (
	"github.com/manetu/cedarengine/pkg/core/token"
)

// TrustedIssuer describes one identity provider whose tokens the engine
// accepts, along with per-token-kind entity construction metadata.
type TrustedIssuer struct {
	// id is the label the issuer was registered under in its store
	// document; it becomes the issuer entity's id.
	id string

	// Name is a human-readable label for the issuer.
	Name string `json:"name" yaml:"name"`

	// Description documents the issuer's purpose.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// OIDCEndpoint is any URL on the issuer; its origin
	// (scheme://host[:port]) is matched against token iss claims.
	OIDCEndpoint string `json:"oidc_endpoint" yaml:"oidc_endpoint"`

	// TokenMetadata configures entity construction per token name.
	// Token names absent from the map use all-default metadata.
	TokenMetadata map[string]*token.EntityMetadata `json:"token_metadata,omitempty" yaml:"token_metadata,omitempty"`
}

// ID returns the label the issuer was registered under.
func (i *TrustedIssuer) ID() string { return i.id }

// Origin returns the issuer key derived from the OIDC endpoint.
func (i *TrustedIssuer) Origin() (string, error) {
	return token.Origin(i.OIDCEndpoint)
}

// Metadata returns the entity metadata for a token name.  Returns nil
// when the issuer declares none; token.EntityMetadata accessors treat
// nil as all-defaults.
func (i *TrustedIssuer) Metadata(tokenName string) *token.EntityMetadata {
	if i == nil {
		return nil
	}
	return i.TokenMetadata[tokenName]
}
