//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"fmt"
	"strings"
)

// MissingClaimError reports a claim that a token was expected to carry.
type MissingClaimError struct {
	Claim     string
	TokenName string
}

func (e *MissingClaimError) Error() string {
	return fmt.Sprintf("token %s has no claim %q", e.TokenName, e.Claim)
}

// EmptyClaimError reports a claim present but holding an empty string,
// which can never serve as an entity id.
type EmptyClaimError struct {
	Claim     string
	TokenName string
}

func (e *EmptyClaimError) Error() string {
	return fmt.Sprintf("claim %q in token %s is an empty string", e.Claim, e.TokenName)
}

// TypeMismatchError reports a claim whose JSON shape does not satisfy
// the schema's expectation for the attribute it feeds.  TokenName is
// set when a specific token supplied the offending value, so every
// attempted (token, claim) pair stays identifiable in aggregates.
type TypeMismatchError struct {
	Claim     string
	TokenName string
	Expected  string
	Actual    string
}

func (e *TypeMismatchError) Error() string {
	if e.TokenName != "" {
		return fmt.Sprintf("claim %q in token %s expects %s, got %s", e.Claim, e.TokenName, e.Expected, e.Actual)
	}
	return fmt.Sprintf("claim %q expects %s, got %s", e.Claim, e.Expected, e.Actual)
}

// MissingIDError aggregates every id-extraction attempt for an entity
// whose id could not be determined.  Each attempt error describes one
// (token, claim) source that failed.
type MissingIDError struct {
	EntityType string
	Attempts   []error
}

func (e *MissingIDError) Error() string {
	msgs := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		msgs = append(msgs, a.Error())
	}
	return fmt.Sprintf("no valid id for entity %s: %s", e.EntityType, strings.Join(msgs, "; "))
}

// UnbuiltRefError reports a reference attribute naming an entity that
// was not constructed for the request, so the reference would dangle.
type UnbuiltRefError struct {
	Attr   string
	Target string
	ID     string
}

func (e *UnbuiltRefError) Error() string {
	return fmt.Sprintf("attribute %q references %s::%q, which does not exist in this request", e.Attr, e.Target, e.ID)
}

// NoTokensError reports that none of the supplied tokens can
// contribute to an entity, e.g. all were untrusted or absent.
type NoTokensError struct {
	EntityType string
}

func (e *NoTokensError) Error() string {
	return fmt.Sprintf("no available tokens to build entity %s", e.EntityType)
}

// InvalidEntityDataError reports caller-supplied entity data (resource,
// unsigned principal, or store default) that fails validation against
// the schema.
type InvalidEntityDataError struct {
	UID   string
	Cause error
}

func (e *InvalidEntityDataError) Error() string {
	return fmt.Sprintf("invalid entity data for %s: %s", e.UID, e.Cause)
}

func (e *InvalidEntityDataError) Unwrap() error { return e.Cause }

// BuildError wraps any failure while constructing one entity, naming
// the entity type for diagnostics.
type BuildError struct {
	EntityType string
	Cause      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build entity %s: %s", e.EntityType, e.Cause)
}

func (e *BuildError) Unwrap() error { return e.Cause }
