//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"strconv"
	"strings"

	"github.com/manetu/cedarengine/pkg/core/token"
)

// idSource names one (token, claim) pair that may hold an entity id.
type idSource struct {
	tok   *token.Token
	claim string
}

// firstValidID walks the sources in order and returns the first
// non-empty string id.  When every source fails, the returned
// MissingIDError aggregates one attempt error per source so the caller
// can see the full fallback chain.
func firstValidID(entityType string, sources []idSource) (string, error) {
	attempts := make([]error, 0, len(sources))

	for _, src := range sources {
		if src.tok == nil {
			continue
		}
		raw, ok := src.tok.GetClaim(src.claim)
		if !ok {
			attempts = append(attempts, &MissingClaimError{Claim: src.claim, TokenName: src.tok.Name()})
			continue
		}
		id, ok := idString(raw)
		if !ok {
			attempts = append(attempts, &TypeMismatchError{
				Claim:     src.claim,
				TokenName: src.tok.Name(),
				Expected:  "String",
				Actual:    jsonTypeName(raw),
			})
			continue
		}
		if id == "" {
			attempts = append(attempts, &EmptyClaimError{Claim: src.claim, TokenName: src.tok.Name()})
			continue
		}
		return id, nil
	}

	if len(attempts) == 0 {
		return "", &NoTokensError{EntityType: entityType}
	}
	return "", &MissingIDError{EntityType: entityType, Attempts: attempts}
}

// idString coerces the shapes an id claim legitimately takes.  aud is
// permitted to be an array per RFC 7519; the first element wins.
// Surrounding whitespace and quote characters are stripped, so a claim
// that arrived double-encoded still yields a usable id.
func idString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.Trim(strings.TrimSpace(val), `"`), true
	case []interface{}:
		if len(val) == 0 {
			return "", false
		}
		return idString(val[0])
	case float64, int, int64:
		if n, ok := toLong(val); ok {
			return strconv.FormatInt(int64(n), 10), true
		}
	}
	return "", false
}

// collectIDs flattens a claim value into the list of ids it names:
// a string yields one, an array yields each string element, numbers
// are rendered in decimal.  Non-coercible elements are reported.
func collectIDs(claim string, v interface{}) ([]string, error) {
	switch val := v.(type) {
	case string:
		id, _ := idString(val)
		if id == "" {
			return nil, nil
		}
		return []string{id}, nil
	case []interface{}:
		// non-coercible elements are skipped, not fatal
		out := make([]string, 0, len(val))
		for _, elem := range val {
			id, ok := idString(elem)
			if !ok || id == "" {
				continue
			}
			out = append(out, id)
		}
		return out, nil
	case float64, int, int64:
		id, _ := idString(val)
		if id == "" {
			return nil, &TypeMismatchError{Claim: claim, Expected: "String", Actual: "number"}
		}
		return []string{id}, nil
	}
	return nil, &TypeMismatchError{
		Claim:    claim,
		Expected: "String or Set<String>",
		Actual:   jsonTypeName(v),
	}
}
