//
//  Copyright © Manetu Inc. All rights reserved.
//

package trustmode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manetu/cedarengine/pkg/core/token"
)

func triad(accessClaims, idClaims, userinfoClaims map[string]interface{}) map[string]*token.Token {
	toks := map[string]*token.Token{}
	if accessClaims != nil {
		toks[token.Access] = token.New(token.Access, accessClaims, nil)
	}
	if idClaims != nil {
		toks[token.ID] = token.New(token.ID, idClaims, nil)
	}
	if userinfoClaims != nil {
		toks[token.Userinfo] = token.New(token.Userinfo, userinfoClaims, nil)
	}
	return toks
}

func TestParse(t *testing.T) {
	m, err := Parse("strict")
	require.NoError(t, err)
	assert.Equal(t, Strict, m)

	m, err = Parse(" None ")
	require.NoError(t, err)
	assert.Equal(t, None, m)

	m, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, m)

	_, err = Parse("paranoid")
	assert.Error(t, err)
}

func TestNoneAlwaysPasses(t *testing.T) {
	assert.NoError(t, Validate(None, nil))
	assert.NoError(t, Validate(None, triad(map[string]interface{}{"client_id": "A"}, map[string]interface{}{"aud": "B"}, nil)))
}

func TestStrictSuccess(t *testing.T) {
	toks := triad(
		map[string]interface{}{"client_id": "client-1"},
		map[string]interface{}{"aud": "client-1"},
		map[string]interface{}{"aud": "client-1"},
	)
	assert.NoError(t, Validate(Strict, toks))
}

func TestStrictSuccessWithoutUserinfo(t *testing.T) {
	toks := triad(
		map[string]interface{}{"client_id": "client-1"},
		map[string]interface{}{"aud": "client-1"},
		nil,
	)
	assert.NoError(t, Validate(Strict, toks))
}

func TestStrictMissingTokens(t *testing.T) {
	err := Validate(Strict, triad(nil, map[string]interface{}{"aud": "x"}, nil))
	var missing *MissingTokenError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, token.Access, missing.TokenName)

	err = Validate(Strict, triad(map[string]interface{}{"client_id": "x"}, nil, nil))
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, token.ID, missing.TokenName)

	// a token with no claims counts as absent
	err = Validate(Strict, triad(map[string]interface{}{}, map[string]interface{}{"aud": "x"}, nil))
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, token.Access, missing.TokenName)
}

func TestStrictClientIDMismatch(t *testing.T) {
	toks := triad(
		map[string]interface{}{"client_id": "A"},
		map[string]interface{}{"aud": "B"},
		nil,
	)
	err := Validate(Strict, toks)
	var mismatch *ClientIDMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "A", mismatch.ClientID)
	assert.Equal(t, "B", mismatch.Aud)
}

func TestStrictUserinfoAudMismatch(t *testing.T) {
	toks := triad(
		map[string]interface{}{"client_id": "A"},
		map[string]interface{}{"aud": "A"},
		map[string]interface{}{"aud": "C"},
	)
	err := Validate(Strict, toks)
	var mismatch *UserinfoAudMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "C", mismatch.UserinfoAud)
	assert.Equal(t, "A", mismatch.IDTokenAud)
}

func TestStrictMissingRequiredClaim(t *testing.T) {
	toks := triad(
		map[string]interface{}{"sub": "x"},
		map[string]interface{}{"aud": "A"},
		nil,
	)
	err := Validate(Strict, toks)
	var missing *MissingRequiredClaimError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "client_id", missing.Claim)
	assert.Equal(t, token.Access, missing.TokenName)

	// a non-string claim is treated the same as an absent one
	toks = triad(
		map[string]interface{}{"client_id": float64(5)},
		map[string]interface{}{"aud": "A"},
		nil,
	)
	err = Validate(Strict, toks)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "client_id", missing.Claim)
}
