//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package trustmode gates entity construction on cross-token claim
// consistency.  The validator is a pure precondition check: it never
// mutates the tokens and any failure aborts the whole request before
// any principal entity is built.
package trustmode

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/manetu/cedarengine/pkg/core/token"
)

// Mode selects the strictness of cross-token validation.
type Mode string

const (
	// None applies no cross-token constraint.
	None Mode = "none"
	// Strict requires the access/id/userinfo triad to agree on the
	// client identity before entities may be built.
	Strict Mode = "strict"
)

// Parse converts a configuration string to a Mode.
func Parse(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case None, "":
		return None, nil
	case Strict:
		return Strict, nil
	}
	return None, errors.Errorf("unknown trust mode %q", s)
}

// MissingTokenError reports a token the selected mode requires.
type MissingTokenError struct {
	TokenName string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("trust mode requires an %s", e.TokenName)
}

// MissingRequiredClaimError reports a claim a trust check needs that is
// absent or not a string.
type MissingRequiredClaimError struct {
	Claim     string
	TokenName string
}

func (e *MissingRequiredClaimError) Error() string {
	return fmt.Sprintf("trust mode requires claim %q in token %s", e.Claim, e.TokenName)
}

// ClientIDMismatchError reports disagreement between the access token's
// client_id and the id token's aud.
type ClientIDMismatchError struct {
	ClientID string
	Aud      string
}

func (e *ClientIDMismatchError) Error() string {
	return fmt.Sprintf("access_token.client_id %q does not match id_token.aud %q", e.ClientID, e.Aud)
}

// UserinfoAudMismatchError reports disagreement between the userinfo
// and id tokens.
type UserinfoAudMismatchError struct {
	UserinfoAud string
	IDTokenAud  string
}

func (e *UserinfoAudMismatchError) Error() string {
	return fmt.Sprintf("userinfo_token.aud %q does not match id_token.aud %q", e.UserinfoAud, e.IDTokenAud)
}

// UserinfoClientIDMismatchError reports disagreement between the
// userinfo token and the access token's client identity.
type UserinfoClientIDMismatchError struct {
	UserinfoAud string
	ClientID    string
}

func (e *UserinfoClientIDMismatchError) Error() string {
	return fmt.Sprintf("userinfo_token.aud %q does not match access_token.client_id %q", e.UserinfoAud, e.ClientID)
}

// Validate applies the selected mode to the request's tokens.  A nil
// error means entity construction may proceed.
func Validate(mode Mode, toks map[string]*token.Token) error {
	switch mode {
	case None:
		return nil
	case Strict:
		return validateStrict(toks)
	}
	return errors.Errorf("unknown trust mode %q", mode)
}

func validateStrict(toks map[string]*token.Token) error {
	access := presentToken(toks, token.Access)
	if access == nil {
		return &MissingTokenError{TokenName: token.Access}
	}
	idTok := presentToken(toks, token.ID)
	if idTok == nil {
		return &MissingTokenError{TokenName: token.ID}
	}

	clientID, err := stringClaim(access, "client_id")
	if err != nil {
		return err
	}
	idAud, err := stringClaim(idTok, "aud")
	if err != nil {
		return err
	}
	if clientID != idAud {
		return &ClientIDMismatchError{ClientID: clientID, Aud: idAud}
	}

	if userinfo := presentToken(toks, token.Userinfo); userinfo != nil {
		userinfoAud, err := stringClaim(userinfo, "aud")
		if err != nil {
			return err
		}
		if userinfoAud != idAud {
			return &UserinfoAudMismatchError{UserinfoAud: userinfoAud, IDTokenAud: idAud}
		}
		if userinfoAud != clientID {
			return &UserinfoClientIDMismatchError{UserinfoAud: userinfoAud, ClientID: clientID}
		}
	}

	return nil
}

func presentToken(toks map[string]*token.Token, name string) *token.Token {
	tok, ok := toks[name]
	if !ok || tok == nil || !tok.HasClaims() {
		return nil
	}
	return tok
}

func stringClaim(tok *token.Token, claim string) (string, error) {
	s, ok := tok.StringClaim(claim)
	if !ok {
		return "", &MissingRequiredClaimError{Claim: claim, TokenName: tok.Name()}
	}
	return s, nil
}
