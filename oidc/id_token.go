package oidc

import (
	"encoding/json"

	"gopkg.in/square/go-jose.v2/jwt"
)

// IdToken is an oidc id_token in its original compact serialization.
// IdTokens are portable: they carry their own claims, and the raw value is
// what a session stores when configured to retain the identity token.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims retrieves the IdToken claims without verifying the token. Use
// Provider.VerifyIDToken before trusting anything read this way.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("id_token is empty"))
	}
	if claims == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("claims interface is nil"))
	}
	parsed, err := jwt.ParseSigned(string(t))
	if err != nil {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrIntegrityViolation), WithMsg("unable to parse id_token"), WithWrap(err))
	}
	if err := parsed.UnsafeClaimsWithoutVerification(claims); err != nil {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrIntegrityViolation), WithMsg("unable to decode id_token claims"), WithWrap(err))
	}
	return nil
}

// SigningAlg returns the algorithm from the token's JOSE header.
func (t IdToken) SigningAlg() (Alg, error) {
	const op = "IdToken.SigningAlg"
	if len(t) == 0 {
		return "", NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("id_token is empty"))
	}
	parsed, err := jwt.ParseSigned(string(t))
	if err != nil {
		return "", NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrIntegrityViolation), WithMsg("unable to parse id_token"), WithWrap(err))
	}
	if len(parsed.Headers) != 1 {
		return "", NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg("id_token does not have exactly one signature"))
	}
	return Alg(parsed.Headers[0].Algorithm), nil
}
