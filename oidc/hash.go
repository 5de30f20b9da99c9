package oidc

import (
	"encoding/base64"
	"fmt"
)

// hashBinding computes the hash-binding value (at_hash, c_hash) for a token
// string: the base64url encoding, without padding, of the left half of the
// token's hash under the signing algorithm's hash function.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#CodeIDToken
func hashBinding(a Alg, token string) (string, error) {
	const op = "oidc.hashBinding"
	h, ok := a.tokenHash()
	if !ok {
		return "", NewError(ErrUnsupportedAlg, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("no hash-binding function for algorithm %q", a)))
	}
	hasher := h.New()
	// hash.Hash never returns an error on Write
	_, _ = hasher.Write([]byte(token))
	sum := hasher.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
