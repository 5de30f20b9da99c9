package oidc

import (
	"crypto"
	_ "crypto/sha256" // linked into the binary for hash-binding checks
	_ "crypto/sha512"
)

// Alg represents asymmetric signing algorithms
type Alg string

const (
	// JOSE asymmetric signing algorithm values as defined by RFC 7518.
	//
	// See: https://tools.ietf.org/html/rfc7518#section-3.1
	RS256 Alg = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 Alg = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 Alg = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	ES256 Alg = "ES256" // ECDSA using P-256 and SHA-256
	ES384 Alg = "ES384" // ECDSA using P-384 and SHA-384
	ES512 Alg = "ES512" // ECDSA using P-521 and SHA-512
	PS256 Alg = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 Alg = "PS384" // RSASSA-PSS using SHA-384 and MGF1-SHA384
	PS512 Alg = "PS512" // RSASSA-PSS using SHA-512 and MGF1-SHA512
	EdDSA Alg = "EdDSA" // Ed25519
)

var supportedAlgorithms = map[Alg]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	PS256: true,
	PS384: true,
	PS512: true,
	EdDSA: true,
}

// tokenHash returns the hash function an algorithm's hash-binding claims
// (at_hash, c_hash) are built with: the hash used by the signature itself.
// EdDSA tokens bind with SHA-512 per OpenID Connect Core.
func (a Alg) tokenHash() (crypto.Hash, bool) {
	switch a {
	case RS256, ES256, PS256:
		return crypto.SHA256, true
	case RS384, ES384, PS384:
		return crypto.SHA384, true
	case RS512, ES512, PS512, EdDSA:
		return crypto.SHA512, true
	default:
		return 0, false
	}
}
