// Package oidc implements the relying-party side of OpenID Connect Core 1.0
// authentication: building authorization requests, validating responses for
// the authorization code, implicit and hybrid flows, and verifying id_tokens
// against a provider's published signing keys.
package oidc
