package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	jose "gopkg.in/square/go-jose.v2"
)

// KeySet verifies JWT signatures against a set of signing keys.
type KeySet interface {
	// VerifySignature parses the given JWT, verifies its signature and
	// returns the raw payload. The token must be of the JWS compact
	// serialization form.
	VerifySignature(ctx context.Context, token string) (payload []byte, err error)

	// Keys returns the set's current signing keys. With force, a fresh set
	// is fetched even when a cached one exists.
	Keys(ctx context.Context, force bool) ([]jose.JSONWebKey, error)
}

// remoteKeySet caches the JWKS document published at a provider's jwks_uri.
// When a token references a key id not present in the cached set it refreshes
// the document exactly once before failing, which covers routine provider
// key rotation without hammering the endpoint on forged tokens.
type remoteKeySet struct {
	jwksURL string
	client  *http.Client

	mu   sync.RWMutex
	keys []jose.JSONWebKey
}

var _ KeySet = (*remoteKeySet)(nil)

// NewRemoteKeySet creates a KeySet backed by the JWKS document at jwksURL.
// The keys are fetched lazily on first use.
func NewRemoteKeySet(jwksURL string, client *http.Client) (KeySet, error) {
	const op = "oidc.NewRemoteKeySet"
	if jwksURL == "" {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("jwksURL is empty"))
	}
	if client == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("client is nil"))
	}
	return &remoteKeySet{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

// VerifySignature implements KeySet.
func (r *remoteKeySet) VerifySignature(ctx context.Context, token string) ([]byte, error) {
	const op = "oidc.(remoteKeySet).VerifySignature"
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrIntegrityViolation), WithCode(ErrInvalidSignature),
			WithMsg("token is not a valid compact JWS"))
	}
	if len(jws.Signatures) != 1 {
		return nil, NewError(ErrInvalidSignature, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("token has %d signatures, expected exactly 1", len(jws.Signatures))))
	}
	kid := jws.Signatures[0].Header.KeyID

	keys, err := r.currentKeys(ctx)
	if err != nil {
		return nil, err
	}
	if payload, ok := verifyWithKeys(jws, kid, keys); ok {
		return payload, nil
	}

	// Unknown or rotated key: refresh the JWKS once and retry.
	keys, err = r.refreshKeys(ctx)
	if err != nil {
		return nil, err
	}
	if payload, ok := verifyWithKeys(jws, kid, keys); ok {
		return payload, nil
	}
	return nil, NewError(ErrUnknownSigningKey, WithOp(op), WithKind(ErrIntegrityViolation),
		WithMsg(fmt.Sprintf("no key in the provider's key set validated the token signature (kid %q)", kid)))
}

// verifyWithKeys attempts verification against each candidate key. When the
// token names a kid only keys with that kid are tried.
func verifyWithKeys(jws *jose.JSONWebSignature, kid string, keys []jose.JSONWebKey) ([]byte, bool) {
	for _, k := range keys {
		if kid != "" && k.KeyID != kid {
			continue
		}
		if payload, err := jws.Verify(&k); err == nil {
			return payload, true
		}
	}
	return nil, false
}

// Keys implements KeySet.
func (r *remoteKeySet) Keys(ctx context.Context, force bool) ([]jose.JSONWebKey, error) {
	if force {
		return r.refreshKeys(ctx)
	}
	return r.currentKeys(ctx)
}

func (r *remoteKeySet) currentKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	r.mu.RLock()
	keys := r.keys
	r.mu.RUnlock()
	if keys != nil {
		return keys, nil
	}
	return r.refreshKeys(ctx)
}

// refreshKeys fetches the JWKS document and publishes the new key slice. The
// fetch happens outside the lock; concurrent refreshes are harmless since a
// whole slice is swapped in at once.
func (r *remoteKeySet) refreshKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	const op = "oidc.(remoteKeySet).refreshKeys"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.jwksURL, nil)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrInternal), WithMsg("could not create JWKS request"))
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure),
			WithMsg(fmt.Sprintf("could not fetch key set from %s", r.jwksURL)))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure), WithMsg("unable to read JWKS response body"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewError(ErrNetworkFailure, WithOp(op), WithKind(ErrNetworkViolation),
			WithMsg(fmt.Sprintf("%s: %s", resp.Status, body)))
	}
	var jwks jose.JSONWebKeySet
	if err := unmarshalJSONResponse(resp, body, &jwks); err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrProtocolViolation), WithCode(ErrInvalidMetadata),
			WithMsg("could not decode JWKS document"))
	}

	r.mu.Lock()
	r.keys = jwks.Keys
	r.mu.Unlock()
	return jwks.Keys, nil
}

// staticKeySet verifies signatures against a fixed set of public keys.
// Useful for providers whose keys are pinned out of band and in tests.
type staticKeySet struct {
	publicKeys []interface{}
}

var _ KeySet = (*staticKeySet)(nil)

// NewStaticKeySet creates a KeySet from already parsed public keys
// (*rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey).
func NewStaticKeySet(publicKeys []interface{}) (KeySet, error) {
	const op = "oidc.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("publicKeys is empty"))
	}
	return &staticKeySet{publicKeys: publicKeys}, nil
}

// VerifySignature implements KeySet.
func (s *staticKeySet) VerifySignature(_ context.Context, token string) ([]byte, error) {
	const op = "oidc.(staticKeySet).VerifySignature"
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrIntegrityViolation), WithCode(ErrInvalidSignature),
			WithMsg("token is not a valid compact JWS"))
	}
	for _, key := range s.publicKeys {
		if payload, err := jws.Verify(key); err == nil {
			return payload, nil
		}
	}
	return nil, NewError(ErrInvalidSignature, WithOp(op), WithKind(ErrIntegrityViolation),
		WithMsg("no known key successfully validated the token signature"))
}

// Keys implements KeySet. The set is fixed, so force has nothing to refresh.
func (s *staticKeySet) Keys(_ context.Context, _ bool) ([]jose.JSONWebKey, error) {
	keys := make([]jose.JSONWebKey, 0, len(s.publicKeys))
	for _, k := range s.publicKeys {
		keys = append(keys, jose.JSONWebKey{Key: k, Use: "sig"})
	}
	return keys, nil
}
