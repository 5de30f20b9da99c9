package oidc

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// jwksServer serves a mutable JWKS document and counts fetches.
type jwksServer struct {
	server  *httptest.Server
	fetches int64

	keys atomic.Value // *jose.JSONWebKeySet
}

func newJWKSServer(t *testing.T, jwks *jose.JSONWebKeySet) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.keys.Store(jwks)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.fetches, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.keys.Load())
	}))
	t.Cleanup(s.server.Close)
	return s
}

func testSignedJWT(t *testing.T, priv, keyID, nonce string) string {
	t.Helper()
	now := time.Now()
	return TestSignJWT(t, priv, keyID, jwt.Claims{
		Issuer:   "https://issuer.example.com",
		Subject:  "alice@example.com",
		Audience: jwt.Audience{"client-id"},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}, map[string]interface{}{"nonce": nonce})
}

func TestRemoteKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pub, priv := TestGenerateKeys(t)
	srv := newJWKSServer(t, testJWKS(t, pub, "kid-1"))

	ks, err := NewRemoteKeySet(srv.server.URL, srv.server.Client())
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := testSignedJWT(t, priv, "kid-1", "n_1")
		payload, err := ks.VerifySignature(ctx, token)
		require.NoError(err)
		var claims map[string]interface{}
		require.NoError(json.Unmarshal(payload, &claims))
		assert.Equal("alice@example.com", claims["sub"])
	})
	t.Run("garbage", func(t *testing.T) {
		assert := assert.New(t)
		_, err := ks.VerifySignature(ctx, "not-a-jws")
		assert.ErrorIs(err, ErrInvalidSignature)
	})
	t.Run("wrong-key", func(t *testing.T) {
		assert := assert.New(t)
		_, otherPriv := TestGenerateKeys(t)
		token := testSignedJWT(t, otherPriv, "kid-1", "n_1")
		_, err := ks.VerifySignature(ctx, token)
		assert.Error(err)
	})
}

func TestRemoteKeySet_RefreshOnUnknownKid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	pub1, priv1 := TestGenerateKeys(t)
	srv := newJWKSServer(t, testJWKS(t, pub1, "kid-1"))

	ks, err := NewRemoteKeySet(srv.server.URL, srv.server.Client())
	require.NoError(err)

	_, err = ks.VerifySignature(ctx, testSignedJWT(t, priv1, "kid-1", "n_1"))
	require.NoError(err)
	fetchesBefore := atomic.LoadInt64(&srv.fetches)

	// the provider rotates its keys: a token signed with the new key names
	// a kid the cached set has never seen
	pub2, priv2 := TestGenerateKeys(t)
	srv.keys.Store(testJWKS(t, pub2, "kid-2"))

	_, err = ks.VerifySignature(ctx, testSignedJWT(t, priv2, "kid-2", "n_2"))
	require.NoError(err)
	assert.Equal(fetchesBefore+1, atomic.LoadInt64(&srv.fetches))

	// a forged token with an unknown kid triggers exactly one more refresh
	// and then fails
	_, forgedPriv := TestGenerateKeys(t)
	_, err = ks.VerifySignature(ctx, testSignedJWT(t, forgedPriv, "kid-forged", "n_3"))
	require.Error(err)
	assert.ErrorIs(err, ErrUnknownSigningKey)
	assert.Equal(fetchesBefore+2, atomic.LoadInt64(&srv.fetches))
}

func TestRemoteKeySet_Keys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	pub1, _ := TestGenerateKeys(t)
	srv := newJWKSServer(t, testJWKS(t, pub1, "kid-1"))

	ks, err := NewRemoteKeySet(srv.server.URL, srv.server.Client())
	require.NoError(err)

	keys, err := ks.Keys(ctx, false)
	require.NoError(err)
	require.Len(keys, 1)
	assert.Equal("kid-1", keys[0].KeyID)
	fetchesBefore := atomic.LoadInt64(&srv.fetches)

	// the provider rotates; without force the cached set is served
	pub2, _ := TestGenerateKeys(t)
	srv.keys.Store(testJWKS(t, pub2, "kid-2"))

	keys, err = ks.Keys(ctx, false)
	require.NoError(err)
	require.Len(keys, 1)
	assert.Equal("kid-1", keys[0].KeyID)
	assert.Equal(fetchesBefore, atomic.LoadInt64(&srv.fetches))

	keys, err = ks.Keys(ctx, true)
	require.NoError(err)
	require.Len(keys, 1)
	assert.Equal("kid-2", keys[0].KeyID)
	assert.Equal(fetchesBefore+1, atomic.LoadInt64(&srv.fetches))
}

func TestNewRemoteKeySet_Validation(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	_, err := NewRemoteKeySet("", http.DefaultClient)
	assert.ErrorIs(err, ErrInvalidParameter)

	_, err = NewRemoteKeySet("https://example.com/keys", nil)
	assert.ErrorIs(err, ErrNilParameter)
}

func TestStaticKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	pub, priv := TestGenerateKeys(t)
	block, _ := pem.Decode([]byte(pub))
	require.NotNil(block)
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	ks, err := NewStaticKeySet([]interface{}{parsed})
	require.NoError(err)

	token := testSignedJWT(t, priv, "", "n_1")
	payload, err := ks.VerifySignature(ctx, token)
	require.NoError(err)
	var claims map[string]interface{}
	require.NoError(json.Unmarshal(payload, &claims))
	assert.Equal("alice@example.com", claims["sub"])

	_, wrongPriv := TestGenerateKeys(t)
	_, err = ks.VerifySignature(ctx, testSignedJWT(t, wrongPriv, "", "n_1"))
	assert.ErrorIs(err, ErrInvalidSignature)

	_, err = NewStaticKeySet(nil)
	assert.ErrorIs(err, ErrInvalidParameter)
}
