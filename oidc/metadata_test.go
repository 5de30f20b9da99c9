package oidc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_DiscoverMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name             string
		data             string
		trailingSlashIss bool
		overrideData     string
		overrideHeader   string
		status           int
		wantErr          bool
		wantIsErr        error
	}{
		{
			name: "basic",
			data: `{
				"issuer": "ISSUER",
				"authorization_endpoint": "https://example.com/auth",
				"token_endpoint": "https://example.com/token",
				"jwks_uri": "https://example.com/keys",
				"userinfo_endpoint": "https://example.com/userinfo",
				"end_session_endpoint": "https://example.com/logout",
				"id_token_signing_alg_values_supported": ["RS256", "ES256"],
				"scopes_supported": ["openid", "profile"]
			}`,
		},
		{
			name: "trailing-slash-issuer",
			data: `{
				"issuer": "ISSUER",
				"authorization_endpoint": "https://example.com/auth",
				"token_endpoint": "https://example.com/token",
				"jwks_uri": "https://example.com/keys"
			}`,
			trailingSlashIss: true,
		},
		{
			name: "mismatched-issuer",
			data: `{
				"issuer": "https://attacker.example.com",
				"authorization_endpoint": "https://example.com/auth",
				"token_endpoint": "https://example.com/token",
				"jwks_uri": "https://example.com/keys"
			}`,
			overrideData: "set",
			wantErr:      true,
			wantIsErr:    ErrInvalidMetadata,
		},
		{
			name:           "bad-json",
			data:           `{`,
			overrideData:   "set",
			overrideHeader: "text/html",
			wantErr:        true,
			wantIsErr:      ErrInvalidMetadata,
		},
		{
			name: "missing-endpoints",
			data: `{
				"issuer": "ISSUER",
				"authorization_endpoint": "https://example.com/auth"
			}`,
			wantErr:   true,
			wantIsErr: ErrInvalidMetadata,
		},
		{
			name:      "not-found",
			data:      `{}`,
			status:    http.StatusNotFound,
			wantErr:   true,
			wantIsErr: ErrInvalidMetadata,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)

			var issuer string
			hf := func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/.well-known/openid-configuration" {
					http.NotFound(w, r)
					return
				}
				if tt.overrideHeader != "" {
					w.Header().Set("Content-Type", tt.overrideHeader)
				} else {
					w.Header().Set("Content-Type", "application/json")
				}
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				data := tt.data
				if tt.overrideData == "" {
					data = strings.ReplaceAll(data, "ISSUER", strings.TrimSuffix(issuer, "/"))
				}
				_, _ = io.WriteString(w, data)
			}
			s := httptest.NewServer(http.HandlerFunc(hf))
			defer s.Close()

			issuer = s.URL
			if tt.trailingSlashIss {
				issuer += "/"
			}

			md, err := DiscoverMetadata(ctx, s.Client(), issuer)
			if tt.wantErr {
				require.Error(err)
				if tt.wantIsErr != nil {
					assert.ErrorIs(err, tt.wantIsErr)
				}
				return
			}
			require.NoError(err)
			assert.Equal(NormalizeIssuer(issuer), md.Issuer)
			assert.Equal("https://example.com/auth", md.AuthURL)
			assert.Equal("https://example.com/token", md.TokenURL)
			assert.Equal("https://example.com/keys", md.JWKSURL)
		})
	}

	t.Run("nil-client", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, err := DiscoverMetadata(ctx, nil, "https://example.com")
		assert.ErrorIs(err, ErrNilParameter)
	})
	t.Run("empty-issuer", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, err := DiscoverMetadata(ctx, http.DefaultClient, "")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func Test_NormalizeIssuer(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("https://example.com", NormalizeIssuer("https://example.com/"))
	assert.Equal("https://example.com", NormalizeIssuer("https://example.com"))
	assert.Equal("https://example.com/tenant", NormalizeIssuer("https://example.com/tenant/"))
}

func Test_ResolveIssuerForAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("bad-account", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, err := ResolveIssuerForAccount(ctx, http.DefaultClient, "not-an-account")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("resolves", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		hf := func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/.well-known/webfinger" {
				http.NotFound(w, r)
				return
			}
			if got := r.URL.Query().Get("resource"); !strings.HasPrefix(got, "acct:alice@") {
				http.Error(w, "unexpected resource "+got, http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{
				"subject": "acct:alice@example.com",
				"links": [
					{"rel": "http://webfinger.net/rel/profile-page", "href": "https://example.com/alice"},
					{"rel": "http://openid.net/specs/connect/1.0/issuer", "href": "https://issuer.example.com"}
				]
			}`)
		}
		// webfinger always goes over https, so serve TLS and trust its cert
		// via the test server's client
		s := httptest.NewTLSServer(http.HandlerFunc(hf))
		defer s.Close()

		host := strings.TrimPrefix(s.URL, "https://")
		issuer, err := ResolveIssuerForAccount(ctx, s.Client(), "alice@"+host)
		require.NoError(err)
		assert.Equal("https://issuer.example.com", issuer)
	})
	t.Run("no-issuer-link", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		hf := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"subject": "acct:alice@example.com", "links": []}`)
		}
		s := httptest.NewTLSServer(http.HandlerFunc(hf))
		defer s.Close()

		host := strings.TrimPrefix(s.URL, "https://")
		_, err := ResolveIssuerForAccount(ctx, s.Client(), "alice@"+host)
		assert.ErrorIs(err, ErrInvalidMetadata)
	})
}
