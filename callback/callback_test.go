package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openidc/rp/cache"
	"github.com/openidc/rp/oidc"
	"github.com/openidc/rp/seal"
	"github.com/openidc/rp/session"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testRedirectURL  = "https://rp.example.com/callback"
	testSubject      = "alice@example.com"
)

// testSetup wires a Handler against a running test provider.
func testSetup(t *testing.T, rt oidc.ResponseType) (*Handler, *oidc.TestProvider) {
	t.Helper()
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	tp.SetClientCreds(testClientID, testClientSecret)
	tp.SetAllowedRedirectURIs([]string{testRedirectURL})

	cfg, err := oidc.NewConfig(tp.Addr(), testClientID, testClientSecret,
		[]oidc.Alg{oidc.ES256}, testRedirectURL, oidc.WithProviderCA(tp.CACert()))
	require.NoError(t, err)
	reg, err := oidc.NewRegistry(ctx, cfg)
	require.NoError(t, err)

	reqCache, err := cache.NewMemory()
	require.NoError(t, err)
	requests, err := NewCacheStore(reqCache)
	require.NoError(t, err)

	sessCache, err := cache.NewMemory()
	require.NoError(t, err)
	sessions, err := session.NewStore(sessCache)
	require.NoError(t, err)

	sealer, err := seal.New("test-cookie-secret")
	require.NoError(t, err)

	h, err := New(&Config{
		Providers:    reg,
		Requests:     requests,
		Sessions:     sessions,
		Sealer:       sealer,
		ResponseType: rt,
	})
	require.NoError(t, err)
	return h, tp
}

// doLogin runs the Login handler and returns the state and nonce of the
// resulting authorization URL plus the state-binding cookie.
func doLogin(t *testing.T, h *Handler, target string) (state, nonce string, stateCookie *http.Cookie) {
	t.Helper()
	loginURL := "https://rp.example.com/login"
	if target != "" {
		loginURL += "?target_link_uri=" + url.QueryEscape(target)
	}
	r := httptest.NewRequest(http.MethodGet, loginURL, nil)
	w := httptest.NewRecorder()
	h.Login(w, r)
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	state, nonce = q.Get("state"), q.Get("nonce")
	require.NotEmpty(t, state)
	require.NotEmpty(t, nonce)

	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookiePrefix+state {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie, "state cookie not set")
	return state, nonce, stateCookie
}

// doCallback runs the Callback handler with the given response values.
func doCallback(t *testing.T, h *Handler, vals url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/callback?"+vals.Encode(), nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.Callback(w, r)
	return w
}

func sessionCookieFrom(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func Test_New(t *testing.T) {
	t.Parallel()
	h, _ := testSetup(t, oidc.ResponseTypeCode)

	tests := []struct {
		name string
		c    *Config
	}{
		{"nil-config", nil},
		{"missing-providers", &Config{Requests: h.requests, Sessions: h.sessions, Sealer: h.sealer}},
		{"missing-requests", &Config{Providers: h.providers, Sessions: h.sessions, Sealer: h.sealer}},
		{"missing-sessions", &Config{Providers: h.providers, Requests: h.requests, Sealer: h.sealer}},
		{"missing-sealer", &Config{Providers: h.providers, Requests: h.requests, Sessions: h.sessions}},
		{
			"bad-response-type",
			&Config{Providers: h.providers, Requests: h.requests, Sessions: h.sessions, Sealer: h.sealer, ResponseType: "token"},
		},
		{
			"negative-timeout",
			&Config{Providers: h.providers, Requests: h.requests, Sessions: h.sessions, Sealer: h.sealer, RequestTimeout: -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.c)
			require.Error(t, err)
			assert.Equal(t, oidc.ErrConfigViolation, oidc.KindOf(err))
		})
	}

	t.Run("defaults", func(t *testing.T) {
		got, err := New(&Config{Providers: h.providers, Requests: h.requests, Sessions: h.sessions, Sealer: h.sealer})
		require.NoError(t, err)
		assert.Equal(t, oidc.ResponseTypeCode, got.responseType)
		assert.Equal(t, DefaultRequestTimeout, got.requestTimeout)
		assert.Equal(t, DefaultCookieName, got.cookieName)
		assert.Equal(t, "/", got.cookiePath)
	})
}

func TestHandler_Login(t *testing.T) {
	t.Parallel()
	h, tp := testSetup(t, oidc.ResponseTypeCode)

	t.Run("redirects-to-provider", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/login?target_link_uri=/protected&login_hint=alice", nil)
		w := httptest.NewRecorder()
		h.Login(w, r)
		require.Equal(t, http.StatusFound, w.Code, w.Body.String())

		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(w.Header().Get("Location"), tp.Addr()))
		q := loc.Query()
		assert.Equal(t, testClientID, q.Get("client_id"))
		assert.Equal(t, testRedirectURL, q.Get("redirect_uri"))
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "alice", q.Get("login_hint"))
		assert.Contains(t, q.Get("scope"), "openid")
		assert.NotEmpty(t, q.Get("state"))
		assert.NotEmpty(t, q.Get("nonce"))
	})

	t.Run("stores-pending-request", func(t *testing.T) {
		state, nonce, _ := doLogin(t, h, "/protected")
		req, err := h.requests.Take(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, nonce, req.Nonce())
		assert.Equal(t, "/protected", req.OriginalURL())
		assert.Equal(t, tp.Addr(), req.Issuer())
	})

	t.Run("off-host-target", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/login?target_link_uri=https://evil.example.com/", nil)
		w := httptest.NewRecorder()
		h.Login(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("scheme-relative-target", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/login?target_link_uri="+url.QueryEscape("//evil.example.com/"), nil)
		w := httptest.NewRecorder()
		h.Login(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown-issuer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/login?iss="+url.QueryEscape("https://unknown.example.com"), nil)
		w := httptest.NewRecorder()
		h.Login(w, r)
		assert.NotEqual(t, http.StatusFound, w.Code)
	})
}

func TestHandler_Callback_AuthCodeFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, tp := testSetup(t, oidc.ResponseTypeCode)
	tp.SetExpectedAuthCode("valid-code")

	state, nonce, stateCookie := doLogin(t, h, "/protected")
	tp.SetExpectedAuthNonce(nonce)

	w := doCallback(t, h, url.Values{"state": {state}, "code": {"valid-code"}}, stateCookie)
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "/protected", w.Header().Get("Location"))

	authCookie := sessionCookieFrom(t, w, DefaultCookieName)
	require.NotNil(t, authCookie)
	s, err := h.sessions.Load(ctx, authCookie.Value)
	require.NoError(t, err)
	assert.Equal(t, testSubject, s.Subject())

	claims, ok, err := s.Claims()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testSubject, claims["sub"])

	var rawIDToken string
	ok, err = s.Get(session.KeyIDToken, &rawIDToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, rawIDToken)

	t.Run("replay-is-rejected", func(t *testing.T) {
		w := doCallback(t, h, url.Values{"state": {state}, "code": {"valid-code"}}, stateCookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_Callback_FormPost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base, tp := testSetup(t, oidc.ResponseTypeCode)
	tp.SetExpectedAuthCode("valid-code")

	h, err := New(&Config{
		Providers:    base.providers,
		Requests:     base.requests,
		Sessions:     base.sessions,
		Sealer:       base.sealer,
		ResponseType: oidc.ResponseTypeCode,
		ResponseMode: oidc.ResponseModeFormPost,
	})
	require.NoError(t, err)

	// login advertises the response mode and issues a cross-site-capable
	// state cookie
	r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/login?target_link_uri=/protected", nil)
	w := httptest.NewRecorder()
	h.Login(w, r)
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state, nonce := loc.Query().Get("state"), loc.Query().Get("nonce")
	assert.Equal(t, "form_post", loc.Query().Get("response_mode"))

	var stateCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookiePrefix+state {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.Equal(t, http.SameSiteNoneMode, stateCookie.SameSite)
	assert.True(t, stateCookie.Secure)

	// the response arrives as a same-origin form submission
	tp.SetExpectedAuthNonce(nonce)
	form := url.Values{"state": {state}, "code": {"valid-code"}}
	pr := httptest.NewRequest(http.MethodPost, "https://rp.example.com/callback", strings.NewReader(form.Encode()))
	pr.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	pr.AddCookie(stateCookie)
	pw := httptest.NewRecorder()
	h.Callback(pw, pr)
	require.Equal(t, http.StatusSeeOther, pw.Code, pw.Body.String())

	authCookie := sessionCookieFrom(t, pw, DefaultCookieName)
	require.NotNil(t, authCookie)
	_, err = h.sessions.Load(ctx, authCookie.Value)
	require.NoError(t, err)
}

func TestHandler_Callback_Failures(t *testing.T) {
	t.Parallel()
	h, tp := testSetup(t, oidc.ResponseTypeCode)
	tp.SetExpectedAuthCode("valid-code")

	t.Run("provider-error-response", func(t *testing.T) {
		w := doCallback(t, h, url.Values{
			"state":             {"some-state"},
			"error":             {"access_denied"},
			"error_description": {"user said no"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "access_denied")
	})

	t.Run("missing-state", func(t *testing.T) {
		w := doCallback(t, h, url.Values{"code": {"valid-code"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing-state-cookie", func(t *testing.T) {
		state, _, _ := doLogin(t, h, "/protected")
		w := doCallback(t, h, url.Values{"state": {state}, "code": {"valid-code"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "state cookie")
	})

	t.Run("tampered-state-cookie", func(t *testing.T) {
		state, _, stateCookie := doLogin(t, h, "/protected")
		forged := *stateCookie
		forged.Value = strings.Repeat("A", len(stateCookie.Value))
		w := doCallback(t, h, url.Values{"state": {state}, "code": {"valid-code"}}, &forged)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown-state", func(t *testing.T) {
		// a cookie for a state that was never stored
		state, _, stateCookie := doLogin(t, h, "/protected")
		_, err := h.requests.Take(context.Background(), state)
		require.NoError(t, err)
		w := doCallback(t, h, url.Values{"state": {state}, "code": {"valid-code"}}, stateCookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("stray-id-token-fails-flow", func(t *testing.T) {
		state, nonce, stateCookie := doLogin(t, h, "/protected")
		w := doCallback(t, h, url.Values{
			"state":    {state},
			"code":     {"valid-code"},
			"id_token": {string(tp.SignIDToken(nonce, nil))},
		}, stateCookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong-code", func(t *testing.T) {
		state, nonce, stateCookie := doLogin(t, h, "/protected")
		tp.SetExpectedAuthNonce(nonce)
		w := doCallback(t, h, url.Values{"state": {state}, "code": {"wrong-code"}}, stateCookie)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandler_Callback_ImplicitFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, tp := testSetup(t, oidc.ResponseTypeIDToken)

	t.Run("valid", func(t *testing.T) {
		state, nonce, stateCookie := doLogin(t, h, "/protected")
		idToken := tp.SignIDToken(nonce, nil)

		w := doCallback(t, h, url.Values{"state": {state}, "id_token": {string(idToken)}}, stateCookie)
		require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())

		authCookie := sessionCookieFrom(t, w, DefaultCookieName)
		require.NotNil(t, authCookie)
		s, err := h.sessions.Load(ctx, authCookie.Value)
		require.NoError(t, err)
		assert.Equal(t, testSubject, s.Subject())
	})

	t.Run("tampered-nonce", func(t *testing.T) {
		state, _, stateCookie := doLogin(t, h, "/protected")
		idToken := tp.SignIDToken("not-the-request-nonce", nil)

		w := doCallback(t, h, url.Values{"state": {state}, "id_token": {string(idToken)}}, stateCookie)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "nonce")
	})

	t.Run("missing-id-token", func(t *testing.T) {
		state, _, stateCookie := doLogin(t, h, "/protected")
		w := doCallback(t, h, url.Values{"state": {state}}, stateCookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_Callback_ImplicitFlowWithToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, tp := testSetup(t, oidc.ResponseTypeIDTokenToken)
	accessToken := "front-channel-access-token"

	t.Run("valid-at-hash", func(t *testing.T) {
		state, nonce, stateCookie := doLogin(t, h, "/protected")
		idToken := tp.SignIDToken(nonce, map[string]interface{}{
			"at_hash": oidc.TestHashBinding(t, oidc.ES256, accessToken),
		})

		w := doCallback(t, h, url.Values{
			"state":        {state},
			"id_token":     {string(idToken)},
			"access_token": {accessToken},
			"token_type":   {"Bearer"},
		}, stateCookie)
		require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())

		authCookie := sessionCookieFrom(t, w, DefaultCookieName)
		require.NotNil(t, authCookie)
		s, err := h.sessions.Load(ctx, authCookie.Value)
		require.NoError(t, err)
		assert.Equal(t, testSubject, s.Subject())
	})

	t.Run("wrong-at-hash", func(t *testing.T) {
		state, nonce, stateCookie := doLogin(t, h, "/protected")
		idToken := tp.SignIDToken(nonce, map[string]interface{}{
			"at_hash": oidc.TestHashBinding(t, oidc.ES256, "some-other-token"),
		})

		w := doCallback(t, h, url.Values{
			"state":        {state},
			"id_token":     {string(idToken)},
			"access_token": {accessToken},
			"token_type":   {"Bearer"},
		}, stateCookie)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "at_hash")
	})

	t.Run("missing-access-token", func(t *testing.T) {
		state, nonce, stateCookie := doLogin(t, h, "/protected")
		idToken := tp.SignIDToken(nonce, nil)
		w := doCallback(t, h, url.Values{"state": {state}, "id_token": {string(idToken)}}, stateCookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_Logout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, tp := testSetup(t, oidc.ResponseTypeCode)
	tp.SetExpectedAuthCode("valid-code")

	establish := func(t *testing.T) *http.Cookie {
		state, nonce, stateCookie := doLogin(t, h, "/protected")
		tp.SetExpectedAuthNonce(nonce)
		w := doCallback(t, h, url.Values{"state": {state}, "code": {"valid-code"}}, stateCookie)
		require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
		c := sessionCookieFrom(t, w, DefaultCookieName)
		require.NotNil(t, c)
		return c
	}

	t.Run("destroys-session-and-redirects-to-provider", func(t *testing.T) {
		authCookie := establish(t)

		r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/logout", nil)
		r.AddCookie(authCookie)
		w := httptest.NewRecorder()
		h.Logout(w, r)
		require.Equal(t, http.StatusFound, w.Code, w.Body.String())

		loc, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(w.Header().Get("Location"), tp.Addr()+"/logout"))
		assert.NotEmpty(t, loc.Query().Get("id_token_hint"))
		assert.Equal(t, "https://rp.example.com/", loc.Query().Get("post_logout_redirect_uri"))

		_, err = h.sessions.Load(ctx, authCookie.Value)
		assert.ErrorIs(t, err, session.ErrNoSession)

		cleared := sessionCookieFrom(t, w, DefaultCookieName)
		require.NotNil(t, cleared)
		assert.True(t, cleared.MaxAge < 0 || cleared.Expires.Unix() <= 0)
	})

	t.Run("no-session", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/logout", nil)
		w := httptest.NewRecorder()
		h.Logout(w, r)
		assert.Equal(t, http.StatusFound, w.Code)
	})

	t.Run("off-host-return-to", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "https://rp.example.com/logout?return_to=https://evil.example.com/", nil)
		w := httptest.NewRecorder()
		h.Logout(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
