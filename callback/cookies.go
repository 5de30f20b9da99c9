package callback

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/openidc/rp/oidc"
)

// stateCookiePrefix prefixes the short-lived cookie binding a pending
// request's state value to the browser across the redirect round trip.
const stateCookiePrefix = "rp_state_"

func (h *Handler) sessionCookie(ref string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookieName,
		Value:    ref,
		Path:     h.cookiePath,
		Domain:   h.cookieDomain,
		Expires:  expires,
		Secure:   h.secureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) clearSessionCookie() *http.Cookie {
	c := h.sessionCookie("", time.Unix(0, 0))
	c.MaxAge = -1
	return c
}

// setStateCookie binds the state value to the browser. The value is sealed
// so the callback can tell a cookie it issued from one it did not. form_post
// responses arrive as a cross-site POST, which Lax cookies do not
// accompany; those flows need SameSite=None, which in turn requires Secure.
func (h *Handler) setStateCookie(w http.ResponseWriter, req *oidc.Request, ttl time.Duration) error {
	const op = "callback.(Handler).setStateCookie"
	sealed, err := h.sealer.Encrypt([]byte(req.State()))
	if err != nil {
		return oidc.NewError(oidc.ErrCodeUnknown, oidc.WithOp(op), oidc.WithKind(oidc.ErrInternal), oidc.WithMsg("unable to seal state cookie"), oidc.WithWrap(err))
	}
	c := &http.Cookie{
		Name:     stateCookiePrefix + req.State(),
		Value:    sealed,
		Path:     h.cookiePath,
		Domain:   h.cookieDomain,
		MaxAge:   int(ttl / time.Second),
		Secure:   h.secureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if req.ResponseMode() == oidc.ResponseModeFormPost {
		c.SameSite = http.SameSiteNoneMode
		c.Secure = true
	}
	w.Header().Add("Set-Cookie", c.String())
	return nil
}

// checkStateCookie verifies that the browser presenting the response is the
// one the request was issued to, then expires the cookie.
func (h *Handler) checkStateCookie(w http.ResponseWriter, r *http.Request, state string) error {
	const op = "callback.(Handler).checkStateCookie"
	c, err := r.Cookie(stateCookiePrefix + state)
	if err != nil {
		return oidc.NewError(oidc.ErrResponseStateInvalid, oidc.WithOp(op), oidc.WithKind(oidc.ErrProtocolViolation), oidc.WithMsg("response is missing its state cookie"))
	}
	unsealed, err := h.sealer.Decrypt(c.Value)
	if err != nil || subtle.ConstantTimeCompare(unsealed, []byte(state)) != 1 {
		return oidc.NewError(oidc.ErrResponseStateInvalid, oidc.WithOp(op), oidc.WithKind(oidc.ErrIntegrityViolation), oidc.WithMsg("state cookie does not match the response state"))
	}
	expired := &http.Cookie{
		Name:     stateCookiePrefix + state,
		Value:    "",
		Path:     h.cookiePath,
		Domain:   h.cookieDomain,
		MaxAge:   -1,
		Secure:   h.secureCookies,
		HttpOnly: true,
	}
	w.Header().Add("Set-Cookie", expired.String())
	return nil
}

// sessionRef returns the session reference carried by the request's
// authentication cookie, or "".
func (h *Handler) sessionRef(r *http.Request) string {
	c, err := r.Cookie(h.cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
