package callback

import (
	"errors"
	"net/http"

	"github.com/openidc/rp/oidc"
	"github.com/openidc/rp/session"
)

// Logout tears the session down: the cache entry is destroyed, the
// authentication cookie is cleared, and when the session's provider
// advertises an end-session endpoint the browser is sent there with the
// session's id_token as a hint. Otherwise the browser is sent to the
// validated return_to target, defaulting to "/". Logging out without a
// session is not an error.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	const op = "callback.(Handler).Logout"
	ctx := r.Context()

	target := r.FormValue("return_to")
	if target == "" {
		target = "/"
	}
	target, err := validateTarget(r.Host, target)
	if err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op)))
		return
	}

	var (
		idTokenHint oidc.IdToken
		issuer      string
	)
	if ref := h.sessionRef(r); ref != "" {
		s, err := h.sessions.Load(ctx, ref)
		switch {
		case err == nil:
			var raw string
			if ok, err := s.Get(session.KeyIDToken, &raw); err == nil && ok {
				idTokenHint = oidc.IdToken(raw)
			}
			if ok, err := s.Get(keyIssuer, &issuer); err != nil || !ok {
				issuer = ""
			}
		case errors.Is(err, session.ErrNoSession):
			// already gone; still clear the cookie below
		default:
			h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrCacheViolation), oidc.WithMsg("unable to load session")))
			return
		}
		if err := h.sessions.Destroy(ctx, ref); err != nil {
			h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrCacheViolation), oidc.WithMsg("unable to destroy session")))
			return
		}
	}
	http.SetCookie(w, h.clearSessionCookie())

	p, err := h.providers.Get(ctx, issuer)
	if err != nil {
		p = h.providers.Primary()
	}
	if p != nil && p.Metadata().EndSessionURL != "" {
		logoutURL, err := p.LogoutURL(idTokenHint, absoluteTarget(r, target))
		if err == nil {
			http.Redirect(w, r, logoutURL, http.StatusFound)
			return
		}
		h.logger.Warn("unable to build provider logout URL", "issuer", p.Issuer(), "error", err)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// absoluteTarget renders a local target as the absolute URL a provider needs
// for its post-logout redirect.
func absoluteTarget(r *http.Request, target string) string {
	if target == "" || target[0] != '/' {
		return target
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + target
}
