package callback

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/openidc/rp/oidc"
)

// Login starts an authentication flow. It selects a provider, persists a
// pending request keyed by a fresh state value, binds the state to the
// browser with a cookie and redirects to the provider's authorization
// endpoint.
//
// Recognized parameters:
//
//	iss              issuer of the provider to use (discovery mode)
//	acct             account identifier to resolve into an issuer
//	target_link_uri  URL to restore after authentication (same host only)
//	login_hint       pass-through hint for the provider's login form
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "callback.(Handler).Login"
	ctx := r.Context()

	target, err := h.loginTarget(r)
	if err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op)))
		return
	}

	var p *oidc.Provider
	switch {
	case r.FormValue("acct") != "":
		p, err = h.providers.ResolveAccount(ctx, r.FormValue("acct"))
	case r.FormValue("iss") != "":
		p, err = h.providers.Get(ctx, r.FormValue("iss"))
	default:
		p = h.providers.Primary()
	}
	if err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithMsg("unable to select a provider")))
		return
	}

	reqOpts := []oidc.Option{
		oidc.WithIssuer(p.Issuer()),
		oidc.WithResponseType(h.responseType),
		oidc.WithOriginalMethod(r.Method),
	}
	if h.responseMode != "" {
		reqOpts = append(reqOpts, oidc.WithResponseMode(h.responseMode))
	}
	oidcReq, err := oidc.NewRequest(h.requestTimeout, target, reqOpts...)
	if err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithMsg("unable to create authentication request")))
		return
	}
	if err := h.requests.Store(ctx, oidcReq, h.requestTimeout); err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op)))
		return
	}
	if err := h.setStateCookie(w, oidcReq, h.requestTimeout); err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op)))
		return
	}

	var authOpts []oidc.Option
	if hint := r.FormValue("login_hint"); hint != "" {
		authOpts = append(authOpts, oidc.WithLoginHint(hint))
	}
	authURL, err := p.AuthURL(ctx, oidcReq, authOpts...)
	if err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithMsg("unable to build authorization URL")))
		return
	}
	h.logger.Debug("redirecting to provider", "issuer", p.Issuer(), "state", oidcReq.State())
	http.Redirect(w, r, authURL, http.StatusFound)
}

// loginTarget validates the post-login target from target_link_uri.
func (h *Handler) loginTarget(r *http.Request) (string, error) {
	target := r.FormValue("target_link_uri")
	if target == "" {
		return "/", nil
	}
	return validateTarget(r.Host, target)
}

// validateTarget accepts only a local path or a URL on the handler's own
// host; anything else is an open-redirect vector and rejected.
func validateTarget(host, target string) (string, error) {
	const op = "callback.validateTarget"
	u, err := url.Parse(target)
	if err != nil {
		return "", oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrParameterViolation), oidc.WithMsg("target is not a valid URL"))
	}
	switch {
	case u.Scheme == "" && u.Host == "":
		if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
			return "", oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrParameterViolation), oidc.WithMsg("target must be a local path"))
		}
		return target, nil
	case u.Host == host:
		return target, nil
	default:
		return "", oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrParameterViolation), oidc.WithMsg("target points off-host"))
	}
}
