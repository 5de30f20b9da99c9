package callback

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/openidc/rp/oidc"
	"github.com/openidc/rp/session"
)

// keyIssuer is the session entry recording which provider established the
// session, so Logout can find it again in discovery mode.
const keyIssuer = "issuer"

// Callback handles the provider's authentication response, delivered as
// redirect query parameters or a form_post submission. It consumes the
// pending request for the returned state exactly once, checks the response
// carries exactly the components the requested flow defines, exchanges the
// authorization code when the flow has one, verifies every returned
// id_token, optionally merges user-info claims (token claims win) and
// establishes a session.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	const op = "callback.(Handler).Callback"
	ctx := r.Context()

	// FormValue reads the body for form_post responses and the query
	// string for redirect responses.
	resp := &oidc.Response{
		State:            r.FormValue("state"),
		Code:             r.FormValue("code"),
		IDToken:          oidc.IdToken(r.FormValue("id_token")),
		AccessToken:      oidc.AccessToken(r.FormValue("access_token")),
		TokenType:        r.FormValue("token_type"),
		Error:            r.FormValue("error"),
		ErrorDescription: r.FormValue("error_description"),
	}
	if resp.Error != "" {
		h.errorFn(w, r, oidc.NewError(oidc.ErrProviderDenied, oidc.WithOp(op), oidc.WithKind(oidc.ErrProtocolViolation),
			oidc.WithMsg(fmt.Sprintf("provider returned %q: %s", resp.Error, resp.ErrorDescription))))
		return
	}
	if resp.State == "" {
		h.errorFn(w, r, oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrProtocolViolation), oidc.WithMsg("response has no state")))
		return
	}
	if err := h.checkStateCookie(w, r, resp.State); err != nil {
		h.errorFn(w, r, err)
		return
	}

	req, err := h.requests.Take(ctx, resp.State)
	if err != nil {
		h.errorFn(w, r, err)
		return
	}
	p, err := h.providers.Get(ctx, req.Issuer())
	if err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithMsg("no provider for the pending request")))
		return
	}
	rt := req.ResponseType()
	if err := rt.ValidateResponse(resp); err != nil {
		h.errorFn(w, r, err)
		return
	}

	var (
		tokenClaims map[string]interface{}
		rawIDToken  oidc.IdToken
		tokenSource oauth2.TokenSource
	)
	if rt.HasIDToken() {
		// front-channel id_token: verify it bound to the artifacts that
		// traveled with it
		var verifyOpts []oidc.Option
		if rt.HasToken() {
			verifyOpts = append(verifyOpts, oidc.WithAccessToken(resp.AccessToken))
		}
		if rt.HasCode() {
			verifyOpts = append(verifyOpts, oidc.WithAuthorizationCode(resp.Code))
		}
		tokenClaims, err = p.VerifyIDToken(ctx, resp.IDToken, req, verifyOpts...)
		if err != nil {
			h.errorFn(w, r, err)
			return
		}
		rawIDToken = resp.IDToken
	}
	if rt.HasToken() {
		tokenSource = oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: string(resp.AccessToken),
			TokenType:   resp.TokenType,
		})
	}
	if rt.HasCode() {
		tk, err := p.Exchange(ctx, req, resp.State, resp.Code)
		if err != nil {
			h.errorFn(w, r, err)
			return
		}
		// the exchanged id_token is the authoritative one for the session
		var claims map[string]interface{}
		if err := tk.IdToken().Claims(&claims); err != nil {
			h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrInternal), oidc.WithMsg("unable to read id_token claims")))
			return
		}
		tokenClaims = claims
		rawIDToken = tk.IdToken()
		tokenSource = tk.StaticTokenSource()
	}

	sub, _ := tokenClaims["sub"].(string)
	if sub == "" {
		h.errorFn(w, r, oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrIntegrityViolation), oidc.WithMsg("id_token has no sub claim")))
		return
	}

	claims := tokenClaims
	if tokenSource != nil && p.Metadata().UserInfoURL != "" {
		var userInfo map[string]interface{}
		if err := p.UserInfo(ctx, tokenSource, sub, &userInfo); err != nil {
			h.errorFn(w, r, err)
			return
		}
		claims = oidc.MergeClaims(tokenClaims, userInfo)
	}

	s, err := h.sessions.New(sub)
	if err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrInternal), oidc.WithMsg("unable to create session")))
		return
	}
	if err := s.Set(session.KeyClaims, claims); err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrInternal), oidc.WithMsg("unable to record claims")))
		return
	}
	if err := s.Set(session.KeyIDToken, string(rawIDToken)); err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrInternal), oidc.WithMsg("unable to record id_token")))
		return
	}
	if err := s.Set(keyIssuer, p.Issuer()); err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrInternal), oidc.WithMsg("unable to record issuer")))
		return
	}
	ref, err := h.sessions.Save(ctx, s)
	if err != nil {
		h.errorFn(w, r, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrCacheViolation), oidc.WithMsg("unable to save session")))
		return
	}
	http.SetCookie(w, h.sessionCookie(ref, s.ExpiresAt()))
	h.logger.Debug("session established", "issuer", p.Issuer(), "session", s.ID())
	h.successFn(w, r, s, req.OriginalURL())
}
