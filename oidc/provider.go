package oidc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	strutil "github.com/openidc/rp/internal/strutils"
)

// Provider handles one provider's side of the relying-party protocol:
// building authorization URLs, exchanging authorization codes, verifying
// id_tokens against the provider's signing keys and fetching user-info
// claims.
type Provider struct {
	config   *Config
	metadata *ProviderMetadata
	keySet   KeySet

	// client is the http client for token and user-info calls, bounded by
	// the request timeout.
	client *http.Client

	// keyClient is the http client for discovery and key-set fetches,
	// bounded by the shorter key-refresh timeout.
	keyClient *http.Client

	logger hclog.Logger
}

// NewProvider creates and initializes a Provider. Unless the metadata is
// supplied with WithProviderMetadata, it is discovered from the issuer's
// well-known configuration endpoint, which makes an http request.
//
// Supported options: WithProviderMetadata.
func NewProvider(ctx context.Context, c *Config, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("provider config is nil"))
	}
	if err := c.Validate(); err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("provider config is invalid"))
	}
	opts := getProviderOpts(opt...)

	client, err := c.HTTPClient()
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	keyClient, err := c.KeyRefreshClient()
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}

	md := opts.withProviderMetadata
	if md == nil {
		md, err = DiscoverMetadata(ctx, keyClient, c.Issuer)
		if err != nil {
			return nil, WrapError(err, WithOp(op))
		}
	}
	keySet, err := NewRemoteKeySet(md.JWKSURL, keyClient)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	return &Provider{
		config:    c,
		metadata:  md,
		keySet:    keySet,
		client:    client,
		keyClient: keyClient,
		logger:    c.logger(),
	}, nil
}

// Config returns the provider's config.
func (p *Provider) Config() *Config { return p.config }

// Metadata returns a copy of the provider's discovery metadata.
func (p *Provider) Metadata() ProviderMetadata { return *p.metadata }

// Issuer returns the provider's issuer identifier.
func (p *Provider) Issuer() string { return p.config.Issuer }

func (p *Provider) oauth2Config() oauth2.Config {
	// The "openid" scope is required for oidc flows.
	scopes := append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	return oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.metadata.AuthURL,
			TokenURL: p.metadata.TokenURL,
		},
		Scopes: scopes,
	}
}

// AuthURL generates the URL a user agent is redirected to in order to start
// the authentication flow described by req: its state, nonce, response type
// and response mode all become authorization request parameters.
//
// Supported options: WithPrompts, WithLoginHint, WithACRValues, WithMaxAge,
// WithDisplay.
func (p *Provider) AuthURL(_ context.Context, req *Request, opt ...Option) (string, error) {
	const op = "Provider.AuthURL"
	if req == nil {
		return "", NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("request is nil"))
	}
	if req.State() == "" || req.Nonce() == "" {
		return "", NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("request state or nonce is empty"))
	}
	if req.State() == req.Nonce() {
		return "", NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("request state and nonce cannot be equal"))
	}
	if err := req.ResponseType().Validate(); err != nil {
		return "", WrapError(err, WithOp(op))
	}
	opts := getAuthURLOpts(opt...)

	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(req.Nonce()),
	}
	if req.ResponseType() != ResponseTypeCode {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("response_type", string(req.ResponseType())))
	}
	if req.ResponseMode() != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("response_mode", string(req.ResponseMode())))
	}
	if len(opts.withPrompts) > 0 {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", strings.Join(opts.withPrompts, " ")))
	}
	if opts.withLoginHint != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("login_hint", opts.withLoginHint))
	}
	if len(opts.withACRValues) > 0 {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("acr_values", strings.Join(opts.withACRValues, " ")))
	}
	if opts.withMaxAge >= 0 {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("max_age", strconv.Itoa(opts.withMaxAge)))
	}
	if opts.withDisplay != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("display", opts.withDisplay))
	}

	c := p.oauth2Config()
	return c.AuthCodeURL(req.State(), authCodeOpts...), nil
}

// Exchange requests a token from the provider's token endpoint using the
// authorization code from a response whose state matched req. The response
// state is compared against the request's once more as a belt-and-braces
// check; the id_token in the token response is fully verified before the
// token is returned.
func (p *Provider) Exchange(ctx context.Context, req *Request, responseState string, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	if req == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("request is nil"))
	}
	if subtle.ConstantTimeCompare([]byte(req.State()), []byte(responseState)) != 1 {
		return nil, NewError(ErrResponseStateInvalid, WithOp(op), WithKind(ErrProtocolViolation),
			WithMsg("request state and response state are not equal"))
	}
	if req.IsExpired() {
		return nil, NewError(ErrExpiredRequest, WithOp(op), WithKind(ErrProtocolViolation),
			WithMsg("authentication request is expired, login again"))
	}
	if !req.ResponseType().HasCode() {
		return nil, NewError(ErrInvalidFlow, WithOp(op), WithKind(ErrProtocolViolation),
			WithMsg(fmt.Sprintf("response type %q has no authorization code to exchange", req.ResponseType())))
	}
	if authorizationCode == "" {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("authorization code is empty"))
	}

	c := p.oauth2Config()
	oauth2Token, err := c.Exchange(ClientContext(ctx, p.client), authorizationCode)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure),
			WithMsg("unable to exchange auth code with provider"))
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, NewError(ErrMissingIDToken, WithOp(op), WithKind(ErrProtocolViolation),
			WithMsg("id_token is missing from auth code exchange"))
	}
	t, err := NewToken(IdToken(idToken), oauth2Token)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	if _, err := p.VerifyIDToken(ctx, t.IdToken(), req); err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("id_token failed verification"))
	}
	return t, nil
}

// idTokenClaims are the registered claims checked during verification.
type idTokenClaims struct {
	Issuer    string           `json:"iss"`
	Subject   string           `json:"sub"`
	Audience  audience         `json:"aud"`
	Expiry    *jwt.NumericDate `json:"exp"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	Nonce     string           `json:"nonce"`
	AuthParty string           `json:"azp"`
	ATHash    string           `json:"at_hash"`
	CHash     string           `json:"c_hash"`
}

// audience unmarshals the aud claim, which providers send as either a string
// or an array of strings.
type audience []string

func (a *audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = many
	return nil
}

// VerifyIDToken verifies an id_token against the flow it was produced for:
// signature against the provider's key set, algorithm against the config,
// issuer, audience, expiry, issued-at window and the request's nonce. When
// the response delivered an access token or authorization code alongside the
// id_token (implicit and hybrid flows), pass them with WithAccessToken and
// WithAuthorizationCode so their hash-binding claims are checked too.
//
// On success it returns all of the token's claims.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IdToken, req *Request, opt ...Option) (map[string]interface{}, error) {
	const op = "Provider.VerifyIDToken"
	if t == "" {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("id_token is empty"))
	}
	if req == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("request is nil"))
	}
	opts := getVerifyOpts(opt...)
	now := time.Now
	if opts.withNowFunc != nil {
		now = opts.withNowFunc
	}

	alg, err := t.SigningAlg()
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	if !strutil.StrListContains(algStrings(p.config.SupportedSigningAlgs), string(alg)) {
		return nil, NewError(ErrUnsupportedAlg, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("id_token signed with %q which the config does not allow", alg)))
	}

	payload, err := p.keySet.VerifySignature(ctx, string(t))
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("invalid id_token signature"))
	}

	var claims idTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrIntegrityViolation), WithCode(ErrInvalidSignature),
			WithMsg("unable to decode id_token claims"))
	}
	var allClaims map[string]interface{}
	if err := json.Unmarshal(payload, &allClaims); err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrIntegrityViolation), WithCode(ErrInvalidSignature),
			WithMsg("unable to decode id_token claims"))
	}

	if NormalizeIssuer(claims.Issuer) != NormalizeIssuer(p.config.Issuer) {
		return nil, NewError(ErrInvalidIssuer, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("id_token issuer %q does not match the configured issuer", claims.Issuer)))
	}

	audiences := p.config.Audiences
	if len(audiences) == 0 {
		audiences = []string{p.config.ClientID}
	}
	var audOk bool
	for _, a := range audiences {
		if strutil.StrListContains(claims.Audience, a) {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, NewError(ErrInvalidAudience, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg("id_token audience does not include any accepted audience"))
	}
	// With multiple audiences the authorized party must be this client.
	if len(claims.Audience) > 1 && claims.AuthParty != "" && claims.AuthParty != p.config.ClientID {
		return nil, NewError(ErrInvalidAudience, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("id_token azp %q is not the configured client", claims.AuthParty)))
	}

	if claims.Expiry == nil {
		return nil, NewError(ErrExpiredToken, WithOp(op), WithKind(ErrIntegrityViolation), WithMsg("id_token has no exp claim"))
	}
	if now().After(claims.Expiry.Time()) {
		return nil, NewError(ErrExpiredToken, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("id_token expired at %s", claims.Expiry.Time())))
	}
	if claims.IssuedAt == nil {
		return nil, NewError(ErrInvalidIssuedAt, WithOp(op), WithKind(ErrIntegrityViolation), WithMsg("id_token has no iat claim"))
	}
	leeway := p.config.issuedAtLeeway()
	if d := now().Sub(claims.IssuedAt.Time()); d > leeway || d < -leeway {
		return nil, NewError(ErrInvalidIssuedAt, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("id_token issued at %s is outside the allowed %s window", claims.IssuedAt.Time(), leeway)))
	}

	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(req.Nonce())) != 1 {
		return nil, NewError(ErrInvalidNonce, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg("id_token nonce does not match the request's nonce"))
	}

	if opts.withAccessToken != "" {
		if err := verifyHashBinding(alg, claims.ATHash, string(opts.withAccessToken), "at_hash", ErrInvalidATHash); err != nil {
			return nil, WrapError(err, WithOp(op))
		}
	}
	if opts.withAuthorizationCode != "" {
		if err := verifyHashBinding(alg, claims.CHash, string(opts.withAuthorizationCode), "c_hash", ErrInvalidCHash); err != nil {
			return nil, WrapError(err, WithOp(op))
		}
	}
	return allClaims, nil
}

// verifyHashBinding checks a token's hash-binding claim against the artifact
// delivered alongside it. A missing claim fails: when the artifact came
// through the front channel the binding is mandatory.
func verifyHashBinding(alg Alg, claim, token, claimName string, code Code) error {
	const op = "oidc.verifyHashBinding"
	if claim == "" {
		return NewError(code, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("id_token has no %s claim to bind the response", claimName)))
	}
	want, err := hashBinding(alg, token)
	if err != nil {
		return WrapError(err, WithOp(op))
	}
	if subtle.ConstantTimeCompare([]byte(claim), []byte(want)) != 1 {
		return NewError(code, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg(fmt.Sprintf("id_token %s claim does not match the response", claimName)))
	}
	return nil
}

// SigningKeys returns the provider's current signing key set. With force, a
// fresh set is fetched from the provider's jwks_uri even when a cached one
// exists; without it, the cached set is returned and only fetched when no
// set has been retrieved yet. Token validation does not require calling
// this: VerifyIDToken refreshes on an unknown key id by itself.
func (p *Provider) SigningKeys(ctx context.Context, force bool) (*jose.JSONWebKeySet, error) {
	const op = "Provider.SigningKeys"
	keys, err := p.keySet.Keys(ctx, force)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("unable to retrieve the provider's key set"))
	}
	return &jose.JSONWebKeySet{Keys: keys}, nil
}

// UserInfo gets the user-info claims from the provider using the token
// produced by the tokenSource. The response's sub claim must equal the
// verified id_token's sub, given as validSub, or the claims are rejected.
//
// Supports the WithUserInfoMethod option; the request is a GET by default.
// Either way the access token travels as a bearer credential in the
// Authorization header.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, validSub string, claims interface{}, opt ...Option) error {
	const op = "Provider.UserInfo"
	opts := getUserInfoOpts(opt...)
	if opts.withMethod != http.MethodGet && opts.withMethod != http.MethodPost {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation),
			WithMsg(fmt.Sprintf("user-info requests must be GET or POST, not %s", opts.withMethod)))
	}
	if tokenSource == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("token source is nil"))
	}
	if claims == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("claims interface is nil"))
	}
	if p.metadata.UserInfoURL == "" {
		return NewError(ErrUserInfoFailed, WithOp(op), WithKind(ErrConfigViolation),
			WithMsg("provider does not advertise a user-info endpoint"))
	}
	tok, err := tokenSource.Token()
	if err != nil {
		return WrapError(err, WithOp(op), WithKind(ErrParameterViolation), WithMsg("unable to get a token from the token source"))
	}

	req, err := http.NewRequestWithContext(ctx, opts.withMethod, p.metadata.UserInfoURL, nil)
	if err != nil {
		return WrapError(err, WithOp(op), WithKind(ErrInternal), WithMsg("could not create user-info request"))
	}
	tok.SetAuthHeader(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure),
			WithMsg("user-info request failed"))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure),
			WithMsg("unable to read user-info response body"))
	}
	if resp.StatusCode != http.StatusOK {
		return NewError(ErrUserInfoFailed, WithOp(op), WithKind(ErrNetworkViolation),
			WithMsg(fmt.Sprintf("%s: %s", resp.Status, body)))
	}

	var sub struct {
		Subject string `json:"sub"`
	}
	if err := unmarshalJSONResponse(resp, body, &sub); err != nil {
		return WrapError(err, WithOp(op), WithKind(ErrProtocolViolation), WithCode(ErrUserInfoFailed))
	}
	if sub.Subject == "" {
		return NewError(ErrUserInfoFailed, WithOp(op), WithKind(ErrProtocolViolation),
			WithMsg("user-info response has no sub claim"))
	}
	if subtle.ConstantTimeCompare([]byte(sub.Subject), []byte(validSub)) != 1 {
		return NewError(ErrUserInfoFailed, WithOp(op), WithKind(ErrIntegrityViolation),
			WithMsg("user-info sub claim does not match the id_token's sub"))
	}
	if err := json.Unmarshal(body, claims); err != nil {
		return WrapError(err, WithOp(op), WithKind(ErrProtocolViolation), WithCode(ErrUserInfoFailed),
			WithMsg("failed to decode user-info claims"))
	}
	return nil
}

// userInfoOptions is the set of available options for Provider.UserInfo.
type userInfoOptions struct {
	withMethod string
}

func userInfoDefaults() userInfoOptions {
	return userInfoOptions{withMethod: http.MethodGet}
}

func getUserInfoOpts(opt ...Option) userInfoOptions {
	opts := userInfoDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithUserInfoMethod specifies the HTTP method for user-info requests. Only
// http.MethodGet (the default) and http.MethodPost are accepted; some
// providers only serve one of the two.
func WithUserInfoMethod(method string) Option {
	return func(o interface{}) {
		if opts, ok := o.(*userInfoOptions); ok {
			opts.withMethod = method
		}
	}
}

// LogoutURL builds the provider's RP-initiated logout URL, when the provider
// advertises an end-session endpoint. postLogoutRedirect is optional.
func (p *Provider) LogoutURL(idTokenHint IdToken, postLogoutRedirect string) (string, error) {
	const op = "Provider.LogoutURL"
	if p.metadata.EndSessionURL == "" {
		return "", NewError(ErrInvalidMetadata, WithOp(op), WithKind(ErrConfigViolation),
			WithMsg("provider does not advertise an end-session endpoint"))
	}
	v := url.Values{}
	if idTokenHint != "" {
		v.Set("id_token_hint", string(idTokenHint))
	}
	if postLogoutRedirect != "" {
		v.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u := p.metadata.EndSessionURL
	if encoded := v.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u, nil
}

func algStrings(algs []Alg) []string {
	s := make([]string, 0, len(algs))
	for _, a := range algs {
		s = append(s, string(a))
	}
	return s
}

// providerOptions is the set of available options for NewProvider.
type providerOptions struct {
	withProviderMetadata *ProviderMetadata
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProviderMetadata supplies endpoint metadata directly instead of
// discovering it from the issuer's well-known configuration endpoint.
func WithProviderMetadata(md *ProviderMetadata) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withProviderMetadata = md
		}
	}
}

// authURLOptions is the set of available options for Provider.AuthURL.
type authURLOptions struct {
	withPrompts   []string
	withLoginHint string
	withACRValues []string
	withMaxAge    int
	withDisplay   string
}

func authURLDefaults() authURLOptions {
	return authURLOptions{
		withMaxAge: -1,
	}
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrompts provides the prompt authorization parameter (none, login,
// consent, select_account).
func WithPrompts(prompts ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withPrompts = prompts
		}
	}
}

// WithLoginHint provides the login_hint authorization parameter.
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withLoginHint = hint
		}
	}
}

// WithACRValues provides the acr_values authorization parameter.
func WithACRValues(values ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withACRValues = values
		}
	}
}

// WithMaxAge provides the max_age authorization parameter in seconds.
func WithMaxAge(seconds int) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withMaxAge = seconds
		}
	}
}

// WithDisplay provides the display authorization parameter.
func WithDisplay(display string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withDisplay = display
		}
	}
}

// verifyOptions is the set of available options for Provider.VerifyIDToken.
type verifyOptions struct {
	withAccessToken       AccessToken
	withAuthorizationCode string
	withNowFunc           func() time.Time
}

func getVerifyOpts(opt ...Option) verifyOptions {
	opts := verifyOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAccessToken provides the access token delivered alongside an id_token
// through the front channel, so its at_hash binding claim is verified.
func WithAccessToken(t AccessToken) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifyOptions); ok {
			o.withAccessToken = t
		}
	}
}

// WithAuthorizationCode provides the authorization code delivered alongside
// an id_token through the front channel, so its c_hash binding claim is
// verified.
func WithAuthorizationCode(code string) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifyOptions); ok {
			o.withAuthorizationCode = code
		}
	}
}
