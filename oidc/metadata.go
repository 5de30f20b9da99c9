package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// ProviderMetadata is the OpenID Connect discovery document for an issuer,
// fetched from its well-known configuration endpoint.
//
// See: https://openid.net/specs/openid-connect-discovery-1_0.html
type ProviderMetadata struct {
	// Issuer as asserted by the provider. It must equal the issuer the
	// document was fetched from (modulo a trailing slash).
	Issuer string `json:"issuer"`

	// AuthURL is the authorization endpoint.
	AuthURL string `json:"authorization_endpoint"`

	// TokenURL is the token endpoint.
	TokenURL string `json:"token_endpoint"`

	// UserInfoURL is the optional user-info endpoint.
	UserInfoURL string `json:"userinfo_endpoint,omitempty"`

	// JWKSURL is the provider's signing key set endpoint.
	JWKSURL string `json:"jwks_uri"`

	// EndSessionURL is the optional RP-initiated logout endpoint.
	EndSessionURL string `json:"end_session_endpoint,omitempty"`

	// RegistrationURL is the optional dynamic client registration endpoint.
	RegistrationURL string `json:"registration_endpoint,omitempty"`

	// IdTokenSigningAlgsSupported are the JWS algorithms the provider may
	// use to sign id_tokens.
	IdTokenSigningAlgsSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`

	// ScopesSupported are the scopes the provider advertises.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported are the response types the provider supports.
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
}

// NormalizeIssuer removes a single trailing slash from an issuer identifier,
// so that issuers which differ only by a trailing slash compare equal.
func NormalizeIssuer(issuer string) string {
	return strings.TrimSuffix(issuer, "/")
}

// WellKnownConfig returns the well-known configuration URL for an issuer.
func WellKnownConfig(issuer string) string {
	return NormalizeIssuer(issuer) + "/.well-known/openid-configuration"
}

// DiscoverMetadata fetches and validates the discovery document for the
// issuer using the given client. The asserted issuer must match the
// requested one after trailing-slash normalization.
func DiscoverMetadata(ctx context.Context, client *http.Client, issuer string) (*ProviderMetadata, error) {
	const op = "oidc.DiscoverMetadata"
	if client == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("client is nil"))
	}
	if issuer == "" {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("issuer is empty"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, WellKnownConfig(issuer), nil)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrInternal), WithMsg("could not create discovery request"))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure),
			WithMsg(fmt.Sprintf("could not fetch discovery document from %s", WellKnownConfig(issuer))))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure), WithMsg("unable to read discovery response body"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewError(ErrInvalidMetadata, WithOp(op), WithKind(ErrNetworkViolation),
			WithMsg(fmt.Sprintf("%s: %s", resp.Status, body)))
	}

	var md ProviderMetadata
	if err := unmarshalJSONResponse(resp, body, &md); err != nil {
		return nil, WrapError(err, WithOp(op), WithKind(ErrProtocolViolation), WithCode(ErrInvalidMetadata))
	}
	if NormalizeIssuer(md.Issuer) != NormalizeIssuer(issuer) {
		return nil, NewError(ErrInvalidMetadata, WithOp(op), WithKind(ErrProtocolViolation),
			WithMsg(fmt.Sprintf("asserted issuer %q did not match the issuer %q the document was requested from", md.Issuer, issuer)))
	}
	if md.AuthURL == "" || md.TokenURL == "" || md.JWKSURL == "" {
		return nil, NewError(ErrInvalidMetadata, WithOp(op), WithKind(ErrProtocolViolation),
			WithMsg("discovery document is missing one of authorization_endpoint, token_endpoint or jwks_uri"))
	}
	return &md, nil
}

// unmarshalJSONResponse decodes an HTTP response body as JSON, tolerating a
// missing or wrong Content-Type only when the payload still parses.
func unmarshalJSONResponse(resp *http.Response, body []byte, v interface{}) error {
	err := json.Unmarshal(body, v)
	if err == nil {
		return nil
	}
	ct := resp.Header.Get("Content-Type")
	mediaType, _, parseErr := mime.ParseMediaType(ct)
	if parseErr == nil && mediaType != "application/json" {
		return fmt.Errorf("got Content-Type = %q, expected Content-Type = application/json: %w", ct, err)
	}
	return fmt.Errorf("response was not JSON, could not unmarshal it as JSON: %w", err)
}

// WebFingerURL builds the OpenID Connect issuer discovery (WebFinger) URL
// for an account identifier at the given host.
func WebFingerURL(host, account string) string {
	v := url.Values{}
	v.Set("resource", "acct:"+account)
	v.Set("rel", "http://openid.net/specs/connect/1.0/issuer")
	return "https://" + host + "/.well-known/webfinger?" + v.Encode()
}

type webFingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// ResolveIssuerForAccount performs OpenID Connect issuer discovery for an
// account of the form user@host and returns the issuer it resolves to.
func ResolveIssuerForAccount(ctx context.Context, client *http.Client, account string) (string, error) {
	const op = "oidc.ResolveIssuerForAccount"
	if client == nil {
		return "", NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("client is nil"))
	}
	at := strings.LastIndex(account, "@")
	if at <= 0 || at == len(account)-1 {
		return "", NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation),
			WithMsg(fmt.Sprintf("account %q is not of the form user@host", account)))
	}
	host := account[at+1:]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, WebFingerURL(host, account), nil)
	if err != nil {
		return "", WrapError(err, WithOp(op), WithKind(ErrInternal), WithMsg("could not create webfinger request"))
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure),
			WithMsg(fmt.Sprintf("could not fetch webfinger document from %s", host)))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", WrapError(err, WithOp(op), WithKind(ErrNetworkViolation), WithCode(ErrNetworkFailure), WithMsg("unable to read webfinger response body"))
	}
	if resp.StatusCode != http.StatusOK {
		return "", NewError(ErrInvalidMetadata, WithOp(op), WithKind(ErrNetworkViolation),
			WithMsg(fmt.Sprintf("%s: %s", resp.Status, body)))
	}
	var wf webFingerResponse
	if err := unmarshalJSONResponse(resp, body, &wf); err != nil {
		return "", WrapError(err, WithOp(op), WithKind(ErrProtocolViolation), WithCode(ErrInvalidMetadata))
	}
	for _, l := range wf.Links {
		if l.Rel == "http://openid.net/specs/connect/1.0/issuer" && l.Href != "" {
			return l.Href, nil
		}
	}
	return "", NewError(ErrInvalidMetadata, WithOp(op), WithKind(ErrProtocolViolation),
		WithMsg(fmt.Sprintf("webfinger document for %q contains no issuer link", account)))
}
