package oidc

import (
	"sort"
	"strings"
)

// ResponseType is the flow variant requested of a provider, named by the
// artifacts the provider returns directly: an authorization code, an
// id_token, an access token, or a defined combination (the hybrid flows).
type ResponseType string

const (
	// ResponseTypeCode is the authorization code flow.
	ResponseTypeCode ResponseType = "code"

	// ResponseTypeIDToken is the implicit flow returning only an id_token.
	ResponseTypeIDToken ResponseType = "id_token"

	// ResponseTypeIDTokenToken is the implicit flow returning an id_token
	// and an access token.
	ResponseTypeIDTokenToken ResponseType = "id_token token"

	// ResponseTypeCodeIDToken is the hybrid flow returning a code and an
	// id_token.
	ResponseTypeCodeIDToken ResponseType = "code id_token"

	// ResponseTypeCodeToken is the hybrid flow returning a code and an
	// access token.
	ResponseTypeCodeToken ResponseType = "code token"

	// ResponseTypeCodeIDTokenToken is the hybrid flow returning all three.
	ResponseTypeCodeIDTokenToken ResponseType = "code id_token token"
)

// parts splits a response type into its normalized component set. Components
// are space-delimited and order-insensitive on the wire.
func (rt ResponseType) parts() []string {
	fields := strings.Fields(string(rt))
	sort.Strings(fields)
	return fields
}

func (rt ResponseType) has(part string) bool {
	for _, p := range rt.parts() {
		if p == part {
			return true
		}
	}
	return false
}

// HasCode reports whether the flow returns an authorization code directly.
func (rt ResponseType) HasCode() bool { return rt.has("code") }

// HasIDToken reports whether the flow returns an id_token directly.
func (rt ResponseType) HasIDToken() bool { return rt.has("id_token") }

// HasToken reports whether the flow returns an access token directly.
func (rt ResponseType) HasToken() bool { return rt.has("token") }

// IsImplicit reports whether the flow returns tokens without a code.
func (rt ResponseType) IsImplicit() bool { return rt.HasIDToken() && !rt.HasCode() }

// IsHybrid reports whether the flow returns a code alongside tokens.
func (rt ResponseType) IsHybrid() bool {
	return rt.HasCode() && (rt.HasIDToken() || rt.HasToken())
}

// Validate returns an error unless the response type is one of the defined
// flow combinations.
func (rt ResponseType) Validate() error {
	const op = "ResponseType.Validate"
	switch strings.Join(rt.parts(), " ") {
	case "code",
		"id_token",
		"id_token token",
		"code id_token",
		"code token",
		"code id_token token":
		return nil
	default:
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("unsupported response type "+string(rt)))
	}
}

// ResponseMode is how the provider is asked to deliver its response.
type ResponseMode string

const (
	// ResponseModeQuery delivers the response in redirect query parameters.
	ResponseModeQuery ResponseMode = "query"

	// ResponseModeFragment delivers the response in the redirect fragment;
	// the fragment reaches the relying party via a same-origin form
	// submission.
	ResponseModeFragment ResponseMode = "fragment"

	// ResponseModeFormPost delivers the response via a provider-rendered
	// auto-submitting form POST.
	ResponseModeFormPost ResponseMode = "form_post"
)

// Response is a provider's authentication response as received by the
// callback endpoint, from query parameters or a form submission.
type Response struct {
	State            string
	Code             string
	IDToken          IdToken
	AccessToken      AccessToken
	TokenType        string
	Error            string
	ErrorDescription string
}

// ValidateResponse checks that the response contains exactly the components
// the requested response type implies: no more, no fewer. Any other
// combination fails the flow.
func (rt ResponseType) ValidateResponse(resp *Response) error {
	const op = "ResponseType.ValidateResponse"
	if resp == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("response is nil"))
	}
	if err := rt.Validate(); err != nil {
		return WrapError(err, WithOp(op))
	}
	checks := []struct {
		name    string
		want    bool
		present bool
	}{
		{"code", rt.HasCode(), resp.Code != ""},
		{"id_token", rt.HasIDToken(), resp.IDToken != ""},
		{"access_token", rt.HasToken(), resp.AccessToken != ""},
	}
	for _, c := range checks {
		switch {
		case c.want && !c.present:
			return NewError(ErrInvalidFlow, WithOp(op), WithKind(ErrProtocolViolation), WithMsg("response type "+string(rt)+" requires "+c.name+" but the response has none"))
		case !c.want && c.present:
			return NewError(ErrInvalidFlow, WithOp(op), WithKind(ErrProtocolViolation), WithMsg("response type "+string(rt)+" does not allow "+c.name+" but the response carries one"))
		}
	}
	return nil
}
