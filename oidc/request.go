package oidc

import (
	"encoding/json"
	"time"
)

// DefaultRequestExpirySkew defines a default time skew when checking a
// Request's expiration.
const DefaultRequestExpirySkew = 1 * time.Second

// Request represents one OIDC authentication flow for a user: the ephemeral
// state created when the authorization request is built, bound to the browser
// by its State value across the redirect round trip. It records everything
// needed to validate the matching response and to restore the original
// request afterwards. A Request must be consumed exactly once when the
// response arrives; a Request older than its timeout is invalid regardless of
// a matching State value.
type Request struct {
	// state is a unique identifier and an opaque value used to maintain state
	// between the authorization request and the callback. It cannot equal the
	// nonce.
	state string

	// nonce is a unique per-flow value bound into the id_token to prevent
	// replay of a captured token in a different flow. It cannot equal the
	// state.
	nonce string

	// issuer of the provider this flow targets.
	issuer string

	// originalURL is the pre-authentication URL to restore once the flow is
	// established.
	originalURL string

	// originalMethod is the pre-authentication request method.
	originalMethod string

	responseType ResponseType
	responseMode ResponseMode

	createdAt  time.Time
	expiration time.Time

	// nowFunc is an optional time source, used by tests.
	nowFunc func() time.Time
}

// NewRequest creates a new Request with a freshly generated state value and
// nonce. expireIn is the state timeout: how long the relying party will wait
// for the provider's response. originalURL is the pre-authentication request
// URL to restore when the flow completes.
//
// Supported options: WithIssuer, WithResponseType, WithResponseMode,
// WithOriginalMethod, WithNow.
func NewRequest(expireIn time.Duration, originalURL string, opt ...Option) (*Request, error) {
	const op = "oidc.NewRequest"
	opts := getReqOpts(opt...)
	if expireIn <= 0 {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("expireIn not greater than zero"))
	}
	if originalURL == "" {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("original URL is empty"))
	}
	if err := opts.withResponseType.Validate(); err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	nonce, err := NewID(WithPrefix("n"))
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("unable to generate a request's nonce"))
	}
	state, err := NewID(WithPrefix("st"))
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("unable to generate a request's state"))
	}
	r := &Request{
		state:          state,
		nonce:          nonce,
		issuer:         opts.withIssuer,
		originalURL:    originalURL,
		originalMethod: opts.withOriginalMethod,
		responseType:   opts.withResponseType,
		responseMode:   opts.withResponseMode,
		nowFunc:        opts.withNowFunc,
	}
	r.createdAt = r.now()
	r.expiration = r.createdAt.Add(expireIn)
	return r, nil
}

// State returns the request's opaque state value, the key under which the
// request is persisted and consumed.
func (r *Request) State() string { return r.state }

// Nonce returns the request's per-flow nonce.
func (r *Request) Nonce() string { return r.nonce }

// Issuer returns the issuer of the provider this flow targets.
func (r *Request) Issuer() string { return r.issuer }

// OriginalURL returns the pre-authentication request URL.
func (r *Request) OriginalURL() string { return r.originalURL }

// OriginalMethod returns the pre-authentication request method.
func (r *Request) OriginalMethod() string { return r.originalMethod }

// ResponseType returns the flow variant requested.
func (r *Request) ResponseType() ResponseType { return r.responseType }

// ResponseMode returns how the provider was asked to deliver the response.
func (r *Request) ResponseMode() ResponseMode { return r.responseMode }

// CreatedAt returns the request's creation time.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

func (r *Request) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}

// IsExpired returns true if the request has outlived its state timeout.
// Supports the WithExpirySkew option and if none is provided it will use
// DefaultRequestExpirySkew.
func (r *Request) IsExpired(opt ...Option) bool {
	opts := getReqOpts(opt...)
	return r.expiration.Before(r.now().Add(opts.withExpirySkew))
}

// requestPayload is the serialized form of a Request used when it is
// persisted in a cache between the authorization request and the callback.
type requestPayload struct {
	State          string       `json:"state"`
	Nonce          string       `json:"nonce"`
	Issuer         string       `json:"issuer,omitempty"`
	OriginalURL    string       `json:"original_url"`
	OriginalMethod string       `json:"original_method,omitempty"`
	ResponseType   ResponseType `json:"response_type"`
	ResponseMode   ResponseMode `json:"response_mode,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Expiration     time.Time    `json:"expiration"`
}

// MarshalJSON implements json.Marshaler so a Request can be persisted via
// the cache abstraction.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestPayload{
		State:          r.state,
		Nonce:          r.nonce,
		Issuer:         r.issuer,
		OriginalURL:    r.originalURL,
		OriginalMethod: r.originalMethod,
		ResponseType:   r.responseType,
		ResponseMode:   r.responseMode,
		CreatedAt:      r.createdAt,
		Expiration:     r.expiration,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Request) UnmarshalJSON(data []byte) error {
	const op = "Request.UnmarshalJSON"
	var p requestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrInternal), WithMsg("unable to decode request"), WithWrap(err))
	}
	r.state = p.State
	r.nonce = p.Nonce
	r.issuer = p.Issuer
	r.originalURL = p.OriginalURL
	r.originalMethod = p.OriginalMethod
	r.responseType = p.ResponseType
	r.responseMode = p.ResponseMode
	r.createdAt = p.CreatedAt
	r.expiration = p.Expiration
	return nil
}

// reqOptions is the set of available options for Request functions.
type reqOptions struct {
	withIssuer         string
	withResponseType   ResponseType
	withResponseMode   ResponseMode
	withOriginalMethod string
	withExpirySkew     time.Duration
	withNowFunc        func() time.Time
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{
		withResponseType:   ResponseTypeCode,
		withOriginalMethod: "GET",
		withExpirySkew:     DefaultRequestExpirySkew,
	}
}

func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIssuer provides the issuer a flow targets.
func WithIssuer(issuer string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withIssuer = issuer
		}
	}
}

// WithResponseType provides the flow variant to request.
func WithResponseType(rt ResponseType) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withResponseType = rt
		}
	}
}

// WithResponseMode provides the response mode to request (query, fragment or
// form_post).
func WithResponseMode(rm ResponseMode) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withResponseMode = rm
		}
	}
}

// WithOriginalMethod provides the method of the pre-authentication request.
func WithOriginalMethod(method string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withOriginalMethod = method
		}
	}
}
