package oidc

import (
	"errors"
	"strings"
)

// Code is a sentinel identifying the specific failed check, suitable for
// errors.Is tests up the call chain.
type Code = error

var (
	ErrCodeUnknown       Code = errors.New("unknown error")
	ErrInvalidParameter  Code = errors.New("invalid parameter")
	ErrNilParameter      Code = errors.New("nil parameter")
	ErrIDGeneratorFailed Code = errors.New("id generation failed")
	ErrNotFound          Code = errors.New("not found")

	// protocol failures
	ErrExpiredRequest       Code = errors.New("authentication request is expired")
	ErrResponseStateInvalid Code = errors.New("response state is invalid")
	ErrInvalidFlow          Code = errors.New("response does not match the requested flow")
	ErrProviderDenied       Code = errors.New("provider returned an error response")
	ErrMissingIDToken       Code = errors.New("id_token is missing")
	ErrLoginFailed          Code = errors.New("login failed")

	// token validation failures
	ErrUnsupportedAlg    Code = errors.New("unsupported signing algorithm")
	ErrUnknownSigningKey Code = errors.New("unknown signing key")
	ErrInvalidSignature  Code = errors.New("invalid signature")
	ErrInvalidIssuer     Code = errors.New("invalid issuer")
	ErrInvalidAudience   Code = errors.New("invalid audience")
	ErrInvalidNonce      Code = errors.New("invalid nonce")
	ErrExpiredToken      Code = errors.New("token is expired")
	ErrInvalidIssuedAt   Code = errors.New("issued-at is outside the allowed window")
	ErrInvalidATHash     Code = errors.New("access_token hash does not match at_hash claim")
	ErrInvalidCHash      Code = errors.New("authorization code hash does not match c_hash claim")

	// infrastructure failures
	ErrNetworkFailure       Code = errors.New("provider request failed")
	ErrInvalidMetadata      Code = errors.New("provider metadata is invalid")
	ErrInvalidCACert        Code = errors.New("invalid CA certificate")
	ErrUserInfoFailed       Code = errors.New("user info request failed")
	ErrCacheFailure         Code = errors.New("cache operation failed")
	ErrInvalidConfiguration Code = errors.New("invalid configuration")
)

// Kind classifies an error for rendering a denial: the protocol layer uses it
// to decide between "deny with a description", "server error" and "refuse to
// start".
type Kind uint32

const (
	ErrKindUnknown Kind = iota

	// ErrParameterViolation: a caller passed an invalid or missing argument.
	ErrParameterViolation

	// ErrProtocolViolation: invalid/missing state, a response whose parts do
	// not match the requested flow, or a provider error response.
	ErrProtocolViolation

	// ErrIntegrityViolation: a token failed signature, issuer, nonce,
	// timestamp or hash-binding validation.
	ErrIntegrityViolation

	// ErrNetworkViolation: timeout, connection failure or a non-success
	// status from the provider.
	ErrNetworkViolation

	// ErrCacheViolation: a cache backend failed the operation that needed it.
	ErrCacheViolation

	// ErrConfigViolation: missing required settings or unparseable metadata;
	// fatal at startup, the module must not serve traffic with it.
	ErrConfigViolation

	// ErrInternal: everything else.
	ErrInternal
)

// String implements fmt.Stringer for Kind.
func (k Kind) String() string {
	switch k {
	case ErrParameterViolation:
		return "parameter violation"
	case ErrProtocolViolation:
		return "protocol violation"
	case ErrIntegrityViolation:
		return "integrity violation"
	case ErrNetworkViolation:
		return "network violation"
	case ErrCacheViolation:
		return "cache violation"
	case ErrConfigViolation:
		return "configuration violation"
	case ErrInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Err is a classified error. Failures are classified at the point of
// detection and travel up the call chain typed; the protocol layer is the
// single place that renders them into a user-visible outcome.
type Err struct {
	// Code is the sentinel for the specific failed check.
	Code Code

	// Kind is the classification used to choose a denial rendering.
	Kind Kind

	// Op is the operation that raised the error.
	Op string

	// Msg is an optional specific description.
	Msg string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// NewError creates a new Err with the given Code.
//
// Supported options: WithOp, WithKind, WithMsg, WithWrap.
func NewError(c Code, opt ...Option) error {
	opts := getErrOpts(opt...)
	if c == nil {
		c = ErrCodeUnknown
	}
	return &Err{
		Code:    c,
		Kind:    opts.withKind,
		Op:      opts.withOp,
		Msg:     opts.withMsg,
		Wrapped: opts.withWrap,
	}
}

// WrapError wraps err into a new Err. When err is itself an *Err, its Code
// and Kind carry over unless overridden by options, so classification
// survives wrapping.
//
// Supported options: WithOp, WithKind, WithMsg, WithCode.
func WrapError(err error, opt ...Option) error {
	opts := getErrOpts(opt...)
	e := &Err{
		Code:    ErrCodeUnknown,
		Kind:    opts.withKind,
		Op:      opts.withOp,
		Msg:     opts.withMsg,
		Wrapped: err,
	}
	var wrapped *Err
	if errors.As(err, &wrapped) {
		e.Code = wrapped.Code
		if e.Kind == ErrKindUnknown {
			e.Kind = wrapped.Kind
		}
	}
	if opts.withCode != nil {
		e.Code = opts.withCode
	}
	return e
}

// Error implements the error interface.
func (e *Err) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Wrapped != nil {
		parts = append(parts, e.Wrapped.Error())
	} else if e.Code != nil {
		parts = append(parts, e.Code.Error())
	}
	if len(parts) == 0 {
		return ErrCodeUnknown.Error()
	}
	return strings.Join(parts, ": ")
}

// Unwrap supports errors.Is/As on the wrapped error chain.
func (e *Err) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target matches this error's Code, so callers can test
// for the specific failed check without unwrapping by hand.
func (e *Err) Is(target error) bool {
	return e.Code != nil && e.Code == target
}

// KindOf returns the Kind of err when it is (or wraps) an *Err, and
// ErrKindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Err
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// errOptions is the set of available options for error functions.
type errOptions struct {
	withOp   string
	withKind Kind
	withMsg  string
	withWrap error
	withCode Code
}

func errDefaults() errOptions {
	return errOptions{}
}

func getErrOpts(opt ...Option) errOptions {
	opts := errDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithOp provides the operation raising an error.
func WithOp(op string) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withOp = op
		}
	}
}

// WithKind provides an error classification.
func WithKind(k Kind) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withKind = k
		}
	}
}

// WithMsg provides a specific error description.
func WithMsg(msg string) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withMsg = msg
		}
	}
}

// WithCode overrides the Code carried over by WrapError.
func WithCode(c Code) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withCode = c
		}
	}
}

// WithWrap provides an error to wrap.
func WithWrap(err error) Option {
	return func(o interface{}) {
		if o, ok := o.(*errOptions); ok {
			o.withWrap = err
		}
	}
}
