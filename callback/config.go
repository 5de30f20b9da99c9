package callback

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/openidc/rp/oidc"
	"github.com/openidc/rp/seal"
	"github.com/openidc/rp/session"
)

const (
	// DefaultRequestTimeout bounds how long a pending authentication
	// request stays consumable after the redirect to the provider.
	DefaultRequestTimeout = 5 * time.Minute

	// DefaultCookieName is the name of the authentication cookie holding
	// the session reference.
	DefaultCookieName = "rp_session"
)

// Config holds everything the flow handlers need. All fields other than
// the optional ones noted below are required.
type Config struct {
	// Providers supplies the provider for each flow: the primary provider
	// in static mode, or per-issuer providers in discovery mode.
	Providers *oidc.Registry

	// Requests persists pending authentication requests between the
	// redirect and the provider's response.
	Requests RequestStore

	// Sessions establishes and loads authenticated sessions.
	Sessions *session.Store

	// Sealer protects the state-binding cookie.
	Sealer *seal.Sealer

	// ResponseType selects the flow variant requested from the provider.
	// Optional: defaults to the authorization code flow.
	ResponseType oidc.ResponseType

	// ResponseMode selects how the provider returns its response.
	// Optional: empty leaves the provider's default (query parameters).
	ResponseMode oidc.ResponseMode

	// RequestTimeout is the lifetime of a pending request. Optional:
	// defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// CookieName is the authentication cookie name. Optional: defaults to
	// DefaultCookieName.
	CookieName string

	// CookiePath is the path attribute for all cookies. Optional:
	// defaults to "/".
	CookiePath string

	// CookieDomain is the optional domain attribute for all cookies.
	CookieDomain string

	// SecureCookies marks all cookies Secure. Leave unset only for plain
	// http test setups.
	SecureCookies bool

	// SuccessFn renders a completed flow. Optional: defaults to a 303
	// redirect restoring the original URL.
	SuccessFn SuccessResponseFunc

	// ErrorFn renders a failed flow. Optional: defaults to an HTTP error
	// whose status follows the error's classification.
	ErrorFn ErrorResponseFunc

	// Logger is optional and defaults to a null logger.
	Logger hclog.Logger
}

// Handler serves the relying party's flow endpoints: Login, Callback and
// Logout. It is safe for concurrent use.
type Handler struct {
	providers      *oidc.Registry
	requests       RequestStore
	sessions       *session.Store
	sealer         *seal.Sealer
	responseType   oidc.ResponseType
	responseMode   oidc.ResponseMode
	requestTimeout time.Duration
	cookieName     string
	cookiePath     string
	cookieDomain   string
	secureCookies  bool
	successFn      SuccessResponseFunc
	errorFn        ErrorResponseFunc
	logger         hclog.Logger
}

// New validates the configuration and creates a Handler.
func New(c *Config) (*Handler, error) {
	const op = "callback.New"
	if c == nil {
		return nil, oidc.NewError(oidc.ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrConfigViolation), oidc.WithMsg("config is nil"))
	}
	if c.Providers == nil {
		return nil, oidc.NewError(oidc.ErrInvalidConfiguration, oidc.WithOp(op), oidc.WithKind(oidc.ErrConfigViolation), oidc.WithMsg("provider registry is nil"))
	}
	if c.Requests == nil {
		return nil, oidc.NewError(oidc.ErrInvalidConfiguration, oidc.WithOp(op), oidc.WithKind(oidc.ErrConfigViolation), oidc.WithMsg("request store is nil"))
	}
	if c.Sessions == nil {
		return nil, oidc.NewError(oidc.ErrInvalidConfiguration, oidc.WithOp(op), oidc.WithKind(oidc.ErrConfigViolation), oidc.WithMsg("session store is nil"))
	}
	if c.Sealer == nil {
		return nil, oidc.NewError(oidc.ErrInvalidConfiguration, oidc.WithOp(op), oidc.WithKind(oidc.ErrConfigViolation), oidc.WithMsg("sealer is nil"))
	}
	h := &Handler{
		providers:      c.Providers,
		requests:       c.Requests,
		sessions:       c.Sessions,
		sealer:         c.Sealer,
		responseType:   c.ResponseType,
		responseMode:   c.ResponseMode,
		requestTimeout: c.RequestTimeout,
		cookieName:     c.CookieName,
		cookiePath:     c.CookiePath,
		cookieDomain:   c.CookieDomain,
		secureCookies:  c.SecureCookies,
		successFn:      c.SuccessFn,
		errorFn:        c.ErrorFn,
		logger:         c.Logger,
	}
	if h.responseType == "" {
		h.responseType = oidc.ResponseTypeCode
	}
	if err := h.responseType.Validate(); err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op), oidc.WithKind(oidc.ErrConfigViolation), oidc.WithCode(oidc.ErrInvalidConfiguration))
	}
	if h.requestTimeout == 0 {
		h.requestTimeout = DefaultRequestTimeout
	}
	if h.requestTimeout < 0 {
		return nil, oidc.NewError(oidc.ErrInvalidConfiguration, oidc.WithOp(op), oidc.WithKind(oidc.ErrConfigViolation), oidc.WithMsg("request timeout is negative"))
	}
	if h.cookieName == "" {
		h.cookieName = DefaultCookieName
	}
	if h.cookiePath == "" {
		h.cookiePath = "/"
	}
	if h.successFn == nil {
		h.successFn = DefaultSuccessResponse
	}
	if h.errorFn == nil {
		h.errorFn = DefaultErrorResponse
	}
	if h.logger == nil {
		h.logger = hclog.NewNullLogger()
	}
	return h, nil
}
