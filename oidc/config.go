package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/openidc/rp/internal/httputil"
	strutil "github.com/openidc/rp/internal/strutils"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultRequestTimeout bounds token-endpoint and user-info calls.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultKeyRefreshTimeout bounds discovery-document and key-set
	// fetches, which sit on the hot path of token validation and must give
	// up quickly.
	DefaultKeyRefreshTimeout = 5 * time.Second

	// DefaultIssuedAtLeeway is the slack window allowed between a token's
	// issued-at claim and the relying party's clock.
	DefaultIssuedAtLeeway = 10 * time.Minute
)

// Config represents the configuration for a provider used by a relying
// party. A Config is resolved once (composing any directory-level overrides
// via Merge) and never mutated afterwards; it is safe for concurrent reads by
// many in-flight requests.
type Config struct {
	// ClientID is the relying party ID
	ClientID string

	// ClientSecret is the relying party secret
	ClientSecret ClientSecret

	// Scopes is a list of additional oidc scopes to request of the provider.
	// The required "openid" scope is always requested and should not be part
	// of this optional list.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms. List of
	// currently supported algs: RS256, RS384, RS512, ES256, ES384, ES512,
	// PS256, PS384, PS512, EdDSA
	SupportedSigningAlgs []Alg

	// RedirectURL is the relying party's callback URL registered with the
	// provider.
	RedirectURL string

	// Audiences is an optional list of case-sensitive strings accepted when
	// verifying an id_token's "aud" claim. When empty, ClientID is required.
	Audiences []string

	// ProviderCA is an optional CA cert PEM to use when sending requests to
	// the provider.
	ProviderCA string

	// ProxyURL is an optional outbound proxy for all provider requests.
	ProxyURL string

	// SkipTLSVerify disables validation of the provider's TLS peer. Test
	// environments only.
	SkipTLSVerify bool

	// RequestTimeout bounds token exchange and user-info calls. Defaults to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// KeyRefreshTimeout bounds discovery and key-set fetches. Defaults to
	// DefaultKeyRefreshTimeout.
	KeyRefreshTimeout time.Duration

	// IssuedAtLeeway is the allowed clock skew for the iat claim. Defaults
	// to DefaultIssuedAtLeeway.
	IssuedAtLeeway time.Duration

	// Logger is an optional logger
	Logger hclog.Logger
}

// NewConfig composes a new config for a provider.
//
// Supported options: WithScopes, WithAudiences, WithProviderCA, WithProxyURL,
// WithSkipTLSVerify, WithTimeouts, WithIssuedAtLeeway, WithLogger.
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, supported []Alg, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		SupportedSigningAlgs: supported,
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		ProviderCA:           opts.withProviderCA,
		ProxyURL:             opts.withProxyURL,
		SkipTLSVerify:        opts.withSkipTLSVerify,
		RequestTimeout:       opts.withRequestTimeout,
		KeyRefreshTimeout:    opts.withKeyRefreshTimeout,
		IssuedAtLeeway:       opts.withIssuedAtLeeway,
		Logger:               opts.withLogger,
	}
	if err := c.Validate(); err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("invalid provider config"))
	}
	return c, nil
}

// Merge composes this config with directory-level overrides, returning a new
// Config. Zero-valued fields of the override keep the base value; neither
// input is mutated.
func (c *Config) Merge(override *Config) *Config {
	merged := *c
	if override == nil {
		return &merged
	}
	if override.ClientID != "" {
		merged.ClientID = override.ClientID
	}
	if override.ClientSecret != "" {
		merged.ClientSecret = override.ClientSecret
	}
	if len(override.Scopes) > 0 {
		merged.Scopes = override.Scopes
	}
	if override.Issuer != "" {
		merged.Issuer = override.Issuer
	}
	if len(override.SupportedSigningAlgs) > 0 {
		merged.SupportedSigningAlgs = override.SupportedSigningAlgs
	}
	if override.RedirectURL != "" {
		merged.RedirectURL = override.RedirectURL
	}
	if len(override.Audiences) > 0 {
		merged.Audiences = override.Audiences
	}
	if override.ProviderCA != "" {
		merged.ProviderCA = override.ProviderCA
	}
	if override.ProxyURL != "" {
		merged.ProxyURL = override.ProxyURL
	}
	if override.SkipTLSVerify {
		merged.SkipTLSVerify = true
	}
	if override.RequestTimeout != 0 {
		merged.RequestTimeout = override.RequestTimeout
	}
	if override.KeyRefreshTimeout != 0 {
		merged.KeyRefreshTimeout = override.KeyRefreshTimeout
	}
	if override.IssuedAtLeeway != 0 {
		merged.IssuedAtLeeway = override.IssuedAtLeeway
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	return &merged
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request. Validation failures are ErrConfigViolation kind:
// fatal, the module must not serve traffic with an inconsistent
// configuration.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(ErrConfigViolation), WithMsg("provider config is nil"))
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("client id is empty")))
	}
	if c.ClientSecret == "" {
		result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("client secret is empty")))
	}
	if c.RedirectURL == "" {
		result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("redirect URL is empty")))
	}
	switch {
	case c.Issuer == "":
		result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("issuer is empty")))
	default:
		u, err := url.Parse(c.Issuer)
		switch {
		case err != nil:
			result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("issuer is not a valid URL"), WithWrap(err)))
		case !strutil.StrListContains([]string{"https", "http"}, u.Scheme):
			result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("issuer scheme is not http or https")))
		case u.Fragment != "" || u.RawQuery != "":
			result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("issuer must not contain query or fragment components")))
		}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("supported algorithms is empty")))
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("unsupported algorithm "+string(a))))
		}
	}
	return result.ErrorOrNil()
}

// requestTimeout returns the configured long timeout or its default.
func (c *Config) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}

// keyRefreshTimeout returns the configured short timeout or its default.
func (c *Config) keyRefreshTimeout() time.Duration {
	if c.KeyRefreshTimeout > 0 {
		return c.KeyRefreshTimeout
	}
	return DefaultKeyRefreshTimeout
}

// issuedAtLeeway returns the configured iat slack window or its default.
func (c *Config) issuedAtLeeway() time.Duration {
	if c.IssuedAtLeeway > 0 {
		return c.IssuedAtLeeway
	}
	return DefaultIssuedAtLeeway
}

func (c *Config) logger() hclog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return hclog.NewNullLogger()
}

// HTTPClient creates the http client used for token exchange and user-info
// calls, bounded by the configured request timeout.
func (c *Config) HTTPClient() (*http.Client, error) {
	return c.newClient(c.requestTimeout())
}

// KeyRefreshClient creates the http client used for discovery and key-set
// fetches, bounded by the shorter key-refresh timeout.
func (c *Config) KeyRefreshClient() (*http.Client, error) {
	return c.newClient(c.keyRefreshTimeout())
}

func (c *Config) newClient(timeout time.Duration) (*http.Client, error) {
	const op = "Config.newClient"
	client, err := httputil.NewClient(httputil.ClientConfig{
		CAPem:         c.ProviderCA,
		ProxyURL:      c.ProxyURL,
		SkipTLSVerify: c.SkipTLSVerify,
		Timeout:       timeout,
	})
	if err != nil {
		switch err {
		case httputil.ErrInvalidCertificatePem:
			return nil, NewError(ErrInvalidCACert, WithOp(op), WithKind(ErrConfigViolation), WithMsg("could not parse CA PEM value"))
		default:
			return nil, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation), WithMsg("could not get an http client"), WithWrap(err))
		}
	}
	return client, nil
}

// ClientContext returns a new Context that carries the provided HTTP client.
// This method sets the same context key used by the
// github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the returned
// context works for those packages as well.
func ClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options for Config functions.
type configOptions struct {
	withScopes            []string
	withAudiences         []string
	withProviderCA        string
	withProxyURL          string
	withSkipTLSVerify     bool
	withRequestTimeout    time.Duration
	withKeyRefreshTimeout time.Duration
	withIssuedAtLeeway    time.Duration
	withLogger            hclog.Logger
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the provider's config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for the provider's config
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithProxyURL provides an optional outbound proxy for provider requests.
func WithProxyURL(proxyURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProxyURL = proxyURL
		}
	}
}

// WithSkipTLSVerify disables TLS peer validation for provider requests.
// Test environments only.
func WithSkipTLSVerify() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSkipTLSVerify = true
		}
	}
}

// WithTimeouts provides the two outbound timeouts: the longer request timeout
// for token/user-info exchange and the shorter timeout for key-set and
// discovery refresh.
func WithTimeouts(request, keyRefresh time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRequestTimeout = request
			o.withKeyRefreshTimeout = keyRefresh
		}
	}
}

// WithIssuedAtLeeway provides the allowed clock skew for a token's iat claim.
func WithIssuedAtLeeway(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIssuedAtLeeway = d
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withLogger = l
		case *registryOptions:
			v.withLogger = l
		}
	}
}
