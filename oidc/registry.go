package oidc

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Registry resolves authentication flows to providers. In its default static
// mode it holds the single provider built eagerly from the base config, so a
// bad configuration fails at startup rather than on the first login. With
// WithDiscovery it additionally builds providers lazily for any issuer a
// flow names, composing the base config (client credentials, timeouts, CA)
// with the discovered issuer.
type Registry struct {
	base      *Config
	discovery bool
	logger    hclog.Logger

	mu        sync.RWMutex
	providers map[string]*Provider
}

// NewRegistry creates a Registry from a base config and eagerly initializes
// the provider for the config's issuer.
//
// Supported options: WithDiscovery, WithLogger.
func NewRegistry(ctx context.Context, base *Config, opt ...Option) (*Registry, error) {
	const op = "oidc.NewRegistry"
	if base == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("base config is nil"))
	}
	opts := getRegistryOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = base.logger()
	}
	r := &Registry{
		base:      base,
		discovery: opts.withDiscovery,
		logger:    logger,
		providers: map[string]*Provider{},
	}
	p, err := NewProvider(ctx, base)
	if err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("unable to initialize the base provider"))
	}
	r.providers[NormalizeIssuer(base.Issuer)] = p
	return r, nil
}

// Primary returns the provider built from the base config.
func (r *Registry) Primary() *Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[NormalizeIssuer(r.base.Issuer)]
}

// Issuers returns the issuers of all currently registered providers.
func (r *Registry) Issuers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	issuers := make([]string, 0, len(r.providers))
	for iss := range r.providers {
		issuers = append(issuers, iss)
	}
	return issuers
}

// Add registers a provider built from the base config composed with the
// given override. It returns the new provider; registering an issuer twice
// replaces the earlier provider.
func (r *Registry) Add(ctx context.Context, override *Config) (*Provider, error) {
	const op = "Registry.Add"
	cfg := r.base.Merge(override)
	p, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	r.mu.Lock()
	r.providers[NormalizeIssuer(cfg.Issuer)] = p
	r.mu.Unlock()
	return p, nil
}

// Get returns the provider for an issuer. An empty issuer selects the
// primary provider. Unknown issuers fail with ErrNotFound in static mode; in
// discovery mode the provider is created on first use from the base config
// and the issuer's discovery document.
func (r *Registry) Get(ctx context.Context, issuer string) (*Provider, error) {
	const op = "Registry.Get"
	if issuer == "" {
		return r.Primary(), nil
	}
	key := NormalizeIssuer(issuer)
	r.mu.RLock()
	p, ok := r.providers[key]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !r.discovery {
		return nil, NewError(ErrNotFound, WithOp(op), WithKind(ErrProtocolViolation),
			WithMsg(fmt.Sprintf("no provider registered for issuer %q", issuer)))
	}
	r.logger.Debug("discovering provider", "issuer", issuer)
	return r.Add(ctx, &Config{Issuer: issuer})
}

// ResolveAccount resolves an account identifier of the form user@host to its
// issuer via WebFinger and returns that issuer's provider. Only available in
// discovery mode.
func (r *Registry) ResolveAccount(ctx context.Context, account string) (*Provider, error) {
	const op = "Registry.ResolveAccount"
	if !r.discovery {
		return nil, NewError(ErrInvalidConfiguration, WithOp(op), WithKind(ErrConfigViolation),
			WithMsg("account resolution requires discovery mode"))
	}
	client, err := r.base.KeyRefreshClient()
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	issuer, err := ResolveIssuerForAccount(ctx, client, account)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	return r.Get(ctx, issuer)
}

// registryOptions is the set of available options for Registry functions.
type registryOptions struct {
	withDiscovery bool
	withLogger    hclog.Logger
}

func getRegistryOpts(opt ...Option) registryOptions {
	opts := registryOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithDiscovery enables lazy creation of providers for issuers named by
// individual flows, instead of serving only statically registered issuers.
func WithDiscovery() Option {
	return func(o interface{}) {
		if o, ok := o.(*registryOptions); ok {
			o.withDiscovery = true
		}
	}
}
