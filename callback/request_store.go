package callback

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openidc/rp/cache"
	"github.com/openidc/rp/oidc"
)

// RequestStore persists in-flight authentication requests between the
// redirect to the provider and the provider's response. Implementations must
// be concurrently safe, since they are used within concurrent http.Handlers.
type RequestStore interface {
	// Store persists a pending request keyed by its state value, bounded
	// by ttl.
	Store(ctx context.Context, req *oidc.Request, ttl time.Duration) error

	// Take returns the pending request for a state value and removes it in
	// the same step. Two concurrent Takes of the same state must not both
	// succeed. An absent or expired state returns oidc.ErrNotFound or
	// oidc.ErrExpiredRequest respectively.
	Take(ctx context.Context, state string) (*oidc.Request, error)
}

// CacheStore implements RequestStore over a cache.Cache. The consume-once
// guarantee comes from the cache's atomic Take.
type CacheStore struct {
	cache cache.Cache
}

var _ RequestStore = (*CacheStore)(nil)

// NewCacheStore creates a RequestStore backed by the given cache. The
// client-held backend is rejected: it has no server-side copy to consume, so
// it cannot provide the replay prevention Take is for.
func NewCacheStore(c cache.Cache) (*CacheStore, error) {
	const op = "callback.NewCacheStore"
	if c == nil {
		return nil, oidc.NewError(oidc.ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrParameterViolation), oidc.WithMsg("cache is nil"))
	}
	if _, ok := c.(*cache.ClientHeld); ok {
		return nil, oidc.NewError(oidc.ErrInvalidConfiguration, oidc.WithOp(op), oidc.WithKind(oidc.ErrConfigViolation),
			oidc.WithMsg("client-held cache cannot store pending requests: consume-once is not enforceable"))
	}
	return &CacheStore{cache: c}, nil
}

// Store persists the request keyed by its state value.
func (cs *CacheStore) Store(ctx context.Context, req *oidc.Request, ttl time.Duration) error {
	const op = "callback.(CacheStore).Store"
	if req == nil {
		return oidc.NewError(oidc.ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrParameterViolation), oidc.WithMsg("request is nil"))
	}
	data, err := json.Marshal(req)
	if err != nil {
		return oidc.NewError(oidc.ErrCodeUnknown, oidc.WithOp(op), oidc.WithKind(oidc.ErrInternal), oidc.WithMsg("unable to encode request"), oidc.WithWrap(err))
	}
	if err := cs.cache.Set(ctx, req.State(), data, ttl); err != nil {
		return oidc.NewError(oidc.ErrCacheFailure, oidc.WithOp(op), oidc.WithKind(oidc.ErrCacheViolation), oidc.WithMsg("unable to store request"), oidc.WithWrap(err))
	}
	return nil
}

// Take consumes the pending request for a state value.
func (cs *CacheStore) Take(ctx context.Context, state string) (*oidc.Request, error) {
	const op = "callback.(CacheStore).Take"
	if state == "" {
		return nil, oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.ErrParameterViolation), oidc.WithMsg("state is empty"))
	}
	data, err := cs.cache.Take(ctx, state)
	if err != nil {
		if errors.Is(err, cache.ErrNoEntry) {
			return nil, oidc.NewError(oidc.ErrNotFound, oidc.WithOp(op), oidc.WithKind(oidc.ErrProtocolViolation), oidc.WithMsg("no pending request for state"))
		}
		return nil, oidc.NewError(oidc.ErrCacheFailure, oidc.WithOp(op), oidc.WithKind(oidc.ErrCacheViolation), oidc.WithMsg("unable to read request"), oidc.WithWrap(err))
	}
	var req oidc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, oidc.NewError(oidc.ErrCodeUnknown, oidc.WithOp(op), oidc.WithKind(oidc.ErrInternal), oidc.WithMsg("unable to decode request"), oidc.WithWrap(err))
	}
	if req.IsExpired() {
		return nil, oidc.NewError(oidc.ErrExpiredRequest, oidc.WithOp(op), oidc.WithKind(oidc.ErrProtocolViolation), oidc.WithMsg("authentication request is expired"))
	}
	return &req, nil
}
