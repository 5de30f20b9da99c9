package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/vault/sdk/helper/base62"

	"github.com/openidc/rp/cache"
)

const (
	// DefaultMaxAge is the absolute session lifetime: after this, the user
	// re-authenticates no matter how active they were.
	DefaultMaxAge = 8 * time.Hour

	// DefaultInactivityTimeout is the sliding window: a session untouched
	// for this long is gone. Every Load renews it.
	DefaultInactivityTimeout = 5 * time.Minute
)

// Store persists sessions through a cache backend. With server-side backends
// the client holds only the session id; with the client-held backend the
// whole sealed session travels with the client and Save returns a new sealed
// value each time.
type Store struct {
	cache      cache.Cache
	maxAge     time.Duration
	inactivity time.Duration
	nowFunc    func() time.Time
	logger     hclog.Logger
}

// NewStore creates a session store on the given cache backend.
//
// Supported options: WithMaxAge, WithInactivityTimeout, WithNow, WithLogger.
func NewStore(c cache.Cache, opt ...Option) (*Store, error) {
	const op = "session.NewStore"
	if c == nil {
		return nil, fmt.Errorf("%s: cache is nil", op)
	}
	opts := getOpts(opt...)
	if opts.withMaxAge < 0 || opts.withInactivityTimeout < 0 {
		return nil, fmt.Errorf("%s: timeouts must not be negative", op)
	}
	s := &Store{
		cache:      c,
		maxAge:     opts.withMaxAge,
		inactivity: opts.withInactivityTimeout,
		nowFunc:    opts.withNowFunc,
		logger:     opts.withLogger,
	}
	if s.maxAge == 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.inactivity == 0 {
		s.inactivity = DefaultInactivityTimeout
	}
	return s, nil
}

func (st *Store) now() time.Time {
	if st.nowFunc != nil {
		return st.nowFunc()
	}
	return time.Now()
}

// New creates an unsaved session for the authenticated subject. The absolute
// deadline starts now; nothing is written until Save.
func (st *Store) New(subject string) (*Session, error) {
	const op = "session.(Store).New"
	if subject == "" {
		return nil, fmt.Errorf("%s: subject is empty", op)
	}
	id, err := base62.Random(20)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate session id: %w", op, err)
	}
	now := st.now()
	return &Session{
		id:        "s_" + id,
		subject:   subject,
		createdAt: now,
		expiresAt: now.Add(st.maxAge),
		dirty:     true,
	}, nil
}

// ttlFor returns the write TTL for a session: the inactivity window, capped
// by the time left until the absolute deadline.
func (st *Store) ttlFor(s *Session) (time.Duration, error) {
	remaining := s.expiresAt.Sub(st.now())
	if remaining <= 0 {
		return 0, ErrNoSession
	}
	if remaining < st.inactivity {
		return remaining, nil
	}
	return st.inactivity, nil
}

// Save persists the session when it changed and returns the reference the
// client should hold. An unchanged session is not rewritten; its existing
// reference is returned as-is.
func (st *Store) Save(ctx context.Context, s *Session) (string, error) {
	const op = "session.(Store).Save"
	if s == nil {
		return "", fmt.Errorf("%s: session is nil", op)
	}
	if !s.dirty && s.ref != "" {
		return s.ref, nil
	}
	ttl, err := st.ttlFor(s)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	data, err := s.marshal()
	if err != nil {
		return "", fmt.Errorf("%s: unable to encode session: %w", op, err)
	}

	if ch, ok := st.cache.(*cache.ClientHeld); ok {
		sealed, err := ch.Seal(data, ttl)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		s.ref = sealed
		s.dirty = false
		return sealed, nil
	}

	if err := st.cache.Set(ctx, s.id, data, ttl); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.ref = s.id
	s.dirty = false
	st.logger.Debug("session saved", "id", s.id, "ttl", ttl)
	return s.id, nil
}

// Load returns the live session for a reference and renews its inactivity
// window. A session past its absolute deadline is treated as absent and
// removed. With client-held storage the window cannot be renewed in place;
// it is renewed by the sealed value the next Save returns.
func (st *Store) Load(ctx context.Context, ref string) (*Session, error) {
	const op = "session.(Store).Load"
	if ref == "" {
		return nil, fmt.Errorf("%s: reference is empty", op)
	}
	data, err := st.cache.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, cache.ErrNoEntry) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s, err := unmarshalSession(data)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to decode session: %w", op, err)
	}
	s.ref = ref

	ttl, err := st.ttlFor(s)
	if err != nil {
		// past the absolute deadline: remove the entry and report absent
		_ = st.cache.Delete(ctx, ref)
		return nil, ErrNoSession
	}
	// sliding inactivity window: touch the entry with a fresh TTL. A no-op
	// for client-held storage.
	if _, ok := st.cache.(*cache.ClientHeld); !ok {
		if err := st.cache.Set(ctx, ref, data, ttl); err != nil {
			return nil, fmt.Errorf("%s: unable to renew session: %w", op, err)
		}
	}
	return s, nil
}

// Destroy removes the session for a reference. Destroying an absent session
// is not an error. For client-held storage there is nothing server-side to
// remove; the caller clears the client's copy.
func (st *Store) Destroy(ctx context.Context, ref string) error {
	const op = "session.(Store).Destroy"
	if ref == "" {
		return fmt.Errorf("%s: reference is empty", op)
	}
	if err := st.cache.Delete(ctx, ref); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Option defines a common functional options type for the session store.
type Option func(*options)

type options struct {
	withMaxAge            time.Duration
	withInactivityTimeout time.Duration
	withNowFunc           func() time.Time
	withLogger            hclog.Logger
}

func getDefaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithMaxAge sets the absolute session lifetime.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) {
		o.withMaxAge = d
	}
}

// WithInactivityTimeout sets the sliding inactivity window.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *options) {
		o.withInactivityTimeout = d
	}
}

// WithNow overrides the time source. Intended for tests.
func WithNow(nowFunc func() time.Time) Option {
	return func(o *options) {
		o.withNowFunc = nowFunc
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.withLogger = l
		}
	}
}
