package cache

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type for the cache backends.
type Option func(*options)

// options is the set of available options for cache backends.
type options struct {
	withCapacity    int
	withEvictOldest bool
	withNowFunc     func() time.Time
	withLogger      hclog.Logger
	withSweepEvery  time.Duration
	withKeyPrefix   string
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

// WithCapacity sets the slot-table capacity of the memory backend.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.withCapacity = n
	}
}

// WithEvictOldest makes the memory backend overwrite the entry closest to
// expiry when all slots are in use, instead of failing with ErrFull.
func WithEvictOldest() Option {
	return func(o *options) {
		o.withEvictOldest = true
	}
}

// WithNow overrides the time source. Intended for tests.
func WithNow(nowFunc func() time.Time) Option {
	return func(o *options) {
		o.withNowFunc = nowFunc
	}
}

// WithLogger provides an optional logger for backends with background
// activity (the filesystem sweeper).
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.withLogger = l
		}
	}
}

// WithSweepEvery sets the interval between filesystem expiry sweeps.
func WithSweepEvery(d time.Duration) Option {
	return func(o *options) {
		o.withSweepEvery = d
	}
}

// WithKeyPrefix sets the key namespace used by the Redis backend.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.withKeyPrefix = prefix
	}
}
