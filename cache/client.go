package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openidc/rp/seal"
)

// ClientHeld is a Cache with no server-side storage: the "entry" is a sealed
// value handed to the client and presented back on later requests. Keys
// passed to Get and Take are those sealed values, produced by Seal. Set and
// Delete are no-ops, since there is nothing on the server to write or remove;
// "deleting" client-held state means no longer accepting the value, which
// expiry takes care of.
type ClientHeld struct {
	sealer  *seal.Sealer
	nowFunc func() time.Time
}

// ensure that ClientHeld implements the Cache interface
var _ Cache = (*ClientHeld)(nil)

// clientEntry is the plaintext layout inside a sealed client-held value.
type clientEntry struct {
	ExpireAt time.Time `json:"expire_at"`
	Value    []byte    `json:"value"`
}

// NewClientHeld creates a ClientHeld cache using the given sealer.
//
// Supported options: WithNow (testing).
func NewClientHeld(sealer *seal.Sealer, opt ...Option) (*ClientHeld, error) {
	const op = "cache.NewClientHeld"
	if sealer == nil {
		return nil, fmt.Errorf("%s: sealer is nil", op)
	}
	opts := getOpts(opt...)
	return &ClientHeld{sealer: sealer, nowFunc: opts.withNowFunc}, nil
}

func (c *ClientHeld) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}

// Seal produces the client-held value for the given payload and ttl. The
// result is what a caller hands to the client (typically in a cookie) and
// later presents to Get.
func (c *ClientHeld) Seal(value []byte, ttl time.Duration) (string, error) {
	const op = "ClientHeld.Seal"
	if ttl <= 0 {
		return "", fmt.Errorf("%s: ttl not greater than zero", op)
	}
	raw, err := json.Marshal(clientEntry{ExpireAt: c.now().Add(ttl), Value: value})
	if err != nil {
		return "", fmt.Errorf("%s: unable to encode entry: %w", op, err)
	}
	sealed, err := c.sealer.Encrypt(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return sealed, nil
}

// Get decrypts and validates a client-supplied value. Tampered, unparseable
// and expired values are all reported as ErrNoEntry; the client learns
// nothing about which check failed.
func (c *ClientHeld) Get(_ context.Context, sealed string) ([]byte, error) {
	raw, err := c.sealer.Decrypt(sealed)
	if err != nil {
		return nil, ErrNoEntry
	}
	var e clientEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, ErrNoEntry
	}
	if !e.ExpireAt.After(c.now()) {
		return nil, ErrNoEntry
	}
	return e.Value, nil
}

// Set implements Cache.Set as a no-op: the canonical copy lives with the
// client and is produced by Seal.
func (c *ClientHeld) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

// Delete implements Cache.Delete as a no-op.
func (c *ClientHeld) Delete(_ context.Context, _ string) error {
	return nil
}

// Take returns ErrUnsupported. There is no server-side copy to consume, so
// this backend cannot guarantee that two Takes of the same value do not both
// succeed; callers needing consume-once semantics must use another backend.
func (c *ClientHeld) Take(_ context.Context, _ string) ([]byte, error) {
	const op = "cache.(ClientHeld).Take"
	return nil, fmt.Errorf("%s: client-held values cannot be consumed: %w", op, ErrUnsupported)
}
