package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openidc/rp/cache"
	"github.com/openidc/rp/seal"
)

// countingCache wraps a Cache and counts writes, so tests can observe
// whether a Save or Load actually touched the backend.
type countingCache struct {
	cache.Cache
	mu   sync.Mutex
	sets int
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.Cache.Set(ctx, key, value, ttl)
}

func (c *countingCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func newMemoryStore(t *testing.T, opt ...Option) (*Store, *countingCache) {
	t.Helper()
	mem, err := cache.NewMemory()
	require.NoError(t, err)
	counting := &countingCache{Cache: mem}
	st, err := NewStore(counting, opt...)
	require.NoError(t, err)
	return st, counting
}

func Test_NewStore(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	_, err := NewStore(nil)
	assert.Error(err)

	mem, err := cache.NewMemory()
	require.NoError(err)
	st, err := NewStore(mem)
	require.NoError(err)
	assert.Equal(DefaultMaxAge, st.maxAge)
	assert.Equal(DefaultInactivityTimeout, st.inactivity)

	_, err = NewStore(mem, WithMaxAge(-1))
	assert.Error(err)
}

func TestStore_SaveAndLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	st, _ := newMemoryStore(t)
	s, err := st.New("alice@example.com")
	require.NoError(err)
	require.NoError(s.Set(KeyClaims, map[string]interface{}{"sub": "alice@example.com", "role": "admin"}))
	require.NoError(s.Set(KeyIDToken, "eyJ.raw.token"))

	ref, err := st.Save(ctx, s)
	require.NoError(err)
	assert.Equal(s.ID(), ref)

	got, err := st.Load(ctx, ref)
	require.NoError(err)
	assert.Equal("alice@example.com", got.Subject())
	assert.Equal(s.ID(), got.ID())

	claims, ok, err := got.Claims()
	require.NoError(err)
	require.True(ok)
	assert.Equal("admin", claims["role"])

	var idToken string
	ok, err = got.Get(KeyIDToken, &idToken)
	require.NoError(err)
	require.True(ok)
	assert.Equal("eyJ.raw.token", idToken)
}

func TestStore_SaveUnchangedIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	st, counting := newMemoryStore(t)
	s, err := st.New("alice@example.com")
	require.NoError(err)
	require.NoError(s.Set(KeyClaims, map[string]interface{}{"sub": "alice@example.com"}))

	ref, err := st.Save(ctx, s)
	require.NoError(err)
	writes := counting.setCount()

	// unchanged: same ref back, no new write
	again, err := st.Save(ctx, s)
	require.NoError(err)
	assert.Equal(ref, again)
	assert.Equal(writes, counting.setCount())

	// changed: written again
	require.NoError(s.Set("extra", "value"))
	_, err = st.Save(ctx, s)
	require.NoError(err)
	assert.Equal(writes+1, counting.setCount())
}

func TestStore_LoadRenewsInactivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	st, counting := newMemoryStore(t)
	s, err := st.New("alice@example.com")
	require.NoError(err)
	ref, err := st.Save(ctx, s)
	require.NoError(err)
	writes := counting.setCount()

	_, err = st.Load(ctx, ref)
	require.NoError(err)
	// every load re-writes the entry with a fresh TTL
	assert.Equal(writes+1, counting.setCount())
}

func TestStore_AbsoluteExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	st, _ := newMemoryStore(t, WithMaxAge(time.Hour), WithNow(clock))

	s, err := st.New("alice@example.com")
	require.NoError(err)
	ref, err := st.Save(ctx, s)
	require.NoError(err)

	// activity cannot extend the session past the absolute deadline
	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	_, err = st.Load(ctx, ref)
	assert.ErrorIs(err, ErrNoSession)

	// saving an expired session fails too
	s.dirty = true
	_, err = st.Save(ctx, s)
	assert.ErrorIs(err, ErrNoSession)
}

func TestStore_Destroy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	st, _ := newMemoryStore(t)
	s, err := st.New("alice@example.com")
	require.NoError(err)
	ref, err := st.Save(ctx, s)
	require.NoError(err)

	require.NoError(st.Destroy(ctx, ref))
	_, err = st.Load(ctx, ref)
	assert.ErrorIs(err, ErrNoSession)

	// destroying twice is fine
	assert.NoError(st.Destroy(ctx, ref))
}

func TestStore_UnknownRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert := assert.New(t)

	st, _ := newMemoryStore(t)
	_, err := st.Load(ctx, "s_never-existed")
	assert.ErrorIs(err, ErrNoSession)

	_, err = st.Load(ctx, "")
	assert.Error(err)
}

func TestStore_ClientHeld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	sealer, err := seal.New("test-session-secret")
	require.NoError(err)
	ch, err := cache.NewClientHeld(sealer)
	require.NoError(err)
	st, err := NewStore(ch)
	require.NoError(err)

	s, err := st.New("alice@example.com")
	require.NoError(err)
	require.NoError(s.Set(KeyClaims, map[string]interface{}{"sub": "alice@example.com"}))

	ref, err := st.Save(ctx, s)
	require.NoError(err)
	// the reference is the sealed session itself, not an id
	assert.NotEqual(s.ID(), ref)
	assert.NotContains(ref, "alice@example.com")

	got, err := st.Load(ctx, ref)
	require.NoError(err)
	assert.Equal("alice@example.com", got.Subject())

	// unchanged sessions reuse the sealed value; changed ones are re-sealed
	same, err := st.Save(ctx, got)
	require.NoError(err)
	assert.Equal(ref, same)
	require.NoError(got.Set("extra", "value"))
	resealed, err := st.Save(ctx, got)
	require.NoError(err)
	assert.NotEqual(ref, resealed)

	// a tampered blob is just an absent session
	tampered := []byte(ref)
	tampered[len(tampered)/2] ^= 0x01
	_, err = st.Load(ctx, string(tampered))
	assert.ErrorIs(err, ErrNoSession)
}

func TestSession_Entries(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	st, _ := newMemoryStore(t)
	s, err := st.New("alice@example.com")
	require.NoError(err)

	var missing string
	ok, err := s.Get("nope", &missing)
	require.NoError(err)
	assert.False(ok)

	require.NoError(s.Set("k", "v"))
	assert.ElementsMatch([]string{"k"}, s.Keys())
	s.Delete("k")
	assert.Empty(s.Keys())

	err = s.Set("", "v")
	assert.Error(err)
}
