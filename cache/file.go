package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
)

// DefaultSweepEvery is the default interval between expiry sweeps of a File
// cache's directory.
const DefaultSweepEvery = 1 * time.Minute

// File is a Cache storing one file per key under a configured directory.
// Writes go to a temporary file which is renamed into place, so concurrent
// writers of the same key never produce a corrupt entry. A background sweep
// removes files past their expiry; readers never return expired entries even
// before the sweep gets to them.
type File struct {
	dir     string
	logger  hclog.Logger
	nowFunc func() time.Time

	done chan struct{}
}

// ensure that File implements the Cache interface
var _ Cache = (*File)(nil)

// fileEntry is the on-disk layout of a single cache entry.
type fileEntry struct {
	ExpireAt time.Time `json:"expire_at"`
	Value    []byte    `json:"value"`
}

// NewFile creates a File cache rooted at dir and starts its expiry sweeper.
// Close must be called to stop the sweeper.
//
// Supported options: WithSweepEvery, WithLogger, WithNow (testing).
func NewFile(dir string, opt ...Option) (*File, error) {
	const op = "cache.NewFile"
	if dir == "" {
		return nil, fmt.Errorf("%s: directory is empty", op)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create cache directory: %w", op, err)
	}
	opts := getOpts(opt...)
	sweepEvery := opts.withSweepEvery
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepEvery
	}
	f := &File{
		dir:     dir,
		logger:  opts.withLogger,
		nowFunc: opts.withNowFunc,
		done:    make(chan struct{}),
	}
	go f.sweep(sweepEvery)
	return f, nil
}

// Close stops the background sweeper. It does not remove any entries.
func (f *File) Close() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *File) now() time.Time {
	if f.nowFunc != nil {
		return f.nowFunc()
	}
	return time.Now()
}

// path maps a key to a filename. Keys are hashed so arbitrary key material
// never reaches the filesystem.
func (f *File) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:]))
}

// Get implements Cache.Get.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	e, err := f.read(f.path(key))
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Set implements Cache.Set using the write-then-rename discipline.
func (f *File) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "File.Set"
	if ttl <= 0 {
		return fmt.Errorf("%s: ttl not greater than zero", op)
	}
	raw, err := json.Marshal(fileEntry{ExpireAt: f.now().Add(ttl), Value: value})
	if err != nil {
		return fmt.Errorf("%s: unable to encode entry: %w", op, err)
	}
	suffix, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("%s: unable to generate temp name: %w", op, err)
	}
	target := f.path(key)
	tmp := target + ".tmp." + suffix
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%s: unable to write entry: %w", op, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%s: unable to publish entry: %w", op, err)
	}
	return nil
}

// Delete implements Cache.Delete.
func (f *File) Delete(_ context.Context, key string) error {
	const op = "File.Delete"
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Take implements Cache.Take. The entry is first claimed by renaming it to a
// unique name; rename is atomic, so only one of any number of concurrent
// Takes can win the claim.
func (f *File) Take(_ context.Context, key string) ([]byte, error) {
	const op = "File.Take"
	suffix, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate claim name: %w", op, err)
	}
	target := f.path(key)
	claimed := target + ".take." + suffix
	if err := os.Rename(target, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoEntry
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer os.Remove(claimed)
	e, err := f.read(claimed)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// read loads and decodes one entry file, enforcing expiry.
func (f *File) read(path string) (*fileEntry, error) {
	const op = "File.read"
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoEntry
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var e fileEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%s: corrupt entry: %w", op, err)
	}
	if !e.ExpireAt.After(f.now()) {
		return nil, ErrNoEntry
	}
	return &e, nil
}

// sweep periodically deletes files past their expiry, including abandoned
// temp files.
func (f *File) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			if err := f.sweepOnce(); err != nil {
				f.logger.Warn("cache sweep failed", "dir", f.dir, "error", err)
			}
		}
	}
}

func (f *File) sweepOnce() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	var errs *multierror.Error
	now := f.now()
	for _, d := range entries {
		if d.IsDir() {
			continue
		}
		path := filepath.Join(f.dir, d.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue // raced with a Take or Delete
		}
		var e fileEntry
		if err := json.Unmarshal(raw, &e); err != nil || !e.ExpireAt.After(now) {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}
