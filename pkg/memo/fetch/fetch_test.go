package fetch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"

	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/api"
)

const doc = `{"zone_id":1122,"name":"Anabaseios","timeline":{"phases":[{"name":"P0","checkpoints":[]}]}}`

// counter is a Fetcher serving a fixed table and counting calls.
type counter struct {
	docs  map[uint32]*duty.Config
	err   error
	calls atomic.Int32
}

func (c *counter) Fetch(_ context.Context, zoneID uint32) (*duty.Config, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.docs[zoneID], nil
}

func sample(t *testing.T) *duty.Config {
	t.Helper()
	cfg, err := duty.Decode([]byte(doc))
	assert.NilError(t, err)
	return cfg
}

type sourceFunc func(ctx context.Context, zoneID uint32) ([]byte, error)

func (f sourceFunc) FetchDutyConfig(ctx context.Context, zoneID uint32) ([]byte, error) {
	return f(ctx, zoneID)
}

func TestAPI(t *testing.T) {
	ctx := context.Background()
	f := NewAPI(sourceFunc(func(_ context.Context, zoneID uint32) ([]byte, error) {
		switch zoneID {
		case 1122:
			return []byte(doc), nil
		case 1:
			return []byte(`{"name":"no zone"}`), nil
		case 2:
			return []byte(`{"name":`), nil
		case 3:
			return nil, eris.New("connection refused")
		}
		return nil, eris.Wrap(api.ErrNotFound, "nowhere")
	}))

	cfg, err := f.Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Equal(t, "Anabaseios", cfg.Name)

	cfg, err = f.Fetch(ctx, 1)
	assert.NilError(t, err)
	assert.Equal(t, uint32(1), cfg.ZoneID)

	_, err = f.Fetch(ctx, 2)
	assert.ErrorContains(t, err, "zone 2")

	_, err = f.Fetch(ctx, 3)
	assert.ErrorContains(t, err, "connection refused")

	cfg, err = f.Fetch(ctx, 99)
	assert.NilError(t, err)
	assert.Assert(t, cfg == nil)
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "1122.json"), []byte(doc), 0o600))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "5.json"), []byte("not json"), 0o600))

	ctx := context.Background()
	f := Dir(dir)

	cfg, err := f.Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Equal(t, uint32(1122), cfg.ZoneID)

	cfg, err = f.Fetch(ctx, 777)
	assert.NilError(t, err)
	assert.Assert(t, cfg == nil)

	_, err = f.Fetch(ctx, 5)
	assert.Assert(t, err != nil)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	cfg := sample(t)

	broken := &counter{err: eris.New("down")}
	empty := &counter{}
	full := &counter{docs: map[uint32]*duty.Config{1122: cfg}}

	got, err := Chain{broken, empty, full}.Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Assert(t, got == cfg)

	got, err = Chain{empty, full}.Fetch(ctx, 7)
	assert.NilError(t, err)
	assert.Assert(t, got == nil)

	_, err = Chain{empty, broken}.Fetch(ctx, 7)
	assert.ErrorContains(t, err, "down")

	got, err = Chain{}.Fetch(ctx, 7)
	assert.NilError(t, err)
	assert.Assert(t, got == nil)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	inner := &counter{docs: map[uint32]*duty.Config{1122: sample(t)}}
	f := NewCached(inner, 1<<20, time.Minute)

	for range 3 {
		cfg, err := f.Fetch(ctx, 1122)
		assert.NilError(t, err)
		assert.Equal(t, "Anabaseios", cfg.Name)
	}
	assert.Equal(t, int32(1), inner.calls.Load())

	for range 3 {
		cfg, err := f.Fetch(ctx, 9)
		assert.NilError(t, err)
		assert.Assert(t, cfg == nil)
	}
	assert.Equal(t, int32(2), inner.calls.Load(), "untracked zones are cached too")

	f.Invalidate(1122)
	_, err := f.Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	inner := &counter{err: eris.New("down")}
	f := NewCached(inner, 1<<20, time.Minute)

	_, err := f.Fetch(ctx, 1)
	assert.ErrorContains(t, err, "down")
	_, err = f.Fetch(ctx, 1)
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, int32(2), inner.calls.Load())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:     s.Addr(),
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	s, client := newRedis(t)
	inner := &counter{docs: map[uint32]*duty.Config{1122: sample(t)}}
	f := NewRedis(inner, client, time.Minute, zerolog.Nop())

	cfg, err := f.Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Equal(t, "Anabaseios", cfg.Name)

	stored, err := s.Get(RedisKey(1122))
	assert.NilError(t, err)
	assert.Assert(t, len(stored) > 0)
	assert.Equal(t, time.Minute, s.TTL(RedisKey(1122)))

	cfg, err = f.Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Equal(t, "Anabaseios", cfg.Name)
	assert.Equal(t, int32(1), inner.calls.Load())

	cfg, err = f.Fetch(ctx, 5)
	assert.NilError(t, err)
	assert.Assert(t, cfg == nil)
	marker, err := s.Get(RedisKey(5))
	assert.NilError(t, err)
	assert.Equal(t, "-", marker)

	_, err = f.Fetch(ctx, 5)
	assert.NilError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestRedisSharedBetweenProcesses(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)

	first := &counter{docs: map[uint32]*duty.Config{1122: sample(t)}}
	second := &counter{}

	_, err := NewRedis(first, client, time.Minute, zerolog.Nop()).Fetch(ctx, 1122)
	assert.NilError(t, err)

	cfg, err := NewRedis(second, client, time.Minute, zerolog.Nop()).Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Equal(t, "Anabaseios", cfg.Name)
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestRedisCorruptEntryRefetches(t *testing.T) {
	ctx := context.Background()
	s, client := newRedis(t)
	assert.NilError(t, s.Set(RedisKey(1122), "{broken"))

	inner := &counter{docs: map[uint32]*duty.Config{1122: sample(t)}}
	cfg, err := NewRedis(inner, client, time.Minute, zerolog.Nop()).Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Equal(t, "Anabaseios", cfg.Name)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRedisUnavailableFallsThrough(t *testing.T) {
	ctx := context.Background()
	s, client := newRedis(t)
	s.Close()

	inner := &counter{docs: map[uint32]*duty.Config{1122: sample(t)}}
	cfg, err := NewRedis(inner, client, time.Minute, zerolog.Nop()).Fetch(ctx, 1122)
	assert.NilError(t, err)
	assert.Equal(t, "Anabaseios", cfg.Name)
}
