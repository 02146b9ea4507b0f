package idempotency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCmdable struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(m.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func stores() map[string]KV {
	return map[string]KV{
		"memory": NewMemoryStore(),
		"redis":  &RedisStore{store: newMockCmdable()},
	}
}

func TestGuard_Lifecycle(t *testing.T) {
	for name, kv := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := NewGuard(kv, time.Hour)
			key := g.Key("1", "POST", "/v1/vouchers", "abc")
			assert.Equal(t, "ledger:idempotency:1:POST:/v1/vouchers:abc", key)
			hash := Hash([]byte(`{"lines":[]}`))

			_, state, err := g.Begin(ctx, key, hash)
			require.NoError(t, err)
			assert.Equal(t, Started, state)

			_, state, err = g.Begin(ctx, key, hash)
			require.NoError(t, err)
			assert.Equal(t, InFlight, state)

			_, state, err = g.Begin(ctx, key, Hash([]byte("other")))
			require.NoError(t, err)
			assert.Equal(t, Mismatch, state)

			require.NoError(t, g.Finish(ctx, key, Record{RequestHash: hash, Status: 201, ContentType: "application/json", Body: []byte(`{"id":7}`)}))
			rec, state, err := g.Begin(ctx, key, hash)
			require.NoError(t, err)
			assert.Equal(t, Replay, state)
			assert.Equal(t, 201, rec.Status)
			assert.JSONEq(t, `{"id":7}`, string(rec.Body))
		})
	}
}

func TestGuard_AbortFreesKey(t *testing.T) {
	for name, kv := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := NewGuard(kv, 0)
			key := g.Key("k")
			_, state, err := g.Begin(ctx, key, "h")
			require.NoError(t, err)
			require.Equal(t, Started, state)
			require.NoError(t, g.Abort(ctx, key))
			_, state, err = g.Begin(ctx, key, "h")
			require.NoError(t, err)
			assert.Equal(t, Started, state)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }

	ok, err := m.SetNX(ctx, "k", "v", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
	ok, err = m.SetNX(ctx, "k", "v2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_PassesTTL(t *testing.T) {
	mock := newMockCmdable()
	g := NewGuard(&RedisStore{store: mock}, 0)
	_, _, err := g.Begin(context.Background(), "k", "h")
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, mock.ttls["k"])
	require.NoError(t, (&RedisStore{store: mock}).Ready(context.Background()))
}
