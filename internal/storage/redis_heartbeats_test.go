package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/continuity/internal/ha"
)

// fakeRedis implements the list and set commands in memory
type fakeRedis struct {
	mu      sync.Mutex
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	expires map[string]time.Duration
	failOn  string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Duration),
	}
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "lpush" {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	for _, v := range values {
		var s string
		switch t := v.(type) {
		case []byte:
			s = string(t)
		case string:
			s = t
		}
		f.lists[key] = append([]string{s}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if stop+1 < int64(len(l)) {
		l = l[start : stop+1]
	}
	f.lists[key] = l
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LIndex(_ context.Context, key string, index int64) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	if index >= int64(len(l)) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(l[index], nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]struct{})
	}
	for _, m := range members {
		f.sets[key][m.(string)] = struct{}{}
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func heartbeat(t *testing.T, node string, ts time.Time, status ha.NodeStatus) ha.Heartbeat {
	t.Helper()
	hb, err := ha.NewHeartbeat(node, ts, status, 1.5)
	require.NoError(t, err)
	return hb
}

func TestRedisHeartbeatStore_RecordAndLatest(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	store := NewRedisHeartbeatStore(rdb, RedisOptions{History: 2, TTL: time.Minute})
	base := ha.SimulationEpoch

	require.NoError(t, store.Record(ctx, heartbeat(t, "node-a", base, ha.StatusHealthy)))
	require.NoError(t, store.Record(ctx, heartbeat(t, "node-a", base.Add(time.Second), ha.StatusDegraded)))
	require.NoError(t, store.Record(ctx, heartbeat(t, "node-a", base.Add(2*time.Second), ha.StatusFailed)))

	hb, ok, err := store.Latest(ctx, "node-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ha.StatusFailed, hb.Status)
	assert.True(t, hb.Timestamp.Equal(base.Add(2*time.Second)))

	assert.Len(t, rdb.lists["continuity:hb:node:node-a"], 2)
	assert.Equal(t, time.Minute, rdb.expires["continuity:hb:node:node-a"])

	_, ok, err = store.Latest(ctx, "node-z")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisHeartbeatStore_LatestAll(t *testing.T) {
	ctx := context.Background()
	store := NewRedisHeartbeatStore(newFakeRedis(), RedisOptions{})
	base := ha.SimulationEpoch

	for _, node := range []string{"node-c", "node-a", "node-b"} {
		require.NoError(t, store.Record(ctx, heartbeat(t, node, base, ha.StatusHealthy)))
	}

	all, err := store.LatestAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "node-a", all[0].NodeID)
	assert.Equal(t, "node-c", all[2].NodeID)
}

func TestRedisHeartbeatStore_RecordError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failOn = "lpush"
	store := NewRedisHeartbeatStore(rdb, RedisOptions{})

	err := store.Record(context.Background(), heartbeat(t, "node-a", ha.SimulationEpoch, ha.StatusHealthy))
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedisHeartbeatStore_FeedsVerifierLookup(t *testing.T) {
	ctx := context.Background()
	store := NewRedisHeartbeatStore(newFakeRedis(), RedisOptions{})
	require.NoError(t, store.Record(ctx, heartbeat(t, "node-b", ha.SimulationEpoch, ha.StatusHealthy)))

	lookup := ha.StoreLookup(ctx, store)
	hb, ok := lookup("node-b")
	require.True(t, ok)
	assert.Equal(t, "node-b", hb.NodeID)
	_, ok = lookup("node-a")
	assert.False(t, ok)
}
