// Package storage holds shared heartbeat storage backed by Redis
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FairForge/continuity/internal/ha"
)

const defaultKeyPrefix = "continuity:hb"

// redisAPI is the subset of *redis.Client the store uses
type redisAPI interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LIndex(ctx context.Context, key string, index int64) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisOptions configures the heartbeat store
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	History  int           // heartbeats kept per node
	TTL      time.Duration // expiry of a node's history after its last heartbeat
	Prefix   string
}

// RedisHeartbeatStore keeps the most recent heartbeats of every node in a
// Redis list, newest first, so several monitors can share observations.
type RedisHeartbeatStore struct {
	client  redisAPI
	history int64
	ttl     time.Duration
	prefix  string
}

var _ ha.HeartbeatStore = (*RedisHeartbeatStore)(nil)

// NewRedisClient connects to Redis and checks the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// NewRedisHeartbeatStore wraps client
func NewRedisHeartbeatStore(client redisAPI, opts RedisOptions) *RedisHeartbeatStore {
	history := opts.History
	if history <= 0 {
		history = 16
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisHeartbeatStore{client: client, history: int64(history), ttl: opts.TTL, prefix: prefix}
}

func (s *RedisHeartbeatStore) nodeKey(nodeID string) string {
	return s.prefix + ":node:" + nodeID
}

func (s *RedisHeartbeatStore) indexKey() string {
	return s.prefix + ":nodes"
}

// Record pushes hb onto the node's list and trims it to the history size
func (s *RedisHeartbeatStore) Record(ctx context.Context, hb ha.Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	key := s.nodeKey(hb.NodeID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("record heartbeat %s: %w", hb.NodeID, err)
	}
	if err := s.client.LTrim(ctx, key, 0, s.history-1).Err(); err != nil {
		return fmt.Errorf("trim heartbeats %s: %w", hb.NodeID, err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire heartbeats %s: %w", hb.NodeID, err)
		}
	}
	if err := s.client.SAdd(ctx, s.indexKey(), hb.NodeID).Err(); err != nil {
		return fmt.Errorf("index node %s: %w", hb.NodeID, err)
	}
	return nil
}

// Latest returns the newest heartbeat of nodeID
func (s *RedisHeartbeatStore) Latest(ctx context.Context, nodeID string) (ha.Heartbeat, bool, error) {
	raw, err := s.client.LIndex(ctx, s.nodeKey(nodeID), 0).Result()
	if errors.Is(err, redis.Nil) {
		return ha.Heartbeat{}, false, nil
	}
	if err != nil {
		return ha.Heartbeat{}, false, fmt.Errorf("latest heartbeat %s: %w", nodeID, err)
	}
	var hb ha.Heartbeat
	if err := json.Unmarshal([]byte(raw), &hb); err != nil {
		return ha.Heartbeat{}, false, fmt.Errorf("decode heartbeat %s: %w", nodeID, err)
	}
	return hb, true, nil
}

// LatestAll returns the newest heartbeat of every known node, sorted by node id.
// Nodes whose history expired are skipped.
func (s *RedisHeartbeatStore) LatestAll(ctx context.Context) ([]ha.Heartbeat, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	sort.Strings(ids)

	out := make([]ha.Heartbeat, 0, len(ids))
	for _, id := range ids {
		hb, ok, err := s.Latest(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, hb)
		}
	}
	return out, nil
}
