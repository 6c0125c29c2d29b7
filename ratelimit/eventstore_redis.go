package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisEventPrefix string = "rlevent/"

// distinguishes events recorded at the same timestamp, which would
// otherwise collapse into one sorted-set member
var eventSeq atomic.Uint64

// RedisEventStore keeps rate-limit events in a sorted set per (guild,
// moderator), scored by timestamp. Lower read latency than the durable
// store; windows are trimmed inline and by key expiry, so PruneBefore is a
// no-op.
type RedisEventStore struct {
	Client *redis.Client
}

func NewRedisEventStore(redisURL string) (*RedisEventStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisEventStore{Client: rdb}, nil
}

func eventKey(guildID, moderatorID string) string {
	return redisEventPrefix + guildID + "/" + moderatorID
}

func eventMember(at time.Time, action string) string {
	return strconv.FormatInt(at.UnixNano(), 10) + "/" + strconv.FormatUint(eventSeq.Add(1), 10) + "/" + action
}

func (s *RedisEventStore) Record(ctx context.Context, guildID, moderatorID, action string, at time.Time) error {
	key := eventKey(guildID, moderatorID)
	member := eventMember(at, action)

	// add, trim the stale tail, and refresh expiry in one round-trip
	multi := s.Client.Pipeline()
	multi.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	multi.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(at.Add(-Window).UnixMilli(), 10))
	multi.Expire(ctx, key, Window*2)
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisEventStore) CountSince(ctx context.Context, guildID, moderatorID string, since time.Time) (int, error) {
	n, err := s.Client.ZCount(ctx, eventKey(guildID, moderatorID),
		strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count rate limit events: %w", err)
	}
	return int(n), nil
}

func (s *RedisEventStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// keys expire on their own
	return 0, nil
}
