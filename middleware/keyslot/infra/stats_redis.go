package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"keyslot-gateway/middleware/keyslot/domain"

	"github.com/redis/go-redis/v9"
)

type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal / por slot.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackSlots bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackSlots(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackSlots = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "keyslot:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.SlotEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := string(ev.Kind)
	if field == "" {
		return nil
	}

	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if taskType := strings.TrimSpace(ev.TaskType); taskType != "" {
		taskKey := s.prefix + ":task_type"
		pipe.HIncrBy(ctx, taskKey, taskType+":"+field, 1)
	}

	if s.trackSlots && ev.SlotNumber > 0 {
		slotKey := s.prefix + ":slot:" + strconv.Itoa(ev.SlotNumber)
		pipe.HIncrBy(ctx, slotKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, slotKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
