package redis

import (
	"context"
	"crypto/tls"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCanvasCache struct {
	client redis.UniversalClient
}

func NewRedisCanvasCache(ctx context.Context, devMode bool, redis_endpoint string) (*RedisCanvasCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redis_endpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redis_endpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return &RedisCanvasCache{client: client}, nil
}

func (redisCache *RedisCanvasCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisCanvasCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Helper functions to generate Redis keys with hash tags for cluster compatibility
func buildPresenceKey(canvasId string) string {
	return "canvas:{" + canvasId + "}:presence"
}

func buildPresenceDataKey(canvasId string) string {
	return "canvas:{" + canvasId + "}:presence:data"
}

// Refreshed on every heartbeat; a canvas nobody touches drops out on its own.
const presenceTTL = 2 * time.Minute

// Split Index/Data Pattern
// 1. ZSet ("canvas:{id}:presence"): userId scored by last activity in ms.
//   - Range and count queries by score answer "who is active" without decoding records.
//
// 2. Hash ("canvas:{id}:presence:data"): userId -> JSON presence record.
func (redisCache *RedisCanvasCache) SetPresence(ctx context.Context, canvasId string, userId string, lastActive time.Time, data []byte) error {
	key := buildPresenceKey(canvasId)
	dataKey := buildPresenceDataKey(canvasId)

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(lastActive.UnixMilli()), Member: userId})
	pipe.HSet(ctx, dataKey, userId, data)
	pipe.Expire(ctx, key, presenceTTL)
	pipe.Expire(ctx, dataKey, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisCanvasCache) RemovePresence(ctx context.Context, canvasId string, userId string) error {
	key := buildPresenceKey(canvasId)
	dataKey := buildPresenceDataKey(canvasId)

	pipe := redisCache.client.Pipeline()
	pipe.ZRem(ctx, key, userId)
	pipe.HDel(ctx, dataKey, userId)
	_, err := pipe.Exec(ctx)
	return err
}

// GetPresence returns the records scored strictly after activeAfter. Reads never
// remove entries; stale members expire with the keys or leave explicitly.
func (redisCache *RedisCanvasCache) GetPresence(ctx context.Context, canvasId string, activeAfter time.Time) ([][]byte, error) {
	key := buildPresenceKey(canvasId)
	dataKey := buildPresenceDataKey(canvasId)
	cutoff := strconv.FormatInt(activeAfter.UnixMilli(), 10)

	ids, err := redisCache.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "(" + cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	dataMap, err := redisCache.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	records := make([][]byte, 0, len(ids))
	for _, item := range dataMap {
		if item == nil {
			continue
		}
		if s, ok := item.(string); ok {
			records = append(records, []byte(s))
		}
	}

	return records, nil
}

// ActiveCounts counts active members per canvas with one ZCOUNT each, pipelined.
func (redisCache *RedisCanvasCache) ActiveCounts(ctx context.Context, canvasIds []string, activeAfter time.Time) (map[string]int64, error) {
	counts := make(map[string]int64, len(canvasIds))
	if len(canvasIds) == 0 {
		return counts, nil
	}

	minScore := "(" + strconv.FormatInt(activeAfter.UnixMilli(), 10)
	pipe := redisCache.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(canvasIds))
	for i, canvasId := range canvasIds {
		cmds[i] = pipe.ZCount(ctx, buildPresenceKey(canvasId), minScore, "+inf")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, canvasId := range canvasIds {
		counts[canvasId] = cmds[i].Val()
	}
	return counts, nil
}

func (redisCache *RedisCanvasCache) ClearPresence(ctx context.Context, canvasId string) error {
	// Both keys share the hash tag, so they hash to the same slot
	return redisCache.client.Del(ctx, buildPresenceKey(canvasId), buildPresenceDataKey(canvasId)).Err()
}
