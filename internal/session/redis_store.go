package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"rdpgate/internal/constants"
)

// RedisStore mirrors records under constants.RedisKeyPrefix with a TTL,
// so records of a crashed gateway age out on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(opts RedisOptions, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(opts.Host, opts.Port),
		Username:     opts.Username,
		Password:     opts.Password,
		DialTimeout:  constants.RedisOpTimeout,
		ReadTimeout:  constants.RedisOpTimeout,
		WriteTimeout: constants.RedisOpTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), constants.RedisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Host, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func recordKey(id string) string {
	return constants.RedisKeyPrefix + id
}

func (st *RedisStore) Save(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("⚠️  Encoding session record %s: %v", rec.ID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.RedisOpTimeout)
	defer cancel()
	if err := st.client.Set(ctx, recordKey(rec.ID), data, st.ttl).Err(); err != nil {
		log.Printf("⚠️  Saving session record %s: %v", rec.ID, err)
	}
}

func (st *RedisStore) Delete(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.RedisOpTimeout)
	defer cancel()
	if err := st.client.Del(ctx, recordKey(id)).Err(); err != nil {
		log.Printf("⚠️  Deleting session record %s: %v", id, err)
	}
}

// List returns every mirrored record of every gateway, oldest first.
// Keys that expire between SCAN and MGET are skipped.
func (st *RedisStore) List() ([]Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.RedisListTimeout)
	defer cancel()

	var keys []string
	iter := st.client.Scan(ctx, 0, constants.RedisKeyPrefix+"*", constants.RedisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	out := make([]Record, 0, len(keys))
	for start := 0; start < len(keys); start += constants.RedisScanCount {
		batch := keys[start:min(start+constants.RedisScanCount, len(keys))]
		values, err := st.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			var rec Record
			if err := json.Unmarshal([]byte(s), &rec); err != nil {
				log.Printf("⚠️  Skipping unreadable session record %s: %v", batch[i], err)
				continue
			}
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (st *RedisStore) Close() error {
	return st.client.Close()
}
