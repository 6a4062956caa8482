package session

import (
	"log"
	"time"
)

// RedisOptions select the Redis mirror. An empty Host keeps records in
// memory.
type RedisOptions struct {
	Host     string
	Port     string
	Username string
	Password string
}

func NewStore(opts RedisOptions, ttl time.Duration) RecordStore {
	if opts.Host != "" {
		if opts.Port == "" {
			opts.Port = "6379"
		}

		store, err := NewRedisStore(opts, ttl)
		if err != nil {
			log.Printf("⚠️  Redis connection failed: %v", err)
			log.Println("💾 Falling back to in-memory session records")
			return NewMemoryStore(ttl)
		}
		log.Printf("💾 Using Redis session records: %s:%s", opts.Host, opts.Port)
		return store
	}

	log.Println("💾 Using in-memory session records")
	return NewMemoryStore(ttl)
}
