// Package rediscache backs the quiz attempt cache with Redis, for
// deployments running more than one API replica. Failures degrade to cache
// misses; the database remains the source of truth.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grovekit/grove/internal/app/quiz"
)

const keyPrefix = "grove:attempt:"

// Cache is a Redis-backed quiz.AttemptCache.
type Cache struct {
	client  *redis.Client
	timeout time.Duration
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Cache{client: client, timeout: 500 * time.Millisecond}, nil
}

var _ quiz.AttemptCache = (*Cache)(nil)

func (c *Cache) key(attemptID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, attemptID)
}

func (c *Cache) Put(attemptID int64, ans quiz.CachedAnswer, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	payload, err := json.Marshal(ans)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(attemptID), payload, ttl).Err(); err != nil {
		log.Printf("[rediscache] set attempt %d: %v", attemptID, err)
	}
}

func (c *Cache) Get(attemptID int64) (quiz.CachedAnswer, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	payload, err := c.client.Get(ctx, c.key(attemptID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[rediscache] get attempt %d: %v", attemptID, err)
		}
		return quiz.CachedAnswer{}, false
	}
	var ans quiz.CachedAnswer
	if err := json.Unmarshal(payload, &ans); err != nil {
		return quiz.CachedAnswer{}, false
	}
	return ans, true
}

func (c *Cache) Delete(attemptID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.client.Del(ctx, c.key(attemptID)).Err(); err != nil {
		log.Printf("[rediscache] del attempt %d: %v", attemptID, err)
	}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.client.Close() }
