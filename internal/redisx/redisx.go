package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Dedup of applied change events: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Last-known order status for the agent API: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return r
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}
