package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"delivery-engine/internal/pricing"

	"github.com/go-redis/redis/v8"
)

const (
	constantsHash = "price:constants"
	notifyDueZSet = "notify:drivers:due"
	lockKeyPrefix = "lock:"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetConstant reads a price constant from the backing hash.
func (c *Client) GetConstant(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.HGet(ctx, constantsHash, key).Result()
	if err == redis.Nil {
		return "", pricing.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read constant: %w", err)
	}
	return val, nil
}

// SetConstant writes a price constant to the backing hash.
func (c *Client) SetConstant(ctx context.Context, key, value string) error {
	if err := c.rdb.HSet(ctx, constantsHash, key, value).Err(); err != nil {
		return fmt.Errorf("failed to write constant: %w", err)
	}
	return nil
}

// ScheduleDriverNotify registers a deferred "notify drivers" event for
// an order, due at the given time.
func (c *Client) ScheduleDriverNotify(ctx context.Context, orderID int64, dueAt time.Time) error {
	err := c.rdb.ZAdd(ctx, notifyDueZSet, &redis.Z{
		Score:  float64(dueAt.Unix()),
		Member: strconv.FormatInt(orderID, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule driver notify: %w", err)
	}
	return nil
}

// PopDueDriverNotifies atomically removes and returns every order whose
// notify time has passed. Read and trim run in one MULTI/EXEC so an
// entry scored between the two commands cannot be removed unseen.
func (c *Client) PopDueDriverNotifies(ctx context.Context, now time.Time) ([]int64, error) {
	max := strconv.FormatInt(now.Unix(), 10)

	var rangeCmd *redis.StringSliceCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.ZRangeByScore(ctx, notifyDueZSet, &redis.ZRangeBy{
			Min: "-inf",
			Max: max,
		})
		pipe.ZRemRangeByScore(ctx, notifyDueZSet, "-inf", max)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pop due notifies: %w", err)
	}

	members := rangeCmd.Val()
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CancelDriverNotify drops a scheduled notify (cancelled order).
func (c *Client) CancelDriverNotify(ctx context.Context, orderID int64) error {
	return c.rdb.ZRem(ctx, notifyDueZSet, strconv.FormatInt(orderID, 10)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, lockKeyPrefix+lockKey, "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, lockKeyPrefix+lockKey).Err()
}
