package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/refresh_snapshot.lua
var refreshSnapshotScript string

type Client struct {
	rdb            *redis.Client
	snapshotScript *redis.Script
}

// Snapshot is the cached read-side view of an auction. Display callers
// tolerate staleness up to the TTL.
type Snapshot struct {
	Price    int64
	BidCount int
	EndAt    time.Time
	Status   string
	BidderID string
}

// NewClient creates a new Redis client with the snapshot script loaded
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

	return &Client{
		rdb:            rdb,
		snapshotScript: redis.NewScript(refreshSnapshotScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func snapshotKey(auctionID string) string {
	return fmt.Sprintf("auction:snapshot:%s", auctionID)
}

// RefreshSnapshot writes the snapshot hash through the monotonic-price Lua
// guard. Returns false when the write was skipped as stale.
func (c *Client) RefreshSnapshot(ctx context.Context, auctionID string, snap *Snapshot, ttl time.Duration) (bool, error) {
	result, err := c.snapshotScript.Run(ctx, c.rdb, []string{snapshotKey(auctionID)},
		snap.Price, snap.BidCount, snap.EndAt.Unix(), snap.Status, snap.BidderID,
		int(ttl.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("refresh snapshot script failed: %w", err)
	}

	applied, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return applied == 1, nil
}

// GetSnapshot retrieves the cached snapshot, or nil on a cache miss.
func (c *Client) GetSnapshot(ctx context.Context, auctionID string) (*Snapshot, error) {
	result, err := c.rdb.HGetAll(ctx, snapshotKey(auctionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	price, _ := strconv.ParseInt(result["price"], 10, 64)
	bidCount, _ := strconv.Atoi(result["bid_count"])
	endUnix, _ := strconv.ParseInt(result["end_at"], 10, 64)

	return &Snapshot{
		Price:    price,
		BidCount: bidCount,
		EndAt:    time.Unix(endUnix, 0).UTC(),
		Status:   result["status"],
		BidderID: result["bidder_id"],
	}, nil
}

// DeleteSnapshot drops the cached snapshot. Used when a write may move the
// price downward (reconciliation) or change status, which the monotonic
// guard would refuse.
func (c *Client) DeleteSnapshot(ctx context.Context, auctionID string) error {
	return c.rdb.Del(ctx, snapshotKey(auctionID)).Err()
}

// GetRatingRatio retrieves the cached positive-rating ratio for a bidder.
// The second return reports a cache hit.
func (c *Client) GetRatingRatio(ctx context.Context, bidderID string) (float64, bool, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("rating:%s", bidderID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	ratio, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt rating cache entry: %w", err)
	}
	return ratio, true, nil
}

// SetRatingRatio caches a bidder's positive-rating ratio with TTL
func (c *Client) SetRatingRatio(ctx context.Context, bidderID string, ratio float64, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("rating:%s", bidderID),
		strconv.FormatFloat(ratio, 'f', -1, 64), ttl).Err()
}

// AcquireLock acquires a distributed lock. The scheduler takes one per
// tick so concurrent instances do not double-sweep.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
