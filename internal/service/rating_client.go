package service

import (
	"context"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/redisclient"
	"auction-service/internal/util"

	"go.uber.org/zap"
)

const ratingCacheTTL = 5 * time.Minute

// RatingStore is the storage surface behind the rating lookups.
type RatingStore interface {
	GetRatingSummary(ctx context.Context, bidderID string) (*models.RatingSummary, error)
}

// RatingClient reads bidder rating ratios for the eligibility check: Redis
// fast path, database fallback, write-back on a miss.
type RatingClient struct {
	store  RatingStore
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewRatingClient creates a new rating client
func NewRatingClient(store RatingStore, redis *redisclient.Client) *RatingClient {
	return &RatingClient{
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// GetPositiveRatio returns the bidder's current positive-rating ratio in
// [0, 1]. Bidders without any ratings yet count as fully positive.
func (rc *RatingClient) GetPositiveRatio(ctx context.Context, bidderID string) (float64, error) {
	ctx, span := util.StartSpan(ctx, "RatingClient.GetPositiveRatio")
	defer span.End()

	if rc.redis != nil {
		ratio, hit, err := rc.redis.GetRatingRatio(ctx, bidderID)
		if err != nil {
			rc.logger.Warn("Rating cache read failed, falling back to DB",
				zap.String("bidder_id", bidderID),
				zap.Error(err))
		} else if hit {
			return ratio, nil
		}
	}

	summary, err := rc.store.GetRatingSummary(ctx, bidderID)
	if err != nil {
		return 0, err
	}
	ratio := summary.PositiveRatio()

	if rc.redis != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := rc.redis.SetRatingRatio(ctx, bidderID, ratio, ratingCacheTTL); err != nil {
				rc.logger.Error("Failed to cache rating ratio",
					zap.String("bidder_id", bidderID),
					zap.Error(err))
			}
		}()
	}

	return ratio, nil
}
