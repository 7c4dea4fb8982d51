package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auction-service/config"
	"auction-service/internal/models"
	"auction-service/internal/redisclient"
	"auction-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BidStore is the storage surface the bid service needs. *store.Store
// satisfies it; tests substitute an in-memory implementation.
type BidStore interface {
	CreateAuction(ctx context.Context, a *models.Auction) error
	GetAuctionByID(ctx context.Context, id string) (*models.Auction, error)
	CancelAuction(ctx context.Context, id string) (bool, error)
	IsBidderRejected(ctx context.Context, productID, bidderID string) (bool, error)
	ApplyBid(ctx context.Context, bid *models.Bid, now time.Time) (int, error)
	ExtendAuction(ctx context.Context, auctionID string, oldEndAt, newEndAt time.Time, triggeredByBidID string, now time.Time) (bool, error)
}

// RatingSource supplies a bidder's positive-rating ratio.
type RatingSource interface {
	GetPositiveRatio(ctx context.Context, bidderID string) (float64, error)
}

// BidEventPublisher publishes the events the bid path emits. Publishing is
// fire-and-forget: it never participates in the atomic bid apply.
type BidEventPublisher interface {
	PublishBidAccepted(ctx context.Context, event *models.BidAcceptedEvent) error
	PublishAuctionExtended(ctx context.Context, event *models.AuctionExtendedEvent) error
	PublishAuctionCancelled(ctx context.Context, event *models.AuctionCancelledEvent) error
}

// SnapshotCache is the read-side cache for auction display snapshots.
type SnapshotCache interface {
	RefreshSnapshot(ctx context.Context, auctionID string, snap *redisclient.Snapshot, ttl time.Duration) (bool, error)
	GetSnapshot(ctx context.Context, auctionID string) (*redisclient.Snapshot, error)
	DeleteSnapshot(ctx context.Context, auctionID string) error
}

// BidService validates and atomically applies bids, and owns the auction
// creation and cancellation entry points.
type BidService struct {
	store     BidStore
	ratings   RatingSource
	cache     SnapshotCache
	publisher BidEventPublisher
	cfg       config.AuctionConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewBidService creates a new bid service
func NewBidService(
	store BidStore,
	ratings RatingSource,
	cache SnapshotCache,
	publisher BidEventPublisher,
	cfg config.AuctionConfig,
) *BidService {
	return &BidService{
		store:     store,
		ratings:   ratings,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// PlaceBidRequest represents a bid submission
type PlaceBidRequest struct {
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,min=1"`
	IsAuto    bool   `json:"is_auto"`
}

// PlaceBidResult is returned to the caller after an accepted bid
type PlaceBidResult struct {
	BidID                  string    `json:"bid_id"`
	CurrentPrice           int64     `json:"current_price"`
	CurrentHighestBidderID string    `json:"current_highest_bidder_id"`
	BidCount               int       `json:"bid_count"`
	EndAt                  time.Time `json:"end_at"`
	Extended               bool      `json:"extended"`
}

// PlaceBid validates the bid against the auction and applies it
// atomically. Preconditions are checked in a fixed order so each failure
// mode surfaces distinctly; the price condition is re-validated inside the
// store at commit time, and losing that race is reported as
// ErrConcurrentBidWon, never silently swallowed or applied stale.
func (s *BidService) PlaceBid(ctx context.Context, req *PlaceBidRequest) (*PlaceBidResult, error) {
	ctx, span := util.StartSpan(ctx, "BidService.PlaceBid")
	defer span.End()

	start := time.Now()
	defer func() {
		util.BidPlacementLatency.Observe(time.Since(start).Seconds())
	}()

	now := s.now()

	auction, err := s.store.GetAuctionByID(ctx, req.AuctionID)
	if err != nil {
		if errors.Is(err, models.ErrAuctionNotFound) {
			util.BidsRejectedTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	if auction.Status != models.AuctionStatusActive || !now.Before(auction.EndAt) {
		util.BidsRejectedTotal.WithLabelValues("not_active").Inc()
		return nil, fmt.Errorf("%w: status=%s", models.ErrAuctionNotActive, auction.Status)
	}

	rejected, err := s.store.IsBidderRejected(ctx, auction.ProductID, req.BidderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check rejection list: %w", err)
	}
	if rejected {
		util.BidsRejectedTotal.WithLabelValues("bidder_rejected").Inc()
		return nil, models.ErrBidderRejected
	}

	ratio, err := s.ratings.GetPositiveRatio(ctx, req.BidderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bidder rating: %w", err)
	}
	if ratio < s.cfg.MinRatingRatio {
		util.BidsRejectedTotal.WithLabelValues("rating_too_low").Inc()
		return nil, fmt.Errorf("%w: ratio %.2f, required %.2f",
			models.ErrRatingTooLow, ratio, s.cfg.MinRatingRatio)
	}

	if minBid := auction.MinNextBid(); req.Amount < minBid {
		util.BidsRejectedTotal.WithLabelValues("bid_too_low").Inc()
		return nil, fmt.Errorf("%w: minimum bid is %d", models.ErrBidTooLow, minBid)
	}

	bid := &models.Bid{
		ID:        uuid.New().String(),
		AuctionID: auction.ID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		IsAuto:    req.IsAuto,
		CreatedAt: now,
	}

	bidCount, err := s.store.ApplyBid(ctx, bid, now)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConcurrentBidWon):
			util.BidsRejectedTotal.WithLabelValues("concurrent_bid_won").Inc()
		case errors.Is(err, models.ErrAuctionNotActive):
			util.BidsRejectedTotal.WithLabelValues("not_active").Inc()
		default:
			util.BidsRejectedTotal.WithLabelValues("storage_error").Inc()
		}
		return nil, err
	}

	util.BidsAcceptedTotal.Inc()
	s.logger.Info("Bid accepted",
		zap.String("auction_id", auction.ID),
		zap.String("bid_id", bid.ID),
		zap.String("bidder_id", bid.BidderID),
		zap.Int64("amount", bid.Amount))

	// bidCount comes back from the conditioned UPDATE, so the response and
	// the cache carry the committed value even when other bids landed
	// between the precondition read and the apply.
	auction.CurrentPrice = bid.Amount
	auction.CurrentHighestBidID = sql.NullString{String: bid.ID, Valid: true}
	auction.CurrentHighestBidderID = sql.NullString{String: bid.BidderID, Valid: true}
	auction.BidCount = bidCount

	endAt, extended := s.maybeExtend(ctx, auction, bid, now)

	event := &models.BidAcceptedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBidAccepted,
			Timestamp: now,
		},
		AuctionID: auction.ID,
		BidID:     bid.ID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		BidCount:  auction.BidCount,
		EndAt:     endAt,
	}
	if err := s.publisher.PublishBidAccepted(ctx, event); err != nil {
		s.logger.Error("Failed to publish BidAccepted event", zap.Error(err))
	}

	s.refreshSnapshotAsync(auction.ID, &redisclient.Snapshot{
		Price:    auction.CurrentPrice,
		BidCount: auction.BidCount,
		EndAt:    endAt,
		Status:   auction.Status,
		BidderID: bid.BidderID,
	})

	return &PlaceBidResult{
		BidID:                  bid.ID,
		CurrentPrice:           auction.CurrentPrice,
		CurrentHighestBidderID: bid.BidderID,
		BidCount:               auction.BidCount,
		EndAt:                  endAt,
		Extended:               extended,
	}, nil
}

// maybeExtend runs the inline auto-extension check after an accepted bid.
// A refused CAS means the scheduler or a concurrent bid already moved the
// deadline; that is not an error.
func (s *BidService) maybeExtend(ctx context.Context, auction *models.Auction, bid *models.Bid, now time.Time) (time.Time, bool) {
	newEndAt, ok := EvaluateExtension(auction, now)
	if !ok {
		return auction.EndAt, false
	}

	applied, err := s.store.ExtendAuction(ctx, auction.ID, auction.EndAt, newEndAt, bid.ID, now)
	if err != nil {
		s.logger.Error("Failed to extend auction",
			zap.String("auction_id", auction.ID),
			zap.Error(err))
		return auction.EndAt, false
	}
	if !applied {
		return auction.EndAt, false
	}

	util.AuctionsExtendedTotal.WithLabelValues("inline").Inc()
	s.logger.Info("Auction extended",
		zap.String("auction_id", auction.ID),
		zap.Time("old_end_at", auction.EndAt),
		zap.Time("new_end_at", newEndAt))

	event := &models.AuctionExtendedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAuctionExtended,
			Timestamp: now,
		},
		AuctionID:        auction.ID,
		OldEndAt:         auction.EndAt,
		NewEndAt:         newEndAt,
		TriggeredByBidID: bid.ID,
	}
	if err := s.publisher.PublishAuctionExtended(ctx, event); err != nil {
		s.logger.Error("Failed to publish AuctionExtended event", zap.Error(err))
	}

	return newEndAt, true
}

// CreateAuctionRequest is the Listing collaborator's input
type CreateAuctionRequest struct {
	ProductID         string    `json:"product_id" binding:"required"`
	SellerID          string    `json:"seller_id" binding:"required"`
	StartPrice        int64     `json:"start_price" binding:"required,min=1"`
	PriceStep         int64     `json:"price_step" binding:"required,min=1"`
	BuyNowPrice       *int64    `json:"buy_now_price,omitempty"`
	StartAt           time.Time `json:"start_at" binding:"required"`
	EndAt             time.Time `json:"end_at" binding:"required"`
	AutoExtendEnabled bool      `json:"auto_extend_enabled"`
}

// CreateAuction creates an auction in SCHEDULED state. Auto-extend
// window/amount/cap come from service configuration and are stored on the
// auction so later config changes never affect running auctions.
func (s *BidService) CreateAuction(ctx context.Context, req *CreateAuctionRequest) (*models.Auction, error) {
	ctx, span := util.StartSpan(ctx, "BidService.CreateAuction")
	defer span.End()

	if req.PriceStep >= req.StartPrice {
		return nil, fmt.Errorf("price step %d must be below start price %d", req.PriceStep, req.StartPrice)
	}
	minDuration := time.Duration(s.cfg.MinDurationSeconds) * time.Second
	if req.EndAt.Sub(req.StartAt) < minDuration {
		return nil, fmt.Errorf("auction duration below minimum %s", minDuration)
	}

	auction := &models.Auction{
		ID:                  uuid.New().String(),
		ProductID:           req.ProductID,
		SellerID:            req.SellerID,
		StartPrice:          req.StartPrice,
		PriceStep:           req.PriceStep,
		CurrentPrice:        req.StartPrice,
		StartAt:             req.StartAt,
		EndAt:               req.EndAt,
		AutoExtendEnabled:   req.AutoExtendEnabled,
		AutoExtendWindowSec: s.cfg.AutoExtendWindowSec,
		AutoExtendAmountSec: s.cfg.AutoExtendAmountSec,
		MaxExtensions:       s.cfg.MaxExtensions,
		Status:              models.AuctionStatusScheduled,
	}
	if req.BuyNowPrice != nil {
		auction.BuyNowPrice = sql.NullInt64{Int64: *req.BuyNowPrice, Valid: true}
	}

	if err := s.store.CreateAuction(ctx, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}

	s.logger.Info("Auction created",
		zap.String("auction_id", auction.ID),
		zap.String("product_id", auction.ProductID),
		zap.Time("start_at", auction.StartAt),
		zap.Time("end_at", auction.EndAt))

	return auction, nil
}

// CancelAuction is the operator side exit: SCHEDULED|ACTIVE -> CANCELLED.
func (s *BidService) CancelAuction(ctx context.Context, auctionID, reason string) error {
	ctx, span := util.StartSpan(ctx, "BidService.CancelAuction")
	defer span.End()

	cancelled, err := s.store.CancelAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("failed to cancel auction: %w", err)
	}
	if !cancelled {
		// Either unknown or already terminal; look once to tell them apart.
		if _, err := s.store.GetAuctionByID(ctx, auctionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: already in a terminal state", models.ErrAuctionNotActive)
	}

	util.AuctionsCancelledTotal.Inc()
	s.logger.Info("Auction cancelled",
		zap.String("auction_id", auctionID),
		zap.String("reason", reason))

	if err := s.cache.DeleteSnapshot(ctx, auctionID); err != nil {
		s.logger.Error("Failed to drop snapshot", zap.String("auction_id", auctionID), zap.Error(err))
	}

	event := &models.AuctionCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAuctionCancelled,
			Timestamp: s.now(),
		},
		AuctionID: auctionID,
		Reason:    reason,
	}
	if err := s.publisher.PublishAuctionCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish AuctionCancelled event", zap.Error(err))
	}

	return nil
}

// AuctionSnapshot is the read-only display view
type AuctionSnapshot struct {
	AuctionID              string    `json:"auction_id"`
	CurrentPrice           int64     `json:"current_price"`
	BidCount               int       `json:"bid_count"`
	EndAt                  time.Time `json:"end_at"`
	Status                 string    `json:"status"`
	CurrentHighestBidderID string    `json:"current_highest_bidder_id,omitempty"`
}

// GetAuctionSnapshot serves the display view: cache hit when fresh, DB
// fallback with a write-back. Callers tolerate staleness up to the cache
// TTL and the scheduler tick.
func (s *BidService) GetAuctionSnapshot(ctx context.Context, auctionID string) (*AuctionSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "BidService.GetAuctionSnapshot")
	defer span.End()

	cached, err := s.cache.GetSnapshot(ctx, auctionID)
	if err != nil {
		s.logger.Warn("Snapshot cache read failed, falling back to DB",
			zap.String("auction_id", auctionID),
			zap.Error(err))
	}
	if cached != nil {
		return &AuctionSnapshot{
			AuctionID:              auctionID,
			CurrentPrice:           cached.Price,
			BidCount:               cached.BidCount,
			EndAt:                  cached.EndAt,
			Status:                 cached.Status,
			CurrentHighestBidderID: cached.BidderID,
		}, nil
	}

	auction, err := s.store.GetAuctionByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	s.refreshSnapshotAsync(auction.ID, &redisclient.Snapshot{
		Price:    auction.CurrentPrice,
		BidCount: auction.BidCount,
		EndAt:    auction.EndAt,
		Status:   auction.Status,
		BidderID: auction.CurrentHighestBidderID.String,
	})

	return &AuctionSnapshot{
		AuctionID:              auction.ID,
		CurrentPrice:           auction.CurrentPrice,
		BidCount:               auction.BidCount,
		EndAt:                  auction.EndAt,
		Status:                 auction.Status,
		CurrentHighestBidderID: auction.CurrentHighestBidderID.String,
	}, nil
}

func (s *BidService) refreshSnapshotAsync(auctionID string, snap *redisclient.Snapshot) {
	ttl := time.Duration(s.cfg.SnapshotTTLSeconds) * time.Second
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.cache.RefreshSnapshot(ctx, auctionID, snap, ttl); err != nil {
			s.logger.Error("Failed to refresh snapshot",
				zap.String("auction_id", auctionID),
				zap.Error(err))
		}
	}()
}
