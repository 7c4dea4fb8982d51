package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconciliationStore is the storage surface winner reconciliation needs.
type ReconciliationStore interface {
	GetAuctionByProductID(ctx context.Context, productID string) (*models.Auction, error)
	UpsertRejection(ctx context.Context, r *models.BidderRejection) error
	ListRemovedBidders(ctx context.Context, productID string) ([]string, error)
	GetHighestEligibleBid(ctx context.Context, auctionID string, excluded []string) (*models.Bid, error)
	CountEligibleBids(ctx context.Context, auctionID string, excluded []string) (int, error)
	ReassignWinner(ctx context.Context, auctionID, removedBidderID string, bid *models.Bid, validBidCount int) (bool, error)
	ResetAuction(ctx context.Context, auctionID, removedBidderID string) (bool, error)
}

// ReconciliationPublisher publishes the moderation outcome events.
type ReconciliationPublisher interface {
	PublishBidderRejected(ctx context.Context, event *models.BidderRejectedEvent) error
	PublishBidWithdrawn(ctx context.Context, event *models.BidWithdrawnEvent) error
}

// ReconciliationService recomputes the current winner when a bidder is
// retroactively rejected or withdraws. Bid rows are never mutated or
// deleted; only the auction's winner pointer, price, and bid count move.
type ReconciliationService struct {
	store     ReconciliationStore
	cache     SnapshotCache
	publisher ReconciliationPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	store ReconciliationStore,
	cache SnapshotCache,
	publisher ReconciliationPublisher,
) *ReconciliationService {
	return &ReconciliationService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// RejectBidder permanently bars the bidder from the product and, when the
// bidder currently holds the highest bid, moves the auction to the best
// remaining eligible bid.
func (rs *ReconciliationService) RejectBidder(ctx context.Context, productID, bidderID, reason string) error {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.RejectBidder")
	defer span.End()

	rejection := &models.BidderRejection{
		ProductID: productID,
		BidderID:  bidderID,
		Reason:    reason,
		Withdrawn: false,
	}
	if err := rs.store.UpsertRejection(ctx, rejection); err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}

	if err := rs.reconcile(ctx, productID, bidderID); err != nil {
		return err
	}

	event := &models.BidderRejectedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBidderRejected,
			Timestamp: rs.now(),
		},
		ProductID: productID,
		BidderID:  bidderID,
		Reason:    reason,
	}
	if err := rs.publisher.PublishBidderRejected(ctx, event); err != nil {
		rs.logger.Error("Failed to publish BidderRejected event", zap.Error(err))
	}

	return nil
}

// WithdrawBid removes the bidder's bids from consideration without barring
// future bids on the product.
func (rs *ReconciliationService) WithdrawBid(ctx context.Context, productID, bidderID, reason string) error {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.WithdrawBid")
	defer span.End()

	withdrawal := &models.BidderRejection{
		ProductID: productID,
		BidderID:  bidderID,
		Reason:    reason,
		Withdrawn: true,
	}
	if err := rs.store.UpsertRejection(ctx, withdrawal); err != nil {
		return fmt.Errorf("failed to record withdrawal: %w", err)
	}

	if err := rs.reconcile(ctx, productID, bidderID); err != nil {
		return err
	}

	event := &models.BidWithdrawnEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBidWithdrawn,
			Timestamp: rs.now(),
		},
		ProductID: productID,
		BidderID:  bidderID,
		Reason:    reason,
	}
	if err := rs.publisher.PublishBidWithdrawn(ctx, event); err != nil {
		rs.logger.Error("Failed to publish BidWithdrawn event", zap.Error(err))
	}

	return nil
}

// reconcile moves the auction off the removed bidder. When the bidder is
// not the current highest, the auction is untouched. The winner updates
// are conditioned on the pointer still naming the removed bidder, so a
// concurrently accepted bid always wins over the reconciliation write.
func (rs *ReconciliationService) reconcile(ctx context.Context, productID, bidderID string) error {
	auction, err := rs.store.GetAuctionByProductID(ctx, productID)
	if err != nil {
		if errors.Is(err, models.ErrAuctionNotFound) {
			// The record alone still bars future bids on the product.
			rs.logger.Info("No auction for product, recorded removal only",
				zap.String("product_id", productID),
				zap.String("bidder_id", bidderID))
			return nil
		}
		return err
	}

	if !auction.CurrentHighestBidderID.Valid || auction.CurrentHighestBidderID.String != bidderID {
		return nil
	}

	removed, err := rs.store.ListRemovedBidders(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to list removed bidders: %w", err)
	}
	excluded := append(removed, bidderID)

	best, err := rs.store.GetHighestEligibleBid(ctx, auction.ID, excluded)
	if err != nil {
		return fmt.Errorf("failed to find replacement bid: %w", err)
	}

	if best != nil {
		validCount, err := rs.store.CountEligibleBids(ctx, auction.ID, excluded)
		if err != nil {
			return fmt.Errorf("failed to count valid bids: %w", err)
		}

		changed, err := rs.store.ReassignWinner(ctx, auction.ID, bidderID, best, validCount)
		if err != nil {
			return fmt.Errorf("failed to reassign winner: %w", err)
		}
		if changed {
			util.WinnerReassignedTotal.Inc()
			rs.logger.Info("Winner reassigned",
				zap.String("auction_id", auction.ID),
				zap.String("removed_bidder_id", bidderID),
				zap.String("new_bidder_id", best.BidderID),
				zap.Int64("new_price", best.Amount))
		}
	} else {
		changed, err := rs.store.ResetAuction(ctx, auction.ID, bidderID)
		if err != nil {
			return fmt.Errorf("failed to reset auction: %w", err)
		}
		if changed {
			util.AuctionsResetTotal.Inc()
			rs.logger.Info("Auction reset to unbid state",
				zap.String("auction_id", auction.ID),
				zap.String("removed_bidder_id", bidderID))
		}
	}

	// The price may have moved down; the monotonic cache guard would
	// refuse the write, so drop the key instead.
	if err := rs.cache.DeleteSnapshot(ctx, auction.ID); err != nil {
		rs.logger.Error("Failed to drop snapshot",
			zap.String("auction_id", auction.ID),
			zap.Error(err))
	}

	return nil
}
