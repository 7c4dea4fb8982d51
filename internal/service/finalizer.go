package service

import (
	"context"
	"fmt"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FinalizerStore is the storage surface finalization needs.
type FinalizerStore interface {
	GetOrderByAuctionID(ctx context.Context, auctionID string) (*models.Order, error)
	CreateOrderOnce(ctx context.Context, order *models.Order) (bool, error)
}

// FinalizationPublisher publishes the finalization handoff event.
type FinalizationPublisher interface {
	PublishAuctionFinalized(ctx context.Context, event *models.AuctionFinalizedEvent) error
}

// Finalizer hands a closed, won auction off to order creation exactly
// once. The orders table's unique auction_id constraint is the dedup
// authority; a scheduler retry finds the existing row and does nothing.
type Finalizer struct {
	store     FinalizerStore
	publisher FinalizationPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewFinalizer creates a new finalizer
func NewFinalizer(store FinalizerStore, publisher FinalizationPublisher) *Finalizer {
	return &Finalizer{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// FinalizeAuction materializes the order for an ended auction. Auctions
// that never received a bid close without an order.
func (f *Finalizer) FinalizeAuction(ctx context.Context, auction *models.Auction) error {
	ctx, span := util.StartSpan(ctx, "Finalizer.FinalizeAuction")
	defer span.End()

	if !auction.CurrentHighestBidderID.Valid {
		f.logger.Info("Auction ended without bids",
			zap.String("auction_id", auction.ID))
		return nil
	}

	existing, err := f.store.GetOrderByAuctionID(ctx, auction.ID)
	if err != nil {
		return fmt.Errorf("failed to check for existing order: %w", err)
	}
	if existing != nil {
		return nil
	}

	order := &models.Order{
		ID:         uuid.New().String(),
		AuctionID:  auction.ID,
		ProductID:  auction.ProductID,
		BuyerID:    auction.CurrentHighestBidderID.String,
		SellerID:   auction.SellerID,
		FinalPrice: auction.CurrentPrice,
		Status:     models.OrderStatusPending,
	}

	created, err := f.store.CreateOrderOnce(ctx, order)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	if !created {
		// Lost a finalization race; the other writer owns the event.
		return nil
	}

	util.AuctionsFinalizedTotal.Inc()
	f.logger.Info("Auction finalized",
		zap.String("auction_id", auction.ID),
		zap.String("order_id", order.ID),
		zap.String("buyer_id", order.BuyerID),
		zap.Int64("final_price", order.FinalPrice))

	event := &models.AuctionFinalizedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAuctionFinalized,
			Timestamp: f.now(),
		},
		AuctionID:  auction.ID,
		OrderID:    order.ID,
		ProductID:  order.ProductID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		FinalPrice: order.FinalPrice,
	}
	if err := f.publisher.PublishAuctionFinalized(ctx, event); err != nil {
		f.logger.Error("Failed to publish AuctionFinalized event", zap.Error(err))
	}

	return nil
}
