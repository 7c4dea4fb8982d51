package worker

import (
	"context"
	"log"

	"auction-service/internal/broker"
	"auction-service/internal/models"
	"auction-service/internal/service"
)

// ModerationWorker consumes reject/withdraw commands from the moderation
// topic and runs winner reconciliation for each.
type ModerationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewModerationWorker creates a new moderation worker
func NewModerationWorker(
	consumer *broker.Consumer,
	reconciliation *service.ReconciliationService,
) *ModerationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnBidderRejected(func(ctx context.Context, event *models.BidderRejectedEvent) error {
		return reconciliation.RejectBidder(ctx, event.ProductID, event.BidderID, event.Reason)
	})
	eventHandler.OnBidWithdrawn(func(ctx context.Context, event *models.BidWithdrawnEvent) error {
		return reconciliation.WithdrawBid(ctx, event.ProductID, event.BidderID, event.Reason)
	})

	return &ModerationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *ModerationWorker) Start(ctx context.Context) error {
	log.Println("Starting moderation worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ModerationWorker) Stop() error {
	log.Println("Stopping moderation worker...")
	return w.consumer.Close()
}
