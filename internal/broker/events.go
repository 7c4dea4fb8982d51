package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"auction-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishBidAccepted publishes BidAccepted event
func (ep *EventPublisher) PublishBidAccepted(ctx context.Context, event *models.BidAcceptedEvent) error {
	key := fmt.Sprintf("auction-%s", event.AuctionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAuctionExtended publishes AuctionExtended event
func (ep *EventPublisher) PublishAuctionExtended(ctx context.Context, event *models.AuctionExtendedEvent) error {
	key := fmt.Sprintf("auction-%s", event.AuctionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAuctionFinalized publishes AuctionFinalized event
func (ep *EventPublisher) PublishAuctionFinalized(ctx context.Context, event *models.AuctionFinalizedEvent) error {
	key := fmt.Sprintf("auction-%s", event.AuctionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishAuctionCancelled publishes AuctionCancelled event
func (ep *EventPublisher) PublishAuctionCancelled(ctx context.Context, event *models.AuctionCancelledEvent) error {
	key := fmt.Sprintf("auction-%s", event.AuctionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishBidderRejected publishes BidderRejected event
func (ep *EventPublisher) PublishBidderRejected(ctx context.Context, event *models.BidderRejectedEvent) error {
	key := fmt.Sprintf("product-%s", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishBidWithdrawn publishes BidWithdrawn event
func (ep *EventPublisher) PublishBidWithdrawn(ctx context.Context, event *models.BidWithdrawnEvent) error {
	key := fmt.Sprintf("product-%s", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes moderation events to registered handlers
type EventHandler struct {
	onBidderRejected func(context.Context, *models.BidderRejectedEvent) error
	onBidWithdrawn   func(context.Context, *models.BidWithdrawnEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnBidderRejected registers a handler for BidderRejected events
func (eh *EventHandler) OnBidderRejected(handler func(context.Context, *models.BidderRejectedEvent) error) {
	eh.onBidderRejected = handler
}

// OnBidWithdrawn registers a handler for BidWithdrawn events
func (eh *EventHandler) OnBidWithdrawn(handler func(context.Context, *models.BidWithdrawnEvent) error) {
	eh.onBidWithdrawn = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeBidderRejected:
		if eh.onBidderRejected != nil {
			var event models.BidderRejectedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BidderRejected event: %w", err)
			}
			return eh.onBidderRejected(ctx, &event)
		}

	case models.EventTypeBidWithdrawn:
		if eh.onBidWithdrawn != nil {
			var event models.BidWithdrawnEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BidWithdrawn event: %w", err)
			}
			return eh.onBidWithdrawn(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
