package models

import "time"

// Event types
const (
	EventTypeBidAccepted      = "BID_ACCEPTED"
	EventTypeAuctionExtended  = "AUCTION_EXTENDED"
	EventTypeAuctionFinalized = "AUCTION_FINALIZED"
	EventTypeAuctionCancelled = "AUCTION_CANCELLED"
	EventTypeBidderRejected   = "BIDDER_REJECTED"
	EventTypeBidWithdrawn     = "BID_WITHDRAWN"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BidAcceptedEvent published when a bid is accepted
type BidAcceptedEvent struct {
	BaseEvent
	AuctionID string    `json:"auction_id"`
	BidID     string    `json:"bid_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	BidCount  int       `json:"bid_count"`
	EndAt     time.Time `json:"end_at"`
}

// AuctionExtendedEvent published when an auction deadline is pushed out
type AuctionExtendedEvent struct {
	BaseEvent
	AuctionID        string    `json:"auction_id"`
	OldEndAt         time.Time `json:"old_end_at"`
	NewEndAt         time.Time `json:"new_end_at"`
	TriggeredByBidID string    `json:"triggered_by_bid_id"`
}

// AuctionFinalizedEvent published once per won auction on closure; the
// order collaborator deduplicates by auction_id.
type AuctionFinalizedEvent struct {
	BaseEvent
	AuctionID  string `json:"auction_id"`
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	BuyerID    string `json:"buyer_id"`
	SellerID   string `json:"seller_id"`
	FinalPrice int64  `json:"final_price"`
}

// AuctionCancelledEvent published on operator cancellation
type AuctionCancelledEvent struct {
	BaseEvent
	AuctionID string `json:"auction_id"`
	Reason    string `json:"reason"`
}

// BidderRejectedEvent consumed from the moderation topic (and re-published
// after reconciliation completes)
type BidderRejectedEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	BidderID  string `json:"bidder_id"`
	Reason    string `json:"reason"`
}

// BidWithdrawnEvent consumed from the moderation topic
type BidWithdrawnEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	BidderID  string `json:"bidder_id"`
	Reason    string `json:"reason"`
}
