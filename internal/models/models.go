package models

import (
	"database/sql"
	"time"
)

// Auction is the mutable aggregate root for one product's sale. Every write
// to the pricing/winner/timing fields goes through a conditioned update in
// the store; nothing else may touch them.
type Auction struct {
	ID        string `db:"id" json:"id"`
	ProductID string `db:"product_id" json:"product_id"`
	SellerID  string `db:"seller_id" json:"seller_id"`

	StartPrice   int64         `db:"start_price" json:"start_price"`
	PriceStep    int64         `db:"price_step" json:"price_step"`
	CurrentPrice int64         `db:"current_price" json:"current_price"`
	BuyNowPrice  sql.NullInt64 `db:"buy_now_price" json:"buy_now_price,omitempty"`

	CurrentHighestBidID    sql.NullString `db:"current_highest_bid_id" json:"current_highest_bid_id,omitempty"`
	CurrentHighestBidderID sql.NullString `db:"current_highest_bidder_id" json:"current_highest_bidder_id,omitempty"`
	BidCount               int            `db:"bid_count" json:"bid_count"`

	StartAt        time.Time    `db:"start_at" json:"start_at"`
	EndAt          time.Time    `db:"end_at" json:"end_at"`
	LastExtendedAt sql.NullTime `db:"last_extended_at" json:"last_extended_at,omitempty"`

	AutoExtendEnabled   bool `db:"auto_extend_enabled" json:"auto_extend_enabled"`
	AutoExtendWindowSec int  `db:"auto_extend_window_sec" json:"auto_extend_window_sec"`
	AutoExtendAmountSec int  `db:"auto_extend_amount_sec" json:"auto_extend_amount_sec"`
	ExtensionCount      int  `db:"extension_count" json:"extension_count"`
	MaxExtensions       int  `db:"max_extensions" json:"max_extensions"`

	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MinNextBid returns the lowest amount the next bid may carry.
func (a *Auction) MinNextBid() int64 {
	return a.CurrentPrice + a.PriceStep
}

// Bid is an immutable fact in the ledger. Rejection or withdrawal of a
// bidder never mutates or deletes bid rows; only the auction's winner
// pointer changes.
type Bid struct {
	ID        string    `db:"id" json:"id"`
	AuctionID string    `db:"auction_id" json:"auction_id"`
	BidderID  string    `db:"bidder_id" json:"bidder_id"`
	Amount    int64     `db:"amount" json:"amount"`
	IsAuto    bool      `db:"is_auto" json:"is_auto"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BidderRejection bars a (product, bidder) pair from bidding. Upserted, so
// concurrent rejections of the same pair are idempotent.
type BidderRejection struct {
	ProductID string    `db:"product_id" json:"product_id"`
	BidderID  string    `db:"bidder_id" json:"bidder_id"`
	Reason    string    `db:"reason" json:"reason"`
	Withdrawn bool      `db:"withdrawn" json:"withdrawn"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AuctionExtension is an audit entry for one applied deadline extension.
type AuctionExtension struct {
	ID               int64     `db:"id" json:"id"`
	AuctionID        string    `db:"auction_id" json:"auction_id"`
	ExtendedAt       time.Time `db:"extended_at" json:"extended_at"`
	OldEndAt         time.Time `db:"old_end_at" json:"old_end_at"`
	NewEndAt         time.Time `db:"new_end_at" json:"new_end_at"`
	TriggeredByBidID string    `db:"triggered_by_bid_id" json:"triggered_by_bid_id"`
}

// RatingSummary is the per-bidder aggregate maintained by the rating
// collaborator; this service only reads it.
type RatingSummary struct {
	BidderID      string    `db:"bidder_id" json:"bidder_id"`
	PositiveCount int       `db:"positive_count" json:"positive_count"`
	TotalCount    int       `db:"total_count" json:"total_count"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// PositiveRatio returns the share of positive ratings. Bidders with no
// ratings yet are treated as fully positive.
func (r *RatingSummary) PositiveRatio() float64 {
	if r.TotalCount == 0 {
		return 1.0
	}
	return float64(r.PositiveCount) / float64(r.TotalCount)
}

// Order is the handoff record materialized at finalization. The unique
// constraint on auction_id is what makes finalization idempotent.
type Order struct {
	ID         string    `db:"id" json:"id"`
	AuctionID  string    `db:"auction_id" json:"auction_id"`
	ProductID  string    `db:"product_id" json:"product_id"`
	BuyerID    string    `db:"buyer_id" json:"buyer_id"`
	SellerID   string    `db:"seller_id" json:"seller_id"`
	FinalPrice int64     `db:"final_price" json:"final_price"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Auction statuses
const (
	AuctionStatusScheduled = "SCHEDULED"
	AuctionStatusActive    = "ACTIVE"
	AuctionStatusEnded     = "ENDED"
	AuctionStatusCancelled = "CANCELLED"
)

// Order statuses
const (
	OrderStatusPending = "PENDING_PAYMENT"
)
