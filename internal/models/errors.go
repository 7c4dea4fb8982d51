package models

import "errors"

// Bid placement failure taxonomy. Callers classify with errors.Is; the
// wrapping message carries the detail (required minimum, threshold, ...).
var (
	// ErrAuctionNotFound means the auction ID is unknown.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrAuctionNotActive means the auction is not accepting bids: wrong
	// status, not yet started, or past its end time.
	ErrAuctionNotActive = errors.New("auction not active")

	// ErrBidderRejected means the bidder is barred from this product.
	ErrBidderRejected = errors.New("bidder rejected for this product")

	// ErrRatingTooLow means the bidder's positive-rating ratio is below
	// the configured minimum.
	ErrRatingTooLow = errors.New("bidder rating below required minimum")

	// ErrBidTooLow means the amount is below currentPrice + priceStep.
	ErrBidTooLow = errors.New("bid below minimum increment")

	// ErrConcurrentBidWon means the optimistic-concurrency guard failed at
	// commit: another bid was accepted between read and write. Distinct
	// from ErrBidTooLow so the caller knows a race, not a static
	// validation, occurred and can retry against the fresh price.
	ErrConcurrentBidWon = errors.New("concurrent bid won")
)
