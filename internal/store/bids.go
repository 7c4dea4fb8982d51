package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"auction-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ApplyBid appends the bid and advances the auction in one transaction,
// returning the committed bid count. The auction update is conditioned on
// current_price still being below the bid amount, the status being ACTIVE,
// and the end time not having passed; if the condition fails the whole
// transaction rolls back and the reason is reported as ErrConcurrentBidWon
// or ErrAuctionNotActive. There is no path where the bid row lands without
// the matching auction update.
func (s *Store) ApplyBid(ctx context.Context, bid *models.Bid, now time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO bids (id, auction_id, bidder_id, amount, is_auto, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, query,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.IsAuto, bid.CreatedAt); err != nil {
		return 0, fmt.Errorf("failed to insert bid: %w", err)
	}

	var bidCount int
	err = tx.QueryRowxContext(ctx, `
		UPDATE auctions SET
			current_price = $1,
			current_highest_bid_id = $2,
			current_highest_bidder_id = $3,
			bid_count = bid_count + 1,
			updated_at = NOW()
		WHERE id = $4 AND status = $5 AND end_at > $6 AND current_price < $1
		RETURNING bid_count`,
		bid.Amount, bid.ID, bid.BidderID,
		bid.AuctionID, models.AuctionStatusActive, now).Scan(&bidCount)
	if err == sql.ErrNoRows {
		return 0, s.classifyBidConflict(ctx, tx, bid.AuctionID, now)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update auction: %w", err)
	}

	return bidCount, tx.Commit()
}

// classifyBidConflict distinguishes a lost race from an auction that closed
// between the precondition check and the write.
func (s *Store) classifyBidConflict(ctx context.Context, tx *sqlx.Tx, auctionID string, now time.Time) error {
	var auction models.Auction
	err := tx.GetContext(ctx, &auction, "SELECT * FROM auctions WHERE id = $1", auctionID)
	if err == sql.ErrNoRows {
		return models.ErrAuctionNotFound
	}
	if err != nil {
		return err
	}
	if auction.Status != models.AuctionStatusActive || !auction.EndAt.After(now) {
		return models.ErrAuctionNotActive
	}
	return fmt.Errorf("%w: current price is now %d", models.ErrConcurrentBidWon, auction.CurrentPrice)
}

// ExtendAuction pushes the deadline out, conditioned on the end time not
// having moved since it was read (CAS on end_at) and the extension cap not
// being reached. An audit row is written in the same transaction. Returns
// whether the extension was applied.
func (s *Store) ExtendAuction(ctx context.Context, auctionID string, oldEndAt, newEndAt time.Time, triggeredByBidID string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE auctions SET
			end_at = $1,
			last_extended_at = $2,
			extension_count = extension_count + 1,
			updated_at = NOW()
		WHERE id = $3 AND status = $4 AND end_at = $5 AND extension_count < max_extensions`,
		newEndAt, now, auctionID, models.AuctionStatusActive, oldEndAt)
	if err != nil {
		return false, fmt.Errorf("failed to extend auction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auction_extensions (auction_id, extended_at, old_end_at, new_end_at, triggered_by_bid_id)
		VALUES ($1, $2, $3, $4, $5)`,
		auctionID, now, oldEndAt, newEndAt, triggeredByBidID)
	if err != nil {
		return false, fmt.Errorf("failed to record extension: %w", err)
	}

	return true, tx.Commit()
}

// GetLatestBidWithin returns the most recent bid whose created_at falls in
// [from, to), or nil if none. Used by the scheduler's extension sweep.
func (s *Store) GetLatestBidWithin(ctx context.Context, auctionID string, from, to time.Time) (*models.Bid, error) {
	var bid models.Bid
	err := s.db.GetContext(ctx, &bid, `
		SELECT * FROM bids
		WHERE auction_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC LIMIT 1`,
		auctionID, from, to)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

// GetHighestEligibleBid returns the best bid for the auction whose bidder
// is not in excluded, or nil when no eligible bid remains. Ties on amount
// go to the earlier bid.
func (s *Store) GetHighestEligibleBid(ctx context.Context, auctionID string, excluded []string) (*models.Bid, error) {
	query := `
		SELECT * FROM bids
		WHERE auction_id = ? AND bidder_id NOT IN (?)
		ORDER BY amount DESC, created_at ASC LIMIT 1`
	query, args, err := sqlx.In(query, auctionID, excluded)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var bid models.Bid
	err = s.db.GetContext(ctx, &bid, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

// CountEligibleBids counts bids for the auction from bidders not in
// excluded. Reconciliation uses this to recount bid_count to valid bids.
func (s *Store) CountEligibleBids(ctx context.Context, auctionID string, excluded []string) (int, error) {
	query := "SELECT COUNT(*) FROM bids WHERE auction_id = ? AND bidder_id NOT IN (?)"
	query, args, err := sqlx.In(query, auctionID, excluded)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	var count int
	err = s.db.GetContext(ctx, &count, query, args...)
	return count, err
}

// ReassignWinner points the auction at a replacement bid after the current
// highest bidder was removed. Conditioned on the winner pointer still
// naming the removed bidder so a concurrent accepted bid is never
// clobbered. Returns whether a row changed.
func (s *Store) ReassignWinner(ctx context.Context, auctionID, removedBidderID string, bid *models.Bid, validBidCount int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET
			current_price = $1,
			current_highest_bid_id = $2,
			current_highest_bidder_id = $3,
			bid_count = $4,
			updated_at = NOW()
		WHERE id = $5 AND current_highest_bidder_id = $6`,
		bid.Amount, bid.ID, bid.BidderID, validBidCount,
		auctionID, removedBidderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResetAuction returns the auction to its pristine unbid state: price back
// to start_price, winner pointers cleared, bid_count zeroed. Same guard as
// ReassignWinner.
func (s *Store) ResetAuction(ctx context.Context, auctionID, removedBidderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET
			current_price = start_price,
			current_highest_bid_id = NULL,
			current_highest_bidder_id = NULL,
			bid_count = 0,
			updated_at = NOW()
		WHERE id = $1 AND current_highest_bidder_id = $2`,
		auctionID, removedBidderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpsertRejection marks a (product, bidder) pair as removed. The upsert
// makes repeated removals of the same pair idempotent. A rejection
// (withdrawn = FALSE) is the stronger record: once present it survives any
// later withdrawal of the same pair.
func (s *Store) UpsertRejection(ctx context.Context, r *models.BidderRejection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bidder_rejections (product_id, bidder_id, reason, withdrawn)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, bidder_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			withdrawn = bidder_rejections.withdrawn AND EXCLUDED.withdrawn`,
		r.ProductID, r.BidderID, r.Reason, r.Withdrawn)
	return err
}

// IsBidderRejected reports whether the pair is barred from bidding.
func (s *Store) IsBidderRejected(ctx context.Context, productID, bidderID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM bidder_rejections
			WHERE product_id = $1 AND bidder_id = $2 AND withdrawn = FALSE
		)`, productID, bidderID)
	return exists, err
}

// ListRemovedBidders returns every bidder whose bids no longer count for
// the product: rejected pairs and withdrawn ones alike. Reconciliation
// skips all of them when recomputing a winner.
func (s *Store) ListRemovedBidders(ctx context.Context, productID string) ([]string, error) {
	var bidders []string
	err := s.db.SelectContext(ctx, &bidders,
		"SELECT bidder_id FROM bidder_rejections WHERE product_id = $1",
		productID)
	return bidders, err
}

// GetRatingSummary retrieves the rating aggregate for a bidder. A bidder
// with no row yet has no ratings and is treated as fully positive.
func (s *Store) GetRatingSummary(ctx context.Context, bidderID string) (*models.RatingSummary, error) {
	var summary models.RatingSummary
	err := s.db.GetContext(ctx, &summary,
		"SELECT * FROM rating_summaries WHERE bidder_id = $1", bidderID)
	if err == sql.ErrNoRows {
		return &models.RatingSummary{BidderID: bidderID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}
