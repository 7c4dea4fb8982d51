package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"auction-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// CreateAuction inserts a new auction in SCHEDULED state. Pricing and
// timing validation is the caller's responsibility.
func (s *Store) CreateAuction(ctx context.Context, a *models.Auction) error {
	query := `
		INSERT INTO auctions (
			id, product_id, seller_id,
			start_price, price_step, current_price, buy_now_price,
			start_at, end_at,
			auto_extend_enabled, auto_extend_window_sec, auto_extend_amount_sec, max_extensions,
			status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		a.ID, a.ProductID, a.SellerID,
		a.StartPrice, a.PriceStep, a.CurrentPrice, a.BuyNowPrice,
		a.StartAt, a.EndAt,
		a.AutoExtendEnabled, a.AutoExtendWindowSec, a.AutoExtendAmountSec, a.MaxExtensions,
		a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// GetAuctionByID retrieves an auction by ID
func (s *Store) GetAuctionByID(ctx context.Context, id string) (*models.Auction, error) {
	var auction models.Auction
	err := s.db.GetContext(ctx, &auction, "SELECT * FROM auctions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, models.ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

// GetAuctionByProductID retrieves the auction for a product. Moderation
// actions are keyed by product, not auction.
func (s *Store) GetAuctionByProductID(ctx context.Context, productID string) (*models.Auction, error) {
	var auction models.Auction
	err := s.db.GetContext(ctx, &auction,
		"SELECT * FROM auctions WHERE product_id = $1 ORDER BY created_at DESC LIMIT 1", productID)
	if err == sql.ErrNoRows {
		return nil, models.ErrAuctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

// ListDueScheduled returns scheduled auctions whose start time has passed.
func (s *Store) ListDueScheduled(ctx context.Context, now time.Time) ([]models.Auction, error) {
	var auctions []models.Auction
	err := s.db.SelectContext(ctx, &auctions,
		"SELECT * FROM auctions WHERE status = $1 AND start_at <= $2 ORDER BY start_at",
		models.AuctionStatusScheduled, now)
	return auctions, err
}

// ListExpiredActive returns active auctions whose end time has passed.
func (s *Store) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	var auctions []models.Auction
	err := s.db.SelectContext(ctx, &auctions,
		"SELECT * FROM auctions WHERE status = $1 AND end_at <= $2 ORDER BY end_at",
		models.AuctionStatusActive, now)
	return auctions, err
}

// ListExtensionCandidates returns auto-extend auctions closing within the
// horizon that can still be extended.
func (s *Store) ListExtensionCandidates(ctx context.Context, now time.Time, horizon time.Duration) ([]models.Auction, error) {
	var auctions []models.Auction
	err := s.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions
		WHERE status = $1
		  AND auto_extend_enabled = TRUE
		  AND extension_count < max_extensions
		  AND end_at > $2 AND end_at <= $3
		ORDER BY end_at`,
		models.AuctionStatusActive, now, now.Add(horizon))
	return auctions, err
}

// ActivateAuction flips SCHEDULED -> ACTIVE. Conditioned on the current
// status so a repeated sweep is a no-op; returns whether a row changed.
func (s *Store) ActivateAuction(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND start_at <= $4`,
		models.AuctionStatusActive, id, models.AuctionStatusScheduled, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CloseAuction flips ACTIVE -> ENDED once the end time has passed.
func (s *Store) CloseAuction(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND end_at <= $4`,
		models.AuctionStatusEnded, id, models.AuctionStatusActive, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelAuction flips SCHEDULED|ACTIVE -> CANCELLED.
func (s *Store) CancelAuction(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)`,
		models.AuctionStatusCancelled, id,
		models.AuctionStatusScheduled, models.AuctionStatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
