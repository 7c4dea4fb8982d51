package store

import (
	"context"
	"database/sql"

	"auction-service/internal/models"
)

// CreateOrderOnce inserts the finalization order for an auction. The unique
// constraint on auction_id turns a scheduler retry into a no-op; the return
// value reports whether this call actually created the row.
func (s *Store) CreateOrderOnce(ctx context.Context, order *models.Order) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, auction_id, product_id, buyer_id, seller_id, final_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (auction_id) DO NOTHING`,
		order.ID, order.AuctionID, order.ProductID, order.BuyerID, order.SellerID,
		order.FinalPrice, order.Status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetOrderByAuctionID retrieves the order materialized for an auction, or
// nil if finalization has not created one.
func (s *Store) GetOrderByAuctionID(ctx context.Context, auctionID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE auction_id = $1", auctionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}
