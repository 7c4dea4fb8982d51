package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/redisclient"
)

// memStore is an in-memory stand-in for the Postgres store. It applies
// the same conditioned-write semantics under a mutex, which is what makes
// the concurrency tests meaningful.
type memStore struct {
	mu         sync.Mutex
	auctions   map[string]*models.Auction
	bids       []models.Bid
	rejections map[string]models.BidderRejection
	ratings    map[string]*models.RatingSummary
	orders     map[string]*models.Order
	extensions []models.AuctionExtension

	// beforeReassign, when set, runs inside ReassignWinner's critical
	// section before the conditioned check. Used to interleave a
	// competing write.
	beforeReassign func()

	// hideOrderOnRead makes GetOrderByAuctionID miss, simulating an
	// order inserted between the existence check and the insert.
	hideOrderOnRead bool
}

func newMemStore() *memStore {
	return &memStore{
		auctions:   make(map[string]*models.Auction),
		rejections: make(map[string]models.BidderRejection),
		ratings:    make(map[string]*models.RatingSummary),
		orders:     make(map[string]*models.Order),
	}
}

func rejectionKey(productID, bidderID string) string {
	return productID + "|" + bidderID
}

func (m *memStore) CreateAuction(ctx context.Context, a *models.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	copied := *a
	m.auctions[a.ID] = &copied
	return nil
}

func (m *memStore) GetAuctionByID(ctx context.Context, id string) (*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil, models.ErrAuctionNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memStore) GetAuctionByProductID(ctx context.Context, productID string) (*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.auctions {
		if a.ProductID == productID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, models.ErrAuctionNotFound
}

func (m *memStore) CancelAuction(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return false, nil
	}
	if a.Status != models.AuctionStatusScheduled && a.Status != models.AuctionStatusActive {
		return false, nil
	}
	a.Status = models.AuctionStatusCancelled
	return true, nil
}

func (m *memStore) IsBidderRejected(ctx context.Context, productID, bidderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rejections[rejectionKey(productID, bidderID)]
	return ok && !r.Withdrawn, nil
}

func (m *memStore) ApplyBid(ctx context.Context, bid *models.Bid, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyBidLocked(bid, now)
}

func (m *memStore) applyBidLocked(bid *models.Bid, now time.Time) (int, error) {
	a, ok := m.auctions[bid.AuctionID]
	if !ok {
		return 0, models.ErrAuctionNotFound
	}
	if a.Status != models.AuctionStatusActive || !a.EndAt.After(now) {
		return 0, models.ErrAuctionNotActive
	}
	if a.CurrentPrice >= bid.Amount {
		return 0, fmt.Errorf("%w: current price is now %d", models.ErrConcurrentBidWon, a.CurrentPrice)
	}
	m.bids = append(m.bids, *bid)
	a.CurrentPrice = bid.Amount
	a.CurrentHighestBidID = sql.NullString{String: bid.ID, Valid: true}
	a.CurrentHighestBidderID = sql.NullString{String: bid.BidderID, Valid: true}
	a.BidCount++
	return a.BidCount, nil
}

func (m *memStore) ExtendAuction(ctx context.Context, auctionID string, oldEndAt, newEndAt time.Time, triggeredByBidID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return false, nil
	}
	if a.Status != models.AuctionStatusActive || !a.EndAt.Equal(oldEndAt) || a.ExtensionCount >= a.MaxExtensions {
		return false, nil
	}
	a.EndAt = newEndAt
	a.LastExtendedAt = sql.NullTime{Time: now, Valid: true}
	a.ExtensionCount++
	m.extensions = append(m.extensions, models.AuctionExtension{
		AuctionID:        auctionID,
		ExtendedAt:       now,
		OldEndAt:         oldEndAt,
		NewEndAt:         newEndAt,
		TriggeredByBidID: triggeredByBidID,
	})
	return true, nil
}

func (m *memStore) UpsertRejection(ctx context.Context, r *models.BidderRejection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rejectionKey(r.ProductID, r.BidderID)
	record := *r
	if existing, ok := m.rejections[key]; ok {
		record.Withdrawn = existing.Withdrawn && r.Withdrawn
	}
	m.rejections[key] = record
	return nil
}

func (m *memStore) ListRemovedBidders(ctx context.Context, productID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bidders []string
	for _, r := range m.rejections {
		if r.ProductID == productID {
			bidders = append(bidders, r.BidderID)
		}
	}
	return bidders, nil
}

func (m *memStore) eligibleBids(auctionID string, excluded []string) []models.Bid {
	skip := make(map[string]bool, len(excluded))
	for _, b := range excluded {
		skip[b] = true
	}
	var eligible []models.Bid
	for _, b := range m.bids {
		if b.AuctionID == auctionID && !skip[b.BidderID] {
			eligible = append(eligible, b)
		}
	}
	return eligible
}

func (m *memStore) GetHighestEligibleBid(ctx context.Context, auctionID string, excluded []string) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eligible := m.eligibleBids(auctionID, excluded)
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Amount != eligible[j].Amount {
			return eligible[i].Amount > eligible[j].Amount
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	best := eligible[0]
	return &best, nil
}

func (m *memStore) CountEligibleBids(ctx context.Context, auctionID string, excluded []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.eligibleBids(auctionID, excluded)), nil
}

func (m *memStore) ReassignWinner(ctx context.Context, auctionID, removedBidderID string, bid *models.Bid, validBidCount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeReassign != nil {
		m.beforeReassign()
	}
	a, ok := m.auctions[auctionID]
	if !ok || !a.CurrentHighestBidderID.Valid || a.CurrentHighestBidderID.String != removedBidderID {
		return false, nil
	}
	a.CurrentPrice = bid.Amount
	a.CurrentHighestBidID = sql.NullString{String: bid.ID, Valid: true}
	a.CurrentHighestBidderID = sql.NullString{String: bid.BidderID, Valid: true}
	a.BidCount = validBidCount
	return true, nil
}

func (m *memStore) ResetAuction(ctx context.Context, auctionID, removedBidderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok || !a.CurrentHighestBidderID.Valid || a.CurrentHighestBidderID.String != removedBidderID {
		return false, nil
	}
	a.CurrentPrice = a.StartPrice
	a.CurrentHighestBidID = sql.NullString{}
	a.CurrentHighestBidderID = sql.NullString{}
	a.BidCount = 0
	return true, nil
}

func (m *memStore) GetRatingSummary(ctx context.Context, bidderID string) (*models.RatingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if summary, ok := m.ratings[bidderID]; ok {
		copied := *summary
		return &copied, nil
	}
	return &models.RatingSummary{BidderID: bidderID}, nil
}

func (m *memStore) GetOrderByAuctionID(ctx context.Context, auctionID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideOrderOnRead {
		return nil, nil
	}
	if order, ok := m.orders[auctionID]; ok {
		copied := *order
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) CreateOrderOnce(ctx context.Context, order *models.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.AuctionID]; ok {
		return false, nil
	}
	copied := *order
	m.orders[order.AuctionID] = &copied
	return true, nil
}

// nopCache satisfies SnapshotCache without a Redis instance.
type nopCache struct{}

func (nopCache) RefreshSnapshot(ctx context.Context, auctionID string, snap *redisclient.Snapshot, ttl time.Duration) (bool, error) {
	return true, nil
}

func (nopCache) GetSnapshot(ctx context.Context, auctionID string) (*redisclient.Snapshot, error) {
	return nil, nil
}

func (nopCache) DeleteSnapshot(ctx context.Context, auctionID string) error {
	return nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu        sync.Mutex
	accepted  []*models.BidAcceptedEvent
	extended  []*models.AuctionExtendedEvent
	cancelled []*models.AuctionCancelledEvent
	finalized []*models.AuctionFinalizedEvent
	rejected  []*models.BidderRejectedEvent
	withdrawn []*models.BidWithdrawnEvent
}

func (p *recordingPublisher) PublishBidAccepted(ctx context.Context, e *models.BidAcceptedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = append(p.accepted, e)
	return nil
}

func (p *recordingPublisher) PublishAuctionExtended(ctx context.Context, e *models.AuctionExtendedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extended = append(p.extended, e)
	return nil
}

func (p *recordingPublisher) PublishAuctionCancelled(ctx context.Context, e *models.AuctionCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *recordingPublisher) PublishAuctionFinalized(ctx context.Context, e *models.AuctionFinalizedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = append(p.finalized, e)
	return nil
}

func (p *recordingPublisher) PublishBidderRejected(ctx context.Context, e *models.BidderRejectedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, e)
	return nil
}

func (p *recordingPublisher) PublishBidWithdrawn(ctx context.Context, e *models.BidWithdrawnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawn = append(p.withdrawn, e)
	return nil
}
