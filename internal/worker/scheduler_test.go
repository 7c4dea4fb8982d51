package worker

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/redisclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// schedStore is an in-memory SchedulerStore with the same conditioned
// transition semantics as the Postgres store.
type schedStore struct {
	mu       sync.Mutex
	auctions map[string]*models.Auction
	bids     []models.Bid

	// beforeClose, when set, runs inside CloseAuction's critical section
	// before the status flip. Used to interleave a competing write.
	beforeClose func()
}

func newSchedStore() *schedStore {
	return &schedStore{auctions: make(map[string]*models.Auction)}
}

func (s *schedStore) add(a *models.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a
}

func (s *schedStore) get(id string) models.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.auctions[id]
}

func (s *schedStore) GetAuctionByID(ctx context.Context, id string) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, models.ErrAuctionNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *schedStore) ListDueScheduled(ctx context.Context, now time.Time) ([]models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Auction
	for _, a := range s.auctions {
		if a.Status == models.AuctionStatusScheduled && !a.StartAt.After(now) {
			due = append(due, *a)
		}
	}
	return due, nil
}

func (s *schedStore) ActivateAuction(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok || a.Status != models.AuctionStatusScheduled || a.StartAt.After(now) {
		return false, nil
	}
	a.Status = models.AuctionStatusActive
	return true, nil
}

func (s *schedStore) ListExtensionCandidates(ctx context.Context, now time.Time, horizon time.Duration) ([]models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []models.Auction
	for _, a := range s.auctions {
		if a.Status == models.AuctionStatusActive && a.AutoExtendEnabled &&
			a.ExtensionCount < a.MaxExtensions &&
			a.EndAt.After(now) && !a.EndAt.After(now.Add(horizon)) {
			candidates = append(candidates, *a)
		}
	}
	return candidates, nil
}

func (s *schedStore) GetLatestBidWithin(ctx context.Context, auctionID string, from, to time.Time) (*models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Bid
	for i := range s.bids {
		b := s.bids[i]
		if b.AuctionID != auctionID || b.CreatedAt.Before(from) || b.CreatedAt.After(to) {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = &b
		}
	}
	return latest, nil
}

func (s *schedStore) ExtendAuction(ctx context.Context, auctionID string, oldEndAt, newEndAt time.Time, triggeredByBidID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok || a.Status != models.AuctionStatusActive ||
		!a.EndAt.Equal(oldEndAt) || a.ExtensionCount >= a.MaxExtensions {
		return false, nil
	}
	a.EndAt = newEndAt
	a.ExtensionCount++
	return true, nil
}

func (s *schedStore) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []models.Auction
	for _, a := range s.auctions {
		if a.Status == models.AuctionStatusActive && !a.EndAt.After(now) {
			expired = append(expired, *a)
		}
	}
	return expired, nil
}

func (s *schedStore) CloseAuction(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeClose != nil {
		s.beforeClose()
	}
	a, ok := s.auctions[id]
	if !ok || a.Status != models.AuctionStatusActive || a.EndAt.After(now) {
		return false, nil
	}
	a.Status = models.AuctionStatusEnded
	return true, nil
}

// countingFinalizer records finalization calls.
type countingFinalizer struct {
	mu    sync.Mutex
	calls []models.Auction
}

func (f *countingFinalizer) FinalizeAuction(ctx context.Context, auction *models.Auction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *auction)
	return nil
}

// openLocks always grants the tick lock.
type openLocks struct{}

func (openLocks) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (openLocks) ReleaseLock(ctx context.Context, lockKey string) error { return nil }

// deniedLocks never grants the tick lock.
type deniedLocks struct{}

func (deniedLocks) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return false, nil
}

func (deniedLocks) ReleaseLock(ctx context.Context, lockKey string) error { return nil }

type nopCache struct{}

func (nopCache) RefreshSnapshot(ctx context.Context, auctionID string, snap *redisclient.Snapshot, ttl time.Duration) (bool, error) {
	return true, nil
}

func (nopCache) GetSnapshot(ctx context.Context, auctionID string) (*redisclient.Snapshot, error) {
	return nil, nil
}

func (nopCache) DeleteSnapshot(ctx context.Context, auctionID string) error { return nil }

// recordingExtensionPublisher captures extension events.
type recordingExtensionPublisher struct {
	mu       sync.Mutex
	extended []*models.AuctionExtendedEvent
}

func (p *recordingExtensionPublisher) PublishAuctionExtended(ctx context.Context, e *models.AuctionExtendedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extended = append(p.extended, e)
	return nil
}

func newTestScheduler(store *schedStore, locks TickLocker) (*LifecycleScheduler, *countingFinalizer, *recordingExtensionPublisher) {
	finalizer := &countingFinalizer{}
	publisher := &recordingExtensionPublisher{}
	ls := NewLifecycleScheduler(store, finalizer, locks, nopCache{}, publisher,
		time.Minute, 5*time.Minute)
	return ls, finalizer, publisher
}

func TestActivationSweep(t *testing.T) {
	now := time.Now()
	store := newSchedStore()
	store.add(&models.Auction{
		ID: "due", Status: models.AuctionStatusScheduled,
		StartAt: now.Add(-time.Minute), EndAt: now.Add(time.Hour),
	})
	store.add(&models.Auction{
		ID: "future", Status: models.AuctionStatusScheduled,
		StartAt: now.Add(time.Hour), EndAt: now.Add(2 * time.Hour),
	})

	ls, _, _ := newTestScheduler(store, openLocks{})
	ls.now = func() time.Time { return now }

	ls.RunTick(context.Background())

	assert.Equal(t, models.AuctionStatusActive, store.get("due").Status)
	assert.Equal(t, models.AuctionStatusScheduled, store.get("future").Status)
}

func TestClosureSweepFinalizesOnce(t *testing.T) {
	now := time.Now()
	store := newSchedStore()
	store.add(&models.Auction{
		ID: "expired", ProductID: "p1", Status: models.AuctionStatusActive,
		StartAt: now.Add(-2 * time.Hour), EndAt: now.Add(-time.Minute),
		CurrentPrice:           1200,
		CurrentHighestBidderID: sql.NullString{String: "buyer-1", Valid: true},
	})

	ls, finalizer, _ := newTestScheduler(store, openLocks{})
	ls.now = func() time.Time { return now }

	ls.RunTick(context.Background())
	ls.RunTick(context.Background())

	assert.Equal(t, models.AuctionStatusEnded, store.get("expired").Status)
	require.Len(t, finalizer.calls, 1)
	assert.Equal(t, models.AuctionStatusEnded, finalizer.calls[0].Status)
	assert.Equal(t, "buyer-1", finalizer.calls[0].CurrentHighestBidderID.String)
}

func TestClosureFinalizesCommittedWinner(t *testing.T) {
	now := time.Now()
	store := newSchedStore()
	store.add(&models.Auction{
		ID: "a1", ProductID: "p1", Status: models.AuctionStatusActive,
		StartAt: now.Add(-2 * time.Hour), EndAt: now.Add(-time.Minute),
		StartPrice: 50, CurrentPrice: 200,
		CurrentHighestBidderID: sql.NullString{String: "C", Valid: true},
		BidCount:               3,
	})

	// A reconciliation removes C and promotes B between the sweep's list
	// read and the close commit.
	store.beforeClose = func() {
		a := store.auctions["a1"]
		a.CurrentPrice = 150
		a.CurrentHighestBidderID = sql.NullString{String: "B", Valid: true}
		a.BidCount = 2
	}

	ls, finalizer, _ := newTestScheduler(store, openLocks{})
	ls.now = func() time.Time { return now }

	ls.RunTick(context.Background())

	require.Len(t, finalizer.calls, 1)
	assert.Equal(t, "B", finalizer.calls[0].CurrentHighestBidderID.String)
	assert.Equal(t, int64(150), finalizer.calls[0].CurrentPrice)
}

func TestExtensionSweepRequiresRecentBid(t *testing.T) {
	now := time.Now()
	store := newSchedStore()

	base := models.Auction{
		Status:              models.AuctionStatusActive,
		AutoExtendEnabled:   true,
		AutoExtendWindowSec: 300,
		AutoExtendAmountSec: 600,
		MaxExtensions:       3,
		StartAt:             now.Add(-time.Hour),
	}

	withBid := base
	withBid.ID = "with-bid"
	withBid.EndAt = now.Add(2 * time.Minute)
	store.add(&withBid)

	noBid := base
	noBid.ID = "no-bid"
	noBid.EndAt = now.Add(2 * time.Minute)
	store.add(&noBid)

	staleBid := base
	staleBid.ID = "stale-bid"
	staleBid.EndAt = now.Add(2 * time.Minute)
	store.add(&staleBid)

	// One bid inside with-bid's window, one well before stale-bid's window.
	store.bids = append(store.bids,
		models.Bid{ID: "b1", AuctionID: "with-bid", BidderID: "x", Amount: 100, CreatedAt: now.Add(-time.Minute)},
		models.Bid{ID: "b2", AuctionID: "stale-bid", BidderID: "y", Amount: 100, CreatedAt: now.Add(-30 * time.Minute)},
	)

	ls, _, publisher := newTestScheduler(store, openLocks{})
	ls.now = func() time.Time { return now }

	oldEnd := withBid.EndAt
	noBidEnd := noBid.EndAt
	ls.RunTick(context.Background())

	extended := store.get("with-bid")
	assert.True(t, extended.EndAt.Equal(oldEnd.Add(600*time.Second)))
	assert.Equal(t, 1, extended.ExtensionCount)

	assert.True(t, store.get("no-bid").EndAt.Equal(noBidEnd))
	assert.Equal(t, 0, store.get("stale-bid").ExtensionCount)

	require.Len(t, publisher.extended, 1)
	assert.Equal(t, "with-bid", publisher.extended[0].AuctionID)
	assert.Equal(t, "b1", publisher.extended[0].TriggeredByBidID)
}

func TestTickSkippedWithoutLock(t *testing.T) {
	now := time.Now()
	store := newSchedStore()
	store.add(&models.Auction{
		ID: "due", Status: models.AuctionStatusScheduled,
		StartAt: now.Add(-time.Minute), EndAt: now.Add(time.Hour),
	})

	ls, _, _ := newTestScheduler(store, deniedLocks{})
	ls.now = func() time.Time { return now }

	ls.RunTick(context.Background())

	assert.Equal(t, models.AuctionStatusScheduled, store.get("due").Status)
}
