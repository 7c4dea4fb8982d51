package worker

import (
	"context"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/service"
	"auction-service/internal/util"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tickLockKey = "lifecycle-scheduler-tick"

// SchedulerStore is the storage surface the lifecycle sweeps need.
type SchedulerStore interface {
	GetAuctionByID(ctx context.Context, id string) (*models.Auction, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]models.Auction, error)
	ActivateAuction(ctx context.Context, id string, now time.Time) (bool, error)
	ListExtensionCandidates(ctx context.Context, now time.Time, horizon time.Duration) ([]models.Auction, error)
	GetLatestBidWithin(ctx context.Context, auctionID string, from, to time.Time) (*models.Bid, error)
	ExtendAuction(ctx context.Context, auctionID string, oldEndAt, newEndAt time.Time, triggeredByBidID string, now time.Time) (bool, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]models.Auction, error)
	CloseAuction(ctx context.Context, id string, now time.Time) (bool, error)
}

// AuctionFinalizer hands closed, won auctions to order creation.
type AuctionFinalizer interface {
	FinalizeAuction(ctx context.Context, auction *models.Auction) error
}

// TickLocker guards the tick so concurrent service instances do not
// double-sweep. All transitions are idempotent, so a lost lock only costs
// duplicate reads, never duplicate effects.
type TickLocker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// ExtensionPublisher publishes sweep-applied extensions.
type ExtensionPublisher interface {
	PublishAuctionExtended(ctx context.Context, event *models.AuctionExtendedEvent) error
}

// LifecycleScheduler moves auctions between states as wall-clock time
// passes: activation, extension, and closure sweeps, in that order. Each
// auction is processed independently; one failure never aborts the tick.
type LifecycleScheduler struct {
	store     SchedulerStore
	finalizer AuctionFinalizer
	locks     TickLocker
	cache     service.SnapshotCache
	publisher ExtensionPublisher
	logger    *zap.Logger

	tick    time.Duration
	horizon time.Duration
	now     func() time.Time
}

// NewLifecycleScheduler creates a new lifecycle scheduler
func NewLifecycleScheduler(
	store SchedulerStore,
	finalizer AuctionFinalizer,
	locks TickLocker,
	cache service.SnapshotCache,
	publisher ExtensionPublisher,
	tick, horizon time.Duration,
) *LifecycleScheduler {
	return &LifecycleScheduler{
		store:     store,
		finalizer: finalizer,
		locks:     locks,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
		tick:      tick,
		horizon:   horizon,
		now:       time.Now,
	}
}

// Start runs the scheduler until the context is cancelled.
func (ls *LifecycleScheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(ls.tick),
		gocron.NewTask(func() {
			ls.RunTick(ctx)
		}),
	)
	if err != nil {
		return err
	}

	ls.logger.Info("Lifecycle scheduler started", zap.Duration("tick", ls.tick))
	sched.Start()

	<-ctx.Done()
	return sched.Shutdown()
}

// RunTick performs one full scheduler pass. Sweep order matters: closure
// must see any extension applied in the same tick, so it runs last.
func (ls *LifecycleScheduler) RunTick(ctx context.Context) {
	acquired, err := ls.locks.AcquireLock(ctx, tickLockKey, ls.tick)
	if err != nil {
		// Lock service trouble is not a reason to stall lifecycle
		// transitions; they are idempotent.
		ls.logger.Warn("Tick lock unavailable, sweeping anyway", zap.Error(err))
	} else if !acquired {
		return
	} else {
		defer func() {
			if err := ls.locks.ReleaseLock(ctx, tickLockKey); err != nil {
				ls.logger.Error("Failed to release tick lock", zap.Error(err))
			}
		}()
	}

	now := ls.now()
	ls.runActivationSweep(ctx, now)
	ls.runExtensionSweep(ctx, now)
	ls.runClosureSweep(ctx, now)
}

// runActivationSweep flips due SCHEDULED auctions to ACTIVE.
func (ls *LifecycleScheduler) runActivationSweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		util.SchedulerSweepDuration.WithLabelValues("activation").Observe(time.Since(start).Seconds())
	}()

	due, err := ls.store.ListDueScheduled(ctx, now)
	if err != nil {
		ls.logger.Error("Activation sweep query failed", zap.Error(err))
		return
	}

	for _, auction := range due {
		activated, err := ls.store.ActivateAuction(ctx, auction.ID, now)
		if err != nil {
			util.SchedulerSweepFailures.WithLabelValues("activation").Inc()
			ls.logger.Error("Failed to activate auction",
				zap.String("auction_id", auction.ID),
				zap.Error(err))
			continue
		}
		if !activated {
			continue
		}

		util.AuctionsActivatedTotal.Inc()
		ls.logger.Info("Auction activated", zap.String("auction_id", auction.ID))
		ls.dropSnapshot(ctx, auction.ID)
	}
}

// runExtensionSweep extends near-closing auctions that received a bid
// inside the window but whose inline extension never fired (e.g. the
// process crashed between the bid apply and the extension).
func (ls *LifecycleScheduler) runExtensionSweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		util.SchedulerSweepDuration.WithLabelValues("extension").Observe(time.Since(start).Seconds())
	}()

	candidates, err := ls.store.ListExtensionCandidates(ctx, now, ls.horizon)
	if err != nil {
		ls.logger.Error("Extension sweep query failed", zap.Error(err))
		return
	}

	for _, auction := range candidates {
		if err := ls.extendIfRecentBid(ctx, &auction, now); err != nil {
			util.SchedulerSweepFailures.WithLabelValues("extension").Inc()
			ls.logger.Error("Failed to extend auction",
				zap.String("auction_id", auction.ID),
				zap.Error(err))
		}
	}
}

func (ls *LifecycleScheduler) extendIfRecentBid(ctx context.Context, auction *models.Auction, now time.Time) error {
	newEndAt, ok := service.EvaluateExtension(auction, now)
	if !ok {
		return nil
	}

	// Only a bid inside the window immediately preceding end_at
	// qualifies, not any bid ever.
	bid, err := ls.store.GetLatestBidWithin(ctx, auction.ID, service.ExtensionWindowStart(auction), auction.EndAt)
	if err != nil {
		return err
	}
	if bid == nil {
		return nil
	}

	applied, err := ls.store.ExtendAuction(ctx, auction.ID, auction.EndAt, newEndAt, bid.ID, now)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	util.AuctionsExtendedTotal.WithLabelValues("sweep").Inc()
	ls.logger.Info("Auction extended by sweep",
		zap.String("auction_id", auction.ID),
		zap.Time("old_end_at", auction.EndAt),
		zap.Time("new_end_at", newEndAt),
		zap.String("triggered_by_bid_id", bid.ID))

	event := &models.AuctionExtendedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAuctionExtended,
			Timestamp: now,
		},
		AuctionID:        auction.ID,
		OldEndAt:         auction.EndAt,
		NewEndAt:         newEndAt,
		TriggeredByBidID: bid.ID,
	}
	if err := ls.publisher.PublishAuctionExtended(ctx, event); err != nil {
		ls.logger.Error("Failed to publish AuctionExtended event", zap.Error(err))
	}

	ls.dropSnapshot(ctx, auction.ID)
	return nil
}

// runClosureSweep flips expired ACTIVE auctions to ENDED and triggers
// finalization. The conditioned close makes a repeated sweep a no-op, and
// the finalizer deduplicates by auction, so a crashed tick is safely
// retried on the next one.
func (ls *LifecycleScheduler) runClosureSweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		util.SchedulerSweepDuration.WithLabelValues("closure").Observe(time.Since(start).Seconds())
	}()

	expired, err := ls.store.ListExpiredActive(ctx, now)
	if err != nil {
		ls.logger.Error("Closure sweep query failed", zap.Error(err))
		return
	}

	for _, auction := range expired {
		closed, err := ls.store.CloseAuction(ctx, auction.ID, now)
		if err != nil {
			util.SchedulerSweepFailures.WithLabelValues("closure").Inc()
			ls.logger.Error("Failed to close auction",
				zap.String("auction_id", auction.ID),
				zap.Error(err))
			continue
		}
		if !closed {
			continue
		}

		util.AuctionsClosedTotal.Inc()
		ls.logger.Info("Auction closed", zap.String("auction_id", auction.ID))
		ls.dropSnapshot(ctx, auction.ID)

		// Reconciliation may have moved the winner between the list read
		// and the close; finalize from the committed row, never the
		// pre-close snapshot.
		current, err := ls.store.GetAuctionByID(ctx, auction.ID)
		if err != nil {
			util.SchedulerSweepFailures.WithLabelValues("closure").Inc()
			ls.logger.Error("Failed to reload auction for finalization",
				zap.String("auction_id", auction.ID),
				zap.Error(err))
			continue
		}
		if err := ls.finalizer.FinalizeAuction(ctx, current); err != nil {
			util.SchedulerSweepFailures.WithLabelValues("closure").Inc()
			ls.logger.Error("Failed to finalize auction",
				zap.String("auction_id", auction.ID),
				zap.Error(err))
		}
	}
}

func (ls *LifecycleScheduler) dropSnapshot(ctx context.Context, auctionID string) {
	if err := ls.cache.DeleteSnapshot(ctx, auctionID); err != nil {
		ls.logger.Error("Failed to drop snapshot",
			zap.String("auction_id", auctionID),
			zap.Error(err))
	}
}
