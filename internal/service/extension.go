package service

import (
	"time"

	"auction-service/internal/models"
)

// EvaluateExtension decides whether an auction's deadline must be pushed
// out. The rule is the same for the inline bid-time check and the
// scheduler sweep: extend when less than the auction's window remains and
// the extension cap has not been reached. Returns the new end time and
// whether an extension applies.
//
// The decision is computed against a read of the auction; the store's
// ExtendAuction re-validates end_at and the cap at commit time.
func EvaluateExtension(a *models.Auction, now time.Time) (time.Time, bool) {
	if !a.AutoExtendEnabled {
		return time.Time{}, false
	}
	if a.ExtensionCount >= a.MaxExtensions {
		return time.Time{}, false
	}

	window := time.Duration(a.AutoExtendWindowSec) * time.Second
	if a.EndAt.Sub(now) >= window {
		return time.Time{}, false
	}

	return a.EndAt.Add(time.Duration(a.AutoExtendAmountSec) * time.Second), true
}

// ExtensionWindowStart returns the start of the window immediately
// preceding the auction's end time. The scheduler sweep extends only when
// a bid was created inside this window.
func ExtensionWindowStart(a *models.Auction) time.Time {
	return a.EndAt.Add(-time.Duration(a.AutoExtendWindowSec) * time.Second)
}
