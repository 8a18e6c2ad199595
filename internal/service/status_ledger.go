package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/google/uuid"
)

// StatusLedger appends and reads referral status transitions. It has no
// update or delete path.
type StatusLedger struct {
	store Store
	now   func() time.Time
}

func NewStatusLedger(store Store) *StatusLedger {
	return &StatusLedger{store: store, now: time.Now}
}

// Record appends one transition through tx. old is nil for a referral's first
// recorded status.
func (l *StatusLedger) Record(ctx context.Context, tx Store, referralID string, old *referral.Status, next referral.Status, actor uuid.UUID, comment string) (*referral.StatusHistoryEntry, error) {
	entry := &referral.StatusHistoryEntry{
		ReferralID: referralID,
		OldStatus:  old,
		NewStatus:  next,
		ChangedBy:  actor,
		ChangedAt:  l.now().UTC(),
	}
	if c := strings.TrimSpace(comment); c != "" {
		entry.Comment = &c
	}

	if err := tx.History().Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("appending status history: %w", err)
	}
	return entry, nil
}

// History returns the referral's transitions, oldest first.
func (l *StatusLedger) History(ctx context.Context, referralID string) ([]*referral.StatusHistoryEntry, error) {
	entries, err := l.store.History().ListByReferral(ctx, referralID)
	if err != nil {
		return nil, fmt.Errorf("listing status history: %w", err)
	}
	return entries, nil
}
