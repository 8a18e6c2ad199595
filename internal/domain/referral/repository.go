package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByReferralID(ctx context.Context, referralID string) (*Referral, error)

	// GetForUpdate reads the referral and holds a row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, referralID string) (*Referral, error)

	UpdateStatus(ctx context.Context, referralID string, status Status, at time.Time) error

	// ListByReferringDoctor returns referrals created by the doctor, newest first.
	ListByReferringDoctor(ctx context.Context, doctorID uuid.UUID, f ListFilter) ([]*ListItem, error)

	// ListForRecipient returns referrals addressed to the doctor by link or by
	// email, newest first.
	ListForRecipient(ctx context.Context, doctorID uuid.UUID, email string, f ListFilter) ([]*ListItem, error)

	// LinkReferredDoctors sets the referred doctor on unlinked referrals whose
	// email now belongs to a registered user. Returns the number linked.
	LinkReferredDoctors(ctx context.Context) (int64, error)
}
