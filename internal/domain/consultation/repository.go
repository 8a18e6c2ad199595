package consultation

import "context"

type Repository interface {
	Create(ctx context.Context, c *Consultation) error

	// LatestByReferral returns the most recent consultation, ties broken by ID.
	// Returns ErrConsultationNotFound when the referral has none.
	LatestByReferral(ctx context.Context, referralID string) (*Consultation, error)

	// ListByReferral returns every consultation, oldest first.
	ListByReferral(ctx context.Context, referralID string) ([]*Consultation, error)
}
