package service

import (
	"context"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/consultation"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/notify"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/summary"
	"github.com/google/uuid"
)

type UserRepository interface {
	// Create returns domain.ErrDuplicateUser on a username or email collision.
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// Update persists profile fields and the password hash.
	Update(ctx context.Context, u *domain.User) error
}

type ActivityRepository interface {
	Create(ctx context.Context, entry *domain.ActivityLog) error
	ListRecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ActivityLog, error)
}

// Store groups the repositories. Repositories obtained from the Store passed
// to a WithinTx callback share that transaction.
type Store interface {
	Users() UserRepository
	Referrals() referral.Repository
	History() referral.HistoryRepository
	Consultations() consultation.Repository
	Activity() ActivityRepository

	// WithinTx commits if fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type Summarizer interface {
	Summarize(ctx context.Context, d summary.CaseData) (string, error)
}

type Notifier interface {
	NotifyReferralCreated(ctx context.Context, n notify.ReferralNotice) error
	NotifyConsultationSubmitted(ctx context.Context, n notify.ConsultationNotice) error
}

type AttachmentStore interface {
	Save(ctx context.Context, ownerID, groupKey, fileName string, data []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
}
