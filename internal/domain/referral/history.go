package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusHistoryEntry records one status transition. Entries are never updated
// or deleted.
type StatusHistoryEntry struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferralID string    `gorm:"column:referral_id;type:varchar(36);not null;index" json:"referral_id"`
	OldStatus  *Status   `gorm:"column:old_status;type:varchar(40)" json:"old_status"`
	NewStatus  Status    `gorm:"column:new_status;type:varchar(40);not null" json:"new_status"`
	ChangedBy  uuid.UUID `gorm:"column:changed_by;type:uuid;not null" json:"changed_by"`
	ChangedAt  time.Time `gorm:"column:changed_at;not null;index" json:"changed_at"`
	Comment    *string   `gorm:"column:comment;type:text" json:"comment,omitempty"`
}

func (StatusHistoryEntry) TableName() string {
	return "referral.status_history"
}

type HistoryRepository interface {
	Append(ctx context.Context, e *StatusHistoryEntry) error

	// ListByReferral returns entries oldest first, ties broken by ID.
	ListByReferral(ctx context.Context, referralID string) ([]*StatusHistoryEntry, error)
}
