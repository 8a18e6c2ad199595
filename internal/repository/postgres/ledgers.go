package postgres

import (
	"context"
	"fmt"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/consultation"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type historyRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

func (r *historyRepository) Append(ctx context.Context, e *referral.StatusHistoryEntry) error {
	defer observe(r.metrics, "insert", "status_history")()

	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}
	return nil
}

func (r *historyRepository) ListByReferral(ctx context.Context, referralID string) ([]*referral.StatusHistoryEntry, error) {
	defer observe(r.metrics, "select", "status_history")()

	entries := make([]*referral.StatusHistoryEntry, 0)
	err := r.db.WithContext(ctx).
		Where("referral_id = ?", referralID).
		Order("changed_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing status history: %w", err)
	}
	return entries, nil
}

type consultationRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

func (r *consultationRepository) Create(ctx context.Context, c *consultation.Consultation) error {
	defer observe(r.metrics, "insert", "consultations")()

	if c.AttachmentPaths == nil {
		c.AttachmentPaths = []string{}
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("inserting consultation: %w", err)
	}
	return nil
}

func (r *consultationRepository) LatestByReferral(ctx context.Context, referralID string) (*consultation.Consultation, error) {
	defer observe(r.metrics, "select", "consultations")()

	var c consultation.Consultation
	err := r.db.WithContext(ctx).
		Where("referral_id = ?", referralID).
		Order("created_at DESC, id DESC").
		First(&c).Error
	if err != nil {
		if isNotFound(err) {
			return nil, consultation.ErrConsultationNotFound
		}
		return nil, fmt.Errorf("loading latest consultation: %w", err)
	}
	return &c, nil
}

func (r *consultationRepository) ListByReferral(ctx context.Context, referralID string) ([]*consultation.Consultation, error) {
	defer observe(r.metrics, "select", "consultations")()

	out := make([]*consultation.Consultation, 0)
	err := r.db.WithContext(ctx).
		Where("referral_id = ?", referralID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing consultations: %w", err)
	}
	return out, nil
}

type activityRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

func (r *activityRepository) Create(ctx context.Context, entry *domain.ActivityLog) error {
	defer observe(r.metrics, "insert", "activity_logs")()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("inserting activity log: %w", err)
	}
	return nil
}

func (r *activityRepository) ListRecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ActivityLog, error) {
	defer observe(r.metrics, "select", "activity_logs")()

	out := make([]*domain.ActivityLog, 0, limit)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return out, nil
}
