package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type referralRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

const listColumns = `r.referral_id, r.patient_name, r.patient_age, r.patient_gender,
	r.urgency, r.status, r.referred_doctor_email, r.created_at, r.updated_at,
	u.full_name AS counterpart_name`

func (r *referralRepository) Create(ctx context.Context, ref *referral.Referral) error {
	defer observe(r.metrics, "insert", "referrals")()

	if ref.AttachmentPaths == nil {
		ref.AttachmentPaths = []string{}
	}
	if err := r.db.WithContext(ctx).Create(ref).Error; err != nil {
		return fmt.Errorf("inserting referral: %w", err)
	}
	return nil
}

func (r *referralRepository) GetByReferralID(ctx context.Context, referralID string) (*referral.Referral, error) {
	defer observe(r.metrics, "select", "referrals")()
	return r.get(r.db.WithContext(ctx), referralID)
}

func (r *referralRepository) GetForUpdate(ctx context.Context, referralID string) (*referral.Referral, error) {
	defer observe(r.metrics, "select_for_update", "referrals")()
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), referralID)
}

func (r *referralRepository) get(db *gorm.DB, referralID string) (*referral.Referral, error) {
	var ref referral.Referral
	if err := db.Where("referral_id = ?", referralID).First(&ref).Error; err != nil {
		if isNotFound(err) {
			return nil, referral.ErrReferralNotFound
		}
		return nil, fmt.Errorf("loading referral: %w", err)
	}
	return &ref, nil
}

func (r *referralRepository) UpdateStatus(ctx context.Context, referralID string, status referral.Status, at time.Time) error {
	defer observe(r.metrics, "update", "referrals")()

	res := r.db.WithContext(ctx).Model(&referral.Referral{}).
		Where("referral_id = ?", referralID).
		UpdateColumns(map[string]any{
			"status":     status,
			"updated_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("updating referral status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return referral.ErrReferralNotFound
	}
	return nil
}

func (r *referralRepository) ListByReferringDoctor(ctx context.Context, doctorID uuid.UUID, f referral.ListFilter) ([]*referral.ListItem, error) {
	defer observe(r.metrics, "select", "referrals")()

	q := r.db.WithContext(ctx).
		Table("referral.referrals AS r").
		Select(listColumns).
		Joins("LEFT JOIN auth.users u ON u.id = r.referred_doctor_id").
		Where("r.referring_doctor_id = ?", doctorID)

	return r.list(applyFilter(q, f))
}

func (r *referralRepository) ListForRecipient(ctx context.Context, doctorID uuid.UUID, email string, f referral.ListFilter) ([]*referral.ListItem, error) {
	defer observe(r.metrics, "select", "referrals")()

	q := r.db.WithContext(ctx).
		Table("referral.referrals AS r").
		Select(listColumns).
		Joins("LEFT JOIN auth.users u ON u.id = r.referring_doctor_id").
		Where("(r.referred_doctor_id = ? OR lower(r.referred_doctor_email) = lower(?))", doctorID, email)

	return r.list(applyFilter(q, f))
}

func (r *referralRepository) list(q *gorm.DB) ([]*referral.ListItem, error) {
	items := make([]*referral.ListItem, 0)
	if err := q.Order("r.created_at DESC, r.id DESC").Scan(&items).Error; err != nil {
		return nil, fmt.Errorf("listing referrals: %w", err)
	}
	return items, nil
}

func applyFilter(q *gorm.DB, f referral.ListFilter) *gorm.DB {
	if f.Status != nil {
		q = q.Where("r.status = ?", *f.Status)
	}
	if f.Urgency != nil {
		q = q.Where("r.urgency = ?", *f.Urgency)
	}
	if f.CreatedFrom != nil {
		q = q.Where("r.created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		q = q.Where("r.created_at <= ?", *f.CreatedTo)
	}
	return q
}

func (r *referralRepository) LinkReferredDoctors(ctx context.Context) (int64, error) {
	defer observe(r.metrics, "update", "referrals")()

	res := r.db.WithContext(ctx).Exec(`
		UPDATE referral.referrals AS r
		SET referred_doctor_id = u.id
		FROM auth.users u
		WHERE r.referred_doctor_id IS NULL
		  AND lower(r.referred_doctor_email) = lower(u.email)`)
	if res.Error != nil {
		return 0, fmt.Errorf("linking referred doctors: %w", res.Error)
	}
	return res.RowsAffected, nil
}
