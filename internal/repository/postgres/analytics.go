package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"gorm.io/gorm"
)

// Days between two timestamptz expressions, as a float.
const daysBetween = "EXTRACT(EPOCH FROM (%s - %s)) / 86400.0"

type AnalyticsRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

var _ service.AnalyticsRepository = (*AnalyticsRepository)(nil)

func NewAnalyticsRepository(db *gorm.DB, m *metrics.Collector) *AnalyticsRepository {
	return &AnalyticsRepository{db: db, metrics: m}
}

func (r *AnalyticsRepository) UserStats(ctx context.Context) (*service.UserStats, error) {
	defer observe(r.metrics, "aggregate", "users")()

	db := r.db.WithContext(ctx)
	stats := &service.UserStats{}

	if err := db.Raw(`
		SELECT date_trunc('day', created_at) AS day, COUNT(*) AS count
		FROM auth.users
		GROUP BY 1
		ORDER BY 1`).Scan(&stats.RegistrationsPerDay).Error; err != nil {
		return nil, fmt.Errorf("registrations per day: %w", err)
	}

	if err := db.Raw(`
		SELECT role AS label, COUNT(*) AS count
		FROM auth.users
		GROUP BY role
		ORDER BY count DESC, label`).Scan(&stats.ByRole).Error; err != nil {
		return nil, fmt.Errorf("users by role: %w", err)
	}

	if err := db.Raw(`
		SELECT specialization AS label, COUNT(*) AS count
		FROM auth.users
		WHERE specialization <> ''
		GROUP BY specialization
		ORDER BY count DESC, label`).Scan(&stats.BySpecialization).Error; err != nil {
		return nil, fmt.Errorf("users by specialization: %w", err)
	}

	return stats, nil
}

func (r *AnalyticsRepository) ReferralStats(ctx context.Context) (*service.ReferralStats, error) {
	defer observe(r.metrics, "aggregate", "referrals")()

	db := r.db.WithContext(ctx)
	stats := &service.ReferralStats{}

	if err := db.Raw(`
		SELECT date_trunc('day', created_at) AS day, COUNT(*) AS count
		FROM referral.referrals
		GROUP BY 1
		ORDER BY 1`).Scan(&stats.PerDay).Error; err != nil {
		return nil, fmt.Errorf("referrals per day: %w", err)
	}

	if err := db.Raw(`
		SELECT status AS label, COUNT(*) AS count
		FROM referral.referrals
		GROUP BY status
		ORDER BY count DESC, label`).Scan(&stats.ByStatus).Error; err != nil {
		return nil, fmt.Errorf("referrals by status: %w", err)
	}

	if err := db.Raw(`
		SELECT urgency AS label, COUNT(*) AS count
		FROM referral.referrals
		GROUP BY urgency
		ORDER BY count DESC, label`).Scan(&stats.ByUrgency).Error; err != nil {
		return nil, fmt.Errorf("referrals by urgency: %w", err)
	}

	// Response time counts only the first consultation on each referral.
	var avg sql.NullFloat64
	row := db.Raw(fmt.Sprintf(`
		SELECT AVG(`+daysBetween+`)
		FROM referral.referrals r
		JOIN (
			SELECT referral_id, MIN(created_at) AS first_at
			FROM referral.consultations
			GROUP BY referral_id
		) c ON c.referral_id = r.referral_id`, "c.first_at", "r.created_at")).Row()
	if err := row.Scan(&avg); err != nil {
		return nil, fmt.Errorf("average response time: %w", err)
	}
	if avg.Valid {
		stats.AvgResponseDays = &avg.Float64
	}

	return stats, nil
}

func (r *AnalyticsRepository) DoctorStats(ctx context.Context, limit int) (*service.DoctorStats, error) {
	defer observe(r.metrics, "aggregate", "doctors")()

	db := r.db.WithContext(ctx)
	stats := &service.DoctorStats{}

	if err := db.Raw(`
		SELECT u.id AS doctor_id, u.full_name, COUNT(*) AS count
		FROM referral.referrals r
		JOIN auth.users u ON u.id = r.referring_doctor_id
		GROUP BY u.id, u.full_name
		ORDER BY count DESC, u.full_name
		LIMIT ?`, limit).Scan(&stats.TopReferring).Error; err != nil {
		return nil, fmt.Errorf("top referring doctors: %w", err)
	}

	if err := db.Raw(`
		SELECT u.id AS doctor_id, u.full_name, COUNT(*) AS count
		FROM referral.consultations c
		JOIN auth.users u ON u.id = c.consulting_doctor_id
		GROUP BY u.id, u.full_name
		ORDER BY count DESC, u.full_name
		LIMIT ?`, limit).Scan(&stats.TopConsulting).Error; err != nil {
		return nil, fmt.Errorf("top consulting doctors: %w", err)
	}

	if err := db.Raw(fmt.Sprintf(`
		SELECT u.id AS doctor_id, u.full_name, AVG(`+daysBetween+`) AS avg_response_days
		FROM referral.consultations c
		JOIN referral.referrals r ON r.referral_id = c.referral_id
		JOIN auth.users u ON u.id = c.consulting_doctor_id
		GROUP BY u.id, u.full_name
		ORDER BY avg_response_days`, "c.created_at", "r.created_at")).Scan(&stats.ResponseTimes).Error; err != nil {
		return nil, fmt.Errorf("response time by doctor: %w", err)
	}

	return stats, nil
}
