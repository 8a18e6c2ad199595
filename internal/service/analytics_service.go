package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DailyCount struct {
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type UserStats struct {
	RegistrationsPerDay []DailyCount `json:"registrations_per_day"`
	ByRole              []LabelCount `json:"by_role"`
	BySpecialization    []LabelCount `json:"by_specialization"`
}

type ReferralStats struct {
	PerDay    []DailyCount `json:"per_day"`
	ByStatus  []LabelCount `json:"by_status"`
	ByUrgency []LabelCount `json:"by_urgency"`
	// Days from referral creation to its first consultation. Nil when no
	// referral has been answered.
	AvgResponseDays *float64 `json:"avg_response_days"`
}

type DoctorCount struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	FullName string    `json:"full_name"`
	Count    int64     `json:"count"`
}

type DoctorResponseTime struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	FullName        string    `json:"full_name"`
	AvgResponseDays float64   `json:"avg_response_days"`
}

type DoctorStats struct {
	TopReferring  []DoctorCount        `json:"top_referring"`
	TopConsulting []DoctorCount        `json:"top_consulting"`
	ResponseTimes []DoctorResponseTime `json:"response_times"`
}

type AnalyticsRepository interface {
	UserStats(ctx context.Context) (*UserStats, error)
	ReferralStats(ctx context.Context) (*ReferralStats, error)
	// DoctorStats ranks at most limit doctors in each top list.
	DoctorStats(ctx context.Context, limit int) (*DoctorStats, error)
}

const topDoctorsLimit = 10

// AnalyticsService is read-only reporting over the referral store.
type AnalyticsService struct {
	repo AnalyticsRepository
	log  *zap.Logger
}

func NewAnalyticsService(repo AnalyticsRepository, log *zap.Logger) *AnalyticsService {
	return &AnalyticsService{repo: repo, log: log}
}

func (s *AnalyticsService) Users(ctx context.Context) (*UserStats, error) {
	stats, err := s.repo.UserStats(ctx)
	if err != nil {
		s.log.Error("failed to compute user analytics", zap.Error(err))
		return nil, fmt.Errorf("user analytics: %w", err)
	}
	return stats, nil
}

func (s *AnalyticsService) Referrals(ctx context.Context) (*ReferralStats, error) {
	stats, err := s.repo.ReferralStats(ctx)
	if err != nil {
		s.log.Error("failed to compute referral analytics", zap.Error(err))
		return nil, fmt.Errorf("referral analytics: %w", err)
	}
	return stats, nil
}

func (s *AnalyticsService) Doctors(ctx context.Context) (*DoctorStats, error) {
	stats, err := s.repo.DoctorStats(ctx, topDoctorsLimit)
	if err != nil {
		s.log.Error("failed to compute doctor analytics", zap.Error(err))
		return nil, fmt.Errorf("doctor analytics: %w", err)
	}
	return stats, nil
}
