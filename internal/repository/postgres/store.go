// Package postgres implements the service repositories on gorm and PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/consultation"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/service"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"gorm.io/gorm"
)

// Store is a service.Store backed by a gorm handle. Inside WithinTx the
// handle is the open transaction.
type Store struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

var _ service.Store = (*Store)(nil)

func NewStore(db *gorm.DB, m *metrics.Collector) *Store {
	return &Store{db: db, metrics: m}
}

func (s *Store) Users() service.UserRepository {
	return &userRepository{db: s.db, metrics: s.metrics}
}

func (s *Store) Referrals() referral.Repository {
	return &referralRepository{db: s.db, metrics: s.metrics}
}

func (s *Store) History() referral.HistoryRepository {
	return &historyRepository{db: s.db, metrics: s.metrics}
}

func (s *Store) Consultations() consultation.Repository {
	return &consultationRepository{db: s.db, metrics: s.metrics}
}

func (s *Store) Activity() service.ActivityRepository {
	return &activityRepository{db: s.db, metrics: s.metrics}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx service.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, metrics: s.metrics})
	})
}

// Ping checks the connection and publishes the pool size.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	if s.metrics != nil {
		s.metrics.DBConnections.Set(float64(sqlDB.Stats().OpenConnections))
	}
	return nil
}

// observe records the latency of one query. Use as
// defer observe(m, "select", "referrals")().
func observe(m *metrics.Collector, op, table string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.DBQueryDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
