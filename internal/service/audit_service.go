package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActivityEntry is one observational record for the activity log.
type ActivityEntry struct {
	UserID     uuid.UUID
	Type       domain.ActivityType
	Details    string
	ReferralID string
	IPAddress  string
}

func (e ActivityEntry) toLog() *domain.ActivityLog {
	al := &domain.ActivityLog{
		UserID:       e.UserID,
		ActivityType: e.Type,
		Details:      e.Details,
		IPAddress:    e.IPAddress,
		OccurredAt:   time.Now().UTC(),
	}
	if e.ReferralID != "" {
		id := e.ReferralID
		al.ReferralID = &id
	}
	return al
}

const (
	auditBufferSize    = 10_000
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// AuditService writes the append-only activity log. Record joins the caller's
// transaction; LogAsync is for events that have no transaction of their own.
type AuditService struct {
	store   Store
	metrics *metrics.Collector
	log     *zap.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan *domain.ActivityLog
	done    chan struct{}
}

func NewAuditService(store Store, m *metrics.Collector, log *zap.Logger) *AuditService {
	svc := &AuditService{
		store:   store,
		metrics: m,
		log:     log,
		entries: make(chan *domain.ActivityLog, auditBufferSize),
		done:    make(chan struct{}),
	}
	go svc.worker()
	return svc
}

// Record appends an entry through tx, so it commits or rolls back with the
// rest of the caller's writes.
func (s *AuditService) Record(ctx context.Context, tx Store, entry ActivityEntry) error {
	if err := tx.Activity().Create(ctx, entry.toLog()); err != nil {
		return fmt.Errorf("recording %s activity: %w", entry.Type, err)
	}
	s.metrics.AuditEntriesTotal.Inc()
	return nil
}

// LogAsync enqueues an entry for async persistence.
// If the buffer is full or the service is shut down, the entry is dropped and a warning is emitted.
func (s *AuditService) LogAsync(ctx context.Context, entry ActivityEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(entry, "audit service stopped, dropping entry")
		return
	}

	select {
	case s.entries <- entry.toLog():
	default:
		s.drop(entry, "audit log buffer full, dropping entry")
	}
}

func (s *AuditService) drop(entry ActivityEntry, msg string) {
	s.metrics.AuditBufferDropped.Inc()
	s.log.Warn(msg,
		zap.String("activity_type", string(entry.Type)),
		zap.String("user_id", entry.UserID.String()),
	)
}

// Recent returns the user's latest entries, newest first. limit is clamped to
// 1..100; zero or negative means 20.
func (s *AuditService) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ActivityLog, error) {
	switch {
	case limit <= 0:
		limit = defaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}

	entries, err := s.store.Activity().ListRecentByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return entries, nil
}

// Shutdown stops accepting entries and waits for the buffer to drain.
func (s *AuditService) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.entries)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		s.log.Warn("audit service shutdown timed out; some entries may be lost")
	}
}

func (s *AuditService) worker() {
	defer close(s.done)
	for entry := range s.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Activity().Create(ctx, entry); err != nil {
			s.log.Error("failed to persist activity log", zap.Error(err))
		} else {
			s.metrics.AuditEntriesTotal.Inc()
		}
		cancel()
	}
}
