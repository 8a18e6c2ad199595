package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/config"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/attachment"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/notify"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/summary"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type fakeSummarizer struct {
	mu        sync.Mutex
	text      string
	err       error
	panicWith any
	delay     time.Duration
	calls     int
	last      summary.CaseData
}

func (f *fakeSummarizer) Summarize(ctx context.Context, d summary.CaseData) (string, error) {
	f.mu.Lock()
	f.calls++
	f.last = d
	text, err, p, delay := f.text, f.err, f.panicWith, f.delay
	f.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

type fakeNotifier struct {
	mu            sync.Mutex
	err           error
	referrals     []notify.ReferralNotice
	consultations []notify.ConsultationNotice
}

func (f *fakeNotifier) NotifyReferralCreated(_ context.Context, n notify.ReferralNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.referrals = append(f.referrals, n)
	return f.err
}

func (f *fakeNotifier) NotifyConsultationSubmitted(_ context.Context, n notify.ConsultationNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consultations = append(f.consultations, n)
	return f.err
}

func (f *fakeNotifier) sentConsultations() []notify.ConsultationNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.ConsultationNotice(nil), f.consultations...)
}

type testEnv struct {
	store         *memStore
	metrics       *metrics.Collector
	files         *attachment.LocalStore
	auditSvc      *AuditService
	ledger        *StatusLedger
	summarizer    *fakeSummarizer
	notifier      *fakeNotifier
	auth          *AuthService
	referrals     *ReferralService
	consultations *ConsultationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	files, err := attachment.NewLocalStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("creating attachment store: %v", err)
	}

	log := zap.NewNop()
	store := newMemStore()
	m := metrics.NewCollector("medref_test", prometheus.NewRegistry())
	auditSvc := NewAuditService(store, m, log)
	t.Cleanup(auditSvc.Shutdown)

	ledger := NewStatusLedger(store)
	summarizer := &fakeSummarizer{text: "Suspected acute coronary syndrome."}
	notifier := &fakeNotifier{}

	jwtManager := auth.NewJWTManager(config.JWTConfig{
		Secret:          "test-secret-that-is-at-least-32-characters",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		Issuer:          "medref-test",
	})

	return &testEnv{
		store:         store,
		metrics:       m,
		files:         files,
		auditSvc:      auditSvc,
		ledger:        ledger,
		summarizer:    summarizer,
		notifier:      notifier,
		auth:          NewAuthService(store, jwtManager, auditSvc, log),
		referrals:     NewReferralService(store, ledger, auditSvc, files, summarizer, notifier, m, log),
		consultations: NewConsultationService(store, ledger, auditSvc, files, notifier, m, log),
	}
}

// addDoctor inserts a user directly, bypassing password hashing.
func (e *testEnv) addDoctor(t *testing.T, username, email string, role domain.Role) *domain.User {
	t.Helper()

	u := &domain.User{
		Username:       username,
		PasswordHash:   "not-a-real-hash",
		Email:          email,
		FullName:       "Dr. " + username,
		Specialization: "Cardiology",
		Hospital:       "General Hospital",
		Role:           role,
	}
	if err := e.store.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("adding doctor %s: %v", username, err)
	}
	return u
}

func (e *testEnv) createReferral(t *testing.T, referrer uuid.UUID, email string) *referral.Referral {
	t.Helper()

	res, err := e.referrals.Create(context.Background(), validReferral(referrer, email))
	if err != nil {
		t.Fatalf("creating referral: %v", err)
	}
	return res.Referral
}

func validReferral(referrer uuid.UUID, email string) *referral.CreateReferralCommand {
	return &referral.CreateReferralCommand{
		ReferringDoctorID:   referrer,
		ReferredDoctorEmail: email,
		PatientName:         "J. Doe",
		PatientAge:          54,
		PatientGender:       referral.GenderMale,
		PatientExternalID:   "MRN-1001",
		ClinicalInformation: "Intermittent chest pain for two days, worse on exertion.",
		ReasonForReferral:   "chest pain",
		Urgency:             referral.UrgencyEmergency,
		IPAddress:           "10.0.0.7",
	}
}

func statusPtr(s referral.Status) *referral.Status { return &s }
