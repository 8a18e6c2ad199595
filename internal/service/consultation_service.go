package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/consultation"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/notify"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Consultation attachments live beside the referral's own, in
// <doctorID>/<referralID>_consultation.
const consultationGroupSuffix = "_consultation"

type ConsultationService struct {
	store    Store
	ledger   *StatusLedger
	auditSvc *AuditService
	files    AttachmentStore
	notifier Notifier
	metrics  *metrics.Collector
	log      *zap.Logger

	now           func() time.Time
	notifyTimeout time.Duration
}

func NewConsultationService(store Store, ledger *StatusLedger, auditSvc *AuditService, files AttachmentStore, notifier Notifier, m *metrics.Collector, log *zap.Logger) *ConsultationService {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &ConsultationService{
		store:         store,
		ledger:        ledger,
		auditSvc:      auditSvc,
		files:         files,
		notifier:      notifier,
		metrics:       m,
		log:           log,
		now:           time.Now,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// Submit records a consultation and moves the referral to the submitted
// status. The consultation, the status change, its history entry and the
// activity entry commit together or not at all.
func (s *ConsultationService) Submit(ctx context.Context, cmd *consultation.SubmitCommand) (*consultation.SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "ConsultationService.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("referral.id", cmd.ReferralID))

	if err := validateSubmitCommand(cmd); err != nil {
		return nil, err
	}

	r, err := s.store.Referrals().GetByReferralID(ctx, cmd.ReferralID)
	if err != nil {
		return nil, err
	}

	doctor, err := s.store.Users().GetByID(ctx, cmd.DoctorID)
	if err != nil {
		return nil, err
	}
	if !r.IsAddressedTo(doctor.ID, doctor.Email) {
		return nil, ErrForbidden
	}

	paths, err := saveAttachments(ctx, s.files, cmd.DoctorID.String(), cmd.ReferralID+consultationGroupSuffix, cmd.Attachments)
	if err != nil {
		return nil, err
	}

	c := &consultation.Consultation{
		ReferralID:           cmd.ReferralID,
		ConsultingDoctorID:   cmd.DoctorID,
		Assessment:           cmd.Assessment,
		Recommendation:       cmd.Recommendation,
		Diagnosis:            strings.TrimSpace(cmd.Diagnosis),
		TreatmentPlan:        strings.TrimSpace(cmd.TreatmentPlan),
		Medications:          strings.TrimSpace(cmd.Medications),
		AdditionalInfoNeeded: strings.TrimSpace(cmd.AdditionalInfoNeeded),
		FollowUpRequired:     cmd.FollowUpRequired,
		FollowUpTimeframe:    strings.TrimSpace(cmd.FollowUpTimeframe),
		AttachmentPaths:      paths,
		Status:               cmd.Status,
	}

	var (
		previous referral.Status
		referrer *domain.User
	)

	err = s.store.WithinTx(ctx, func(tx Store) error {
		// Re-read under lock: the status seen before the transaction may be stale.
		locked, err := tx.Referrals().GetForUpdate(ctx, cmd.ReferralID)
		if err != nil {
			return err
		}
		previous = locked.Status

		now := s.now().UTC()
		c.CreatedAt = now

		if err := tx.Consultations().Create(ctx, c); err != nil {
			return fmt.Errorf("inserting consultation: %w", err)
		}
		if err := tx.Referrals().UpdateStatus(ctx, cmd.ReferralID, cmd.Status, now); err != nil {
			return fmt.Errorf("updating referral status: %w", err)
		}

		old := previous
		if _, err := s.ledger.Record(ctx, tx, cmd.ReferralID, &old, cmd.Status, cmd.DoctorID, cmd.Comment); err != nil {
			return err
		}

		if err := s.auditSvc.Record(ctx, tx, ActivityEntry{
			UserID:     cmd.DoctorID,
			Type:       domain.ActivitySubmitConsultation,
			Details:    fmt.Sprintf("Submitted consultation: %s -> %s", previous, cmd.Status),
			ReferralID: cmd.ReferralID,
			IPAddress:  cmd.IPAddress,
		}); err != nil {
			return err
		}

		referrer, err = tx.Users().GetByID(ctx, locked.ReferringDoctorID)
		if err != nil {
			return fmt.Errorf("loading referring doctor: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, referral.ErrReferralNotFound) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit consultation failed")
		s.log.Error("failed to submit consultation",
			zap.String("referral_id", cmd.ReferralID),
			zap.Error(err),
		)
		return nil, &StorageError{Op: "submitting consultation", Err: err}
	}

	s.metrics.ConsultationsSubmittedTotal.WithLabelValues(string(cmd.Status)).Inc()
	s.metrics.StatusTransitionsTotal.WithLabelValues(string(previous), string(cmd.Status)).Inc()

	s.log.Info("consultation submitted",
		zap.String("referral_id", cmd.ReferralID),
		zap.String("doctor_id", cmd.DoctorID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(cmd.Status)),
	)

	notified := s.notifySubmitted(ctx, r, c, referrer, doctor.FullName)

	return &consultation.SubmitResult{
		Consultation:   c,
		PreviousStatus: previous,
		Notified:       notified,
	}, nil
}

// Consultations returns every consultation on the referral, oldest first, to
// a party of the referral.
func (s *ConsultationService) Consultations(ctx context.Context, referralID string, viewerID uuid.UUID) ([]*consultation.Consultation, error) {
	if _, err := authorizeParty(ctx, s.store, referralID, viewerID); err != nil {
		return nil, err
	}
	return s.store.Consultations().ListByReferral(ctx, referralID)
}

func (s *ConsultationService) notifySubmitted(ctx context.Context, r *referral.Referral, c *consultation.Consultation, referrer *domain.User, consultantName string) bool {
	notice := notify.ConsultationNotice{
		ReferralID:           r.ReferralID,
		RecipientEmail:       referrer.Email,
		ReferringDoctorName:  referrer.FullName,
		ConsultingDoctorName: consultantName,
		PatientName:          r.PatientName,
		Status:               string(c.Status),
		AdditionalInfoNeeded: c.AdditionalInfoNeeded,
	}

	_, err := callBounded(ctx, s.notifyTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.notifier.NotifyConsultationSubmitted(ctx, notice)
	})
	if err != nil {
		s.metrics.NotificationFailuresTotal.WithLabelValues(eventConsultationSubmitted).Inc()
		s.log.Warn("failed to notify referring doctor",
			zap.String("referral_id", r.ReferralID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func validateSubmitCommand(cmd *consultation.SubmitCommand) error {
	var errs []string

	cmd.ReferralID = strings.TrimSpace(cmd.ReferralID)
	cmd.Assessment = strings.TrimSpace(cmd.Assessment)
	cmd.Recommendation = strings.TrimSpace(cmd.Recommendation)

	if cmd.ReferralID == "" {
		errs = append(errs, "referral_id is required")
	}
	if cmd.Assessment == "" {
		errs = append(errs, "assessment is required")
	}
	if cmd.Recommendation == "" {
		errs = append(errs, "recommendation is required")
	}
	if !cmd.Status.IsConsultationOutcome() {
		errs = append(errs, fmt.Sprintf("status must be one of %q, %q, %q or %q",
			referral.StatusInProgress, referral.StatusCompleted, referral.StatusClosed, referral.StatusRequiresInfo))
	}
	errs = append(errs, validateAttachmentNames(cmd.Attachments)...)

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
