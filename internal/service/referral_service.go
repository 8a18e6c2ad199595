package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/consultation"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/attachment"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/notify"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/summary"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("medref/service")

const (
	maxPatientAge = 150

	eventReferralCreated       = "referral_created"
	eventConsultationSubmitted = "consultation_submitted"
)

// ReferralDetails is a referral with the identities of both doctors and its
// most recent consultation, if any.
type ReferralDetails struct {
	*referral.Referral
	ReferringDoctor referral.DoctorInfo  `json:"referring_doctor"`
	ReferredDoctor  *referral.DoctorInfo `json:"referred_doctor,omitempty"`
	Consultation    *consultation.View   `json:"consultation,omitempty"`
}

type ReferralService struct {
	store      Store
	ledger     *StatusLedger
	auditSvc   *AuditService
	files      AttachmentStore
	summarizer Summarizer
	notifier   Notifier
	metrics    *metrics.Collector
	log        *zap.Logger

	summaryTimeout time.Duration
	notifyTimeout  time.Duration
}

// NewReferralService wires the lifecycle manager. summarizer may be nil, in
// which case referrals are stored without a summary.
func NewReferralService(store Store, ledger *StatusLedger, auditSvc *AuditService, files AttachmentStore, summarizer Summarizer, notifier Notifier, m *metrics.Collector, log *zap.Logger) *ReferralService {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &ReferralService{
		store:          store,
		ledger:         ledger,
		auditSvc:       auditSvc,
		files:          files,
		summarizer:     summarizer,
		notifier:       notifier,
		metrics:        m,
		log:            log,
		summaryTimeout: defaultSummaryTimeout,
		notifyTimeout:  defaultNotifyTimeout,
	}
}

func (s *ReferralService) Create(ctx context.Context, cmd *referral.CreateReferralCommand) (*referral.CreateResult, error) {
	ctx, span := tracer.Start(ctx, "ReferralService.Create")
	defer span.End()

	if err := validateCreateReferral(cmd); err != nil {
		return nil, err
	}

	referrer, err := s.store.Users().GetByID(ctx, cmd.ReferringDoctorID)
	if err != nil {
		return nil, err
	}

	// An unknown email is fine: the referral stays addressed by email alone.
	var referredID *uuid.UUID
	recipient, err := s.store.Users().GetByEmail(ctx, cmd.ReferredDoctorEmail)
	switch {
	case err == nil:
		referredID = &recipient.ID
	case errors.Is(err, domain.ErrUserNotFound):
	default:
		return nil, fmt.Errorf("resolving referred doctor: %w", err)
	}

	r := &referral.Referral{
		ReferralID:          uuid.NewString(),
		ReferringDoctorID:   cmd.ReferringDoctorID,
		ReferredDoctorID:    referredID,
		ReferredDoctorEmail: cmd.ReferredDoctorEmail,
		PatientName:         cmd.PatientName,
		PatientAge:          cmd.PatientAge,
		PatientGender:       cmd.PatientGender,
		PatientExternalID:   cmd.PatientExternalID,
		PatientDOB:          cmd.PatientDOB,
		PatientPhone:        strings.TrimSpace(cmd.PatientPhone),
		ClinicalInformation: cmd.ClinicalInformation,
		Diagnosis:           strings.TrimSpace(cmd.Diagnosis),
		ReasonForReferral:   cmd.ReasonForReferral,
		Urgency:             cmd.Urgency,
		AdditionalNotes:     strings.TrimSpace(cmd.AdditionalNotes),
		AdditionalDetails:   cmd.AdditionalDetails,
		Status:              referral.StatusPending,
		AttachmentPaths:     []string{},
	}
	span.SetAttributes(attribute.String("referral.id", r.ReferralID))

	paths, err := saveAttachments(ctx, s.files, cmd.ReferringDoctorID.String(), r.ReferralID, cmd.Attachments)
	if err != nil {
		return nil, err
	}
	r.AttachmentPaths = paths

	if text := s.summarize(ctx, r); text != "" {
		r.AISummary = &text
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.Referrals().Create(ctx, r); err != nil {
			return fmt.Errorf("inserting referral: %w", err)
		}
		return s.auditSvc.Record(ctx, tx, ActivityEntry{
			UserID:     cmd.ReferringDoctorID,
			Type:       domain.ActivityCreateReferral,
			Details:    fmt.Sprintf("Created %s referral for patient %s", r.Urgency, r.PatientName),
			ReferralID: r.ReferralID,
			IPAddress:  cmd.IPAddress,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create referral failed")
		s.log.Error("failed to create referral",
			zap.String("referral_id", r.ReferralID),
			zap.Error(err),
		)
		return nil, &StorageError{Op: "creating referral", Err: err}
	}

	s.metrics.ReferralsCreatedTotal.WithLabelValues(string(r.Urgency)).Inc()

	s.log.Info("referral created",
		zap.String("referral_id", r.ReferralID),
		zap.String("referring_doctor_id", cmd.ReferringDoctorID.String()),
		zap.Bool("linked", referredID != nil),
		zap.String("urgency", string(r.Urgency)),
	)

	notified := s.notifyCreated(ctx, r, referrer.FullName)

	return &referral.CreateResult{Referral: r, Notified: notified}, nil
}

func (s *ReferralService) summarize(ctx context.Context, r *referral.Referral) string {
	if s.summarizer == nil {
		return ""
	}

	data := caseDataFor(r)
	text, err := callBounded(ctx, s.summaryTimeout, func(ctx context.Context) (string, error) {
		return s.summarizer.Summarize(ctx, data)
	})
	if err != nil {
		s.metrics.SummaryFailuresTotal.Inc()
		s.log.Warn("clinical summary unavailable, continuing without it",
			zap.String("referral_id", r.ReferralID),
			zap.Error(err),
		)
		return ""
	}
	return strings.TrimSpace(text)
}

func (s *ReferralService) notifyCreated(ctx context.Context, r *referral.Referral, referrerName string) bool {
	notice := notify.ReferralNotice{
		ReferralID:          r.ReferralID,
		RecipientEmail:      r.ReferredDoctorEmail,
		ReferringDoctorName: referrerName,
		PatientName:         r.PatientName,
		Urgency:             string(r.Urgency),
		ReasonForReferral:   r.ReasonForReferral,
	}

	_, err := callBounded(ctx, s.notifyTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.notifier.NotifyReferralCreated(ctx, notice)
	})
	if err != nil {
		s.metrics.NotificationFailuresTotal.WithLabelValues(eventReferralCreated).Inc()
		s.log.Warn("failed to notify referred doctor",
			zap.String("referral_id", r.ReferralID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// DefaultLens is the listing direction for a role when the caller does not
// pick one. Both defaults to the referrals the doctor sent.
func DefaultLens(role domain.Role) referral.Lens {
	if role == domain.RoleConsultingDoctor {
		return referral.LensConsulting
	}
	return referral.LensReferring
}

// List returns the doctor's referrals, newest first. The referring lens lists
// referrals the doctor created; the consulting lens lists referrals addressed
// to the doctor by link or by email.
func (s *ReferralService) List(ctx context.Context, doctorID uuid.UUID, lens referral.Lens, f referral.ListFilter) ([]*referral.ListItem, error) {
	if f.Status != nil && !f.Status.IsValid() {
		return nil, &ValidationError{Fields: []string{"status is invalid"}}
	}
	if f.Urgency != nil && !f.Urgency.IsValid() {
		return nil, &ValidationError{Fields: []string{"urgency is invalid"}}
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
		return nil, &ValidationError{Fields: []string{"to must not be before from"}}
	}

	if lens == referral.LensReferring {
		return s.store.Referrals().ListByReferringDoctor(ctx, doctorID, f)
	}

	doctor, err := s.store.Users().GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return s.store.Referrals().ListForRecipient(ctx, doctorID, doctor.Email, f)
}

// GetDetails returns the referral with both doctors' identities and the
// most recent consultation. The referred doctor is nil until linked.
func (s *ReferralService) GetDetails(ctx context.Context, referralID string) (*ReferralDetails, error) {
	r, err := s.store.Referrals().GetByReferralID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, r)
}

// ViewDetails is GetDetails for a caller who must be a party to the referral.
func (s *ReferralService) ViewDetails(ctx context.Context, referralID string, viewerID uuid.UUID) (*ReferralDetails, error) {
	r, err := authorizeParty(ctx, s.store, referralID, viewerID)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, r)
}

func (s *ReferralService) details(ctx context.Context, r *referral.Referral) (*ReferralDetails, error) {
	d := &ReferralDetails{Referral: r}

	referrer, err := s.store.Users().GetByID(ctx, r.ReferringDoctorID)
	if err != nil {
		return nil, fmt.Errorf("loading referring doctor: %w", err)
	}
	d.ReferringDoctor = doctorInfo(referrer, true)

	if r.ReferredDoctorID != nil {
		referred, err := s.store.Users().GetByID(ctx, *r.ReferredDoctorID)
		switch {
		case err == nil:
			info := doctorInfo(referred, false)
			d.ReferredDoctor = &info
		case !errors.Is(err, domain.ErrUserNotFound):
			return nil, fmt.Errorf("loading referred doctor: %w", err)
		}
	}

	latest, err := s.store.Consultations().LatestByReferral(ctx, r.ReferralID)
	switch {
	case err == nil:
		view := &consultation.View{Consultation: latest}
		if doc, err := s.store.Users().GetByID(ctx, latest.ConsultingDoctorID); err == nil {
			view.ConsultingDoctorName = doc.FullName
		}
		d.Consultation = view
	case !errors.Is(err, consultation.ErrConsultationNotFound):
		return nil, fmt.Errorf("loading latest consultation: %w", err)
	}

	return d, nil
}

// History returns the referral's status transitions, oldest first, to a
// party of the referral.
func (s *ReferralService) History(ctx context.Context, referralID string, viewerID uuid.UUID) ([]*referral.StatusHistoryEntry, error) {
	if _, err := authorizeParty(ctx, s.store, referralID, viewerID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, referralID)
}

// RelinkByEmail links every unlinked referral whose email now belongs to a
// registered doctor. It only runs when a caller asks for it.
func (s *ReferralService) RelinkByEmail(ctx context.Context, actorID uuid.UUID, ip string) (int64, error) {
	var linked int64
	err := s.store.WithinTx(ctx, func(tx Store) error {
		n, err := tx.Referrals().LinkReferredDoctors(ctx)
		if err != nil {
			return fmt.Errorf("linking referrals: %w", err)
		}
		linked = n
		return s.auditSvc.Record(ctx, tx, ActivityEntry{
			UserID:    actorID,
			Type:      domain.ActivityRelinkReferrals,
			Details:   fmt.Sprintf("Linked %d referrals to registered doctors", n),
			IPAddress: ip,
		})
	})
	if err != nil {
		s.log.Error("failed to relink referrals", zap.Error(err))
		return 0, &StorageError{Op: "relinking referrals", Err: err}
	}

	s.log.Info("referrals relinked",
		zap.String("actor_id", actorID.String()),
		zap.Int64("linked", linked),
	)
	return linked, nil
}

// ReadAttachment returns a stored file to a party of the referral it belongs
// to. The path must be listed on the referral or one of its consultations.
func (s *ReferralService) ReadAttachment(ctx context.Context, callerID uuid.UUID, p string) ([]byte, error) {
	p = path.Clean(p)
	parts := strings.Split(p, "/")
	if len(parts) != 3 {
		return nil, attachment.ErrInvalidPath
	}
	referralID := strings.TrimSuffix(parts[1], consultationGroupSuffix)

	r, err := authorizeParty(ctx, s.store, referralID, callerID)
	if err != nil {
		return nil, err
	}

	listed := slices.Contains(r.AttachmentPaths, p)
	if !listed {
		consultations, err := s.store.Consultations().ListByReferral(ctx, referralID)
		if err != nil {
			return nil, fmt.Errorf("listing consultations: %w", err)
		}
		for _, c := range consultations {
			if slices.Contains(c.AttachmentPaths, p) {
				listed = true
				break
			}
		}
	}
	if !listed {
		return nil, referral.ErrAttachmentDenied
	}

	return s.files.Read(ctx, p)
}

// authorizeParty loads the referral and checks that the user is its referring
// or addressed doctor.
func authorizeParty(ctx context.Context, store Store, referralID string, userID uuid.UUID) (*referral.Referral, error) {
	r, err := store.Referrals().GetByReferralID(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if r.ReferringDoctorID == userID {
		return r, nil
	}

	u, err := store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !r.IsParty(u.ID, u.Email) {
		return nil, ErrForbidden
	}
	return r, nil
}

func doctorInfo(u *domain.User, withEmail bool) referral.DoctorInfo {
	info := referral.DoctorInfo{
		ID:             u.ID,
		FullName:       u.FullName,
		Specialization: u.Specialization,
		Hospital:       u.Hospital,
	}
	if withEmail {
		info.Email = u.Email
	}
	return info
}

// saveAttachments writes files under owner/group and returns their paths in
// upload order.
func saveAttachments(ctx context.Context, files AttachmentStore, owner, group string, atts []referral.Attachment) ([]string, error) {
	paths := make([]string, 0, len(atts))
	for _, a := range atts {
		p, err := files.Save(ctx, owner, group, a.FileName, a.Data)
		if err != nil {
			if errors.Is(err, attachment.ErrInvalidFileName) || errors.Is(err, attachment.ErrTooLarge) {
				return nil, &ValidationError{Fields: []string{err.Error()}}
			}
			return nil, fmt.Errorf("saving attachment: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// caseDataFor derives the summary input. The additional details blob is
// opaque except for the two keys the summary uses.
func caseDataFor(r *referral.Referral) summary.CaseData {
	d := summary.CaseData{
		PatientName:         r.PatientName,
		PatientAge:          r.PatientAge,
		PatientGender:       string(r.PatientGender),
		ClinicalInformation: r.ClinicalInformation,
		Diagnosis:           r.Diagnosis,
		ReasonForReferral:   r.ReasonForReferral,
	}

	if len(r.AdditionalDetails) == 0 {
		return d
	}
	var extras map[string]json.RawMessage
	if err := json.Unmarshal(r.AdditionalDetails, &extras); err != nil {
		return d
	}
	d.MedicalHistory = detailText(extras["medical_history"])
	d.Medications = detailText(extras["medications"])
	return d
}

// detailText renders a JSON value as text: strings as-is, anything else as
// compact JSON.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func validateCreateReferral(cmd *referral.CreateReferralCommand) error {
	var errs []string

	cmd.ReferredDoctorEmail = strings.ToLower(strings.TrimSpace(cmd.ReferredDoctorEmail))
	cmd.PatientName = strings.TrimSpace(cmd.PatientName)
	cmd.PatientExternalID = strings.TrimSpace(cmd.PatientExternalID)
	cmd.ClinicalInformation = strings.TrimSpace(cmd.ClinicalInformation)
	cmd.ReasonForReferral = strings.TrimSpace(cmd.ReasonForReferral)

	if cmd.ReferringDoctorID == uuid.Nil {
		errs = append(errs, "referring_doctor_id is required")
	}
	if cmd.ReferredDoctorEmail == "" {
		errs = append(errs, "referred_doctor_email is required")
	} else if addr, err := mail.ParseAddress(cmd.ReferredDoctorEmail); err != nil || addr.Address != cmd.ReferredDoctorEmail {
		errs = append(errs, "referred_doctor_email must be a valid address")
	}
	if cmd.PatientName == "" {
		errs = append(errs, "patient_name is required")
	}
	if cmd.PatientAge < 0 || cmd.PatientAge > maxPatientAge {
		errs = append(errs, fmt.Sprintf("patient_age must be between 0 and %d", maxPatientAge))
	}
	if !cmd.PatientGender.IsValid() {
		errs = append(errs, "patient_gender is invalid")
	}
	if cmd.PatientExternalID == "" {
		errs = append(errs, "patient_id is required")
	}
	if cmd.PatientDOB != nil && cmd.PatientDOB.After(time.Now()) {
		errs = append(errs, "patient_dob cannot be in the future")
	}
	if cmd.ClinicalInformation == "" {
		errs = append(errs, "clinical_information is required")
	}
	if cmd.ReasonForReferral == "" {
		errs = append(errs, "reason_for_referral is required")
	}
	if !cmd.Urgency.IsValid() {
		errs = append(errs, "urgency must be Routine, Urgent or Emergency")
	}
	if len(cmd.AdditionalDetails) > 0 && !json.Valid(cmd.AdditionalDetails) {
		errs = append(errs, "additional_details must be valid JSON")
	}
	errs = append(errs, validateAttachmentNames(cmd.Attachments)...)

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateAttachmentNames(atts []referral.Attachment) []string {
	var errs []string
	for _, a := range atts {
		if _, err := attachment.CleanFileName(a.FileName); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
