package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/attachment"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/datatypes"
)

func TestCreateReferral_EmergencyScenario(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	cardio := env.addDoctor(t, "cardio", "cardio@example.com", domain.RoleConsultingDoctor)

	res, err := env.referrals.Create(context.Background(), validReferral(referrer.ID, "cardio@example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := res.Referral
	if r.ReferralID == "" {
		t.Fatal("expected a referral id")
	}
	if r.Status != referral.StatusPending {
		t.Errorf("expected status Pending, got %q", r.Status)
	}
	if r.Priority != 0 {
		t.Errorf("expected priority 0, got %d", r.Priority)
	}
	if r.ReferredDoctorID == nil || *r.ReferredDoctorID != cardio.ID {
		t.Errorf("expected referral linked to %s, got %v", cardio.ID, r.ReferredDoctorID)
	}
	if !res.Notified {
		t.Error("expected Notified=true")
	}

	entries := env.store.activityOf(domain.ActivityCreateReferral)
	if len(entries) != 1 {
		t.Fatalf("expected 1 Create Referral entry, got %d", len(entries))
	}
	if entries[0].ReferralID == nil || *entries[0].ReferralID != r.ReferralID {
		t.Errorf("expected activity tagged with %s, got %v", r.ReferralID, entries[0].ReferralID)
	}
	if entries[0].UserID != referrer.ID {
		t.Errorf("expected actor %s, got %s", referrer.ID, entries[0].UserID)
	}

	stored, err := env.store.Referrals().GetByReferralID(context.Background(), r.ReferralID)
	if err != nil {
		t.Fatalf("reading back referral: %v", err)
	}
	if stored.PatientName != "J. Doe" || stored.ReasonForReferral != "chest pain" || stored.Urgency != referral.UrgencyEmergency {
		t.Errorf("unexpected stored referral: %+v", stored)
	}

	if len(env.notifier.referrals) != 1 {
		t.Fatalf("expected 1 referral notice, got %d", len(env.notifier.referrals))
	}
	notice := env.notifier.referrals[0]
	if notice.RecipientEmail != "cardio@example.com" || notice.ReferralID != r.ReferralID {
		t.Errorf("unexpected notice: %+v", notice)
	}
	if notice.ReferringDoctorName != referrer.FullName {
		t.Errorf("expected referring doctor %q, got %q", referrer.FullName, notice.ReferringDoctorName)
	}

	if got := testutil.ToFloat64(env.metrics.ReferralsCreatedTotal.WithLabelValues("Emergency")); got != 1 {
		t.Errorf("expected referrals_created_total{urgency=Emergency}=1, got %v", got)
	}
}

func TestCreateReferral_NoHistoryUntilFirstConsultation(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	r := env.createReferral(t, referrer.ID, "cardio@example.com")

	history, err := env.ledger.History(context.Background(), r.ReferralID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected no history entries, got %d", len(history))
	}
}

func TestCreateReferral_IDsAreUnique(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		r := env.createReferral(t, referrer.ID, "cardio@example.com")
		if seen[r.ReferralID] {
			t.Fatalf("referral id %s issued twice", r.ReferralID)
		}
		if _, err := uuid.Parse(r.ReferralID); err != nil {
			t.Errorf("expected a UUID referral id, got %q", r.ReferralID)
		}
		seen[r.ReferralID] = true
	}
}

func TestCreateReferral_FailedCreateDoesNotReuseID(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	env.store.fail("activity.create", errors.New("disk full"))
	if _, err := env.referrals.Create(context.Background(), validReferral(referrer.ID, "cardio@example.com")); err == nil {
		t.Fatal("expected error")
	}
	env.store.fail("activity.create", nil)

	a := env.createReferral(t, referrer.ID, "cardio@example.com")
	b := env.createReferral(t, referrer.ID, "cardio@example.com")
	if a.ReferralID == b.ReferralID {
		t.Errorf("expected distinct ids, got %s twice", a.ReferralID)
	}
}

func TestCreateReferral_UnknownEmailStaysUnlinked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	r := env.createReferral(t, referrer.ID, "newdoc@example.com")
	if r.ReferredDoctorID != nil {
		t.Fatalf("expected unlinked referral, got %v", r.ReferredDoctorID)
	}

	// Registering the address later does not link existing referrals.
	env.addDoctor(t, "newdoc", "newdoc@example.com", domain.RoleConsultingDoctor)

	stored, err := env.store.Referrals().GetByReferralID(ctx, r.ReferralID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ReferredDoctorID != nil {
		t.Errorf("expected referral to remain unlinked after registration, got %v", stored.ReferredDoctorID)
	}
}

func TestCreateReferral_EmailMatchIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	cardio := env.addDoctor(t, "cardio", "cardio@example.com", domain.RoleConsultingDoctor)

	r := env.createReferral(t, referrer.ID, "  Cardio@Example.COM ")

	if r.ReferredDoctorEmail != "cardio@example.com" {
		t.Errorf("expected normalized email, got %q", r.ReferredDoctorEmail)
	}
	if r.ReferredDoctorID == nil || *r.ReferredDoctorID != cardio.ID {
		t.Errorf("expected link to %s, got %v", cardio.ID, r.ReferredDoctorID)
	}
}

func TestRelinkByEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	r1 := env.createReferral(t, referrer.ID, "newdoc@example.com")
	r2 := env.createReferral(t, referrer.ID, "someone-else@example.com")
	newdoc := env.addDoctor(t, "newdoc", "newdoc@example.com", domain.RoleConsultingDoctor)

	n, err := env.referrals.RelinkByEmail(ctx, referrer.ID, "10.0.0.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 linked referral, got %d", n)
	}

	linked, _ := env.store.Referrals().GetByReferralID(ctx, r1.ReferralID)
	if linked.ReferredDoctorID == nil || *linked.ReferredDoctorID != newdoc.ID {
		t.Errorf("expected %s linked to %s, got %v", r1.ReferralID, newdoc.ID, linked.ReferredDoctorID)
	}
	other, _ := env.store.Referrals().GetByReferralID(ctx, r2.ReferralID)
	if other.ReferredDoctorID != nil {
		t.Errorf("expected %s to stay unlinked", r2.ReferralID)
	}

	if got := len(env.store.activityOf(domain.ActivityRelinkReferrals)); got != 1 {
		t.Errorf("expected 1 Relink Referrals entry, got %d", got)
	}
}

func TestCreateReferral_SummaryStored(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	cmd := validReferral(referrer.ID, "cardio@example.com")
	cmd.AdditionalDetails = datatypes.JSON(`{"medical_history":"Hypertension","medications":["aspirin","atorvastatin"],"vitals":{"bp":"150/95"}}`)

	res, err := env.referrals.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Referral.AISummary == nil || *res.Referral.AISummary != "Suspected acute coronary syndrome." {
		t.Errorf("expected stored summary, got %v", res.Referral.AISummary)
	}
	if env.summarizer.last.MedicalHistory != "Hypertension" {
		t.Errorf("expected medical history from details, got %q", env.summarizer.last.MedicalHistory)
	}
	if env.summarizer.last.Medications != `["aspirin","atorvastatin"]` {
		t.Errorf("expected medications from details, got %q", env.summarizer.last.Medications)
	}
	if string(res.Referral.AdditionalDetails) != string(cmd.AdditionalDetails) {
		t.Errorf("expected additional details stored verbatim, got %s", res.Referral.AdditionalDetails)
	}
}

func TestCreateReferral_SummaryFailureIsNotFatal(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fakeSummarizer, s *ReferralService)
	}{
		{"error", func(f *fakeSummarizer, _ *ReferralService) { f.err = errors.New("upstream 503") }},
		{"panic", func(f *fakeSummarizer, _ *ReferralService) { f.panicWith = "nil map write" }},
		{"timeout", func(f *fakeSummarizer, s *ReferralService) {
			f.delay = time.Second
			s.summaryTimeout = 20 * time.Millisecond
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
			tc.setup(env.summarizer, env.referrals)

			res, err := env.referrals.Create(context.Background(), validReferral(referrer.ID, "cardio@example.com"))
			if err != nil {
				t.Fatalf("expected creation to succeed, got %v", err)
			}
			if res.Referral.AISummary != nil {
				t.Errorf("expected empty summary, got %q", *res.Referral.AISummary)
			}

			stored, err := env.store.Referrals().GetByReferralID(context.Background(), res.Referral.ReferralID)
			if err != nil {
				t.Fatalf("expected persisted referral: %v", err)
			}
			if stored.AISummary != nil {
				t.Errorf("expected no persisted summary, got %q", *stored.AISummary)
			}
			if got := testutil.ToFloat64(env.metrics.SummaryFailuresTotal); got != 1 {
				t.Errorf("expected summary_failures_total=1, got %v", got)
			}
		})
	}
}

func TestCreateReferral_WithoutSummarizer(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	env.referrals.summarizer = nil

	res, err := env.referrals.Create(context.Background(), validReferral(referrer.ID, "cardio@example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Referral.AISummary != nil {
		t.Errorf("expected no summary, got %q", *res.Referral.AISummary)
	}
	if got := testutil.ToFloat64(env.metrics.SummaryFailuresTotal); got != 0 {
		t.Errorf("expected no summary failures, got %v", got)
	}
}

func TestCreateReferral_NotificationFailureKeepsReferral(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	env.notifier.err = errors.New("smtp: connection refused")

	res, err := env.referrals.Create(context.Background(), validReferral(referrer.ID, "cardio@example.com"))
	if err != nil {
		t.Fatalf("expected creation to succeed, got %v", err)
	}
	if res.Notified {
		t.Error("expected Notified=false")
	}
	if _, err := env.store.Referrals().GetByReferralID(context.Background(), res.Referral.ReferralID); err != nil {
		t.Errorf("expected referral persisted, got %v", err)
	}
	if got := testutil.ToFloat64(env.metrics.NotificationFailuresTotal.WithLabelValues(eventReferralCreated)); got != 1 {
		t.Errorf("expected notification_failures_total=1, got %v", got)
	}
}

func TestCreateReferral_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	cases := map[string]func(c *referral.CreateReferralCommand){
		"missing patient name": func(c *referral.CreateReferralCommand) { c.PatientName = "  " },
		"negative age":         func(c *referral.CreateReferralCommand) { c.PatientAge = -1 },
		"bad gender":           func(c *referral.CreateReferralCommand) { c.PatientGender = "X" },
		"missing patient id":   func(c *referral.CreateReferralCommand) { c.PatientExternalID = "" },
		"missing clinical":     func(c *referral.CreateReferralCommand) { c.ClinicalInformation = "" },
		"missing reason":       func(c *referral.CreateReferralCommand) { c.ReasonForReferral = "" },
		"bad urgency":          func(c *referral.CreateReferralCommand) { c.Urgency = "Whenever" },
		"bad email":            func(c *referral.CreateReferralCommand) { c.ReferredDoctorEmail = "not-an-email" },
		"missing email":        func(c *referral.CreateReferralCommand) { c.ReferredDoctorEmail = "" },
		"invalid details json": func(c *referral.CreateReferralCommand) { c.AdditionalDetails = datatypes.JSON(`{"a":`) },
		"delimiter in file name": func(c *referral.CreateReferralCommand) {
			c.Attachments = []referral.Attachment{{FileName: "ecg,1.pdf", Data: []byte("x")}}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := validReferral(referrer.ID, "cardio@example.com")
			mutate(cmd)

			_, err := env.referrals.Create(context.Background(), cmd)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	refs, _, _, activity := env.store.counts()
	if refs != 0 || activity != 0 {
		t.Errorf("expected no writes, got %d referrals and %d activity entries", refs, activity)
	}
	if env.summarizer.calls != 0 {
		t.Errorf("expected summarizer not called, got %d calls", env.summarizer.calls)
	}
}

func TestCreateReferral_UnknownReferrer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.referrals.Create(context.Background(), validReferral(uuid.New(), "cardio@example.com"))
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateReferral_StorageFailureRollsBack(t *testing.T) {
	for _, op := range []string{"referrals.create", "activity.create"} {
		t.Run(op, func(t *testing.T) {
			env := newTestEnv(t)
			referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
			env.store.fail(op, errors.New("connection reset"))

			_, err := env.referrals.Create(context.Background(), validReferral(referrer.ID, "cardio@example.com"))

			var sErr *StorageError
			if !errors.As(err, &sErr) {
				t.Fatalf("expected StorageError, got %v", err)
			}
			refs, _, _, activity := env.store.counts()
			if refs != 0 || activity != 0 {
				t.Errorf("expected rollback, got %d referrals and %d activity entries", refs, activity)
			}
			if len(env.notifier.referrals) != 0 {
				t.Error("expected no notification for a failed create")
			}
		})
	}
}

func TestCreateReferral_Attachments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	cardio := env.addDoctor(t, "cardio", "cardio@example.com", domain.RoleConsultingDoctor)
	stranger := env.addDoctor(t, "stranger", "stranger@example.com", domain.RoleBoth)

	cmd := validReferral(referrer.ID, "cardio@example.com")
	cmd.Attachments = []referral.Attachment{
		{FileName: "ecg.pdf", Data: []byte("ecg")},
		{FileName: "../../labs.txt", Data: []byte("troponin")},
	}

	res, err := env.referrals.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := res.Referral
	want := []string{
		referrer.ID.String() + "/" + r.ReferralID + "/ecg.pdf",
		referrer.ID.String() + "/" + r.ReferralID + "/labs.txt",
	}
	if len(r.AttachmentPaths) != len(want) {
		t.Fatalf("expected %d paths, got %v", len(want), r.AttachmentPaths)
	}
	for i := range want {
		if r.AttachmentPaths[i] != want[i] {
			t.Errorf("path %d: expected %q, got %q", i, want[i], r.AttachmentPaths[i])
		}
		if strings.Contains(r.AttachmentPaths[i], referral.PathDelimiter) {
			t.Errorf("path %q contains the delimiter", r.AttachmentPaths[i])
		}
	}

	data, err := env.referrals.ReadAttachment(ctx, cardio.ID, want[0])
	if err != nil {
		t.Fatalf("reading as referred doctor: %v", err)
	}
	if string(data) != "ecg" {
		t.Errorf("expected %q, got %q", "ecg", data)
	}

	if _, err := env.referrals.ReadAttachment(ctx, stranger.ID, want[0]); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for a stranger, got %v", err)
	}

	unlisted := referrer.ID.String() + "/" + r.ReferralID + "/other.pdf"
	if _, err := env.referrals.ReadAttachment(ctx, referrer.ID, unlisted); !errors.Is(err, referral.ErrAttachmentDenied) {
		t.Errorf("expected ErrAttachmentDenied, got %v", err)
	}
}

func TestCreateReferral_AttachmentsWrittenBeforeRow(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	env.store.fail("referrals.create", errors.New("constraint violation"))

	root := t.TempDir()
	files, err := attachment.NewLocalStore(root, 0)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	env.referrals.files = files

	cmd := validReferral(referrer.ID, "cardio@example.com")
	cmd.Attachments = []referral.Attachment{{FileName: "ecg.pdf", Data: []byte("ecg")}}

	if _, err := env.referrals.Create(context.Background(), cmd); err == nil {
		t.Fatal("expected error")
	}

	// The orphaned file stays on disk; only the row is rolled back.
	matches, _ := filepath.Glob(filepath.Join(root, referrer.ID.String(), "*", "ecg.pdf"))
	if len(matches) != 1 {
		t.Errorf("expected 1 orphaned attachment, got %v", matches)
	}
}

func TestListReferrals_Lenses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	cardio := env.addDoctor(t, "cardio", "cardio@example.com", domain.RoleConsultingDoctor)

	first := env.createReferral(t, referrer.ID, "cardio@example.com")
	env.createReferral(t, referrer.ID, "neuro@example.com")
	last := env.createReferral(t, referrer.ID, "CARDIO@example.com")

	sent, err := env.referrals.List(ctx, referrer.ID, referral.LensReferring, referral.ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sent) != 3 {
		t.Fatalf("expected 3 sent referrals, got %d", len(sent))
	}
	if sent[0].ReferralID != last.ReferralID {
		t.Errorf("expected newest first, got %s", sent[0].ReferralID)
	}
	if sent[1].CounterpartName != nil {
		t.Errorf("expected no counterpart for unlinked referral, got %q", *sent[1].CounterpartName)
	}
	if sent[0].CounterpartName == nil || *sent[0].CounterpartName != cardio.FullName {
		t.Errorf("expected counterpart %q, got %v", cardio.FullName, sent[0].CounterpartName)
	}

	received, err := env.referrals.List(ctx, cardio.ID, referral.LensConsulting, referral.ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("expected 2 received referrals, got %d", len(received))
	}
	if received[0].ReferralID != last.ReferralID || received[1].ReferralID != first.ReferralID {
		t.Errorf("unexpected order: %s, %s", received[0].ReferralID, received[1].ReferralID)
	}
	if received[0].CounterpartName == nil || *received[0].CounterpartName != referrer.FullName {
		t.Errorf("expected counterpart %q, got %v", referrer.FullName, received[0].CounterpartName)
	}
}

func TestListReferrals_UnlinkedReachesRecipientByEmail(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	r := env.createReferral(t, referrer.ID, "newdoc@example.com")
	newdoc := env.addDoctor(t, "newdoc", "newdoc@example.com", domain.RoleConsultingDoctor)

	items, err := env.referrals.List(context.Background(), newdoc.ID, referral.LensConsulting, referral.ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ReferralID != r.ReferralID {
		t.Errorf("expected the email-addressed referral, got %+v", items)
	}
}

func TestListReferrals_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	cardio := env.addDoctor(t, "cardio", "cardio@example.com", domain.RoleConsultingDoctor)

	done := env.createReferral(t, referrer.ID, "cardio@example.com")
	env.createReferral(t, referrer.ID, "cardio@example.com")

	_, err := env.consultations.Submit(ctx, validConsultation(done.ReferralID, cardio.ID, referral.StatusCompleted))
	if err != nil {
		t.Fatalf("submitting: %v", err)
	}

	items, err := env.referrals.List(ctx, referrer.ID, referral.LensReferring, referral.ListFilter{Status: statusPtr(referral.StatusCompleted)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ReferralID != done.ReferralID {
		t.Errorf("expected only the completed referral, got %+v", items)
	}

	_, err = env.referrals.List(ctx, referrer.ID, referral.LensReferring, referral.ListFilter{Status: statusPtr("Lost")})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for unknown status, got %v", err)
	}
}

func TestDefaultLens(t *testing.T) {
	cases := map[domain.Role]referral.Lens{
		domain.RoleReferringDoctor:  referral.LensReferring,
		domain.RoleConsultingDoctor: referral.LensConsulting,
		domain.RoleBoth:             referral.LensReferring,
	}
	for role, want := range cases {
		if got := DefaultLens(role); got != want {
			t.Errorf("DefaultLens(%q): expected %q, got %q", role, want, got)
		}
	}
}

func TestGetDetails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)

	r := env.createReferral(t, referrer.ID, "newdoc@example.com")

	d, err := env.referrals.GetDetails(ctx, r.ReferralID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ReferringDoctor.ID != referrer.ID || d.ReferringDoctor.Email != referrer.Email {
		t.Errorf("unexpected referring doctor: %+v", d.ReferringDoctor)
	}
	if d.ReferredDoctor != nil {
		t.Errorf("expected no referred doctor before linking, got %+v", d.ReferredDoctor)
	}
	if d.Consultation != nil {
		t.Errorf("expected no consultation, got %+v", d.Consultation)
	}

	if _, err := env.referrals.GetDetails(ctx, "does-not-exist"); !errors.Is(err, referral.ErrReferralNotFound) {
		t.Errorf("expected ErrReferralNotFound, got %v", err)
	}
}

func TestViewDetails_RequiresParty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	referrer := env.addDoctor(t, "gp", "gp@example.com", domain.RoleReferringDoctor)
	cardio := env.addDoctor(t, "cardio", "cardio@example.com", domain.RoleConsultingDoctor)
	stranger := env.addDoctor(t, "stranger", "stranger@example.com", domain.RoleBoth)

	r := env.createReferral(t, referrer.ID, "cardio@example.com")

	for _, viewer := range []uuid.UUID{referrer.ID, cardio.ID} {
		if _, err := env.referrals.ViewDetails(ctx, r.ReferralID, viewer); err != nil {
			t.Errorf("viewer %s: unexpected error %v", viewer, err)
		}
	}
	if _, err := env.referrals.ViewDetails(ctx, r.ReferralID, stranger.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.referrals.History(ctx, r.ReferralID, stranger.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for history, got %v", err)
	}
}

func TestDetailText(t *testing.T) {
	if got := detailText(nil); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	if got := detailText([]byte(`null`)); got != "" {
		t.Errorf("expected empty for null, got %q", got)
	}
	if got := detailText([]byte(`"asthma"`)); got != "asthma" {
		t.Errorf("expected asthma, got %q", got)
	}
	if got := detailText([]byte(`{"smoker":true}`)); got != `{"smoker":true}` {
		t.Errorf("expected raw JSON, got %q", got)
	}
}

func TestCaseDataFor_IgnoresNonObjectDetails(t *testing.T) {
	r := &referral.Referral{PatientName: "J. Doe", AdditionalDetails: datatypes.JSON(`[1,2,3]`)}

	d := caseDataFor(r)
	if d.PatientName != "J. Doe" || d.MedicalHistory != "" || d.Medications != "" {
		t.Errorf("unexpected case data: %+v", d)
	}
}
