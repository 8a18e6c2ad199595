package referral

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status is shared by referrals and consultations. A consultation's status is
// the authoritative value copied onto its referral.
//
//	Pending → In Progress | Completed | Closed | Requires Additional Information
//	any non-Pending status → any other non-Pending status (via a new consultation)
type Status string

const (
	StatusPending      Status = "Pending"
	StatusInProgress   Status = "In Progress"
	StatusCompleted    Status = "Completed"
	StatusClosed       Status = "Closed"
	StatusRequiresInfo Status = "Requires Additional Information"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusClosed, StatusRequiresInfo:
		return true
	}
	return false
}

// IsConsultationOutcome reports whether a consultation may set the status.
// Nothing moves a referral back to Pending.
func (s Status) IsConsultationOutcome() bool {
	return s.IsValid() && s != StatusPending
}

type Urgency string

const (
	UrgencyRoutine   Urgency = "Routine"
	UrgencyUrgent    Urgency = "Urgent"
	UrgencyEmergency Urgency = "Emergency"
)

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// PathDelimiter separated attachment paths in the legacy export format.
// Paths must never contain it.
const PathDelimiter = ","

type Referral struct {
	// Internal row key. Callers address referrals by ReferralID only.
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	ReferralID string    `gorm:"column:referral_id;type:varchar(36);uniqueIndex;not null" json:"referral_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	ReferringDoctorID uuid.UUID `gorm:"column:referring_doctor_id;type:uuid;not null;index" json:"referring_doctor_id"`
	// Nil until a user with ReferredDoctorEmail is linked.
	ReferredDoctorID    *uuid.UUID `gorm:"column:referred_doctor_id;type:uuid;index" json:"referred_doctor_id,omitempty"`
	ReferredDoctorEmail string     `gorm:"column:referred_doctor_email;type:varchar(255);not null;index" json:"referred_doctor_email"`

	PatientName       string     `gorm:"column:patient_name;type:varchar(200);not null" json:"patient_name"`
	PatientAge        int        `gorm:"column:patient_age;not null" json:"patient_age"`
	PatientGender     Gender     `gorm:"column:patient_gender;type:varchar(10);not null" json:"patient_gender"`
	PatientExternalID string     `gorm:"column:patient_external_id;type:varchar(100);not null" json:"patient_id"`
	PatientDOB        *time.Time `gorm:"column:patient_dob;type:date" json:"patient_dob,omitempty"`
	PatientPhone      string     `gorm:"column:patient_phone;type:varchar(30)" json:"patient_phone,omitempty"`

	ClinicalInformation string  `gorm:"column:clinical_information;type:text;not null" json:"clinical_information"`
	Diagnosis           string  `gorm:"column:diagnosis;type:text" json:"diagnosis,omitempty"`
	ReasonForReferral   string  `gorm:"column:reason_for_referral;type:text;not null" json:"reason_for_referral"`
	Urgency             Urgency `gorm:"column:urgency;type:varchar(20);not null;index" json:"urgency"`
	AdditionalNotes     string  `gorm:"column:additional_notes;type:text" json:"additional_notes,omitempty"`

	AttachmentPaths []string `gorm:"column:attachment_paths;type:jsonb;serializer:json" json:"attachment_paths"`
	// Stored verbatim. The core never looks inside except to feed the summary.
	AdditionalDetails datatypes.JSON `gorm:"column:additional_details;type:jsonb" json:"additional_details,omitempty"`
	AISummary         *string        `gorm:"column:ai_summary;type:text" json:"ai_summary,omitempty"`

	Status Status `gorm:"column:status;type:varchar(40);not null;default:'Pending';index" json:"status"`
	// Reserved. Always 0.
	Priority int `gorm:"column:priority;not null;default:0" json:"priority"`
}

func (Referral) TableName() string {
	return "referral.referrals"
}

// IsAddressedTo reports whether the referral targets the given doctor, either
// through the resolved link or, before linking, through the email address.
func (r *Referral) IsAddressedTo(userID uuid.UUID, email string) bool {
	if r.ReferredDoctorID != nil && *r.ReferredDoctorID == userID {
		return true
	}
	return email != "" && strings.EqualFold(r.ReferredDoctorEmail, email)
}

// IsParty reports whether the user is the referring or the addressed doctor.
func (r *Referral) IsParty(userID uuid.UUID, email string) bool {
	return r.ReferringDoctorID == userID || r.IsAddressedTo(userID, email)
}

// Attachment is an uploaded file not yet written to the attachment store.
type Attachment struct {
	FileName string
	Data     []byte
}

type CreateReferralCommand struct {
	ReferringDoctorID   uuid.UUID
	ReferredDoctorEmail string

	PatientName       string
	PatientAge        int
	PatientGender     Gender
	PatientExternalID string
	PatientDOB        *time.Time
	PatientPhone      string

	ClinicalInformation string
	Diagnosis           string
	ReasonForReferral   string
	Urgency             Urgency
	AdditionalNotes     string

	Attachments       []Attachment
	AdditionalDetails datatypes.JSON

	IPAddress string
}

type CreateResult struct {
	Referral *Referral `json:"referral"`
	// Whether the referred doctor was notified. Informational only.
	Notified bool `json:"notified"`
}

// Lens picks the direction of a referral listing.
type Lens string

const (
	LensReferring  Lens = "referring"
	LensConsulting Lens = "consulting"
)

type ListFilter struct {
	Status      *Status
	Urgency     *Urgency
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// ListItem is one row of a referral listing. CounterpartName is the other
// doctor's name: the referred doctor when listing sent referrals, the referring
// doctor when listing received ones. It is nil for referrals not yet linked.
type ListItem struct {
	ReferralID          string    `json:"referral_id"`
	PatientName         string    `json:"patient_name"`
	PatientAge          int       `json:"patient_age"`
	PatientGender       Gender    `json:"patient_gender"`
	Urgency             Urgency   `json:"urgency"`
	Status              Status    `json:"status"`
	ReferredDoctorEmail string    `json:"referred_doctor_email"`
	CounterpartName     *string   `json:"counterpart_name,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DoctorInfo is the identity of a doctor as shown on a referral.
type DoctorInfo struct {
	ID             uuid.UUID `json:"id"`
	FullName       string    `json:"full_name"`
	Specialization string    `json:"specialization"`
	Hospital       string    `json:"hospital"`
	Email          string    `json:"email,omitempty"`
}
