package consultation

import (
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/google/uuid"
)

// Consultation is a consulting doctor's response to a referral. A referral
// may collect several; the most recent one is "the" consultation.
type Consultation struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferralID string    `gorm:"column:referral_id;type:varchar(36);not null;index" json:"referral_id"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index" json:"consultation_date"`

	ConsultingDoctorID uuid.UUID `gorm:"column:consulting_doctor_id;type:uuid;not null;index" json:"consulting_doctor_id"`

	Assessment           string `gorm:"column:assessment;type:text;not null" json:"assessment"`
	Recommendation       string `gorm:"column:recommendation;type:text;not null" json:"recommendation"`
	Diagnosis            string `gorm:"column:diagnosis;type:text" json:"diagnosis,omitempty"`
	TreatmentPlan        string `gorm:"column:treatment_plan;type:text" json:"treatment_plan,omitempty"`
	Medications          string `gorm:"column:medications;type:text" json:"medications,omitempty"`
	AdditionalInfoNeeded string `gorm:"column:additional_info_needed;type:text" json:"additional_information_needed,omitempty"`

	FollowUpRequired  bool   `gorm:"column:follow_up_required;not null;default:false" json:"follow_up_required"`
	FollowUpTimeframe string `gorm:"column:follow_up_timeframe;type:varchar(100)" json:"follow_up_timeframe,omitempty"`

	AttachmentPaths []string        `gorm:"column:attachment_paths;type:jsonb;serializer:json" json:"attachment_paths"`
	Status          referral.Status `gorm:"column:status;type:varchar(40);not null" json:"status"`
}

func (Consultation) TableName() string {
	return "referral.consultations"
}

type SubmitCommand struct {
	ReferralID string
	DoctorID   uuid.UUID

	Assessment           string
	Recommendation       string
	AdditionalInfoNeeded string
	Diagnosis            string
	TreatmentPlan        string
	Medications          string
	FollowUpRequired     bool
	FollowUpTimeframe    string

	Status  referral.Status
	Comment string

	Attachments []referral.Attachment
	IPAddress   string
}

type SubmitResult struct {
	Consultation   *Consultation   `json:"consultation"`
	PreviousStatus referral.Status `json:"previous_status"`
	// Whether the referring doctor was notified. Informational only.
	Notified bool `json:"notified"`
}

// View pairs a consultation with the consulting doctor's name for display.
type View struct {
	*Consultation
	ConsultingDoctorName string `json:"consulting_doctor_name"`
}
