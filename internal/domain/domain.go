package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("username or email is already registered")
)

// Role decides which referral lens a doctor sees by default. The set is closed;
// registration rejects anything else.
type Role string

const (
	RoleReferringDoctor  Role = "Referring Doctor"
	RoleConsultingDoctor Role = "Consulting Doctor"
	RoleBoth             Role = "Both"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleReferringDoctor, RoleConsultingDoctor, RoleBoth:
		return true
	}
	return false
}

// CanRefer reports whether the role may create referrals.
func (r Role) CanRefer() bool {
	return r == RoleReferringDoctor || r == RoleBoth
}

// CanConsult reports whether the role may answer referrals.
func (r Role) CanConsult() bool {
	return r == RoleConsultingDoctor || r == RoleBoth
}

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"registered_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Username     string `gorm:"column:username;type:varchar(100);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	Email        string `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	FullName     string `gorm:"column:full_name;type:varchar(200);not null" json:"full_name"`

	Specialization string `gorm:"column:specialization;type:varchar(100)" json:"specialization"`
	Hospital       string `gorm:"column:hospital;type:varchar(200)" json:"hospital"`
	Department     string `gorm:"column:department;type:varchar(100)" json:"department,omitempty"`
	Role           Role   `gorm:"column:role;type:varchar(30);not null;index" json:"role"`

	LastLoginAt *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
}

func (User) TableName() string {
	return "auth.users"
}

// ActivityType is string-backed so new kinds of activity can be logged
// without a schema change.
type ActivityType string

const (
	ActivityRegistration       ActivityType = "Registration"
	ActivityLogin              ActivityType = "Login"
	ActivityCreateReferral     ActivityType = "Create Referral"
	ActivitySubmitConsultation ActivityType = "Submit Consultation"
	ActivityUpdateProfile      ActivityType = "Update Profile"
	ActivityRelinkReferrals    ActivityType = "Relink Referrals"
)

// ActivityLog is append-only. Nothing in the lifecycle reads it back to make decisions.
type ActivityLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OccurredAt time.Time `gorm:"column:occurred_at;autoCreateTime;index" json:"occurred_at"`

	UserID       uuid.UUID    `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	ActivityType ActivityType `gorm:"column:activity_type;type:varchar(50);not null;index" json:"activity_type"`
	Details      string       `gorm:"column:details;type:text" json:"details"`
	ReferralID   *string      `gorm:"column:referral_id;type:varchar(36);index" json:"referral_id,omitempty"`
	IPAddress    string       `gorm:"column:ip_address;type:varchar(45)" json:"ip_address,omitempty"` // Supports IPv6
}

func (ActivityLog) TableName() string {
	return "audit.activity_logs"
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"` // Always "Bearer"
}

type Claims struct {
	UserID   uuid.UUID `json:"sub"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     Role      `json:"role"`
}
