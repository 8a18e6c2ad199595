package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

const minPasswordLength = 8

type RegisterCommand struct {
	Username       string
	Password       string
	Email          string
	FullName       string
	Specialization string
	Hospital       string
	Department     string
	Role           domain.Role
	IPAddress      string
}

// UpdateProfileCommand changes only the fields that are set. CurrentPassword
// is always required.
type UpdateProfileCommand struct {
	UserID          uuid.UUID
	CurrentPassword string

	FullName       *string
	Email          *string
	Specialization *string
	Hospital       *string
	Department     *string
	NewPassword    *string

	IPAddress string
}

type AuthService struct {
	store      Store
	jwtManager *auth.JWTManager
	auditSvc   *AuditService
	log        *zap.Logger
}

func NewAuthService(store Store, jwtManager *auth.JWTManager, auditSvc *AuditService, log *zap.Logger) *AuthService {
	return &AuthService{store: store, jwtManager: jwtManager, auditSvc: auditSvc, log: log}
}

func (s *AuthService) Register(ctx context.Context, cmd RegisterCommand) (*domain.User, error) {
	if err := validateRegisterCommand(&cmd); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &domain.User{
		Username:       cmd.Username,
		PasswordHash:   string(hash),
		Email:          cmd.Email,
		FullName:       cmd.FullName,
		Specialization: strings.TrimSpace(cmd.Specialization),
		Hospital:       strings.TrimSpace(cmd.Hospital),
		Department:     strings.TrimSpace(cmd.Department),
		Role:           cmd.Role,
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.Users().Create(ctx, u); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, ActivityEntry{
			UserID:    u.ID,
			Type:      domain.ActivityRegistration,
			Details:   fmt.Sprintf("User %s registered as %s", u.Username, u.Role),
			IPAddress: cmd.IPAddress,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateUser) {
			return nil, domain.ErrDuplicateUser
		}
		s.log.Error("failed to register user", zap.Error(err))
		return nil, &StorageError{Op: "registering user", Err: err}
	}

	s.log.Info("user registered",
		zap.String("user_id", u.ID.String()),
		zap.String("role", string(u.Role)),
	)

	return u, nil
}

// Authenticate verifies credentials without issuing tokens.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.store.Users().GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.log.Error("failed to load user", zap.Error(err))
		}
		// Use bcrypt dummy hash to prevent timing-based user enumeration.
		_, _ = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string, ip string) (*domain.TokenPair, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		s.log.Warn("failed login attempt",
			zap.String("username", username),
			zap.String("ip", ip),
		)
		return nil, err
	}

	pair, err := s.jwtManager.GenerateTokenPair(claimsFor(user))
	if err != nil {
		s.log.Error("failed to generate token pair", zap.Error(err))
		return nil, fmt.Errorf("generating tokens: %w", err)
	}

	if err := s.store.Users().UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.log.Warn("failed to update last login", zap.Error(err))
	}

	s.auditSvc.LogAsync(ctx, ActivityEntry{
		UserID:    user.ID,
		Type:      domain.ActivityLogin,
		Details:   "User logged in",
		IPAddress: ip,
	})

	s.log.Info("user logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("ip", ip),
	)

	return pair, nil
}

// RefreshToken issues a new token pair given a valid refresh token.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Re-read the user so role and email changes take effect
	user, err := s.store.Users().GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.jwtManager.GenerateTokenPair(claimsFor(user))
}

func (s *AuthService) Profile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.store.Users().GetByID(ctx, userID)
}

func (s *AuthService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (*domain.User, error) {
	user, err := s.store.Users().GetByID(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.CurrentPassword)); err != nil {
		return nil, ErrInvalidCredentials
	}

	var errs []string
	var changed []string

	if cmd.FullName != nil {
		name := strings.TrimSpace(*cmd.FullName)
		if name == "" {
			errs = append(errs, "full_name must not be empty")
		}
		user.FullName = name
		changed = append(changed, "full_name")
	}
	if cmd.Email != nil {
		email, err := normalizeEmail(*cmd.Email)
		if err != nil {
			errs = append(errs, "email must be a valid address")
		}
		user.Email = email
		changed = append(changed, "email")
	}
	if cmd.Specialization != nil {
		user.Specialization = strings.TrimSpace(*cmd.Specialization)
		changed = append(changed, "specialization")
	}
	if cmd.Hospital != nil {
		user.Hospital = strings.TrimSpace(*cmd.Hospital)
		changed = append(changed, "hospital")
	}
	if cmd.Department != nil {
		user.Department = strings.TrimSpace(*cmd.Department)
		changed = append(changed, "department")
	}
	if cmd.NewPassword != nil {
		if len(*cmd.NewPassword) < minPasswordLength {
			errs = append(errs, fmt.Sprintf("new_password must be at least %d characters", minPasswordLength))
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(*cmd.NewPassword), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hashing password: %w", err)
			}
			user.PasswordHash = string(hash)
			changed = append(changed, "password")
		}
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	if len(changed) == 0 {
		return user, nil
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.Users().Update(ctx, user); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, ActivityEntry{
			UserID:    user.ID,
			Type:      domain.ActivityUpdateProfile,
			Details:   "Updated " + strings.Join(changed, ", "),
			IPAddress: cmd.IPAddress,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateUser) {
			return nil, domain.ErrDuplicateUser
		}
		s.log.Error("failed to update profile", zap.Error(err))
		return nil, &StorageError{Op: "updating profile", Err: err}
	}

	return user, nil
}

func claimsFor(u *domain.User) *domain.Claims {
	return &domain.Claims{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
	}
}

func validateRegisterCommand(cmd *RegisterCommand) error {
	var errs []string

	cmd.Username = strings.TrimSpace(cmd.Username)
	cmd.FullName = strings.TrimSpace(cmd.FullName)

	if cmd.Username == "" {
		errs = append(errs, "username is required")
	} else if len(cmd.Username) > 100 {
		errs = append(errs, "username must be at most 100 characters")
	}
	if len(cmd.Password) < minPasswordLength {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if cmd.FullName == "" {
		errs = append(errs, "full_name is required")
	}

	email, err := normalizeEmail(cmd.Email)
	if err != nil {
		errs = append(errs, "email must be a valid address")
	}
	cmd.Email = email

	if !cmd.Role.IsValid() {
		errs = append(errs, fmt.Sprintf("role must be one of %q, %q or %q",
			domain.RoleReferringDoctor, domain.RoleConsultingDoctor, domain.RoleBoth))
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// normalizeEmail lower-cases a bare address and rejects display-name forms.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errors.New("invalid email")
	}
	return email, nil
}
