package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/medref/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type userRepository struct {
	db      *gorm.DB
	metrics *metrics.Collector
}

func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	defer observe(r.metrics, "insert", "users")()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.first(ctx, "lower(email) = lower(?)", email)
}

func (r *userRepository) first(ctx context.Context, query string, arg any) (*domain.User, error) {
	defer observe(r.metrics, "select", "users")()

	var u domain.User
	if err := r.db.WithContext(ctx).Where(query, arg).First(&u).Error; err != nil {
		if isNotFound(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer observe(r.metrics, "update", "users")()

	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		UpdateColumn("last_login_at", at)
	if res.Error != nil {
		return fmt.Errorf("updating last login: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *userRepository) Update(ctx context.Context, u *domain.User) error {
	defer observe(r.metrics, "update", "users")()

	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"email":          u.Email,
			"full_name":      u.FullName,
			"specialization": u.Specialization,
			"hospital":       u.Hospital,
			"department":     u.Department,
			"password_hash":  u.PasswordHash,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateUser
		}
		return fmt.Errorf("updating user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
