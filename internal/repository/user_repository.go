package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound reports that no matching row exists.
var ErrNotFound = gorm.ErrRecordNotFound

// UserRepository provides persistence APIs for user accounts.
type UserRepository struct {
	db *gorm.DB
	retrier
}

// NewUserRepository creates a new repository instance.
func NewUserRepository(db *gorm.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, retrier: newRetrier(logger.Named("user_repository"))}
}

// AutoMigrate ensures the schema is available.
func (r *UserRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&User{})
}

// Create persists a new user row.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	return r.executeWithRetry(ctx, "user_repository.create", user.Email, func() error {
		return r.db.WithContext(ctx).Create(user).Error
	})
}

// FindByUsername retrieves a user by login name.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail retrieves a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
