package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/mammoscan/internal/auth"
	"github.com/example/mammoscan/internal/logging"
	"github.com/example/mammoscan/internal/otp"
	"github.com/example/mammoscan/internal/repository"
)

// Sentinel errors the HTTP layer maps onto status codes.
var (
	ErrEmailTaken            = errors.New("email already registered")
	ErrNoPendingRegistration = errors.New("no pending registration for this email")
	ErrInvalidOTP            = errors.New("invalid otp")
	ErrInvalidCredentials    = errors.New("invalid username or password")
)

// UserRepository defines the persistence operations needed by the auth flow.
type UserRepository interface {
	Create(ctx context.Context, user *repository.User) error
	FindByUsername(ctx context.Context, username string) (*repository.User, error)
	FindByEmail(ctx context.Context, email string) (*repository.User, error)
}

// OTPMailer delivers one-time codes.
type OTPMailer interface {
	SendOTP(to, code string) error
}

// AuthUseCase drives the register / verify-otp / login state machine.
type AuthUseCase struct {
	users   UserRepository
	pending otp.PendingStore
	mailer  OTPMailer
	tokens  *auth.JWTManager
	otpTTL  time.Duration
	logger  *zap.Logger
}

// NewAuthUseCase constructs a new use case instance.
func NewAuthUseCase(users UserRepository, pending otp.PendingStore, mailer OTPMailer, tokens *auth.JWTManager, otpTTL time.Duration, logger *zap.Logger) *AuthUseCase {
	return &AuthUseCase{
		users:   users,
		pending: pending,
		mailer:  mailer,
		tokens:  tokens,
		otpTTL:  otpTTL,
		logger:  logger.Named("auth_usecase"),
	}
}

// Register issues an OTP for a new email and stores the pending
// registration. Registering an email that already belongs to a verified
// user fails; re-registering a pending email overwrites the earlier entry.
func (uc *AuthUseCase) Register(ctx context.Context, username, password, email string) error {
	user, err := uc.users.FindByEmail(ctx, email)
	if err == nil && user.IsVerified {
		return ErrEmailTaken
	}
	if err != nil && !repository.IsNotFound(err) {
		return logging.NewOperationError("auth.find_by_email", email, err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	code, err := otp.GenerateCode()
	if err != nil {
		return err
	}

	entry := otp.PendingRegistration{
		Email:    email,
		Username: username,
		Password: string(hashed),
		Code:     code,
	}
	if err := uc.pending.Save(ctx, entry, uc.otpTTL); err != nil {
		return logging.NewOperationError("auth.save_pending", email, err)
	}

	if err := uc.mailer.SendOTP(email, code); err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}

	uc.logger.Info("otp issued", zap.String("email", email))
	return nil
}

// VerifyOTP promotes a pending registration to a verified user when the
// code matches. A mismatch leaves the pending state intact so the attempt
// is retryable; a match consumes it, so a second verification fails.
func (uc *AuthUseCase) VerifyOTP(ctx context.Context, email, code string) error {
	entry, err := uc.pending.Get(ctx, email)
	if err != nil {
		return logging.NewOperationError("auth.get_pending", email, err)
	}
	if entry == nil {
		return ErrNoPendingRegistration
	}
	if code == "" || entry.Code != code {
		return ErrInvalidOTP
	}

	user := &repository.User{
		Username:   entry.Username,
		Password:   entry.Password,
		Email:      email,
		IsVerified: true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.users.Create(ctx, user); err != nil {
		return logging.NewOperationError("auth.create_user", email, err)
	}

	if err := uc.pending.Delete(ctx, email); err != nil {
		uc.logger.Warn("failed to discard pending registration", zap.String("email", email), zap.Error(err))
	}

	uc.logger.Info("user verified", zap.String("email", email))
	return nil
}

// Login authenticates a verified user and issues an access token.
func (uc *AuthUseCase) Login(ctx context.Context, username, password string) (*repository.User, string, error) {
	user, err := uc.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if !user.IsVerified {
		return nil, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := uc.tokens.GenerateToken(user.Username)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}
