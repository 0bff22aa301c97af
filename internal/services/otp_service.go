package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/models"
	"github.com/mayfest/accounts/pkg/crypto"
	appErrors "github.com/mayfest/accounts/pkg/errors"
	"github.com/mayfest/accounts/pkg/logger"
	"github.com/mayfest/accounts/pkg/metrics"
)

const (
	defaultOTPTTL    = 5 * time.Minute
	defaultOTPLength = 4
)

// OTPOption customises the OTPService.
type OTPOption func(*OTPService)

// WithOTPTTL overrides the code lifetime.
func WithOTPTTL(d time.Duration) OTPOption {
	return func(s *OTPService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithOTPLength overrides the number of digits per code.
func WithOTPLength(n int) OTPOption {
	return func(s *OTPService) {
		if n > 0 {
			s.length = n
		}
	}
}

// WithOTPClock injects a custom time source.
func WithOTPClock(clock func() time.Time) OTPOption {
	return func(s *OTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithOTPGenerator replaces the random code generator.
func WithOTPGenerator(fn func(length int) (string, error)) OTPOption {
	return func(s *OTPService) {
		if fn != nil {
			s.generate = fn
		}
	}
}

// OTPService issues and validates the short numeric codes stored on accounts.
// All writes are conditional updates so concurrent requests for the same
// account cannot both win.
type OTPService struct {
	db       *gorm.DB
	ttl      time.Duration
	length   int
	now      func() time.Time
	generate func(length int) (string, error)
	log      *zap.Logger
}

// NewOTPService constructs an OTP service backed by the accounts table.
func NewOTPService(db *gorm.DB, opts ...OTPOption) (*OTPService, error) {
	if db == nil {
		return nil, errors.New("otp service: db is required")
	}

	service := &OTPService{
		db:       db,
		ttl:      defaultOTPTTL,
		length:   defaultOTPLength,
		now:      time.Now,
		generate: crypto.GenerateNumericCode,
		log:      logger.WithModule("otp"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// TTL returns the validity window of new codes.
func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

func (s *OTPService) clock() time.Time {
	return s.now().UTC()
}

// NewCode generates a code and its expiry without persisting it.
func (s *OTPService) NewCode() (string, time.Time, error) {
	code, err := s.generate(s.length)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("otp service: generate code: %w", err)
	}
	return code, s.clock().Add(s.ttl), nil
}

// GetOrCreate returns the account's unexpired code, or stores and returns a
// fresh one when none is active.
func (s *OTPService) GetOrCreate(ctx context.Context, email string) (string, error) {
	account, err := s.loadActive(ctx, email)
	if err != nil {
		return "", err
	}

	now := s.clock()
	if account.HasActiveOTP(now) {
		metrics.OTPIssued.WithLabelValues("reused").Inc()
		return *account.OTP, nil
	}

	code, expiresAt, err := s.NewCode()
	if err != nil {
		return "", err
	}

	result := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND (otp IS NULL OR otp_expires_at IS NULL OR otp_expires_at <= ?)", account.ID, now).
		Updates(map[string]any{"otp": code, "otp_expires_at": expiresAt})
	if result.Error != nil {
		return "", fmt.Errorf("otp service: store code: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		// A concurrent request stored its code first; hand out that one.
		winner, err := findAccountByEmail(ctx, s.db, account.Email)
		if err != nil {
			return "", err
		}
		if !winner.HasActiveOTP(s.clock()) {
			return "", fmt.Errorf("otp service: code for account %s changed concurrently", account.ID)
		}
		metrics.OTPIssued.WithLabelValues("reused").Inc()
		return *winner.OTP, nil
	}

	metrics.OTPIssued.WithLabelValues("created").Inc()
	s.log.Debug("otp issued", zap.String("account_id", account.ID), zap.Time("expires_at", expiresAt))
	return code, nil
}

// Verify checks code and, on success, clears it and marks the email verified.
func (s *OTPService) Verify(ctx context.Context, email, code string) (*models.Account, error) {
	return s.Consume(ctx, email, code, nil)
}

// OTPMutation returns extra column updates to apply together with a consumed
// code. It runs only after the code has been validated.
type OTPMutation func(account *models.Account) (map[string]any, error)

// Consume applies the verification rules and, in the same guarded UPDATE that
// clears the code and sets is_email_verified, writes the columns returned by
// mutate.
//
// Failures: ErrAccountNotFound, ErrAccountInactive, ErrInvalidOTP when no code
// is stored or it differs, ErrOTPExpired when it matches but has expired.
func (s *OTPService) Consume(ctx context.Context, email, code string, mutate OTPMutation) (*models.Account, error) {
	account, err := s.loadActive(ctx, email)
	if err != nil {
		return nil, err
	}

	code = strings.TrimSpace(code)
	if account.OTP == nil || *account.OTP == "" || code == "" || !crypto.ConstantTimeEqual(*account.OTP, code) {
		return nil, appErrors.ErrInvalidOTP
	}
	if account.OTPExpiresAt == nil || !s.clock().Before(*account.OTPExpiresAt) {
		return nil, appErrors.ErrOTPExpired
	}

	updates := map[string]any{}
	if mutate != nil {
		extra, err := mutate(account)
		if err != nil {
			return nil, err
		}
		for column, value := range extra {
			updates[column] = value
		}
	}
	updates["otp"] = nil
	updates["otp_expires_at"] = nil
	updates["is_email_verified"] = true

	result := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND otp = ?", account.ID, *account.OTP).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("otp service: consume code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, appErrors.ErrInvalidOTP
	}

	return findAccountByID(ctx, s.db, account.ID)
}

func (s *OTPService) loadActive(ctx context.Context, email string) (*models.Account, error) {
	account, err := findAccountByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, appErrors.ErrAccountInactive
	}
	return account, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func findAccountByEmail(ctx context.Context, db *gorm.DB, email string) (*models.Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, appErrors.ErrAccountNotFound
	}

	var account models.Account
	err := db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account by email: %w", err)
	}
	return &account, nil
}

func findAccountByID(ctx context.Context, db *gorm.DB, id string) (*models.Account, error) {
	var account models.Account
	err := db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account by id: %w", err)
	}
	return &account, nil
}
