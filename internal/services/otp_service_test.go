package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/database/testutil"
	"github.com/mayfest/accounts/internal/models"
	appErrors "github.com/mayfest/accounts/pkg/errors"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// sequenceCodes returns "0001", "0002", ... on successive calls.
func sequenceCodes() func(int) (string, error) {
	n := 0
	return func(length int) (string, error) {
		n++
		return fmt.Sprintf("%0*d", length, n), nil
	}
}

func createAccount(t *testing.T, db *gorm.DB, email string, mutate func(*models.Account)) *models.Account {
	t.Helper()
	account := &models.Account{Email: email}
	if mutate != nil {
		mutate(account)
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func newOTPServiceForTest(t *testing.T, db *gorm.DB, clock *testClock) *OTPService {
	t.Helper()
	svc, err := NewOTPService(db, WithOTPClock(clock.Now), WithOTPGenerator(sequenceCodes()))
	require.NoError(t, err)
	return svc
}

func TestNewOTPServiceRequiresDB(t *testing.T) {
	_, err := NewOTPService(nil)
	require.Error(t, err)
}

func TestOTPServiceDefaults(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewOTPService(db)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, svc.TTL())

	code, expiresAt, err := svc.NewCode()
	require.NoError(t, err)
	require.Len(t, code, 4)
	require.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, 5*time.Second)
}

func TestOTPGetOrCreateReusesActiveCode(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc := newOTPServiceForTest(t, db, clock)
	createAccount(t, db, "a@example.com", nil)

	ctx := context.Background()
	first, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "0001", first)

	clock.Advance(4 * time.Minute)
	second, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, first, second)

	var stored models.Account
	require.NoError(t, db.Where("email = ?", "a@example.com").Take(&stored).Error)
	require.NotNil(t, stored.OTPExpiresAt)
	require.True(t, stored.OTPExpiresAt.Equal(clock.Now().Add(time.Minute)))
}

func TestOTPGetOrCreateReplacesExpiredCode(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc := newOTPServiceForTest(t, db, clock)
	createAccount(t, db, "a@example.com", nil)

	ctx := context.Background()
	first, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	second, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	var stored models.Account
	require.NoError(t, db.Where("email = ?", "a@example.com").Take(&stored).Error)
	require.Equal(t, second, *stored.OTP)
	require.True(t, stored.OTPExpiresAt.Equal(clock.Now().Add(5*time.Minute)))
}

func TestOTPGetOrCreateFailures(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newOTPServiceForTest(t, db, newTestClock())
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, "missing@example.com")
	require.ErrorIs(t, err, appErrors.ErrAccountNotFound)

	account := createAccount(t, db, "off@example.com", nil)
	require.NoError(t, db.Model(account).Update("is_active", false).Error)

	_, err = svc.GetOrCreate(ctx, "off@example.com")
	require.ErrorIs(t, err, appErrors.ErrAccountInactive)
}

func TestOTPVerify(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc := newOTPServiceForTest(t, db, clock)
	createAccount(t, db, "a@example.com", nil)
	ctx := context.Background()

	code, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, "a@example.com", "9999")
	require.ErrorIs(t, err, appErrors.ErrInvalidOTP)

	account, err := svc.Verify(ctx, "a@example.com", code)
	require.NoError(t, err)
	require.True(t, account.IsEmailVerified)
	require.Nil(t, account.OTP)
	require.Nil(t, account.OTPExpiresAt)

	_, err = svc.Verify(ctx, "a@example.com", code)
	require.ErrorIs(t, err, appErrors.ErrInvalidOTP)
}

func TestOTPVerifyExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc := newOTPServiceForTest(t, db, clock)
	createAccount(t, db, "a@example.com", nil)
	ctx := context.Background()

	code, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = svc.Verify(ctx, "a@example.com", code)
	require.ErrorIs(t, err, appErrors.ErrOTPExpired)

	// a mismatching code is reported as invalid even after expiry
	_, err = svc.Verify(ctx, "a@example.com", "9999")
	require.ErrorIs(t, err, appErrors.ErrInvalidOTP)

	var stored models.Account
	require.NoError(t, db.Where("email = ?", "a@example.com").Take(&stored).Error)
	require.False(t, stored.IsEmailVerified)
	require.NotNil(t, stored.OTP)
}

func TestOTPVerifyWithoutCode(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newOTPServiceForTest(t, db, newTestClock())
	createAccount(t, db, "a@example.com", nil)
	ctx := context.Background()

	_, err := svc.Verify(ctx, "a@example.com", "")
	require.ErrorIs(t, err, appErrors.ErrInvalidOTP)
	_, err = svc.Verify(ctx, "a@example.com", "0001")
	require.ErrorIs(t, err, appErrors.ErrInvalidOTP)
	_, err = svc.Verify(ctx, "missing@example.com", "0001")
	require.ErrorIs(t, err, appErrors.ErrAccountNotFound)
}

func TestOTPVerifyInactive(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc := newOTPServiceForTest(t, db, clock)
	account := createAccount(t, db, "a@example.com", nil)
	ctx := context.Background()

	code, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)
	require.NoError(t, db.Model(account).Update("is_active", false).Error)

	_, err = svc.Verify(ctx, "a@example.com", code)
	require.ErrorIs(t, err, appErrors.ErrAccountInactive)
}

func TestOTPConsumeAppliesExtraUpdates(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc := newOTPServiceForTest(t, db, clock)
	createAccount(t, db, "a@example.com", nil)
	ctx := context.Background()

	code, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)

	account, err := svc.Consume(ctx, "a@example.com", code, func(*models.Account) (map[string]any, error) {
		return map[string]any{"password_hash": "new-hash"}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, account.PasswordHash)
	require.Equal(t, "new-hash", *account.PasswordHash)
	require.True(t, account.IsEmailVerified)
	require.Nil(t, account.OTP)
}

func TestOTPConsumeSkipsMutationForInvalidCode(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc := newOTPServiceForTest(t, db, clock)
	createAccount(t, db, "a@example.com", nil)
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)

	called := false
	_, err = svc.Consume(ctx, "a@example.com", "9999", func(*models.Account) (map[string]any, error) {
		called = true
		return nil, nil
	})
	require.ErrorIs(t, err, appErrors.ErrInvalidOTP)
	require.False(t, called)
}

func TestOTPConsumeLosesRaceAfterCodeRotated(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	svc := newOTPServiceForTest(t, db, clock)
	account := createAccount(t, db, "a@example.com", nil)
	ctx := context.Background()

	code, err := svc.GetOrCreate(ctx, "a@example.com")
	require.NoError(t, err)

	// another request consumed and a new code was stored in between
	require.NoError(t, db.Model(account).Updates(map[string]any{"otp": "4242"}).Error)

	_, err = svc.Verify(ctx, "a@example.com", code)
	require.ErrorIs(t, err, appErrors.ErrInvalidOTP)
}
