package models

import (
	"time"

	"gorm.io/datatypes"
)

// Account roles. RoleService is never stored; it marks machine callers
// authenticated by service key.
const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleService = "service"
)

// Supported gender values.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// AccountState is the verification stage of an existing account.
type AccountState string

const (
	StatePendingVerification AccountState = "pending_verification"
	StateVerified            AccountState = "verified"
)

// Account is the persisted identity record. Email is the natural key and is
// stored exactly as submitted after trimming.
type Account struct {
	BaseModel

	Email        string  `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash *string `gorm:"size:255" json:"-"`

	FullName *string `gorm:"size:255" json:"fullName"`
	Phone    *string `gorm:"size:32" json:"phone"`
	Gender   *string `gorm:"size:16" json:"gender"`
	Address  *string `gorm:"size:512" json:"address"`

	Role            string `gorm:"size:32;not null;default:user" json:"role"`
	IsActive        bool   `gorm:"not null;default:true" json:"isActive"`
	IsEmailVerified bool   `gorm:"not null;default:false;index" json:"isEmailVerified"`

	// OTP and OTPExpiresAt are always written together.
	OTP          *string    `gorm:"column:otp;size:16" json:"-"`
	OTPExpiresAt *time.Time `gorm:"column:otp_expires_at;index" json:"-"`

	FederatedClaims datatypes.JSONMap `json:"-"`
}

// SetOTP stores a code together with its expiry.
func (a *Account) SetOTP(code string, expiresAt time.Time) {
	a.OTP = &code
	a.OTPExpiresAt = &expiresAt
}

// ClearOTP removes the code and its expiry.
func (a *Account) ClearOTP() {
	a.OTP = nil
	a.OTPExpiresAt = nil
}

// HasActiveOTP reports whether a code is stored and still valid at now.
func (a *Account) HasActiveOTP(now time.Time) bool {
	return a.OTP != nil && *a.OTP != "" && a.OTPExpiresAt != nil && now.Before(*a.OTPExpiresAt)
}

// State reports the verification stage.
func (a *Account) State() AccountState {
	if a.IsEmailVerified {
		return StateVerified
	}
	return StatePendingVerification
}

// EffectiveRole falls back to RoleUser for rows created before roles existed.
func (a *Account) EffectiveRole() string {
	if a.Role == "" {
		return RoleUser
	}
	return a.Role
}
