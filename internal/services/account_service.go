package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/auth"
	"github.com/mayfest/accounts/internal/auth/providers"
	"github.com/mayfest/accounts/internal/models"
	"github.com/mayfest/accounts/pkg/crypto"
	appErrors "github.com/mayfest/accounts/pkg/errors"
	"github.com/mayfest/accounts/pkg/logger"
	"github.com/mayfest/accounts/pkg/mail"
	"github.com/mayfest/accounts/pkg/metrics"
)

// Result codes returned by flows that do not authenticate the caller.
const (
	ResultOTPSent       = "OTP_SENT"
	ResultNewOTPSent    = "NEW_OTP_SENT"
	ResultOTPStillValid = "OTP_STILL_VALID"
)

// Supported mail languages.
const (
	LangEN = "en"
	LangVI = "vi"
)

const (
	defaultDispatchTimeout = 15 * time.Second
	defaultPhoneRegion     = "VN"
	defaultProductName     = "MayFest"
)

// PasswordHasher is the credential engine consumed by the account service.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, hash *string) bool
	DummyVerify(password string)
}

// TokenIssuer mints token pairs for authenticated accounts.
type TokenIssuer interface {
	IssuePair(ctx context.Context, profile auth.Profile, role string) (*auth.TokenPair, error)
	Renew(ctx context.Context, refreshToken string) (*auth.Claims, *auth.TokenPair, error)
}

// SpamChecker classifies signup emails.
type SpamChecker interface {
	IsSpamEmail(email string) bool
}

// MailSender delivers a rendered template to a single recipient.
type MailSender interface {
	SendTemplate(ctx context.Context, to, subject, template string, vars map[string]string) error
}

// HumanVerifier checks a CAPTCHA token.
type HumanVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// IdentityProvider exchanges an external token for a verified identity.
type IdentityProvider interface {
	Introspect(ctx context.Context, token string) (*providers.Identity, error)
}

// AccountDependencies groups the collaborators of AccountService. Hasher, OTP
// and Tokens are required. A nil Spam accepts every email, a nil Mail drops
// outbound mail, a nil Human skips the CAPTCHA check and a nil Identity
// rejects every federated token.
type AccountDependencies struct {
	Hasher   PasswordHasher
	OTP      *OTPService
	Tokens   TokenIssuer
	Spam     SpamChecker
	Mail     MailSender
	Human    HumanVerifier
	Identity IdentityProvider
}

// MailSettings holds the branding variables rendered into OTP emails.
type MailSettings struct {
	ProductName  string
	Website      string
	DefaultLang  string
	SupportPhone string
	SupportZalo  string
	SupportEmail string
}

// AccountOption customises the AccountService.
type AccountOption func(*AccountService)

// WithMailSettings sets the branding used by OTP emails.
func WithMailSettings(settings MailSettings) AccountOption {
	return func(s *AccountService) {
		s.mailSettings = settings
	}
}

// WithDispatchTimeout bounds each background mail delivery.
func WithDispatchTimeout(d time.Duration) AccountOption {
	return func(s *AccountService) {
		if d > 0 {
			s.dispatchTimeout = d
		}
	}
}

// WithPhoneRegion sets the region used to parse phone numbers lacking a
// country prefix.
func WithPhoneRegion(region string) AccountOption {
	return func(s *AccountService) {
		if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
			s.phoneRegion = region
		}
	}
}

// SignupInput carries a password signup request.
type SignupInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
	Lang     string
}

// EmailOTPInput carries a request for a fresh email code.
type EmailOTPInput struct {
	Email      string
	HumanToken string
	Lang       string
	RemoteIP   string
}

// Session is the outcome of every authenticating flow.
type Session struct {
	Profile auth.Profile
	Role    string
	Tokens  *auth.TokenPair
}

// SignupResult holds either a result code or, when the email belongs to a
// verified account and the password matched, a Session.
type SignupResult struct {
	Code    string
	Session *Session
}

// AccountService orchestrates signup, verification, login, password reset and
// token renewal.
type AccountService struct {
	db       *gorm.DB
	hasher   PasswordHasher
	otp      *OTPService
	tokens   TokenIssuer
	spam     SpamChecker
	mail     MailSender
	human    HumanVerifier
	identity IdentityProvider

	mailSettings    MailSettings
	dispatchTimeout time.Duration
	phoneRegion     string

	log      *zap.Logger
	inflight sync.WaitGroup
}

// NewAccountService constructs the account service.
func NewAccountService(db *gorm.DB, deps AccountDependencies, opts ...AccountOption) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	if deps.Hasher == nil {
		return nil, errors.New("account service: password hasher is required")
	}
	if deps.OTP == nil {
		return nil, errors.New("account service: otp service is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("account service: token issuer is required")
	}

	service := &AccountService{
		db:              db,
		hasher:          deps.Hasher,
		otp:             deps.OTP,
		tokens:          deps.Tokens,
		spam:            deps.Spam,
		mail:            deps.Mail,
		human:           deps.Human,
		identity:        deps.Identity,
		dispatchTimeout: defaultDispatchTimeout,
		phoneRegion:     defaultPhoneRegion,
		log:             logger.WithModule("accounts"),
	}
	for _, opt := range opts {
		opt(service)
	}

	if strings.TrimSpace(service.mailSettings.ProductName) == "" {
		service.mailSettings.ProductName = defaultProductName
	}
	if !isSupportedLang(service.mailSettings.DefaultLang) {
		service.mailSettings.DefaultLang = LangVI
	}

	return service, nil
}

// Wait blocks until every background mail dispatch has finished.
func (s *AccountService) Wait() {
	s.inflight.Wait()
}

// Signup registers a new email or advances an existing one through the
// verification state machine.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (result *SignupResult, err error) {
	defer func() { metrics.ObserveAuth("signup", err) }()

	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, appErrors.NewBadRequest("email is required")
	}
	lang := s.resolveLang(in.Lang)

	existing, err := findAccountByEmail(ctx, s.db, email)
	if err == nil {
		return s.signupExisting(ctx, existing, in.Password, lang)
	}
	if !errors.Is(err, appErrors.ErrAccountNotFound) {
		return nil, err
	}

	if s.spam != nil && s.spam.IsSpamEmail(email) {
		metrics.SpamRejections.Inc()
		s.log.Info("signup rejected as spam", zap.String("domain", emailDomain(email)))
		return nil, appErrors.ErrSpamEmail
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	code, expiresAt, err := s.otp.NewCode()
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:        email,
		PasswordHash: &hash,
		FullName:     optionalString(in.FullName),
		Phone:        optionalString(s.normalizePhone(in.Phone)),
		Role:         models.RoleUser,
		IsActive:     true,
	}
	account.SetOTP(code, expiresAt)

	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("account service: create account: %w", err)
		}
		// a concurrent signup inserted the row first
		existing, lookupErr := findAccountByEmail(ctx, s.db, email)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return s.signupExisting(ctx, existing, in.Password, lang)
	}

	s.log.Info("account registered", zap.String("account_id", account.ID))
	s.dispatchOTP(ctx, email, code, lang)
	return &SignupResult{Code: ResultOTPSent}, nil
}

func (s *AccountService) signupExisting(ctx context.Context, account *models.Account, password, lang string) (*SignupResult, error) {
	if !account.IsActive {
		return nil, appErrors.ErrAccountInactive
	}

	if account.IsEmailVerified {
		if !s.hasher.Verify(password, account.PasswordHash) {
			return nil, appErrors.ErrInvalidCredentials
		}
		session, err := s.issue(ctx, account)
		if err != nil {
			return nil, err
		}
		return &SignupResult{Session: session}, nil
	}

	if account.HasActiveOTP(s.otp.clock()) {
		return &SignupResult{Code: ResultOTPStillValid}, nil
	}

	code, err := s.otp.GetOrCreate(ctx, account.Email)
	if err != nil {
		return nil, err
	}
	s.dispatchOTP(ctx, account.Email, code, lang)
	return &SignupResult{Code: ResultNewOTPSent}, nil
}

// VerifyOTP confirms the email code and authenticates the account.
func (s *AccountService) VerifyOTP(ctx context.Context, email, code string) (session *Session, err error) {
	defer func() { metrics.ObserveAuth("verify_otp", err) }()

	account, err := s.otp.Verify(ctx, email, code)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, account)
}

// Login authenticates a verified account by password. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials after comparable work.
func (s *AccountService) Login(ctx context.Context, email, password string) (session *Session, err error) {
	defer func() { metrics.ObserveAuth("login", err) }()

	account, err := findAccountByEmail(ctx, s.db, email)
	if errors.Is(err, appErrors.ErrAccountNotFound) {
		s.hasher.DummyVerify(password)
		return nil, appErrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !account.IsActive {
		return nil, appErrors.ErrAccountInactive
	}
	if account.PasswordHash == nil || *account.PasswordHash == "" {
		s.hasher.DummyVerify(password)
		return nil, appErrors.ErrInvalidCredentials
	}
	if !account.IsEmailVerified {
		return nil, appErrors.ErrEmailNotVerified
	}
	if !s.hasher.Verify(password, account.PasswordHash) {
		return nil, appErrors.ErrInvalidCredentials
	}

	return s.issue(ctx, account)
}

// SignupFederated signs in, or registers, the owner of an external token.
func (s *AccountService) SignupFederated(ctx context.Context, externalToken string) (session *Session, err error) {
	defer func() { metrics.ObserveAuth("federated", err) }()

	if s.identity == nil {
		return nil, appErrors.ErrInvalidExternalToken.WithInternal(errors.New("no identity provider configured"))
	}
	if strings.TrimSpace(externalToken) == "" {
		return nil, appErrors.ErrInvalidExternalToken
	}

	identity, err := s.identity.Introspect(ctx, externalToken)
	if err != nil {
		return nil, appErrors.ErrInvalidExternalToken.WithInternal(err)
	}
	email := normalizeEmail(identity.Email)
	if email == "" || !identity.EmailVerified {
		return nil, appErrors.ErrInvalidExternalToken.WithInternal(errors.New("provider did not vouch for an email"))
	}

	account, err := findAccountByEmail(ctx, s.db, email)
	if errors.Is(err, appErrors.ErrAccountNotFound) {
		account, err = s.createFederated(ctx, email, identity)
	}
	if err != nil {
		return nil, err
	}

	if !account.IsActive {
		return nil, appErrors.ErrAccountInactive
	}
	if !account.IsEmailVerified {
		if err := s.db.WithContext(ctx).
			Model(&models.Account{}).
			Where("id = ?", account.ID).
			Update("is_email_verified", true).Error; err != nil {
			return nil, fmt.Errorf("account service: promote account: %w", err)
		}
		account.IsEmailVerified = true
		s.log.Info("pending account verified by identity provider", zap.String("account_id", account.ID))
	}

	return s.issue(ctx, account)
}

func (s *AccountService) createFederated(ctx context.Context, email string, identity *providers.Identity) (*models.Account, error) {
	account := &models.Account{
		Email:           email,
		FullName:        optionalString(identity.Name()),
		Phone:           optionalString(s.normalizePhone(identity.Phone)),
		Role:            models.RoleUser,
		IsActive:        true,
		IsEmailVerified: true,
	}
	if len(identity.RawClaims) > 0 {
		account.FederatedClaims = datatypes.JSONMap(identity.RawClaims)
	}

	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueConstraintError(err) {
			return findAccountByEmail(ctx, s.db, email)
		}
		return nil, fmt.Errorf("account service: create federated account: %w", err)
	}

	s.log.Info("account registered via identity provider", zap.String("account_id", account.ID))
	return account, nil
}

// RequestEmailOTP sends the account's active code, or a fresh one, after a
// successful CAPTCHA check.
func (s *AccountService) RequestEmailOTP(ctx context.Context, in EmailOTPInput) (string, error) {
	if s.human != nil {
		if err := s.human.Verify(ctx, in.HumanToken, in.RemoteIP); err != nil {
			return "", appErrors.ErrVerificationFailed.WithInternal(err)
		}
	}

	email := normalizeEmail(in.Email)
	code, err := s.otp.GetOrCreate(ctx, email)
	if err != nil {
		return "", err
	}
	s.dispatchOTP(ctx, email, code, s.resolveLang(in.Lang))
	return ResultOTPSent, nil
}

// ForgotPassword replaces the password of the account owning code and
// authenticates it. The code follows the same rules as VerifyOTP.
func (s *AccountService) ForgotPassword(ctx context.Context, email, code, newPassword string) (session *Session, err error) {
	defer func() { metrics.ObserveAuth("forgot_password", err) }()

	if newPassword == "" {
		return nil, appErrors.NewBadRequest("password is required")
	}

	account, err := s.otp.Consume(ctx, email, code, func(*models.Account) (map[string]any, error) {
		hash, err := s.hashPassword(newPassword)
		if err != nil {
			return nil, err
		}
		return map[string]any{"password_hash": hash}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("password reset", zap.String("account_id", account.ID))
	return s.issue(ctx, account)
}

// RenewToken exchanges a refresh token for a new pair.
func (s *AccountService) RenewToken(ctx context.Context, refreshToken string) (session *Session, err error) {
	defer func() { metrics.ObserveAuth("renew", err) }()
	return s.renew(ctx, refreshToken)
}

// AutoLogin restores a session from a stored refresh token. It follows the
// same policy as RenewToken.
func (s *AccountService) AutoLogin(ctx context.Context, refreshToken string) (session *Session, err error) {
	defer func() { metrics.ObserveAuth("auto_login", err) }()
	return s.renew(ctx, refreshToken)
}

func (s *AccountService) renew(ctx context.Context, refreshToken string) (*Session, error) {
	claims, pair, err := s.tokens.Renew(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return &Session{Profile: claims.Profile, Role: claims.Role, Tokens: pair}, nil
}

// Profile loads an account by id.
func (s *AccountService) Profile(ctx context.Context, accountID string) (*models.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, appErrors.ErrAccountNotFound
	}
	return findAccountByID(ctx, s.db, accountID)
}

func (s *AccountService) issue(ctx context.Context, account *models.Account) (*Session, error) {
	profile := ProfileOf(account)
	role := account.EffectiveRole()

	pair, err := s.tokens.IssuePair(ctx, profile, role)
	if err != nil {
		return nil, fmt.Errorf("account service: issue tokens: %w", err)
	}
	return &Session{Profile: profile, Role: role, Tokens: pair}, nil
}

// ProfileOf builds the token claim snapshot of account.
func ProfileOf(account *models.Account) auth.Profile {
	return auth.Profile{
		ID:       account.ID,
		Email:    account.Email,
		FullName: account.FullName,
		Phone:    account.Phone,
		Gender:   account.Gender,
		Address:  account.Address,
	}
}

func (s *AccountService) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, crypto.ErrEmptyPassword) {
		return "", appErrors.NewBadRequest("password is required")
	}
	if err != nil {
		return "", fmt.Errorf("account service: hash password: %w", err)
	}
	return hash, nil
}

// dispatchOTP mails code in the background. Delivery failures are logged and
// never reach the caller.
func (s *AccountService) dispatchOTP(ctx context.Context, email, code, lang string) {
	template := "signup_otp_" + lang
	if s.mail == nil {
		metrics.MailDispatch.WithLabelValues(template, "disabled").Inc()
		return
	}

	subject := s.mailSettings.ProductName + " - New OTP Code"
	if lang == LangVI {
		subject = s.mailSettings.ProductName + " - Mã OTP mới"
	}
	vars := map[string]string{
		"otp":           code,
		"lang":          lang,
		"email":         email,
		"ttl_minutes":   strconv.Itoa(int(s.otp.TTL().Round(time.Minute) / time.Minute)),
		"product_name":  s.mailSettings.ProductName,
		"website":       strings.TrimRight(s.mailSettings.Website, "/"),
		"support_phone": s.mailSettings.SupportPhone,
		"support_zalo":  s.mailSettings.SupportZalo,
		"support_email": s.mailSettings.SupportEmail,
	}

	detached := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		sendCtx, cancel := context.WithTimeout(detached, s.dispatchTimeout)
		defer cancel()

		err := s.mail.SendTemplate(sendCtx, email, subject, template, vars)
		switch {
		case err == nil:
			metrics.MailDispatch.WithLabelValues(template, "sent").Inc()
		case errors.Is(err, mail.ErrSMTPDisabled):
			metrics.MailDispatch.WithLabelValues(template, "disabled").Inc()
			s.log.Debug("smtp disabled, otp mail skipped", zap.String("template", template))
		default:
			metrics.MailDispatch.WithLabelValues(template, "failed").Inc()
			s.log.Warn("otp mail delivery failed",
				zap.String("template", template),
				zap.String("recipient_domain", emailDomain(email)),
				zap.Error(err),
			)
		}
	}()
}

func (s *AccountService) resolveLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if isSupportedLang(lang) {
		return lang
	}
	return s.mailSettings.DefaultLang
}

// normalizePhone formats parseable numbers as E.164 and otherwise keeps the
// trimmed input.
func (s *AccountService) normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	number, err := phonenumbers.Parse(raw, s.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return raw
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

func isSupportedLang(lang string) bool {
	return lang == LangEN || lang == LangVI
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func emailDomain(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok {
		return domain
	}
	return ""
}
