package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/api"
	"github.com/mayfest/accounts/internal/app"
	"github.com/mayfest/accounts/internal/app/maintenance"
	iauth "github.com/mayfest/accounts/internal/auth"
	"github.com/mayfest/accounts/internal/auth/captcha"
	"github.com/mayfest/accounts/internal/auth/providers"
	"github.com/mayfest/accounts/internal/database"
	"github.com/mayfest/accounts/internal/services"
	"github.com/mayfest/accounts/pkg/crypto"
	"github.com/mayfest/accounts/pkg/logger"
	"github.com/mayfest/accounts/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Tokens   *iauth.TokenIssuer
	Accounts *services.AccountService
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, the account services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	hasher, err := crypto.NewPasswordHasher(cfg.Auth.PasswordConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise password hasher: %w", err)
	}

	stack.Tokens, err = iauth.NewTokenIssuer(cfg.Auth.TokenConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token issuer: %w", err)
	}

	otp, err := services.NewOTPService(stack.DB, cfg.Auth.OTPOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise otp service: %w", err)
	}

	domains, err := cfg.Auth.SpamDomains()
	if err != nil {
		return nil, err
	}
	spam := services.NewSpamFilter(domains...)
	log.Info("spam filter loaded", zap.Int("domains", spam.Size()))

	smtp, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; otp emails will not be delivered")
	}
	mailer, err := mail.NewTemplateMailer(smtp, cfg.Email.SMTP.From)
	if err != nil {
		return nil, fmt.Errorf("initialise mail templates: %w", err)
	}

	human, err := captcha.NewTurnstile(cfg.Auth.TurnstileConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("initialise captcha verifier: %w", err)
	}

	identity, err := providers.New(ctx, cfg.Auth.ProviderConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("initialise identity provider: %w", err)
	}
	log.Info("identity provider ready", zap.String("provider", identity.Name()))

	stack.Accounts, err = services.NewAccountService(stack.DB, services.AccountDependencies{
		Hasher:   hasher,
		OTP:      otp,
		Tokens:   stack.Tokens,
		Spam:     spam,
		Mail:     mailer,
		Human:    human,
		Identity: identity,
	},
		services.WithMailSettings(cfg.Email.MailSettings()),
		services.WithDispatchTimeout(cfg.Email.SMTP.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB)
	if err := stack.Cleaner.RunOnce(ctx); err != nil {
		log.Warn("initial maintenance run failed", zap.Error(err))
	}
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(stack.DB, stack.Tokens, stack.Accounts, cfg)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown waits for in-flight mail, stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Accounts != nil {
		s.Accounts.Wait()
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
