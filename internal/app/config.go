package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/mayfest/accounts/internal/auth/captcha"
	"github.com/mayfest/accounts/internal/auth/providers"
	"github.com/mayfest/accounts/pkg/crypto"
	"github.com/mayfest/accounts/pkg/validator"
)

// EnvPrefix prefixes every environment override, e.g. MAYFEST_AUTH_JWT_ACCESS_SECRET.
const EnvPrefix = "MAYFEST"

// Config represents the runtime configuration of the accounts service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Email      EmailConfig      `mapstructure:"email"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig captures credentials for networked databases.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig groups every credential, token and verification setting.
type AuthConfig struct {
	JWT           JWTConfig             `mapstructure:"jwt"`
	Password      crypto.PasswordConfig `mapstructure:"password"`
	OTP           OTPConfig             `mapstructure:"otp"`
	Spam          SpamConfig            `mapstructure:"spam"`
	Captcha       captcha.Config        `mapstructure:"captcha"`
	Federated     providers.Config      `mapstructure:"federated"`
	RefreshCookie RefreshCookieConfig   `mapstructure:"refresh_cookie"`
	ServiceKey    string                `mapstructure:"service_key"`
}

// JWTConfig controls the access and refresh token signers.
type JWTConfig struct {
	AccessSecret    string        `mapstructure:"access_secret"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// OTPConfig controls email codes. Length is fixed by the request validator
// and only accepted when it agrees with it.
type OTPConfig struct {
	Length int           `mapstructure:"length"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// SpamConfig lists disposable domains inline and/or in a JSON file.
type SpamConfig struct {
	Domains     []string `mapstructure:"domains"`
	DomainsFile string   `mapstructure:"domains_file"`
}

// RefreshCookieConfig controls delivery of refresh tokens as a cookie.
type RefreshCookieConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"`
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
}

// EmailConfig configures outbound mail and the values rendered in templates.
type EmailConfig struct {
	SMTP        SMTPConfig    `mapstructure:"smtp"`
	ProductName string        `mapstructure:"product_name"`
	Website     string        `mapstructure:"website"`
	DefaultLang string        `mapstructure:"default_lang"`
	Support     SupportConfig `mapstructure:"support"`
}

// SMTPConfig holds SMTP connection options.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SupportConfig lists the support contacts shown in mail footers.
type SupportConfig struct {
	Phone string `mapstructure:"phone"`
	Zalo  string `mapstructure:"zalo"`
	Email string `mapstructure:"email"`
}

// MonitoringConfig toggles the observability endpoints.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig configures the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles the /health endpoint.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads config.yaml from ./config and any extra directories, then
// applies MAYFEST_* environment overrides. A path naming a file is read
// directly. A missing file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			v.SetConfigFile(path)
			if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
				v.SetConfigType(ext)
			}
			continue
		}
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent
// from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/accounts.sqlite")
	v.SetDefault("database.dsn", "")
	for _, driver := range []string{"postgres", "mysql"} {
		v.SetDefault("database."+driver+".host", "")
		v.SetDefault("database."+driver+".database", "")
		v.SetDefault("database."+driver+".username", "")
		v.SetDefault("database."+driver+".password", "")
	}
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("auth.jwt.access_secret", "")
	v.SetDefault("auth.jwt.refresh_secret", "")
	v.SetDefault("auth.jwt.issuer", "mayfest-accounts")
	v.SetDefault("auth.jwt.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.jwt.refresh_token_ttl", 7*24*time.Hour)

	argon := crypto.DefaultArgon2Params()
	v.SetDefault("auth.password.algorithm", crypto.AlgorithmBcrypt)
	v.SetDefault("auth.password.bcrypt_cost", crypto.DefaultBcryptCost)
	v.SetDefault("auth.password.argon2.time", argon.Time)
	v.SetDefault("auth.password.argon2.memory", argon.Memory)
	v.SetDefault("auth.password.argon2.threads", argon.Threads)
	v.SetDefault("auth.password.argon2.key_length", argon.KeyLength)
	v.SetDefault("auth.password.argon2.salt_length", argon.SaltLength)

	v.SetDefault("auth.otp.length", 4)
	v.SetDefault("auth.otp.ttl", 5*time.Minute)

	v.SetDefault("auth.spam.domains", []string{})
	v.SetDefault("auth.spam.domains_file", "")

	v.SetDefault("auth.captcha.enabled", false)
	v.SetDefault("auth.captcha.secret", "")
	v.SetDefault("auth.captcha.verify_url", captcha.DefaultVerifyURL)
	v.SetDefault("auth.captcha.timeout", 10*time.Second)

	v.SetDefault("auth.federated.provider", "google")
	v.SetDefault("auth.federated.timeout", 10*time.Second)
	v.SetDefault("auth.federated.google.userinfo_url", providers.DefaultGoogleUserInfoURL)
	v.SetDefault("auth.federated.google.timeout", 0)
	v.SetDefault("auth.federated.oidc.issuer", "")
	v.SetDefault("auth.federated.oidc.client_id", "")
	v.SetDefault("auth.federated.oidc.timeout", 0)

	v.SetDefault("auth.refresh_cookie.enabled", false)
	v.SetDefault("auth.refresh_cookie.name", "refresh_token")
	v.SetDefault("auth.refresh_cookie.path", "/api/profile")
	v.SetDefault("auth.refresh_cookie.domain", "")
	v.SetDefault("auth.refresh_cookie.secure", true)
	v.SetDefault("auth.refresh_cookie.same_site", "lax")

	v.SetDefault("auth.service_key", "")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", 10*time.Second)
	v.SetDefault("email.product_name", "MayFest")
	v.SetDefault("email.website", "")
	v.SetDefault("email.default_lang", "vi")
	v.SetDefault("email.support.phone", "")
	v.SetDefault("email.support.zalo", "")
	v.SetDefault("email.support.email", "")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate reports every invalid setting at once. Secrets are expected to be
// filled by ApplyRuntimeDefaults before this runs.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}

	var err error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port must be between 1 and 65535 (got %d)", c.Server.Port))
	}

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "postgres", "postgresql", "mysql":
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	jwt := c.Auth.JWT
	if strings.TrimSpace(jwt.AccessSecret) == "" || strings.TrimSpace(jwt.RefreshSecret) == "" {
		err = multierr.Append(err, errors.New("auth.jwt access_secret and refresh_secret are required"))
	} else if jwt.AccessSecret == jwt.RefreshSecret {
		err = multierr.Append(err, errors.New("auth.jwt access_secret and refresh_secret must differ"))
	}
	if jwt.AccessTokenTTL <= 0 || jwt.RefreshTokenTTL <= 0 {
		err = multierr.Append(err, errors.New("auth.jwt token ttls must be positive"))
	}

	if c.Auth.OTP.Length != validator.OTPLength {
		err = multierr.Append(err, fmt.Errorf("auth.otp.length must be %d to match the request otp rule (got %d)", validator.OTPLength, c.Auth.OTP.Length))
	}
	if c.Auth.OTP.TTL <= 0 {
		err = multierr.Append(err, errors.New("auth.otp.ttl must be positive"))
	}

	if c.Auth.Captcha.Enabled && strings.TrimSpace(c.Auth.Captcha.Secret) == "" {
		err = multierr.Append(err, errors.New("auth.captcha.secret is required when captcha is enabled"))
	}

	if _, sameSiteErr := parseSameSite(c.Auth.RefreshCookie.SameSite); sameSiteErr != nil {
		err = multierr.Append(err, sameSiteErr)
	}

	switch strings.ToLower(strings.TrimSpace(c.Email.DefaultLang)) {
	case "", "en", "vi":
	default:
		err = multierr.Append(err, fmt.Errorf("email.default_lang %q is not supported", c.Email.DefaultLang))
	}
	if c.Email.SMTP.Enabled && (strings.TrimSpace(c.Email.SMTP.Host) == "" || strings.TrimSpace(c.Email.SMTP.From) == "") {
		err = multierr.Append(err, errors.New("email.smtp host and from are required when smtp is enabled"))
	}

	return err
}
