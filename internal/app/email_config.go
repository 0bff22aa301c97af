package app

import (
	"strings"

	"github.com/mayfest/accounts/internal/services"
	"github.com/mayfest/accounts/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     strings.TrimSpace(c.SMTP.Host),
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     strings.TrimSpace(c.SMTP.From),
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// MailSettings returns the branding rendered into OTP emails.
func (c EmailConfig) MailSettings() services.MailSettings {
	return services.MailSettings{
		ProductName:  strings.TrimSpace(c.ProductName),
		Website:      strings.TrimSpace(c.Website),
		DefaultLang:  strings.ToLower(strings.TrimSpace(c.DefaultLang)),
		SupportPhone: strings.TrimSpace(c.Support.Phone),
		SupportZalo:  strings.TrimSpace(c.Support.Zalo),
		SupportEmail: strings.TrimSpace(c.Support.Email),
	}
}
