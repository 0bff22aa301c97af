package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"path"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// ErrUnknownTemplate is returned when rendering a template that is not embedded.
var ErrUnknownTemplate = errors.New("mail: unknown template")

// TemplateMailer renders embedded HTML templates and hands the result to a Mailer.
type TemplateMailer struct {
	mailer    Mailer
	from      string
	templates map[string]*template.Template
}

// NewTemplateMailer parses every embedded template. Template names are the
// file names without extension, e.g. "signup_otp_vi".
func NewTemplateMailer(mailer Mailer, from string) (*TemplateMailer, error) {
	if mailer == nil {
		return nil, errors.New("mail: mailer is required")
	}

	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("mail: read templates: %w", err)
	}

	templates := make(map[string]*template.Template, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
		tmpl, err := template.New(entry.Name()).Option("missingkey=zero").ParseFS(templateFS, path.Join("templates", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("mail: parse template %s: %w", name, err)
		}
		templates[name] = tmpl
	}

	return &TemplateMailer{mailer: mailer, from: from, templates: templates}, nil
}

// Render executes the named template with vars.
func (m *TemplateMailer) Render(name string, vars map[string]string) (string, error) {
	tmpl, ok := m.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("mail: render %s: %w", name, err)
	}
	return buf.String(), nil
}

// SendTemplate renders the named template and delivers it to a single recipient.
func (m *TemplateMailer) SendTemplate(ctx context.Context, to, subject, name string, vars map[string]string) error {
	body, err := m.Render(name, vars)
	if err != nil {
		return err
	}

	return m.mailer.Send(ctx, Message{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Body:    body,
		HTML:    true,
	})
}
