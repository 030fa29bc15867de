package templates

import (
	"time"

	"github.com/cvforge/auth-api/config"
)

// Option mutates EmailData before rendering.
type Option func(*EmailData)

func WithIP(ip string) Option        { return func(d *EmailData) { d.IP = ip } }
func WithUserAgent(ua string) Option { return func(d *EmailData) { d.UserAgent = ua } }

func WithTime(t time.Time) Option {
	return func(d *EmailData) { d.Time = FormatEmailTime(t) }
}

func WithExpiresAt(t time.Time) Option {
	return func(d *EmailData) { d.ExpiresAtText = FormatEmailTime(t) }
}

// NewBaseEmailData fills the branding fields from config, then applies options.
func NewBaseEmailData(cfg *config.Config, name, email, recipient string, opts ...Option) EmailData {
	d := EmailData{
		Name:           name,
		Email:          email,
		RecipientEmail: recipient,

		CompanyName: cfg.CompanyName,
		AppName:     cfg.AppName,
		LogoURL:     cfg.LogoURL,
		SupportURL:  cfg.SupportURL,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func NewVerifyEmailData(cfg *config.Config, name, email, verifyURL string, opts ...Option) map[string]any {
	d := NewBaseEmailData(cfg, name, email, email, opts...)
	d.VerifyURL = verifyURL
	return ToMap(d)
}

func NewLoginNotificationData(cfg *config.Config, name, email string, opts ...Option) map[string]any {
	d := NewBaseEmailData(cfg, name, email, email, opts...)
	return ToMap(d)
}
