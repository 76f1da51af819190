// Package creds supplies brokerage credentials and time-based one-time codes
// on demand. Secrets are read from the environment or config and held only in
// memory; nothing here persists them.
package creds

import (
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
)

// Credentials identifies the trading account at the venue.
type Credentials struct {
	APIKey    string
	ClientID  string
	APISecret string
	// TOTPSecret is the base32 seed for login one-time codes. Empty for
	// venues that authenticate with API keys alone.
	TOTPSecret string
}

// Provider hands out credentials and one-time codes when a venue needs to
// (re-)authenticate.
type Provider interface {
	Credentials() (Credentials, error)
	// OneTimeCode returns the current time-based one-time code, or "" with a
	// nil error when no TOTP secret is configured.
	OneTimeCode() (string, error)
}

// Static is a Provider over fixed credentials.
type Static struct {
	creds Credentials
	now   func() time.Time
}

var _ Provider = (*Static)(nil)

// NewStatic wraps fixed credentials in a Provider.
func NewStatic(c Credentials) *Static {
	return &Static{creds: c, now: time.Now}
}

// Credentials returns the fixed credentials.
func (s *Static) Credentials() (Credentials, error) {
	if s.creds.APIKey == "" {
		return Credentials{}, fmt.Errorf("credentials: api key not configured")
	}
	return s.creds, nil
}

// OneTimeCode generates the current TOTP code from the configured seed.
func (s *Static) OneTimeCode() (string, error) {
	if s.creds.TOTPSecret == "" {
		return "", nil
	}
	code, err := totp.GenerateCode(s.creds.TOTPSecret, s.now())
	if err != nil {
		return "", fmt.Errorf("credentials: generating one-time code: %w", err)
	}
	return code, nil
}

// FromEnv builds a Static provider from the conventional environment
// variables, preferring the canonical APCA_* names when present.
func FromEnv() *Static {
	c := Credentials{
		APIKey:     os.Getenv("API_KEY"),
		ClientID:   os.Getenv("CLIENT_ID"),
		APISecret:  os.Getenv("API_SECRET"),
		TOTPSecret: os.Getenv("TOTP_SECRET"),
	}
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		c.APISecret = v
	}
	return NewStatic(c)
}

// Validate checks a one-time code against the seed. Used by test venues that
// mimic the brokerage side of the login exchange.
func Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}
