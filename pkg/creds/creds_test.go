package creds

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func TestStaticCredentials(t *testing.T) {
	p := NewStatic(Credentials{APIKey: "key", ClientID: "client", APISecret: "secret"})
	c, err := p.Credentials()
	if err != nil {
		t.Fatalf("Credentials returned error: %v", err)
	}
	if c.APIKey != "key" || c.ClientID != "client" {
		t.Errorf("Credentials = %+v", c)
	}

	if _, err := NewStatic(Credentials{}).Credentials(); err == nil {
		t.Error("empty provider returned credentials without error")
	}
}

func TestOneTimeCode(t *testing.T) {
	p := NewStatic(Credentials{APIKey: "key", TOTPSecret: testTOTPSecret})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	code, err := p.OneTimeCode()
	if err != nil {
		t.Fatalf("OneTimeCode returned error: %v", err)
	}
	want, err := totp.GenerateCode(testTOTPSecret, at)
	if err != nil {
		t.Fatalf("GenerateCode returned error: %v", err)
	}
	if code != want {
		t.Errorf("OneTimeCode = %q, want %q", code, want)
	}

	noSeed := NewStatic(Credentials{APIKey: "key"})
	code, err = noSeed.OneTimeCode()
	if err != nil {
		t.Fatalf("OneTimeCode without seed returned error: %v", err)
	}
	if code != "" {
		t.Errorf("OneTimeCode without seed = %q, want empty", code)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("API_KEY", "plain-key")
	t.Setenv("CLIENT_ID", "client")
	t.Setenv("API_SECRET", "plain-secret")
	t.Setenv("TOTP_SECRET", testTOTPSecret)
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")

	c, err := FromEnv().Credentials()
	if err != nil {
		t.Fatalf("Credentials returned error: %v", err)
	}
	if c.APIKey != "plain-key" || c.ClientID != "client" || c.APISecret != "plain-secret" || c.TOTPSecret != testTOTPSecret {
		t.Errorf("Credentials = %+v", c)
	}
}

func TestFromEnvCanonicalNamesWin(t *testing.T) {
	t.Setenv("API_KEY", "plain-key")
	t.Setenv("API_SECRET", "plain-secret")
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	t.Setenv("APCA_API_SECRET_KEY", "apca-secret")

	c, err := FromEnv().Credentials()
	if err != nil {
		t.Fatalf("Credentials returned error: %v", err)
	}
	if c.APIKey != "apca-key" {
		t.Errorf("APIKey = %q, want %q", c.APIKey, "apca-key")
	}
	if c.APISecret != "apca-secret" {
		t.Errorf("APISecret = %q, want %q", c.APISecret, "apca-secret")
	}
}
