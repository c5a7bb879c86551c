package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	mgr := NewJWTManager("test-secret-key-123")
	token, err := mgr.GenerateAccessToken("google:42", "google", nil)
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != "google:42" {
		t.Errorf("expected user_id=google:42, got %s", claims.UserID)
	}
	if claims.Provider != "google" {
		t.Errorf("expected provider=google, got %s", claims.Provider)
	}
	if claims.Subject != "google:42" {
		t.Errorf("expected subject=google:42, got %s", claims.Subject)
	}
	if claims.Issuer != "stackplan" {
		t.Errorf("expected issuer=stackplan, got %s", claims.Issuer)
	}
}

func TestKindGrants(t *testing.T) {
	mgr := NewJWTManager("test-secret-key-123")
	token, err := mgr.GenerateAccessToken("dev:ops", "dev", []string{"dobss", "whattofix"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	tests := []struct {
		kind string
		want bool
	}{
		{"dobss", true},
		{"whattofix", true},
		{"schedule", false},
		{"cost", false},
	}
	for _, tt := range tests {
		if got := claims.AllowsKind(tt.kind); got != tt.want {
			t.Errorf("AllowsKind(%q) = %v, want %v", tt.kind, got, tt.want)
		}
	}

	// No kinds means every kind.
	unrestricted := &Claims{UserID: "dev:all"}
	if !unrestricted.AllowsKind("schedule") {
		t.Error("empty kind list should grant every kind")
	}
}

func TestGenerateTokenPair(t *testing.T) {
	mgr := NewJWTManager("test-secret-key-123")
	pair, err := mgr.GenerateTokenPair("dev:user-7", "dev", nil)
	if err != nil {
		t.Fatalf("generate token pair: %v", err)
	}
	if pair.AccessToken == "" {
		t.Error("expected non-empty access token")
	}
	if pair.RefreshToken == "" {
		t.Error("expected non-empty refresh token")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Error("access and refresh tokens should be different")
	}
	if pair.ExpiresIn != 900 {
		t.Errorf("expected expires_in=900, got %d", pair.ExpiresIn)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	mgr1 := NewJWTManager("secret-one")
	mgr2 := NewJWTManager("secret-two")

	token, err := mgr1.GenerateAccessToken("dev:user-1", "dev", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err = mgr2.ValidateToken(token); err == nil {
		t.Error("expected validation to fail with wrong secret")
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	mgr := NewJWTManager("test-secret")
	if _, err := mgr.ValidateToken("not-a-jwt"); err == nil {
		t.Error("expected error for garbage token")
	}
	if _, err := mgr.ValidateToken(""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := &JWTManager{
		secret:        []byte("test-secret"),
		accessExpiry:  -1 * time.Second,
		refreshExpiry: 7 * 24 * time.Hour,
	}
	token, err := mgr.GenerateAccessToken("dev:user-1", "dev", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err = mgr.ValidateToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestOAuthDomainRestriction(t *testing.T) {
	p := NewGoogleOAuth("id", "secret", "http://localhost/cb", "example.org")
	tests := []struct {
		email string
		ok    bool
	}{
		{"analyst@example.org", true},
		{"Analyst@EXAMPLE.ORG", true},
		{"outsider@other.org", false},
		{"no-at-sign", false},
	}
	for _, tt := range tests {
		err := p.checkDomain(tt.email)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.email, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: expected domain rejection", tt.email)
		}
	}

	open := NewGoogleOAuth("id", "secret", "http://localhost/cb", "")
	if err := open.checkDomain("anyone@anywhere.net"); err != nil {
		t.Errorf("unrestricted provider rejected %v", err)
	}
}

func TestIdentitySubject(t *testing.T) {
	id := Identity{Provider: "google", ID: "1234"}
	if id.Subject() != "google:1234" {
		t.Errorf("subject = %q, want google:1234", id.Subject())
	}
}
