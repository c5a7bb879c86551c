package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrDomainNotAllowed is returned when a login's email falls outside the
// domain the operator restricted the dashboard to.
var ErrDomainNotAllowed = errors.New("auth: email domain not allowed")

// Identity is the authenticated dashboard principal derived from a
// provider profile. It becomes the JWT subject; runs are attributed to it.
type Identity struct {
	Provider string
	ID       string
	Email    string
	Name     string
}

// Subject returns the stable identifier used as the JWT subject.
func (id Identity) Subject() string {
	return id.Provider + ":" + id.ID
}

// googleProfile is the raw payload of Google's userinfo endpoint.
type googleProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// OAuthProvider handles the OAuth2 flow for a provider. allowedDomain, when
// set, restricts logins to emails under that domain so a deployment can be
// limited to one security team.
type OAuthProvider struct {
	config        *oauth2.Config
	name          string
	allowedDomain string
}

// NewGoogleOAuth creates an OAuth provider for Google sign-in.
func NewGoogleOAuth(clientID, clientSecret, redirectURL, allowedDomain string) *OAuthProvider {
	return &OAuthProvider{
		name:          "google",
		allowedDomain: strings.TrimPrefix(strings.ToLower(allowedDomain), "@"),
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
	}
}

// LoginURL returns the OAuth2 authorization URL with a state parameter.
func (p *OAuthProvider) LoginURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a dashboard identity, applying
// the domain restriction.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}

	client := p.config.Client(ctx, token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return nil, fmt.Errorf("oauth userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("oauth userinfo status %d: %s", resp.StatusCode, body)
	}

	var profile googleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("oauth userinfo decode: %w", err)
	}

	identity := &Identity{Provider: p.name, ID: profile.ID, Email: profile.Email, Name: profile.Name}
	if err := p.checkDomain(identity.Email); err != nil {
		return nil, err
	}
	return identity, nil
}

func (p *OAuthProvider) checkDomain(email string) error {
	if p.allowedDomain == "" {
		return nil
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || strings.ToLower(email[at+1:]) != p.allowedDomain {
		return fmt.Errorf("%w: %q is not under %q", ErrDomainNotAllowed, email, p.allowedDomain)
	}
	return nil
}

// Name returns the provider name (e.g. "google").
func (p *OAuthProvider) Name() string {
	return p.name
}
