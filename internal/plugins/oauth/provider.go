package oauth

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/havenhealth/haven/internal/plugins/auth"
)

// Provider bundles an oauth2 client config with the provider-specific
// userinfo endpoint and response mapping.
type Provider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string

	// mapProfile converts the raw userinfo JSON into the provider-neutral
	// profile the credential store understands.
	mapProfile func(raw []byte) (auth.ProviderProfile, error)
}

// NewGoogleProvider configures Google sign-in. redirectURL must match the
// authorized redirect URI registered in the Google console.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		Name: "google",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		mapProfile:  mapGoogleProfile,
	}
}

// NewGitHubProvider configures GitHub sign-in.
func NewGitHubProvider(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		Name: "github",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoints.GitHub,
		},
		UserInfoURL: "https://api.github.com/user",
		mapProfile:  mapGitHubProfile,
	}
}

func mapGoogleProfile(raw []byte) (auth.ProviderProfile, error) {
	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return auth.ProviderProfile{}, fmt.Errorf("decoding google userinfo: %w", err)
	}
	if info.Sub == "" {
		return auth.ProviderProfile{}, fmt.Errorf("google userinfo missing subject")
	}

	profile := auth.ProviderProfile{
		ExternalID:    info.Sub,
		Email:         strings.ToLower(info.Email),
		DisplayName:   info.Name,
		AvatarURL:     info.Picture,
		EmailVerified: info.EmailVerified,
	}
	// An unverified (or absent) email is an attacker-controllable claim.
	// Replace it with a synthetic per-subject address so the account is
	// still created, but can never match an existing local account.
	if profile.Email == "" || !info.EmailVerified {
		profile.Email = fmt.Sprintf("%s@users.noreply.google.com", info.Sub)
		profile.EmailVerified = false
	}
	if profile.DisplayName == "" {
		profile.DisplayName = profile.Email
	}
	return profile, nil
}

func mapGitHubProfile(raw []byte) (auth.ProviderProfile, error) {
	var info struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return auth.ProviderProfile{}, fmt.Errorf("decoding github userinfo: %w", err)
	}
	if info.ID == 0 {
		return auth.ProviderProfile{}, fmt.Errorf("github userinfo missing id")
	}

	// GitHub only exposes addresses the user has verified and chosen to
	// make public, so a present email is safe to match against local
	// accounts.
	profile := auth.ProviderProfile{
		ExternalID:    fmt.Sprintf("%d", info.ID),
		Email:         strings.ToLower(info.Email),
		DisplayName:   info.Name,
		AvatarURL:     info.AvatarURL,
		EmailVerified: info.Email != "",
	}
	if profile.DisplayName == "" {
		profile.DisplayName = info.Login
	}
	// Hidden email: fall back to the noreply address so the account still
	// has a stable, unique email.
	if profile.Email == "" {
		profile.Email = fmt.Sprintf("%d+%s@users.noreply.github.com", info.ID, info.Login)
	}
	return profile, nil
}
