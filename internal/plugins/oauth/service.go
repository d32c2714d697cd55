package oauth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/havenhealth/haven/internal/apperror"
	"github.com/havenhealth/haven/internal/plugins/auth"
)

// maxUserInfoBytes caps the provider userinfo response size.
const maxUserInfoBytes = 1 << 20

// Service drives the authorization code + PKCE flow end to end: Begin
// produces the redirect URL, Callback turns the provider's answer into a
// local session.
type Service interface {
	// Begin starts a sign-in attempt and returns the provider URL to
	// redirect the browser to.
	Begin(ctx context.Context, providerName string) (string, error)

	// Callback validates state, exchanges the code with the PKCE verifier,
	// resolves the provider profile to a local user, and mints a session.
	// The returned string is the signed session token for the cookie.
	Callback(ctx context.Context, providerName, state, code string, device auth.DeviceInfo) (string, *auth.User, error)

	// Providers lists the configured provider names, for the login page.
	Providers() []string
}

type service struct {
	providers map[string]*Provider
	states    *StateStore
	users     auth.UserRepository
	sessions  auth.AuthService
	audit     auth.AuditRecorder
}

// NewService creates the OAuth service. audit may be nil.
func NewService(providers []*Provider, states *StateStore, users auth.UserRepository, sessions auth.AuthService, audit auth.AuditRecorder) Service {
	byName := make(map[string]*Provider, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}
	return &service{
		providers: byName,
		states:    states,
		users:     users,
		sessions:  sessions,
		audit:     audit,
	}
}

func (s *service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

func (s *service) Begin(ctx context.Context, providerName string) (string, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", apperror.NewNotFound("unknown sign-in provider")
	}

	verifier := oauth2.GenerateVerifier()
	state, err := s.states.Put(provider.Name, verifier)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("generating state: %w", err))
	}

	url := provider.Config.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
	)
	return url, nil
}

func (s *service) Callback(ctx context.Context, providerName, state, code string, device auth.DeviceInfo) (string, *auth.User, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", nil, apperror.NewNotFound("unknown sign-in provider")
	}
	if state == "" || code == "" {
		return "", nil, apperror.NewBadRequest("missing state or code")
	}

	// State is single-use: unknown, replayed, and expired all look the
	// same here, and all of them mean the user has to start over.
	storedProvider, verifier, ok := s.states.Retrieve(state)
	if !ok || storedProvider != provider.Name {
		return "", nil, apperror.NewOAuthRestartLogin()
	}

	token, err := provider.Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		slog.Warn("oauth code exchange failed",
			slog.String("provider", provider.Name),
			slog.Any("error", err),
		)
		return "", nil, apperror.NewUnauthorized("sign-in failed, please try again")
	}

	profile, err := s.fetchProfile(ctx, provider, token)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("fetching %s profile: %w", provider.Name, err))
	}

	user, linked, err := s.users.UpsertByProviderIdentity(ctx, provider.Name, profile)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("resolving %s identity: %w", provider.Name, err))
	}

	sessionToken, _, err := s.sessions.CreateSession(ctx, user, device)
	if err != nil {
		return "", nil, err
	}

	if s.audit != nil {
		if linked {
			s.audit.Record(ctx, auth.EventOAuthLinkCreated, user.ID,
				map[string]any{"provider": provider.Name}, device)
		}
		s.audit.Record(ctx, auth.EventOAuthLogin, user.ID,
			map[string]any{"provider": provider.Name}, device)
	}

	slog.Info("oauth login",
		slog.String("provider", provider.Name),
		slog.String("user_id", user.ID),
		slog.Bool("new_link", linked),
	)

	return sessionToken, user, nil
}

// fetchProfile calls the provider's userinfo endpoint with the fresh access
// token and maps the response to a provider-neutral profile.
func (s *service) fetchProfile(ctx context.Context, provider *Provider, token *oauth2.Token) (auth.ProviderProfile, error) {
	client := provider.Config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return auth.ProviderProfile{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return auth.ProviderProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return auth.ProviderProfile{}, fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return auth.ProviderProfile{}, err
	}

	return provider.mapProfile(raw)
}
