package vault

import (
	"context"
	"errors"
	"net/http"

	"github.com/minervavault/vault/internal/client"
	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/tokenstore"
)

const (
	msgLogin = "Falha ao autenticar usuário"
	msgMe    = "Falha ao recuperar informações do usuário. Tente novamente mais tarde."
)

// Login exchanges credentials for a token pair, stores both tokens and loads
// the profile into the session.
func (s *Service) Login(ctx context.Context, username, password string) (*models.UserProfile, error) {
	in := models.LoginRequest{Username: username, Password: password}
	if err := s.check(in); err != nil {
		return nil, err
	}

	var pair models.CredentialPair
	err := s.do(ctx, &client.Request{
		Method:    http.MethodPost,
		Path:      "/auth/login/",
		JSON:      in,
		Anonymous: true,
	}, &pair, msgLogin)
	if err != nil {
		// the backend's own wording for bad credentials is not shown
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			err = &APIError{Status: apiErr.Status, Message: msgLogin}
		}
		s.report(err, msgLogin)
		return nil, err
	}

	s.store.Set(tokenstore.AccessTokenKey, pair.Access)
	s.store.Set(tokenstore.RefreshTokenKey, pair.Refresh)
	s.api.Reset()

	profile, err := s.Me(ctx)
	if err != nil {
		return nil, err
	}
	s.session.SetUser(profile)

	s.logger.WithField("username", profile.Username).Info("Logged in")
	return profile, nil
}

// Logout drops the stored tokens and the session user.
func (s *Service) Logout() {
	tokenstore.Clear(s.store)
	s.session.Clear()
}

// Me fetches the profile of the logged-in user.
func (s *Service) Me(ctx context.Context) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.call(ctx, &client.Request{Method: http.MethodGet, Path: "/user/me/"}, &profile, msgMe); err != nil {
		return nil, err
	}
	return &profile, nil
}

// fetchMe is the bootstrap variant of Me: failures end up as a logged-out
// session, so nothing is reported.
func (s *Service) fetchMe(ctx context.Context) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.do(ctx, &client.Request{Method: http.MethodGet, Path: "/user/me/"}, &profile, msgMe); err != nil {
		return nil, err
	}
	return &profile, nil
}
