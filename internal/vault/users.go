package vault

import (
	"context"
	"net/http"
	"net/url"

	"github.com/minervavault/vault/internal/client"
	"github.com/minervavault/vault/internal/models"
)

const (
	msgRoles          = "Falha ao recuperar informações de papéis de usuário. Tente novamente mais tarde."
	msgUsersByRole    = "Falha ao recuperar usuários por papel. Tente novamente mais tarde."
	msgCreateUser     = "Falha ao criar usuário. Tente novamente mais tarde"
	msgUpdateUser     = "Falha ao atualizar usuário. Tente novamente mais tarde."
	msgChangePassword = "Falha ao alterar senha. Verifique suas credenciais e tente novamente."
)

func (s *Service) Roles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.call(ctx, &client.Request{Method: http.MethodGet, Path: "/user/roles/"}, &roles, msgRoles); err != nil {
		return nil, err
	}
	return roles, nil
}

// UsersByRole lists the users holding roleID, used to fill author and
// advisor pickers.
func (s *Service) UsersByRole(ctx context.Context, roleID string) ([]models.UserRef, error) {
	req := &client.Request{
		Method: http.MethodGet,
		Path:   "/user/",
		Query:  url.Values{"role_id": {roleID}},
	}
	var users []models.UserRef
	if err := s.call(ctx, req, &users, msgUsersByRole); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser registers a new account and returns the backend's confirmation.
func (s *Service) CreateUser(ctx context.Context, in models.CreateUserInput) (string, error) {
	if err := s.check(in); err != nil {
		return "", err
	}

	form := client.NewMultipart().
		Field("username", in.Username).
		Field("email", in.Email).
		Field("password", in.Password).
		Field("password_confirmation", in.PasswordConfirmation).
		Field("first_name", in.FirstName).
		Field("last_name", in.LastName).
		Field("role_id", in.RoleID)
	if in.Avatar != nil {
		form.File("avatar", in.Avatar.Filename, in.Avatar.ContentType, in.Avatar.Body)
	}

	var out struct {
		Message string `json:"message"`
	}
	err := s.call(ctx, &client.Request{Method: http.MethodPost, Path: "/user/", Multipart: form}, &out, msgCreateUser)
	if err != nil {
		return "", err
	}
	return out.Message, nil
}

// UpdateUser patches the given profile. The session user is refreshed when
// it is the one being edited.
func (s *Service) UpdateUser(ctx context.Context, id string, in models.UpdateUserInput) (*models.UserProfile, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	form := client.NewMultipart()
	if in.FirstName != nil {
		form.Field("first_name", *in.FirstName)
	}
	if in.LastName != nil {
		form.Field("last_name", *in.LastName)
	}
	if in.Avatar != nil {
		form.File("avatar", in.Avatar.Filename, in.Avatar.ContentType, in.Avatar.Body)
	}

	var user models.UserProfile
	err := s.call(ctx, &client.Request{
		Method:    http.MethodPatch,
		Path:      "/user/" + url.PathEscape(id) + "/",
		Multipart: form,
	}, &user, msgUpdateUser)
	if err != nil {
		return nil, err
	}

	if current := s.session.User(); current != nil && current.ID == user.ID {
		s.session.SetUser(&user)
	}
	return &user, nil
}

// ChangePassword updates the logged-in user's password and reloads the
// profile so the password status is current.
func (s *Service) ChangePassword(ctx context.Context, in models.ChangePasswordInput) error {
	if err := s.check(in); err != nil {
		return err
	}

	err := s.call(ctx, &client.Request{
		Method: http.MethodPatch,
		Path:   "/user/change_password/",
		JSON:   in,
	}, nil, msgChangePassword)
	if err != nil {
		return err
	}

	if profile, err := s.fetchMe(ctx); err == nil {
		s.session.SetUser(profile)
	}
	return nil
}
