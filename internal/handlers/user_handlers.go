package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/minervavault/vault/internal/middleware"
	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/repository"
	"github.com/minervavault/vault/internal/service"
	"github.com/sirupsen/logrus"
)

type UserHandlers struct {
	userRepo        *repository.UserRepository
	passwordService *service.PasswordService
	present         *presenter
	validate        *validator.Validate
	logger          *logrus.Logger
}

func NewUserHandlers(
	userRepo *repository.UserRepository,
	passwordService *service.PasswordService,
	logger *logrus.Logger,
) *UserHandlers {
	return &UserHandlers{
		userRepo:        userRepo,
		passwordService: passwordService,
		present:         &presenter{users: userRepo, passwords: passwordService},
		validate:        newValidator(),
		logger:          logger,
	}
}

// currentUser loads the authenticated user or answers 401.
func (h *UserHandlers) currentUser(w http.ResponseWriter, r *http.Request) (*repository.User, bool) {
	user, err := h.userRepo.GetByID(middleware.UserID(r.Context()))
	if err != nil || !user.IsActive {
		respondWithDetail(w, http.StatusUnauthorized, "Usuário não encontrado")
		return nil, false
	}
	return user, true
}

func (h *UserHandlers) isAdmin(u *repository.User) bool {
	admin, ok := h.userRepo.RoleByName(repository.RoleAdmin)
	if !ok {
		return false
	}
	for _, id := range u.RoleIDs {
		if id == admin.ID {
			return true
		}
	}
	return false
}

func (h *UserHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, h.present.detailedProfile(r, user))
}

func (h *UserHandlers) Roles(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.userRepo.Roles())
}

type listUsersQuery struct {
	RoleID string `json:"role_id" validate:"required,uuid"`
}

func (h *UserHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := listUsersQuery{RoleID: r.URL.Query().Get("role_id")}
	if err := h.validate.Struct(q); err != nil {
		respondWithError(w, http.StatusBadRequest, validationErrors(err))
		return
	}

	out := []models.UserRef{}
	for _, u := range h.userRepo.ListByRole(q.RoleID) {
		out = append(out, h.present.ref(u.ID))
	}
	respondWithJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Username             string `json:"username" validate:"required,min=3,max=150"`
	Email                string `json:"email" validate:"required,email"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
	FirstName            string `json:"first_name" validate:"max=150"`
	LastName             string `json:"last_name" validate:"max=150"`
	RoleID               string `json:"role_id" validate:"required,uuid"`
}

// strongPassword requires upper and lower case letters, a digit and a symbol.
func strongPassword(p string) bool {
	var upper, lower, digit, symbol bool
	for _, c := range p {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

func (h *UserHandlers) Create(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := createUserRequest{
		Username:             f.str("username"),
		Email:                f.str("email"),
		Password:             f.str("password"),
		PasswordConfirmation: f.str("password_confirmation"),
		FirstName:            f.str("first_name"),
		LastName:             f.str("last_name"),
		RoleID:               f.str("role_id"),
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, validationErrors(err))
		return
	}
	if !strongPassword(req.Password) {
		respondWithError(w, http.StatusBadRequest, map[string][]string{
			"password": {"A senha deve conter letras maiúsculas, minúsculas, números e caracteres especiais."},
		})
		return
	}
	if _, ok := h.userRepo.RoleByID(req.RoleID); !ok {
		respondWithError(w, http.StatusBadRequest, map[string][]string{"role_id": {"Papel não encontrado."}})
		return
	}

	hash, err := h.passwordService.Hash(req.Password)
	if err != nil {
		h.logger.WithError(err).Error("Failed to hash password")
		respondWithDetail(w, http.StatusInternalServerError, msgInternal)
		return
	}

	user := &repository.User{
		Username:           req.Username,
		Email:              req.Email,
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		PasswordHash:       hash,
		LastPasswordChange: h.passwordService.Now(),
		RoleIDs:            []string{req.RoleID},
		IsActive:           true,
	}
	avatar, fh, err := f.file("avatar")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fh != nil {
		user.Avatar = avatar
		user.AvatarType = fh.Header.Get("Content-Type")
	}

	if err := h.userRepo.Create(user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			respondWithError(w, http.StatusBadRequest, map[string][]string{
				"username": {"Já existe um usuário com este nome de usuário ou email."},
			})
			return
		}
		respondWithDetail(w, http.StatusInternalServerError, msgInternal)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"message": "Usuário criado com sucesso!"})
}

type updateUserRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
}

func (h *UserHandlers) Update(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if requester.ID != id && !h.isAdmin(requester) {
		respondWithDetail(w, http.StatusForbidden, "Você não tem permissão para atualizar este usuário")
		return
	}

	f, err := readForm(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateUserRequest
	req.FirstName, _ = f.get("first_name")
	req.LastName, _ = f.get("last_name")
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, validationErrors(err))
		return
	}

	avatar, fh, err := f.file("avatar")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	// an empty or "null" avatar field removes the current one
	removeAvatar := false
	if v, sent := f.get("avatar"); sent && (v == nil || *v == "" || *v == "null") {
		removeAvatar = true
	}

	if before, err := h.userRepo.GetByID(id); err == nil {
		middleware.Note(r.Context()).Previous = h.present.profile(r, before)
	}

	user, err := h.userRepo.Update(id, func(u *repository.User) error {
		if req.FirstName != nil {
			u.FirstName = *req.FirstName
		}
		if req.LastName != nil {
			u.LastName = *req.LastName
		}
		switch {
		case fh != nil:
			u.Avatar = avatar
			u.AvatarType = fh.Header.Get("Content-Type")
		case removeAvatar:
			u.Avatar = nil
			u.AvatarType = ""
		}
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		respondWithDetail(w, http.StatusNotFound, "Usuário não encontrado")
		return
	}
	if err != nil {
		respondWithDetail(w, http.StatusInternalServerError, msgInternal)
		return
	}

	respondWithJSON(w, http.StatusOK, h.present.profile(r, user))
}

func (h *UserHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req models.ChangePasswordInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, validationErrors(err))
		return
	}

	user, err := h.userRepo.Update(requester.ID, func(u *repository.User) error {
		return h.passwordService.Change(u, req.CurrentPassword, req.NewPassword)
	})
	var ruleErr *service.RuleError
	switch {
	case errors.Is(err, service.ErrWrongPassword):
		respondWithError(w, http.StatusBadRequest, []string{err.Error()})
		return
	case errors.As(err, &ruleErr):
		respondWithError(w, http.StatusBadRequest, []string{ruleErr.Message})
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to change password")
		respondWithDetail(w, http.StatusInternalServerError, msgInternal)
		return
	}

	respondWithJSON(w, http.StatusOK, h.present.detailedProfile(r, user))
}

func (h *UserHandlers) Avatar(w http.ResponseWriter, r *http.Request) {
	user, err := h.userRepo.GetByID(mux.Vars(r)["id"])
	if err != nil || len(user.Avatar) == 0 {
		respondWithDetail(w, http.StatusNotFound, "Avatar não encontrado")
		return
	}
	ct := user.AvatarType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	w.Write(user.Avatar)
}
