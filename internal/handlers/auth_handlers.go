package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/minervavault/vault/internal/middleware"
	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/repository"
	"github.com/minervavault/vault/internal/service"
	"github.com/sirupsen/logrus"
)

const msgBadCredentials = "Credenciais inválidas. Em caso de dúvidas, busque o suporte."

type AuthHandlers struct {
	jwtService      *service.JWTService
	passwordService *service.PasswordService
	userRepo        *repository.UserRepository
	validate        *validator.Validate
	logger          *logrus.Logger
}

func NewAuthHandlers(
	jwtService *service.JWTService,
	passwordService *service.PasswordService,
	userRepo *repository.UserRepository,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		jwtService:      jwtService,
		passwordService: passwordService,
		userRepo:        userRepo,
		validate:        newValidator(),
		logger:          logger,
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, validationErrors(err))
		return
	}

	user, err := h.userRepo.GetByUsername(req.Username)
	if err == nil {
		middleware.Note(r.Context()).UserID = user.ID
	}
	if err != nil || !user.IsActive || !h.passwordService.Check(user.PasswordHash, req.Password) {
		h.logger.WithField("username", req.Username).Info("Login rejected")
		respondWithDetail(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	pair, err := h.jwtService.IssuePair(user.ID)
	if err != nil {
		respondWithDetail(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.logger.WithField("user_id", user.ID).Info("User logged in")
	respondWithJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}
	if req.Refresh == "" {
		respondWithError(w, http.StatusBadRequest, map[string][]string{"refresh": {fieldMessages["required"]}})
		return
	}

	access, err := h.jwtService.Refresh(req.Refresh, h.passwordChangedAt)
	if err != nil {
		h.logger.WithError(err).Debug("Refresh rejected")
		respondWithJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "O token informado não é válido para qualquer tipo de token",
			"code":   "token_not_valid",
		})
		return
	}

	respondWithJSON(w, http.StatusOK, models.RefreshResponse{Access: access})
}

func (h *AuthHandlers) passwordChangedAt(userID string) (time.Time, error) {
	user, err := h.userRepo.GetByID(userID)
	if err != nil {
		return time.Time{}, err
	}
	if !user.IsActive {
		return time.Time{}, errors.New("user is inactive")
	}
	return user.LastPasswordChange, nil
}
