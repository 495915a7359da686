// Package vault exposes the backend operations: authentication, users and
// thesis records.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/minervavault/vault/internal/client"
	"github.com/minervavault/vault/internal/session"
	"github.com/minervavault/vault/internal/tokenstore"
	"github.com/sirupsen/logrus"
)

// Notifier shows a failure to the person using the application.
type Notifier interface {
	Error(message string)
}

// LogNotifier reports failures through the logger.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Error(message string) {
	n.Logger.Error(message)
}

type Service struct {
	api      *client.RefreshCoordinator
	store    tokenstore.Store
	session  *session.Session
	validate *validator.Validate
	notifier Notifier
	logger   *logrus.Logger
}

func NewService(
	api *client.RefreshCoordinator,
	sess *session.Session,
	notifier Notifier,
	logger *logrus.Logger,
) *Service {
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	s := &Service{
		api:      api,
		store:    api.Dispatcher().Store(),
		session:  sess,
		validate: newValidator(),
		notifier: notifier,
		logger:   logger,
	}
	api.OnSessionExpired(sess.Expired)
	return s
}

func (s *Service) Session() *session.Session {
	return s.session
}

// Bootstrap restores the session from stored tokens.
func (s *Service) Bootstrap(ctx context.Context) {
	s.session.Bootstrap(ctx, s.fetchMe)
}

// newValidator adds uuid_or_empty, which accepts "" so a pointer field can
// carry an explicit removal.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("uuid_or_empty", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := uuid.Parse(s)
		return err == nil
	})
	return v
}

// check runs form validation; nothing is sent when it fails.
func (s *Service) check(input any) error {
	if err := s.validate.Struct(input); err != nil {
		return newValidationError(err)
	}
	return nil
}

// call sends req and decodes a 2xx JSON answer into out (when non-nil).
// Failures are normalized, reported through the notifier with fallback as
// the default message, and returned.
func (s *Service) call(ctx context.Context, req *client.Request, out any, fallback string) error {
	err := s.do(ctx, req, out, fallback)
	if err != nil {
		s.report(err, fallback)
	}
	return err
}

func (s *Service) do(ctx context.Context, req *client.Request, out any, fallback string) error {
	resp, err := s.api.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		msg := errorMessage(body)
		if msg == "" {
			msg = fallback
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (s *Service) report(err error, fallback string) {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		s.notifier.Error(apiErr.Message)
	case errors.Is(err, client.ErrSessionExpired):
		s.notifier.Error("Sua sessão expirou. Faça login novamente.")
	default:
		s.logger.WithError(err).Debug("Request failed")
		s.notifier.Error(fallback)
	}
}
