package service

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	PasswordLifetime     = 30 * 24 * time.Hour
	PasswordHistoryLimit = 5
)

var ErrWrongPassword = errors.New("Senha atual incorreta")

// RuleError is a rejected new password. Message is shown to the user.
type RuleError struct {
	Message string
}

func (e *RuleError) Error() string {
	return e.Message
}

type PasswordService struct {
	cost   int
	now    func() time.Time
	logger *logrus.Logger
}

func NewPasswordService(cost int, logger *logrus.Logger) *PasswordService {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordService{cost: cost, now: time.Now, logger: logger}
}

func (s *PasswordService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *PasswordService) Now() time.Time {
	return s.now()
}

func (s *PasswordService) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func (s *PasswordService) Check(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Change verifies current, applies the password rules and rotates the hash
// into the history.
func (s *PasswordService) Change(user *repository.User, current, next string) error {
	if !s.Check(user.PasswordHash, current) {
		return ErrWrongPassword
	}
	if current == next {
		return &RuleError{Message: "A nova senha não pode ser igual à senha atual"}
	}
	for _, old := range user.PasswordHistory {
		if s.Check(old, next) {
			return &RuleError{Message: "A nova senha já foi utilizada recentemente. Por favor, escolha uma senha diferente."}
		}
	}
	lower := strings.ToLower(next)
	if strings.Contains(lower, strings.ToLower(user.Username)) {
		return &RuleError{Message: "A senha não pode conter o nome de usuário"}
	}
	if local, _, _ := strings.Cut(strings.ToLower(user.Email), "@"); local != "" && strings.Contains(lower, local) {
		return &RuleError{Message: "A senha não pode conter o e-mail"}
	}

	hashed, err := s.Hash(next)
	if err != nil {
		return err
	}

	user.PasswordHistory = append([]string{user.PasswordHash}, user.PasswordHistory...)
	if len(user.PasswordHistory) > PasswordHistoryLimit {
		user.PasswordHistory = user.PasswordHistory[:PasswordHistoryLimit]
	}
	user.PasswordHash = hashed
	user.LastPasswordChange = s.now()

	s.logger.WithField("user_id", user.ID).Info("Password changed")
	return nil
}

// Status reports how close the password is to expiring.
func (s *PasswordService) Status(user *repository.User) *models.PasswordStatus {
	remaining := user.LastPasswordChange.Add(PasswordLifetime).Sub(s.now())
	days := int(math.Floor(remaining.Hours() / 24))

	urgency := models.UrgencyOK
	switch {
	case days <= 0:
		urgency = models.UrgencyExpired
	case days <= 5:
		urgency = models.UrgencyCritical
	case days <= 10:
		urgency = models.UrgencyWarning
	}

	return &models.PasswordStatus{
		NeedsChange:         days <= 0,
		DaysUntilExpiration: days,
		LastChange:          user.LastPasswordChange,
		Urgency:             urgency,
	}
}
