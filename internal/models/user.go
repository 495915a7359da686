package models

import (
	"time"
)

// Password urgency levels reported by the backend.
const (
	UrgencyExpired  = "EXPIRED"
	UrgencyCritical = "CRITICAL"
	UrgencyWarning  = "WARNING"
	UrgencyOK       = "OK"
)

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PasswordStatus struct {
	NeedsChange         bool      `json:"needs_change"`
	DaysUntilExpiration int       `json:"days_until_expiration"`
	LastChange          time.Time `json:"last_change"`
	Urgency             string    `json:"urgency"`
}

type UserProfile struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	InactivatedAt  *time.Time      `json:"inactivated_at"`
	AvatarURL      *string         `json:"avatar_url"`
	Roles          []Role          `json:"roles"`
	PasswordStatus *PasswordStatus `json:"password_status,omitempty"`
}

func (u *UserProfile) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// HasRole reports whether the user holds a role with the given name.
func (u *UserProfile) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// UserRef is the compact user shape embedded in thesis records.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role *Role  `json:"role,omitempty"`
}

type CreateUserInput struct {
	Username             string `validate:"required,min=3,max=150"`
	Email                string `validate:"required,email"`
	Password             string `validate:"required,min=8"`
	PasswordConfirmation string `validate:"required,eqfield=Password"`
	FirstName            string `validate:"required,max=150"`
	LastName             string `validate:"required,max=150"`
	RoleID               string `validate:"required"`
	Avatar               *Upload
}

type UpdateUserInput struct {
	FirstName *string `validate:"omitempty,max=150"`
	LastName  *string `validate:"omitempty,max=150"`
	Avatar    *Upload
}

type ChangePasswordInput struct {
	CurrentPassword      string `json:"current_password" validate:"required"`
	NewPassword          string `json:"new_password" validate:"required,min=8,nefield=CurrentPassword"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=NewPassword"`
}
