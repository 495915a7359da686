// Package repository holds the dev server's in-memory records.
package repository

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minervavault/vault/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Role names seeded at startup.
const (
	RoleAdmin     = "ADMIN"
	RoleProfessor = "PROFESSOR"
	RoleStudent   = "STUDENT"
)

type User struct {
	ID                 string
	Username           string
	Email              string
	FirstName          string
	LastName           string
	PasswordHash       string
	PasswordHistory    []string
	LastPasswordChange time.Time
	RoleIDs            []string
	IsActive           bool
	Avatar             []byte
	AvatarType         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type UserRepository struct {
	mu     sync.RWMutex
	users  map[string]*User
	roles  []models.Role
	logger *logrus.Logger
}

func NewUserRepository(logger *logrus.Logger) *UserRepository {
	r := &UserRepository{
		users:  make(map[string]*User),
		logger: logger,
	}
	for _, name := range []string{RoleAdmin, RoleProfessor, RoleStudent} {
		r.roles = append(r.roles, models.Role{ID: uuid.New().String(), Name: name})
	}
	return r
}

func (r *UserRepository) Roles() []models.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Role(nil), r.roles...)
}

func (r *UserRepository) RoleByID(id string) (models.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.ID == id {
			return role, true
		}
	}
	return models.Role{}, false
}

func (r *UserRepository) RoleByName(name string) (models.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.Name == name {
			return role, true
		}
	}
	return models.Role{}, false
}

// Create stores user, assigning an ID when it has none. Username and email
// are unique, case-insensitively.
func (r *UserRepository) Create(user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return ErrAlreadyExists
		}
	}

	now := time.Now()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.LastPasswordChange.IsZero() {
		user.LastPasswordChange = now
	}

	stored := *user
	r.users[user.ID] = &stored
	r.logger.WithField("username", user.Username).Debug("User created")
	return nil
}

func (r *UserRepository) GetByID(id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) GetByUsername(username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListByRole returns the active users holding roleID, ordered by name.
func (r *UserRepository) ListByRole(roleID string) []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*User
	for _, u := range r.users {
		if !u.IsActive {
			continue
		}
		for _, id := range u.RoleIDs {
			if id == roleID {
				cp := *u
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// Update applies fn to the stored user under the write lock.
func (r *UserRepository) Update(id string, fn func(*User) error) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now()
	r.users[id] = &cp

	out := cp
	return &out, nil
}
