// Package session holds the process-wide view of who is logged in.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/minervavault/vault/internal/models"
	"github.com/minervavault/vault/internal/tokenstore"
	"github.com/sirupsen/logrus"
)

// Access is what a route guard may show.
type Access int

const (
	// Unknown means bootstrap has not finished; show neither authenticated
	// nor anonymous views.
	Unknown Access = iota
	Authenticated
	Anonymous
)

func (a Access) String() string {
	switch a {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	}
	return "unknown"
}

// Views that stay reachable while a password change is pending.
var passwordExemptPaths = []string{"/atualizar-senha", "/perfil"}

// ProfileFetcher loads the profile of the owner of the stored access token.
type ProfileFetcher func(ctx context.Context) (*models.UserProfile, error)

type Session struct {
	store  tokenstore.Store
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.RWMutex
	user     *models.UserProfile
	loading  bool
	loadOnce sync.Once
}

func New(store tokenstore.Store, logger *logrus.Logger) *Session {
	return &Session{
		store:   store,
		logger:  logger,
		now:     time.Now,
		loading: true,
	}
}

// Bootstrap restores the user from a persisted access token. It runs once;
// later calls return immediately.
func (s *Session) Bootstrap(ctx context.Context, fetch ProfileFetcher) {
	s.loadOnce.Do(func() {
		defer s.finishLoading()

		if token, ok := s.store.Get(tokenstore.AccessTokenKey); !ok || token == "" {
			return
		}

		profile, err := fetch(ctx)
		if err != nil {
			s.logger.WithError(err).Info("Stored session is no longer valid")
			tokenstore.Clear(s.store)
			s.Clear()
			return
		}
		s.SetUser(profile)
	})
}

func (s *Session) finishLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
}

func (s *Session) SetUser(profile *models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = profile
}

// Clear forgets the current user. Calling it again is harmless.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
}

func (s *Session) User() *models.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Authenticated is true when a user is loaded. While bootstrap is still
// running a stored, unexpired access token also counts.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	user, loading := s.user, s.loading
	s.mu.RUnlock()

	if user != nil {
		return true
	}
	if !loading {
		return false
	}
	return s.tokenLooksValid()
}

func (s *Session) tokenLooksValid() bool {
	token, ok := s.store.Get(tokenstore.AccessTokenKey)
	if !ok || token == "" {
		return false
	}

	exp, ok := TokenExpiry(token)
	if !ok {
		// opaque token, nothing to check locally
		return true
	}
	return s.now().Before(exp)
}

// Gate decides which views a router may show.
func (s *Session) Gate() Access {
	if s.Loading() {
		return Unknown
	}
	if s.Authenticated() {
		return Authenticated
	}
	return Anonymous
}

// PasswordChangeRequired reports whether the user must be sent to change
// their password before using the view at path.
func (s *Session) PasswordChangeRequired(path string) bool {
	user := s.User()
	if user == nil || user.PasswordStatus == nil || !user.PasswordStatus.NeedsChange {
		return false
	}
	for _, p := range passwordExemptPaths {
		if p == path {
			return false
		}
	}
	return true
}

// Expired is meant to be subscribed to the refresh coordinator.
func (s *Session) Expired(err error) {
	s.logger.WithError(err).Info("Session expired")
	s.Clear()
}

// TokenExpiry reads the exp claim of a JWT without verifying it.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
