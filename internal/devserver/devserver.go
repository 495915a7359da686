// Package devserver wires the in-memory stand-in for the Minerva API.
package devserver

import (
	"net/http"
	"time"

	"github.com/minervavault/vault/internal/config"
	"github.com/minervavault/vault/internal/handlers"
	"github.com/minervavault/vault/internal/middleware"
	"github.com/minervavault/vault/internal/repository"
	"github.com/minervavault/vault/internal/service"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type Server struct {
	Handler   http.Handler
	JWT       *service.JWTService
	Passwords *service.PasswordService
	Users     *repository.UserRepository
	Theses    *repository.ThesisRepository
	Audit     *repository.AuditRepository
	Seeded    *service.Seeded
}

type Option func(*options)

type options struct {
	bcryptCost int
	now        func() time.Time
}

// WithBcryptCost lowers the hashing cost, for tests.
func WithBcryptCost(cost int) Option {
	return func(o *options) { o.bcryptCost = cost }
}

// WithClock sets the time source for token issue and password expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(cfg *config.Config, logger *logrus.Logger, opts ...Option) (*Server, error) {
	o := options{bcryptCost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	userRepo := repository.NewUserRepository(logger)
	thesisRepo := repository.NewThesisRepository(logger)
	auditRepo := repository.NewAuditRepository(logger)

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		return nil, err
	}
	jwtService.SetClock(o.now)

	passwordService := service.NewPasswordService(o.bcryptCost, logger)
	passwordService.SetClock(o.now)
	thesisService := service.NewThesisService(userRepo, thesisRepo, logger)

	seeded, err := service.Seed(userRepo, thesisRepo, passwordService, cfg.Server.SeedPassword)
	if err != nil {
		return nil, err
	}

	authHandlers := handlers.NewAuthHandlers(jwtService, passwordService, userRepo, logger)
	userHandlers := handlers.NewUserHandlers(userRepo, passwordService, logger)
	thesisHandlers := handlers.NewThesisHandlers(thesisService, thesisRepo, userHandlers, logger)
	authMiddleware := middleware.NewAuthMiddleware(jwtService, logger)
	auditMiddleware := middleware.NewAuditMiddleware(auditRepo, logger)

	return &Server{
		Handler:   handlers.NewRouter(authHandlers, userHandlers, thesisHandlers, authMiddleware, auditMiddleware, logger),
		JWT:       jwtService,
		Passwords: passwordService,
		Users:     userRepo,
		Theses:    thesisRepo,
		Audit:     auditRepo,
		Seeded:    seeded,
	}, nil
}
