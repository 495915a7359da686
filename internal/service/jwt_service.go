package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/minervavault/vault/internal/config"
	"github.com/minervavault/vault/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

var ErrWrongTokenType = errors.New("wrong token type")

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
	logger        *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		now:           time.Now,
		logger:        logger,
	}, nil
}

// SetClock replaces the time source used to issue and verify tokens.
func (s *JWTService) SetClock(now func() time.Time) {
	s.now = now
}

type Claims struct {
	Type string `json:"token_type"`
	jwt.RegisteredClaims
}

func (s *JWTService) sign(userID, tokenType string, expiry time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Errorf("Failed to sign %s token", tokenType)
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// IssuePair returns a fresh access and refresh token for userID.
func (s *JWTService) IssuePair(userID string) (*models.CredentialPair, error) {
	access, err := s.sign(userID, TokenAccess, s.accessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(userID, TokenRefresh, s.refreshExpiry)
	if err != nil {
		return nil, err
	}
	return &models.CredentialPair{Access: access, Refresh: refresh}, nil
}

// VerifyToken checks the signature, expiry and type of tokenString.
func (s *JWTService) VerifyToken(tokenString, tokenType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Type != tokenType {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.Type, tokenType)
	}

	return claims, nil
}

// Refresh issues a new access token from a valid refresh token. Refresh
// tokens issued before notBefore (the last password change) are rejected.
func (s *JWTService) Refresh(refreshToken string, notBefore func(userID string) (time.Time, error)) (string, error) {
	claims, err := s.VerifyToken(refreshToken, TokenRefresh)
	if err != nil {
		return "", fmt.Errorf("invalid refresh token: %w", err)
	}

	cutoff, err := notBefore(claims.Subject)
	if err != nil {
		return "", err
	}
	if claims.IssuedAt == nil || claims.IssuedAt.Time.Before(cutoff.Truncate(time.Second)) {
		return "", fmt.Errorf("refresh token predates the last password change")
	}

	return s.sign(claims.Subject, TokenAccess, s.accessExpiry)
}
