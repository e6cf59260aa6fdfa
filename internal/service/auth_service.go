package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/makkenzo/entitlement-service-api/internal/clock"
	"github.com/makkenzo/entitlement-service-api/internal/config"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "entitlement-service"

type AdminClaims struct {
	jwt.RegisteredClaims
}

type IssuedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

type AuthService struct {
	cfg    *config.AdminConfig
	clock  clock.Clock
	logger *zap.Logger
}

func NewAuthService(cfg *config.AdminConfig, clk clock.Clock, logger *zap.Logger) *AuthService {
	return &AuthService{
		cfg:    cfg,
		clock:  clk,
		logger: logger.Named("AuthService"),
	}
}

// Login checks the operator credentials and issues a signed access token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*IssuedToken, error) {
	if s.cfg.PasswordHash == "" {
		s.logger.Warn("Login attempted but no admin password hash is configured")
		return nil, ierr.ErrInvalidCredentials
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password))
	if !userOK || err != nil {
		if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Error("Stored admin password hash is unusable", zap.Error(err))
		}
		return nil, ierr.ErrInvalidCredentials
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.TokenTTL)
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		s.logger.Error("Failed to sign access token", zap.Error(err))
		return nil, fmt.Errorf("%w: sign token: %v", ierr.ErrInternalServer, err)
	}

	s.logger.Info("Admin logged in", zap.String("username", username))
	return &IssuedToken{AccessToken: signed, ExpiresAt: expiresAt}, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, rawToken string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(t *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		s.logger.Debug("Access token rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ierr.ErrInvalidToken, err)
	}
	return claims, nil
}
