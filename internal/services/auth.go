package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = apperrors.New(apperrors.KindUnauthorized, "Invalid email or password")

type AuthService struct {
	admins     store.AdminStore
	jwtService *JWTService
	now        func() time.Time
}

func NewAuthService(admins store.AdminStore, jwtService *JWTService) *AuthService {
	return &AuthService{
		admins:     admins,
		jwtService: jwtService,
		now:        time.Now,
	}
}

// HashPassword hashes a password using bcrypt
func (a *AuthService) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash
func (a *AuthService) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// EnsureAdmin creates the bootstrap administrator if no account with that
// email exists yet.
func (a *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}

	_, err := a.admins.GetAdminByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return apperrors.Persistence("Failed to look up administrator", err)
	}

	hash, err := a.HashPassword(password)
	if err != nil {
		return err
	}

	admin := &models.AdminUser{
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if err := a.admins.CreateAdmin(ctx, admin); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return apperrors.Persistence("Failed to create administrator", err)
	}

	log.Info().Str("email", email).Msg("Bootstrap administrator created")
	return nil
}

// Login checks credentials and issues an admin token.
func (a *AuthService) Login(ctx context.Context, email, password string) (string, *models.AdminUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", nil, apperrors.Validation("Email and password are required")
	}

	admin, err := a.admins.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, apperrors.Persistence("Failed to look up administrator", err)
	}

	if !a.CheckPassword(password, admin.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := a.jwtService.GenerateToken(admin.ID, admin.Email, admin.Role)
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.KindInternal, "Failed to generate token", err)
	}

	if err := a.admins.TouchAdminLogin(ctx, admin.ID, a.now()); err != nil {
		log.Warn().Err(err).Int64("admin_id", admin.ID).Msg("Failed to update last login")
	}

	return token, admin, nil
}

// ValidateToken validates a JWT token and returns claims
func (a *AuthService) ValidateToken(token string) (*JWTClaims, error) {
	return a.jwtService.ValidateToken(token)
}
