package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/static/errs"
)

var _ IAuthService = &localAuthService{}

type localAuthService struct {
	admin       *config.AdminConfig
	jwtProvider primary.JWTService
	logger      primary.Logger
}

// NewLocalAuthService checks logins against the configured admin account.
// A plain password in cfg is hashed once here.
func NewLocalAuthService(ctx context.Context, cfg *config.AdminConfig, jwtProvider primary.JWTService, logger primary.Logger) (IAuthService, error) {
	admin := *cfg
	if admin.PasswordHash == "" && admin.Password != "" {
		hash, err := jwtProvider.EncryptPassword(ctx, admin.Password)
		if err != nil {
			return nil, err
		}
		admin.PasswordHash = hash
		admin.Password = ""
	}
	if admin.PasswordHash == "" {
		logger.Warn("No admin password configured, admin login is disabled")
	}
	return &localAuthService{
		admin:       &admin,
		jwtProvider: jwtProvider,
		logger:      logger,
	}, nil
}

func (g localAuthService) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	if g.admin.PasswordHash == "" || req.Username != g.admin.Username {
		return domain.LoginResponse{}, errs.InvalidCredentials
	}
	valid, err := g.jwtProvider.VerifyPassword(ctx, g.admin.PasswordHash, req.Password)
	if err != nil || !valid {
		g.logger.Warn("Rejected admin login", "username", req.Username)
		return domain.LoginResponse{}, errs.InvalidCredentials
	}

	claims := map[string]interface{}{
		"username":   req.Username,
		"permission": []string{domain.PermissionAdmin},
	}
	token, err := g.jwtProvider.GenerateTokenHMAC(ctx, jwt.SigningMethodHS256.Name, claims)
	if err != nil {
		g.logger.Error("Failed to sign token", "error", err)
		return domain.LoginResponse{}, errs.GeneratingToken
	}

	// GenerateTokenHMAC stamps exp into claims
	resp := domain.LoginResponse{Token: token}
	resp.ExpiresAt, _ = claims["exp"].(int64)
	return resp, nil
}
