package auth

import (
	"context"

	"gitlab.com/encodefarm.net/internal/domain"
)

type IAuthService interface {
	// Login checks the operator credential and issues a bearer token
	Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error)
}
