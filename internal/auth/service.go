// Package auth guards the HTTP API with signed bearer tokens. Without a
// configured secret the API is open.
package auth

import (
	"fmt"

	"github.com/llll-robotics/llll/internal/config"
)

type Permission string

const (
	// PermOperator reads hub info, logs and history.
	PermOperator Permission = "operator"
	// PermTechnician runs and cancels programs and probes hubs.
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
	RoleOperator   = "operator"
)

var allPermissions = []Permission{PermOperator, PermTechnician, PermAdmin}

type AuthService struct {
	jwtHandler *JWTHandler
}

// NewAuthService reads the signing secret from the environment variable
// named in cfg.
func NewAuthService(cfg config.AuthConfig) *AuthService {
	secret := cfg.JWTSecret()
	if secret == "" {
		return &AuthService{}
	}
	return &AuthService{jwtHandler: NewJWTHandler(secret, cfg.TokenTTL)}
}

// Enabled reports whether requests must carry a token.
func (a *AuthService) Enabled() bool {
	return a.jwtHandler != nil
}

// IssueToken mints a token for subject with the given role.
func (a *AuthService) IssueToken(subject, role string) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("no JWT secret configured")
	}
	switch role {
	case RoleAdmin, RoleTechnician, RoleOperator:
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
	return a.jwtHandler.GenerateAccessToken(subject, role)
}

// ValidateToken returns the permissions a token grants. With auth disabled
// every caller holds every permission.
func (a *AuthService) ValidateToken(token string) ([]Permission, error) {
	if !a.Enabled() {
		return allPermissions, nil
	}
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	return roleToPermissions(claims.Role), nil
}

func roleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case RoleTechnician:
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}
