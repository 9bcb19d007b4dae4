// Package authz authorizes release-triggering callers (webhook handlers,
// admin actions, the ops CLI). Policy arrives as an explicit Config at
// construction; there is no module-level state and no environment lookup.
package authz

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("authz: invalid token")
	ErrForbidden    = errors.New("authz: forbidden")
)

// Role scopes what a principal may trigger.
type Role string

const (
	RoleWebhook Role = "webhook"
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
)

// Principal identifies an authorized caller.
type Principal struct {
	ID   string
	Role Role
}

// Config is the whole authorization policy. StaticTokenBcryptHash guards the
// ops static token; JWTSecret signs service tokens.
type Config struct {
	JWTSecret             string
	StaticTokenBcryptHash string
	StaticTokenPrincipal  string
}

type Authorizer struct {
	secret     []byte
	staticHash []byte
	staticID   string
}

func New(cfg Config) (*Authorizer, error) {
	if cfg.JWTSecret == "" && cfg.StaticTokenBcryptHash == "" {
		return nil, fmt.Errorf("authz: no credential source configured")
	}
	return &Authorizer{
		secret:     []byte(cfg.JWTSecret),
		staticHash: []byte(cfg.StaticTokenBcryptHash),
		staticID:   cfg.StaticTokenPrincipal,
	}, nil
}

// Authorize resolves a bearer token to a principal. JWTs are tried first;
// anything that does not parse as a JWT is compared against the static hash.
func (a *Authorizer) Authorize(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrInvalidToken
	}

	if len(a.secret) > 0 {
		if p, err := a.verifyJWT(token); err == nil {
			return p, nil
		}
	}

	if len(a.staticHash) > 0 {
		if err := bcrypt.CompareHashAndPassword(a.staticHash, []byte(token)); err == nil {
			id := a.staticID
			if id == "" {
				id = "ops"
			}
			return Principal{ID: id, Role: RoleAdmin}, nil
		}
	}

	return Principal{}, ErrInvalidToken
}

// Require authorizes and then checks the role.
func (a *Authorizer) Require(token string, role Role) (Principal, error) {
	p, err := a.Authorize(token)
	if err != nil {
		return Principal{}, err
	}
	if p.Role != role && p.Role != RoleAdmin {
		return Principal{}, fmt.Errorf("%w: %s cannot act as %s", ErrForbidden, p.Role, role)
	}
	return p, nil
}

func (a *Authorizer) verifyJWT(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Principal{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	switch role {
	case RoleWebhook, RoleAdmin, RoleAuditor:
	default:
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, roleStr)
	}

	return Principal{ID: sub, Role: role}, nil
}

// MintToken issues a signed service token, used by tests and ops tooling.
func (a *Authorizer) MintToken(principalID string, role Role, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("authz: jwt secret not configured")
	}
	claims := jwt.MapClaims{
		"sub":  principalID,
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
