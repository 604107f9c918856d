// Package auth resolves bearer credentials into users. Tokens are issued
// elsewhere; this service only verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the identity claims this service reads. The subject is the identity.
type Claims struct {
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens signed with a shared secret.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

var _ core.IdentityResolver = (*JWTResolver)(nil)

func NewJWTResolver(secret string) (*JWTResolver, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &JWTResolver{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

func (r *JWTResolver) Resolve(_ context.Context, credential string) (domain.User, error) {
	if credential == "" {
		return domain.User{}, ErrMissingToken
	}
	var claims Claims
	_, err := r.parser.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	name := claims.Username
	if name == "" {
		name = claims.Name
	}
	user, err := domain.NewUser(claims.Subject, name)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return user, nil
}

// Issue signs a token for user. Used by tooling and tests; production
// tokens come from the identity provider.
func (r *JWTResolver) Issue(user domain.User, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = string(user.ID)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Username: user.Username, RegisteredClaims: claims})
	return tok.SignedString(r.secret)
}

// TokenFromRequest reads the credential from the token query parameter or
// an Authorization: Bearer header.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
