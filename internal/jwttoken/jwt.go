// Package jwttoken issues and validates the access tokens that identify
// workflow actors. Tokens carry the actor's id, display name, and role; the
// role drives the authorization checks in the review and status services.
package jwttoken

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

// Claims represents the JWT claims for our access tokens.
type Claims struct {
	ActorName string `json:"actor_name"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// RevocationList answers whether a token id has been revoked. The redis
// implementation lives in the revocation subpackage; passing nil disables
// revocation checks (single-node development).
type RevocationList interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Service handles JWT creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
	revocation RevocationList
}

func NewService(signingKey string, issuer string, revocation RevocationList) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		revocation: revocation,
	}
}

// GenerateAccessToken signs a token for the given actor.
func (s *Service) GenerateAccessToken(actor domain.Actor, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorName: actor.Name,
		Role:      actor.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// ValidateToken parses and verifies a token and returns the actor it
// represents. Satisfies middleware.TokenValidator.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (domain.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected signing method")
		}
		return s.signingKey, nil
	})
	if err != nil || !token.Valid {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	}

	if s.revocation != nil {
		revoked, err := s.revocation.IsRevoked(ctx, claims.ID)
		if err != nil {
			return domain.Actor{}, dErrors.Wrap(err, dErrors.CodeInternal, "revocation check failed")
		}
		if revoked {
			return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token revoked")
		}
	}

	actorID, err := domain.ParseActorID(claims.Subject)
	if err != nil {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token subject is not a valid actor id")
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token carries an unsupported role")
	}

	return domain.Actor{ID: actorID, Name: claims.ActorName, Role: role}, nil
}
