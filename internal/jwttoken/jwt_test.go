package jwttoken

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

type fakeRevocationList struct {
	revokeAll bool
	seen      []string
}

func (f *fakeRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	f.seen = append(f.seen, jti)
	return f.revokeAll, nil
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-signing-key", "limscore", nil)
	actor := domain.Actor{ID: domain.ActorID(uuid.New()), Name: "Lan Pham", Role: domain.RoleTechnician}

	token, err := svc.GenerateAccessToken(actor, time.Hour)
	require.NoError(t, err)

	got, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, actor.ID, got.ID)
	assert.Equal(t, actor.Name, got.Name)
	assert.Equal(t, domain.RoleTechnician, got.Role)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewService("test-signing-key", "limscore", nil)
	actor := domain.Actor{ID: domain.ActorID(uuid.New()), Role: domain.RoleReviewer}

	token, err := svc.GenerateAccessToken(actor, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.Code(err))
}

func TestWrongKeyRejected(t *testing.T) {
	issuer := NewService("key-one", "limscore", nil)
	verifier := NewService("key-two", "limscore", nil)
	actor := domain.Actor{ID: domain.ActorID(uuid.New()), Role: domain.RoleReception}

	token, err := issuer.GenerateAccessToken(actor, time.Hour)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.Code(err))
}

func TestRevokedTokenRejected(t *testing.T) {
	revocations := &fakeRevocationList{}
	svc := NewService("test-signing-key", "limscore", revocations)
	actor := domain.Actor{ID: domain.ActorID(uuid.New()), Role: domain.RoleAdmin}

	token, err := svc.GenerateAccessToken(actor, time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	require.Len(t, revocations.seen, 1)
	assert.NotEmpty(t, revocations.seen[0])

	revocations.revokeAll = true
	_, err = svc.ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.Code(err))
}
