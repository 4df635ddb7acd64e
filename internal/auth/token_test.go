package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T, store TokenStore, now *time.Time) *TokenService {
	t.Helper()
	svc, err := NewTokenService(store, testSecret,
		WithIssuer("healthfolio-test"),
		WithClock(func() time.Time { return *now }),
	)
	require.NoError(t, err)
	return svc
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService(NewMemoryTokenStore(), nil)
	require.Error(t, err)

	_, err = NewTokenService(nil, testSecret)
	require.Error(t, err)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	principal := Principal{ID: "user-42", Roles: []Role{RolePatient, RoleContentManager}}
	pair, err := svc.Issue(context.Background(), principal, ClientInfo{UserAgent: "test", IP: "127.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, now.Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, now.Add(7*24*time.Hour), pair.RefreshExpiresAt)

	got, err := svc.VerifyAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-42", got.ID)
	assert.ElementsMatch(t, []Role{RolePatient, RoleContentManager}, got.Roles)

	// A refresh token must not pass access verification.
	_, err = svc.VerifyAccess(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyAccessExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, NewMemoryTokenStore(), &now)

	pair, err := svc.Issue(context.Background(), Principal{ID: "user-1", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyAccessGarbage(t *testing.T) {
	now := time.Now().UTC()
	svc := newTestService(t, NewMemoryTokenStore(), &now)

	for _, raw := range []string{"", "not-a-jwt", "aaa.bbb.ccc"} {
		_, err := svc.VerifyAccess(context.Background(), raw)
		assert.ErrorIs(t, err, ErrTokenInvalid, "token %q", raw)
	}
}

func TestVerifyAccessRejectsForeignSignature(t *testing.T) {
	now := time.Now().UTC()
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	other, err := NewTokenService(store, []byte("another-secret-another-secret-32"),
		WithIssuer("healthfolio-test"),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	pair, err := other.Issue(context.Background(), Principal{ID: "user-9", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)

	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRevocationOverridesValidity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	pair, err := svc.Issue(context.Background(), Principal{ID: "user-42", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)

	claims, meta, err := svc.VerifyRefresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, claims.ID, meta.TokenID)

	require.NoError(t, store.Revoke(context.Background(), meta.TokenID, "logout"))

	// Signature and expiry are still intact, yet verification must fail.
	_, _, err = svc.VerifyRefresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRotateIssuesNewPairAndConsumesOld(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	principal := Principal{ID: "user-42", Roles: []Role{RolePatient}}
	pair, err := svc.Issue(context.Background(), principal, ClientInfo{})
	require.NoError(t, err)

	rotated, err := svc.Rotate(context.Background(), pair.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	got, err := svc.VerifyAccess(context.Background(), rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-42", got.ID)

	// Second presentation of the original token is a replay.
	_, err = svc.Rotate(context.Background(), pair.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenReplay)
}

func TestReplayRevokesWholeFamily(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	pair, err := svc.Issue(context.Background(), Principal{ID: "user-42", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)

	rotated, err := svc.Rotate(context.Background(), pair.RefreshToken, ClientInfo{})
	require.NoError(t, err)

	// Replaying the consumed token must kill the rotated descendant too.
	_, err = svc.Rotate(context.Background(), pair.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrTokenReplay)

	_, _, err = svc.VerifyRefresh(context.Background(), rotated.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRotateExpiredRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	pair, err := svc.Issue(context.Background(), Principal{ID: "user-5", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)

	now = now.Add(8 * 24 * time.Hour)
	_, err = svc.Rotate(context.Background(), pair.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRotateKeepsFamilyID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	pair, err := svc.Issue(context.Background(), Principal{ID: "user-7", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)
	_, origMeta, err := svc.VerifyRefresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	rotated, err := svc.Rotate(context.Background(), pair.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	_, newMeta, err := svc.VerifyRefresh(context.Background(), rotated.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, origMeta.FamilyID, newMeta.FamilyID)
	assert.NotEqual(t, origMeta.TokenID, newMeta.TokenID)
}

func TestRevokeRefreshIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	pair, err := svc.Issue(context.Background(), Principal{ID: "user-3", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRefresh(context.Background(), pair.RefreshToken, "logout"))
	require.NoError(t, svc.RevokeRefresh(context.Background(), pair.RefreshToken, "logout"))

	_, _, err = svc.VerifyRefresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRevokeAccessIDWritesTombstone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	svc := newTestService(t, store, &now)

	pair, err := svc.Issue(context.Background(), Principal{ID: "user-8", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)

	got, err := svc.VerifyAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-8", got.ID)

	claims, err := svc.parse(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeAccessID(context.Background(), claims.ID, "session kill"))

	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

type failingTokenStore struct{ *MemoryTokenStore }

func (f failingTokenStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return false, context.DeadlineExceeded
}

func TestVerifyFailsClosedOnStoreError(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := NewMemoryTokenStore()
	svc := newTestService(t, mem, &now)

	pair, err := svc.Issue(context.Background(), Principal{ID: "user-2", Roles: []Role{RolePatient}}, ClientInfo{})
	require.NoError(t, err)

	broken := newTestService(t, failingTokenStore{mem}, &now)
	_, err = broken.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
