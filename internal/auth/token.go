package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "healthfolio"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims are the JWT claims carried by both halves of a token pair.
type Claims struct {
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type"`
	FamilyID  string   `json:"family_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues, verifies and rotates token pairs. It is the single
// place signing keys and algorithm choice live; nothing else in the
// repository touches JWT primitives.
type TokenService struct {
	store      TokenStore
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService constructs the service. The signing secret is mandatory;
// there is deliberately no fallback value.
func NewTokenService(store TokenStore, secret []byte, opts ...TokenOption) (*TokenService, error) {
	if store == nil {
		return nil, errors.New("auth: token store is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &TokenService{
		store:      store,
		secret:     secret,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RefreshTTL reports the configured refresh lifetime, which the HTTP layer
// mirrors into the cookie max-age.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// Issue signs a fresh access/refresh pair for the principal and persists
// the refresh token's metadata. Each login starts a new token family.
func (s *TokenService) Issue(ctx context.Context, principal Principal, client ClientInfo) (TokenPair, error) {
	if strings.TrimSpace(principal.ID) == "" {
		return TokenPair{}, fmt.Errorf("%w: principal id is required", ErrInvalidInput)
	}
	return s.mint(ctx, principal, uuid.NewString(), client)
}

func (s *TokenService) mint(ctx context.Context, principal Principal, familyID string, client ClientInfo) (TokenPair, error) {
	now := s.now().UTC()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.sign(principal, TokenTypeAccess, uuid.NewString(), familyID, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshID := uuid.NewString()
	refresh, err := s.sign(principal, TokenTypeRefresh, refreshID, familyID, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	meta := &TokenMetadata{
		TokenID:   refreshID,
		UserID:    principal.ID,
		FamilyID:  familyID,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
		Client:    client,
	}
	if err := s.store.Save(ctx, meta); err != nil {
		return TokenPair{}, fmt.Errorf("%w: persist refresh token: %v", ErrStorageUnavailable, err)
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) sign(principal Principal, typ TokenType, jti, familyID string, now, exp time.Time) (string, error) {
	roles := make([]string, 0, len(principal.Roles))
	for _, r := range principal.Roles {
		roles = append(roles, string(r))
	}
	claims := Claims{
		Roles:     roles,
		TokenType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	if typ == TokenTypeRefresh {
		claims.FamilyID = familyID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// parse validates signature, expiry and claim shape. It does not consult
// the store.
func (s *TokenService) parse(raw string, typ TokenType) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != string(typ) {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (c *Claims) principal() Principal {
	p := Principal{ID: c.Subject}
	for _, raw := range c.Roles {
		if role, ok := ParseRole(raw); ok && !p.HasRole(role) {
			p.Roles = append(p.Roles, role)
		}
	}
	return p
}

// VerifyAccess validates an access token and returns the principal it
// carries. Revocation overrides cryptographic validity: a revoked jti
// never verifies even while its signature and expiry are intact. Store
// failures resolve as ErrTokenInvalid, never as success.
func (s *TokenService) VerifyAccess(ctx context.Context, raw string) (Principal, error) {
	claims, err := s.parse(raw, TokenTypeAccess)
	if err != nil {
		return Principal{}, err
	}
	// Access jtis only appear in the store when a single session was
	// explicitly revoked; absence means not revoked.
	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Principal{}, ErrTokenInvalid
	}
	if revoked {
		return Principal{}, ErrTokenRevoked
	}
	return claims.principal(), nil
}

// VerifyRefresh validates a refresh token against both its signature and
// its stored metadata.
func (s *TokenService) VerifyRefresh(ctx context.Context, raw string) (*Claims, *TokenMetadata, error) {
	claims, err := s.parse(raw, TokenTypeRefresh)
	if err != nil {
		return nil, nil, err
	}
	meta, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		// Unknown or unreachable record: fail closed.
		return nil, nil, ErrTokenInvalid
	}
	if meta.IsRevoked {
		return claims, meta, ErrTokenRevoked
	}
	if !s.now().Before(meta.ExpiresAt) {
		return nil, nil, ErrTokenExpired
	}
	return claims, meta, nil
}

// Rotate consumes a refresh token and issues a new pair in the same
// family. Refresh tokens are single-use: presenting one that rotation
// already consumed is treated as theft, and the entire family rooted at
// that session is revoked before ErrTokenReplay is returned.
func (s *TokenService) Rotate(ctx context.Context, raw string, client ClientInfo) (TokenPair, error) {
	claims, meta, err := s.VerifyRefresh(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) && meta != nil {
			s.revokeFamilyOnReplay(ctx, meta)
			return TokenPair{}, ErrTokenReplay
		}
		return TokenPair{}, err
	}

	// Single-use: exactly one concurrent rotation wins the compare-and-set.
	if err := s.store.Revoke(ctx, meta.TokenID, "rotated"); err != nil {
		if errors.Is(err, ErrAlreadyRevoked) {
			s.revokeFamilyOnReplay(ctx, meta)
			return TokenPair{}, ErrTokenReplay
		}
		return TokenPair{}, fmt.Errorf("%w: revoke rotated token: %v", ErrStorageUnavailable, err)
	}

	return s.mint(ctx, claims.principal(), meta.FamilyID, client)
}

func (s *TokenService) revokeFamilyOnReplay(ctx context.Context, meta *TokenMetadata) {
	if meta.FamilyID == "" {
		return
	}
	// Best effort: the caller already gets ErrTokenReplay either way.
	_ = s.store.RevokeFamily(ctx, meta.FamilyID, "replay detected")
}

// RevokeRefresh verifies ownership of a refresh token and revokes it.
// This is the logout path.
func (s *TokenService) RevokeRefresh(ctx context.Context, raw, reason string) error {
	claims, err := s.parse(raw, TokenTypeRefresh)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "logout"
	}
	if err := s.store.Revoke(ctx, claims.ID, reason); err != nil {
		if errors.Is(err, ErrAlreadyRevoked) || errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: revoke token: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// RevokeAccessID writes a tombstone for a single access token jti so the
// session dies before its exp claim.
func (s *TokenService) RevokeAccessID(ctx context.Context, tokenID, reason string) error {
	err := s.store.Revoke(ctx, tokenID, reason)
	if errors.Is(err, ErrNotFound) {
		now := s.now().UTC()
		return s.store.Save(ctx, &TokenMetadata{
			TokenID:       tokenID,
			IssuedAt:      now,
			ExpiresAt:     now.Add(s.accessTTL),
			IsRevoked:     true,
			RevokedReason: reason,
		})
	}
	return err
}
