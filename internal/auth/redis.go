package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTokenStore implements TokenStore on Redis. Metadata lives in a hash
// per token id; the revocation marker is a separate key written with SET NX
// so that concurrent rotations of the same token observe exactly one
// winner. Keys outlive the refresh TTL by a retention margin instead of
// being deleted, matching the audit-retention rule of the SQL store.
type RedisTokenStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ TokenStore = (*RedisTokenStore)(nil)

func NewRedisTokenStore(client redis.UniversalClient) *RedisTokenStore {
	return &RedisTokenStore{
		client:    client,
		prefix:    "healthfolio:token",
		retention: 30 * 24 * time.Hour,
		now:       time.Now,
	}
}

func (s *RedisTokenStore) metaKey(tokenID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, tokenID)
}

func (s *RedisTokenStore) revokedKey(tokenID string) string {
	return fmt.Sprintf("%s:%s:revoked", s.prefix, tokenID)
}

func (s *RedisTokenStore) familyKey(familyID string) string {
	return fmt.Sprintf("%s:family:%s", s.prefix, familyID)
}

func (s *RedisTokenStore) ttlFor(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Add(s.retention).Sub(s.now())
	if ttl <= 0 {
		ttl = s.retention
	}
	return ttl
}

func (s *RedisTokenStore) Save(ctx context.Context, meta *TokenMetadata) error {
	if meta == nil || meta.TokenID == "" {
		return ErrInvalidInput
	}
	ttl := s.ttlFor(meta.ExpiresAt)
	key := s.metaKey(meta.TokenID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":    meta.UserID,
		"family_id":  meta.FamilyID,
		"issued_at":  meta.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": meta.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"user_agent": meta.Client.UserAgent,
		"ip":         meta.Client.IP,
	})
	pipe.Expire(ctx, key, ttl)
	if meta.FamilyID != "" {
		pipe.SAdd(ctx, s.familyKey(meta.FamilyID), meta.TokenID)
		pipe.Expire(ctx, s.familyKey(meta.FamilyID), ttl)
	}
	if meta.IsRevoked {
		pipe.Set(ctx, s.revokedKey(meta.TokenID), meta.RevokedReason, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisTokenStore) Get(ctx context.Context, tokenID string) (*TokenMetadata, error) {
	fields, err := s.client.HGetAll(ctx, s.metaKey(tokenID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	meta := &TokenMetadata{
		TokenID:  tokenID,
		UserID:   fields["user_id"],
		FamilyID: fields["family_id"],
		Client: ClientInfo{
			UserAgent: fields["user_agent"],
			IP:        fields["ip"],
		},
	}
	if meta.IssuedAt, err = time.Parse(time.RFC3339Nano, fields["issued_at"]); err != nil {
		return nil, fmt.Errorf("corrupt issued_at for token %s: %w", tokenID, err)
	}
	if meta.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("corrupt expires_at for token %s: %w", tokenID, err)
	}
	reason, err := s.client.Get(ctx, s.revokedKey(tokenID)).Result()
	switch {
	case err == redis.Nil:
		// not revoked
	case err != nil:
		return nil, err
	default:
		meta.IsRevoked = true
		meta.RevokedReason = reason
	}
	return meta, nil
}

func (s *RedisTokenStore) Revoke(ctx context.Context, tokenID, reason string) error {
	exists, err := s.client.Exists(ctx, s.metaKey(tokenID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	// SET NX is the compare-and-set: only the first revocation wins.
	set, err := s.client.SetNX(ctx, s.revokedKey(tokenID), reason, s.retention).Result()
	if err != nil {
		return err
	}
	if !set {
		return ErrAlreadyRevoked
	}
	return nil
}

func (s *RedisTokenStore) RevokeFamily(ctx context.Context, familyID, reason string) error {
	if familyID == "" {
		return ErrInvalidInput
	}
	members, err := s.client.SMembers(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		return err
	}
	for _, tokenID := range members {
		// Already-revoked members are fine; the marker stays put.
		if _, err := s.client.SetNX(ctx, s.revokedKey(tokenID), reason, s.retention).Result(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisTokenStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// OpenRedis dials Redis for deployments that keep revocation state there.
func OpenRedis(addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// ParseRedisAddr splits an address spec with an optional db-number suffix,
// e.g. "localhost:6379/2".
func ParseRedisAddr(spec string) (addr string, db int, err error) {
	addr = spec
	if i := strings.LastIndexByte(spec, '/'); i >= 0 {
		addr = spec[:i]
		db, err = strconv.Atoi(spec[i+1:])
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis db in %q: %w", spec, err)
		}
	}
	return addr, db, nil
}
