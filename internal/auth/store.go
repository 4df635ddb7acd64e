package auth

import "context"

// TokenStore is the durable source of truth for refresh-token revocation.
// Implementations must make Revoke an atomic compare-and-set: under
// concurrent rotation of the same token id exactly one caller succeeds and
// the rest observe ErrAlreadyRevoked.
type TokenStore interface {
	Save(ctx context.Context, meta *TokenMetadata) error
	Get(ctx context.Context, tokenID string) (*TokenMetadata, error)
	Revoke(ctx context.Context, tokenID, reason string) error
	RevokeFamily(ctx context.Context, familyID, reason string) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// ResourceResolver answers ownership and assignment queries for a resource.
// It is backed by whatever persistence owns that resource; the auth core
// only defines the query contract.
type ResourceResolver interface {
	OwnerOf(ctx context.Context, resource ResourceType, resourceID string) (string, error)
	IsAssigned(ctx context.Context, principalID string, resource ResourceType, resourceID string) (bool, error)
	// FieldValue reads a single named field off the resource, as a string.
	// Only consulted for field_equals grants.
	FieldValue(ctx context.Context, resource ResourceType, resourceID, field string) (string, error)
}

// RelationshipResolver answers whether a provider currently has an active
// healthcare relationship with a patient.
type RelationshipResolver interface {
	ActiveRelationship(ctx context.Context, providerID, patientID string) (*HealthcareRelationship, error)
}

// UserStore looks up accounts for the login path.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	Find(ctx context.Context, id string) (*User, error)
}
