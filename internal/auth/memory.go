package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryTokenStore is a mutex-guarded TokenStore for tests and DSN-less
// development runs. Production deployments use the Postgres or Redis
// store; revocation state must survive process restarts there.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*TokenMetadata
}

var _ TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*TokenMetadata)}
}

func (m *MemoryTokenStore) Save(ctx context.Context, meta *TokenMetadata) error {
	if meta == nil || meta.TokenID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *meta
	m.tokens[meta.TokenID] = &cp
	return nil
}

func (m *MemoryTokenStore) Get(ctx context.Context, tokenID string) (*TokenMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.tokens[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *meta
	return &cp, nil
}

func (m *MemoryTokenStore) Revoke(ctx context.Context, tokenID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.tokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	if meta.IsRevoked {
		return ErrAlreadyRevoked
	}
	meta.IsRevoked = true
	meta.RevokedReason = reason
	return nil
}

func (m *MemoryTokenStore) RevokeFamily(ctx context.Context, familyID, reason string) error {
	if familyID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, meta := range m.tokens {
		if meta.FamilyID == familyID && !meta.IsRevoked {
			meta.IsRevoked = true
			meta.RevokedReason = reason
		}
	}
	return nil
}

func (m *MemoryTokenStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.tokens[tokenID]
	if !ok {
		return false, nil
	}
	return meta.IsRevoked, nil
}

type resourceKey struct {
	resource ResourceType
	id       string
}

// MemoryResolver is an in-memory ResourceResolver and RelationshipResolver
// so the evaluator can be exercised without a database.
type MemoryResolver struct {
	mu            sync.RWMutex
	owners        map[resourceKey]string
	fields        map[resourceKey]map[string]string
	assignments   map[resourceKey]map[string]struct{}
	relationships []HealthcareRelationship
	now           func() time.Time
}

var (
	_ ResourceResolver     = (*MemoryResolver)(nil)
	_ RelationshipResolver = (*MemoryResolver)(nil)
)

func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{
		owners:      make(map[resourceKey]string),
		fields:      make(map[resourceKey]map[string]string),
		assignments: make(map[resourceKey]map[string]struct{}),
		now:         time.Now,
	}
}

// SetClock overrides the time source used for relationship activity.
func (m *MemoryResolver) SetClock(fn func() time.Time) {
	if fn != nil {
		m.now = fn
	}
}

// SetOwner records the owning principal for a resource.
func (m *MemoryResolver) SetOwner(resource ResourceType, resourceID, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[resourceKey{resource, resourceID}] = ownerID
}

// SetField records a named field value for a resource.
func (m *MemoryResolver) SetField(resource ResourceType, resourceID, field, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resourceKey{resource, resourceID}
	if m.fields[key] == nil {
		m.fields[key] = make(map[string]string)
	}
	m.fields[key][field] = value
}

// Assign marks the principal as assigned to the resource.
func (m *MemoryResolver) Assign(principalID string, resource ResourceType, resourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resourceKey{resource, resourceID}
	if m.assignments[key] == nil {
		m.assignments[key] = make(map[string]struct{})
	}
	m.assignments[key][principalID] = struct{}{}
}

// AddRelationship records a healthcare relationship.
func (m *MemoryResolver) AddRelationship(rel HealthcareRelationship) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationships = append(m.relationships, rel)
}

func (m *MemoryResolver) OwnerOf(ctx context.Context, resource ResourceType, resourceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners[resourceKey{resource, resourceID}], nil
}

func (m *MemoryResolver) IsAssigned(ctx context.Context, principalID string, resource ResourceType, resourceID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.assignments[resourceKey{resource, resourceID}]
	if !ok {
		return false, nil
	}
	_, ok = set[principalID]
	return ok, nil
}

func (m *MemoryResolver) FieldValue(ctx context.Context, resource ResourceType, resourceID, field string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fields[resourceKey{resource, resourceID}][field], nil
}

func (m *MemoryResolver) ActiveRelationship(ctx context.Context, providerID, patientID string) (*HealthcareRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.relationships {
		rel := m.relationships[i]
		if rel.ProviderID == providerID && rel.PatientID == patientID && rel.ActiveAt(m.now().UTC()) {
			cp := rel
			return &cp, nil
		}
	}
	return nil, nil
}

// MemoryUserStore holds accounts for development runs.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

var _ UserStore = (*MemoryUserStore)(nil)

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

// Add registers an account, keyed by id.
func (m *MemoryUserStore) Add(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *MemoryUserStore) Find(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.ToLower(u.Email) == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
