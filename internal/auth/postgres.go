package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGTokenStore implements TokenStore on PostgreSQL. It is the source of
// truth for revocation, so records survive restarts and are never deleted;
// expired rows are only ever archived out of band.
type PGTokenStore struct {
	db *sql.DB
}

var _ TokenStore = (*PGTokenStore)(nil)

func NewPGTokenStore(db *sql.DB) *PGTokenStore {
	return &PGTokenStore{db: db}
}

func (s *PGTokenStore) Save(ctx context.Context, meta *TokenMetadata) error {
	if meta == nil || meta.TokenID == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, family_id, issued_at, expires_at, is_revoked, revoked_reason, user_agent, ip)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		meta.TokenID, meta.UserID, meta.FamilyID, meta.IssuedAt, meta.ExpiresAt,
		meta.IsRevoked, meta.RevokedReason, meta.Client.UserAgent, meta.Client.IP,
	)
	return err
}

func (s *PGTokenStore) Get(ctx context.Context, tokenID string) (*TokenMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, family_id, issued_at, expires_at, is_revoked, revoked_reason, user_agent, ip
		 from refresh_tokens where id=$1`, tokenID)
	var (
		meta   TokenMetadata
		reason sql.NullString
	)
	err := row.Scan(&meta.TokenID, &meta.UserID, &meta.FamilyID, &meta.IssuedAt,
		&meta.ExpiresAt, &meta.IsRevoked, &reason, &meta.Client.UserAgent, &meta.Client.IP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	meta.RevokedReason = reason.String
	return &meta, nil
}

// Revoke flips is_revoked with a compare-and-set so that two concurrent
// rotations of the same token cannot both succeed.
func (s *PGTokenStore) Revoke(ctx context.Context, tokenID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set is_revoked=true, revoked_reason=$2, revoked_at=now()
		 where id=$1 and is_revoked=false`, tokenID, reason)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	// Lost the race or the id never existed; tell the caller which.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from refresh_tokens where id=$1)`, tokenID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrAlreadyRevoked
	}
	return ErrNotFound
}

func (s *PGTokenStore) RevokeFamily(ctx context.Context, familyID, reason string) error {
	if familyID == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set is_revoked=true, revoked_reason=$2, revoked_at=now()
		 where family_id=$1 and is_revoked=false`, familyID, reason)
	return err
}

func (s *PGTokenStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`select is_revoked from refresh_tokens where id=$1`, tokenID).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		// Access jtis are stateless unless explicitly revoked.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// ownerColumns maps each resource type to the table and column holding the
// owning principal. The resolver only ever interpolates from this table,
// never from request input.
var ownerColumns = map[ResourceType]struct {
	table  string
	column string
}{
	ResourceHealthMetric: {"health_metrics", "user_id"},
	ResourceMedication:   {"medications", "user_id"},
	ResourceAppointment:  {"appointments", "patient_id"},
	ResourceCarePlan:     {"care_plans", "patient_id"},
	ResourceUserProfile:  {"user_profiles", "user_id"},
	ResourceForumPost:    {"forum_posts", "author_id"},
}

// fieldColumns whitelists the resource attributes field_equals grants may
// compare against.
var fieldColumns = map[ResourceType]map[string]string{
	ResourceForumPost:   {"visibility": "visibility", "status": "status"},
	ResourceAppointment: {"status": "status"},
}

// PGResolver answers ownership, assignment, field and relationship queries
// from the tables owned by the dashboard collaborators.
type PGResolver struct {
	db *sql.DB
}

var (
	_ ResourceResolver     = (*PGResolver)(nil)
	_ RelationshipResolver = (*PGResolver)(nil)
)

func NewPGResolver(db *sql.DB) *PGResolver {
	return &PGResolver{db: db}
}

func (r *PGResolver) OwnerOf(ctx context.Context, resource ResourceType, resourceID string) (string, error) {
	spec, ok := ownerColumns[resource]
	if !ok {
		return "", fmt.Errorf("%w: unknown resource type %s", ErrInvalidInput, resource)
	}
	var ownerID string
	query := fmt.Sprintf(`select %s from %s where id=$1`, spec.column, spec.table)
	err := r.db.QueryRowContext(ctx, query, resourceID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ownerID, nil
}

func (r *PGResolver) IsAssigned(ctx context.Context, principalID string, resource ResourceType, resourceID string) (bool, error) {
	var assigned bool
	err := r.db.QueryRowContext(ctx,
		`select exists(
			select 1 from resource_assignments
			where principal_id=$1 and resource_type=$2 and resource_id=$3
		 )`, principalID, string(resource), resourceID).Scan(&assigned)
	if err != nil {
		return false, err
	}
	return assigned, nil
}

func (r *PGResolver) FieldValue(ctx context.Context, resource ResourceType, resourceID, field string) (string, error) {
	column, ok := fieldColumns[resource][field]
	if !ok {
		return "", fmt.Errorf("%w: field %s not resolvable for %s", ErrInvalidInput, field, resource)
	}
	spec := ownerColumns[resource]
	var value sql.NullString
	query := fmt.Sprintf(`select %s from %s where id=$1`, column, spec.table)
	err := r.db.QueryRowContext(ctx, query, resourceID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

func (r *PGResolver) ActiveRelationship(ctx context.Context, providerID, patientID string) (*HealthcareRelationship, error) {
	row := r.db.QueryRowContext(ctx,
		`select provider_id, patient_id, relationship_type, status, start_date, end_date
		 from healthcare_relationships
		 where provider_id=$1 and patient_id=$2 and status=$3
		   and (end_date is null or end_date > now())
		 order by start_date desc
		 limit 1`, providerID, patientID, RelationshipStatusActive)
	var (
		rel     HealthcareRelationship
		relType string
		endDate sql.NullTime
	)
	err := row.Scan(&rel.ProviderID, &rel.PatientID, &relType, &rel.Status, &rel.StartDate, &endDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rel.Type = RelationshipType(relType)
	if endDate.Valid {
		rel.EndDate = endDate.Time
	}
	return &rel, nil
}

// PGUserStore looks up accounts for the login path.
type PGUserStore struct {
	db *sql.DB
}

var _ UserStore = (*PGUserStore)(nil)

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`select id, email, password_hash, roles, status, created_at, updated_at
		 from users where id=$1`, id))
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`select id, email, password_hash, roles, status, created_at, updated_at
		 from users where lower(email)=lower($1)`, email))
}

func (s *PGUserStore) scanUser(row *sql.Row) (*User, error) {
	var (
		u        User
		rawRoles string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &rawRoles, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, raw := range strings.Split(rawRoles, ",") {
		if role, ok := ParseRole(raw); ok {
			u.Roles = append(u.Roles, role)
		}
	}
	return &u, nil
}

// OpenDB dials PostgreSQL with the pool settings the API server uses.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}
