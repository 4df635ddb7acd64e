package auth

import (
	"strings"
	"time"
)

// Role is a closed set of account roles. A principal may hold several.
type Role string

const (
	RolePatient        Role = "patient"
	RoleProvider       Role = "provider"
	RoleNurse          Role = "nurse"
	RoleContentManager Role = "content_manager"
	RoleAdmin          Role = "admin"
	RoleSystem         Role = "system"
)

// ParseRole normalizes a raw role string into a known Role. "doctor" is
// accepted as a legacy spelling of provider.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RolePatient:
		return RolePatient, true
	case RoleProvider, "doctor":
		return RoleProvider, true
	case RoleNurse:
		return RoleNurse, true
	case RoleContentManager:
		return RoleContentManager, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleSystem:
		return RoleSystem, true
	}
	return "", false
}

// providerClass reports whether the role may act through healthcare
// relationships to patients.
func (r Role) providerClass() bool {
	return r == RoleProvider || r == RoleNurse
}

// ResourceType enumerates the protected resource kinds.
type ResourceType string

const (
	ResourceHealthMetric ResourceType = "health_metric"
	ResourceMedication   ResourceType = "medication"
	ResourceAppointment  ResourceType = "appointment"
	ResourceCarePlan     ResourceType = "care_plan"
	ResourceUserProfile  ResourceType = "user_profile"
	ResourceForumPost    ResourceType = "forum_post"
)

// patientScoped reports whether the resource belongs to a patient's chart
// and is therefore reachable through healthcare relationships.
func (rt ResourceType) patientScoped() bool {
	switch rt {
	case ResourceHealthMetric, ResourceMedication, ResourceAppointment, ResourceCarePlan:
		return true
	}
	return false
}

// Action enumerates the operations a principal can request on a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
	ActionShare  Action = "share"
	ActionAssign Action = "assign"
)

// Condition restricts a static grant to a dynamic check.
type Condition string

const (
	ConditionNone         Condition = ""
	ConditionOwnership    Condition = "ownership"
	ConditionAssigned     Condition = "assigned"
	ConditionRelationship Condition = "relationship"
	ConditionFieldEquals  Condition = "field_equals"
	ConditionTimeRange    Condition = "time_range"
)

// Permission is one row of the static grant table.
type Permission struct {
	Role      Role
	Resource  ResourceType
	Action    Action
	Condition Condition

	// FieldEquals constraint, only meaningful for ConditionFieldEquals.
	Field string
	Value string

	// Window bounds, only meaningful for ConditionTimeRange. Zero means
	// unbounded on that side.
	NotBefore time.Time
	NotAfter  time.Time
}

// Principal is the authenticated identity attached to a request after
// token verification. It is never persisted standalone.
type Principal struct {
	ID    string
	Roles []Role
}

// HasRole reports whether the principal holds the role.
func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ClientInfo records where a session was established from.
type ClientInfo struct {
	UserAgent string
	IP        string
}

// TokenType distinguishes the two halves of a token pair.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenMetadata is the stored record of an issued refresh token. Access
// tokens are stateless; their jti only appears here when a single session
// is explicitly revoked. FamilyID ties a rotation chain back to the login
// that started it so replay detection can kill the whole session.
type TokenMetadata struct {
	TokenID       string
	UserID        string
	FamilyID      string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	IsRevoked     bool
	RevokedReason string
	Client        ClientInfo
}

// TokenPair is the result of issuance or rotation.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RelationshipType is the closed set of provider-patient relationships.
type RelationshipType string

const (
	RelationshipPrimaryCare RelationshipType = "primary_care"
	RelationshipSpecialist  RelationshipType = "specialist"
	RelationshipCaregiver   RelationshipType = "caregiver"
)

const (
	RelationshipStatusActive = "active"
	RelationshipStatusEnded  = "ended"
)

// HealthcareRelationship links a provider to a patient for a period.
type HealthcareRelationship struct {
	ProviderID string
	PatientID  string
	Type       RelationshipType
	Status     string
	StartDate  time.Time
	EndDate    time.Time // zero means open-ended
}

// ActiveAt reports whether the relationship authorizes access at the given
// instant: status must be active and the end date, if set, in the future.
func (hr HealthcareRelationship) ActiveAt(now time.Time) bool {
	if hr.Status != RelationshipStatusActive {
		return false
	}
	if !hr.EndDate.IsZero() && !hr.EndDate.After(now) {
		return false
	}
	return true
}

// User is an account row as the auth core sees it; profile data lives with
// the dashboard collaborators.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []Role
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)
