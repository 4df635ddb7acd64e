package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"patient":         RolePatient,
		"Provider":        RoleProvider,
		"doctor":          RoleProvider,
		" nurse ":         RoleNurse,
		"content_manager": RoleContentManager,
		"ADMIN":           RoleAdmin,
		"system":          RoleSystem,
	}
	for raw, want := range cases {
		got, ok := ParseRole(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := ParseRole("superuser")
	assert.False(t, ok)
	_, ok = ParseRole("")
	assert.False(t, ok)
}

func TestRelationshipActiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	open := HealthcareRelationship{Status: RelationshipStatusActive}
	assert.True(t, open.ActiveAt(now))

	ended := HealthcareRelationship{Status: RelationshipStatusEnded}
	assert.False(t, ended.ActiveAt(now))

	expired := HealthcareRelationship{Status: RelationshipStatusActive, EndDate: now.AddDate(0, -1, 0)}
	assert.False(t, expired.ActiveAt(now))

	future := HealthcareRelationship{Status: RelationshipStatusActive, EndDate: now.AddDate(0, 1, 0)}
	assert.True(t, future.ActiveAt(now))
}

func TestRelationshipPermits(t *testing.T) {
	assert.True(t, RelationshipPermits(RelationshipPrimaryCare, ActionUpdate))
	assert.False(t, RelationshipPermits(RelationshipSpecialist, ActionUpdate))
	assert.True(t, RelationshipPermits(RelationshipCaregiver, ActionRead))
	assert.False(t, RelationshipPermits(RelationshipCaregiver, ActionDelete))
	assert.False(t, RelationshipPermits(RelationshipType("unknown"), ActionRead))
}

func TestLookupGrant(t *testing.T) {
	grant, ok := lookupGrant(RolePatient, ResourceHealthMetric, ActionRead)
	assert.True(t, ok)
	assert.Equal(t, ConditionOwnership, grant.Condition)

	_, ok = lookupGrant(RoleContentManager, ResourceHealthMetric, ActionRead)
	assert.False(t, ok)

	// Admin deliberately has no table rows.
	_, ok = lookupGrant(RoleAdmin, ResourceHealthMetric, ActionRead)
	assert.False(t, ok)
}

func TestPrincipalHasRole(t *testing.T) {
	p := Principal{ID: "u1", Roles: []Role{RolePatient, RoleNurse}}
	assert.True(t, p.HasRole(RoleNurse))
	assert.False(t, p.HasRole(RoleAdmin))
	assert.False(t, Principal{}.HasRole(RolePatient))
}
