package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T, resolver *MemoryResolver, opts ...EvaluatorOption) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator(resolver, resolver, opts...)
	require.NoError(t, err)
	return eval
}

func TestNewEvaluatorRequiresResolvers(t *testing.T) {
	_, err := NewEvaluator(nil, NewMemoryResolver())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewEvaluator(NewMemoryResolver(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAdminAllowsEverything(t *testing.T) {
	eval := newTestEvaluator(t, NewMemoryResolver())
	admin := Principal{ID: "root", Roles: []Role{RoleAdmin}}

	for _, resource := range []ResourceType{ResourceHealthMetric, ResourceMedication, ResourceCarePlan, ResourceForumPost} {
		for _, action := range []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionShare} {
			allowed, err := eval.Check(context.Background(), admin, action, resource, "any-id")
			require.NoError(t, err)
			assert.True(t, allowed, "%s %s", action, resource)
		}
	}

	// Even with no resource id.
	allowed, err := eval.Check(context.Background(), admin, ActionDelete, ResourceHealthMetric, "")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestOwnershipGrant(t *testing.T) {
	resolver := NewMemoryResolver()
	resolver.SetOwner(ResourceHealthMetric, "metric-7", "user-42")
	eval := newTestEvaluator(t, resolver)

	owner := Principal{ID: "user-42", Roles: []Role{RolePatient}}
	stranger := Principal{ID: "user-43", Roles: []Role{RolePatient}}

	allowed, err := eval.Check(context.Background(), owner, ActionRead, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = eval.Check(context.Background(), stranger, ActionRead, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.False(t, allowed, "another patient must not read someone else's metric")

	allowed, err = eval.Check(context.Background(), owner, ActionDelete, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestUnconditionalGrantNeedsNoResourceID(t *testing.T) {
	eval := newTestEvaluator(t, NewMemoryResolver())
	patient := Principal{ID: "user-1", Roles: []Role{RolePatient}}

	allowed, err := eval.Check(context.Background(), patient, ActionCreate, ResourceHealthMetric, "")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = eval.Check(context.Background(), patient, ActionList, ResourceAppointment, "")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestConditionalGrantWithoutResourceIDDenies(t *testing.T) {
	resolver := NewMemoryResolver()
	resolver.SetOwner(ResourceHealthMetric, "metric-1", "user-1")
	eval := newTestEvaluator(t, resolver)

	patient := Principal{ID: "user-1", Roles: []Role{RolePatient}}
	allowed, err := eval.Check(context.Background(), patient, ActionUpdate, ResourceHealthMetric, "")
	require.NoError(t, err)
	assert.False(t, allowed, "conditional grants need a concrete resource")
}

func TestNoGrantDenies(t *testing.T) {
	eval := newTestEvaluator(t, NewMemoryResolver())

	// Content managers have no clinical access at all.
	cm := Principal{ID: "mod-1", Roles: []Role{RoleContentManager}}
	allowed, err := eval.Check(context.Background(), cm, ActionRead, ResourceHealthMetric, "metric-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Empty principal denies without error.
	allowed, err = eval.Check(context.Background(), Principal{}, ActionRead, ResourceForumPost, "post-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestContentManagerModeratesForum(t *testing.T) {
	eval := newTestEvaluator(t, NewMemoryResolver())
	cm := Principal{ID: "mod-1", Roles: []Role{RoleContentManager}}

	// Moderation applies to posts the manager does not own.
	allowed, err := eval.Check(context.Background(), cm, ActionDelete, ResourceForumPost, "post-9")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAssignmentGrant(t *testing.T) {
	resolver := NewMemoryResolver()
	resolver.SetOwner(ResourceAppointment, "appt-1", "user-42")
	resolver.Assign("provider-9", ResourceAppointment, "appt-1")
	eval := newTestEvaluator(t, resolver)

	assigned := Principal{ID: "provider-9", Roles: []Role{RoleProvider}}
	other := Principal{ID: "provider-8", Roles: []Role{RoleProvider}}

	allowed, err := eval.Check(context.Background(), assigned, ActionUpdate, ResourceAppointment, "appt-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = eval.Check(context.Background(), other, ActionUpdate, ResourceAppointment, "appt-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRelationshipGrant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewMemoryResolver()
	resolver.SetClock(func() time.Time { return now })
	resolver.SetOwner(ResourceHealthMetric, "metric-7", "user-42")
	resolver.AddRelationship(HealthcareRelationship{
		ProviderID: "provider-9",
		PatientID:  "user-42",
		Type:       RelationshipPrimaryCare,
		Status:     RelationshipStatusActive,
		StartDate:  now.AddDate(0, -6, 0),
	})
	eval := newTestEvaluator(t, resolver)

	pcp := Principal{ID: "provider-9", Roles: []Role{RoleProvider}}
	outsider := Principal{ID: "provider-8", Roles: []Role{RoleProvider}}

	allowed, err := eval.Check(context.Background(), pcp, ActionRead, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = eval.Check(context.Background(), pcp, ActionUpdate, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.True(t, allowed, "primary care permits updates")

	allowed, err = eval.Check(context.Background(), outsider, ActionRead, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.False(t, allowed, "no relationship, no access")
}

func TestRelationshipTypeNarrowsActions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewMemoryResolver()
	resolver.SetClock(func() time.Time { return now })
	resolver.SetOwner(ResourceHealthMetric, "metric-7", "user-42")
	resolver.AddRelationship(HealthcareRelationship{
		ProviderID: "provider-9",
		PatientID:  "user-42",
		Type:       RelationshipSpecialist,
		Status:     RelationshipStatusActive,
	})
	eval := newTestEvaluator(t, resolver)

	specialist := Principal{ID: "provider-9", Roles: []Role{RoleProvider}}

	allowed, err := eval.Check(context.Background(), specialist, ActionRead, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = eval.Check(context.Background(), specialist, ActionUpdate, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.False(t, allowed, "specialists read but do not write")
}

func TestEndedRelationshipDenies(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewMemoryResolver()
	resolver.SetClock(func() time.Time { return now })
	resolver.SetOwner(ResourceHealthMetric, "metric-7", "user-42")
	resolver.AddRelationship(HealthcareRelationship{
		ProviderID: "provider-9",
		PatientID:  "user-42",
		Type:       RelationshipPrimaryCare,
		Status:     RelationshipStatusActive,
		EndDate:    now.AddDate(0, -1, 0),
	})
	eval := newTestEvaluator(t, resolver)

	pcp := Principal{ID: "provider-9", Roles: []Role{RoleProvider}}
	allowed, err := eval.Check(context.Background(), pcp, ActionRead, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestFieldEqualsGrant(t *testing.T) {
	resolver := NewMemoryResolver()
	resolver.SetOwner(ResourceForumPost, "post-1", "user-42")
	resolver.SetField(ResourceForumPost, "post-1", "visibility", "public")
	resolver.SetOwner(ResourceForumPost, "post-2", "user-42")
	resolver.SetField(ResourceForumPost, "post-2", "visibility", "private")
	eval := newTestEvaluator(t, resolver)

	nurse := Principal{ID: "nurse-1", Roles: []Role{RoleNurse}}

	allowed, err := eval.Check(context.Background(), nurse, ActionRead, ResourceForumPost, "post-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = eval.Check(context.Background(), nurse, ActionRead, ResourceForumPost, "post-2")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestWithinWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	grant := Permission{
		Condition: ConditionTimeRange,
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	}
	assert.True(t, grant.withinWindow(now))
	assert.False(t, grant.withinWindow(now.Add(2*time.Hour)))
	assert.False(t, grant.withinWindow(now.Add(-2*time.Hour)))

	open := Permission{Condition: ConditionTimeRange}
	assert.True(t, open.withinWindow(now))
}

type failingResolver struct{ *MemoryResolver }

func (f failingResolver) OwnerOf(ctx context.Context, resource ResourceType, resourceID string) (string, error) {
	return "", errors.New("connection reset")
}

func TestResolverFailureFailsClosed(t *testing.T) {
	base := NewMemoryResolver()
	eval, err := NewEvaluator(failingResolver{base}, base)
	require.NoError(t, err)

	patient := Principal{ID: "user-42", Roles: []Role{RolePatient}}
	allowed, err := eval.Check(context.Background(), patient, ActionRead, ResourceHealthMetric, "metric-7")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.False(t, allowed, "errors must never allow")
}

func TestDecisionHookObservesOutcomes(t *testing.T) {
	resolver := NewMemoryResolver()
	resolver.SetOwner(ResourceHealthMetric, "metric-7", "user-42")

	var outcomes []string
	eval := newTestEvaluator(t, resolver, WithDecisionHook(func(_ ResourceType, _ Action, outcome string) {
		outcomes = append(outcomes, outcome)
	}))

	owner := Principal{ID: "user-42", Roles: []Role{RolePatient}}
	stranger := Principal{ID: "user-43", Roles: []Role{RolePatient}}

	_, _ = eval.Check(context.Background(), owner, ActionRead, ResourceHealthMetric, "metric-7")
	_, _ = eval.Check(context.Background(), stranger, ActionRead, ResourceHealthMetric, "metric-7")

	assert.Equal(t, []string{"allow", "deny"}, outcomes)
}

func TestRequireMapsDenyAndError(t *testing.T) {
	base := NewMemoryResolver()
	eval := newTestEvaluator(t, base)

	stranger := Principal{ID: "user-43", Roles: []Role{RolePatient}}
	err := eval.Require(context.Background(), stranger, ActionRead, ResourceHealthMetric, "metric-7")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	broken, err := NewEvaluator(failingResolver{base}, base)
	require.NoError(t, err)
	err = broken.Require(context.Background(), stranger, ActionRead, ResourceHealthMetric, "metric-7")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestPrecedenceAdminBeatsConditions(t *testing.T) {
	base := NewMemoryResolver()
	// Resolver failures are irrelevant for admin: the decision never
	// reaches resolver I/O.
	eval, err := NewEvaluator(failingResolver{base}, base)
	require.NoError(t, err)

	admin := Principal{ID: "root", Roles: []Role{RoleAdmin, RolePatient}}
	allowed, err := eval.Check(context.Background(), admin, ActionRead, ResourceHealthMetric, "metric-7")
	require.NoError(t, err)
	assert.True(t, allowed)
}
