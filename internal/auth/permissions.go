package auth

// The static grant table. This is the single authoritative mapping of
// role to resource to action; it is immutable configuration loaded once
// at process start. Admin has no rows because the evaluator short-circuits
// it before the table is consulted.
var grantTable = []Permission{
	// Patients manage their own chart.
	{Role: RolePatient, Resource: ResourceHealthMetric, Action: ActionCreate},
	{Role: RolePatient, Resource: ResourceHealthMetric, Action: ActionRead, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceHealthMetric, Action: ActionUpdate, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceHealthMetric, Action: ActionDelete, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceHealthMetric, Action: ActionList},
	{Role: RolePatient, Resource: ResourceHealthMetric, Action: ActionShare, Condition: ConditionOwnership},

	{Role: RolePatient, Resource: ResourceMedication, Action: ActionCreate},
	{Role: RolePatient, Resource: ResourceMedication, Action: ActionRead, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceMedication, Action: ActionUpdate, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceMedication, Action: ActionDelete, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceMedication, Action: ActionList},

	{Role: RolePatient, Resource: ResourceAppointment, Action: ActionCreate},
	{Role: RolePatient, Resource: ResourceAppointment, Action: ActionRead, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceAppointment, Action: ActionUpdate, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceAppointment, Action: ActionDelete, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceAppointment, Action: ActionList},

	{Role: RolePatient, Resource: ResourceCarePlan, Action: ActionRead, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceCarePlan, Action: ActionList},

	{Role: RolePatient, Resource: ResourceUserProfile, Action: ActionRead, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceUserProfile, Action: ActionUpdate, Condition: ConditionOwnership},

	{Role: RolePatient, Resource: ResourceForumPost, Action: ActionCreate},
	{Role: RolePatient, Resource: ResourceForumPost, Action: ActionRead},
	{Role: RolePatient, Resource: ResourceForumPost, Action: ActionList},
	{Role: RolePatient, Resource: ResourceForumPost, Action: ActionUpdate, Condition: ConditionOwnership},
	{Role: RolePatient, Resource: ResourceForumPost, Action: ActionDelete, Condition: ConditionOwnership},

	// Providers reach patient charts only through an active healthcare
	// relationship; the relationship type further narrows the action set.
	{Role: RoleProvider, Resource: ResourceHealthMetric, Action: ActionRead, Condition: ConditionRelationship},
	{Role: RoleProvider, Resource: ResourceHealthMetric, Action: ActionUpdate, Condition: ConditionRelationship},
	{Role: RoleProvider, Resource: ResourceHealthMetric, Action: ActionList, Condition: ConditionRelationship},
	{Role: RoleProvider, Resource: ResourceMedication, Action: ActionRead, Condition: ConditionRelationship},
	{Role: RoleProvider, Resource: ResourceMedication, Action: ActionUpdate, Condition: ConditionRelationship},
	{Role: RoleProvider, Resource: ResourceCarePlan, Action: ActionCreate},
	{Role: RoleProvider, Resource: ResourceCarePlan, Action: ActionRead, Condition: ConditionRelationship},
	{Role: RoleProvider, Resource: ResourceCarePlan, Action: ActionUpdate, Condition: ConditionRelationship},
	{Role: RoleProvider, Resource: ResourceAppointment, Action: ActionCreate},
	{Role: RoleProvider, Resource: ResourceAppointment, Action: ActionRead, Condition: ConditionAssigned},
	{Role: RoleProvider, Resource: ResourceAppointment, Action: ActionUpdate, Condition: ConditionAssigned},
	{Role: RoleProvider, Resource: ResourceAppointment, Action: ActionAssign},
	{Role: RoleProvider, Resource: ResourceUserProfile, Action: ActionRead, Condition: ConditionOwnership},
	{Role: RoleProvider, Resource: ResourceUserProfile, Action: ActionUpdate, Condition: ConditionOwnership},
	{Role: RoleProvider, Resource: ResourceForumPost, Action: ActionCreate},
	{Role: RoleProvider, Resource: ResourceForumPost, Action: ActionRead},
	{Role: RoleProvider, Resource: ResourceForumPost, Action: ActionList},

	// Nurses see assigned appointments and related charts read-only.
	{Role: RoleNurse, Resource: ResourceHealthMetric, Action: ActionRead, Condition: ConditionRelationship},
	{Role: RoleNurse, Resource: ResourceMedication, Action: ActionRead, Condition: ConditionRelationship},
	{Role: RoleNurse, Resource: ResourceAppointment, Action: ActionRead, Condition: ConditionAssigned},
	{Role: RoleNurse, Resource: ResourceAppointment, Action: ActionUpdate, Condition: ConditionAssigned},
	{Role: RoleNurse, Resource: ResourceUserProfile, Action: ActionRead, Condition: ConditionOwnership},
	{Role: RoleNurse, Resource: ResourceUserProfile, Action: ActionUpdate, Condition: ConditionOwnership},
	{Role: RoleNurse, Resource: ResourceForumPost, Action: ActionRead, Condition: ConditionFieldEquals, Field: "visibility", Value: "public"},

	// Content managers moderate the forum and nothing clinical.
	{Role: RoleContentManager, Resource: ResourceForumPost, Action: ActionCreate},
	{Role: RoleContentManager, Resource: ResourceForumPost, Action: ActionRead},
	{Role: RoleContentManager, Resource: ResourceForumPost, Action: ActionUpdate},
	{Role: RoleContentManager, Resource: ResourceForumPost, Action: ActionDelete},
	{Role: RoleContentManager, Resource: ResourceForumPost, Action: ActionList},

	// System accounts ingest wearable data on behalf of users.
	{Role: RoleSystem, Resource: ResourceHealthMetric, Action: ActionCreate},
	{Role: RoleSystem, Resource: ResourceHealthMetric, Action: ActionRead},
	{Role: RoleSystem, Resource: ResourceHealthMetric, Action: ActionList},
	{Role: RoleSystem, Resource: ResourceMedication, Action: ActionRead},
	{Role: RoleSystem, Resource: ResourceAppointment, Action: ActionRead},
}

type grantKey struct {
	role     Role
	resource ResourceType
	action   Action
}

var grantIndex = buildGrantIndex()

func buildGrantIndex() map[grantKey]Permission {
	idx := make(map[grantKey]Permission, len(grantTable))
	for _, p := range grantTable {
		idx[grantKey{p.Role, p.Resource, p.Action}] = p
	}
	return idx
}

// lookupGrant returns the static grant for the triple, if any.
func lookupGrant(role Role, resource ResourceType, action Action) (Permission, bool) {
	p, ok := grantIndex[grantKey{role, resource, action}]
	return p, ok
}

// relationshipActions maps each relationship type to the actions it
// authorizes on the patient's chart.
var relationshipActions = map[RelationshipType][]Action{
	RelationshipPrimaryCare: {ActionRead, ActionUpdate, ActionList},
	RelationshipSpecialist:  {ActionRead, ActionList},
	RelationshipCaregiver:   {ActionRead},
}

// RelationshipPermits reports whether the relationship type authorizes the
// action.
func RelationshipPermits(rt RelationshipType, action Action) bool {
	for _, a := range relationshipActions[rt] {
		if a == action {
			return true
		}
	}
	return false
}
