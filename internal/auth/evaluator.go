package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DecisionHook observes every permission decision. Wired to metrics in
// cmd/api; nil hooks are ignored.
type DecisionHook func(resource ResourceType, action Action, outcome string)

// Evaluator turns the static grant table plus the injected resolvers into
// a single checkPermission decision. It holds no mutable state and is safe
// for unlimited concurrent use.
type Evaluator struct {
	resources     ResourceResolver
	relationships RelationshipResolver
	hook          DecisionHook
	now           func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithDecisionHook registers an observer for decision outcomes.
func WithDecisionHook(hook DecisionHook) EvaluatorOption {
	return func(e *Evaluator) { e.hook = hook }
}

// WithEvaluatorClock overrides the time source used for time_range grants.
func WithEvaluatorClock(fn func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEvaluator constructs the permission evaluator.
func NewEvaluator(resources ResourceResolver, relationships RelationshipResolver, opts ...EvaluatorOption) (*Evaluator, error) {
	if resources == nil || relationships == nil {
		return nil, fmt.Errorf("%w: both resolvers are required", ErrInvalidInput)
	}
	e := &Evaluator{resources: resources, relationships: relationships, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Check evaluates (principal, action, resource, resourceID) in fixed
// precedence, first match wins, default deny:
//
//  1. admin role allows everything
//  2. an unconditional role grant allows
//  3. without a resource id, role-only checks are exhausted: deny
//  4. an ownership grant allows the resource's recorded owner
//  5. an assignment grant allows an assigned principal
//  6. for patient-scoped resources, a provider-class role with an active
//     relationship to the owning patient is allowed the actions that
//     relationship type permits
//  7. deny
//
// Role grants are the cheapest check and deliberately short-circuit before
// any resolver I/O. Resolver failures return an error with allowed=false;
// callers must treat the error as deny, never allow.
func (e *Evaluator) Check(ctx context.Context, principal Principal, action Action, resource ResourceType, resourceID string) (bool, error) {
	allowed, err := e.check(ctx, principal, action, resource, resourceID)
	if e.hook != nil {
		outcome := "deny"
		if err != nil {
			outcome = "error"
		} else if allowed {
			outcome = "allow"
		}
		e.hook(resource, action, outcome)
	}
	return allowed, err
}

func (e *Evaluator) check(ctx context.Context, principal Principal, action Action, resource ResourceType, resourceID string) (bool, error) {
	if strings.TrimSpace(principal.ID) == "" {
		return false, nil
	}

	// 1. Admin overrides everything. No other role combination may
	// simulate it.
	if principal.HasRole(RoleAdmin) {
		return true, nil
	}

	// 2. Unconditional role grants. time_range grants are pure clock
	// comparisons, so they are settled here too, before any resolver I/O.
	var conditional []Permission
	for _, role := range principal.Roles {
		grant, ok := lookupGrant(role, resource, action)
		if !ok {
			continue
		}
		switch grant.Condition {
		case ConditionNone:
			return true, nil
		case ConditionTimeRange:
			if grant.withinWindow(e.now().UTC()) {
				return true, nil
			}
		default:
			conditional = append(conditional, grant)
		}
	}

	// 3. Role-only checks exhausted.
	if resourceID == "" || len(conditional) == 0 {
		return false, nil
	}

	// 4. Ownership.
	for _, grant := range conditional {
		if grant.Condition != ConditionOwnership {
			continue
		}
		ownerID, err := e.resources.OwnerOf(ctx, resource, resourceID)
		if err != nil {
			return false, fmt.Errorf("%w: resolve owner: %v", ErrStorageUnavailable, err)
		}
		if ownerID != "" && ownerID == principal.ID {
			return true, nil
		}
		break
	}

	// 5. Assignment.
	for _, grant := range conditional {
		if grant.Condition != ConditionAssigned {
			continue
		}
		assigned, err := e.resources.IsAssigned(ctx, principal.ID, resource, resourceID)
		if err != nil {
			return false, fmt.Errorf("%w: resolve assignment: %v", ErrStorageUnavailable, err)
		}
		if assigned {
			return true, nil
		}
		break
	}

	// Field comparisons read a single resource attribute, e.g. a forum
	// post's visibility flag.
	for _, grant := range conditional {
		if grant.Condition != ConditionFieldEquals {
			continue
		}
		value, err := e.resources.FieldValue(ctx, resource, resourceID, grant.Field)
		if err != nil {
			return false, fmt.Errorf("%w: resolve field %s: %v", ErrStorageUnavailable, grant.Field, err)
		}
		if value == grant.Value {
			return true, nil
		}
		break
	}

	// 6. Healthcare relationship, only for patient-scoped resources and
	// provider-class roles.
	if resource.patientScoped() && e.hasRelationshipGrant(principal, conditional) {
		patientID, err := e.resources.OwnerOf(ctx, resource, resourceID)
		if err != nil {
			return false, fmt.Errorf("%w: resolve patient: %v", ErrStorageUnavailable, err)
		}
		if patientID != "" {
			rel, err := e.relationships.ActiveRelationship(ctx, principal.ID, patientID)
			if err != nil {
				return false, fmt.Errorf("%w: resolve relationship: %v", ErrStorageUnavailable, err)
			}
			if rel != nil && RelationshipPermits(rel.Type, action) {
				return true, nil
			}
		}
	}

	// 7. Default deny.
	return false, nil
}

func (p Permission) withinWindow(now time.Time) bool {
	if !p.NotBefore.IsZero() && now.Before(p.NotBefore) {
		return false
	}
	if !p.NotAfter.IsZero() && now.After(p.NotAfter) {
		return false
	}
	return true
}

func (e *Evaluator) hasRelationshipGrant(principal Principal, grants []Permission) bool {
	for _, grant := range grants {
		if grant.Condition == ConditionRelationship && grant.Role.providerClass() && principal.HasRole(grant.Role) {
			return true
		}
	}
	return false
}

// Require is the route-handler convenience: deny and resolver failure both
// surface as ErrPermissionDenied.
func (e *Evaluator) Require(ctx context.Context, principal Principal, action Action, resource ResourceType, resourceID string) error {
	allowed, err := e.Check(ctx, principal, action, resource, resourceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if !allowed {
		return ErrPermissionDenied
	}
	return nil
}
