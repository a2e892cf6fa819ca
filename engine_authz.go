package issueguard

import (
	"context"

	"github.com/tracksec/issueguard/permission"
)

// Decide evaluates an authorization request and returns the full decision,
// including the reason token. Evaluation is pure: no store is consulted and
// unknown roles, actions, or resource types all deny.
func (e *Engine) Decide(actor Actor, action permission.Action, resource permission.ResourceContext) permission.Decision {
	if e == nil || e.evaluator == nil {
		return permission.Decision{Reason: permission.ReasonUnknownRole}
	}
	return e.evaluator.Evaluate(actor.ID, actor.Role, action, resource)
}

// RegisteredActions returns every registered action name in bit order,
// for admin surfaces that enumerate the permission model.
func (e *Engine) RegisteredActions() []string {
	if e == nil || e.registry == nil {
		return nil
	}
	names := make([]string, 0, e.registry.Count())
	for bit := 0; bit < e.registry.Count(); bit++ {
		if name, ok := e.registry.Name(bit); ok {
			names = append(names, name)
		}
	}
	return names
}

// Authorize evaluates an authorization request, records the outcome, and
// returns [ErrPermissionDenied] on denial. This is the guard every mutating
// operation goes through.
func (e *Engine) Authorize(ctx context.Context, actor Actor, action permission.Action, resource permission.ResourceContext) error {
	if e == nil || e.evaluator == nil {
		return ErrEngineNotReady
	}

	decision := e.evaluator.Evaluate(actor.ID, actor.Role, action, resource)

	metadata := func() map[string]string {
		return map[string]string{
			"action":        string(action),
			"resource_type": string(resource.Type),
			"resource_id":   resource.ID,
			"reason":        decision.Reason,
		}
	}

	if !decision.Allowed {
		e.metricInc(MetricAuthzDenied)
		_ = e.emitAudit(ctx, auditEventAuthzDecision, false, actor.ID, actor.SessionID, ErrPermissionDenied, metadata)
		return ErrPermissionDenied
	}

	e.metricInc(MetricAuthzAllowed)
	if err := e.emitAudit(ctx, auditEventAuthzDecision, true, actor.ID, actor.SessionID, nil, metadata); err != nil {
		return err
	}
	return nil
}
