package issueguard

import (
	"context"

	"github.com/tracksec/issueguard/permission"
	"github.com/tracksec/issueguard/workflow"
)

// TransitionIssue authorizes the actor against the issue and, if permitted,
// validates the status change against the transition table. It returns the
// status the issue should move to; persisting it is the host application's
// job. Authorization is checked before the transition, so an actor without
// issue.edit learns nothing about the table.
func (e *Engine) TransitionIssue(ctx context.Context, actor Actor, issue workflow.IssueContext, target workflow.Status) (workflow.Status, error) {
	if e == nil || e.evaluator == nil {
		return "", ErrEngineNotReady
	}

	resource := permission.ResourceContext{
		Type:       permission.ResourceIssue,
		ID:         issue.ID,
		ReporterID: issue.ReporterID,
		AssigneeID: issue.AssigneeID,
		ProjectID:  issue.ProjectID,
	}
	if err := e.Authorize(ctx, actor, permission.ActionIssueEdit, resource); err != nil {
		return "", err
	}

	metadata := func() map[string]string {
		return map[string]string{
			"issue_id": issue.ID,
			"from":     string(issue.Status),
			"to":       string(target),
		}
	}

	next, err := workflow.Transition(issue, target)
	if err != nil {
		e.metricInc(MetricTransitionRejected)
		_ = e.emitAudit(ctx, auditEventTransitionRejected, false, actor.ID, actor.SessionID, err, metadata)
		return "", err
	}

	if err := e.emitAudit(ctx, auditEventTransitionApplied, true, actor.ID, actor.SessionID, nil, metadata); err != nil {
		return "", err
	}
	e.metricInc(MetricTransitionApplied)
	return next, nil
}
