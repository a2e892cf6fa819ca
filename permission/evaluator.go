package permission

import (
	"errors"
	"sync"
)

// Action names a guarded operation. Owner-scoped actions have a paired
// ".any" variant that grants the action without an ownership check.
type Action string

const (
	// ActionProjectView allows reading a project and its issues.
	ActionProjectView Action = "project.view"
	// ActionProjectCreate allows creating new projects.
	ActionProjectCreate Action = "project.create"
	// ActionProjectEdit allows editing a project. Owner-scoped.
	ActionProjectEdit Action = "project.edit"
	// ActionProjectArchive allows archiving a project. Owner-scoped.
	ActionProjectArchive Action = "project.archive"
	// ActionIssueCreate allows filing issues.
	ActionIssueCreate Action = "issue.create"
	// ActionIssueEdit allows editing issues, including status transitions.
	// Owner-scoped: the reporter and the assignee count as owners.
	ActionIssueEdit Action = "issue.edit"
	// ActionIssueAssign allows changing an issue's assignee. Owner-scoped:
	// the reporter counts as owner.
	ActionIssueAssign Action = "issue.assign"
	// ActionCommentCreate allows commenting on issues.
	ActionCommentCreate Action = "comment.create"
	// ActionCommentEdit allows editing a comment. Owner-scoped: only the
	// author counts as owner.
	ActionCommentEdit Action = "comment.edit"
)

// AnySuffix marks the unconditional variant of an owner-scoped action.
const AnySuffix = ".any"

// RootGrant is the special role entry that sets the reserved root bit,
// bypassing every action and ownership check.
const RootGrant = "*"

// ResourceType classifies the target of an action.
type ResourceType string

const (
	// ResourceProject is an authorization resource type.
	ResourceProject ResourceType = "project"
	// ResourceIssue is an authorization resource type.
	ResourceIssue ResourceType = "issue"
	// ResourceComment is an authorization resource type.
	ResourceComment ResourceType = "comment"
)

// ResourceContext carries the ownership attributes of the resource an action
// targets. OwnerID is the project owner for projects and the author for
// comments; issues use ReporterID and AssigneeID instead.
type ResourceContext struct {
	Type       ResourceType
	ID         string
	OwnerID    string
	ReporterID string
	AssigneeID string
	ProjectID  string
}

// Decision is the outcome of an authorization evaluation. Reason is a short
// machine-readable token describing why, suitable for audit records.
type Decision struct {
	Allowed bool
	Reason  string
}

const (
	// ReasonRoot marks a decision allowed by the reserved root grant.
	ReasonRoot = "root_grant"
	// ReasonRoleGrant marks a decision allowed by an unconditional role bit.
	ReasonRoleGrant = "role_grant"
	// ReasonOwnership marks a decision allowed by an owner-scoped bit plus ownership.
	ReasonOwnership = "ownership"
	// ReasonUnknownRole marks a denial for a role without a registered mask.
	ReasonUnknownRole = "unknown_role"
	// ReasonUnknownAction marks a denial for an action outside the registry.
	ReasonUnknownAction = "unknown_action"
	// ReasonResourceMismatch marks a denial for an action applied to the wrong resource type.
	ReasonResourceMismatch = "resource_type_mismatch"
	// ReasonRoleLacksAction marks a denial for a role without the action bit.
	ReasonRoleLacksAction = "role_lacks_action"
	// ReasonNotOwner marks a denial for an owner-scoped grant without ownership.
	ReasonNotOwner = "not_owner"
)

// ownerScoped actions carry an ownership predicate on their bare bit.
var ownerScoped = map[Action]bool{
	ActionProjectEdit:    true,
	ActionProjectArchive: true,
	ActionIssueEdit:      true,
	ActionIssueAssign:    true,
	ActionCommentEdit:    true,
}

var actionResource = map[Action]ResourceType{
	ActionProjectView:    ResourceProject,
	ActionProjectCreate:  ResourceProject,
	ActionProjectEdit:    ResourceProject,
	ActionProjectArchive: ResourceProject,
	ActionIssueCreate:    ResourceIssue,
	ActionIssueEdit:      ResourceIssue,
	ActionIssueAssign:    ResourceIssue,
	ActionCommentCreate:  ResourceComment,
	ActionCommentEdit:    ResourceComment,
}

// Actions returns every registrable action name, including the ".any"
// variants of owner-scoped actions, in registration order.
func Actions() []string {
	ordered := []Action{
		ActionProjectView,
		ActionProjectCreate,
		ActionProjectEdit,
		ActionProjectArchive,
		ActionIssueCreate,
		ActionIssueEdit,
		ActionIssueAssign,
		ActionCommentCreate,
		ActionCommentEdit,
	}

	names := make([]string, 0, len(ordered)+len(ownerScoped))
	for _, a := range ordered {
		names = append(names, string(a))
		if ownerScoped[a] {
			names = append(names, string(a)+AnySuffix)
		}
	}
	return names
}

// DefaultRoles returns the built-in role table. Developers act within what
// they own, managers act across the tenant, admins hold the root grant.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		"developer": {
			string(ActionProjectView),
			string(ActionProjectEdit),
			string(ActionProjectArchive),
			string(ActionIssueCreate),
			string(ActionIssueEdit),
			string(ActionIssueAssign),
			string(ActionCommentCreate),
			string(ActionCommentEdit),
		},
		"manager": {
			string(ActionProjectView),
			string(ActionProjectCreate),
			string(ActionProjectEdit) + AnySuffix,
			string(ActionProjectArchive) + AnySuffix,
			string(ActionIssueCreate),
			string(ActionIssueEdit) + AnySuffix,
			string(ActionIssueAssign) + AnySuffix,
			string(ActionCommentCreate),
			string(ActionCommentEdit),
		},
		"admin": {RootGrant},
	}
}

// Evaluator resolves role and ownership into allow/deny decisions. It is
// pure after Freeze: evaluation touches no store and is deterministic for
// identical inputs.
type Evaluator struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask64
	frozen bool
}

// NewEvaluator creates an [Evaluator] over a frozen action registry.
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{
		registry: registry,
		roles:    make(map[string]Mask64),
	}
}

// RegisterRole builds the bitmask for a role from action names. The entry
// [RootGrant] sets the reserved root bit. Must be called before Freeze.
func (e *Evaluator) RegisterRole(name string, actions []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frozen {
		return errors.New("evaluator frozen")
	}
	if name == "" {
		return errors.New("role name empty")
	}
	if _, exists := e.roles[name]; exists {
		return errors.New("role already registered: " + name)
	}

	var mask Mask64
	for _, action := range actions {
		if action == RootGrant {
			rootBit, ok := e.registry.RootBit()
			if !ok {
				return errors.New("root grant requires a root-reserved registry")
			}
			mask.Set(rootBit)
			continue
		}

		bit, ok := e.registry.Bit(action)
		if !ok {
			return errors.New("action not registered: " + action)
		}
		mask.Set(bit)
	}

	e.roles[name] = mask
	return nil
}

// Freeze prevents further role registrations.
func (e *Evaluator) Freeze() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frozen = true
}

// Mask returns the bitmask for a role, or false if unregistered.
func (e *Evaluator) Mask(role string) (Mask64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	mask, ok := e.roles[role]
	return mask, ok
}

// Roles returns the number of registered roles.
func (e *Evaluator) Roles() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.roles)
}

// Evaluate decides whether the actor may perform action on the resource.
// Every unrecognized input denies: unknown roles, unknown actions, and
// resource/action type mismatches all fail closed.
func (e *Evaluator) Evaluate(actorID, role string, action Action, res ResourceContext) Decision {
	mask, ok := e.Mask(role)
	if !ok {
		return Decision{Reason: ReasonUnknownRole}
	}

	wantType, ok := actionResource[action]
	if !ok {
		return Decision{Reason: ReasonUnknownAction}
	}
	if res.Type != wantType {
		return Decision{Reason: ReasonResourceMismatch}
	}

	if rootBit, ok := e.registry.RootBit(); ok && mask.Has(rootBit, false) {
		return Decision{Allowed: true, Reason: ReasonRoot}
	}

	if anyBit, ok := e.registry.Bit(string(action) + AnySuffix); ok && mask.Has(anyBit, false) {
		return Decision{Allowed: true, Reason: ReasonRoleGrant}
	}

	bit, ok := e.registry.Bit(string(action))
	if !ok || !mask.Has(bit, false) {
		return Decision{Reason: ReasonRoleLacksAction}
	}

	if !ownerScoped[action] {
		return Decision{Allowed: true, Reason: ReasonRoleGrant}
	}
	if owns(actorID, action, res) {
		return Decision{Allowed: true, Reason: ReasonOwnership}
	}
	return Decision{Reason: ReasonNotOwner}
}

func owns(actorID string, action Action, res ResourceContext) bool {
	if actorID == "" {
		return false
	}

	switch action {
	case ActionProjectEdit, ActionProjectArchive, ActionCommentEdit:
		return actorID == res.OwnerID
	case ActionIssueEdit:
		return actorID == res.ReporterID || actorID == res.AssigneeID
	case ActionIssueAssign:
		return actorID == res.ReporterID
	default:
		return false
	}
}
