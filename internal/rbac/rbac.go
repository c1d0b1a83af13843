package rbac

import "context"

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleOwner     Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionCall    Action = "call"
	ActionShare   Action = "share"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionWrite || action == ActionCall
	case RoleCommenter:
		return action == ActionRead || action == ActionComment || action == ActionCall
	case RoleViewer:
		return action == ActionRead || action == ActionCall
	default:
		return false
	}
}

// Parse reports whether role names one of the four document roles.
func Parse(role string) (Role, bool) {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleOwner:
		return Role(role), true
	default:
		return "", false
	}
}

// AccessRecord is everything needed to decide a user's role on one document.
type AccessRecord struct {
	DocumentExists bool
	OwnerID        string
	GrantRole      string
}

// Resolve returns the effective role for userID, or false when access is denied.
// The owner always resolves to RoleOwner; an explicit grant row for the owner
// is ignored.
func Resolve(record AccessRecord, userID string) (Role, bool) {
	if !record.DocumentExists || userID == "" {
		return "", false
	}
	if record.OwnerID == userID {
		return RoleOwner, true
	}
	if record.GrantRole == "" {
		return "", false
	}
	return Parse(record.GrantRole)
}

type AccessSource interface {
	GetAccessRecord(ctx context.Context, documentID, userID string) (AccessRecord, error)
}

// Resolver looks up access records and applies Resolve.
type Resolver struct {
	source AccessSource
}

func NewResolver(source AccessSource) *Resolver {
	return &Resolver{source: source}
}

// ResolveRole returns (role, true, nil) on access, ("", false, nil) on denial.
// Errors are lookup failures, not denials.
func (r *Resolver) ResolveRole(ctx context.Context, documentID, userID string) (Role, bool, error) {
	record, err := r.source.GetAccessRecord(ctx, documentID, userID)
	if err != nil {
		return "", false, err
	}
	role, ok := Resolve(record, userID)
	return role, ok, nil
}
