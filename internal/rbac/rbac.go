// Package rbac decides what a caller may do with an idea based on their
// relation to it and whether it has been published.
package rbac

type Relation string
type Action string

const (
	RelationOwner     Relation = "owner"
	RelationVisitor   Relation = "visitor"
	RelationAnonymous Relation = "anonymous"
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionPublish Action = "publish"
	ActionDelete  Action = "delete"
	ActionHistory Action = "history"
	ActionShare   Action = "share"
	ActionExport  Action = "export"
)

// RelationTo classifies viewerID (0 = anonymous) against an idea's owner.
// Unowned ideas have no owner, so every caller is a visitor or anonymous.
func RelationTo(viewerID int64, ownerID *int64) Relation {
	switch {
	case viewerID == 0:
		return RelationAnonymous
	case ownerID != nil && *ownerID == viewerID:
		return RelationOwner
	default:
		return RelationVisitor
	}
}

func Can(relation Relation, action Action, published bool) bool {
	switch relation {
	case RelationOwner:
		return true
	case RelationVisitor, RelationAnonymous:
		return published && Public(action)
	default:
		return false
	}
}

// Public reports whether action is open to non-owners once an idea is
// published. A denied public action should look like a missing idea.
func Public(action Action) bool {
	return action == ActionRead || action == ActionExport
}
