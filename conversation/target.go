package conversation

// TargetKind discriminates the conversation target variants.
type TargetKind int

const (
	// TargetNone is the zero target: no conversation selected.
	TargetNone TargetKind = iota
	// TargetContact selects a direct conversation with one identity.
	TargetContact
	// TargetGroup selects a group conversation by group id.
	TargetGroup
)

// Target is the currently selected conversation: a contact, a group, or
// nothing. Exactly one variant is active; construct values through
// ContactTarget and GroupTarget.
type Target struct {
	kind    TargetKind
	contact string
	groupID int64
}

// ContactTarget selects the direct conversation with an identity.
func ContactTarget(identity string) Target {
	return Target{kind: TargetContact, contact: identity}
}

// GroupTarget selects a group conversation.
func GroupTarget(groupID int64) Target {
	return Target{kind: TargetGroup, groupID: groupID}
}

// Kind returns the active variant.
func (t Target) Kind() TargetKind { return t.kind }

// Contact returns the contact identity; empty unless Kind is TargetContact.
func (t Target) Contact() string { return t.contact }

// GroupID returns the group id; zero unless Kind is TargetGroup.
func (t Target) GroupID() int64 { return t.groupID }

// IsZero reports whether no conversation is selected.
func (t Target) IsZero() bool { return t.kind == TargetNone }
