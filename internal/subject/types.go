package subject

import "strings"

// Kind distinguishes the two subject variants stored in the subjects table
type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
)

// GroupPrefix marks an external subject reference as denoting a group.
const GroupPrefix = "g-"

// Ref is a parsed subject reference: the external identifier with the
// group prefix folded into the kind, so prefix handling happens exactly
// once at the boundary.
type Ref struct {
	Kind Kind
	ID   string
}

// ParseRef parses an external subject identifier. "g-42" denotes the group
// with immutable id 42; "42" denotes the user with immutable id 42.
func ParseRef(s string) Ref {
	if strings.HasPrefix(s, GroupPrefix) {
		return Ref{Kind: KindGroup, ID: strings.TrimPrefix(s, GroupPrefix)}
	}
	return Ref{Kind: KindUser, ID: s}
}

// String renders the reference back in the external convention.
func (r Ref) String() string {
	if r.Kind == KindGroup {
		return GroupPrefix + r.ID
	}
	return r.ID
}

// Subject is a user or group row. The internal id never leaves the engine;
// callers see the immutable id in the external reference convention.
type Subject struct {
	ID             int64  `json:"-"`
	ImmutableID    string `json:"id"`
	Kind           Kind   `json:"type"`
	AdditionalInfo string `json:"additional_info,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Ref returns the external reference for the subject.
func (s *Subject) Ref() Ref {
	return Ref{Kind: s.Kind, ID: s.ImmutableID}
}
