package permissionset

// PermissionSet is a named bundle of permissions. A set must be attached to
// an object before its permissions can be granted on that object.
type PermissionSet struct {
	ID             int64    `json:"-"`
	Name           string   `json:"name"`
	AdditionalInfo string   `json:"additional_info,omitempty"`
	Permissions    []string `json:"permissions"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
}

// Permission is a named capability belonging to exactly one permission set.
// Its name is unique only within the owning set.
type Permission struct {
	ID    int64
	Name  string
	SetID int64
}
