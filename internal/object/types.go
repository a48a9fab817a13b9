package object

import (
	"github.com/cloudacm/acm/internal/acmerr"
)

// Object is a protected resource: the root of an ACL, owning permission-set
// attachments and access control entries.
type Object struct {
	ID             int64
	ImmutableID    string
	Name           string
	AdditionalInfo string
	CreatedAt      int64
	UpdatedAt      int64
}

// ACE binds one subject to one permission on one object. At most one ACE
// exists per (object, permission, subject) triple.
type ACE struct {
	ID            int64
	ObjectID      int64
	PermissionID  int64
	SubjectID     int64
	CreatedAt     int64
	LastUpdatedAt int64
}

// ACL maps a permission name to the subject references it is granted to.
// Subject references follow the external convention: a bare id denotes a
// user, a "g-" prefixed id denotes a group.
type ACL map[string][]string

// View is the caller-facing serialization of an object with its attached
// permission sets and full ACE list.
type View struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
	PermissionSets []string  `json:"permission_sets"`
	ACL            []ACEView `json:"acl"`
	CreatedAt      int64     `json:"created_at"`
	UpdatedAt      int64     `json:"updated_at"`
}

// ACEView names the permission and renders the subject back in the
// external reference convention.
type ACEView struct {
	Permission    string `json:"permission"`
	Subject       string `json:"subject"`
	CreatedAt     int64  `json:"created_at"`
	LastUpdatedAt int64  `json:"last_updated_at"`
}

// CreateRequest carries the parameters for object creation.
type CreateRequest struct {
	Name           string
	AdditionalInfo string
	PermissionSets []string
	ACL            ACL
}

// UpdateRequest carries the parameters for an object update. The update
// fully replaces the object's permission-set attachments and ACEs with
// whatever is supplied; callers must resend the complete desired ACL.
type UpdateRequest struct {
	Name           string
	AdditionalInfo string
	PermissionSets []string
	ACL            ACL
}

// ParseACL validates a decoded JSON ACL map. The value under each
// permission key must be a list of subject identifiers; anything else is
// an invalid request.
func ParseACL(raw map[string]interface{}) (ACL, error) {
	if raw == nil {
		return nil, nil
	}

	acl := make(ACL, len(raw))
	for permission, value := range raw {
		list, ok := value.([]interface{})
		if !ok {
			return nil, acmerr.Invalidf("subject ids for permission %s must be a list", permission)
		}

		refs := make([]string, 0, len(list))
		for _, entry := range list {
			ref, ok := entry.(string)
			if !ok {
				return nil, acmerr.Invalidf("subject ids for permission %s must be strings", permission)
			}
			refs = append(refs, ref)
		}
		acl[permission] = refs
	}

	return acl, nil
}
