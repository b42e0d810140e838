// internal/domain/cart/owner.go
package cart

import (
	"fmt"
	"strings"
)

// OwnerKind tells user carts from guest carts
type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerGuest OwnerKind = "guest"
)

// Owner identifies whose cart a request operates on. Exactly one kind is set.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// UserOwner returns the owner for an authenticated user
func UserOwner(userID string) Owner {
	return Owner{Kind: OwnerUser, ID: userID}
}

// GuestOwner returns the owner for an anonymous session
func GuestOwner(sessionID string) Owner {
	return Owner{Kind: OwnerGuest, ID: sessionID}
}

// IsUser reports whether the owner is an authenticated user
func (o Owner) IsUser() bool { return o.Kind == OwnerUser }

// IsGuest reports whether the owner is an anonymous session
func (o Owner) IsGuest() bool { return o.Kind == OwnerGuest }

// Key returns the "<kind>:<id>" form used for channels and logging
func (o Owner) Key() string {
	return string(o.Kind) + ":" + o.ID
}

func (o Owner) String() string { return o.Key() }

// Validate checks that the owner has a known kind and a non-empty id
func (o Owner) Validate() error {
	if o.Kind != OwnerUser && o.Kind != OwnerGuest {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOwner, o.Kind)
	}
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%w: empty %s id", ErrInvalidOwner, o.Kind)
	}
	return nil
}

// ParseOwnerKey is the inverse of Key
func ParseOwnerKey(key string) (Owner, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Owner{}, fmt.Errorf("%w: malformed key %q", ErrInvalidOwner, key)
	}
	owner := Owner{Kind: OwnerKind(kind), ID: id}
	if err := owner.Validate(); err != nil {
		return Owner{}, err
	}
	return owner, nil
}
