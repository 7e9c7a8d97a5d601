package auth

import (
	"fmt"
	"strings"
)

// PrincipalKind discriminates the two authorization principal variants.
type PrincipalKind string

const (
	KindUser  PrincipalKind = "user"
	KindGroup PrincipalKind = "group"
)

// Principal is an authorization grant target: a specific user or a specific group.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	Name string        `json:"name"`
}

func User(name string) Principal {
	return Principal{Kind: KindUser, Name: name}
}

func Group(name string) Principal {
	return Principal{Kind: KindGroup, Name: name}
}

// String renders the canonical "user:zoro" / "group:muppets" form used in storage.
func (p Principal) String() string {
	return string(p.Kind) + ":" + p.Name
}

// ParsePrincipal parses the canonical string form.
func ParsePrincipal(s string) (Principal, error) {
	kind, name, found := strings.Cut(s, ":")
	if !found {
		return Principal{}, fmt.Errorf("invalid principal %q: missing kind separator", s)
	}
	switch PrincipalKind(kind) {
	case KindUser, KindGroup:
		return Principal{Kind: PrincipalKind(kind), Name: name}, nil
	default:
		return Principal{}, fmt.Errorf("invalid principal %q: unknown kind %q", s, kind)
	}
}

// ActingUser is the per-query authorization context: the requesting user and
// the groups it belongs to.
type ActingUser struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups,omitempty"`
}

// Principals expands the acting user into the set of principals it matches.
func (u ActingUser) Principals() []Principal {
	res := make([]Principal, 0, len(u.Groups)+1)
	res = append(res, User(u.Username))
	for _, g := range u.Groups {
		res = append(res, Group(g))
	}
	return res
}

// Visible reports whether an entity restricted to the given authorization
// list is visible to the acting user. An empty list means open visibility.
func Visible(authorizations []Principal, u ActingUser) bool {
	if len(authorizations) == 0 {
		return true
	}
	for _, a := range authorizations {
		switch a.Kind {
		case KindUser:
			if a.Name == u.Username {
				return true
			}
		case KindGroup:
			for _, g := range u.Groups {
				if a.Name == g {
					return true
				}
			}
		}
	}
	return false
}
