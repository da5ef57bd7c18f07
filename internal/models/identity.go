package models

import "strings"

type Role string

const (
	RoleClient Role = "CLIENT"
	RolePro    Role = "PRO"
	RoleAdmin  Role = "ADMIN"
)

func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RoleClient, RolePro, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Identity is the authenticated caller as supplied by the identity provider.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// System is used for transitions driven by the platform itself.
var System = Identity{UserID: "system", Role: RoleAdmin}
