package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of roles an identity can hold.
type Role string

const (
	RoleVolunteer Role = "VOLUNTEER"
	RoleNGOAdmin  Role = "NGO_ADMIN"
)

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleVolunteer:
		return RoleVolunteer, nil
	case RoleNGOAdmin:
		return RoleNGOAdmin, nil
	}
	return "", Invalid(fmt.Sprintf("unknown role %q", s), "role", s)
}

func (r Role) Valid() bool {
	return r == RoleVolunteer || r == RoleNGOAdmin
}

// Capability names an action a protected route performs.
type Capability int

const (
	CapViewProfile Capability = iota
	CapEditOwnProfile
	CapReadLocations
	CapManageLocations
	CapManageVolunteers
	CapManageNGOs
)

var capabilityNames = map[Capability]string{
	CapViewProfile:      "view_profile",
	CapEditOwnProfile:   "edit_own_profile",
	CapReadLocations:    "read_locations",
	CapManageLocations:  "manage_locations",
	CapManageVolunteers: "manage_volunteers",
	CapManageNGOs:       "manage_ngos",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

var grants = map[Role]map[Capability]bool{
	RoleVolunteer: {
		CapViewProfile:    true,
		CapEditOwnProfile: true,
		CapReadLocations:  true,
	},
	RoleNGOAdmin: {
		CapViewProfile:      true,
		CapEditOwnProfile:   true,
		CapReadLocations:    true,
		CapManageLocations:  true,
		CapManageVolunteers: true,
		CapManageNGOs:       true,
	},
}

// Can reports whether the role grants the capability.
func (r Role) Can(c Capability) bool {
	return grants[r][c]
}

// Authorize returns ErrForbidden when role lacks capability.
func Authorize(role Role, c Capability) error {
	if role.Can(c) {
		return nil
	}
	return Fail(ErrForbidden, "role", string(role), "capability", c.String())
}
