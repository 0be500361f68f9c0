package registry

import (
	"fmt"
	"strings"
	"time"

	"volunteersync.org/internal/auth"
)

// Kind is a level of the location hierarchy.
type Kind string

const (
	KindProvince Kind = "PROVINCE"
	KindDistrict Kind = "DISTRICT"
	KindSector   Kind = "SECTOR"
	KindCell     Kind = "CELL"
	KindVillage  Kind = "VILLAGE"
)

// chain is ordered from root to leaf.
var chain = []Kind{KindProvince, KindDistrict, KindSector, KindCell, KindVillage}

// ParseKind accepts a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if k.depth() < 0 {
		return "", auth.Invalid(fmt.Sprintf("unknown location kind %q", s), "kind", s)
	}
	return k, nil
}

func (k Kind) depth() int {
	for i, c := range chain {
		if c == k {
			return i
		}
	}
	return -1
}

// Parent returns the kind a node of kind k must hang under, or "" for PROVINCE.
func (k Kind) Parent() Kind {
	d := k.depth()
	if d <= 0 {
		return ""
	}
	return chain[d-1]
}

// Location is a node of the province → village tree.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Kind      Kind      `json:"kind"`
	ParentID  *int64    `json:"parentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (l *Location) normalize() {
	l.Name = strings.TrimSpace(l.Name)
	l.Code = strings.ToUpper(strings.TrimSpace(l.Code))
}

// validateShape checks the rules that need no lookups.
func (l Location) validateShape() error {
	if l.Name == "" {
		return auth.Invalid("location name is required", "field", "name")
	}
	if l.Code == "" {
		return auth.Invalid("location code is required", "field", "code")
	}
	if l.Kind.depth() < 0 {
		return auth.Invalid(fmt.Sprintf("unknown location kind %q", l.Kind), "kind", string(l.Kind))
	}
	if l.Kind == KindProvince && l.ParentID != nil {
		return auth.Invalid("a province cannot have a parent location", "kind", string(l.Kind))
	}
	if l.Kind != KindProvince && l.ParentID == nil {
		return auth.Invalid(fmt.Sprintf("a %s must have a parent location", strings.ToLower(string(l.Kind))), "kind", string(l.Kind))
	}
	if l.ParentID != nil && l.ID != 0 && *l.ParentID == l.ID {
		return auth.Invalid("a location cannot be its own parent", "id", l.ID)
	}
	return nil
}

// checkParent verifies parent is the immediate ancestor kind of l.
func (l Location) checkParent(parent Location) error {
	if want := l.Kind.Parent(); parent.Kind != want {
		return auth.Invalid(
			fmt.Sprintf("a %s must be placed under a %s, not a %s",
				strings.ToLower(string(l.Kind)), strings.ToLower(string(want)), strings.ToLower(string(parent.Kind))),
			"parent_id", parent.ID, "parent_kind", string(parent.Kind))
	}
	return nil
}
