package registry

import (
	"strings"
	"time"

	"volunteersync.org/internal/auth"
)

// NGO is an organisation administered by an NGO_ADMIN identity.
type NGO struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ContactEmail string    `json:"contactEmail"`
	AdminID      int64     `json:"adminId"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (n *NGO) normalize() {
	n.Name = strings.TrimSpace(n.Name)
	n.Description = strings.TrimSpace(n.Description)
	n.ContactEmail = auth.NormalizeEmail(n.ContactEmail)
}

func (n NGO) validateShape() error {
	if n.Name == "" {
		return auth.Invalid("NGO name is required", "field", "name")
	}
	if n.ContactEmail == "" || !strings.Contains(n.ContactEmail, "@") {
		return auth.Invalid("a valid contact email is required", "field", "contactEmail")
	}
	if n.AdminID <= 0 {
		return auth.Invalid("admin is required", "field", "adminId")
	}
	return nil
}

// checkAdmin enforces that only NGO_ADMIN identities administer an NGO.
func checkAdmin(admin Volunteer) error {
	if admin.Role != auth.RoleNGOAdmin {
		return auth.Invalid("the NGO admin must have role NGO_ADMIN", "admin_id", admin.ID, "role", string(admin.Role))
	}
	return nil
}
