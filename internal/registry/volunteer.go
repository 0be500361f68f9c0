package registry

import (
	"regexp"
	"strings"
	"time"

	"volunteersync.org/internal/auth"
)

var phonePattern = regexp.MustCompile(`^\+?2507\d{8}$`)

// Volunteer is the profile stored for an identity.
type Volunteer struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Role         auth.Role `json:"role"`
	VillageID    int64     `json:"villageId"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Registration is the self-service sign-up payload.
type Registration struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
	VillageID int64
}

// VolunteerUpdate carries profile changes; nil fields are left untouched.
type VolunteerUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	VillageID *int64
	Role      *auth.Role
}

func (v *Volunteer) normalize() {
	v.FirstName = strings.TrimSpace(v.FirstName)
	v.LastName = strings.TrimSpace(v.LastName)
	v.Email = auth.NormalizeEmail(v.Email)
	v.Phone = strings.TrimSpace(v.Phone)
}

func (v Volunteer) validateShape() error {
	if v.FirstName == "" {
		return auth.Invalid("first name is required", "field", "firstName")
	}
	if v.LastName == "" {
		return auth.Invalid("last name is required", "field", "lastName")
	}
	if v.Email == "" || !strings.Contains(v.Email, "@") {
		return auth.Invalid("a valid email is required", "field", "email")
	}
	if v.Phone != "" && !phonePattern.MatchString(v.Phone) {
		return auth.Invalid("phone must be a Rwandan mobile number (+2507XXXXXXXX)", "field", "phone")
	}
	if !v.Role.Valid() {
		return auth.Invalid("unknown role", "role", string(v.Role))
	}
	if v.VillageID <= 0 {
		return auth.Invalid("village is required", "field", "villageId")
	}
	return nil
}

// Identity is the credential view of the volunteer.
func (v Volunteer) Identity() auth.Identity {
	return auth.Identity{
		ID:           v.ID,
		Email:        v.Email,
		PasswordHash: v.PasswordHash,
		Role:         v.Role,
		VillageID:    v.VillageID,
	}
}
