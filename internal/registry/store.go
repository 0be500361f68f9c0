package registry

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("registry: not found")
	// ErrConflict is returned by stores when a unique constraint rejects a write.
	ErrConflict = errors.New("registry: conflict")
	// ErrNotAdmin is returned when an NGO write names an admin without role NGO_ADMIN.
	ErrNotAdmin = errors.New("registry: admin lacks NGO_ADMIN role")
	// ErrAdminInUse is returned when a volunteer administering an NGO would lose NGO_ADMIN.
	ErrAdminInUse = errors.New("registry: volunteer administers an NGO")
)

// Store persists locations, volunteers and NGOs.
//
// The admin link invariant is enforced by the writes themselves, with the
// volunteer row locked: UpdateVolunteer fails with ErrAdminInUse when it would
// take NGO_ADMIN from an NGO's admin, and CreateNGO and SetNGOAdmin fail with
// ErrNotAdmin when the admin does not hold NGO_ADMIN.
type Store interface {
	LocationByID(ctx context.Context, id int64) (Location, error)
	LocationCodeTaken(ctx context.Context, code string, exceptID int64) (bool, error)
	CreateLocation(ctx context.Context, loc Location) (Location, error)
	UpdateLocation(ctx context.Context, loc Location) (Location, error)
	LocationHasChildren(ctx context.Context, id int64) (bool, error)

	VolunteerByID(ctx context.Context, id int64) (Volunteer, error)
	VolunteerEmailTaken(ctx context.Context, email string, exceptID int64) (bool, error)
	CreateVolunteer(ctx context.Context, v Volunteer) (Volunteer, error)
	UpdateVolunteer(ctx context.Context, v Volunteer) (Volunteer, error)

	NGOByID(ctx context.Context, id int64) (NGO, error)
	NGOContactEmailTaken(ctx context.Context, email string, exceptID int64) (bool, error)
	CreateNGO(ctx context.Context, n NGO) (NGO, error)
	SetNGOAdmin(ctx context.Context, ngoID, adminID int64) (NGO, error)
	CountNGOsAdministeredBy(ctx context.Context, adminID int64) (int, error)
}
