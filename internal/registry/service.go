package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"volunteersync.org/internal/auth"
)

// provinceHops is the number of parent links between a village and its province.
const provinceHops = 4

// Service enforces the hierarchy and role rules around registry writes.
type Service struct {
	store    Store
	hasher   auth.Hasher
	notifier auth.Notifier
	logger   *slog.Logger
}

// NewService builds the registry service. notifier may be nil, in which case
// no welcome email is sent.
func NewService(store Store, hasher auth.Hasher, notifier auth.Notifier, logger *slog.Logger) *Service {
	if hasher == nil {
		hasher = auth.NewBcryptHasher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, hasher: hasher, notifier: notifier, logger: logger}
}

// Location returns a location by id.
func (s *Service) Location(ctx context.Context, id int64) (Location, error) {
	loc, err := s.store.LocationByID(ctx, id)
	if err != nil {
		return Location{}, wrapLookup(err, "location", id)
	}
	return loc, nil
}

// CreateLocation validates and stores a new location.
func (s *Service) CreateLocation(ctx context.Context, loc Location) (Location, error) {
	loc.ID = 0
	loc.normalize()
	if err := s.validateLocation(ctx, loc); err != nil {
		return Location{}, err
	}
	created, err := s.store.CreateLocation(ctx, loc)
	if err != nil {
		return Location{}, translateWrite(err, "location code is already in use", "code", loc.Code)
	}
	return created, nil
}

// UpdateLocation replaces name, code, kind and parent of location id.
func (s *Service) UpdateLocation(ctx context.Context, id int64, loc Location) (Location, error) {
	current, err := s.store.LocationByID(ctx, id)
	if err != nil {
		return Location{}, wrapLookup(err, "location", id)
	}
	loc.ID = id
	loc.CreatedAt = current.CreatedAt
	loc.normalize()
	if err := s.validateLocation(ctx, loc); err != nil {
		return Location{}, err
	}
	if loc.Kind != current.Kind {
		hasChildren, err := s.store.LocationHasChildren(ctx, id)
		if err != nil {
			return Location{}, oops.Code("LOCATION_UPDATE_FAILED").With("operation", "children", "id", id).Wrap(err)
		}
		if hasChildren {
			return Location{}, auth.Invalid("cannot change the kind of a location that has children", "id", id)
		}
	}
	updated, err := s.store.UpdateLocation(ctx, loc)
	if err != nil {
		return Location{}, translateWrite(err, "location code is already in use", "code", loc.Code)
	}
	return updated, nil
}

func (s *Service) validateLocation(ctx context.Context, loc Location) error {
	if err := loc.validateShape(); err != nil {
		return err
	}
	taken, err := s.store.LocationCodeTaken(ctx, loc.Code, loc.ID)
	if err != nil {
		return oops.Code("LOCATION_VALIDATION_FAILED").With("operation", "code lookup").Wrap(err)
	}
	if taken {
		return auth.Invalid("location code is already in use", "code", loc.Code)
	}
	if loc.ParentID == nil {
		return nil
	}
	parent, err := s.store.LocationByID(ctx, *loc.ParentID)
	if errors.Is(err, ErrNotFound) {
		return auth.Invalid(fmt.Sprintf("parent location %d does not exist", *loc.ParentID), "parent_id", *loc.ParentID)
	}
	if err != nil {
		return oops.Code("LOCATION_VALIDATION_FAILED").With("operation", "parent lookup").Wrap(err)
	}
	return loc.checkParent(parent)
}

// ProvinceOf walks from a village up to its province.
func (s *Service) ProvinceOf(ctx context.Context, villageID int64) (Location, error) {
	loc, err := s.store.LocationByID(ctx, villageID)
	if err != nil {
		return Location{}, wrapLookup(err, "location", villageID)
	}
	if loc.Kind != KindVillage {
		return Location{}, auth.Invalid(fmt.Sprintf("location %d is a %s, not a village", villageID, strings.ToLower(string(loc.Kind))), "id", villageID)
	}
	for hop := 0; hop < provinceHops; hop++ {
		if loc.ParentID == nil {
			return Location{}, auth.Invalid("location hierarchy is incomplete", "id", loc.ID)
		}
		parent, err := s.store.LocationByID(ctx, *loc.ParentID)
		if errors.Is(err, ErrNotFound) {
			return Location{}, auth.Invalid("location hierarchy is incomplete", "id", loc.ID)
		}
		if err != nil {
			return Location{}, oops.Code("PROVINCE_LOOKUP_FAILED").With("id", loc.ID).Wrap(err)
		}
		loc = parent
	}
	if loc.Kind != KindProvince {
		return Location{}, auth.Invalid("location hierarchy is inconsistent", "id", loc.ID, "kind", string(loc.Kind))
	}
	return loc, nil
}

// RegisterVolunteer creates a VOLUNTEER identity and sends a welcome email.
// Delivery failures of the welcome email are logged, not returned.
func (s *Service) RegisterVolunteer(ctx context.Context, reg Registration) (Volunteer, error) {
	v := Volunteer{
		FirstName: reg.FirstName,
		LastName:  reg.LastName,
		Email:     reg.Email,
		Phone:     reg.Phone,
		Role:      auth.RoleVolunteer,
		VillageID: reg.VillageID,
	}
	v.normalize()
	if err := s.validateVolunteer(ctx, v); err != nil {
		return Volunteer{}, err
	}
	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return Volunteer{}, err
	}
	v.PasswordHash = hash

	created, err := s.store.CreateVolunteer(ctx, v)
	if err != nil {
		return Volunteer{}, translateWrite(err, "email is already registered", "email", v.Email)
	}
	if s.notifier != nil {
		subject, body := auth.WelcomeMessage(created.FirstName)
		if err := s.notifier.Send(ctx, created.Email, subject, body); err != nil {
			s.logger.WarnContext(ctx, "welcome email failed", "volunteer_id", created.ID, "error", err)
		}
	}
	return created, nil
}

// Volunteer returns a volunteer by id.
func (s *Service) Volunteer(ctx context.Context, id int64) (Volunteer, error) {
	v, err := s.store.VolunteerByID(ctx, id)
	if err != nil {
		return Volunteer{}, wrapLookup(err, "volunteer", id)
	}
	return v, nil
}

// UpdateVolunteer applies upd to volunteer id. Demoting the admin of an NGO
// is rejected.
func (s *Service) UpdateVolunteer(ctx context.Context, id int64, upd VolunteerUpdate) (Volunteer, error) {
	v, err := s.store.VolunteerByID(ctx, id)
	if err != nil {
		return Volunteer{}, wrapLookup(err, "volunteer", id)
	}
	previousRole := v.Role
	if upd.FirstName != nil {
		v.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		v.LastName = *upd.LastName
	}
	if upd.Email != nil {
		v.Email = *upd.Email
	}
	if upd.Phone != nil {
		v.Phone = *upd.Phone
	}
	if upd.VillageID != nil {
		v.VillageID = *upd.VillageID
	}
	if upd.Role != nil {
		v.Role = *upd.Role
	}
	v.normalize()
	if err := s.validateVolunteer(ctx, v); err != nil {
		return Volunteer{}, err
	}
	if previousRole == auth.RoleNGOAdmin && v.Role != auth.RoleNGOAdmin {
		n, err := s.store.CountNGOsAdministeredBy(ctx, id)
		if err != nil {
			return Volunteer{}, oops.Code("VOLUNTEER_UPDATE_FAILED").With("operation", "count ngos").Wrap(err)
		}
		if n > 0 {
			return Volunteer{}, auth.Invalid("volunteer still administers an NGO and must keep role NGO_ADMIN", "id", id)
		}
	}
	updated, err := s.store.UpdateVolunteer(ctx, v)
	if err != nil {
		return Volunteer{}, translateWrite(err, "email is already registered", "email", v.Email)
	}
	return updated, nil
}

func (s *Service) validateVolunteer(ctx context.Context, v Volunteer) error {
	if err := v.validateShape(); err != nil {
		return err
	}
	village, err := s.store.LocationByID(ctx, v.VillageID)
	if errors.Is(err, ErrNotFound) {
		return auth.Invalid(fmt.Sprintf("village %d does not exist", v.VillageID), "village_id", v.VillageID)
	}
	if err != nil {
		return oops.Code("VOLUNTEER_VALIDATION_FAILED").With("operation", "village lookup").Wrap(err)
	}
	if village.Kind != KindVillage {
		return auth.Invalid(
			fmt.Sprintf("location %d is a %s; volunteers must be assigned to a village", village.ID, strings.ToLower(string(village.Kind))),
			"village_id", v.VillageID, "kind", string(village.Kind))
	}
	taken, err := s.store.VolunteerEmailTaken(ctx, v.Email, v.ID)
	if err != nil {
		return oops.Code("VOLUNTEER_VALIDATION_FAILED").With("operation", "email lookup").Wrap(err)
	}
	if taken {
		return auth.Invalid("email is already registered", "email", v.Email)
	}
	return nil
}

// CreateNGO stores an NGO administered by an NGO_ADMIN identity.
func (s *Service) CreateNGO(ctx context.Context, n NGO) (NGO, error) {
	n.ID = 0
	n.normalize()
	if err := n.validateShape(); err != nil {
		return NGO{}, err
	}
	if err := s.requireAdmin(ctx, n.AdminID); err != nil {
		return NGO{}, err
	}
	taken, err := s.store.NGOContactEmailTaken(ctx, n.ContactEmail, 0)
	if err != nil {
		return NGO{}, oops.Code("NGO_VALIDATION_FAILED").With("operation", "contact email lookup").Wrap(err)
	}
	if taken {
		return NGO{}, auth.Invalid("contact email is already used by another NGO", "contact_email", n.ContactEmail)
	}
	created, err := s.store.CreateNGO(ctx, n)
	if err != nil {
		return NGO{}, translateWrite(err, "contact email is already used by another NGO", "contact_email", n.ContactEmail)
	}
	return created, nil
}

// LinkAdmin makes adminID the administrator of NGO ngoID.
func (s *Service) LinkAdmin(ctx context.Context, ngoID, adminID int64) (NGO, error) {
	if _, err := s.store.NGOByID(ctx, ngoID); err != nil {
		return NGO{}, wrapLookup(err, "ngo", ngoID)
	}
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return NGO{}, err
	}
	n, err := s.store.SetNGOAdmin(ctx, ngoID, adminID)
	if err != nil {
		return NGO{}, translateWrite(err, "admin could not be linked", "admin_id", adminID)
	}
	return n, nil
}

func (s *Service) requireAdmin(ctx context.Context, adminID int64) error {
	admin, err := s.store.VolunteerByID(ctx, adminID)
	if errors.Is(err, ErrNotFound) {
		return auth.Invalid(fmt.Sprintf("admin %d does not exist", adminID), "admin_id", adminID)
	}
	if err != nil {
		return oops.Code("NGO_VALIDATION_FAILED").With("operation", "admin lookup").Wrap(err)
	}
	return checkAdmin(admin)
}

func wrapLookup(err error, kind string, id int64) error {
	if errors.Is(err, ErrNotFound) {
		return oops.Code("NOT_FOUND").With("kind", kind, "id", id).
			Public(fmt.Sprintf("%s %d not found", kind, id)).Wrap(err)
	}
	return oops.Code("REGISTRY_LOOKUP_FAILED").With("kind", kind, "id", id).Wrap(err)
}

func translateWrite(err error, conflictMsg string, kv ...any) error {
	switch {
	case errors.Is(err, ErrNotAdmin):
		return auth.Invalid("the NGO admin must have role NGO_ADMIN", kv...)
	case errors.Is(err, ErrAdminInUse):
		return auth.Invalid("volunteer still administers an NGO and must keep role NGO_ADMIN", kv...)
	}
	if errors.Is(err, ErrConflict) {
		return auth.Invalid(conflictMsg, kv...)
	}
	if errors.Is(err, ErrNotFound) {
		return oops.Code("NOT_FOUND").With(kv...).Wrap(err)
	}
	return oops.Code("REGISTRY_WRITE_FAILED").With(kv...).Wrap(err)
}
