package pg

import (
	"context"
	"database/sql"

	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/registry"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const locationColumns = `id, name, code, kind, parent_id, created_at`

func scanLocation(row rowScanner) (registry.Location, error) {
	var (
		loc    registry.Location
		parent sql.NullInt64
	)
	if err := row.Scan(&loc.ID, &loc.Name, &loc.Code, &loc.Kind, &parent, &loc.CreatedAt); err != nil {
		return registry.Location{}, registryError(err)
	}
	if parent.Valid {
		loc.ParentID = &parent.Int64
	}
	return loc, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func (s *Store) LocationByID(ctx context.Context, id int64) (registry.Location, error) {
	if s.db == nil {
		return registry.Location{}, errNoDB
	}
	return scanLocation(s.db.QueryRowContext(ctx, `select `+locationColumns+` from locations where id = $1`, id))
}

func (s *Store) LocationCodeTaken(ctx context.Context, code string, exceptID int64) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from locations where code = $1 and id <> $2)`, code, exceptID)
}

func (s *Store) CreateLocation(ctx context.Context, loc registry.Location) (registry.Location, error) {
	if s.db == nil {
		return registry.Location{}, errNoDB
	}
	return scanLocation(s.db.QueryRowContext(ctx, `
		insert into locations (name, code, kind, parent_id)
		values ($1, $2, $3, $4)
		returning `+locationColumns,
		loc.Name, loc.Code, string(loc.Kind), nullableID(loc.ParentID)))
}

func (s *Store) UpdateLocation(ctx context.Context, loc registry.Location) (registry.Location, error) {
	if s.db == nil {
		return registry.Location{}, errNoDB
	}
	return scanLocation(s.db.QueryRowContext(ctx, `
		update locations
		set name = $2, code = $3, kind = $4, parent_id = $5
		where id = $1
		returning `+locationColumns,
		loc.ID, loc.Name, loc.Code, string(loc.Kind), nullableID(loc.ParentID)))
}

func (s *Store) LocationHasChildren(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, `
		select exists(select 1 from locations where parent_id = $1)
		    or exists(select 1 from volunteers where village_id = $1)
	`, id)
}

const volunteerColumns = `id, first_name, last_name, email, phone, role, village_id, password_hash, created_at, updated_at`

func scanVolunteer(row rowScanner) (registry.Volunteer, error) {
	var v registry.Volunteer
	if err := row.Scan(&v.ID, &v.FirstName, &v.LastName, &v.Email, &v.Phone, &v.Role,
		&v.VillageID, &v.PasswordHash, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return registry.Volunteer{}, registryError(err)
	}
	return v, nil
}

func (s *Store) VolunteerByID(ctx context.Context, id int64) (registry.Volunteer, error) {
	if s.db == nil {
		return registry.Volunteer{}, errNoDB
	}
	return scanVolunteer(s.db.QueryRowContext(ctx, `select `+volunteerColumns+` from volunteers where id = $1`, id))
}

func (s *Store) VolunteerEmailTaken(ctx context.Context, email string, exceptID int64) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from volunteers where lower(email) = $1 and id <> $2)`,
		auth.NormalizeEmail(email), exceptID)
}

func (s *Store) CreateVolunteer(ctx context.Context, v registry.Volunteer) (registry.Volunteer, error) {
	if s.db == nil {
		return registry.Volunteer{}, errNoDB
	}
	return scanVolunteer(s.db.QueryRowContext(ctx, `
		insert into volunteers (first_name, last_name, email, phone, role, village_id, password_hash)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+volunteerColumns,
		v.FirstName, v.LastName, v.Email, v.Phone, string(v.Role), v.VillageID, v.PasswordHash))
}

// UpdateVolunteer writes profile fields; the password hash is only changed
// through the reset flow. The row is locked so a demotion and an NGO link
// for the same volunteer serialise.
func (s *Store) UpdateVolunteer(ctx context.Context, v registry.Volunteer) (registry.Volunteer, error) {
	var updated registry.Volunteer
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		role, err := lockVolunteerRole(ctx, tx, v.ID)
		if err != nil {
			return err
		}
		if role == auth.RoleNGOAdmin && v.Role != auth.RoleNGOAdmin {
			var administers bool
			if err := tx.QueryRowContext(ctx,
				`select exists(select 1 from ngos where admin_id = $1)`, v.ID).Scan(&administers); err != nil {
				return err
			}
			if administers {
				return registry.ErrAdminInUse
			}
		}
		updated, err = scanVolunteer(tx.QueryRowContext(ctx, `
			update volunteers
			set first_name = $2, last_name = $3, email = $4, phone = $5, role = $6, village_id = $7, updated_at = now()
			where id = $1
			returning `+volunteerColumns,
			v.ID, v.FirstName, v.LastName, v.Email, v.Phone, string(v.Role), v.VillageID))
		return err
	})
	if err != nil {
		return registry.Volunteer{}, registryError(err)
	}
	return updated, nil
}

// lockVolunteerRole locks the volunteer row and returns its role.
func lockVolunteerRole(ctx context.Context, tx *sql.Tx, id int64) (auth.Role, error) {
	var role auth.Role
	err := tx.QueryRowContext(ctx, `select role from volunteers where id = $1 for update`, id).Scan(&role)
	if err != nil {
		return "", registryError(err)
	}
	return role, nil
}

func requireAdminRole(ctx context.Context, tx *sql.Tx, id int64) error {
	role, err := lockVolunteerRole(ctx, tx, id)
	if err != nil {
		return err
	}
	if role != auth.RoleNGOAdmin {
		return registry.ErrNotAdmin
	}
	return nil
}

const ngoColumns = `id, name, description, contact_email, admin_id, created_at`

func scanNGO(row rowScanner) (registry.NGO, error) {
	var n registry.NGO
	if err := row.Scan(&n.ID, &n.Name, &n.Description, &n.ContactEmail, &n.AdminID, &n.CreatedAt); err != nil {
		return registry.NGO{}, registryError(err)
	}
	return n, nil
}

func (s *Store) NGOByID(ctx context.Context, id int64) (registry.NGO, error) {
	if s.db == nil {
		return registry.NGO{}, errNoDB
	}
	return scanNGO(s.db.QueryRowContext(ctx, `select `+ngoColumns+` from ngos where id = $1`, id))
}

func (s *Store) NGOContactEmailTaken(ctx context.Context, email string, exceptID int64) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from ngos where contact_email = $1 and id <> $2)`,
		auth.NormalizeEmail(email), exceptID)
}

func (s *Store) CreateNGO(ctx context.Context, n registry.NGO) (registry.NGO, error) {
	var created registry.NGO
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireAdminRole(ctx, tx, n.AdminID); err != nil {
			return err
		}
		var err error
		created, err = scanNGO(tx.QueryRowContext(ctx, `
			insert into ngos (name, description, contact_email, admin_id)
			values ($1, $2, $3, $4)
			returning `+ngoColumns,
			n.Name, n.Description, n.ContactEmail, n.AdminID))
		return err
	})
	if err != nil {
		return registry.NGO{}, registryError(err)
	}
	return created, nil
}

func (s *Store) SetNGOAdmin(ctx context.Context, ngoID, adminID int64) (registry.NGO, error) {
	var linked registry.NGO
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireAdminRole(ctx, tx, adminID); err != nil {
			return err
		}
		var err error
		linked, err = scanNGO(tx.QueryRowContext(ctx, `
			update ngos set admin_id = $2 where id = $1
			returning `+ngoColumns, ngoID, adminID))
		return err
	})
	if err != nil {
		return registry.NGO{}, registryError(err)
	}
	return linked, nil
}

func (s *Store) CountNGOsAdministeredBy(ctx context.Context, adminID int64) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from ngos where admin_id = $1`, adminID).Scan(&n)
	return n, err
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var ok bool
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&ok)
	return ok, err
}
