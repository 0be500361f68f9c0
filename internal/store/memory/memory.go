// Package memory is an in-process implementation of the auth and registry
// stores, used by tests and by the API when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/registry"
)

var (
	_ auth.CredentialStore = (*Store)(nil)
	_ auth.CodeStore       = (*Store)(nil)
	_ auth.ResetStore      = (*Store)(nil)
	_ registry.Store       = (*Store)(nil)
)

// Store keeps every table behind one mutex, so each method is atomic.
type Store struct {
	mu sync.Mutex

	nextID int64
	now    func() time.Time

	locations  map[int64]registry.Location
	volunteers map[int64]registry.Volunteer
	ngos       map[int64]registry.NGO
	codes      map[int64]auth.SecondFactorCode
	resets     map[int64]auth.ResetToken
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:        func() time.Time { return time.Now().UTC() },
		locations:  map[int64]registry.Location{},
		volunteers: map[int64]registry.Volunteer{},
		ngos:       map[int64]registry.NGO{},
		codes:      map[int64]auth.SecondFactorCode{},
		resets:     map[int64]auth.ResetToken{},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Ping satisfies the readiness check.
func (s *Store) Ping(context.Context) error { return nil }

// Codes returns a snapshot of every stored second-factor code for identityID.
func (s *Store) Codes(identityID int64) []auth.SecondFactorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.SecondFactorCode
	for _, c := range s.codes {
		if c.IdentityID == identityID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResetTokens returns a snapshot of the reset tokens of identityID.
func (s *Store) ResetTokens(identityID int64) []auth.ResetToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.ResetToken
	for _, t := range s.resets {
		if t.IdentityID == identityID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// credentials

func (s *Store) FindByEmail(_ context.Context, email string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.volunteerByEmail(auth.NormalizeEmail(email)); ok {
		return v.Identity(), nil
	}
	return auth.Identity{}, auth.ErrNotFound
}

func (s *Store) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.volunteerByEmail(auth.NormalizeEmail(email))
	return ok, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, identityID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volunteers[identityID]
	if !ok {
		return auth.ErrNotFound
	}
	v.PasswordHash = hash
	v.UpdatedAt = s.now()
	s.volunteers[identityID] = v
	return nil
}

func (s *Store) volunteerByEmail(email string) (registry.Volunteer, bool) {
	for _, v := range s.volunteers {
		if v.Email == email {
			return v, true
		}
	}
	return registry.Volunteer{}, false
}

// second-factor codes

func (s *Store) ReplaceCode(_ context.Context, code auth.SecondFactorCode) (auth.SecondFactorCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volunteers[code.IdentityID]; !ok {
		return auth.SecondFactorCode{}, auth.ErrNotFound
	}
	for id, c := range s.codes {
		if c.IdentityID == code.IdentityID && !c.Verified {
			delete(s.codes, id)
		}
	}
	code.ID = s.id()
	code.Verified = false
	s.codes[code.ID] = code
	return code, nil
}

func (s *Store) ConsumeCode(_ context.Context, identityID int64, submitted string, now time.Time) (auth.CodeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.codes {
		if c.IdentityID != identityID || c.Verified {
			continue
		}
		outcome := c.Check(submitted, now)
		switch outcome {
		case auth.OutcomeExpired:
			delete(s.codes, id)
		case auth.OutcomeAccepted:
			c.Verified = true
			s.codes[id] = c
		}
		return outcome, nil
	}
	return auth.OutcomeAbsent, nil
}

func (s *Store) DeleteExpiredCodes(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.codes {
		if c.ExpiresAt.Before(now) {
			delete(s.codes, id)
			n++
		}
	}
	return n, nil
}

// reset tokens

func (s *Store) ReplaceResetToken(_ context.Context, tok auth.ResetToken) (auth.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volunteers[tok.IdentityID]; !ok {
		return auth.ResetToken{}, auth.ErrNotFound
	}
	for id, t := range s.resets {
		if t.IdentityID == tok.IdentityID {
			delete(s.resets, id)
		}
	}
	tok.ID = s.id()
	tok.Used = false
	s.resets[tok.ID] = tok
	return tok, nil
}

func (s *Store) RedeemResetToken(_ context.Context, token, passwordHash string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.resets {
		if t.Token != token {
			continue
		}
		if err := t.Redeemable(now); err != nil {
			return 0, err
		}
		v, ok := s.volunteers[t.IdentityID]
		if !ok {
			return 0, auth.ErrInvalidToken
		}
		v.PasswordHash = passwordHash
		v.UpdatedAt = s.now()
		s.volunteers[v.ID] = v
		t.Used = true
		s.resets[id] = t
		return t.IdentityID, nil
	}
	return 0, auth.ErrInvalidToken
}

func (s *Store) DeleteExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.resets {
		if t.ExpiresAt.Before(now) {
			delete(s.resets, id)
			n++
		}
	}
	return n, nil
}

// locations

func (s *Store) LocationByID(_ context.Context, id int64) (registry.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[id]
	if !ok {
		return registry.Location{}, registry.ErrNotFound
	}
	return loc, nil
}

func (s *Store) LocationCodeTaken(_ context.Context, code string, exceptID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locationCodeTaken(code, exceptID), nil
}

func (s *Store) locationCodeTaken(code string, exceptID int64) bool {
	for id, l := range s.locations {
		if id != exceptID && l.Code == code {
			return true
		}
	}
	return false
}

func (s *Store) CreateLocation(_ context.Context, loc registry.Location) (registry.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locationCodeTaken(loc.Code, 0) {
		return registry.Location{}, registry.ErrConflict
	}
	if loc.ParentID != nil {
		if _, ok := s.locations[*loc.ParentID]; !ok {
			return registry.Location{}, registry.ErrNotFound
		}
	}
	loc.ID = s.id()
	loc.CreatedAt = s.now()
	s.locations[loc.ID] = loc
	return loc, nil
}

func (s *Store) UpdateLocation(_ context.Context, loc registry.Location) (registry.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.locations[loc.ID]
	if !ok {
		return registry.Location{}, registry.ErrNotFound
	}
	if s.locationCodeTaken(loc.Code, loc.ID) {
		return registry.Location{}, registry.ErrConflict
	}
	loc.CreatedAt = current.CreatedAt
	s.locations[loc.ID] = loc
	return loc, nil
}

func (s *Store) LocationHasChildren(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.locations {
		if l.ParentID != nil && *l.ParentID == id {
			return true, nil
		}
	}
	for _, v := range s.volunteers {
		if v.VillageID == id {
			return true, nil
		}
	}
	return false, nil
}

// volunteers

func (s *Store) VolunteerByID(_ context.Context, id int64) (registry.Volunteer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volunteers[id]
	if !ok {
		return registry.Volunteer{}, registry.ErrNotFound
	}
	return v, nil
}

func (s *Store) VolunteerEmailTaken(_ context.Context, email string, exceptID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.volunteerByEmail(auth.NormalizeEmail(email))
	return ok && v.ID != exceptID, nil
}

func (s *Store) CreateVolunteer(_ context.Context, v registry.Volunteer) (registry.Volunteer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volunteerByEmail(v.Email); ok {
		return registry.Volunteer{}, registry.ErrConflict
	}
	if _, ok := s.locations[v.VillageID]; !ok {
		return registry.Volunteer{}, registry.ErrNotFound
	}
	v.ID = s.id()
	v.CreatedAt = s.now()
	v.UpdatedAt = v.CreatedAt
	s.volunteers[v.ID] = v
	return v, nil
}

func (s *Store) UpdateVolunteer(_ context.Context, v registry.Volunteer) (registry.Volunteer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.volunteers[v.ID]
	if !ok {
		return registry.Volunteer{}, registry.ErrNotFound
	}
	if other, ok := s.volunteerByEmail(v.Email); ok && other.ID != v.ID {
		return registry.Volunteer{}, registry.ErrConflict
	}
	if current.Role == auth.RoleNGOAdmin && v.Role != auth.RoleNGOAdmin && s.administers(v.ID) {
		return registry.Volunteer{}, registry.ErrAdminInUse
	}
	v.PasswordHash = current.PasswordHash
	v.CreatedAt = current.CreatedAt
	v.UpdatedAt = s.now()
	s.volunteers[v.ID] = v
	return v, nil
}

// Seed inserts a volunteer as-is, bypassing registration rules.
func (s *Store) Seed(v registry.Volunteer) registry.Volunteer {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Email = auth.NormalizeEmail(v.Email)
	v.ID = s.id()
	v.CreatedAt = s.now()
	v.UpdatedAt = v.CreatedAt
	s.volunteers[v.ID] = v
	return v
}

// NGOs

func (s *Store) NGOByID(_ context.Context, id int64) (registry.NGO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.ngos[id]
	if !ok {
		return registry.NGO{}, registry.ErrNotFound
	}
	return n, nil
}

func (s *Store) NGOContactEmailTaken(_ context.Context, email string, exceptID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ngoEmailTaken(auth.NormalizeEmail(email), exceptID), nil
}

func (s *Store) ngoEmailTaken(email string, exceptID int64) bool {
	for id, n := range s.ngos {
		if id != exceptID && n.ContactEmail == email {
			return true
		}
	}
	return false
}

func (s *Store) CreateNGO(_ context.Context, n registry.NGO) (registry.NGO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ngoEmailTaken(n.ContactEmail, 0) {
		return registry.NGO{}, registry.ErrConflict
	}
	if err := s.checkAdmin(n.AdminID); err != nil {
		return registry.NGO{}, err
	}
	n.ID = s.id()
	n.CreatedAt = s.now()
	s.ngos[n.ID] = n
	return n, nil
}

func (s *Store) SetNGOAdmin(_ context.Context, ngoID, adminID int64) (registry.NGO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.ngos[ngoID]
	if !ok {
		return registry.NGO{}, registry.ErrNotFound
	}
	if err := s.checkAdmin(adminID); err != nil {
		return registry.NGO{}, err
	}
	n.AdminID = adminID
	s.ngos[ngoID] = n
	return n, nil
}

func (s *Store) checkAdmin(id int64) error {
	admin, ok := s.volunteers[id]
	if !ok {
		return registry.ErrNotFound
	}
	if admin.Role != auth.RoleNGOAdmin {
		return registry.ErrNotAdmin
	}
	return nil
}

func (s *Store) administers(id int64) bool {
	for _, n := range s.ngos {
		if n.AdminID == id {
			return true
		}
	}
	return false
}

func (s *Store) CountNGOsAdministeredBy(_ context.Context, adminID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.ngos {
		if n.AdminID == adminID {
			count++
		}
	}
	return count, nil
}
