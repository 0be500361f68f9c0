package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"volunteersync.org/internal/audit"
	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/registry"
)

type locationRequest struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Kind     string `json:"kind"`
	ParentID *int64 `json:"parentId"`
}

type volunteerUpdateRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	VillageID *int64  `json:"villageId"`
	Role      *string `json:"role"`
}

type ngoRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ContactEmail string `json:"contactEmail"`
	AdminID      int64  `json:"adminId"`
}

type linkAdminRequest struct {
	AdminID int64 `json:"adminId"`
}

func volunteerPath(id int64) string { return fmt.Sprintf("/api/volunteers/%d", id) }

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (req locationRequest) location() (registry.Location, error) {
	kind, err := registry.ParseKind(req.Kind)
	if err != nil {
		return registry.Location{}, err
	}
	return registry.Location{Name: req.Name, Code: req.Code, Kind: kind, ParentID: req.ParentID}, nil
}

func (a *API) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	loc, err := req.location()
	if err == nil {
		loc, err = a.registry.CreateLocation(r.Context(), loc)
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.LocationCreated, map[string]any{"location_id": loc.ID, "code": loc.Code, "kind": string(loc.Kind)})
	w.Header().Set("Location", fmt.Sprintf("/api/locations/%d", loc.ID))
	writeJSON(w, http.StatusCreated, loc)
}

func (a *API) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loc, err := a.registry.Location(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (a *API) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	loc, err := req.location()
	if err == nil {
		loc, err = a.registry.UpdateLocation(r.Context(), id, loc)
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.LocationUpdated, map[string]any{"location_id": loc.ID, "code": loc.Code, "kind": string(loc.Kind)})
	writeJSON(w, http.StatusOK, loc)
}

func (a *API) handleProvince(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	province, err := a.registry.ProvinceOf(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, province)
}

// selfOrManager loads volunteer id and checks the caller is that volunteer
// or may manage volunteers.
func (a *API) selfOrManager(w http.ResponseWriter, r *http.Request, id int64) (registry.Volunteer, bool) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	v, err := a.registry.Volunteer(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return registry.Volunteer{}, false
	}
	if principal.Can(auth.CapManageVolunteers) || auth.NormalizeEmail(principal.Email) == v.Email {
		return v, true
	}
	a.writeServiceError(w, r, auth.Authorize(principal.Role, auth.CapManageVolunteers))
	return registry.Volunteer{}, false
}

func (a *API) handleGetVolunteer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, ok := a.selfOrManager(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleUpdateVolunteer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req volunteerUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, ok := a.selfOrManager(w, r, id); !ok {
		return
	}
	upd := registry.VolunteerUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		VillageID: req.VillageID,
	}
	if req.Role != nil {
		principal, _ := auth.PrincipalFromContext(r.Context())
		if err := auth.Authorize(principal.Role, auth.CapManageVolunteers); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		upd.Role = &role
	}
	v, err := a.registry.UpdateVolunteer(r.Context(), id, upd)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.VolunteerUpdated, map[string]any{"volunteer_id": v.ID, "role": string(v.Role)})
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleCreateNGO(w http.ResponseWriter, r *http.Request) {
	var req ngoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := a.registry.CreateNGO(r.Context(), registry.NGO{
		Name:         req.Name,
		Description:  req.Description,
		ContactEmail: req.ContactEmail,
		AdminID:      req.AdminID,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.NGOCreated, map[string]any{"ngo_id": n.ID, "admin_id": n.AdminID})
	w.Header().Set("Location", fmt.Sprintf("/api/ngos/%d", n.ID))
	writeJSON(w, http.StatusCreated, n)
}

func (a *API) handleLinkAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req linkAdminRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := a.registry.LinkAdmin(r.Context(), id, req.AdminID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.NGOAdminLinked, map[string]any{"ngo_id": n.ID, "admin_id": n.AdminID})
	writeJSON(w, http.StatusOK, n)
}
