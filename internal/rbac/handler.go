package rbac

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
)

// Handler exposes the admin role, menu and api endpoints.
type Handler struct {
	svc    *Service
	routes func() []entity.RouteDef
	logger *zap.SugaredLogger
}

// NewHandler wires the service plus a route-table source for api refresh.
func NewHandler(svc *Service, routes func() []entity.RouteDef, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, routes: routes, logger: logger}
}

// --- roles ---

type RoleRequest struct {
	Name string  `json:"name"`
	Desc *string `json:"desc"`
}

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize := pagination(q.Get("page"), q.Get("page_size"))
	total, roles, err := h.svc.ListRoles(r.Context(), q.Get("role_name"), page, pageSize)
	if err != nil {
		h.logger.Warnw("list roles failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list roles failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data": roles, "total": total, "page": page, "page_size": pageSize,
	})
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	role, err := h.svc.CreateRole(r.Context(), req.Name, req.Desc)
	if errors.Is(err, ErrRoleExists) {
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "role name already exists"})
		return
	}
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create role failed"})
		return
	}
	h.writeJSON(w, http.StatusCreated, role)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	err := h.svc.UpdateRole(r.Context(), &entity.Role{ID: id, Name: req.Name, Desc: req.Desc})
	h.finish(w, err, "update role failed")
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.finish(w, h.svc.DeleteRole(r.Context(), id), "delete role failed")
}

// GrantsResponse mirrors GrantsRequest so the admin UI can round-trip it.
type GrantsResponse struct {
	MenuIDs   []int64           `json:"menu_ids"`
	APIRoutes []entity.APIRoute `json:"api_routes"`
}

func (h *Handler) RoleGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	menuIDs, routes, err := h.svc.RoleGrants(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "role not found"})
		return
	}
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "get grants failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, GrantsResponse{MenuIDs: menuIDs, APIRoutes: routes})
}

func (h *Handler) ReplaceRoleGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req GrantsResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	err := h.svc.ReplaceRoleGrants(r.Context(), id, req.MenuIDs, req.APIRoutes)
	h.finish(w, err, "replace grants failed")
}

// --- menus ---

func (h *Handler) MenuTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.MenuTree(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list menus failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, tree)
}

func (h *Handler) CreateMenu(w http.ResponseWriter, r *http.Request) {
	var m entity.Menu
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m.Name == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	id, err := h.svc.CreateMenu(r.Context(), &m)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create menu failed"})
		return
	}
	m.ID = id
	h.writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) UpdateMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var m entity.Menu
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	m.ID = id
	h.finish(w, h.svc.UpdateMenu(r.Context(), &m), "update menu failed")
}

func (h *Handler) DeleteMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	err := h.svc.DeleteMenu(r.Context(), id)
	if errors.Is(err, ErrMenuHasKids) {
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "menu has child menus"})
		return
	}
	h.finish(w, err, "delete menu failed")
}

// --- apis ---

func (h *Handler) ListAPIs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize := pagination(q.Get("page"), q.Get("page_size"))
	total, apis, err := h.svc.ListAPIs(r.Context(),
		q.Get("path"), q.Get("summary"), q.Get("method"), q.Get("tags"), page, pageSize)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list apis failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data": apis, "total": total, "page": page, "page_size": pageSize,
	})
}

func (h *Handler) CreateAPI(w http.ResponseWriter, r *http.Request) {
	var a entity.API
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil || a.Path == "" || a.Method == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	id, err := h.svc.CreateAPI(r.Context(), &a)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create api failed"})
		return
	}
	a.ID = id
	h.writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) UpdateAPI(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var a entity.API
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	a.ID = id
	h.finish(w, h.svc.UpdateAPI(r.Context(), &a), "update api failed")
}

func (h *Handler) DeleteAPI(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.finish(w, h.svc.DeleteAPI(r.Context(), id), "delete api failed")
}

// RefreshAPIs reconciles the api table against the live route table.
func (h *Handler) RefreshAPIs(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RefreshAPIs(r.Context(), h.routes()); err != nil {
		h.logger.Warnw("api refresh failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "api refresh failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func (h *Handler) finish(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case err != nil:
		h.logger.Warnw(msg, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pagination(rawPage, rawSize string) (int, int) {
	page, _ := strconv.Atoi(rawPage)
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(rawSize)
	if size < 1 || size > 100 {
		size = 10
	}
	return page, size
}
