package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user/entity"
)

// Handler exposes the admin user endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// UserRequest is the admin create/update payload.
type UserRequest struct {
	Username    string  `json:"username"`
	Alias       *string `json:"alias"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Password    string  `json:"password"`
	Avatar      *string `json:"avatar"`
	Bio         *string `json:"bio"`
	IsActive    bool    `json:"is_active"`
	IsSuperuser bool    `json:"is_superuser"`
	RoleIDs     []int64 `json:"role_ids"`
}

func (r UserRequest) input() Input {
	return Input{
		Username:    r.Username,
		Alias:       r.Alias,
		Email:       r.Email,
		Phone:       r.Phone,
		Password:    r.Password,
		Avatar:      r.Avatar,
		Bio:         r.Bio,
		IsActive:    r.IsActive,
		IsSuperuser: r.IsSuperuser,
		RoleIDs:     r.RoleIDs,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.ListFilter{
		Username:  q.Get("username"),
		Email:     q.Get("email"),
		Phone:     q.Get("phone"),
		StartTime: q.Get("start_time"),
		EndTime:   q.Get("end_time"),
	}
	if raw := q.Get("is_active"); raw != "" {
		active := raw == "true"
		f.IsActive = &active
	}
	page, pageSize := pagination(q.Get("page"), q.Get("page_size"))
	total, items, err := h.svc.ListUsers(r.Context(), f, page, pageSize)
	if err != nil {
		h.logger.Warnw("list users failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list users failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data": items, "total": total, "page": page, "page_size": pageSize,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.svc.GetUser(r.Context(), id)
	if errors.Is(err, ErrUserNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "get user failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}
	u, err := h.svc.CreateUser(r.Context(), req.input())
	if errors.Is(err, ErrUserExists) {
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Warnw("create user failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create user failed"})
		return
	}
	h.writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	err := h.svc.UpdateUser(r.Context(), id, req.input())
	switch {
	case errors.Is(err, ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	case err != nil:
		h.logger.Warnw("update user failed", "user_id", id, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update user failed"})
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	err := h.svc.DeleteUser(r.Context(), id)
	switch {
	case errors.Is(err, ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	case errors.Is(err, ErrSuperuserProtected):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot delete a superuser"})
	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete user failed"})
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReplaceRolesRequest binds a user to exactly this role set.
type ReplaceRolesRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

func (h *Handler) ReplaceRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ReplaceRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	err := h.svc.ReplaceRoles(r.Context(), id, req.RoleIDs)
	switch {
	case errors.Is(err, ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	case err != nil:
		h.logger.Warnw("replace roles failed", "user_id", id, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "replace roles failed"})
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ResetPasswordRequest is the admin password override payload.
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	err := h.svc.ResetPassword(r.Context(), id, req.Password)
	switch {
	case errors.Is(err, ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	case errors.Is(err, ErrSuperuserProtected):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot reset a superuser password"})
	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reset password failed"})
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
