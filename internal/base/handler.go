package base

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/upload"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/verification"
)

// maxImageSize bounds relayed uploads at 10 MiB.
const maxImageSize = 10 << 20

// Handler exposes the session-facing endpoints: login, registration, the
// caller's own permission artifacts and profile self-service.
type Handler struct {
	users    *user.Service
	resolver *rbac.Resolver
	tokens   *auth.TokenService
	codes    *verification.CodeStore
	mail     mailer.Sender
	images   *upload.Client
	logger   *zap.SugaredLogger
}

func NewHandler(users *user.Service, resolver *rbac.Resolver, tokens *auth.TokenService, codes *verification.CodeStore, mail mailer.Sender, images *upload.Client, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		users: users, resolver: resolver, tokens: tokens,
		codes: codes, mail: mail, images: images, logger: logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	u, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "username", req.Username, "err", err)
		switch {
		case errors.Is(err, user.ErrDisabled):
			h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "account disabled"})
		case errors.Is(err, user.ErrBadCredentials):
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		default:
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		}
		return
	}
	token, err := h.tokens.Issue(u.ID, u.Username, u.IsSuperuser)
	if err != nil {
		h.logger.Warnw("token issue failed", "user_id", u.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{Token: token, Username: u.Username})
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Code     string `json:"code"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Username == "" || req.Password == "" || req.Email == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	u, err := h.users.Register(r.Context(), req.Username, req.Password, req.Email, req.Code)
	switch {
	case errors.Is(err, verification.ErrCodeMismatch):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "verification code mismatch"})
	case errors.Is(err, user.ErrUserExists):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		h.logger.Warnw("register failed", "username", req.Username, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "register failed"})
	default:
		h.writeJSON(w, http.StatusCreated, u)
	}
}

// UserInfo returns the caller's own account row.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

// UserMenu returns the caller's resolved menu tree.
func (h *Handler) UserMenu(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.resolver.MenuTree(r.Context(), u))
}

// UserAPI returns the caller's resolved api allow-list.
func (h *Handler) UserAPI(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.resolver.AllowList(r.Context(), u))
}

type EmailCodeRequest struct {
	Email string `json:"email"`
}

// SendEmailCode issues a verification code and mails it. A live code for
// the same address blocks re-issue until it expires.
func (h *Handler) SendEmailCode(w http.ResponseWriter, r *http.Request) {
	var req EmailCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	code, err := h.codes.Issue(r.Context(), req.Email)
	switch {
	case errors.Is(err, verification.ErrTooFrequent):
		h.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "a code was sent recently"})
		return
	case err != nil:
		h.logger.Warnw("code issue failed", "email", req.Email, "err", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "verification unavailable"})
		return
	}
	if err := h.mail.Send(r.Context(), req.Email, "Verification code",
		"Your verification code is "+code+". It expires in 10 minutes."); err != nil {
		h.logger.Warnw("code mail failed", "email", req.Email, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mail delivery failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type UpdatePasswordRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// UpdatePassword is the self-service reset, gated by an email code.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req UpdatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Email == "" || req.Password == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	err := h.users.UpdatePassword(r.Context(), req.Email, req.Code, req.Password)
	switch {
	case errors.Is(err, verification.ErrCodeMismatch):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "verification code mismatch"})
	case errors.Is(err, user.ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update password failed"})
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type ProfileRequest struct {
	Alias  *string `json:"alias"`
	Email  *string `json:"email"`
	Phone  *string `json:"phone"`
	Avatar *string `json:"avatar"`
	Bio    *string `json:"bio"`
}

// UpdateProfile edits the caller's own profile fields.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if err := h.users.UpdateProfile(r.Context(), u.ID, req.Alias, req.Email, req.Phone, req.Avatar, req.Bio); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update profile failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadImage relays a multipart image to the external image host and
// returns its public URL.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart payload"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file field is required"})
		return
	}
	defer file.Close()
	url, err := h.images.Upload(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Warnw("image upload failed", "filename", header.Filename, "err", err)
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "image upload failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
