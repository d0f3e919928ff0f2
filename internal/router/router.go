package router

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/audit"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/base"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/note"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-admin-go/pkg/utilities"
)

// route ties a route definition to its protection level. The table is the
// single source of truth: the mux registers from it and the api table is
// reconciled against it, so a route cannot exist without a grantable api
// row or vice versa.
type route struct {
	entity.RouteDef
	auth bool // requires a valid session
	perm bool // additionally requires the route on the caller's allow-list
}

func def(method, path, summary, tags string) entity.RouteDef {
	return entity.RouteDef{Method: method, Path: path, Summary: summary, Tags: tags}
}

var routeTable = []route{
	// session / self-service
	{def("POST", "/base/access_token", "Login", "base"), false, false},
	{def("POST", "/base/register", "Register account", "base"), false, false},
	{def("POST", "/base/email_code", "Send email verification code", "base"), false, false},
	{def("POST", "/base/update_password", "Reset password with email code", "base"), false, false},
	{def("GET", "/base/userinfo", "Current user info", "basic"), true, false},
	{def("GET", "/base/usermenu", "Current user menu tree", "basic"), true, false},
	{def("GET", "/base/userapi", "Current user api allow-list", "basic"), true, false},
	{def("POST", "/base/profile", "Update own profile", "basic"), true, false},
	{def("POST", "/base/upload_image", "Upload image to the image host", "basic"), true, false},

	// knowledge bases and notes; ownership enforced by the service
	{def("GET", "/knowledge-bases", "List own knowledge bases", "basic"), true, false},
	{def("POST", "/knowledge-bases", "Create knowledge base", "basic"), true, false},
	{def("PUT", "/knowledge-bases/{id}", "Update knowledge base", "basic"), true, false},
	{def("DELETE", "/knowledge-bases/{id}", "Delete knowledge base", "basic"), true, false},
	{def("GET", "/knowledge-bases/{id}/notes", "List knowledge base notes", "basic"), true, false},
	{def("GET", "/notes", "List notes", "basic"), true, false},
	{def("GET", "/notes/mine", "List own notes", "basic"), true, false},
	{def("GET", "/notes/{id}", "Note detail", "basic"), true, false},
	{def("POST", "/notes", "Create note", "basic"), true, false},
	{def("PUT", "/notes/{id}", "Update note", "basic"), true, false},
	{def("PUT", "/notes/{id}/content", "Update note content", "basic"), true, false},
	{def("DELETE", "/notes/{id}", "Delete note", "basic"), true, false},

	// admin surface, gated on the per-user allow-list
	{def("GET", "/admin/users", "List users", "user"), true, true},
	{def("POST", "/admin/users", "Create user", "user"), true, true},
	{def("GET", "/admin/users/{id}", "Get user", "user"), true, true},
	{def("PUT", "/admin/users/{id}", "Update user", "user"), true, true},
	{def("DELETE", "/admin/users/{id}", "Delete user", "user"), true, true},
	{def("POST", "/admin/users/{id}/roles", "Replace user roles", "user"), true, true},
	{def("POST", "/admin/users/{id}/reset_password", "Reset user password", "user"), true, true},

	{def("GET", "/admin/roles", "List roles", "role"), true, true},
	{def("POST", "/admin/roles", "Create role", "role"), true, true},
	{def("PUT", "/admin/roles/{id}", "Update role", "role"), true, true},
	{def("DELETE", "/admin/roles/{id}", "Delete role", "role"), true, true},
	{def("GET", "/admin/roles/{id}/grants", "Get role grants", "role"), true, true},
	{def("PUT", "/admin/roles/{id}/grants", "Replace role grants", "role"), true, true},

	{def("GET", "/admin/menus", "Menu tree", "menu"), true, true},
	{def("POST", "/admin/menus", "Create menu", "menu"), true, true},
	{def("PUT", "/admin/menus/{id}", "Update menu", "menu"), true, true},
	{def("DELETE", "/admin/menus/{id}", "Delete menu", "menu"), true, true},

	{def("GET", "/admin/apis", "List apis", "api"), true, true},
	{def("POST", "/admin/apis", "Create api", "api"), true, true},
	{def("PUT", "/admin/apis/{id}", "Update api", "api"), true, true},
	{def("DELETE", "/admin/apis/{id}", "Delete api", "api"), true, true},
	{def("POST", "/admin/apis/refresh", "Refresh api table from routes", "api"), true, true},

	{def("GET", "/admin/audit-logs", "List audit log", "audit"), true, true},
}

// Defs returns the route definitions, the input for api-table refresh and
// bootstrap seeding. Static data, safe to call before wiring.
func Defs() []entity.RouteDef {
	defs := make([]entity.RouteDef, len(routeTable))
	for i, s := range routeTable {
		defs[i] = s.RouteDef
	}
	return defs
}

// Deps carries everything route registration needs.
type Deps struct {
	Logger  *zap.SugaredLogger
	Auth    *auth.Middleware
	Limiter *ratelimit.Limiter
	Audit   func(http.Handler) http.Handler

	Base  *base.Handler
	Users *user.Handler
	RBAC  *rbac.Handler
	Notes *note.Handler
	Trail *audit.Handler
}

// RegisterRoutes mounts the route table on a ServeMux and wraps it in the
// global middleware chain. Per-route protection nests as
// Authenticate(Audit(RequirePermission(handler))) so the audit row carries
// the authenticated user and denied requests are recorded too.
func RegisterRoutes(d Deps) http.Handler {
	handlers := map[string]http.HandlerFunc{
		"POST /base/access_token":    d.Base.Login,
		"POST /base/register":        d.Base.Register,
		"POST /base/email_code":      d.Base.SendEmailCode,
		"POST /base/update_password": d.Base.UpdatePassword,
		"GET /base/userinfo":         d.Base.UserInfo,
		"GET /base/usermenu":         d.Base.UserMenu,
		"GET /base/userapi":          d.Base.UserAPI,
		"POST /base/profile":         d.Base.UpdateProfile,
		"POST /base/upload_image":    d.Base.UploadImage,

		"GET /knowledge-bases":             d.Notes.ListKnowledgeBases,
		"POST /knowledge-bases":            d.Notes.CreateKnowledgeBase,
		"PUT /knowledge-bases/{id}":        d.Notes.UpdateKnowledgeBase,
		"DELETE /knowledge-bases/{id}":     d.Notes.DeleteKnowledgeBase,
		"GET /knowledge-bases/{id}/notes":  d.Notes.KnowledgeBaseNotes,
		"GET /notes":                       d.Notes.ListNotes,
		"GET /notes/mine":                  d.Notes.MyNotes,
		"GET /notes/{id}":                  d.Notes.NoteDetail,
		"POST /notes":                      d.Notes.CreateNote,
		"PUT /notes/{id}":                  d.Notes.UpdateNote,
		"PUT /notes/{id}/content":          d.Notes.UpdateNoteContent,
		"DELETE /notes/{id}":               d.Notes.DeleteNote,

		"GET /admin/users":                      d.Users.List,
		"POST /admin/users":                     d.Users.Create,
		"GET /admin/users/{id}":                 d.Users.Get,
		"PUT /admin/users/{id}":                 d.Users.Update,
		"DELETE /admin/users/{id}":              d.Users.Delete,
		"POST /admin/users/{id}/roles":          d.Users.ReplaceRoles,
		"POST /admin/users/{id}/reset_password": d.Users.ResetPassword,

		"GET /admin/roles":               d.RBAC.ListRoles,
		"POST /admin/roles":              d.RBAC.CreateRole,
		"PUT /admin/roles/{id}":          d.RBAC.UpdateRole,
		"DELETE /admin/roles/{id}":       d.RBAC.DeleteRole,
		"GET /admin/roles/{id}/grants":   d.RBAC.RoleGrants,
		"PUT /admin/roles/{id}/grants":   d.RBAC.ReplaceRoleGrants,

		"GET /admin/menus":         d.RBAC.MenuTree,
		"POST /admin/menus":        d.RBAC.CreateMenu,
		"PUT /admin/menus/{id}":    d.RBAC.UpdateMenu,
		"DELETE /admin/menus/{id}": d.RBAC.DeleteMenu,

		"GET /admin/apis":          d.RBAC.ListAPIs,
		"POST /admin/apis":         d.RBAC.CreateAPI,
		"PUT /admin/apis/{id}":     d.RBAC.UpdateAPI,
		"DELETE /admin/apis/{id}":  d.RBAC.DeleteAPI,
		"POST /admin/apis/refresh": d.RBAC.RefreshAPIs,

		"GET /admin/audit-logs": d.Trail.List,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	for _, s := range routeTable {
		pattern := s.Method + " " + s.Path
		fn, ok := handlers[pattern]
		if !ok {
			d.Logger.Warnw("route defined without handler", "pattern", pattern)
			continue
		}
		var h http.Handler = fn
		if s.perm {
			h = d.Auth.RequirePermission(s.Path, h)
		}
		if s.auth {
			h = d.Auth.Authenticate(d.Audit(h))
		} else {
			h = d.Audit(h)
		}
		mux.Handle(pattern, h)
	}

	return LoggingMiddleware(d.Logger)(SecurityHeadersMiddleware()(d.Limiter.Middleware()(mux)))
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware tags every request with a snowflake id and logs it at
// debug level. The id is echoed in X-Request-Id so clients can quote it.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := utilities.NewRequestID()
			w.Header().Set("X-Request-Id", reqID)
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets conservative security headers on every
// response.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
