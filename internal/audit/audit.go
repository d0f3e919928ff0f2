package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/auth"
)

// Entry is one audit_log row: who hit what, with which outcome, how fast.
type Entry struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Username  string    `db:"username" json:"username"`
	Method    string    `db:"method" json:"method"`
	Path      string    `db:"path" json:"path"`
	Status    int       `db:"status" json:"status"`
	LatencyMS int64     `db:"latency_ms" json:"latency_ms"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Repo struct {
	db *sqlx.DB
}

func NewRepo(db *sqlx.DB) *Repo { return &Repo{db: db} }

func (r *Repo) EnsureTable(ctx context.Context) error {
	ddl := `
	create table if not exists audit_log (
		id bigserial primary key,
		user_id bigint not null default 0,
		username varchar(50) not null default '',
		method varchar(10) not null,
		path varchar(200) not null,
		status int not null,
		latency_ms bigint not null,
		created_at timestamptz not null default now()
	);
	create index if not exists idx_audit_log_user on audit_log (user_id);
	create index if not exists idx_audit_log_created on audit_log (created_at);
	`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *Repo) Insert(ctx context.Context, e *Entry) error {
	const q = `insert into audit_log (user_id, username, method, path, status, latency_ms)
		values ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, q, e.UserID, e.Username, e.Method, e.Path, e.Status, e.LatencyMS)
	return err
}

// List pages the audit trail, newest first.
func (r *Repo) List(ctx context.Context, page, pageSize int) (int64, []Entry, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `select count(*) from audit_log`); err != nil {
		return 0, nil, err
	}
	entries := []Entry{}
	const q = `select * from audit_log order by created_at desc limit $1 offset $2`
	if err := r.db.SelectContext(ctx, &entries, q, pageSize, (page-1)*pageSize); err != nil {
		return 0, nil, err
	}
	return total, entries, nil
}

// Handler exposes the audit trail to the admin UI.
type Handler struct {
	repo   *Repo
	logger *zap.SugaredLogger
}

func NewHandler(repo *Repo, logger *zap.SugaredLogger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	total, entries, err := h.repo.List(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Warnw("list audit log failed", "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "list audit log failed"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": entries, "total": total, "page": page, "page_size": pageSize,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Middleware records every request as an audit row. The insert runs after
// the response on a detached context so a slow or failing write never
// touches request latency.
func Middleware(repo *Repo, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			e := &Entry{
				Method:    r.Method,
				Path:      r.URL.Path,
				Status:    rec.status,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if u, ok := auth.CurrentUser(r.Context()); ok {
				e.UserID = u.ID
				e.Username = u.Username
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := repo.Insert(ctx, e); err != nil {
					logger.Warnw("audit insert failed", "path", e.Path, "err", err)
				}
			}()
		})
	}
}
