package note

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/note/entity"
)

// Handler exposes the knowledge-base and note endpoints. Every route runs
// behind authentication; ownership is enforced in the service.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// --- knowledge bases ---

type KnowledgeBaseRequest struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

func (h *Handler) ListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	kbs, err := h.svc.ListKnowledgeBases(r.Context(), u.ID)
	if err != nil {
		h.logger.Warnw("list knowledge bases failed", "user_id", u.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list knowledge bases failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, kbs)
}

func (h *Handler) CreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	var req KnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	kb, err := h.svc.CreateKnowledgeBase(r.Context(), u.ID, req.Name, req.Type)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create knowledge base failed"})
		return
	}
	h.writeJSON(w, http.StatusCreated, kb)
}

func (h *Handler) UpdateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req KnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	h.finish(w, h.svc.UpdateKnowledgeBase(r.Context(), u.ID, id, req.Name, req.Type), "update knowledge base failed")
}

func (h *Handler) DeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.finish(w, h.svc.DeleteKnowledgeBase(r.Context(), u.ID, id), "delete knowledge base failed")
}

func (h *Handler) KnowledgeBaseNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := entity.KBFilter{Keyword: q.Get("keyword")}
	if raw := q.Get("status"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			f.Status = &v
		}
	}
	if raw := q.Get("type"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			f.Type = &v
		}
	}
	page, pageSize := pagination(q.Get("page"), q.Get("page_size"))
	result, err := h.svc.KnowledgeBaseNotes(r.Context(), id, f, page, pageSize)
	if err != nil {
		h.logger.Warnw("list knowledge base notes failed", "kb_id", id, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list notes failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// --- notes ---

type NoteRequest struct {
	KnowledgeBaseID int64   `json:"knowledge_bases_id"`
	Title           string  `json:"title"`
	Cover           *string `json:"cover"`
	Introduction    *string `json:"introduction"`
	Type            int     `json:"type"`
	Price           float64 `json:"price"`
	Status          int     `json:"status"`
	Content         string  `json:"content"`
}

func (r NoteRequest) input() NoteInput {
	return NoteInput{
		KnowledgeBaseID: r.KnowledgeBaseID,
		Title:           r.Title,
		Cover:           r.Cover,
		Introduction:    r.Introduction,
		Type:            r.Type,
		Price:           r.Price,
		Status:          r.Status,
		Content:         r.Content,
	}
}

func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f entity.GlobalFilter
	if raw := q.Get("type"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			f.Type = &v
		}
	}
	if raw := q.Get("status"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			f.Status = &v
		}
	}
	if raw := q.Get("min_price"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			f.MinPrice = &v
		}
	}
	if raw := q.Get("max_price"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			f.MaxPrice = &v
		}
	}
	page, pageSize := pagination(q.Get("page"), q.Get("page_size"))
	result, err := h.svc.ListNotes(r.Context(), f, page, pageSize)
	if err != nil {
		h.logger.Warnw("list notes failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list notes failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) NoteDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.NoteDetail(r.Context(), id)
	if errors.Is(err, ErrNoteNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "note not found"})
		return
	}
	if err != nil {
		h.logger.Warnw("note detail failed", "note_id", id, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "note detail failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" || req.KnowledgeBaseID == 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	n, err := h.svc.CreateNote(r.Context(), u.ID, req.input())
	if err != nil {
		h.finish(w, err, "create note failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	h.finish(w, h.svc.UpdateNote(r.Context(), u.ID, id, req.input()), "update note failed")
}

// ContentRequest carries a body-only update.
type ContentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) UpdateNoteContent(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	h.finish(w, h.svc.UpdateNoteContent(r.Context(), u.ID, id, req.Content), "update note content failed")
}

func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.finish(w, h.svc.DeleteNote(r.Context(), u.ID, id), "delete note failed")
}

// MyNotes lists everything the caller authored.
func (h *Handler) MyNotes(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	items, err := h.svc.UserNotes(r.Context(), u.ID)
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list notes failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

// --- helpers ---

func (h *Handler) finish(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, ErrKnowledgeBaseNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "knowledge base not found"})
	case errors.Is(err, ErrNoteNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "note not found"})
	case errors.Is(err, ErrNotOwner):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "not the owner"})
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
		size = DefaultPageSize
	}
	return page, size
}
