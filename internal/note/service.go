package note

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/note/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/pkg/utilities"
)

// Cache TTLs. Note detail entries outlive list entries because a detail is
// rebuilt from two stores and invalidated precisely; lists tolerate more
// staleness and expire faster.
const (
	DetailTTL = 600 * time.Second
	ListTTL   = 300 * time.Second

	DefaultPageSize = 10
)

var (
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
	ErrNoteNotFound          = errors.New("note not found")
	ErrNotOwner              = errors.New("not the owner")
)

// Repository is the relational half of note storage.
type Repository interface {
	CreateKnowledgeBase(ctx context.Context, kb *entity.KnowledgeBase) (int64, error)
	GetKnowledgeBase(ctx context.Context, id int64) (*entity.KnowledgeBase, error)
	UpdateKnowledgeBase(ctx context.Context, kb *entity.KnowledgeBase) error
	DeleteKnowledgeBase(ctx context.Context, id int64) error
	ListKnowledgeBasesByUser(ctx context.Context, userID int64) ([]entity.KnowledgeBase, error)
	NoteRefsByKB(ctx context.Context, kbID int64) ([]entity.Ref, error)
	DeleteNotesByKB(ctx context.Context, kbID int64) error

	CreateNote(ctx context.Context, n *entity.Note) (int64, error)
	GetNote(ctx context.Context, id int64) (*entity.Note, error)
	GetNoteWithAuthor(ctx context.Context, id int64) (*entity.ListItem, error)
	UpdateNote(ctx context.Context, n *entity.Note) error
	DeleteNote(ctx context.Context, id int64) error
	IncrementViewCount(ctx context.Context, id int64) (int64, error)
	ListByKnowledgeBase(ctx context.Context, kbID int64, f entity.KBFilter, page, pageSize int) (int64, []entity.ListItem, error)
	ListGlobal(ctx context.Context, f entity.GlobalFilter, page, pageSize int) (int64, []entity.ListItem, error)
	ListByAuthor(ctx context.Context, userID int64) ([]entity.ListItem, error)
}

// Service coordinates the three stores a note spans: the relational rows,
// the document-store body and the cache. Reads go read-through; writes
// update the stores of record, purge every possibly-stale key, then write
// the fresh detail back through.
type Service struct {
	repo    Repository
	content ContentStore
	cache   *cache.KeyStore
	inv     *cache.Invalidator
	logger  *zap.SugaredLogger
}

func NewService(repo Repository, content ContentStore, ks *cache.KeyStore, inv *cache.Invalidator, logger *zap.SugaredLogger) *Service {
	return &Service{repo: repo, content: content, cache: ks, inv: inv, logger: logger}
}

// --- knowledge bases ---

func (s *Service) ListKnowledgeBases(ctx context.Context, ownerID int64) ([]entity.KnowledgeBase, error) {
	key := cache.KnowledgeBasesKey(ownerID)
	var kbs []entity.KnowledgeBase
	if s.cache.Get(ctx, key, &kbs) {
		return kbs, nil
	}
	kbs, err := s.repo.ListKnowledgeBasesByUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, kbs, ListTTL)
	return kbs, nil
}

func (s *Service) CreateKnowledgeBase(ctx context.Context, ownerID int64, name string, kbType int) (*entity.KnowledgeBase, error) {
	kb := &entity.KnowledgeBase{UserID: ownerID, Name: name, Type: kbType}
	if _, err := s.repo.CreateKnowledgeBase(ctx, kb); err != nil {
		return nil, err
	}
	s.inv.KnowledgeBaseList(ctx, ownerID)
	return kb, nil
}

func (s *Service) UpdateKnowledgeBase(ctx context.Context, ownerID, kbID int64, name string, kbType int) error {
	kb, err := s.ownedKB(ctx, ownerID, kbID)
	if err != nil {
		return err
	}
	kb.Name = name
	kb.Type = kbType
	if err := s.repo.UpdateKnowledgeBase(ctx, kb); err != nil {
		return err
	}
	s.inv.KnowledgeBaseScope(ctx, ownerID, kbID)
	return nil
}

// DeleteKnowledgeBase cascades: note bodies leave the document store, note
// rows and the base row leave postgres, and every cache entry that could
// reference them is purged. Bodies go first: a crash mid-way leaves orphan
// rows that a retry can still delete, rather than orphan documents nothing
// references.
func (s *Service) DeleteKnowledgeBase(ctx context.Context, ownerID, kbID int64) error {
	if _, err := s.ownedKB(ctx, ownerID, kbID); err != nil {
		return err
	}
	refs, err := s.repo.NoteRefsByKB(ctx, kbID)
	if err != nil {
		return err
	}
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.ContentKey
	}
	if err := s.content.DeleteMany(ctx, keys); err != nil {
		return err
	}
	if err := s.repo.DeleteNotesByKB(ctx, kbID); err != nil {
		return err
	}
	if err := s.repo.DeleteKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	for _, ref := range refs {
		s.inv.NoteBody(ctx, ref.ID)
	}
	s.inv.KnowledgeBaseScope(ctx, ownerID, kbID)
	return nil
}

// KnowledgeBaseNotes lists one page of a knowledge base's notes. Only the
// unfiltered default-sized listing is cached: the key template carries just
// (kb id, page), so any filtered or resized variant bypasses the cache
// entirely rather than collide with the canonical entry.
func (s *Service) KnowledgeBaseNotes(ctx context.Context, kbID int64, f entity.KBFilter, page, pageSize int) (*entity.Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	cacheable := f.Empty() && pageSize == DefaultPageSize
	key := cache.KnowledgeBaseNotesKey(kbID, page)
	if cacheable {
		var cached entity.Page
		if s.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}
	total, items, err := s.repo.ListByKnowledgeBase(ctx, kbID, f, page, pageSize)
	if err != nil {
		return nil, err
	}
	result := &entity.Page{Data: items, Total: total, Page: page, PageSize: pageSize}
	if cacheable {
		s.cache.Set(ctx, key, result, ListTTL)
	}
	return result, nil
}

// --- notes ---

// NoteDetail is the hot read path. A cache hit skips both stores and the
// view counter; a miss bumps the counter, joins the author, fetches the
// body and caches the assembled detail for DetailTTL.
func (s *Service) NoteDetail(ctx context.Context, noteID int64) (*entity.Detail, error) {
	key := cache.NoteDetailKey(noteID)
	var cached entity.Detail
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	item, err := s.repo.GetNoteWithAuthor(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	count, err := s.repo.IncrementViewCount(ctx, noteID)
	if err != nil {
		return nil, err
	}
	item.ViewCount = count
	detail, err := s.assembleDetail(ctx, item)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, detail, DetailTTL)
	return detail, nil
}

type NoteInput struct {
	KnowledgeBaseID int64
	Title           string
	Cover           *string
	Introduction    *string
	Type            int
	Price           float64
	Status          int
	Content         string
}

// CreateNote writes the body to the document store under a fresh content
// key, inserts the row, purges the listings the new note appears in and
// writes the complete detail through so the first read is already warm.
func (s *Service) CreateNote(ctx context.Context, authorID int64, in NoteInput) (*entity.Note, error) {
	if _, err := s.ownedKB(ctx, authorID, in.KnowledgeBaseID); err != nil {
		return nil, err
	}
	n := &entity.Note{
		UserID:          authorID,
		KnowledgeBaseID: in.KnowledgeBaseID,
		Title:           in.Title,
		Cover:           in.Cover,
		Introduction:    in.Introduction,
		ContentKey:      utilities.NewContentKey(),
		Type:            in.Type,
		Price:           in.Price,
		Status:          in.Status,
	}
	if err := s.content.Put(ctx, n.ContentKey, in.Content); err != nil {
		return nil, err
	}
	if _, err := s.repo.CreateNote(ctx, n); err != nil {
		if derr := s.content.Delete(ctx, n.ContentKey); derr != nil {
			s.logger.Warnw("orphan note body left behind", "content_key", n.ContentKey, "err", derr)
		}
		return nil, err
	}
	s.inv.Note(ctx, n.ID, authorID, in.KnowledgeBaseID)
	s.writeThroughDetail(ctx, n.ID)
	return n, nil
}

// UpdateNote changes structured fields only; the body has its own path.
func (s *Service) UpdateNote(ctx context.Context, userID, noteID int64, in NoteInput) error {
	n, err := s.ownedNote(ctx, userID, noteID)
	if err != nil {
		return err
	}
	n.Title = in.Title
	n.Cover = in.Cover
	n.Introduction = in.Introduction
	n.Type = in.Type
	n.Price = in.Price
	n.Status = in.Status
	if err := s.repo.UpdateNote(ctx, n); err != nil {
		return err
	}
	s.inv.Note(ctx, noteID, n.UserID, n.KnowledgeBaseID)
	s.writeThroughDetail(ctx, noteID)
	return nil
}

// UpdateNoteContent replaces the body in the document store. Listings never
// embed bodies so only the detail entry is purged and rewritten.
func (s *Service) UpdateNoteContent(ctx context.Context, userID, noteID int64, content string) error {
	n, err := s.ownedNote(ctx, userID, noteID)
	if err != nil {
		return err
	}
	if err := s.content.Update(ctx, n.ContentKey, content); err != nil {
		return err
	}
	s.inv.NoteBody(ctx, noteID)
	s.writeThroughDetail(ctx, noteID)
	return nil
}

func (s *Service) DeleteNote(ctx context.Context, userID, noteID int64) error {
	n, err := s.ownedNote(ctx, userID, noteID)
	if err != nil {
		return err
	}
	if err := s.content.Delete(ctx, n.ContentKey); err != nil {
		return err
	}
	if err := s.repo.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	s.inv.Note(ctx, noteID, n.UserID, n.KnowledgeBaseID)
	return nil
}

// ListNotes is the global listing. Every (page, size, filter) tuple maps to
// its own cache key, so filtered queries are cached too.
func (s *Service) ListNotes(ctx context.Context, f entity.GlobalFilter, page, pageSize int) (*entity.Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	key := cache.NoteListKey(page, pageSize, f.Type, f.Status, f.MinPrice, f.MaxPrice)
	var cached entity.Page
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	total, items, err := s.repo.ListGlobal(ctx, f, page, pageSize)
	if err != nil {
		return nil, err
	}
	result := &entity.Page{Data: items, Total: total, Page: page, PageSize: pageSize}
	s.cache.Set(ctx, key, result, ListTTL)
	return result, nil
}

// UserNotes lists everything a user authored, cached as one entry.
func (s *Service) UserNotes(ctx context.Context, userID int64) ([]entity.ListItem, error) {
	key := cache.UserNotesKey(userID)
	var items []entity.ListItem
	if s.cache.Get(ctx, key, &items) {
		return items, nil
	}
	items, err := s.repo.ListByAuthor(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, items, ListTTL)
	return items, nil
}

// --- helpers ---

func (s *Service) ownedKB(ctx context.Context, ownerID, kbID int64) (*entity.KnowledgeBase, error) {
	kb, err := s.repo.GetKnowledgeBase(ctx, kbID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKnowledgeBaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if kb.UserID != ownerID {
		return nil, ErrNotOwner
	}
	return kb, nil
}

func (s *Service) ownedNote(ctx context.Context, userID, noteID int64) (*entity.Note, error) {
	n, err := s.repo.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, ErrNotOwner
	}
	return n, nil
}

func (s *Service) assembleDetail(ctx context.Context, item *entity.ListItem) (*entity.Detail, error) {
	body, err := s.content.Get(ctx, item.ContentKey)
	if errors.Is(err, ErrContentNotFound) {
		s.logger.Warnw("note body missing", "note_id", item.ID, "content_key", item.ContentKey)
		body = ""
	} else if err != nil {
		return nil, err
	}
	return &entity.Detail{
		Note:         item.Note,
		AuthorName:   item.AuthorName,
		AuthorAvatar: item.AuthorAvatar,
		Content:      body,
	}, nil
}

// writeThroughDetail recomputes the full detail after a mutation and caches
// it without bumping the view counter. Failure here is only a lost warm-up;
// the purge already happened so nothing stale survives.
func (s *Service) writeThroughDetail(ctx context.Context, noteID int64) {
	item, err := s.repo.GetNoteWithAuthor(ctx, noteID)
	if err != nil {
		s.logger.Warnw("detail write-through skipped", "note_id", noteID, "err", err)
		return
	}
	detail, err := s.assembleDetail(ctx, item)
	if err != nil {
		s.logger.Warnw("detail write-through skipped", "note_id", noteID, "err", err)
		return
	}
	s.cache.Set(ctx, cache.NoteDetailKey(noteID), detail, DetailTTL)
}
