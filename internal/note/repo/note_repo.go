package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/note/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/query"
)

type NoteRepo struct {
	db *sqlx.DB
}

func NewNoteRepo(db *sqlx.DB) *NoteRepo {
	return &NoteRepo{db: db}
}

func (r *NoteRepo) EnsureTable(ctx context.Context) error {
	ddl := `
	create table if not exists knowledge_bases (
		id bigserial primary key,
		user_id bigint not null,
		name varchar(100) not null,
		type int not null default 0,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);
	create index if not exists idx_knowledge_bases_user on knowledge_bases (user_id);

	create table if not exists notes (
		id bigserial primary key,
		user_id bigint not null,
		knowledge_bases_id bigint not null,
		title varchar(200) not null,
		cover varchar(500),
		introduction varchar(1000),
		content_key varchar(64) not null,
		type int not null default 0,
		price numeric(10,2) not null default 0,
		status int not null default 0,
		view_count bigint not null default 0,
		like_count bigint not null default 0,
		buy_count bigint not null default 0,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);
	create index if not exists idx_notes_kb on notes (knowledge_bases_id);
	create index if not exists idx_notes_user on notes (user_id);
	`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure note tables: %w", err)
	}
	return nil
}

const noteColumns = `n.id, n.user_id, n.knowledge_bases_id, n.title, n.cover,
	n.introduction, n.content_key, n.type, n.price, n.status,
	n.view_count, n.like_count, n.buy_count, n.created_at, n.updated_at`

// --- knowledge bases ---

func (r *NoteRepo) CreateKnowledgeBase(ctx context.Context, kb *entity.KnowledgeBase) (int64, error) {
	query := `insert into knowledge_bases (user_id, name, type)
		values ($1, $2, $3) returning id`
	err := r.db.QueryRowContext(ctx, query, kb.UserID, kb.Name, kb.Type).Scan(&kb.ID)
	if err != nil {
		return 0, fmt.Errorf("create knowledge base: %w", err)
	}
	return kb.ID, nil
}

func (r *NoteRepo) GetKnowledgeBase(ctx context.Context, id int64) (*entity.KnowledgeBase, error) {
	var kb entity.KnowledgeBase
	err := r.db.GetContext(ctx, &kb, `select * from knowledge_bases where id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (r *NoteRepo) UpdateKnowledgeBase(ctx context.Context, kb *entity.KnowledgeBase) error {
	query := `update knowledge_bases set name = $1, type = $2, updated_at = now() where id = $3`
	if _, err := r.db.ExecContext(ctx, query, kb.Name, kb.Type, kb.ID); err != nil {
		return fmt.Errorf("update knowledge base: %w", err)
	}
	return nil
}

func (r *NoteRepo) DeleteKnowledgeBase(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `delete from knowledge_bases where id = $1`, id); err != nil {
		return fmt.Errorf("delete knowledge base: %w", err)
	}
	return nil
}

func (r *NoteRepo) ListKnowledgeBasesByUser(ctx context.Context, userID int64) ([]entity.KnowledgeBase, error) {
	kbs := []entity.KnowledgeBase{}
	err := r.db.SelectContext(ctx, &kbs,
		`select * from knowledge_bases where user_id = $1 order by created_at desc`, userID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	return kbs, nil
}

// NoteRefsByKB collects the id and content key of every note in the
// knowledge base, gathered before a cascade delete.
func (r *NoteRepo) NoteRefsByKB(ctx context.Context, kbID int64) ([]entity.Ref, error) {
	refs := []entity.Ref{}
	err := r.db.SelectContext(ctx, &refs,
		`select id, content_key from notes where knowledge_bases_id = $1`, kbID)
	if err != nil {
		return nil, fmt.Errorf("collect note refs: %w", err)
	}
	return refs, nil
}

func (r *NoteRepo) DeleteNotesByKB(ctx context.Context, kbID int64) error {
	if _, err := r.db.ExecContext(ctx, `delete from notes where knowledge_bases_id = $1`, kbID); err != nil {
		return fmt.Errorf("delete notes of knowledge base: %w", err)
	}
	return nil
}

// --- notes ---

func (r *NoteRepo) CreateNote(ctx context.Context, n *entity.Note) (int64, error) {
	query := `insert into notes
		(user_id, knowledge_bases_id, title, cover, introduction, content_key, type, price, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9) returning id`
	err := r.db.QueryRowContext(ctx, query,
		n.UserID, n.KnowledgeBaseID, n.Title, n.Cover, n.Introduction,
		n.ContentKey, n.Type, n.Price, n.Status).Scan(&n.ID)
	if err != nil {
		return 0, fmt.Errorf("create note: %w", err)
	}
	return n.ID, nil
}

func (r *NoteRepo) GetNote(ctx context.Context, id int64) (*entity.Note, error) {
	var n entity.Note
	err := r.db.GetContext(ctx, &n, `select * from notes where id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNoteWithAuthor loads a note row joined with its author's display
// fields, the relational half of a cached detail.
func (r *NoteRepo) GetNoteWithAuthor(ctx context.Context, id int64) (*entity.ListItem, error) {
	var item entity.ListItem
	query := fmt.Sprintf(`select %s,
		u.username as author_name,
		coalesce(u.avatar, '') as author_avatar
		from notes n
		join users u on u.id = n.user_id
		where n.id = $1`, noteColumns)
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *NoteRepo) UpdateNote(ctx context.Context, n *entity.Note) error {
	query := `update notes set title = $1, cover = $2, introduction = $3,
		type = $4, price = $5, status = $6, updated_at = now()
		where id = $7`
	_, err := r.db.ExecContext(ctx, query,
		n.Title, n.Cover, n.Introduction, n.Type, n.Price, n.Status, n.ID)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return nil
}

func (r *NoteRepo) DeleteNote(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `delete from notes where id = $1`, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// IncrementViewCount bumps the counter in place and returns the new value,
// so a freshly cached detail reflects the read that warmed it.
func (r *NoteRepo) IncrementViewCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`update notes set view_count = view_count + 1 where id = $1 returning view_count`,
		id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment view count: %w", err)
	}
	return count, nil
}

// ListByKnowledgeBase returns one page of a knowledge base's notes with
// author display joins. Bodies are never selected here.
func (r *NoteRepo) ListByKnowledgeBase(ctx context.Context, kbID int64, f entity.KBFilter, page, pageSize int) (int64, []entity.ListItem, error) {
	b := query.New().Eq("n.knowledge_bases_id", kbID)
	if f.Status != nil {
		b.Eq("n.status", *f.Status)
	}
	if f.Type != nil {
		b.Eq("n.type", *f.Type)
	}
	if f.Keyword != "" {
		b.AnyContains(f.Keyword, "n.title", "n.introduction")
	}
	where, args := b.Where()

	var total int64
	countQuery := fmt.Sprintf(`select count(*) from notes n %s`, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return 0, nil, fmt.Errorf("count knowledge base notes: %w", err)
	}

	items := []entity.ListItem{}
	listQuery := fmt.Sprintf(`select %s,
		u.username as author_name,
		coalesce(u.avatar, '') as author_avatar
		from notes n
		join users u on u.id = n.user_id
		%s
		order by n.created_at desc
		limit $%d offset $%d`, noteColumns, where, b.NextArg(), b.NextArg()+1)
	args = append(args, pageSize, (page-1)*pageSize)
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return 0, nil, fmt.Errorf("list knowledge base notes: %w", err)
	}
	return total, items, nil
}

// ListGlobal returns one page of notes across all knowledge bases.
func (r *NoteRepo) ListGlobal(ctx context.Context, f entity.GlobalFilter, page, pageSize int) (int64, []entity.ListItem, error) {
	b := query.New()
	if f.Type != nil {
		b.Eq("n.type", *f.Type)
	}
	if f.Status != nil {
		b.Eq("n.status", *f.Status)
	}
	if f.MinPrice != nil {
		b.Gte("n.price", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		b.Lte("n.price", *f.MaxPrice)
	}
	where, args := b.Where()

	var total int64
	countQuery := fmt.Sprintf(`select count(*) from notes n %s`, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return 0, nil, fmt.Errorf("count notes: %w", err)
	}

	items := []entity.ListItem{}
	listQuery := fmt.Sprintf(`select %s,
		u.username as author_name,
		coalesce(u.avatar, '') as author_avatar,
		kb.name as knowledge_base_name
		from notes n
		join users u on u.id = n.user_id
		join knowledge_bases kb on kb.id = n.knowledge_bases_id
		%s
		order by n.created_at desc
		limit $%d offset $%d`, noteColumns, where, b.NextArg(), b.NextArg()+1)
	args = append(args, pageSize, (page-1)*pageSize)
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return 0, nil, fmt.Errorf("list notes: %w", err)
	}
	return total, items, nil
}

// ListByAuthor returns every note of one user, newest first.
func (r *NoteRepo) ListByAuthor(ctx context.Context, userID int64) ([]entity.ListItem, error) {
	items := []entity.ListItem{}
	query := fmt.Sprintf(`select %s,
		kb.name as knowledge_base_name
		from notes n
		join knowledge_bases kb on kb.id = n.knowledge_bases_id
		where n.user_id = $1
		order by n.created_at desc`, noteColumns)
	if err := r.db.SelectContext(ctx, &items, query, userID); err != nil {
		return nil, fmt.Errorf("list notes by author: %w", err)
	}
	return items, nil
}
