package entity

import "time"

// KnowledgeBase groups a user's notes. Type 0 is private, 1 public.
// Deleting one cascades to its notes and their document-store bodies.
type KnowledgeBase struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	Type      int       `db:"type" json:"type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Note holds the structured fields of a note. The body text lives in the
// document store under ContentKey, an opaque generated token, never the
// note's own id.
type Note struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	KnowledgeBaseID int64     `db:"knowledge_bases_id" json:"knowledge_bases_id"`
	Title           string    `db:"title" json:"title"`
	Cover           *string   `db:"cover" json:"cover,omitempty"`
	Introduction    *string   `db:"introduction" json:"introduction,omitempty"`
	ContentKey      string    `db:"content_key" json:"-"`
	Type            int       `db:"type" json:"type"`
	Price           float64   `db:"price" json:"price"`
	Status          int       `db:"status" json:"status"`
	ViewCount       int64     `db:"view_count" json:"view_count"`
	LikeCount       int64     `db:"like_count" json:"like_count"`
	BuyCount        int64     `db:"buy_count" json:"buy_count"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Note type and status values.
const (
	TypeFree = 0
	TypePaid = 1

	StatusPrivate = 0
	StatusPublic  = 1
	StatusReview  = 2
)

// Ref is the minimal handle on a note needed to tear it down: the cache
// key comes from ID, the document-store entry from ContentKey.
type Ref struct {
	ID         int64  `db:"id"`
	ContentKey string `db:"content_key"`
}

// Detail is a note joined with its author display fields and body text,
// the shape cached under note_{id}.
type Detail struct {
	Note
	AuthorName   string `json:"author_name"`
	AuthorAvatar string `json:"author_avatar"`
	Content      string `json:"content"`
}

// ListItem is a note row with display joins for listings. Listings never
// embed body text.
type ListItem struct {
	Note
	AuthorName        string `db:"author_name" json:"author_name,omitempty"`
	AuthorAvatar      string `db:"author_avatar" json:"author_avatar,omitempty"`
	KnowledgeBaseName string `db:"knowledge_base_name" json:"knowledge_base_name,omitempty"`
}

// Page is one page of a note listing plus its pagination envelope, cached
// as a whole.
type Page struct {
	Data     []ListItem `json:"data"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// KBFilter narrows a knowledge-base note listing. Any non-zero field makes
// the query ineligible for caching.
type KBFilter struct {
	Status  *int
	Type    *int
	Keyword string
}

// Empty reports whether the filter carries no overrides.
func (f KBFilter) Empty() bool {
	return f.Status == nil && f.Type == nil && f.Keyword == ""
}

// GlobalFilter narrows the global note listing. The full parameter tuple
// participates in the cache key, so filtered queries are cached too.
type GlobalFilter struct {
	Type     *int
	Status   *int
	MinPrice *float64
	MaxPrice *float64
}
