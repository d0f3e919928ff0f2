package entity

import "time"

// Role is a named permission bundle. Its menu and API grants live in the
// role_menu / role_api join tables and are mutated with replace-all
// semantics only.
type Role struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Desc      *string   `db:"descr" json:"desc,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Menu is a hierarchical navigation node. ParentID 0 marks a root; the
// schema models one level of nesting only. Acyclicity is a domain
// convention, not structurally enforced.
type Menu struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	MenuType  *string   `db:"menu_type" json:"menu_type,omitempty"`
	Icon      *string   `db:"icon" json:"icon,omitempty"`
	Path      string    `db:"path" json:"path"`
	OrderNo   int       `db:"order_no" json:"order"`
	ParentID  int64     `db:"parent_id" json:"parent_id"`
	IsHidden  bool      `db:"is_hidden" json:"is_hidden"`
	Component string    `db:"component" json:"component"`
	Keepalive bool      `db:"keepalive" json:"keepalive"`
	Redirect  *string   `db:"redirect" json:"redirect,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MenuNode is a root menu with its direct children attached, the shape the
// cached menu tree serializes to. Children stay flat.
type MenuNode struct {
	Menu
	Children []Menu `json:"children"`
}

// API is a callable endpoint row, uniquely identified by (method, path).
// Tags group endpoints into coarse bundles used by default role grants.
type API struct {
	ID        int64     `db:"id" json:"id"`
	Path      string    `db:"path" json:"path"`
	Method    string    `db:"method" json:"method"`
	Summary   string    `db:"summary" json:"summary"`
	Tags      string    `db:"tags" json:"tags"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// APIRoute is the (method, path) pair that makes up a user's allow-list.
type APIRoute struct {
	Method string `db:"method" json:"method"`
	Path   string `db:"path" json:"path"`
}

// RouteDef describes a registered HTTP route, the source of truth the api
// table is refreshed from.
type RouteDef struct {
	Method  string
	Path    string
	Summary string
	Tags    string
}
