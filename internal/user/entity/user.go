package entity

import "time"

// User is an account row in the `users` table. Password holds the bcrypt
// hash and never serializes.
type User struct {
	ID          int64      `db:"id" json:"id"`
	Username    string     `db:"username" json:"username"`
	Alias       *string    `db:"alias" json:"alias,omitempty"`
	Email       *string    `db:"email" json:"email,omitempty"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	Password    string     `db:"password" json:"-"`
	Avatar      *string    `db:"avatar" json:"avatar,omitempty"`
	Bio         *string    `db:"bio" json:"bio,omitempty"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	IsSuperuser bool       `db:"is_superuser" json:"is_superuser"`
	LastLogin   *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// ListFilter narrows the admin user listing. Zero values mean no filter.
type ListFilter struct {
	Username  string
	Email     string
	Phone     string
	IsActive  *bool
	StartTime string
	EndTime   string
}

// ListItem is a user row joined with its assigned role ids for the admin
// listing.
type ListItem struct {
	User
	RoleIDs []int64 `json:"role_ids"`
}
