package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

const (
	RoleAdmin = "admin"
)

type AdminUser struct {
	bun.BaseModel `bun:"table:admin_users,alias:au"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	Email        string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash string     `bun:"password_hash,notnull" json:"-"`
	Role         string     `bun:"role,notnull" json:"role"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
	LastLoginAt  *time.Time `bun:"last_login_at" json:"last_login_at,omitempty"`
}

// AdminUserResponse is the safe representation for API responses
type AdminUserResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (u *AdminUser) ToResponse() *AdminUserResponse {
	return &AdminUserResponse{
		ID:    u.ID,
		Email: u.Email,
		Role:  u.Role,
	}
}

// BeforeInsert hook
var _ bun.BeforeInsertHook = (*AdminUser)(nil)

func (u *AdminUser) BeforeInsert(ctx context.Context, query *bun.InsertQuery) error {
	u.CreatedAt = time.Now()
	u.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate hook
var _ bun.BeforeUpdateHook = (*AdminUser)(nil)

func (u *AdminUser) BeforeUpdate(ctx context.Context, query *bun.UpdateQuery) error {
	u.UpdatedAt = time.Now()
	return nil
}
