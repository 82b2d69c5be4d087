package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ActivationCode struct {
	bun.BaseModel `bun:"table:activation_codes,alias:ac"`

	ID           uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Code         string    `bun:"code,notnull,unique" json:"code"`
	DurationDays int       `bun:"duration_days,notnull" json:"duration_days"`
	VillaCount   int       `bun:"villa_count,notnull" json:"villa_count"`

	// Usage. A used code stays redeemable for further villas up to VillaCount.
	IsUsed         bool       `bun:"is_used,notnull" json:"is_used"`
	UsedByDeviceID *string    `bun:"used_by_device_id" json:"used_by_device_id,omitempty"`
	UsedAt         *time.Time `bun:"used_at" json:"used_at,omitempty"`

	ExpiresAt *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
	CreatedBy *int64     `bun:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// ActivationCodeResponse for API output
type ActivationCodeResponse struct {
	Code         string  `json:"code"`
	DurationDays int     `json:"durationDays"`
	VillaCount   int     `json:"villaCount"`
	VillasUsed   int     `json:"villasUsed"`
	IsUsed       bool    `json:"isUsed"`
	UsedBy       *string `json:"usedBy,omitempty"`
	UsedAt       *string `json:"usedAt,omitempty"`
	ExpiresAt    *string `json:"expiresAt,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func (a *ActivationCode) ToResponse(villasUsed int) *ActivationCodeResponse {
	resp := &ActivationCodeResponse{
		Code:         a.Code,
		DurationDays: a.DurationDays,
		VillaCount:   a.VillaCount,
		VillasUsed:   villasUsed,
		IsUsed:       a.IsUsed,
		UsedBy:       a.UsedByDeviceID,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
	if a.UsedAt != nil {
		s := a.UsedAt.Format(time.RFC3339)
		resp.UsedAt = &s
	}
	if a.ExpiresAt != nil {
		s := a.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	return resp
}

// BeforeInsert hook
var _ bun.BeforeInsertHook = (*ActivationCode)(nil)

func (a *ActivationCode) BeforeInsert(ctx context.Context, query *bun.InsertQuery) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// CodeRedemption records that a code activated a villa for a device. Quota is
// counted from these rows, so extending a villa with a newer code does not
// free a slot on the older one.
type CodeRedemption struct {
	bun.BaseModel `bun:"table:code_redemptions,alias:cr"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	Code       string    `bun:"code,notnull" json:"code"`
	VillaID    string    `bun:"villa_id,notnull" json:"villa_id"`
	DeviceID   string    `bun:"device_id,notnull" json:"device_id"`
	RedeemedAt time.Time `bun:"redeemed_at,notnull" json:"redeemed_at"`
}
