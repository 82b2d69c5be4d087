package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Villa groups vehicles that share one destination SMS number.
type Villa struct {
	bun.BaseModel `bun:"table:villas,alias:v"`

	ID       uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DeviceID string    `bun:"device_id,notnull" json:"device_id"`
	VillaID  string    `bun:"villa_id,notnull" json:"villa_id"` // client-chosen id
	Name     string    `bun:"name,notnull" json:"name"`

	SMSNumberEncrypted string `bun:"sms_number_encrypted,notnull" json:"-"`
	SMSNumber          string `bun:"-" json:"sms_number"` // decrypted, never persisted

	IsActive  bool      `bun:"is_active,notnull" json:"is_active"`
	CreatedAt time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
}

// VillaResponse for API output
type VillaResponse struct {
	ID           string `json:"id"`
	VillaID      string `json:"villaId"`
	Name         string `json:"name"`
	SMSNumber    string `json:"smsNumber"`
	IsActive     bool   `json:"isActive"`
	VehicleCount int    `json:"vehicleCount"`
	CreatedAt    string `json:"createdAt"`
}

func (v *Villa) ToResponse(vehicleCount int) *VillaResponse {
	return &VillaResponse{
		ID:           v.ID.String(),
		VillaID:      v.VillaID,
		Name:         v.Name,
		SMSNumber:    v.SMSNumber,
		IsActive:     v.IsActive,
		VehicleCount: vehicleCount,
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
	}
}

// BeforeInsert hook
var _ bun.BeforeInsertHook = (*Villa)(nil)

func (v *Villa) BeforeInsert(ctx context.Context, query *bun.InsertQuery) error {
	now := time.Now()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	return nil
}

// BeforeUpdate hook
var _ bun.BeforeUpdateHook = (*Villa)(nil)

func (v *Villa) BeforeUpdate(ctx context.Context, query *bun.UpdateQuery) error {
	v.UpdatedAt = time.Now()
	return nil
}
