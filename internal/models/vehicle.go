package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VehicleStatus constants
const (
	VehicleStatusPending  = "pending"
	VehicleStatusSent     = "sent"
	VehicleStatusFailed   = "failed"
	VehicleStatusVerified = "verified"
)

func IsValidVehicleStatus(s string) bool {
	switch s {
	case VehicleStatusPending, VehicleStatusSent, VehicleStatusFailed, VehicleStatusVerified:
		return true
	}
	return false
}

type Vehicle struct {
	bun.BaseModel `bun:"table:vehicles,alias:vh"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DeviceID     string     `bun:"device_id,notnull" json:"device_id"`
	VillaID      string     `bun:"villa_id,notnull" json:"villa_id"`
	PlateNumber  string     `bun:"plate_number,notnull" json:"plate_number"`
	RoomName     string     `bun:"room_name" json:"room_name"`
	SMSMessage   string     `bun:"sms_message,notnull" json:"sms_message"`
	Status       string     `bun:"status,notnull" json:"status"`
	SerialNumber int        `bun:"serial_number,notnull" json:"serial_number"`
	LastSentAt   *time.Time `bun:"last_sent_at" json:"last_sent_at,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
}

// VehicleResponse for API output
type VehicleResponse struct {
	ID           string  `json:"id"`
	VillaID      string  `json:"villaId"`
	PlateNumber  string  `json:"plateNumber"`
	RoomName     string  `json:"roomName"`
	SMSMessage   string  `json:"smsMessage"`
	Status       string  `json:"status"`
	SerialNumber int     `json:"serialNumber"`
	LastSentAt   *string `json:"lastSentAt,omitempty"`
}

func (v *Vehicle) ToResponse() *VehicleResponse {
	resp := &VehicleResponse{
		ID:           v.ID.String(),
		VillaID:      v.VillaID,
		PlateNumber:  v.PlateNumber,
		RoomName:     v.RoomName,
		SMSMessage:   v.SMSMessage,
		Status:       v.Status,
		SerialNumber: v.SerialNumber,
	}
	if v.LastSentAt != nil {
		s := v.LastSentAt.Format(time.RFC3339)
		resp.LastSentAt = &s
	}
	return resp
}

// BeforeInsert hook
var _ bun.BeforeInsertHook = (*Vehicle)(nil)

func (v *Vehicle) BeforeInsert(ctx context.Context, query *bun.InsertQuery) error {
	now := time.Now()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = VehicleStatusPending
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	return nil
}

// BeforeUpdate hook
var _ bun.BeforeUpdateHook = (*Vehicle)(nil)

func (v *Vehicle) BeforeUpdate(ctx context.Context, query *bun.UpdateQuery) error {
	v.UpdatedAt = time.Now()
	return nil
}
