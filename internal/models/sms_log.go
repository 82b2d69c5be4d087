package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

const (
	SMSStatusSent   = "sent"
	SMSStatusFailed = "failed"

	SMSTriggerManual     = "manual"
	SMSTriggerAutomation = "automation"
)

type SMSLog struct {
	bun.BaseModel `bun:"table:sms_logs,alias:sl"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	DeviceID    string    `bun:"device_id,notnull" json:"device_id"`
	VillaID     string    `bun:"villa_id,notnull" json:"villa_id"`
	VehicleID   string    `bun:"vehicle_id,notnull" json:"vehicle_id"`
	PhoneNumber string    `bun:"phone_number,notnull" json:"-"`
	Status      string    `bun:"status,notnull" json:"status"`
	Error       string    `bun:"error,nullzero" json:"error,omitempty"`
	Attempts    int       `bun:"attempts,notnull" json:"attempts"`
	Trigger     string    `bun:"trigger,notnull" json:"trigger"`
	CreatedAt   time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
}

// SMSResult is the per-vehicle outcome of a dispatch.
type SMSResult struct {
	VehicleID   string `json:"vehicleId"`
	PlateNumber string `json:"plateNumber"`
	Success     bool   `json:"success"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

// SMSHistoryDay is one day of aggregated dispatch counts.
type SMSHistoryDay struct {
	Date       string `json:"date"`
	Successful int    `json:"successful"`
	Errors     int    `json:"errors"`
}

// BeforeInsert hook
var _ bun.BeforeInsertHook = (*SMSLog)(nil)

func (l *SMSLog) BeforeInsert(ctx context.Context, query *bun.InsertQuery) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	return nil
}
