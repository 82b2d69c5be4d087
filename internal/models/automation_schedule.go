package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AutomationSchedule fires an SMS batch for every vehicle of a villa on the
// selected weekdays at Time (HH:mm) in Timezone.
type AutomationSchedule struct {
	bun.BaseModel `bun:"table:automation_schedules,alias:sch"`

	ID         uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DeviceID   string     `bun:"device_id,notnull" json:"device_id"`
	VillaID    string     `bun:"villa_id,notnull" json:"villa_id"`
	IsEnabled  bool       `bun:"is_enabled,notnull" json:"is_enabled"`
	Time       string     `bun:"run_time,notnull" json:"time"`
	DaysOfWeek []bool     `bun:"days_of_week,type:jsonb,notnull" json:"days_of_week"` // Sunday first
	Timezone   string     `bun:"timezone,notnull" json:"timezone"`
	LastRunAt  *time.Time `bun:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `bun:"next_run_at" json:"next_run_at,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt  time.Time  `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
}

// AutomationScheduleResponse for API output
type AutomationScheduleResponse struct {
	ID         string  `json:"id"`
	VillaID    string  `json:"villaId"`
	IsEnabled  bool    `json:"isEnabled"`
	Time       string  `json:"time"`
	DaysOfWeek []bool  `json:"daysOfWeek"`
	Timezone   string  `json:"timezone"`
	LastRunAt  *string `json:"lastRunAt,omitempty"`
	NextRunAt  *string `json:"nextRunAt,omitempty"`
}

func (a *AutomationSchedule) ToResponse() *AutomationScheduleResponse {
	resp := &AutomationScheduleResponse{
		ID:         a.ID.String(),
		VillaID:    a.VillaID,
		IsEnabled:  a.IsEnabled,
		Time:       a.Time,
		DaysOfWeek: a.DaysOfWeek,
		Timezone:   a.Timezone,
	}
	if a.LastRunAt != nil {
		s := a.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &s
	}
	if a.NextRunAt != nil {
		s := a.NextRunAt.Format(time.RFC3339)
		resp.NextRunAt = &s
	}
	return resp
}

// BeforeInsert hook
var _ bun.BeforeInsertHook = (*AutomationSchedule)(nil)

func (a *AutomationSchedule) BeforeInsert(ctx context.Context, query *bun.InsertQuery) error {
	now := time.Now()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return nil
}

// ScheduledRun is the delayed message that fires a schedule. DueAt lets the
// consumer drop triggers that no longer match the stored next run.
type ScheduledRun struct {
	ScheduleID string    `json:"schedule_id"`
	DueAt      time.Time `json:"due_at"`
}
