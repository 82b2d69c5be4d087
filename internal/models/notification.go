package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// NotificationType constants
const (
	NotificationTypeBatchComplete     = "batch_complete"
	NotificationTypeAutomationRan     = "automation_ran"
	NotificationTypeAutomationSkipped = "automation_skipped"
)

// NotificationMetadata for storing extra information
type NotificationMetadata struct {
	VillaName  string `json:"villa_name,omitempty"`
	Trigger    string `json:"trigger,omitempty"` // manual, automation
	Successful int    `json:"successful,omitempty"`
	Failed     int    `json:"failed,omitempty"`

	// Automation fields
	ScheduleID string `json:"schedule_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id"`
	DeviceID string `bun:"device_id,notnull" json:"device_id"`
	VillaID  string `bun:"villa_id,nullzero" json:"villa_id,omitempty"`

	Type    string `bun:"type,notnull" json:"type"`
	Title   string `bun:"title,notnull" json:"title"`
	Message string `bun:"message,notnull" json:"message"`

	IsRead bool       `bun:"is_read,notnull" json:"is_read"`
	ReadAt *time.Time `bun:"read_at" json:"read_at,omitempty"`

	Metadata  json.RawMessage `bun:"metadata,type:jsonb,default:'{}'" json:"metadata"`
	CreatedAt time.Time       `bun:"created_at,nullzero,default:now()" json:"created_at"`
}

// NotificationResponse for API output
type NotificationResponse struct {
	ID        int64                `json:"id"`
	VillaID   string               `json:"villaId,omitempty"`
	Type      string               `json:"type"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	IsRead    bool                 `json:"isRead"`
	ReadAt    *string              `json:"readAt,omitempty"`
	Metadata  NotificationMetadata `json:"metadata"`
	CreatedAt string               `json:"createdAt"`
}

func (n *Notification) ToResponse() *NotificationResponse {
	resp := &NotificationResponse{
		ID:        n.ID,
		VillaID:   n.VillaID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}

	if n.ReadAt != nil {
		r := n.ReadAt.Format(time.RFC3339)
		resp.ReadAt = &r
	}

	if len(n.Metadata) > 0 {
		_ = json.Unmarshal(n.Metadata, &resp.Metadata)
	}

	return resp
}

// BeforeInsert hook
var _ bun.BeforeInsertHook = (*Notification)(nil)

func (n *Notification) BeforeInsert(ctx context.Context, query *bun.InsertQuery) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return nil
}
