package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VillaSubscription is an entitlement for one villa of one device. Trial rows
// have an empty VillaID and cover every villa of the device.
type VillaSubscription struct {
	bun.BaseModel `bun:"table:villa_subscriptions,alias:vs"`

	ID             uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	VillaID        string    `bun:"villa_id,nullzero" json:"villa_id,omitempty"`
	DeviceID       string    `bun:"device_id,notnull" json:"device_id"`
	Type           string    `bun:"subscription_type,notnull" json:"subscription_type"`
	ActivationCode string    `bun:"activation_code,nullzero" json:"activation_code,omitempty"`
	IsActive       bool      `bun:"is_active,notnull" json:"is_active"`
	ActivatedAt    time.Time `bun:"activated_at,notnull" json:"activated_at"`
	ExpiresAt      time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
}

// ActiveAt reports whether the subscription grants access at now. Expiry is
// evaluated lazily on read.
func (s *VillaSubscription) ActiveAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// VillaSubscriptionResponse for API output
type VillaSubscriptionResponse struct {
	ID             string `json:"id"`
	VillaID        string `json:"villaId,omitempty"`
	DeviceID       string `json:"deviceId"`
	Type           string `json:"type"`
	ActivationCode string `json:"activationCode,omitempty"`
	IsActive       bool   `json:"isActive"`
	ActivatedAt    string `json:"activatedAt"`
	ExpiresAt      string `json:"expiresAt"`
}

func (s *VillaSubscription) ToResponse(now time.Time) *VillaSubscriptionResponse {
	return &VillaSubscriptionResponse{
		ID:             s.ID.String(),
		VillaID:        s.VillaID,
		DeviceID:       s.DeviceID,
		Type:           s.Type,
		ActivationCode: s.ActivationCode,
		IsActive:       s.ActiveAt(now),
		ActivatedAt:    s.ActivatedAt.Format(time.RFC3339),
		ExpiresAt:      s.ExpiresAt.Format(time.RFC3339),
	}
}

// BeforeInsert hook
var _ bun.BeforeInsertHook = (*VillaSubscription)(nil)

func (s *VillaSubscription) BeforeInsert(ctx context.Context, query *bun.InsertQuery) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.UpdatedAt = s.CreatedAt
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type TrialDevice struct {
	bun.BaseModel `bun:"table:trial_devices,alias:td"`

	DeviceID       string    `bun:"device_id,pk" json:"device_id"`
	IPFingerprint  string    `bun:"ip_fingerprint,nullzero,unique" json:"-"` // sha256 hex
	HasUsedTrial   bool      `bun:"has_used_trial,notnull" json:"has_used_trial"`
	TrialStartedAt time.Time `bun:"trial_started_at,notnull" json:"trial_started_at"`
}
