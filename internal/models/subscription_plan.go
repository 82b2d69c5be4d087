package models

import "time"

const (
	SubscriptionTypeTrial          = "trial"
	SubscriptionTypeActivationCode = "activation_code"
)

// SubscriptionStatusVersion is bumped whenever fields are added to
// SubscriptionStatus so clients can tell which optional fields to expect.
const SubscriptionStatusVersion = 2

const (
	TrialVillaLimit      = 1
	MaxVehiclesPerVilla  = 20
	DefaultHistoryDays   = 7
	MaxHistoryDays       = 90
	MaxCodesPerBatch     = 100
	MaxVillasPerCode     = 50
	DefaultCodeVillaSize = 1
)

// AllowedCodeDurations lists the durations, in days, an administrator may
// generate codes for.
var AllowedCodeDurations = []int{5, 30, 60, 90, 180, 365}

func IsAllowedCodeDuration(days int) bool {
	for _, d := range AllowedCodeDurations {
		if d == days {
			return true
		}
	}
	return false
}

// SubscriptionStatus is the device-level gate the client polls.
type SubscriptionStatus struct {
	SchemaVersion  int        `json:"schemaVersion"`
	IsActive       bool       `json:"isActive"`
	Type           string     `json:"type"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	ActivationCode string     `json:"activationCode,omitempty"`
	VillaLimit     int        `json:"villaLimit"`
}

// InactiveStatus is returned when a device has no subscription or the lookup
// failed.
func InactiveStatus() SubscriptionStatus {
	return SubscriptionStatus{
		SchemaVersion: SubscriptionStatusVersion,
		IsActive:      false,
		Type:          SubscriptionTypeTrial,
		VillaLimit:    0,
	}
}
