// Package store persists ParkMate state. BunStore talks to Postgres,
// MemoryStore keeps everything in process for tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/boscod/parkmate/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write lost against a unique constraint or
	// a concurrent update.
	ErrConflict = errors.New("record conflict")
	// ErrQuotaExceeded is returned when a code has no villa slot left.
	ErrQuotaExceeded = errors.New("villa quota exceeded")
)

// CodeFilter narrows ListCodes.
type CodeFilter struct {
	Used   *bool
	Limit  int
	Offset int
}

type CodeStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	InsertCodes(ctx context.Context, codes []*models.ActivationCode) error
	GetCode(ctx context.Context, code string) (*models.ActivationCode, error)
	ListCodes(ctx context.Context, filter CodeFilter) ([]*models.ActivationCode, int, error)
	// ReserveCodeVilla records that the code activates villaID, flagging the
	// code as used (first use wins). The quota check and the write happen in
	// one step: when villaID is new and the code already covers limit
	// distinct villas across all devices, it returns ErrQuotaExceeded.
	ReserveCodeVilla(ctx context.Context, code, deviceID, villaID string, limit int, at time.Time) error
	CountVillasByCode(ctx context.Context, codes []string) (map[string]int, error)
}

type SubscriptionStore interface {
	FindVillaSubscription(ctx context.Context, deviceID, villaID string) (*models.VillaSubscription, error)
	FindTrialSubscription(ctx context.Context, deviceID string) (*models.VillaSubscription, error)
	// CreateSubscription returns ErrConflict when a row for the same
	// (villa, device) already exists.
	CreateSubscription(ctx context.Context, sub *models.VillaSubscription) error
	// ExtendSubscription moves expires_at from prevExpiry to newExpiry. It
	// returns ErrConflict when expires_at no longer equals prevExpiry.
	ExtendSubscription(ctx context.Context, id uuid.UUID, prevExpiry, newExpiry time.Time, code string, now time.Time) error
	LatestSubscription(ctx context.Context, deviceID string) (*models.VillaSubscription, error)
	ListSubscriptions(ctx context.Context, deviceID string) ([]*models.VillaSubscription, error)
}

type TrialStore interface {
	GetTrialDevice(ctx context.Context, deviceID string) (*models.TrialDevice, error)
	TrialFingerprintUsed(ctx context.Context, fingerprint string) (bool, error)
	// ClaimTrial inserts the trial grant and its subscription together. It
	// returns ErrConflict when the device or fingerprint already claimed one.
	ClaimTrial(ctx context.Context, grant *models.TrialDevice, sub *models.VillaSubscription) error
}

type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	CreateAdmin(ctx context.Context, admin *models.AdminUser) error
	TouchAdminLogin(ctx context.Context, id int64, at time.Time) error
}

type VillaStore interface {
	ListVillas(ctx context.Context, deviceID string) ([]*models.Villa, error)
	GetVilla(ctx context.Context, deviceID, villaID string) (*models.Villa, error)
	CreateVilla(ctx context.Context, villa *models.Villa) error
	UpdateVilla(ctx context.Context, villa *models.Villa) error
	// DeleteVilla also removes the villa's vehicles and automation schedule.
	DeleteVilla(ctx context.Context, deviceID, villaID string) error
}

type VehicleStore interface {
	ListVehicles(ctx context.Context, deviceID, villaID string) ([]*models.Vehicle, error)
	GetVehicle(ctx context.Context, deviceID string, id uuid.UUID) (*models.Vehicle, error)
	CountVehicles(ctx context.Context, deviceID, villaID string) (int, error)
	MaxVehicleSerial(ctx context.Context, deviceID, villaID string) (int, error)
	CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	DeleteVehicle(ctx context.Context, deviceID string, id uuid.UUID) error
}

type ScheduleStore interface {
	GetSchedule(ctx context.Context, deviceID, villaID string) (*models.AutomationSchedule, error)
	GetScheduleByID(ctx context.Context, id uuid.UUID) (*models.AutomationSchedule, error)
	// SaveSchedule upserts on (device, villa) and fills the stored id.
	SaveSchedule(ctx context.Context, schedule *models.AutomationSchedule) error
	DeleteSchedule(ctx context.Context, deviceID, villaID string) error
	ListEnabledSchedules(ctx context.Context) ([]*models.AutomationSchedule, error)
}

type SMSLogStore interface {
	InsertSMSLog(ctx context.Context, entry *models.SMSLog) error
	ListSMSLogsSince(ctx context.Context, deviceID string, since time.Time) ([]*models.SMSLog, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, deviceID string, limit, offset int) ([]*models.Notification, int, error)
	CountUnreadNotifications(ctx context.Context, deviceID string) (int, error)
	MarkNotificationRead(ctx context.Context, deviceID string, id int64, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, deviceID string, at time.Time) error
}

// Store is everything the services need.
type Store interface {
	CodeStore
	SubscriptionStore
	TrialStore
	AdminStore
	VillaStore
	VehicleStore
	ScheduleStore
	SMSLogStore
	NotificationStore

	Ping(ctx context.Context) error
	Close() error
}
