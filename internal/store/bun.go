package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/boscod/parkmate/internal/models"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// BunStore implements Store on Postgres through bun.
type BunStore struct {
	db *bun.DB
}

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

var _ Store = (*BunStore)(nil)

func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BunStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

func mapReadErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func mapWriteErr(err error) error {
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- activation codes ---

func (s *BunStore) CodeExists(ctx context.Context, code string) (bool, error) {
	return s.db.NewSelect().
		Model((*models.ActivationCode)(nil)).
		Where("code = ?", code).
		Exists(ctx)
}

func (s *BunStore) InsertCodes(ctx context.Context, codes []*models.ActivationCode) error {
	if len(codes) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().Model(&codes).Exec(ctx)
	return mapWriteErr(err)
}

func (s *BunStore) GetCode(ctx context.Context, code string) (*models.ActivationCode, error) {
	c := new(models.ActivationCode)
	err := s.db.NewSelect().
		Model(c).
		Where("ac.code = ?", code).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return c, nil
}

func (s *BunStore) ListCodes(ctx context.Context, filter CodeFilter) ([]*models.ActivationCode, int, error) {
	var codes []*models.ActivationCode
	query := s.db.NewSelect().
		Model(&codes).
		Order("ac.created_at DESC")

	if filter.Used != nil {
		query.Where("ac.is_used = ?", *filter.Used)
	}
	if filter.Limit > 0 {
		query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query.Offset(filter.Offset)
	}

	total, err := query.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return codes, total, nil
}

// ReserveCodeVilla locks the code row so concurrent redemptions of the same
// code count and write the ledger one at a time.
func (s *BunStore) ReserveCodeVilla(ctx context.Context, code, deviceID, villaID string, limit int, at time.Time) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		c := new(models.ActivationCode)
		err := tx.NewSelect().
			Model(c).
			Where("ac.code = ?", code).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return mapReadErr(err)
		}

		var villas []string
		err = tx.NewSelect().
			Model((*models.CodeRedemption)(nil)).
			ColumnExpr("DISTINCT villa_id").
			Where("code = ?", code).
			Scan(ctx, &villas)
		if err != nil {
			return err
		}

		known := false
		for _, v := range villas {
			if v == villaID {
				known = true
				break
			}
		}
		if !known && len(villas) >= limit {
			return ErrQuotaExceeded
		}

		if !c.IsUsed {
			_, err = tx.NewUpdate().
				Model((*models.ActivationCode)(nil)).
				Set("is_used = TRUE").
				Set("used_by_device_id = ?", deviceID).
				Set("used_at = ?", at).
				Where("code = ?", code).
				Exec(ctx)
			if err != nil {
				return err
			}
		}

		_, err = tx.NewInsert().
			Model(&models.CodeRedemption{
				Code:       code,
				VillaID:    villaID,
				DeviceID:   deviceID,
				RedeemedAt: at,
			}).
			On("CONFLICT (code, villa_id, device_id) DO NOTHING").
			Exec(ctx)
		return err
	})
}

func (s *BunStore) CountVillasByCode(ctx context.Context, codes []string) (map[string]int, error) {
	counts := make(map[string]int, len(codes))
	if len(codes) == 0 {
		return counts, nil
	}

	var rows []struct {
		Code   string `bun:"code"`
		Villas int    `bun:"villas"`
	}
	err := s.db.NewSelect().
		Model((*models.CodeRedemption)(nil)).
		Column("code").
		ColumnExpr("COUNT(DISTINCT villa_id) AS villas").
		Where("code IN (?)", bun.In(codes)).
		Group("code").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.Code] = r.Villas
	}
	return counts, nil
}

// --- subscriptions ---

func (s *BunStore) FindVillaSubscription(ctx context.Context, deviceID, villaID string) (*models.VillaSubscription, error) {
	sub := new(models.VillaSubscription)
	err := s.db.NewSelect().
		Model(sub).
		Where("vs.device_id = ?", deviceID).
		Where("vs.villa_id = ?", villaID).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return sub, nil
}

func (s *BunStore) FindTrialSubscription(ctx context.Context, deviceID string) (*models.VillaSubscription, error) {
	sub := new(models.VillaSubscription)
	err := s.db.NewSelect().
		Model(sub).
		Where("vs.device_id = ?", deviceID).
		Where("vs.subscription_type = ?", models.SubscriptionTypeTrial).
		Order("vs.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return sub, nil
}

func (s *BunStore) CreateSubscription(ctx context.Context, sub *models.VillaSubscription) error {
	_, err := s.db.NewInsert().Model(sub).Exec(ctx)
	return mapWriteErr(err)
}

func (s *BunStore) ExtendSubscription(ctx context.Context, id uuid.UUID, prevExpiry, newExpiry time.Time, code string, now time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*models.VillaSubscription)(nil)).
		Set("expires_at = ?", newExpiry).
		Set("activation_code = ?", code).
		Set("is_active = TRUE").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("expires_at = ?", prevExpiry).
		Exec(ctx)
	if err := requireAffected(res, err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *BunStore) LatestSubscription(ctx context.Context, deviceID string) (*models.VillaSubscription, error) {
	sub := new(models.VillaSubscription)
	err := s.db.NewSelect().
		Model(sub).
		Where("vs.device_id = ?", deviceID).
		Order("vs.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return sub, nil
}

func (s *BunStore) ListSubscriptions(ctx context.Context, deviceID string) ([]*models.VillaSubscription, error) {
	var subs []*models.VillaSubscription
	err := s.db.NewSelect().
		Model(&subs).
		Where("vs.device_id = ?", deviceID).
		Order("vs.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// --- trials ---

func (s *BunStore) GetTrialDevice(ctx context.Context, deviceID string) (*models.TrialDevice, error) {
	td := new(models.TrialDevice)
	err := s.db.NewSelect().
		Model(td).
		Where("td.device_id = ?", deviceID).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return td, nil
}

func (s *BunStore) TrialFingerprintUsed(ctx context.Context, fingerprint string) (bool, error) {
	return s.db.NewSelect().
		Model((*models.TrialDevice)(nil)).
		Where("ip_fingerprint = ?", fingerprint).
		Exists(ctx)
}

func (s *BunStore) ClaimTrial(ctx context.Context, grant *models.TrialDevice, sub *models.VillaSubscription) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(grant).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(sub).Exec(ctx)
		return err
	})
	return mapWriteErr(err)
}

// --- admins ---

func (s *BunStore) GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	admin := new(models.AdminUser)
	err := s.db.NewSelect().
		Model(admin).
		Where("au.email = ?", email).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return admin, nil
}

func (s *BunStore) CreateAdmin(ctx context.Context, admin *models.AdminUser) error {
	_, err := s.db.NewInsert().Model(admin).Returning("id").Exec(ctx)
	return mapWriteErr(err)
}

func (s *BunStore) TouchAdminLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*models.AdminUser)(nil)).
		Set("last_login_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return requireAffected(res, err)
}

// --- villas ---

func (s *BunStore) ListVillas(ctx context.Context, deviceID string) ([]*models.Villa, error) {
	var villas []*models.Villa
	err := s.db.NewSelect().
		Model(&villas).
		Where("v.device_id = ?", deviceID).
		Order("v.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return villas, nil
}

func (s *BunStore) GetVilla(ctx context.Context, deviceID, villaID string) (*models.Villa, error) {
	villa := new(models.Villa)
	err := s.db.NewSelect().
		Model(villa).
		Where("v.device_id = ?", deviceID).
		Where("v.villa_id = ?", villaID).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return villa, nil
}

func (s *BunStore) CreateVilla(ctx context.Context, villa *models.Villa) error {
	_, err := s.db.NewInsert().Model(villa).Exec(ctx)
	return mapWriteErr(err)
}

func (s *BunStore) UpdateVilla(ctx context.Context, villa *models.Villa) error {
	res, err := s.db.NewUpdate().
		Model(villa).
		Column("name", "sms_number_encrypted", "is_active", "updated_at").
		WherePK().
		Exec(ctx)
	return requireAffected(res, err)
}

func (s *BunStore) DeleteVilla(ctx context.Context, deviceID, villaID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.Vehicle)(nil)).
			Where("device_id = ?", deviceID).
			Where("villa_id = ?", villaID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.AutomationSchedule)(nil)).
			Where("device_id = ?", deviceID).
			Where("villa_id = ?", villaID).
			Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().
			Model((*models.Villa)(nil)).
			Where("device_id = ?", deviceID).
			Where("villa_id = ?", villaID).
			Exec(ctx)
		return requireAffected(res, err)
	})
}

// --- vehicles ---

func (s *BunStore) ListVehicles(ctx context.Context, deviceID, villaID string) ([]*models.Vehicle, error) {
	var vehicles []*models.Vehicle
	err := s.db.NewSelect().
		Model(&vehicles).
		Where("vh.device_id = ?", deviceID).
		Where("vh.villa_id = ?", villaID).
		Order("vh.serial_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return vehicles, nil
}

func (s *BunStore) GetVehicle(ctx context.Context, deviceID string, id uuid.UUID) (*models.Vehicle, error) {
	vehicle := new(models.Vehicle)
	err := s.db.NewSelect().
		Model(vehicle).
		Where("vh.device_id = ?", deviceID).
		Where("vh.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return vehicle, nil
}

func (s *BunStore) CountVehicles(ctx context.Context, deviceID, villaID string) (int, error) {
	return s.db.NewSelect().
		Model((*models.Vehicle)(nil)).
		Where("device_id = ?", deviceID).
		Where("villa_id = ?", villaID).
		Count(ctx)
}

func (s *BunStore) MaxVehicleSerial(ctx context.Context, deviceID, villaID string) (int, error) {
	var max int
	err := s.db.NewSelect().
		Model((*models.Vehicle)(nil)).
		ColumnExpr("COALESCE(MAX(serial_number), 0)").
		Where("device_id = ?", deviceID).
		Where("villa_id = ?", villaID).
		Scan(ctx, &max)
	return max, err
}

func (s *BunStore) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	_, err := s.db.NewInsert().Model(vehicle).Exec(ctx)
	return mapWriteErr(err)
}

func (s *BunStore) UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	res, err := s.db.NewUpdate().
		Model(vehicle).
		Column("plate_number", "room_name", "sms_message", "status", "last_sent_at", "updated_at").
		WherePK().
		Exec(ctx)
	return requireAffected(res, err)
}

func (s *BunStore) DeleteVehicle(ctx context.Context, deviceID string, id uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*models.Vehicle)(nil)).
		Where("device_id = ?", deviceID).
		Where("id = ?", id).
		Exec(ctx)
	return requireAffected(res, err)
}

// --- automation schedules ---

func (s *BunStore) GetSchedule(ctx context.Context, deviceID, villaID string) (*models.AutomationSchedule, error) {
	schedule := new(models.AutomationSchedule)
	err := s.db.NewSelect().
		Model(schedule).
		Where("sch.device_id = ?", deviceID).
		Where("sch.villa_id = ?", villaID).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return schedule, nil
}

func (s *BunStore) GetScheduleByID(ctx context.Context, id uuid.UUID) (*models.AutomationSchedule, error) {
	schedule := new(models.AutomationSchedule)
	err := s.db.NewSelect().
		Model(schedule).
		Where("sch.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return schedule, nil
}

func (s *BunStore) SaveSchedule(ctx context.Context, schedule *models.AutomationSchedule) error {
	_, err := s.db.NewInsert().
		Model(schedule).
		On("CONFLICT (device_id, villa_id) DO UPDATE").
		Set("is_enabled = EXCLUDED.is_enabled").
		Set("run_time = EXCLUDED.run_time").
		Set("days_of_week = EXCLUDED.days_of_week").
		Set("timezone = EXCLUDED.timezone").
		Set("last_run_at = EXCLUDED.last_run_at").
		Set("next_run_at = EXCLUDED.next_run_at").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id, created_at").
		Exec(ctx)
	return err
}

func (s *BunStore) DeleteSchedule(ctx context.Context, deviceID, villaID string) error {
	res, err := s.db.NewDelete().
		Model((*models.AutomationSchedule)(nil)).
		Where("device_id = ?", deviceID).
		Where("villa_id = ?", villaID).
		Exec(ctx)
	return requireAffected(res, err)
}

func (s *BunStore) ListEnabledSchedules(ctx context.Context) ([]*models.AutomationSchedule, error) {
	var schedules []*models.AutomationSchedule
	err := s.db.NewSelect().
		Model(&schedules).
		Where("sch.is_enabled = TRUE").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// --- sms logs ---

func (s *BunStore) InsertSMSLog(ctx context.Context, entry *models.SMSLog) error {
	_, err := s.db.NewInsert().Model(entry).Returning("id").Exec(ctx)
	return err
}

func (s *BunStore) ListSMSLogsSince(ctx context.Context, deviceID string, since time.Time) ([]*models.SMSLog, error) {
	var logs []*models.SMSLog
	err := s.db.NewSelect().
		Model(&logs).
		Where("sl.device_id = ?", deviceID).
		Where("sl.created_at >= ?", since).
		Order("sl.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// --- notifications ---

func (s *BunStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.NewInsert().Model(n).Returning("id").Exec(ctx)
	return err
}

func (s *BunStore) ListNotifications(ctx context.Context, deviceID string, limit, offset int) ([]*models.Notification, int, error) {
	var notifications []*models.Notification
	query := s.db.NewSelect().
		Model(&notifications).
		Where("n.device_id = ?", deviceID).
		Order("n.created_at DESC")
	if limit > 0 {
		query.Limit(limit)
	}
	if offset > 0 {
		query.Offset(offset)
	}

	total, err := query.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

func (s *BunStore) CountUnreadNotifications(ctx context.Context, deviceID string) (int, error) {
	return s.db.NewSelect().
		Model((*models.Notification)(nil)).
		Where("device_id = ?", deviceID).
		Where("is_read = FALSE").
		Count(ctx)
}

func (s *BunStore) MarkNotificationRead(ctx context.Context, deviceID string, id int64, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*models.Notification)(nil)).
		Set("is_read = TRUE").
		Set("read_at = ?", at).
		Where("id = ?", id).
		Where("device_id = ?", deviceID).
		Exec(ctx)
	return requireAffected(res, err)
}

func (s *BunStore) MarkAllNotificationsRead(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*models.Notification)(nil)).
		Set("is_read = TRUE").
		Set("read_at = ?", at).
		Where("device_id = ?", deviceID).
		Where("is_read = FALSE").
		Exec(ctx)
	return err
}
