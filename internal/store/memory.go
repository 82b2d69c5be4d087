package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boscod/parkmate/internal/models"
	"github.com/google/uuid"
)

type villaKey struct {
	deviceID string
	villaID  string
}

type redemptionKey struct {
	code     string
	villaID  string
	deviceID string
}

// MemoryStore keeps all state in maps guarded by one mutex. Values are copied
// in and out so callers never share pointers with the store.
type MemoryStore struct {
	mu sync.RWMutex

	codes         map[string]models.ActivationCode
	redemptions   map[redemptionKey]models.CodeRedemption
	subscriptions map[uuid.UUID]models.VillaSubscription
	trials        map[string]models.TrialDevice
	admins        map[int64]models.AdminUser
	villas        map[villaKey]models.Villa
	vehicles      map[uuid.UUID]models.Vehicle
	schedules     map[uuid.UUID]models.AutomationSchedule
	smsLogs       []models.SMSLog
	notifications map[int64]models.Notification

	nextAdminID        int64
	nextSMSLogID       int64
	nextNotificationID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:         make(map[string]models.ActivationCode),
		redemptions:   make(map[redemptionKey]models.CodeRedemption),
		subscriptions: make(map[uuid.UUID]models.VillaSubscription),
		trials:        make(map[string]models.TrialDevice),
		admins:        make(map[int64]models.AdminUser),
		villas:        make(map[villaKey]models.Villa),
		vehicles:      make(map[uuid.UUID]models.Vehicle),
		schedules:     make(map[uuid.UUID]models.AutomationSchedule),
		notifications: make(map[int64]models.Notification),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func paginate(n, limit, offset int) (int, int) {
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}

// --- activation codes ---

func (m *MemoryStore) CodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.codes[code]
	return ok, nil
}

func (m *MemoryStore) InsertCodes(ctx context.Context, codes []*models.ActivationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		if _, ok := m.codes[c.Code]; ok || seen[c.Code] {
			return ErrConflict
		}
		seen[c.Code] = true
	}
	for _, c := range codes {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		m.codes[c.Code] = *c
	}
	return nil
}

func (m *MemoryStore) GetCode(ctx context.Context, code string) (*models.ActivationCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) ListCodes(ctx context.Context, filter CodeFilter) ([]*models.ActivationCode, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*models.ActivationCode
	for _, c := range m.codes {
		if filter.Used != nil && c.IsUsed != *filter.Used {
			continue
		}
		c := c
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Code < all[j].Code
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start, end := paginate(len(all), filter.Limit, filter.Offset)
	return all[start:end], len(all), nil
}

func (m *MemoryStore) ReserveCodeVilla(ctx context.Context, code, deviceID, villaID string, limit int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.codes[code]
	if !ok {
		return ErrNotFound
	}

	villas := make(map[string]bool)
	for k := range m.redemptions {
		if k.code == code {
			villas[k.villaID] = true
		}
	}
	if !villas[villaID] && len(villas) >= limit {
		return ErrQuotaExceeded
	}

	if !c.IsUsed {
		d := deviceID
		t := at
		c.IsUsed = true
		c.UsedByDeviceID = &d
		c.UsedAt = &t
		m.codes[code] = c
	}

	key := redemptionKey{code: code, villaID: villaID, deviceID: deviceID}
	if _, ok := m.redemptions[key]; !ok {
		m.redemptions[key] = models.CodeRedemption{
			ID:         int64(len(m.redemptions) + 1),
			Code:       code,
			VillaID:    villaID,
			DeviceID:   deviceID,
			RedeemedAt: at,
		}
	}
	return nil
}

func (m *MemoryStore) CountVillasByCode(ctx context.Context, codes []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = make(map[string]bool)
	}
	for k := range m.redemptions {
		if villas, ok := wanted[k.code]; ok {
			villas[k.villaID] = true
		}
	}

	counts := make(map[string]int, len(codes))
	for code, villas := range wanted {
		if len(villas) > 0 {
			counts[code] = len(villas)
		}
	}
	return counts, nil
}

// --- subscriptions ---

func (m *MemoryStore) FindVillaSubscription(ctx context.Context, deviceID, villaID string) (*models.VillaSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subscriptions {
		if s.DeviceID == deviceID && s.VillaID == villaID && villaID != "" {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindTrialSubscription(ctx context.Context, deviceID string) (*models.VillaSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.VillaSubscription
	for _, s := range m.subscriptions {
		if s.DeviceID != deviceID || s.Type != models.SubscriptionTypeTrial {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			s := s
			found = &s
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, sub *models.VillaSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSubscriptionLocked(sub)
}

func (m *MemoryStore) insertSubscriptionLocked(sub *models.VillaSubscription) error {
	if sub.VillaID != "" {
		for _, s := range m.subscriptions {
			if s.DeviceID == sub.DeviceID && s.VillaID == sub.VillaID {
				return ErrConflict
			}
		}
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = sub.CreatedAt
	m.subscriptions[sub.ID] = *sub
	return nil
}

func (m *MemoryStore) ExtendSubscription(ctx context.Context, id uuid.UUID, prevExpiry, newExpiry time.Time, code string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok || !s.ExpiresAt.Equal(prevExpiry) {
		return ErrConflict
	}
	s.ExpiresAt = newExpiry
	s.ActivationCode = code
	s.IsActive = true
	s.UpdatedAt = now
	m.subscriptions[id] = s
	return nil
}

func (m *MemoryStore) LatestSubscription(ctx context.Context, deviceID string) (*models.VillaSubscription, error) {
	subs, _ := m.ListSubscriptions(ctx, deviceID)
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	return subs[0], nil
}

func (m *MemoryStore) ListSubscriptions(ctx context.Context, deviceID string) ([]*models.VillaSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*models.VillaSubscription
	for _, s := range m.subscriptions {
		if s.DeviceID == deviceID {
			s := s
			subs = append(subs, &s)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
	return subs, nil
}

// --- trials ---

func (m *MemoryStore) GetTrialDevice(ctx context.Context, deviceID string) (*models.TrialDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	td, ok := m.trials[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &td, nil
}

func (m *MemoryStore) TrialFingerprintUsed(ctx context.Context, fingerprint string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fingerprintUsedLocked(fingerprint), nil
}

func (m *MemoryStore) fingerprintUsedLocked(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	for _, td := range m.trials {
		if td.IPFingerprint == fingerprint {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ClaimTrial(ctx context.Context, grant *models.TrialDevice, sub *models.VillaSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trials[grant.DeviceID]; ok {
		return ErrConflict
	}
	if m.fingerprintUsedLocked(grant.IPFingerprint) {
		return ErrConflict
	}
	if err := m.insertSubscriptionLocked(sub); err != nil {
		return err
	}
	m.trials[grant.DeviceID] = *grant
	return nil
}

// --- admins ---

func (m *MemoryStore) GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.admins {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateAdmin(ctx context.Context, admin *models.AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.Email == admin.Email {
			return ErrConflict
		}
	}
	m.nextAdminID++
	admin.ID = m.nextAdminID
	now := time.Now()
	admin.CreatedAt = now
	admin.UpdatedAt = now
	m.admins[admin.ID] = *admin
	return nil
}

func (m *MemoryStore) TouchAdminLogin(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[id]
	if !ok {
		return ErrNotFound
	}
	a.LastLoginAt = &at
	m.admins[id] = a
	return nil
}

// --- villas ---

func (m *MemoryStore) ListVillas(ctx context.Context, deviceID string) ([]*models.Villa, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var villas []*models.Villa
	for k, v := range m.villas {
		if k.deviceID == deviceID {
			v := v
			villas = append(villas, &v)
		}
	}
	sort.Slice(villas, func(i, j int) bool {
		if villas[i].CreatedAt.Equal(villas[j].CreatedAt) {
			return villas[i].VillaID < villas[j].VillaID
		}
		return villas[i].CreatedAt.Before(villas[j].CreatedAt)
	})
	return villas, nil
}

func (m *MemoryStore) GetVilla(ctx context.Context, deviceID, villaID string) (*models.Villa, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.villas[villaKey{deviceID, villaID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *MemoryStore) CreateVilla(ctx context.Context, villa *models.Villa) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := villaKey{villa.DeviceID, villa.VillaID}
	if _, ok := m.villas[key]; ok {
		return ErrConflict
	}
	if villa.ID == uuid.Nil {
		villa.ID = uuid.New()
	}
	now := time.Now()
	if villa.CreatedAt.IsZero() {
		villa.CreatedAt = now
	}
	villa.UpdatedAt = now
	stored := *villa
	stored.SMSNumber = ""
	m.villas[key] = stored
	return nil
}

func (m *MemoryStore) UpdateVilla(ctx context.Context, villa *models.Villa) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := villaKey{villa.DeviceID, villa.VillaID}
	existing, ok := m.villas[key]
	if !ok || existing.ID != villa.ID {
		return ErrNotFound
	}
	villa.UpdatedAt = time.Now()
	stored := *villa
	stored.SMSNumber = ""
	m.villas[key] = stored
	return nil
}

func (m *MemoryStore) DeleteVilla(ctx context.Context, deviceID, villaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := villaKey{deviceID, villaID}
	if _, ok := m.villas[key]; !ok {
		return ErrNotFound
	}
	delete(m.villas, key)
	for id, v := range m.vehicles {
		if v.DeviceID == deviceID && v.VillaID == villaID {
			delete(m.vehicles, id)
		}
	}
	for id, s := range m.schedules {
		if s.DeviceID == deviceID && s.VillaID == villaID {
			delete(m.schedules, id)
		}
	}
	return nil
}

// --- vehicles ---

func (m *MemoryStore) ListVehicles(ctx context.Context, deviceID, villaID string) ([]*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var vehicles []*models.Vehicle
	for _, v := range m.vehicles {
		if v.DeviceID == deviceID && v.VillaID == villaID {
			v := v
			vehicles = append(vehicles, &v)
		}
	}
	sort.Slice(vehicles, func(i, j int) bool {
		return vehicles[i].SerialNumber < vehicles[j].SerialNumber
	})
	return vehicles, nil
}

func (m *MemoryStore) GetVehicle(ctx context.Context, deviceID string, id uuid.UUID) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok || v.DeviceID != deviceID {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *MemoryStore) CountVehicles(ctx context.Context, deviceID, villaID string) (int, error) {
	vehicles, _ := m.ListVehicles(ctx, deviceID, villaID)
	return len(vehicles), nil
}

func (m *MemoryStore) MaxVehicleSerial(ctx context.Context, deviceID, villaID string) (int, error) {
	vehicles, _ := m.ListVehicles(ctx, deviceID, villaID)
	if len(vehicles) == 0 {
		return 0, nil
	}
	return vehicles[len(vehicles)-1].SerialNumber, nil
}

func (m *MemoryStore) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vehicle.ID == uuid.Nil {
		vehicle.ID = uuid.New()
	}
	if vehicle.Status == "" {
		vehicle.Status = models.VehicleStatusPending
	}
	now := time.Now()
	vehicle.CreatedAt = now
	vehicle.UpdatedAt = now
	m.vehicles[vehicle.ID] = *vehicle
	return nil
}

func (m *MemoryStore) UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.vehicles[vehicle.ID]
	if !ok || existing.DeviceID != vehicle.DeviceID {
		return ErrNotFound
	}
	vehicle.UpdatedAt = time.Now()
	m.vehicles[vehicle.ID] = *vehicle
	return nil
}

func (m *MemoryStore) DeleteVehicle(ctx context.Context, deviceID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok || v.DeviceID != deviceID {
		return ErrNotFound
	}
	delete(m.vehicles, id)
	return nil
}

// --- automation schedules ---

func copySchedule(s models.AutomationSchedule) *models.AutomationSchedule {
	s.DaysOfWeek = append([]bool(nil), s.DaysOfWeek...)
	return &s
}

func (m *MemoryStore) GetSchedule(ctx context.Context, deviceID, villaID string) (*models.AutomationSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.schedules {
		if s.DeviceID == deviceID && s.VillaID == villaID {
			return copySchedule(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetScheduleByID(ctx context.Context, id uuid.UUID) (*models.AutomationSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySchedule(s), nil
}

func (m *MemoryStore) SaveSchedule(ctx context.Context, schedule *models.AutomationSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, s := range m.schedules {
		if s.DeviceID == schedule.DeviceID && s.VillaID == schedule.VillaID {
			schedule.ID = id
			schedule.CreatedAt = s.CreatedAt
			break
		}
	}
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now
	m.schedules[schedule.ID] = *copySchedule(*schedule)
	return nil
}

func (m *MemoryStore) DeleteSchedule(ctx context.Context, deviceID, villaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.schedules {
		if s.DeviceID == deviceID && s.VillaID == villaID {
			delete(m.schedules, id)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) ListEnabledSchedules(ctx context.Context) ([]*models.AutomationSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var schedules []*models.AutomationSchedule
	for _, s := range m.schedules {
		if s.IsEnabled {
			schedules = append(schedules, copySchedule(s))
		}
	}
	return schedules, nil
}

// --- sms logs ---

func (m *MemoryStore) InsertSMSLog(ctx context.Context, entry *models.SMSLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSMSLogID++
	entry.ID = m.nextSMSLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.smsLogs = append(m.smsLogs, *entry)
	return nil
}

func (m *MemoryStore) ListSMSLogsSince(ctx context.Context, deviceID string, since time.Time) ([]*models.SMSLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var logs []*models.SMSLog
	for _, l := range m.smsLogs {
		if l.DeviceID == deviceID && !l.CreatedAt.Before(since) {
			l := l
			logs = append(logs, &l)
		}
	}
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})
	return logs, nil
}

// --- notifications ---

func (m *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNotificationID++
	n.ID = m.nextNotificationID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.notifications[n.ID] = *n
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, deviceID string, limit, offset int) ([]*models.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*models.Notification
	for _, n := range m.notifications {
		if n.DeviceID == deviceID {
			n := n
			all = append(all, &n)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	start, end := paginate(len(all), limit, offset)
	return all[start:end], len(all), nil
}

func (m *MemoryStore) CountUnreadNotifications(ctx context.Context, deviceID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if n.DeviceID == deviceID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, deviceID string, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.DeviceID != deviceID {
		return ErrNotFound
	}
	n.IsRead = true
	n.ReadAt = &at
	m.notifications[id] = n
	return nil
}

func (m *MemoryStore) MarkAllNotificationsRead(ctx context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.notifications {
		if n.DeviceID == deviceID && !n.IsRead {
			n.IsRead = true
			t := at
			n.ReadAt = &t
			m.notifications[id] = n
		}
	}
	return nil
}
