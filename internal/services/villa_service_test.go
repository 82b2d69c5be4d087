package services

import (
	"testing"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSMSNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+971 50 123 4567", "+971501234567", false},
		{"(050) 123-4567", "0501234567", false},
		{"7726", "7726", false},
		{"12", "", true},
		{"call me", "", true},
		{"+1234567890123456", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeSMSNumber(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidSMSNumber, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestVillaLifecycle(t *testing.T) {
	env := newTestEnv(t)

	villa := env.createVilla(t, "dev-1", "v1")
	assert.Equal(t, "+971501234567", villa.SMSNumber)

	stored, err := env.store.GetVilla(env.ctx, "dev-1", "v1")
	require.NoError(t, err)
	assert.NotContains(t, stored.SMSNumberEncrypted, "501234567")

	got, err := env.villas.Get(env.ctx, "dev-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "+971501234567", got.SMSNumber)

	_, err = env.villas.Create(env.ctx, "dev-1", VillaInput{VillaID: "v1", Name: "Again", SMSNumber: "7726"})
	assert.ErrorIs(t, err, ErrVillaExists)

	inactive := false
	updated, err := env.villas.Update(env.ctx, "dev-1", "v1", VillaInput{SMSNumber: "7726", IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "7726", updated.SMSNumber)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "Villa v1", updated.Name)

	env.addVehicle(t, "dev-1", "v1", "A 12345")
	list, err := env.villas.List(env.ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].VehicleCount)

	require.NoError(t, env.villas.Delete(env.ctx, "dev-1", "v1"))
	_, err = env.villas.Get(env.ctx, "dev-1", "v1")
	assert.ErrorIs(t, err, ErrVillaNotFound)

	count, err := env.store.CountVehicles(env.ctx, "dev-1", "v1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVillaCreateGeneratesID(t *testing.T) {
	env := newTestEnv(t)

	villa, err := env.villas.Create(env.ctx, "dev-1", VillaInput{Name: "Beach house", SMSNumber: "7726"})
	require.NoError(t, err)
	_, err = uuid.Parse(villa.VillaID)
	assert.NoError(t, err)
}

func TestVillaIsScopedToDevice(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")

	_, err := env.villas.Get(env.ctx, "dev-2", "v1")
	assert.ErrorIs(t, err, ErrVillaNotFound)

	_, err = env.villas.Create(env.ctx, "dev-2", VillaInput{VillaID: "v1", Name: "Mine", SMSNumber: "7726"})
	assert.NoError(t, err)
}

func TestVehicleCreate(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")

	first := env.addVehicle(t, "dev-1", "v1", " dxb a 123 ")
	assert.Equal(t, "DXB A 123", first.PlateNumber)
	assert.Equal(t, "DXB A 123", first.SMSMessage)
	assert.Equal(t, models.VehicleStatusPending, first.Status)
	assert.Equal(t, 1, first.SerialNumber)

	second, err := env.vehicles.Create(env.ctx, "dev-1", "v1", VehicleInput{
		PlateNumber: strPtr("B 777"),
		RoomName:    strPtr("Room 4"),
		SMSMessage:  strPtr("B777 ROOM4"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.SerialNumber)
	assert.Equal(t, "B777 ROOM4", second.SMSMessage)
	assert.Equal(t, "Room 4", second.RoomName)

	require.NoError(t, env.vehicles.Delete(env.ctx, "dev-1", first.ID))
	third := env.addVehicle(t, "dev-1", "v1", "C 1")
	assert.Equal(t, 3, third.SerialNumber)
}

func TestVehicleCreateErrors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.vehicles.Create(env.ctx, "dev-1", "v1", VehicleInput{PlateNumber: strPtr("A 1")})
	assert.ErrorIs(t, err, ErrVillaNotFound)

	env.createVilla(t, "dev-1", "v1")
	_, err = env.vehicles.Create(env.ctx, "dev-1", "v1", VehicleInput{PlateNumber: strPtr("   ")})
	assert.ErrorIs(t, err, ErrPlateRequired)
}

func TestVehicleLimitPerVilla(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")

	for i := 0; i < models.MaxVehiclesPerVilla; i++ {
		env.addVehicle(t, "dev-1", "v1", uuid.NewString()[:8])
	}

	_, err := env.vehicles.Create(env.ctx, "dev-1", "v1", VehicleInput{PlateNumber: strPtr("ONE MORE")})
	assert.ErrorIs(t, err, ErrVehicleLimit)
	assert.Equal(t, apperrors.KindQuotaExceeded, apperrors.KindOf(err))
}

func TestVehicleUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.createVilla(t, "dev-1", "v1")
	vehicle := env.addVehicle(t, "dev-1", "v1", "A 1")

	updated, err := env.vehicles.Update(env.ctx, "dev-1", vehicle.ID, VehicleInput{
		Status:     strPtr(models.VehicleStatusVerified),
		SMSMessage: strPtr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusVerified, updated.Status)
	assert.Equal(t, "A 1", updated.SMSMessage)

	_, err = env.vehicles.Update(env.ctx, "dev-1", vehicle.ID, VehicleInput{Status: strPtr("parked")})
	assert.ErrorIs(t, err, ErrInvalidVehicleStatus)

	_, err = env.vehicles.Update(env.ctx, "dev-2", vehicle.ID, VehicleInput{RoomName: strPtr("x")})
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}
