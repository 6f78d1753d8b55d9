package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/warranty-desk/internal/model"
)

func seedVehicle(t *testing.T, r *MemoryRepository) model.Vehicle {
	t.Helper()
	ctx := context.Background()

	id, err := r.CreateCustomer(ctx, model.Customer{Name: "Asha Rao", Email: "asha@example.in"})
	require.NoError(t, err)
	require.Equal(t, int64(101), id)

	v := model.Vehicle{
		Registration: "KA01MX2024",
		CustomerID:   id,
		Model:        "Baleno",
		PurchaseDate: time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC),
		Odometer:     15000,
	}
	require.NoError(t, r.CreateVehicle(ctx, v))
	return v
}

func TestMemoryCustomers(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	seedVehicle(t, r)

	_, err := r.CreateCustomer(ctx, model.Customer{Name: "Other", Email: "ASHA@example.in"})
	assert.ErrorIs(t, err, ErrCustomerExists)
	assert.ErrorIs(t, err, model.KindValidation)

	c, err := r.GetCustomerByEmail(ctx, "Asha@Example.in")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", c.Name)

	_, err = r.GetCustomer(ctx, 999)
	assert.ErrorIs(t, err, model.KindNotFound)

	err = r.CreateVehicle(ctx, model.Vehicle{Registration: "KA01MX2024", CustomerID: 101})
	assert.ErrorIs(t, err, ErrVehicleExists)
	err = r.CreateVehicle(ctx, model.Vehicle{Registration: "KA01MX2025", CustomerID: 7})
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestMemoryUpdateVehicle(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	v := seedVehicle(t, r)
	at := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)

	applied, err := r.UpdateVehicle(ctx, v.Registration, func(snap *VehicleSnapshot) (*Mutation, error) {
		assert.Nil(t, snap.ActiveWarranty())
		assert.Equal(t, "asha@example.in", snap.Owner.Email)
		return &Mutation{NewWarranty: &model.ExtendedWarranty{TierYears: 2, PurchaseDate: at, Price: model.Rupees(12000), Status: model.PlanStatusActive}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied.WarrantyID)

	applied, err = r.UpdateVehicle(ctx, v.Registration, func(snap *VehicleSnapshot) (*Mutation, error) {
		return &Mutation{NewClaim: &model.Claim{DamageType: model.DamageRodent, ReportedAt: at, Status: model.ClaimSubmitted}}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, applied.Claim)
	assert.Equal(t, "CCP000001", applied.Claim.ID)

	odo := 14000
	_, err = r.UpdateVehicle(ctx, v.Registration, func(*VehicleSnapshot) (*Mutation, error) {
		return &Mutation{Odometer: &odo}, nil
	})
	assert.ErrorIs(t, err, ErrOdometerDecrease)

	boom := errors.New("boom")
	_, err = r.UpdateVehicle(ctx, v.Registration, func(*VehicleSnapshot) (*Mutation, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	snap, err := r.GetVehicleSnapshot(ctx, v.Registration)
	require.NoError(t, err)
	require.NotNil(t, snap.ActiveWarranty())
	assert.Equal(t, 2, snap.ActiveWarranty().TierYears)
	assert.Len(t, snap.Claims, 1)
	assert.Equal(t, 15000, snap.Vehicle.Odometer)

	_, err = r.UpdateVehicle(ctx, "XX00XX0000", func(*VehicleSnapshot) (*Mutation, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

func TestMemoryUpdateVehicleIsSerialized(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	v := seedVehicle(t, r)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.UpdateVehicle(ctx, v.Registration, func(snap *VehicleSnapshot) (*Mutation, error) {
				if len(snap.Claims) >= 2 {
					return nil, nil
				}
				return &Mutation{NewClaim: &model.Claim{Status: model.ClaimSubmitted}}, nil
			})
		}()
	}
	wg.Wait()

	claims, err := r.GetClaimsByCustomer(ctx, v.CustomerID)
	require.NoError(t, err)
	assert.Len(t, claims, 2)
}

func TestMemoryAppointments(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	v := seedVehicle(t, r)
	slot := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

	a := model.Appointment{Registration: v.Registration, CustomerID: v.CustomerID, ServiceCenter: "Kalyani Autoworks", SlotAt: slot, Status: model.AppointmentBooked}
	id, err := r.CreateAppointment(ctx, a)
	require.NoError(t, err)

	_, err = r.CreateAppointment(ctx, a)
	assert.ErrorIs(t, err, ErrSlotTaken)

	booked, err := r.GetBookedSlots(ctx, "Kalyani Autoworks", slot.Truncate(24*time.Hour), slot.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{slot}, booked)

	_, err = r.UpdateAppointment(ctx, id, func(a model.Appointment) (model.Appointment, error) {
		a.Status = model.AppointmentCancelled
		return a, nil
	})
	require.NoError(t, err)

	_, err = r.CreateAppointment(ctx, a)
	assert.NoError(t, err, "cancelled slot can be booked again")

	list, err := r.GetAppointmentsByCustomer(ctx, v.CustomerID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryServiceCenters(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	all, err := r.ListServiceCenters(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultServiceCenters()))

	pune, err := r.ListServiceCenters(ctx, "pune")
	require.NoError(t, err)
	require.Len(t, pune, 1)
	assert.Equal(t, "Kalyani Autoworks", pune[0].Name)

	_, err = r.GetServiceCenter(ctx, "deccan wheels")
	assert.NoError(t, err)
	_, err = r.GetServiceCenter(ctx, "Nowhere Motors")
	assert.ErrorIs(t, err, ErrServiceCenterNotFound)
}

func TestMemoryOutbox(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.EnqueueNotification(ctx, model.Notification{ID: "a", NextAttemptAt: now.Add(-time.Minute), CreatedAt: now}))
	require.NoError(t, r.EnqueueNotification(ctx, model.Notification{ID: "b", NextAttemptAt: now.Add(time.Hour), CreatedAt: now}))

	due, err := r.DueNotifications(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].ID)

	require.NoError(t, r.MarkNotificationFailed(ctx, "a", 5, time.Time{}, "smtp down"))
	due, err = r.DueNotifications(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b", due[0].ID)

	require.NoError(t, r.MarkNotificationSent(ctx, "b", now))
	due, err = r.DueNotifications(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
