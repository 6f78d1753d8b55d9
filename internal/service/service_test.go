package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/notify"
	"github.com/mmeshcher/warranty-desk/internal/policy"
	"github.com/mmeshcher/warranty-desk/internal/repository"
)

// Понедельник, 10:00 по IST.
var testNow = time.Date(2025, time.June, 16, 4, 30, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	res := make([]notify.Kind, 0, len(n.events))
	for _, ev := range n.events {
		res = append(res, ev.Kind)
	}
	return res
}

type fixture struct {
	svc      *Service
	repo     *repository.MemoryRepository
	clock    *testClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p, err := policy.Default()
	require.NoError(t, err)

	f := &fixture{
		repo:     repository.NewMemoryRepository(),
		clock:    &testClock{now: testNow},
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(f.repo, p, WithClock(f.clock.Now), WithNotifier(f.notifier))
	return f
}

// owner регистрирует клиента с автомобилем и возвращает его идентификатор.
func (f *fixture) owner(t *testing.T, email, registration string, odometer int) int64 {
	t.Helper()
	ctx := context.Background()

	c, err := f.svc.RegisterCustomer(ctx, CustomerInput{Name: "Asha Rao", Email: email, Phone: "+91 98450 00000"})
	require.NoError(t, err)
	_, err = f.svc.RegisterVehicle(ctx, c.ID, VehicleInput{
		Registration: registration,
		Model:        "Baleno Alpha",
		PurchaseDate: time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC),
		Odometer:     odometer,
	})
	require.NoError(t, err)
	return c.ID
}

// covered покупает расширенную гарантию на 2 года и CCP на 1 год.
func (f *fixture) covered(t *testing.T, customerID int64, registration string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.PurchaseExtendedWarranty(ctx, customerID, registration, 2)
	require.NoError(t, err)
	_, err = f.svc.PurchaseCCP(ctx, customerID, registration, 1)
	require.NoError(t, err)
}

func TestRegisterCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.RegisterCustomer(ctx, CustomerInput{Name: " Asha Rao ", Email: "Asha@Example.in"})
	require.NoError(t, err)
	assert.Equal(t, int64(101), c.ID)
	assert.Equal(t, "Asha Rao", c.Name)
	assert.Equal(t, "asha@example.in", c.Email)

	_, err = f.svc.RegisterCustomer(ctx, CustomerInput{Name: "Other", Email: "asha@example.in"})
	assert.ErrorIs(t, err, repository.ErrCustomerExists)

	_, err = f.svc.RegisterCustomer(ctx, CustomerInput{Name: "", Email: "x@example.in"})
	assert.ErrorIs(t, err, model.KindValidation)

	_, err = f.svc.RegisterCustomer(ctx, CustomerInput{Name: "X", Email: "not-an-email"})
	assert.ErrorIs(t, err, model.KindValidation)

	id, err := f.svc.AuthenticateCustomer(ctx, "ASHA@example.in")
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	_, err = f.svc.AuthenticateCustomer(ctx, "nobody@example.in")
	assert.ErrorIs(t, err, model.KindNotFound)
}

func TestRegisterVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.RegisterCustomer(ctx, CustomerInput{Name: "Asha", Email: "asha@example.in"})
	require.NoError(t, err)

	purchase := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   VehicleInput
		code string
	}{
		{name: "bad registration", in: VehicleInput{Registration: "XYZ", Model: "Swift", PurchaseDate: purchase}, code: "InvalidRegistration"},
		{name: "missing model", in: VehicleInput{Registration: "KA01MX2024", PurchaseDate: purchase}, code: "MissingModel"},
		{name: "future purchase", in: VehicleInput{Registration: "KA01MX2024", Model: "Swift", PurchaseDate: testNow.AddDate(0, 0, 1)}, code: "InvalidPurchaseDate"},
		{name: "negative odometer", in: VehicleInput{Registration: "KA01MX2024", Model: "Swift", PurchaseDate: purchase, Odometer: -1}, code: "InvalidOdometer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RegisterVehicle(ctx, c.ID, tt.in)
			var rej *model.Rejection
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.code, rej.Code)
			assert.Equal(t, model.KindValidation, rej.Kind)
		})
	}

	v, err := f.svc.RegisterVehicle(ctx, c.ID, VehicleInput{Registration: "ka-01 mx 2024", Model: "Swift", PurchaseDate: purchase, Odometer: 1200})
	require.NoError(t, err)
	assert.Equal(t, "KA01MX2024", v.Registration)

	list, err := f.svc.ShowMyVehicles(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1200, list[0].Odometer)
}

func TestUpdateOdometer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)
	other := f.owner(t, "vikram@example.in", "MH12AB1234", 5000)

	v, err := f.svc.UpdateOdometer(ctx, cid, "KA01MX2024", 21500)
	require.NoError(t, err)
	assert.Equal(t, 21500, v.Odometer)

	_, err = f.svc.UpdateOdometer(ctx, cid, "KA01MX2024", 21000)
	assert.ErrorIs(t, err, repository.ErrOdometerDecrease)

	_, err = f.svc.UpdateOdometer(ctx, other, "KA01MX2024", 30000)
	assert.ErrorIs(t, err, model.KindNotFound)

	_, err = f.svc.UpdateOdometer(ctx, cid, "KA01MX2024", -5)
	assert.ErrorIs(t, err, model.KindValidation)

	assert.Zero(t, f.svc.locks.size())
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("KA01MX2024")
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.size())

	a := k.Lock("A")
	b := k.Lock("B")
	assert.Equal(t, 2, k.size())
	a()
	b()
	assert.Zero(t, k.size())
}
