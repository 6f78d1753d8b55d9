package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/warranty-desk/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется, когда адрес БД
// не задан, и в тестах. Все операции сериализуются одним мьютексом.
type MemoryRepository struct {
	mu sync.Mutex

	nextCustomerID    int64
	nextWarrantyID    int64
	nextCCPID         int64
	nextClaimSeq      int64
	nextAppointmentID int64

	customers     map[int64]model.Customer
	vehicles      map[string]model.Vehicle
	vehicleOrder  []string
	warranties    []model.ExtendedWarranty
	ccps          []model.CCPPackage
	claims        []model.Claim
	centers       []model.ServiceCenter
	appointments  map[int64]model.Appointment
	notifications map[string]model.Notification
}

// NewMemoryRepository создаёт пустое хранилище с сервисными центрами по умолчанию.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextCustomerID: 101,
		customers:      make(map[int64]model.Customer),
		vehicles:       make(map[string]model.Vehicle),
		centers:        DefaultServiceCenters(),
		appointments:   make(map[int64]model.Appointment),
		notifications:  make(map[string]model.Notification),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// Ping всегда успешен.
func (r *MemoryRepository) Ping(context.Context) error { return nil }

// CreateCustomer создаёт клиента. Идентификаторы начинаются со 101.
func (r *MemoryRepository) CreateCustomer(_ context.Context, c model.Customer) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.customers {
		if strings.EqualFold(existing.Email, c.Email) {
			return 0, ErrCustomerExists
		}
	}
	c.ID = r.nextCustomerID
	r.nextCustomerID++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.customers[c.ID] = c
	return c.ID, nil
}

// GetCustomer возвращает клиента по идентификатору.
func (r *MemoryRepository) GetCustomer(_ context.Context, id int64) (*model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return &c, nil
}

// GetCustomerByEmail возвращает клиента по e-mail без учёта регистра.
func (r *MemoryRepository) GetCustomerByEmail(_ context.Context, email string) (*model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.customers {
		if strings.EqualFold(c.Email, email) {
			return &c, nil
		}
	}
	return nil, ErrCustomerNotFound
}

// CreateVehicle регистрирует автомобиль клиента.
func (r *MemoryRepository) CreateVehicle(_ context.Context, v model.Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.customers[v.CustomerID]; !ok {
		return ErrCustomerNotFound
	}
	if _, ok := r.vehicles[v.Registration]; ok {
		return ErrVehicleExists
	}
	r.vehicles[v.Registration] = v
	r.vehicleOrder = append(r.vehicleOrder, v.Registration)
	return nil
}

// GetVehicle возвращает автомобиль по регистрационному номеру.
func (r *MemoryRepository) GetVehicle(_ context.Context, registration string) (*model.Vehicle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vehicles[registration]
	if !ok {
		return nil, ErrVehicleNotFound
	}
	return &v, nil
}

// GetVehiclesByCustomer возвращает автомобили клиента в порядке регистрации.
func (r *MemoryRepository) GetVehiclesByCustomer(_ context.Context, customerID int64) ([]model.Vehicle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Vehicle
	for _, reg := range r.vehicleOrder {
		if v := r.vehicles[reg]; v.CustomerID == customerID {
			res = append(res, v)
		}
	}
	return res, nil
}

// GetVehicleSnapshot возвращает автомобиль вместе с владельцем, планами и претензиями.
func (r *MemoryRepository) GetVehicleSnapshot(_ context.Context, registration string) (*VehicleSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(registration)
}

func (r *MemoryRepository) snapshot(registration string) (*VehicleSnapshot, error) {
	v, ok := r.vehicles[registration]
	if !ok {
		return nil, ErrVehicleNotFound
	}
	owner, ok := r.customers[v.CustomerID]
	if !ok {
		return nil, ErrCustomerNotFound
	}

	snap := &VehicleSnapshot{Vehicle: v, Owner: owner}
	for _, w := range r.warranties {
		if w.Registration == registration {
			snap.Warranties = append(snap.Warranties, w)
		}
	}
	for _, p := range r.ccps {
		if p.Registration == registration {
			snap.CCPs = append(snap.CCPs, p)
		}
	}
	for _, c := range r.claims {
		if c.Registration == registration {
			snap.Claims = append(snap.Claims, c)
		}
	}
	sortClaims(snap.Claims)
	return snap, nil
}

func sortClaims(claims []model.Claim) {
	sort.SliceStable(claims, func(i, j int) bool {
		if claims[i].ReportedAt.Equal(claims[j].ReportedAt) {
			return claims[i].ID < claims[j].ID
		}
		return claims[i].ReportedAt.Before(claims[j].ReportedAt)
	})
}

// UpdateVehicle вызывает fn на согласованном снимке и применяет изменения атомарно.
// fn не должна обращаться к репозиторию.
func (r *MemoryRepository) UpdateVehicle(_ context.Context, registration string, fn MutateFunc) (*Applied, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.snapshot(registration)
	if err != nil {
		return nil, err
	}

	m, err := fn(snap)
	if err != nil {
		return nil, err
	}

	applied := &Applied{}
	if m == nil {
		return applied, nil
	}

	if m.Odometer != nil && *m.Odometer < snap.Vehicle.Odometer {
		return nil, ErrOdometerDecrease
	}
	if m.Odometer != nil {
		v := r.vehicles[registration]
		v.Odometer = *m.Odometer
		r.vehicles[registration] = v
	}

	for _, w := range m.UpdateWarranties {
		for i := range r.warranties {
			if r.warranties[i].ID == w.ID {
				r.warranties[i].Status = w.Status
				r.warranties[i].CancelledAt = w.CancelledAt
				r.warranties[i].Refund = w.Refund
			}
		}
	}
	for _, p := range m.UpdateCCPs {
		for i := range r.ccps {
			if r.ccps[i].ID == p.ID {
				r.ccps[i].Status = p.Status
				r.ccps[i].CancelledAt = p.CancelledAt
				r.ccps[i].Refund = p.Refund
			}
		}
	}
	for _, c := range m.UpdateClaims {
		r.replaceClaim(c)
	}

	if m.NewWarranty != nil {
		r.nextWarrantyID++
		w := *m.NewWarranty
		w.ID = r.nextWarrantyID
		w.Registration = registration
		r.warranties = append(r.warranties, w)
		applied.WarrantyID = w.ID
	}
	if m.NewCCP != nil {
		r.nextCCPID++
		p := *m.NewCCP
		p.ID = r.nextCCPID
		p.Registration = registration
		r.ccps = append(r.ccps, p)
		applied.CCPID = p.ID
	}
	if m.NewClaim != nil {
		r.nextClaimSeq++
		c := *m.NewClaim
		c.ID = model.ClaimReference(r.nextClaimSeq)
		c.Registration = registration
		r.claims = append(r.claims, c)
		applied.Claim = &c
	}
	return applied, nil
}

func (r *MemoryRepository) replaceClaim(c model.Claim) bool {
	for i := range r.claims {
		if r.claims[i].ID == c.ID {
			r.claims[i].Status = c.Status
			r.claims[i].RejectReason = c.RejectReason
			r.claims[i].UpdatedAt = c.UpdatedAt
			return true
		}
	}
	return false
}

// GetClaim возвращает претензию по номеру.
func (r *MemoryRepository) GetClaim(_ context.Context, id string) (*model.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.claims {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, ErrClaimNotFound
}

// GetClaimsByCustomer возвращает претензии по всем автомобилям клиента.
func (r *MemoryRepository) GetClaimsByCustomer(_ context.Context, customerID int64) ([]model.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Claim
	for _, c := range r.claims {
		if r.vehicles[c.Registration].CustomerID == customerID {
			res = append(res, c)
		}
	}
	sortClaims(res)
	return res, nil
}

// UpdateClaim сохраняет результат fn для претензии.
func (r *MemoryRepository) UpdateClaim(_ context.Context, id string, fn func(model.Claim) (model.Claim, error)) (*model.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.claims {
		if c.ID != id {
			continue
		}
		next, err := fn(c)
		if err != nil {
			return nil, err
		}
		r.replaceClaim(next)
		return &next, nil
	}
	return nil, ErrClaimNotFound
}

// ListServiceCenters возвращает центры, город которых содержит city. Пустой город: все.
func (r *MemoryRepository) ListServiceCenters(_ context.Context, city string) ([]model.ServiceCenter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	needle := strings.ToLower(city)
	var res []model.ServiceCenter
	for _, sc := range r.centers {
		if strings.Contains(strings.ToLower(sc.City), needle) {
			res = append(res, sc)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].City == res[j].City {
			return res[i].Name < res[j].Name
		}
		return res[i].City < res[j].City
	})
	return res, nil
}

// GetServiceCenter возвращает сервисный центр по имени без учёта регистра.
func (r *MemoryRepository) GetServiceCenter(_ context.Context, name string) (*model.ServiceCenter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sc := range r.centers {
		if strings.EqualFold(sc.Name, name) {
			return &sc, nil
		}
	}
	return nil, ErrServiceCenterNotFound
}

func (r *MemoryRepository) slotTaken(center string, at time.Time, except int64) bool {
	for id, a := range r.appointments {
		if id != except && a.Status == model.AppointmentBooked && a.ServiceCenter == center && a.SlotAt.Equal(at) {
			return true
		}
	}
	return false
}

// CreateAppointment сохраняет запись. Занятый слот возвращает ErrSlotTaken.
func (r *MemoryRepository) CreateAppointment(_ context.Context, a model.Appointment) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Status == model.AppointmentBooked && r.slotTaken(a.ServiceCenter, a.SlotAt, 0) {
		return 0, ErrSlotTaken
	}
	r.nextAppointmentID++
	a.ID = r.nextAppointmentID
	a.UpdatedAt = a.CreatedAt
	r.appointments[a.ID] = a
	return a.ID, nil
}

// GetAppointment возвращает запись по идентификатору.
func (r *MemoryRepository) GetAppointment(_ context.Context, id int64) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

// GetAppointmentsByCustomer возвращает записи клиента в порядке времени слота.
func (r *MemoryRepository) GetAppointmentsByCustomer(_ context.Context, customerID int64) ([]model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Appointment
	for _, a := range r.appointments {
		if a.CustomerID == customerID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SlotAt.Equal(res[j].SlotAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].SlotAt.Before(res[j].SlotAt)
	})
	return res, nil
}

// GetBookedSlots возвращает занятые слоты центра в интервале [from, to).
func (r *MemoryRepository) GetBookedSlots(_ context.Context, center string, from, to time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []time.Time
	for _, a := range r.appointments {
		if a.Status != model.AppointmentBooked || a.ServiceCenter != center {
			continue
		}
		if !a.SlotAt.Before(from) && a.SlotAt.Before(to) {
			res = append(res, a.SlotAt)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Before(res[j]) })
	return res, nil
}

// UpdateAppointment сохраняет результат fn для записи.
func (r *MemoryRepository) UpdateAppointment(_ context.Context, id int64, fn func(model.Appointment) (model.Appointment, error)) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next.Status == model.AppointmentBooked && r.slotTaken(next.ServiceCenter, next.SlotAt, id) {
		return nil, ErrSlotTaken
	}
	r.appointments[id] = next
	return &next, nil
}

// EnqueueNotification сохраняет уведомление для повторной доставки.
func (r *MemoryRepository) EnqueueNotification(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notifications[n.ID]; !ok {
		r.notifications[n.ID] = n
	}
	return nil
}

// DueNotifications возвращает неотправленные уведомления, срок повтора которых наступил.
func (r *MemoryRepository) DueNotifications(_ context.Context, now time.Time, limit int) ([]model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Notification
	for _, n := range r.notifications {
		if n.SentAt == nil && !n.NextAttemptAt.IsZero() && !n.NextAttemptAt.After(now) {
			res = append(res, n)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].NextAttemptAt.Before(res[j].NextAttemptAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// MarkNotificationSent отмечает уведомление доставленным.
func (r *MemoryRepository) MarkNotificationSent(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil
	}
	n.SentAt = &at
	n.NextAttemptAt = time.Time{}
	r.notifications[id] = n
	return nil
}

// MarkNotificationFailed сохраняет результат неудачной попытки.
func (r *MemoryRepository) MarkNotificationFailed(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil
	}
	n.Attempts = attempts
	n.NextAttemptAt = next
	n.LastError = lastErr
	r.notifications[id] = n
	return nil
}

// Notifications возвращает все уведомления outbox в порядке создания.
func (r *MemoryRepository) Notifications() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]model.Notification, 0, len(r.notifications))
	for _, n := range r.notifications {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}
