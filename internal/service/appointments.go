package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/notify"
	"github.com/mmeshcher/warranty-desk/internal/repository"
	"github.com/mmeshcher/warranty-desk/internal/validation"
)

// SlotHours: часы начала слотов сервисного центра по местному времени.
var SlotHours = []int{9, 10, 11, 12, 14, 15, 16, 17}

const defaultServiceType = "General Service"

// FindServiceCenter возвращает сервисные центры города. Пустой город: все центры.
func (s *Service) FindServiceCenter(ctx context.Context, city string) ([]model.ServiceCenter, error) {
	centers, err := s.repo.ListServiceCenters(ctx, strings.TrimSpace(city))
	if err != nil {
		return nil, err
	}
	if len(centers) == 0 {
		return nil, fmt.Errorf("%w: no service centers in %s", repository.ErrServiceCenterNotFound, city)
	}
	return centers, nil
}

// resolveCenter ищет центр по точному имени, затем по единственному частичному совпадению.
func (s *Service) resolveCenter(ctx context.Context, name string) (*model.ServiceCenter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("MissingServiceCenter", "service center is required")
	}
	sc, err := s.repo.GetServiceCenter(ctx, name)
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, repository.ErrServiceCenterNotFound) {
		return nil, err
	}

	all, err := s.repo.ListServiceCenters(ctx, "")
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	var found []model.ServiceCenter
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			found = append(found, c)
		}
	}
	if len(found) != 1 {
		return nil, repository.ErrServiceCenterNotFound
	}
	return &found[0], nil
}

// Availability: свободные и занятые слоты центра на день.
type Availability struct {
	ServiceCenter string   `json:"center_name"`
	Date          string   `json:"date"`
	Available     []string `json:"available_slots"`
	Booked        []string `json:"booked_slots"`
}

func (s *Service) dayBounds(day time.Time) (time.Time, time.Time) {
	d := day.In(s.location)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.location)
	return start, start.AddDate(0, 0, 1)
}

// CheckAvailability возвращает слоты центра на указанный день. Прошедшие слоты
// сегодняшнего дня не предлагаются.
func (s *Service) CheckAvailability(ctx context.Context, center string, day time.Time) (*Availability, error) {
	sc, err := s.resolveCenter(ctx, center)
	if err != nil {
		return nil, err
	}
	start, end := s.dayBounds(day)
	now := s.now()
	if !end.After(now) {
		return nil, validationError("PastDate", "cannot check availability for a past date")
	}

	booked, err := s.repo.GetBookedSlots(ctx, sc.Name, start, end)
	if err != nil {
		return nil, err
	}

	res := &Availability{ServiceCenter: sc.Name, Date: start.Format("02/01/2006"), Available: []string{}, Booked: []string{}}
	for _, h := range SlotHours {
		slot := start.Add(time.Duration(h) * time.Hour)
		label := slot.Format("15:04")
		switch {
		case slices.ContainsFunc(booked, slot.Equal):
			res.Booked = append(res.Booked, label)
		case slot.After(now):
			res.Available = append(res.Available, label)
		}
	}
	return res, nil
}

// validateSlot проверяет, что момент совпадает с началом рабочего слота и ещё не наступил.
func (s *Service) validateSlot(at time.Time) error {
	local := at.In(s.location)
	if local.Minute() != 0 || local.Second() != 0 || !slices.Contains(SlotHours, local.Hour()) {
		return validationError("InvalidSlot", "appointments start on the hour at 09:00-12:00 or 14:00-17:00")
	}
	if !at.After(s.now()) {
		return validationError("PastSlot", "appointment time must be in the future")
	}
	return nil
}

// BookingRequest: запрос на запись в сервисный центр.
type BookingRequest struct {
	Registration  string
	ServiceCenter string
	SlotAt        time.Time
	ServiceType   string
	Notes         string
}

// BookAppointment записывает автомобиль клиента в сервисный центр.
func (s *Service) BookAppointment(ctx context.Context, customerID int64, req BookingRequest) (*model.Appointment, error) {
	snap, err := s.ownedSnapshot(ctx, customerID, req.Registration)
	if err != nil {
		return nil, err
	}
	sc, err := s.resolveCenter(ctx, req.ServiceCenter)
	if err != nil {
		return nil, err
	}
	if err := s.validateSlot(req.SlotAt); err != nil {
		return nil, err
	}

	serviceType := strings.TrimSpace(req.ServiceType)
	if serviceType == "" {
		serviceType = defaultServiceType
	}
	now := s.now()
	a := model.Appointment{
		Registration:  snap.Vehicle.Registration,
		CustomerID:    customerID,
		ServiceCenter: sc.Name,
		SlotAt:        req.SlotAt.UTC(),
		ServiceType:   serviceType,
		Status:        model.AppointmentBooked,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := s.repo.CreateAppointment(ctx, a)
	if err != nil {
		return nil, err
	}
	a.ID = id

	s.notify(ctx, notify.NewEvent(notify.KindAppointmentBooked, snap.Owner.Email,
		fmt.Sprintf("Appointment %s confirmed", a.Reference()),
		s.appointmentPayload(snap.Owner, a, sc)))
	return &a, nil
}

// ViewMyAppointments возвращает записи клиента.
func (s *Service) ViewMyAppointments(ctx context.Context, customerID int64) ([]model.Appointment, error) {
	return s.repo.GetAppointmentsByCustomer(ctx, customerID)
}

// CancelAppointment отменяет запись клиента.
func (s *Service) CancelAppointment(ctx context.Context, customerID int64, id int64) (*model.Appointment, error) {
	a, err := s.changeAppointment(ctx, customerID, id, func(a *model.Appointment) error {
		return moveAppointment(a, model.AppointmentCancelled)
	})
	if err != nil {
		return nil, err
	}
	s.notifyAppointment(ctx, notify.KindAppointmentCancelled, fmt.Sprintf("Appointment %s cancelled", a.Reference()), *a)
	return a, nil
}

// RescheduleAppointment переносит запись клиента на другой слот того же центра.
func (s *Service) RescheduleAppointment(ctx context.Context, customerID int64, id int64, slotAt time.Time) (*model.Appointment, error) {
	if err := s.validateSlot(slotAt); err != nil {
		return nil, err
	}
	a, err := s.changeAppointment(ctx, customerID, id, func(a *model.Appointment) error {
		if a.Status != model.AppointmentBooked {
			return illegalAppointmentMove(*a, "rescheduled")
		}
		a.SlotAt = slotAt.UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyAppointment(ctx, notify.KindAppointmentRescheduled, fmt.Sprintf("Appointment %s rescheduled", a.Reference()), *a)
	return a, nil
}

// CompleteAppointment отмечает запись выполненной. Операция сотрудника.
func (s *Service) CompleteAppointment(ctx context.Context, id int64) (*model.Appointment, error) {
	return s.changeAppointment(ctx, 0, id, func(a *model.Appointment) error {
		return moveAppointment(a, model.AppointmentCompleted)
	})
}

// changeAppointment применяет fn к записи. customerID == 0 отключает проверку владельца.
func (s *Service) changeAppointment(ctx context.Context, customerID, id int64, fn func(*model.Appointment) error) (*model.Appointment, error) {
	return s.repo.UpdateAppointment(ctx, id, func(a model.Appointment) (model.Appointment, error) {
		if customerID != 0 && a.CustomerID != customerID {
			return a, repository.ErrAppointmentNotFound
		}
		if err := fn(&a); err != nil {
			return a, err
		}
		a.UpdatedAt = s.now()
		return a, nil
	})
}

// moveAppointment допускает только переходы booked → completed и booked → cancelled.
func moveAppointment(a *model.Appointment, to model.AppointmentStatus) error {
	if a.Status != model.AppointmentBooked {
		return illegalAppointmentMove(*a, string(to))
	}
	a.Status = to
	return nil
}

func illegalAppointmentMove(a model.Appointment, to string) error {
	return model.NewRejection(model.KindIllegalTransition, "IllegalTransition",
		fmt.Sprintf("appointment %s is %s and cannot be %s", a.Reference(), a.Status, to))
}

func (s *Service) notifyAppointment(ctx context.Context, kind notify.Kind, subject string, a model.Appointment) {
	owner, err := s.repo.GetCustomer(ctx, a.CustomerID)
	if err != nil {
		s.logger.Warn("appointment owner lookup failed")
		return
	}
	sc, err := s.repo.GetServiceCenter(ctx, a.ServiceCenter)
	if err != nil {
		sc = &model.ServiceCenter{Name: a.ServiceCenter}
	}
	s.notify(ctx, notify.NewEvent(kind, owner.Email, subject, s.appointmentPayload(*owner, a, sc)))
}

func (s *Service) appointmentPayload(owner model.Customer, a model.Appointment, sc *model.ServiceCenter) map[string]string {
	local := a.SlotAt.In(s.location)
	return map[string]string{
		"customer_name":  owner.Name,
		"reference":      a.Reference(),
		"registration":   a.Registration,
		"service_center": sc.Name,
		"address":        sc.Address,
		"phone":          sc.Phone,
		"date":           local.Format("02/01/2006"),
		"time":           local.Format("15:04"),
		"service_type":   a.ServiceType,
		"status":         string(a.Status),
	}
}

// ParseAppointmentID принимает номер записи в виде MSAP000012 или числа.
func ParseAppointmentID(ref string) (int64, error) {
	id, ok := validation.ParseAppointmentReference(ref)
	if !ok {
		return 0, validationError("InvalidAppointmentReference", "appointment reference must look like MSAP000012")
	}
	return id, nil
}
