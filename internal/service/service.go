// Package service реализует операции службы гарантийной поддержки: проверку
// покрытия, покупку и отмену планов, претензии CCP, запись в сервис и ответы по
// политике.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/warranty-desk/internal/claims"
	"github.com/mmeshcher/warranty-desk/internal/eligibility"
	"github.com/mmeshcher/warranty-desk/internal/embedding"
	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/notify"
	"github.com/mmeshcher/warranty-desk/internal/policy"
	"github.com/mmeshcher/warranty-desk/internal/repository"
	"github.com/mmeshcher/warranty-desk/internal/retrieval"
	"github.com/mmeshcher/warranty-desk/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error

	CreateCustomer(ctx context.Context, c model.Customer) (int64, error)
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*model.Customer, error)

	CreateVehicle(ctx context.Context, v model.Vehicle) error
	GetVehicle(ctx context.Context, registration string) (*model.Vehicle, error)
	GetVehiclesByCustomer(ctx context.Context, customerID int64) ([]model.Vehicle, error)
	GetVehicleSnapshot(ctx context.Context, registration string) (*repository.VehicleSnapshot, error)
	UpdateVehicle(ctx context.Context, registration string, fn repository.MutateFunc) (*repository.Applied, error)

	GetClaim(ctx context.Context, id string) (*model.Claim, error)
	GetClaimsByCustomer(ctx context.Context, customerID int64) ([]model.Claim, error)
	UpdateClaim(ctx context.Context, id string, fn func(model.Claim) (model.Claim, error)) (*model.Claim, error)

	ListServiceCenters(ctx context.Context, city string) ([]model.ServiceCenter, error)
	GetServiceCenter(ctx context.Context, name string) (*model.ServiceCenter, error)

	CreateAppointment(ctx context.Context, a model.Appointment) (int64, error)
	GetAppointment(ctx context.Context, id int64) (*model.Appointment, error)
	GetAppointmentsByCustomer(ctx context.Context, customerID int64) ([]model.Appointment, error)
	GetBookedSlots(ctx context.Context, center string, from, to time.Time) ([]time.Time, error)
	UpdateAppointment(ctx context.Context, id int64, fn func(model.Appointment) (model.Appointment, error)) (*model.Appointment, error)

	notify.Outbox
}

// Notifier отправляет уведомления клиентам.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Event) error { return nil }

// Service содержит бизнес-логику службы гарантийной поддержки.
type Service struct {
	repo     Repository
	policy   *policy.Store
	engine   *eligibility.Engine
	claims   *claims.Manager
	index    *retrieval.Builder
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	location *time.Location
	locks    *keyedMutex
}

// Option настраивает Service.
type Option func(*Service)

// WithNotifier задаёт отправителя уведомлений.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithIndex задаёт построитель поискового индекса по документу политики.
func WithIndex(b *retrieval.Builder) Option {
	return func(s *Service) { s.index = b }
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation задаёт часовой пояс сервисных центров.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// IST: часовой пояс, в котором работают сервисные центры.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// NewService создаёт сервис с указанным хранилищем и правилами.
func NewService(repo Repository, p *policy.Store, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		policy:   p,
		engine:   eligibility.NewEngine(p),
		claims:   claims.NewManager(p),
		notifier: nopNotifier{},
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		location: IST,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.index == nil {
		s.index = retrieval.NewBuilder(embedding.NewHashEmbedder(0), nil, s.logger)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Policy возвращает действующие правила.
func (s *Service) Policy() *policy.Store {
	return s.policy
}

func (s *Service) notify(ctx context.Context, ev notify.Event) bool {
	if ev.Recipient == "" {
		return false
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		if !errors.Is(err, model.KindDeliveryFailed) {
			s.logger.Warn("notification error", zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
		return false
	}
	return true
}

func validationError(code, message string) error {
	return model.NewRejection(model.KindValidation, code, message)
}

// CustomerInput: данные для регистрации клиента.
type CustomerInput struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// RegisterCustomer регистрирует нового клиента.
func (s *Service) RegisterCustomer(ctx context.Context, in CustomerInput) (*model.Customer, error) {
	c := model.Customer{
		Name:      strings.TrimSpace(in.Name),
		Email:     validation.NormalizeEmail(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: s.now(),
	}
	if c.Name == "" {
		return nil, validationError("MissingName", "customer name is required")
	}
	if !validation.IsValidEmail(c.Email) {
		return nil, validationError("InvalidEmail", "a valid email address is required")
	}

	id, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

// AuthenticateCustomer находит клиента по e-mail и возвращает его идентификатор.
func (s *Service) AuthenticateCustomer(ctx context.Context, email string) (int64, error) {
	email = validation.NormalizeEmail(email)
	if !validation.IsValidEmail(email) {
		return 0, validationError("InvalidEmail", "a valid email address is required")
	}
	c, err := s.repo.GetCustomerByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// CustomerInfo возвращает профиль клиента.
func (s *Service) CustomerInfo(ctx context.Context, customerID int64) (*model.Customer, error) {
	return s.repo.GetCustomer(ctx, customerID)
}

// VehicleInput: данные для регистрации автомобиля.
type VehicleInput struct {
	Registration     string
	Model            string
	PurchaseDate     time.Time
	Odometer         int
	AccidentHistory  bool
	OdometerTampered bool
}

// RegisterVehicle добавляет автомобиль клиенту.
func (s *Service) RegisterVehicle(ctx context.Context, customerID int64, in VehicleInput) (*model.Vehicle, error) {
	v := model.Vehicle{
		Registration:     validation.NormalizeRegistration(in.Registration),
		CustomerID:       customerID,
		Model:            strings.TrimSpace(in.Model),
		PurchaseDate:     in.PurchaseDate.UTC(),
		Odometer:         in.Odometer,
		AccidentHistory:  in.AccidentHistory,
		OdometerTampered: in.OdometerTampered,
	}
	if !validation.IsValidRegistration(v.Registration) {
		return nil, validationError("InvalidRegistration", "registration number is not valid")
	}
	if v.Model == "" {
		return nil, validationError("MissingModel", "vehicle model is required")
	}
	if v.PurchaseDate.IsZero() || v.PurchaseDate.After(s.now()) {
		return nil, validationError("InvalidPurchaseDate", "purchase date must not be in the future")
	}
	if v.Odometer < 0 {
		return nil, validationError("InvalidOdometer", "odometer reading cannot be negative")
	}

	if err := s.repo.CreateVehicle(ctx, v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ShowMyVehicles возвращает автомобили клиента.
func (s *Service) ShowMyVehicles(ctx context.Context, customerID int64) ([]model.Vehicle, error) {
	return s.repo.GetVehiclesByCustomer(ctx, customerID)
}

// UpdateOdometer сохраняет новое показание одометра. Уменьшение запрещено.
func (s *Service) UpdateOdometer(ctx context.Context, customerID int64, registration string, km int) (*model.Vehicle, error) {
	if km < 0 {
		return nil, validationError("InvalidOdometer", "odometer reading cannot be negative")
	}
	registration = validation.NormalizeRegistration(registration)

	unlock := s.locks.Lock(registration)
	defer unlock()

	var updated model.Vehicle
	_, err := s.repo.UpdateVehicle(ctx, registration, func(snap *repository.VehicleSnapshot) (*repository.Mutation, error) {
		if snap.Vehicle.CustomerID != customerID {
			return nil, repository.ErrVehicleNotFound
		}
		if km < snap.Vehicle.Odometer {
			return nil, repository.ErrOdometerDecrease
		}
		updated = snap.Vehicle
		updated.Odometer = km
		return &repository.Mutation{Odometer: &km}, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ownedSnapshot читает снимок автомобиля и проверяет, что он принадлежит клиенту.
// Чужой автомобиль неотличим от несуществующего.
func (s *Service) ownedSnapshot(ctx context.Context, customerID int64, registration string) (*repository.VehicleSnapshot, error) {
	registration = validation.NormalizeRegistration(registration)
	if !validation.IsValidRegistration(registration) {
		return nil, validationError("InvalidRegistration", "registration number is not valid")
	}
	snap, err := s.repo.GetVehicleSnapshot(ctx, registration)
	if err != nil {
		return nil, err
	}
	if snap.Vehicle.CustomerID != customerID {
		return nil, repository.ErrVehicleNotFound
	}
	return snap, nil
}
