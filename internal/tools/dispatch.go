package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/warranty-desk/internal/eligibility"
	"github.com/mmeshcher/warranty-desk/internal/metrics"
	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/service"
)

const (
	dateLayout = "02/01/2006"
	timeLayout = "15:04"
)

// Service: операции, которые вызывает диспетчер.
type Service interface {
	CheckWarrantyStatus(ctx context.Context, customerID int64, registration string) (*eligibility.Summary, error)
	CheckExtendedWarrantyEligibility(ctx context.Context, customerID int64, registration string) (*service.PurchaseOptions, error)
	PurchaseExtendedWarranty(ctx context.Context, customerID int64, registration string, tierYears int) (*model.ExtendedWarranty, error)
	CheckCCPEligibility(ctx context.Context, customerID int64, registration string) (*service.PurchaseOptions, error)
	PurchaseCCP(ctx context.Context, customerID int64, registration string, tierYears int) (*model.CCPPackage, error)
	CancelPlan(ctx context.Context, customerID int64, registration string, kind model.PlanKind) (*service.Cancellation, error)
	FileCCPClaim(ctx context.Context, customerID int64, req service.ClaimRequest) (*service.ClaimOutcome, error)
	GetClaimStatus(ctx context.Context, customerID int64, id string) (*model.Claim, error)
	GetCoverageDetails(ctx context.Context, topic string) (*service.CoverageDetails, error)
	GetPolicyAnswer(ctx context.Context, question string, k int) (*service.PolicyAnswer, error)
	FindServiceCenter(ctx context.Context, city string) ([]model.ServiceCenter, error)
	CheckAvailability(ctx context.Context, center string, day time.Time) (*service.Availability, error)
	BookAppointment(ctx context.Context, customerID int64, req service.BookingRequest) (*model.Appointment, error)
	ViewMyAppointments(ctx context.Context, customerID int64) ([]model.Appointment, error)
	CancelAppointment(ctx context.Context, customerID int64, id int64) (*model.Appointment, error)
	RescheduleAppointment(ctx context.Context, customerID int64, id int64, slotAt time.Time) (*model.Appointment, error)
	ShowMyWarranties(ctx context.Context, customerID int64) ([]service.VehiclePlans, error)
	ShowMyClaims(ctx context.Context, customerID int64) ([]model.Claim, error)
	ShowMyVehicles(ctx context.Context, customerID int64) ([]model.Vehicle, error)
	CustomerInfo(ctx context.Context, customerID int64) (*model.Customer, error)
	UpdateOdometer(ctx context.Context, customerID int64, registration string, km int) (*model.Vehicle, error)
}

// AppointmentView: запись в сервис с датой и временем по местному времени.
type AppointmentView struct {
	Reference     string                  `json:"appointment_id"`
	Registration  string                  `json:"vehicle_registration"`
	ServiceCenter string                  `json:"service_center"`
	Date          string                  `json:"date"`
	Time          string                  `json:"time"`
	ServiceType   string                  `json:"service_type"`
	Status        model.AppointmentStatus `json:"status"`
	Notes         string                  `json:"notes,omitempty"`
}

// Dispatcher выполняет запросы фронтенда от имени клиента.
type Dispatcher struct {
	svc      Service
	location *time.Location
	logger   *zap.Logger
}

// NewDispatcher создаёт диспетчер. Даты и время запросов читаются в зоне loc.
func NewDispatcher(svc Service, loc *time.Location, logger *zap.Logger) *Dispatcher {
	if loc == nil {
		loc = service.IST
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{svc: svc, location: loc, logger: logger}
}

// Dispatch выполняет запрос и возвращает результат для сериализации в JSON.
func (d *Dispatcher) Dispatch(ctx context.Context, customerID int64, req Request) (any, error) {
	res, err := d.dispatch(ctx, customerID, req)
	metrics.ToolCalls.WithLabelValues(req.Name(), resultLabel(err)).Inc()
	if err != nil {
		var rej *model.Rejection
		if !errors.As(err, &rej) {
			d.logger.Error("tool call failed", zap.String("tool", req.Name()), zap.Error(err))
		}
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, cid int64, req Request) (any, error) {
	switch r := req.(type) {
	case *CheckWarrantyStatus:
		return d.svc.CheckWarrantyStatus(ctx, cid, r.Registration)
	case *CheckExtendedWarrantyEligibility:
		return d.svc.CheckExtendedWarrantyEligibility(ctx, cid, r.Registration)
	case *PurchaseExtendedWarranty:
		return d.svc.PurchaseExtendedWarranty(ctx, cid, r.Registration, r.TierYears)
	case *CheckCCPEligibility:
		return d.svc.CheckCCPEligibility(ctx, cid, r.Registration)
	case *PurchaseCCP:
		return d.svc.PurchaseCCP(ctx, cid, r.Registration, r.TierYears)
	case *CancelWarranty:
		kind, err := planKind(r.Plan)
		if err != nil {
			return nil, err
		}
		return d.svc.CancelPlan(ctx, cid, r.Registration, kind)
	case *FileCCPClaim:
		clock := r.IncidentTime
		if strings.TrimSpace(clock) == "" {
			clock = "00:00"
		}
		incident, err := d.parseDateTime(r.IncidentDate, clock)
		if err != nil {
			return nil, err
		}
		return d.svc.FileCCPClaim(ctx, cid, service.ClaimRequest{
			Registration:  r.Registration,
			DamageType:    r.ClaimType,
			IncidentAt:    incident,
			Amount:        r.Amount,
			Description:   r.Description,
			ServiceCenter: r.ServiceCenter,
		})
	case *GetClaimStatus:
		return d.svc.GetClaimStatus(ctx, cid, r.ClaimID)
	case *GetCoverageDetails:
		return d.svc.GetCoverageDetails(ctx, r.CoverageType)
	case *LookupPolicy:
		return d.svc.GetPolicyAnswer(ctx, r.Query, r.K)
	case *FindServiceCenter:
		return d.svc.FindServiceCenter(ctx, r.City)
	case *CheckAvailability:
		day, err := d.parseDate(r.Date)
		if err != nil {
			return nil, err
		}
		return d.svc.CheckAvailability(ctx, r.CenterName, day)
	case *BookAppointment:
		at, err := d.parseDateTime(r.Date, r.Time)
		if err != nil {
			return nil, err
		}
		a, err := d.svc.BookAppointment(ctx, cid, service.BookingRequest{
			Registration:  r.Registration,
			ServiceCenter: r.CenterName,
			SlotAt:        at,
			ServiceType:   r.ServiceType,
			Notes:         r.Notes,
		})
		if err != nil {
			return nil, err
		}
		return d.appointmentView(*a), nil
	case *ViewMyAppointments:
		list, err := d.svc.ViewMyAppointments(ctx, cid)
		if err != nil {
			return nil, err
		}
		views := make([]AppointmentView, 0, len(list))
		for _, a := range list {
			views = append(views, d.appointmentView(a))
		}
		return views, nil
	case *CancelAppointment:
		id, err := service.ParseAppointmentID(r.AppointmentID)
		if err != nil {
			return nil, err
		}
		a, err := d.svc.CancelAppointment(ctx, cid, id)
		if err != nil {
			return nil, err
		}
		return d.appointmentView(*a), nil
	case *RescheduleAppointment:
		id, err := service.ParseAppointmentID(r.AppointmentID)
		if err != nil {
			return nil, err
		}
		at, err := d.parseDateTime(r.Date, r.Time)
		if err != nil {
			return nil, err
		}
		a, err := d.svc.RescheduleAppointment(ctx, cid, id, at)
		if err != nil {
			return nil, err
		}
		return d.appointmentView(*a), nil
	case *ShowMyWarranties:
		return d.svc.ShowMyWarranties(ctx, cid)
	case *ShowMyClaims:
		return d.svc.ShowMyClaims(ctx, cid)
	case *ShowMyVehicles:
		return d.svc.ShowMyVehicles(ctx, cid)
	case *ShowCustomerInfo:
		return d.svc.CustomerInfo(ctx, cid)
	case *UpdateOdometer:
		return d.svc.UpdateOdometer(ctx, cid, r.Registration, r.OdometerKm)
	}
	panic(fmt.Sprintf("tools: unhandled request %T", req))
}

func (d *Dispatcher) appointmentView(a model.Appointment) AppointmentView {
	local := a.SlotAt.In(d.location)
	return AppointmentView{
		Reference:     a.Reference(),
		Registration:  a.Registration,
		ServiceCenter: a.ServiceCenter,
		Date:          local.Format(dateLayout),
		Time:          local.Format(timeLayout),
		ServiceType:   a.ServiceType,
		Status:        a.Status,
		Notes:         a.Notes,
	}
}

func (d *Dispatcher) parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), d.location)
	if err != nil {
		return time.Time{}, model.NewRejection(model.KindValidation, "InvalidDate",
			fmt.Sprintf("date %q must be in DD/MM/YYYY format", s))
	}
	return t, nil
}

func (d *Dispatcher) parseDateTime(date, clock string) (time.Time, error) {
	day, err := d.parseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	hm, err := time.Parse(timeLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, model.NewRejection(model.KindValidation, "InvalidTime",
			fmt.Sprintf("time %q must be in HH:MM format", clock))
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, d.location), nil
}

func planKind(s string) (model.PlanKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "extended_warranty", "extended", "ew":
		return model.PlanExtendedWarranty, nil
	case "ccp", "customer_convenience_package":
		return model.PlanCCP, nil
	}
	return "", model.NewRejection(model.KindValidation, "UnknownPlan",
		fmt.Sprintf("unknown plan %q; use extended_warranty or ccp", s))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var rej *model.Rejection
	if errors.As(err, &rej) {
		return string(rej.Kind)
	}
	var kind model.ErrorKind
	if errors.As(err, &kind) {
		return string(kind)
	}
	return "error"
}
