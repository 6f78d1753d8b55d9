// Package tools описывает закрытый набор операций, доступных диалоговому
// фронтенду: типизированные запросы, их JSON-схемы и диспетчер.
package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mmeshcher/warranty-desk/internal/model"
)

// Request: запрос одной операции. Реализуют только типы этого пакета.
type Request interface {
	Name() string
	sealed()
}

type sealedRequest struct{}

func (sealedRequest) sealed() {}

// CheckWarrantyStatus: сводка покрытия автомобиля.
type CheckWarrantyStatus struct {
	sealedRequest
	Registration string `json:"vehicle_registration"`
}

// CheckExtendedWarrantyEligibility: право на покупку расширенной гарантии.
type CheckExtendedWarrantyEligibility struct {
	sealedRequest
	Registration string `json:"vehicle_registration"`
}

// PurchaseExtendedWarranty: покупка расширенной гарантии.
type PurchaseExtendedWarranty struct {
	sealedRequest
	Registration string `json:"vehicle_registration"`
	TierYears    int    `json:"tier_years"`
}

// CheckCCPEligibility: право на покупку пакета CCP.
type CheckCCPEligibility struct {
	sealedRequest
	Registration string `json:"vehicle_registration"`
}

// PurchaseCCP: покупка пакета CCP.
type PurchaseCCP struct {
	sealedRequest
	Registration string `json:"vehicle_registration"`
	TierYears    int    `json:"tier_years"`
}

// CancelWarranty: отмена плана с возвратом.
type CancelWarranty struct {
	sealedRequest
	Registration string `json:"vehicle_registration"`
	Plan         string `json:"plan"`
}

// FileCCPClaim: подача претензии по CCP.
type FileCCPClaim struct {
	sealedRequest
	Registration  string      `json:"vehicle_registration"`
	ClaimType     string      `json:"claim_type"`
	Description   string      `json:"description"`
	IncidentDate  string      `json:"incident_date"`
	IncidentTime  string      `json:"incident_time"`
	Amount        model.Money `json:"amount"`
	ServiceCenter string      `json:"service_center"`
}

// GetClaimStatus: статус претензии.
type GetClaimStatus struct {
	sealedRequest
	ClaimID string `json:"claim_id"`
}

// GetCoverageDetails: условия продукта или вида ущерба.
type GetCoverageDetails struct {
	sealedRequest
	CoverageType string `json:"coverage_type"`
}

// LookupPolicy: поиск по документу политики.
type LookupPolicy struct {
	sealedRequest
	Query string `json:"query"`
	K     int    `json:"k"`
}

// FindServiceCenter: сервисные центры города.
type FindServiceCenter struct {
	sealedRequest
	City string `json:"city"`
}

// CheckAvailability: свободные слоты центра на дату.
type CheckAvailability struct {
	sealedRequest
	CenterName string `json:"center_name"`
	Date       string `json:"date"`
}

// BookAppointment: запись в сервисный центр.
type BookAppointment struct {
	sealedRequest
	Registration string `json:"vehicle_registration"`
	CenterName   string `json:"center_name"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	ServiceType  string `json:"service_type"`
	Notes        string `json:"notes"`
}

// ViewMyAppointments: записи клиента.
type ViewMyAppointments struct{ sealedRequest }

// CancelAppointment: отмена записи.
type CancelAppointment struct {
	sealedRequest
	AppointmentID string `json:"appointment_id"`
}

// RescheduleAppointment: перенос записи.
type RescheduleAppointment struct {
	sealedRequest
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
}

// ShowMyWarranties: планы по всем автомобилям клиента.
type ShowMyWarranties struct{ sealedRequest }

// ShowMyClaims: претензии клиента.
type ShowMyClaims struct{ sealedRequest }

// ShowMyVehicles: автомобили клиента.
type ShowMyVehicles struct{ sealedRequest }

// ShowCustomerInfo: профиль клиента.
type ShowCustomerInfo struct{ sealedRequest }

// UpdateOdometer: новое показание одометра.
type UpdateOdometer struct {
	sealedRequest
	Registration string `json:"vehicle_registration"`
	OdometerKm   int    `json:"odometer_km"`
}

func (*CheckWarrantyStatus) Name() string              { return "check_warranty_status" }
func (*CheckExtendedWarrantyEligibility) Name() string { return "check_extended_warranty_eligibility" }
func (*PurchaseExtendedWarranty) Name() string         { return "purchase_extended_warranty" }
func (*CheckCCPEligibility) Name() string              { return "check_ccp_eligibility" }
func (*PurchaseCCP) Name() string                      { return "purchase_ccp_package" }
func (*CancelWarranty) Name() string                   { return "cancel_warranty_service" }
func (*FileCCPClaim) Name() string                     { return "file_ccp_claim" }
func (*GetClaimStatus) Name() string                   { return "get_claim_status" }
func (*GetCoverageDetails) Name() string               { return "get_coverage_details" }
func (*LookupPolicy) Name() string                     { return "lookup_policy" }
func (*FindServiceCenter) Name() string                { return "find_service_center" }
func (*CheckAvailability) Name() string                { return "check_service_center_availability" }
func (*BookAppointment) Name() string                  { return "book_service_appointment" }
func (*ViewMyAppointments) Name() string               { return "view_my_appointments" }
func (*CancelAppointment) Name() string                { return "cancel_appointment" }
func (*RescheduleAppointment) Name() string            { return "reschedule_appointment" }
func (*ShowMyWarranties) Name() string                 { return "show_my_warranties" }
func (*ShowMyClaims) Name() string                     { return "show_my_claims" }
func (*ShowMyVehicles) Name() string                   { return "show_my_vehicles" }
func (*ShowCustomerInfo) Name() string                 { return "show_customer_info" }
func (*UpdateOdometer) Name() string                   { return "update_odometer" }

// ErrUnknownTool возвращается для имени, которого нет в наборе операций.
var ErrUnknownTool = model.NewRejection(model.KindValidation, "UnknownTool", "no such operation")

var constructors = map[string]func() Request{}

func init() {
	for _, d := range definitions {
		constructors[d.Name] = d.New
	}
}

// Decode превращает имя операции и JSON-аргументы в типизированный запрос.
// Это единственное место, где операция выбирается по имени.
func Decode(name string, raw json.RawMessage) (Request, error) {
	newReq, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	req := newReq()

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return req, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, model.NewRejection(model.KindValidation, "InvalidArguments",
			fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}
	return req, nil
}
