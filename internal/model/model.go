// Package model содержит доменные сущности сервиса гарантийной поддержки.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Customer представляет зарегистрированного клиента.
type Customer struct {
	ID        int64     `json:"customer_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Vehicle описывает автомобиль клиента. Дата покупки не меняется после создания,
// показания одометра не убывают.
type Vehicle struct {
	Registration     string    `json:"registration"`
	CustomerID       int64     `json:"customer_id"`
	Model            string    `json:"model"`
	PurchaseDate     time.Time `json:"purchase_date"`
	Odometer         int       `json:"odometer_km"`
	AccidentHistory  bool      `json:"accident_history"`
	OdometerTampered bool      `json:"odometer_tampered"`
}

// PlanStatus описывает статус расширенной гарантии или пакета CCP.
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCancelled PlanStatus = "cancelled"
	PlanStatusExpired   PlanStatus = "expired"
)

// PlanKind различает расширенную гарантию и пакет CCP.
type PlanKind string

const (
	PlanExtendedWarranty PlanKind = "extended_warranty"
	PlanCCP              PlanKind = "ccp"
)

// ExtendedWarranty описывает купленное продление заводской гарантии.
type ExtendedWarranty struct {
	ID           int64      `json:"id"`
	Registration string     `json:"vehicle_registration"`
	TierYears    int        `json:"tier_years"`
	PurchaseDate time.Time  `json:"purchase_date"`
	Price        Money      `json:"price"`
	Status       PlanStatus `json:"status"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	Refund       Money      `json:"refund"`
}

// IsActive сообщает, что гарантия не отменена и не истекла.
func (w *ExtendedWarranty) IsActive() bool {
	return w != nil && w.Status == PlanStatusActive
}

// CCPPackage описывает пакет Customer Convenience Package.
type CCPPackage struct {
	ID                 int64      `json:"id"`
	Registration       string     `json:"vehicle_registration"`
	TierYears          int        `json:"tier_years"`
	PurchaseDate       time.Time  `json:"purchase_date"`
	OdometerAtPurchase int        `json:"odometer_at_purchase_km"`
	Price              Money      `json:"price"`
	Status             PlanStatus `json:"status"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	Refund             Money      `json:"refund"`
}

// IsActive сообщает, что пакет не отменён и не истёк.
func (p *CCPPackage) IsActive() bool {
	return p != nil && p.Status == PlanStatusActive
}

// DamageType описывает вид ущерба, покрываемого CCP.
type DamageType string

const (
	DamageWater  DamageType = "water"
	DamageFuel   DamageType = "fuel"
	DamageRodent DamageType = "rodent"
	DamageInsect DamageType = "insect"
)

// DamageTypes перечисляет все виды ущерба в порядке документа политики.
var DamageTypes = []DamageType{DamageWater, DamageFuel, DamageRodent, DamageInsect}

// ParseDamageType принимает как короткие, так и полные имена ("water", "water_damage").
func ParseDamageType(s string) (DamageType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "_damage")
	switch DamageType(s) {
	case DamageWater, DamageFuel, DamageRodent, DamageInsect:
		return DamageType(s), true
	case "adulterated_fuel":
		return DamageFuel, true
	}
	return "", false
}

// ClaimStatus описывает этап жизненного цикла претензии.
type ClaimStatus string

const (
	ClaimSubmitted   ClaimStatus = "submitted"
	ClaimUnderReview ClaimStatus = "under_review"
	ClaimApproved    ClaimStatus = "approved"
	ClaimRejected    ClaimStatus = "rejected"
	ClaimClosed      ClaimStatus = "closed"
)

// Claim описывает претензию по пакету CCP. Отклонённые претензии тоже хранятся.
type Claim struct {
	ID            string      `json:"claim_id"`
	Registration  string      `json:"vehicle_registration"`
	DamageType    DamageType  `json:"damage_type"`
	Description   string      `json:"description"`
	ServiceCenter string      `json:"service_center"`
	IncidentAt    time.Time   `json:"incident_at"`
	ReportedAt    time.Time   `json:"reported_at"`
	Amount        Money       `json:"amount"`
	Status        ClaimStatus `json:"status"`
	RejectReason  string      `json:"reject_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ClaimReference форматирует номер претензии: CCP и шесть цифр последовательности.
func ClaimReference(seq int64) string {
	return fmt.Sprintf("CCP%06d", seq)
}

// ServiceCenter описывает авторизованный сервисный центр.
type ServiceCenter struct {
	Name    string `json:"center_name"`
	City    string `json:"city"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// AppointmentStatus описывает статус записи в сервисный центр.
type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment описывает запись автомобиля в сервисный центр.
type Appointment struct {
	ID            int64             `json:"appointment_id"`
	Registration  string            `json:"vehicle_registration"`
	CustomerID    int64             `json:"customer_id"`
	ServiceCenter string            `json:"service_center"`
	SlotAt        time.Time         `json:"slot_at"`
	ServiceType   string            `json:"service_type"`
	Status        AppointmentStatus `json:"status"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Reference возвращает номер подтверждения записи.
func (a Appointment) Reference() string {
	return fmt.Sprintf("MSAP%06d", a.ID)
}

// Notification: уведомление в очереди повторной доставки.
type Notification struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"`
	Recipient     string            `json:"recipient"`
	Subject       string            `json:"subject"`
	Payload       map[string]string `json:"payload"`
	Attempts      int               `json:"attempts"`
	LastError     string            `json:"last_error,omitempty"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	CreatedAt     time.Time         `json:"created_at"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
}
