package repository

import (
	"github.com/mmeshcher/warranty-desk/internal/model"
)

var (
	// ErrCustomerExists возвращается при регистрации клиента с уже занятым e-mail.
	ErrCustomerExists = model.NewRejection(model.KindValidation, "CustomerExists", "customer with this email already exists")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = model.NewRejection(model.KindNotFound, "CustomerNotFound", "customer not found")
	// ErrVehicleExists возвращается при повторной регистрации номера.
	ErrVehicleExists = model.NewRejection(model.KindValidation, "VehicleExists", "vehicle with this registration already exists")
	// ErrVehicleNotFound возвращается, если автомобиль не найден.
	ErrVehicleNotFound = model.NewRejection(model.KindNotFound, "VehicleNotFound", "vehicle not found")
	// ErrClaimNotFound возвращается, если претензия не найдена.
	ErrClaimNotFound = model.NewRejection(model.KindNotFound, "ClaimNotFound", "claim not found")
	// ErrServiceCenterNotFound возвращается, если сервисный центр не найден.
	ErrServiceCenterNotFound = model.NewRejection(model.KindNotFound, "ServiceCenterNotFound", "service center not found")
	// ErrAppointmentNotFound возвращается, если запись не найдена.
	ErrAppointmentNotFound = model.NewRejection(model.KindNotFound, "AppointmentNotFound", "appointment not found")
	// ErrSlotTaken возвращается, если слот сервисного центра уже занят.
	ErrSlotTaken = model.NewRejection(model.KindIneligible, "SlotTaken", "this time slot is already booked")
	// ErrOdometerDecrease возвращается при попытке уменьшить показания одометра.
	ErrOdometerDecrease = model.NewRejection(model.KindValidation, "OdometerDecrease", "odometer reading cannot decrease")
)

// VehicleSnapshot: согласованный срез данных автомобиля, на котором принимаются
// решения о покупке, отмене и претензиях.
type VehicleSnapshot struct {
	Vehicle    model.Vehicle
	Owner      model.Customer
	Warranties []model.ExtendedWarranty
	CCPs       []model.CCPPackage
	Claims     []model.Claim
}

// ActiveWarranty возвращает действующую расширенную гарантию или nil.
func (s *VehicleSnapshot) ActiveWarranty() *model.ExtendedWarranty {
	for i := len(s.Warranties) - 1; i >= 0; i-- {
		if s.Warranties[i].IsActive() {
			w := s.Warranties[i]
			return &w
		}
	}
	return nil
}

// LatestWarranty возвращает последнюю купленную расширенную гарантию или nil.
func (s *VehicleSnapshot) LatestWarranty() *model.ExtendedWarranty {
	if len(s.Warranties) == 0 {
		return nil
	}
	w := s.Warranties[len(s.Warranties)-1]
	return &w
}

// ActiveCCP возвращает действующий пакет CCP или nil.
func (s *VehicleSnapshot) ActiveCCP() *model.CCPPackage {
	for i := len(s.CCPs) - 1; i >= 0; i-- {
		if s.CCPs[i].IsActive() {
			p := s.CCPs[i]
			return &p
		}
	}
	return nil
}

// LatestCCP возвращает последний купленный пакет CCP или nil.
func (s *VehicleSnapshot) LatestCCP() *model.CCPPackage {
	if len(s.CCPs) == 0 {
		return nil
	}
	p := s.CCPs[len(s.CCPs)-1]
	return &p
}

// Mutation: изменения, вычисленные по снимку и применяемые атомарно.
type Mutation struct {
	Odometer         *int
	NewWarranty      *model.ExtendedWarranty
	NewCCP           *model.CCPPackage
	UpdateWarranties []model.ExtendedWarranty
	UpdateCCPs       []model.CCPPackage
	NewClaim         *model.Claim
	UpdateClaims     []model.Claim
}

// Applied содержит идентификаторы, выданные при применении Mutation.
type Applied struct {
	WarrantyID int64
	CCPID      int64
	Claim      *model.Claim
}

// MutateFunc вычисляет изменения по снимку. Ошибка отменяет все изменения.
type MutateFunc func(snap *VehicleSnapshot) (*Mutation, error)
