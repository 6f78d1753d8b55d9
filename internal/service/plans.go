package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mmeshcher/warranty-desk/internal/eligibility"
	"github.com/mmeshcher/warranty-desk/internal/metrics"
	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/notify"
	"github.com/mmeshcher/warranty-desk/internal/policy"
	"github.com/mmeshcher/warranty-desk/internal/repository"
)

// ErrNoActivePlan возвращается при отмене плана, которого у автомобиля нет.
var ErrNoActivePlan = model.NewRejection(model.KindIneligible, "NoActivePlan", "the vehicle has no active plan of this kind")

// TierOffer: вариант плана, доступный к покупке.
type TierOffer struct {
	Years       int         `json:"tier_years"`
	MaxOdometer int         `json:"max_odometer_km"`
	Price       model.Money `json:"price"`
	PriceText   string      `json:"price_display"`
}

func offers(tiers []policy.Tier) []TierOffer {
	res := make([]TierOffer, 0, len(tiers))
	for _, t := range tiers {
		res = append(res, TierOffer{Years: t.Years, MaxOdometer: t.MaxOdometer, Price: t.Price, PriceText: t.Price.String()})
	}
	return res
}

// PurchaseOptions: ответ на проверку права на покупку.
type PurchaseOptions struct {
	Registration string              `json:"registration"`
	Plan         model.PlanKind      `json:"plan"`
	Eligibility  eligibility.Verdict `json:"eligibility"`
	Message      string              `json:"message,omitempty"`
	Tiers        []TierOffer         `json:"tiers,omitempty"`
}

func purchaseOptions(reg string, kind model.PlanKind, v eligibility.Verdict) *PurchaseOptions {
	res := &PurchaseOptions{Registration: reg, Plan: kind, Eligibility: v}
	if v.Eligible {
		res.Tiers = offers(v.Tiers)
	} else {
		res.Message = v.Reason.Rejection().Message
	}
	return res
}

// CheckWarrantyStatus возвращает сводку покрытия автомобиля на сегодня.
func (s *Service) CheckWarrantyStatus(ctx context.Context, customerID int64, registration string) (*eligibility.Summary, error) {
	snap, err := s.ownedSnapshot(ctx, customerID, registration)
	if err != nil {
		return nil, err
	}
	summary := s.engine.Status(snap.Vehicle, snap.LatestWarranty(), snap.LatestCCP(), s.now())
	return &summary, nil
}

// VehiclePlans: автомобиль со всеми его планами.
type VehiclePlans struct {
	Vehicle    model.Vehicle            `json:"vehicle"`
	Summary    eligibility.Summary      `json:"summary"`
	Warranties []model.ExtendedWarranty `json:"extended_warranties"`
	CCPs       []model.CCPPackage       `json:"ccp_packages"`
}

// ShowMyWarranties возвращает планы по всем автомобилям клиента.
func (s *Service) ShowMyWarranties(ctx context.Context, customerID int64) ([]VehiclePlans, error) {
	vehicles, err := s.repo.GetVehiclesByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := make([]VehiclePlans, 0, len(vehicles))
	for _, v := range vehicles {
		snap, err := s.repo.GetVehicleSnapshot(ctx, v.Registration)
		if err != nil {
			return nil, err
		}
		res = append(res, VehiclePlans{
			Vehicle:    snap.Vehicle,
			Summary:    s.engine.Status(snap.Vehicle, snap.LatestWarranty(), snap.LatestCCP(), now),
			Warranties: snap.Warranties,
			CCPs:       snap.CCPs,
		})
	}
	return res, nil
}

// CheckExtendedWarrantyEligibility проверяет право на покупку расширенной гарантии.
func (s *Service) CheckExtendedWarrantyEligibility(ctx context.Context, customerID int64, registration string) (*PurchaseOptions, error) {
	snap, err := s.ownedSnapshot(ctx, customerID, registration)
	if err != nil {
		return nil, err
	}
	v := s.engine.ExtendedWarrantyEligibleToPurchase(snap.Vehicle, snap.ActiveWarranty(), s.now())
	return purchaseOptions(snap.Vehicle.Registration, model.PlanExtendedWarranty, v), nil
}

// CheckCCPEligibility проверяет право на покупку пакета CCP.
func (s *Service) CheckCCPEligibility(ctx context.Context, customerID int64, registration string) (*PurchaseOptions, error) {
	snap, err := s.ownedSnapshot(ctx, customerID, registration)
	if err != nil {
		return nil, err
	}
	v := s.engine.CCPEligibleToPurchase(snap.Vehicle, snap.ActiveWarranty(), snap.ActiveCCP(), s.now())
	return purchaseOptions(snap.Vehicle.Registration, model.PlanCCP, v), nil
}

// pickTier выбирает вариант из доступных. Вариант, существующий в политике, но
// недоступный по пробегу, даёт OdometerExceeded.
func pickTier(available, all []policy.Tier, years int) (policy.Tier, error) {
	for _, t := range available {
		if t.Years == years {
			return t, nil
		}
	}
	for _, t := range all {
		if t.Years == years {
			return policy.Tier{}, eligibility.ReasonOdometerExceeded.Rejection()
		}
	}
	return policy.Tier{}, eligibility.ReasonUnknownTier.Rejection()
}

// PurchaseExtendedWarranty оформляет расширенную гарантию выбранного срока.
func (s *Service) PurchaseExtendedWarranty(ctx context.Context, customerID int64, registration string, tierYears int) (*model.ExtendedWarranty, error) {
	snap, err := s.ownedSnapshot(ctx, customerID, registration)
	if err != nil {
		return nil, err
	}
	reg := snap.Vehicle.Registration

	unlock := s.locks.Lock(reg)
	defer unlock()

	var (
		bought model.ExtendedWarranty
		owner  model.Customer
		cover  eligibility.Coverage
	)
	applied, err := s.repo.UpdateVehicle(ctx, reg, func(snap *repository.VehicleSnapshot) (*repository.Mutation, error) {
		if snap.Vehicle.CustomerID != customerID {
			return nil, repository.ErrVehicleNotFound
		}
		now := s.now()
		verdict := s.engine.ExtendedWarrantyEligibleToPurchase(snap.Vehicle, snap.ActiveWarranty(), now)
		if !verdict.Eligible {
			return nil, verdict.Reason.Rejection()
		}
		tier, err := pickTier(verdict.Tiers, s.policy.ExtendedTiers(), tierYears)
		if err != nil {
			return nil, err
		}
		bought = model.ExtendedWarranty{
			Registration: reg,
			TierYears:    tier.Years,
			PurchaseDate: now,
			Price:        tier.Price,
			Status:       model.PlanStatusActive,
		}
		owner = snap.Owner
		cover = s.engine.ExtendedCoverage(snap.Vehicle, bought)
		return &repository.Mutation{NewWarranty: &bought}, nil
	})
	if err != nil {
		return nil, err
	}
	bought.ID = applied.WarrantyID

	metrics.PlanPurchases.WithLabelValues(string(model.PlanExtendedWarranty), strconv.Itoa(bought.TierYears)).Inc()
	s.notify(ctx, notify.NewEvent(notify.KindPurchaseConfirmation, owner.Email,
		fmt.Sprintf("Extended warranty for %s", reg),
		map[string]string{
			"customer_name": owner.Name,
			"registration":  reg,
			"plan":          "Extended Warranty",
			"tier":          yearsLabel(bought.TierYears),
			"price":         bought.Price.String(),
			"valid_until":   formatDate(cover.End),
			"max_odometer":  fmt.Sprintf("%d km", cover.MaxOdometer),
		}))
	return &bought, nil
}

// PurchaseCCP оформляет пакет CCP выбранного срока.
func (s *Service) PurchaseCCP(ctx context.Context, customerID int64, registration string, tierYears int) (*model.CCPPackage, error) {
	snap, err := s.ownedSnapshot(ctx, customerID, registration)
	if err != nil {
		return nil, err
	}
	reg := snap.Vehicle.Registration

	unlock := s.locks.Lock(reg)
	defer unlock()

	var (
		bought model.CCPPackage
		owner  model.Customer
	)
	applied, err := s.repo.UpdateVehicle(ctx, reg, func(snap *repository.VehicleSnapshot) (*repository.Mutation, error) {
		if snap.Vehicle.CustomerID != customerID {
			return nil, repository.ErrVehicleNotFound
		}
		now := s.now()
		verdict := s.engine.CCPEligibleToPurchase(snap.Vehicle, snap.ActiveWarranty(), snap.ActiveCCP(), now)
		if !verdict.Eligible {
			return nil, verdict.Reason.Rejection()
		}
		tier, err := pickTier(verdict.Tiers, s.policy.CCPTiers(), tierYears)
		if err != nil {
			return nil, err
		}
		bought = model.CCPPackage{
			Registration:       reg,
			TierYears:          tier.Years,
			PurchaseDate:       now,
			OdometerAtPurchase: snap.Vehicle.Odometer,
			Price:              tier.Price,
			Status:             model.PlanStatusActive,
		}
		owner = snap.Owner
		return &repository.Mutation{NewCCP: &bought}, nil
	})
	if err != nil {
		return nil, err
	}
	bought.ID = applied.CCPID

	cover := s.engine.CCPCoverage(bought)
	metrics.PlanPurchases.WithLabelValues(string(model.PlanCCP), strconv.Itoa(bought.TierYears)).Inc()
	s.notify(ctx, notify.NewEvent(notify.KindPurchaseConfirmation, owner.Email,
		fmt.Sprintf("Customer Convenience Package for %s", reg),
		map[string]string{
			"customer_name": owner.Name,
			"registration":  reg,
			"plan":          "Customer Convenience Package",
			"tier":          yearsLabel(bought.TierYears),
			"price":         bought.Price.String(),
			"valid_until":   formatDate(cover.End),
			"max_odometer":  fmt.Sprintf("%d km", cover.MaxOdometer),
		}))
	return &bought, nil
}

// Cancellation: итог отмены плана.
type Cancellation struct {
	Registration string         `json:"registration"`
	Plan         model.PlanKind `json:"plan"`
	PlanID       int64          `json:"plan_id"`
	CancelledAt  time.Time      `json:"cancelled_at"`
	Refund       model.Money    `json:"refund"`
	RefundText   string         `json:"refund_display"`
	// VoidedCCP заполняется, если вместе с расширенной гарантией отменён пакет CCP.
	VoidedCCP    *model.CCPPackage `json:"voided_ccp,omitempty"`
	VoidedClaims []string          `json:"voided_claims,omitempty"`
}

// hasFiledClaim сообщает, подавались ли по автомобилю претензии после покупки
// плана. Отклонённые претензии тоже считаются поданными.
func hasFiledClaim(history []model.Claim, since time.Time) bool {
	for _, c := range history {
		if !c.ReportedAt.Before(since) {
			return true
		}
	}
	return false
}

// CancelPlan отменяет активный план и возвращает сумму возврата. Отмена
// расширенной гарантии аннулирует и пакет CCP; незакрытые претензии аннулируются,
// только если это разрешено политикой.
func (s *Service) CancelPlan(ctx context.Context, customerID int64, registration string, kind model.PlanKind) (*Cancellation, error) {
	if kind != model.PlanExtendedWarranty && kind != model.PlanCCP {
		return nil, validationError("UnknownPlan", fmt.Sprintf("unknown plan %q", kind))
	}
	snap, err := s.ownedSnapshot(ctx, customerID, registration)
	if err != nil {
		return nil, err
	}
	reg := snap.Vehicle.Registration

	unlock := s.locks.Lock(reg)
	defer unlock()

	var (
		res   *Cancellation
		owner model.Customer
	)
	_, err = s.repo.UpdateVehicle(ctx, reg, func(snap *repository.VehicleSnapshot) (*repository.Mutation, error) {
		if snap.Vehicle.CustomerID != customerID {
			return nil, repository.ErrVehicleNotFound
		}
		owner = snap.Owner
		now := s.now()
		m := &repository.Mutation{}
		res = &Cancellation{Registration: reg, Plan: kind, CancelledAt: now}

		if kind == model.PlanCCP {
			p := snap.ActiveCCP()
			if p == nil {
				return nil, ErrNoActivePlan
			}
			s.cancelCCP(p, snap.Claims, now)
			res.PlanID, res.Refund = p.ID, p.Refund
			m.UpdateCCPs = append(m.UpdateCCPs, *p)
			return m, nil
		}

		w := snap.ActiveWarranty()
		if w == nil {
			return nil, ErrNoActivePlan
		}
		w.Refund = s.engine.ComputeRefund(eligibility.ExtendedPlan(*w), now, hasFiledClaim(snap.Claims, w.PurchaseDate))
		w.Status = model.PlanStatusCancelled
		w.CancelledAt = &now
		res.PlanID, res.Refund = w.ID, w.Refund
		m.UpdateWarranties = append(m.UpdateWarranties, *w)

		if p := snap.ActiveCCP(); p != nil {
			s.cancelCCP(p, snap.Claims, now)
			res.VoidedCCP = p
			m.UpdateCCPs = append(m.UpdateCCPs, *p)
		}

		for _, c := range snap.Claims {
			if !s.claims.CanVoid(c) {
				continue
			}
			voided, err := s.claims.Void(ctx, c, now)
			if err != nil {
				return nil, err
			}
			m.UpdateClaims = append(m.UpdateClaims, voided)
			res.VoidedClaims = append(res.VoidedClaims, voided.ID)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	res.RefundText = res.Refund.String()

	metrics.PlanCancellations.WithLabelValues(string(kind)).Inc()
	if res.VoidedCCP != nil {
		metrics.PlanCancellations.WithLabelValues(string(model.PlanCCP)).Inc()
	}
	for range res.VoidedClaims {
		metrics.ClaimTransitions.WithLabelValues(string(model.ClaimRejected)).Inc()
	}

	payload := map[string]string{
		"customer_name": owner.Name,
		"registration":  reg,
		"plan":          planLabel(kind),
		"cancelled_on":  formatDate(res.CancelledAt),
		"refund":        res.RefundText,
	}
	if res.VoidedCCP != nil {
		payload["ccp_refund"] = res.VoidedCCP.Refund.String()
	}
	s.notify(ctx, notify.NewEvent(notify.KindWarrantyCancelled, owner.Email,
		fmt.Sprintf("%s cancelled for %s", planLabel(kind), reg), payload))
	return res, nil
}

func (s *Service) cancelCCP(p *model.CCPPackage, history []model.Claim, at time.Time) {
	p.Refund = s.engine.ComputeRefund(eligibility.CCPPlan(*p), at, hasFiledClaim(history, p.PurchaseDate))
	p.Status = model.PlanStatusCancelled
	p.CancelledAt = &at
}

func planLabel(kind model.PlanKind) string {
	if kind == model.PlanCCP {
		return "Customer Convenience Package"
	}
	return "Extended Warranty"
}

func yearsLabel(years int) string {
	if years == 1 {
		return "1 year"
	}
	return fmt.Sprintf("%d years", years)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}
