// Package eligibility вычисляет покрытие, право на покупку и сумму возврата.
// Все функции чистые: результат зависит только от аргументов и правил.
package eligibility

import (
	"math"
	"time"

	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/policy"
)

// Reason: причина отказа в покупке.
type Reason string

const (
	ReasonOutsideWindow            Reason = "OutsideWindow"
	ReasonAccidentHistoryFlag      Reason = "AccidentHistoryFlag"
	ReasonOdometerTamperFlag       Reason = "OdometerTamperFlag"
	ReasonAlreadyCovered           Reason = "AlreadyCovered"
	ReasonNoActiveExtendedWarranty Reason = "NoActiveExtendedWarranty"
	ReasonOdometerExceeded         Reason = "OdometerExceeded"
	ReasonUnknownTier              Reason = "UnknownTier"
)

var reasonMessages = map[Reason]string{
	ReasonOutsideWindow:            "the purchase window for this plan has closed",
	ReasonAccidentHistoryFlag:      "the vehicle has a recorded accident history",
	ReasonOdometerTamperFlag:       "the vehicle odometer has been flagged as tampered",
	ReasonAlreadyCovered:           "the vehicle already has an active plan of this kind",
	ReasonNoActiveExtendedWarranty: "an active extended warranty is required",
	ReasonOdometerExceeded:         "the vehicle odometer exceeds the limit of every available tier",
	ReasonUnknownTier:              "no such tier is offered",
}

// Kind возвращает класс отказа.
func (r Reason) Kind() model.ErrorKind {
	if r == ReasonUnknownTier {
		return model.KindValidation
	}
	return model.KindIneligible
}

// Rejection превращает причину в ошибку для внешнего слоя.
func (r Reason) Rejection() *model.Rejection {
	return model.NewRejection(r.Kind(), string(r), reasonMessages[r])
}

// Verdict: результат проверки права на покупку.
type Verdict struct {
	Eligible bool          `json:"eligible"`
	Reason   Reason        `json:"reason,omitempty"`
	Deadline time.Time     `json:"purchase_deadline"`
	Tiers    []policy.Tier `json:"-"`
}

func ineligible(r Reason, deadline time.Time) Verdict {
	return Verdict{Reason: r, Deadline: deadline}
}

// Coverage: окно покрытия с двумя границами: по времени [Start, End) и по
// пробегу (строго меньше MaxOdometer).
type Coverage struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	MaxOdometer int       `json:"max_odometer_km"`
}

// CoverageActive: единственная проверка двойной границы: покрытие действует,
// пока не истёк срок и пробег не достиг предела. Граница считается истечением.
func CoverageActive(c Coverage, asOf time.Time, odometer int) bool {
	if c.End.IsZero() {
		return false
	}
	return !asOf.Before(c.Start) && asOf.Before(c.End) && odometer < c.MaxOdometer
}

// Engine применяет правила политики.
type Engine struct {
	policy *policy.Store
}

// NewEngine создаёт движок поверх загруженных правил.
func NewEngine(p *policy.Store) *Engine {
	return &Engine{policy: p}
}

// StandardCoverage возвращает окно стандартной гарантии.
func (e *Engine) StandardCoverage(v model.Vehicle) Coverage {
	terms := e.policy.StandardWarrantyTerms()
	return Coverage{
		Start:       v.PurchaseDate,
		End:         v.PurchaseDate.AddDate(terms.Years, 0, 0),
		MaxOdometer: terms.MaxOdometer,
	}
}

// StandardWarrantyActive сообщает, действует ли стандартная гарантия.
func (e *Engine) StandardWarrantyActive(v model.Vehicle, asOf time.Time) bool {
	return CoverageActive(e.StandardCoverage(v), asOf, v.Odometer)
}

// ExtendedCoverage возвращает окно расширенной гарантии: от покупки автомобиля до
// конца стандартного срока плюс срок тарифа, но не дольше общего предела.
func (e *Engine) ExtendedCoverage(v model.Vehicle, w model.ExtendedWarranty) Coverage {
	tier, ok := e.policy.ExtendedTier(w.TierYears)
	if !ok {
		return Coverage{}
	}
	terms := e.policy.ExtendedTerms()
	years := min(e.policy.StandardWarrantyTerms().Years+tier.Years, terms.MaxTotalYears)
	return Coverage{
		Start:       v.PurchaseDate,
		End:         v.PurchaseDate.AddDate(years, 0, 0),
		MaxOdometer: min(tier.MaxOdometer, terms.MaxOdometer),
	}
}

// ExtendedWarrantyActive сообщает, действует ли расширенная гарантия.
func (e *Engine) ExtendedWarrantyActive(v model.Vehicle, w *model.ExtendedWarranty, asOf time.Time) bool {
	if !w.IsActive() {
		return false
	}
	return CoverageActive(e.ExtendedCoverage(v, *w), asOf, v.Odometer)
}

// CCPCoverage возвращает окно пакета CCP: от даты покупки пакета на срок тарифа,
// пробег отсчитывается от показаний одометра при покупке.
func (e *Engine) CCPCoverage(p model.CCPPackage) Coverage {
	tier, ok := e.policy.CCPTier(p.TierYears)
	if !ok {
		return Coverage{}
	}
	return Coverage{
		Start:       p.PurchaseDate,
		End:         p.PurchaseDate.AddDate(tier.Years, 0, 0),
		MaxOdometer: p.OdometerAtPurchase + tier.MaxOdometer,
	}
}

// CCPActive сообщает, действует ли пакет CCP.
func (e *Engine) CCPActive(v model.Vehicle, p *model.CCPPackage, asOf time.Time) bool {
	if !p.IsActive() {
		return false
	}
	return CoverageActive(e.CCPCoverage(*p), asOf, v.Odometer)
}

// ExtendedWarrantyEligibleToPurchase проверяет право на покупку расширенной
// гарантии. Порядок проверок: флаги автомобиля, действующая гарантия, окно покупки,
// пробег.
func (e *Engine) ExtendedWarrantyEligibleToPurchase(v model.Vehicle, current *model.ExtendedWarranty, asOf time.Time) Verdict {
	deadline := v.PurchaseDate.AddDate(0, e.policy.ExtendedTerms().PurchaseWindowMonths, 0)
	switch {
	case v.AccidentHistory:
		return ineligible(ReasonAccidentHistoryFlag, deadline)
	case v.OdometerTampered:
		return ineligible(ReasonOdometerTamperFlag, deadline)
	case current.IsActive():
		return ineligible(ReasonAlreadyCovered, deadline)
	case asOf.After(deadline):
		return ineligible(ReasonOutsideWindow, deadline)
	}

	tiers := availableTiers(e.policy.ExtendedTiers(), v.Odometer)
	if len(tiers) == 0 {
		return ineligible(ReasonOdometerExceeded, deadline)
	}
	return Verdict{Eligible: true, Deadline: deadline, Tiers: tiers}
}

// CCPEligibleToPurchase проверяет право на покупку пакета CCP.
func (e *Engine) CCPEligibleToPurchase(v model.Vehicle, ew *model.ExtendedWarranty, current *model.CCPPackage, asOf time.Time) Verdict {
	deadline := v.PurchaseDate.AddDate(0, e.policy.CCPTerms().PurchaseWindowMonths, 0)
	switch {
	case !ew.IsActive():
		return ineligible(ReasonNoActiveExtendedWarranty, deadline)
	case current.IsActive():
		return ineligible(ReasonAlreadyCovered, deadline)
	case asOf.After(deadline):
		return ineligible(ReasonOutsideWindow, deadline)
	}
	return Verdict{Eligible: true, Deadline: deadline, Tiers: e.policy.CCPTiers()}
}

func availableTiers(tiers []policy.Tier, odometer int) []policy.Tier {
	out := make([]policy.Tier, 0, len(tiers))
	for _, t := range tiers {
		if odometer < t.MaxOdometer {
			out = append(out, t)
		}
	}
	return out
}

// Plan: отменяемый продукт: расширенная гарантия или CCP.
type Plan struct {
	Kind         model.PlanKind
	TierYears    int
	PurchaseDate time.Time
	Price        model.Money
}

// ExtendedPlan строит Plan из расширенной гарантии.
func ExtendedPlan(w model.ExtendedWarranty) Plan {
	return Plan{Kind: model.PlanExtendedWarranty, TierYears: w.TierYears, PurchaseDate: w.PurchaseDate, Price: w.Price}
}

// CCPPlan строит Plan из пакета CCP.
func CCPPlan(p model.CCPPackage) Plan {
	return Plan{Kind: model.PlanCCP, TierYears: p.TierYears, PurchaseDate: p.PurchaseDate, Price: p.Price}
}

// ComputeRefund считает возврат при отмене. Если по автомобилю подавалась хотя бы
// одна претензия, возврат равен нулю. Результат всегда в пределах [0, Price].
func (e *Engine) ComputeRefund(plan Plan, cancelDate time.Time, hasFiledClaim bool) model.Money {
	if hasFiledClaim || plan.Price <= 0 {
		return 0
	}
	terms := e.policy.Refunds()
	days := DaysBetween(plan.PurchaseDate, cancelDate)

	switch plan.Kind {
	case model.PlanExtendedWarranty:
		if days <= terms.ExtendedFullRefundDays {
			return plan.Price
		}
		total := plan.TierYears * 365
		remaining := total - days
		if total <= 0 || remaining <= 0 {
			return 0
		}
		keep := float64(100-terms.ExtendedAdminFeePct) / 100
		refund := math.Round(float64(plan.Price) * float64(remaining) / float64(total) * keep)
		return clamp(model.Money(refund), plan.Price)
	case model.PlanCCP:
		if days <= terms.CCPFullRefundDays {
			return plan.Price
		}
		return 0
	}
	return 0
}

func clamp(m, upper model.Money) model.Money {
	if m < 0 {
		return 0
	}
	if m > upper {
		return upper
	}
	return m
}

// DaysBetween возвращает число календарных дней между датами (UTC).
func DaysBetween(from, to time.Time) int {
	f := truncateDay(from)
	t := truncateDay(to)
	return int(t.Sub(f).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PlanStatus описывает состояние одного вида покрытия.
type PlanStatus struct {
	Active   bool      `json:"active"`
	Coverage *Coverage `json:"coverage,omitempty"`
	Tier     int       `json:"tier_years,omitempty"`
}

// Summary: сводка покрытия автомобиля на дату.
type Summary struct {
	Registration     string     `json:"registration"`
	AsOf             time.Time  `json:"as_of"`
	Odometer         int        `json:"odometer_km"`
	StandardWarranty PlanStatus `json:"standard_warranty"`
	ExtendedWarranty PlanStatus `json:"extended_warranty"`
	CCP              PlanStatus `json:"ccp"`
}

// Status собирает сводку покрытия автомобиля.
func (e *Engine) Status(v model.Vehicle, ew *model.ExtendedWarranty, ccp *model.CCPPackage, asOf time.Time) Summary {
	std := e.StandardCoverage(v)
	s := Summary{
		Registration:     v.Registration,
		AsOf:             asOf,
		Odometer:         v.Odometer,
		StandardWarranty: PlanStatus{Active: CoverageActive(std, asOf, v.Odometer), Coverage: &std},
	}
	if ew != nil {
		c := e.ExtendedCoverage(v, *ew)
		s.ExtendedWarranty = PlanStatus{Active: e.ExtendedWarrantyActive(v, ew, asOf), Coverage: &c, Tier: ew.TierYears}
	}
	if ccp != nil {
		c := e.CCPCoverage(*ccp)
		s.CCP = PlanStatus{Active: e.CCPActive(v, ccp, asOf), Coverage: &c, Tier: ccp.TierYears}
	}
	return s
}
