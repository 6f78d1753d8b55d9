// Package claims принимает решения по претензиям CCP и ведёт их жизненный цикл.
package claims

import (
	"fmt"
	"time"

	"github.com/mmeshcher/warranty-desk/internal/eligibility"
	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/policy"
)

// RejectReason: причина отклонения претензии.
type RejectReason string

const (
	ReasonNoActiveCCP               RejectReason = "NoActiveCCP"
	ReasonNoActiveExtendedWarranty  RejectReason = "NoActiveExtendedWarranty"
	ReasonCoverageLapsed            RejectReason = "CoverageLapsed"
	ReasonDamageNotCovered          RejectReason = "DamageNotCovered"
	ReasonReportWindowExceeded      RejectReason = "ReportWindowExceeded"
	ReasonAmountExceedsLimit        RejectReason = "AmountExceedsLimit"
	ReasonAnnualLimitExceeded       RejectReason = "AnnualLimitExceeded"
	ReasonLifetimeLimitExceeded     RejectReason = "LifetimeLimitExceeded"
	ReasonExtendedWarrantyCancelled RejectReason = "ExtendedWarrantyCancelled"
)

// Kind возвращает класс отказа.
func (r RejectReason) Kind() model.ErrorKind {
	switch r {
	case ReasonAmountExceedsLimit, ReasonAnnualLimitExceeded, ReasonLifetimeLimitExceeded:
		return model.KindLimitExceeded
	default:
		return model.KindIneligible
	}
}

// Input: снимок данных, на основании которого принимается решение.
type Input struct {
	Vehicle          model.Vehicle
	ExtendedWarranty *model.ExtendedWarranty
	CCP              *model.CCPPackage
	History          []model.Claim

	DamageType    model.DamageType
	IncidentAt    time.Time
	ReportedAt    time.Time
	Amount        model.Money
	Description   string
	ServiceCenter string
}

// Decision: претензия к записи. Reason пуст, если претензия принята.
type Decision struct {
	Claim   model.Claim
	Reason  RejectReason
	Message string
}

// Accepted сообщает, что претензия прошла все проверки.
func (d Decision) Accepted() bool {
	return d.Reason == ""
}

// Manager применяет правила политики к претензиям.
type Manager struct {
	policy *policy.Store
	engine *eligibility.Engine
}

// NewManager создаёт менеджер претензий.
func NewManager(p *policy.Store) *Manager {
	return &Manager{policy: p, engine: eligibility.NewEngine(p)}
}

// Validate отсеивает некорректный ввод до любых изменений состояния.
func (m *Manager) Validate(in Input) error {
	if _, ok := m.policy.DamageTypeRules(in.DamageType); !ok {
		return model.NewRejection(model.KindValidation, "UnknownDamageType",
			fmt.Sprintf("unknown damage type %q", in.DamageType))
	}
	if in.Amount <= 0 {
		return model.NewRejection(model.KindValidation, "InvalidAmount", "claim amount must be positive")
	}
	if in.IncidentAt.IsZero() || in.ReportedAt.IsZero() {
		return model.NewRejection(model.KindValidation, "MissingDate", "incident and report dates are required")
	}
	if in.ReportedAt.Before(in.IncidentAt) {
		return model.NewRejection(model.KindValidation, "ReportBeforeIncident", "report date is before the incident date")
	}
	if in.IncidentAt.Before(in.Vehicle.PurchaseDate) {
		return model.NewRejection(model.KindValidation, "IncidentBeforePurchase", "incident date is before the vehicle purchase date")
	}
	return nil
}

// Decide проверяет претензию по порядку: покрытие, срок заявления, сумма, годовой
// лимит по виду ущерба, общий лимит. Первая неудачная проверка определяет причину;
// отклонённая претензия всё равно возвращается для записи.
func (m *Manager) Decide(in Input) (Decision, error) {
	if err := m.Validate(in); err != nil {
		return Decision{}, err
	}

	claim := model.Claim{
		Registration:  in.Vehicle.Registration,
		DamageType:    in.DamageType,
		Description:   in.Description,
		ServiceCenter: in.ServiceCenter,
		IncidentAt:    in.IncidentAt,
		ReportedAt:    in.ReportedAt,
		Amount:        in.Amount,
		Status:        model.ClaimSubmitted,
		CreatedAt:     in.ReportedAt,
		UpdatedAt:     in.ReportedAt,
	}

	reason, msg := m.check(in)
	if reason != "" {
		claim.Status = model.ClaimRejected
		claim.RejectReason = string(reason)
	}
	return Decision{Claim: claim, Reason: reason, Message: msg}, nil
}

func (m *Manager) check(in Input) (RejectReason, string) {
	rule, _ := m.policy.DamageTypeRules(in.DamageType)

	if !in.CCP.IsActive() {
		return ReasonNoActiveCCP, "the vehicle has no active CCP"
	}
	if !in.ExtendedWarranty.IsActive() {
		return ReasonNoActiveExtendedWarranty, "the vehicle has no active extended warranty"
	}
	if !m.engine.CCPActive(in.Vehicle, in.CCP, in.IncidentAt) ||
		!m.engine.ExtendedWarrantyActive(in.Vehicle, in.ExtendedWarranty, in.IncidentAt) {
		return ReasonCoverageLapsed, "coverage had lapsed at the time of the incident"
	}
	tier, ok := m.policy.CCPTier(in.CCP.TierYears)
	if !ok || !tier.CoversDamage(in.DamageType) {
		return ReasonDamageNotCovered, fmt.Sprintf("%s damage is not covered by this CCP", in.DamageType)
	}

	if in.ReportedAt.Sub(in.IncidentAt) > rule.ReportWindow {
		return ReasonReportWindowExceeded, fmt.Sprintf("%s damage must be reported within %s", in.DamageType, humanDuration(rule.ReportWindow))
	}
	if in.Amount > rule.CoverageLimit {
		return ReasonAmountExceedsLimit, fmt.Sprintf("amount exceeds the %s limit for %s damage", rule.CoverageLimit, in.DamageType)
	}

	limits := m.policy.Limits()
	dt := in.DamageType
	if CountClaims(in.History, &dt, PolicyYear(in.CCP.PurchaseDate, in.ReportedAt)) >= limits.PerTypePerYear {
		return ReasonAnnualLimitExceeded, fmt.Sprintf("at most %d %s damage claims are allowed per policy year", limits.PerTypePerYear, dt)
	}
	if CountClaims(in.History, nil, Lifetime()) >= limits.Lifetime {
		return ReasonLifetimeLimitExceeded, fmt.Sprintf("at most %d claims are allowed over the vehicle lifetime", limits.Lifetime)
	}
	return "", ""
}

func humanDuration(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return fmt.Sprintf("%d hours", int(d.Hours()))
}

// Window: полуинтервал [From, To) по дате заявления. Нулевая граница не ограничивает.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains сообщает, попадает ли момент в окно.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// Lifetime: окно без ограничений.
func Lifetime() Window {
	return Window{}
}

// Since: окно от указанного момента.
func Since(from time.Time) Window {
	return Window{From: from}
}

// PolicyYear возвращает год политики, содержащий момент at. Годы отсчитываются от
// годовщин даты anchor.
func PolicyYear(anchor, at time.Time) Window {
	if at.Before(anchor) {
		return Window{From: anchor.AddDate(-1, 0, 0), To: anchor}
	}
	n := at.Year() - anchor.Year()
	start := anchor.AddDate(n, 0, 0)
	if start.After(at) {
		n--
		start = anchor.AddDate(n, 0, 0)
	}
	return Window{From: start, To: anchor.AddDate(n+1, 0, 0)}
}

// CountClaims считает неотклонённые претензии в окне, при damage != nil только
// указанного вида.
func CountClaims(history []model.Claim, damage *model.DamageType, w Window) int {
	n := 0
	for _, c := range history {
		if c.Status == model.ClaimRejected {
			continue
		}
		if damage != nil && c.DamageType != *damage {
			continue
		}
		if w.Contains(c.ReportedAt) {
			n++
		}
	}
	return n
}
