package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/warranty-desk/internal/claims"
	"github.com/mmeshcher/warranty-desk/internal/metrics"
	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/notify"
	"github.com/mmeshcher/warranty-desk/internal/repository"
	"github.com/mmeshcher/warranty-desk/internal/validation"
)

// ClaimRequest: заявление о претензии CCP. Нулевой ReportedAt означает «сейчас».
type ClaimRequest struct {
	Registration  string
	DamageType    string
	IncidentAt    time.Time
	ReportedAt    time.Time
	Amount        model.Money
	Description   string
	ServiceCenter string
}

// ClaimOutcome: записанная претензия. Rejection заполнен, если претензия
// отклонена при подаче; она всё равно сохранена.
type ClaimOutcome struct {
	Claim     model.Claim      `json:"claim"`
	Accepted  bool             `json:"accepted"`
	Rejection *model.Rejection `json:"rejection,omitempty"`
	Notified  bool             `json:"notified"`
}

// FileCCPClaim проверяет и записывает претензию. Проверка и запись выполняются
// под блокировкой автомобиля, поэтому две одновременные претензии не могут обе
// пройти проверку лимита. Записанная претензия не откатывается, даже если
// уведомление не доставлено.
func (s *Service) FileCCPClaim(ctx context.Context, customerID int64, req ClaimRequest) (*ClaimOutcome, error) {
	damage, ok := model.ParseDamageType(req.DamageType)
	if !ok {
		return nil, validationError("UnknownDamageType", fmt.Sprintf("unknown damage type %q", req.DamageType))
	}
	reg := validation.NormalizeRegistration(req.Registration)
	if !validation.IsValidRegistration(reg) {
		return nil, validationError("InvalidRegistration", "registration number is not valid")
	}
	if req.ReportedAt.IsZero() {
		req.ReportedAt = s.now()
	}
	if req.ReportedAt.After(s.now()) {
		return nil, validationError("ReportInFuture", "report date cannot be in the future")
	}

	center := strings.TrimSpace(req.ServiceCenter)
	if center != "" {
		sc, err := s.resolveCenter(ctx, center)
		if err != nil {
			return nil, err
		}
		center = sc.Name
	}

	unlock := s.locks.Lock(reg)
	defer unlock()

	var (
		decision claims.Decision
		owner    model.Customer
	)
	applied, err := s.repo.UpdateVehicle(ctx, reg, func(snap *repository.VehicleSnapshot) (*repository.Mutation, error) {
		if snap.Vehicle.CustomerID != customerID {
			return nil, repository.ErrVehicleNotFound
		}
		owner = snap.Owner
		d, err := s.claims.Decide(claims.Input{
			Vehicle:          snap.Vehicle,
			ExtendedWarranty: snap.ActiveWarranty(),
			CCP:              snap.ActiveCCP(),
			History:          snap.Claims,
			DamageType:       damage,
			IncidentAt:       req.IncidentAt.UTC(),
			ReportedAt:       req.ReportedAt.UTC(),
			Amount:           req.Amount,
			Description:      strings.TrimSpace(req.Description),
			ServiceCenter:    center,
		})
		if err != nil {
			return nil, err
		}
		decision = d
		return &repository.Mutation{NewClaim: &d.Claim}, nil
	})
	if err != nil {
		return nil, err
	}

	out := &ClaimOutcome{Claim: *applied.Claim, Accepted: decision.Accepted()}
	outcome := "accepted"
	if !out.Accepted {
		out.Rejection = model.NewRejection(decision.Reason.Kind(), string(decision.Reason), decision.Message)
		outcome = string(decision.Reason)
	}
	metrics.ClaimsFiled.WithLabelValues(string(damage), outcome).Inc()

	payload := map[string]string{
		"customer_name": owner.Name,
		"claim_id":      out.Claim.ID,
		"registration":  reg,
		"damage_type":   string(damage),
		"amount":        out.Claim.Amount.String(),
		"status":        string(out.Claim.Status),
		"incident_date": formatDate(out.Claim.IncidentAt),
	}
	if out.Rejection != nil {
		payload["reason"] = out.Rejection.Message
	}
	out.Notified = s.notify(ctx, notify.NewEvent(notify.KindClaimFiled, owner.Email,
		fmt.Sprintf("CCP claim %s", out.Claim.ID), payload))
	return out, nil
}

// ShowMyClaims возвращает претензии по всем автомобилям клиента.
func (s *Service) ShowMyClaims(ctx context.Context, customerID int64) ([]model.Claim, error) {
	return s.repo.GetClaimsByCustomer(ctx, customerID)
}

// GetClaimStatus возвращает претензию клиента по номеру.
func (s *Service) GetClaimStatus(ctx context.Context, customerID int64, id string) (*model.Claim, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !validation.IsValidClaimID(id) {
		return nil, validationError("InvalidClaimID", "claim id must look like CCP000123")
	}
	c, err := s.repo.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := s.repo.GetVehicle(ctx, c.Registration)
	if err != nil {
		return nil, err
	}
	if v.CustomerID != customerID {
		return nil, repository.ErrClaimNotFound
	}
	return c, nil
}

// AdvanceClaim переводит претензию в новый статус. Операция сотрудника, без
// проверки владельца.
func (s *Service) AdvanceClaim(ctx context.Context, id string, status model.ClaimStatus, reason string) (*model.Claim, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !validation.IsValidClaimID(id) {
		return nil, validationError("InvalidClaimID", "claim id must look like CCP000123")
	}

	updated, err := s.repo.UpdateClaim(ctx, id, func(c model.Claim) (model.Claim, error) {
		return s.claims.Advance(ctx, c, status, strings.TrimSpace(reason), s.now())
	})
	if err != nil {
		return nil, err
	}
	metrics.ClaimTransitions.WithLabelValues(string(updated.Status)).Inc()

	if owner, err := s.ownerOf(ctx, updated.Registration); err == nil {
		payload := map[string]string{
			"customer_name": owner.Name,
			"claim_id":      updated.ID,
			"registration":  updated.Registration,
			"status":        string(updated.Status),
		}
		if updated.RejectReason != "" {
			payload["reason"] = updated.RejectReason
		}
		s.notify(ctx, notify.NewEvent(notify.KindClaimStatusChanged, owner.Email,
			fmt.Sprintf("CCP claim %s is now %s", updated.ID, strings.ReplaceAll(string(updated.Status), "_", " ")), payload))
	}
	return updated, nil
}

func (s *Service) ownerOf(ctx context.Context, registration string) (*model.Customer, error) {
	v, err := s.repo.GetVehicle(ctx, registration)
	if err != nil {
		return nil, err
	}
	return s.repo.GetCustomer(ctx, v.CustomerID)
}
