package claims

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/policy"
)

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	p, err := policy.Default()
	require.NoError(t, err)
	return NewManager(p)
}

// baseInput describes a vehicle with an active extended warranty and a 2-year CCP
// bought on 2024-03-01, and a rodent claim well within every limit.
func baseInput() Input {
	return Input{
		Vehicle: model.Vehicle{
			Registration: "KA01MN4321",
			CustomerID:   101,
			PurchaseDate: at(2023, time.June, 1, 0),
			Odometer:     18000,
		},
		ExtendedWarranty: &model.ExtendedWarranty{TierYears: 2, Status: model.PlanStatusActive, PurchaseDate: at(2024, time.January, 10, 0)},
		CCP:              &model.CCPPackage{TierYears: 2, Status: model.PlanStatusActive, PurchaseDate: at(2024, time.March, 1, 0), OdometerAtPurchase: 9000},
		DamageType:       model.DamageRodent,
		IncidentAt:       at(2024, time.September, 10, 8),
		ReportedAt:       at(2024, time.September, 11, 9),
		Amount:           model.Rupees(12000),
		Description:      "wiring harness chewed",
		ServiceCenter:    "Prime Motors Bengaluru",
	}
}

func rodentClaim(reported time.Time, status model.ClaimStatus) model.Claim {
	return model.Claim{DamageType: model.DamageRodent, ReportedAt: reported, Status: status}
}

func TestDecide(t *testing.T) {
	m := newManager(t)

	tests := []struct {
		name   string
		mutate func(*Input)
		want   RejectReason
		kind   model.ErrorKind
	}{
		{name: "accepted", mutate: func(*Input) {}},
		{name: "no ccp", mutate: func(in *Input) { in.CCP = nil }, want: ReasonNoActiveCCP, kind: model.KindIneligible},
		{name: "cancelled ccp", mutate: func(in *Input) { in.CCP.Status = model.PlanStatusCancelled }, want: ReasonNoActiveCCP, kind: model.KindIneligible},
		{name: "extended warranty cancelled", mutate: func(in *Input) { in.ExtendedWarranty.Status = model.PlanStatusCancelled }, want: ReasonNoActiveExtendedWarranty, kind: model.KindIneligible},
		{name: "ccp expired by time", mutate: func(in *Input) {
			in.IncidentAt = at(2026, time.March, 2, 8)
			in.ReportedAt = at(2026, time.March, 2, 9)
		}, want: ReasonCoverageLapsed, kind: model.KindIneligible},
		{name: "ccp exhausted by distance", mutate: func(in *Input) { in.Vehicle.Odometer = 54000 }, want: ReasonCoverageLapsed, kind: model.KindIneligible},
		{name: "water reported after 24h", mutate: func(in *Input) {
			in.DamageType = model.DamageWater
			in.ReportedAt = in.IncidentAt.Add(24*time.Hour + time.Minute)
		}, want: ReasonReportWindowExceeded, kind: model.KindIneligible},
		{name: "water reported exactly at 24h", mutate: func(in *Input) {
			in.DamageType = model.DamageWater
			in.ReportedAt = in.IncidentAt.Add(24 * time.Hour)
		}},
		{name: "amount above limit", mutate: func(in *Input) { in.Amount = model.Rupees(25001) }, want: ReasonAmountExceedsLimit, kind: model.KindLimitExceeded},
		{name: "amount at limit", mutate: func(in *Input) { in.Amount = model.Rupees(25000) }},
		{name: "third rodent claim in policy year", mutate: func(in *Input) {
			in.History = []model.Claim{
				rodentClaim(at(2024, time.April, 2, 0), model.ClaimClosed),
				rodentClaim(at(2024, time.July, 2, 0), model.ClaimSubmitted),
			}
		}, want: ReasonAnnualLimitExceeded, kind: model.KindLimitExceeded},
		{name: "rejected claims do not count", mutate: func(in *Input) {
			in.History = []model.Claim{
				rodentClaim(at(2024, time.April, 2, 0), model.ClaimRejected),
				rodentClaim(at(2024, time.July, 2, 0), model.ClaimApproved),
			}
		}},
		{name: "previous policy year does not count", mutate: func(in *Input) {
			in.IncidentAt = at(2025, time.March, 5, 8)
			in.ReportedAt = at(2025, time.March, 5, 9)
			in.History = []model.Claim{
				rodentClaim(at(2024, time.April, 2, 0), model.ClaimClosed),
				rodentClaim(at(2024, time.July, 2, 0), model.ClaimClosed),
			}
		}},
		{name: "lifetime limit", mutate: func(in *Input) {
			in.IncidentAt = at(2025, time.March, 5, 8)
			in.ReportedAt = at(2025, time.March, 5, 9)
			in.History = []model.Claim{
				{DamageType: model.DamageWater, ReportedAt: at(2024, time.April, 1, 0), Status: model.ClaimClosed},
				{DamageType: model.DamageFuel, ReportedAt: at(2024, time.May, 1, 0), Status: model.ClaimClosed},
				{DamageType: model.DamageInsect, ReportedAt: at(2024, time.June, 1, 0), Status: model.ClaimClosed},
				{DamageType: model.DamageWater, ReportedAt: at(2024, time.July, 1, 0), Status: model.ClaimClosed},
				{DamageType: model.DamageFuel, ReportedAt: at(2024, time.August, 1, 0), Status: model.ClaimApproved},
			}
		}, want: ReasonLifetimeLimitExceeded, kind: model.KindLimitExceeded},
		{name: "lifetime limit counts claims under an earlier package", mutate: func(in *Input) {
			in.History = []model.Claim{
				{DamageType: model.DamageWater, ReportedAt: at(2023, time.August, 1, 0), Status: model.ClaimClosed},
				{DamageType: model.DamageFuel, ReportedAt: at(2023, time.September, 1, 0), Status: model.ClaimClosed},
				{DamageType: model.DamageInsect, ReportedAt: at(2023, time.October, 1, 0), Status: model.ClaimClosed},
				{DamageType: model.DamageWater, ReportedAt: at(2023, time.November, 1, 0), Status: model.ClaimClosed},
				{DamageType: model.DamageFuel, ReportedAt: at(2023, time.December, 1, 0), Status: model.ClaimClosed},
			}
		}, want: ReasonLifetimeLimitExceeded, kind: model.KindLimitExceeded},
		{name: "window checked before amount", mutate: func(in *Input) {
			in.ReportedAt = in.IncidentAt.Add(8 * 24 * time.Hour)
			in.Amount = model.Rupees(90000)
		}, want: ReasonReportWindowExceeded, kind: model.KindIneligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)

			d, err := m.Decide(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Reason)
			if tt.want == "" {
				assert.True(t, d.Accepted())
				assert.Equal(t, model.ClaimSubmitted, d.Claim.Status)
				assert.Empty(t, d.Claim.RejectReason)
				return
			}
			assert.Equal(t, model.ClaimRejected, d.Claim.Status)
			assert.Equal(t, string(tt.want), d.Claim.RejectReason)
			assert.Equal(t, tt.kind, tt.want.Kind())
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestDecideValidation(t *testing.T) {
	m := newManager(t)

	tests := []struct {
		name   string
		mutate func(*Input)
		code   string
	}{
		{name: "unknown damage", mutate: func(in *Input) { in.DamageType = "hail" }, code: "UnknownDamageType"},
		{name: "zero amount", mutate: func(in *Input) { in.Amount = 0 }, code: "InvalidAmount"},
		{name: "report before incident", mutate: func(in *Input) { in.ReportedAt = in.IncidentAt.Add(-time.Hour) }, code: "ReportBeforeIncident"},
		{name: "missing incident", mutate: func(in *Input) { in.IncidentAt = time.Time{} }, code: "MissingDate"},
		{name: "incident before purchase", mutate: func(in *Input) {
			in.IncidentAt = at(2023, time.May, 1, 0)
			in.ReportedAt = at(2023, time.May, 1, 1)
		}, code: "IncidentBeforePurchase"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			_, err := m.Decide(in)
			var rej *model.Rejection
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tt.code, rej.Code)
			assert.ErrorIs(t, err, model.KindValidation)
		})
	}
}

func TestPolicyYear(t *testing.T) {
	anchor := at(2024, time.March, 1, 0)

	w := PolicyYear(anchor, at(2024, time.March, 1, 0))
	assert.Equal(t, anchor, w.From)
	assert.Equal(t, at(2025, time.March, 1, 0), w.To)

	w = PolicyYear(anchor, at(2025, time.February, 28, 23))
	assert.Equal(t, anchor, w.From)

	w = PolicyYear(anchor, at(2026, time.January, 15, 0))
	assert.Equal(t, at(2025, time.March, 1, 0), w.From)
	assert.Equal(t, at(2026, time.March, 1, 0), w.To)

	assert.True(t, w.Contains(at(2025, time.March, 1, 0)))
	assert.False(t, w.Contains(at(2026, time.March, 1, 0)))
}

func TestCountClaims(t *testing.T) {
	water := model.DamageWater
	history := []model.Claim{
		{DamageType: model.DamageWater, ReportedAt: at(2024, time.January, 5, 0), Status: model.ClaimClosed},
		{DamageType: model.DamageWater, ReportedAt: at(2024, time.February, 5, 0), Status: model.ClaimRejected},
		{DamageType: model.DamageFuel, ReportedAt: at(2024, time.March, 5, 0), Status: model.ClaimSubmitted},
		{DamageType: model.DamageWater, ReportedAt: at(2025, time.March, 5, 0), Status: model.ClaimUnderReview},
	}

	assert.Equal(t, 3, CountClaims(history, nil, Lifetime()))
	assert.Equal(t, 2, CountClaims(history, &water, Lifetime()))
	assert.Equal(t, 1, CountClaims(history, &water, Window{From: at(2024, time.January, 1, 0), To: at(2025, time.January, 1, 0)}))
	assert.Equal(t, 2, CountClaims(history, nil, Since(at(2024, time.March, 1, 0))))
	assert.Zero(t, CountClaims(nil, nil, Lifetime()))
}

func TestAdvance(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	now := at(2024, time.October, 1, 12)

	submitted := model.Claim{ID: "CCP000001", Status: model.ClaimSubmitted}

	reviewed, err := m.Advance(ctx, submitted, model.ClaimUnderReview, "", now)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimUnderReview, reviewed.Status)
	assert.Equal(t, now, reviewed.UpdatedAt)
	assert.Equal(t, model.ClaimSubmitted, submitted.Status)

	approved, err := m.Advance(ctx, reviewed, model.ClaimApproved, "", now)
	require.NoError(t, err)
	closed, err := m.Advance(ctx, approved, model.ClaimClosed, "", now)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimClosed, closed.Status)

	rejected, err := m.Advance(ctx, reviewed, model.ClaimRejected, "DamagePreExisting", now)
	require.NoError(t, err)
	assert.Equal(t, "DamagePreExisting", rejected.RejectReason)

	rejected, err = m.Advance(ctx, reviewed, model.ClaimRejected, "", now)
	require.NoError(t, err)
	assert.Equal(t, "RejectedOnReview", rejected.RejectReason)
}

func TestAdvanceIllegal(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	now := at(2024, time.October, 1, 12)

	tests := []struct {
		name string
		from model.ClaimStatus
		to   model.ClaimStatus
	}{
		{name: "submitted straight to closed", from: model.ClaimSubmitted, to: model.ClaimClosed},
		{name: "submitted straight to approved", from: model.ClaimSubmitted, to: model.ClaimApproved},
		{name: "submitted straight to rejected", from: model.ClaimSubmitted, to: model.ClaimRejected},
		{name: "closed is terminal", from: model.ClaimClosed, to: model.ClaimUnderReview},
		{name: "rejected is terminal", from: model.ClaimRejected, to: model.ClaimApproved},
		{name: "rejected cannot close", from: model.ClaimRejected, to: model.ClaimClosed},
		{name: "approved cannot be rejected", from: model.ClaimApproved, to: model.ClaimRejected},
		{name: "review twice", from: model.ClaimUnderReview, to: model.ClaimUnderReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := model.Claim{ID: "CCP000042", Status: tt.from}
			got, err := m.Advance(ctx, claim, tt.to, "", now)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.KindIllegalTransition)
			assert.Equal(t, claim, got)
		})
	}

	_, err := m.Advance(ctx, model.Claim{Status: model.ClaimSubmitted}, "lost", "", now)
	assert.ErrorIs(t, err, model.KindValidation)
}

func TestFileThenCloseIsIllegal(t *testing.T) {
	m := newManager(t)
	d, err := m.Decide(baseInput())
	require.NoError(t, err)
	require.True(t, d.Accepted())

	_, err = m.Advance(context.Background(), d.Claim, model.ClaimClosed, "", time.Now())
	assert.ErrorIs(t, err, model.KindIllegalTransition)
}

func TestVoid(t *testing.T) {
	ctx := context.Background()
	now := at(2024, time.October, 1, 12)
	approved := model.Claim{ID: "CCP000007", Status: model.ClaimApproved}

	disabled := newManager(t)
	assert.False(t, disabled.CanVoid(approved))
	_, err := disabled.Void(ctx, approved, now)
	assert.ErrorIs(t, err, model.KindIllegalTransition)

	rules := strings.Replace(string(policy.DefaultRules()), "cancellation_voids_open_claims: false", "cancellation_voids_open_claims: true", 1)
	p, err := policy.Load(strings.NewReader(rules))
	require.NoError(t, err)
	enabled := NewManager(p)

	assert.True(t, enabled.CanVoid(approved))
	voided, err := enabled.Void(ctx, approved, now)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimRejected, voided.Status)
	assert.Equal(t, string(ReasonExtendedWarrantyCancelled), voided.RejectReason)

	submitted := model.Claim{ID: "CCP000009", Status: model.ClaimSubmitted}
	got, err := enabled.Advance(ctx, submitted, model.ClaimRejected, string(ReasonExtendedWarrantyCancelled), now)
	assert.ErrorIs(t, err, model.KindIllegalTransition)
	assert.Equal(t, submitted, got)

	closed := model.Claim{ID: "CCP000008", Status: model.ClaimClosed}
	assert.False(t, enabled.CanVoid(closed))
	_, err = enabled.Void(ctx, closed, now)
	assert.ErrorIs(t, err, model.KindIllegalTransition)
}
