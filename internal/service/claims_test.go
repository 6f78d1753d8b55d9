package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/warranty-desk/internal/claims"
	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/notify"
	"github.com/mmeshcher/warranty-desk/internal/repository"
)

func rodentClaim(at time.Time) ClaimRequest {
	return ClaimRequest{
		Registration:  "KA01MX2024",
		DamageType:    "rodent_damage",
		IncidentAt:    at.Add(-6 * time.Hour),
		Amount:        model.Rupees(6500),
		Description:   "Wiring harness chewed under the bonnet",
		ServiceCenter: "prime motors",
	}
}

func TestFileCCPClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)
	f.covered(t, cid, "KA01MX2024")
	f.clock.Advance(20 * day)

	first, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
	require.NoError(t, err)
	assert.True(t, first.Accepted)
	assert.True(t, first.Notified)
	assert.Nil(t, first.Rejection)
	assert.Equal(t, "CCP000001", first.Claim.ID)
	assert.Equal(t, model.ClaimSubmitted, first.Claim.Status)
	assert.Equal(t, model.DamageRodent, first.Claim.DamageType)
	assert.Equal(t, "Prime Motors Bengaluru", first.Claim.ServiceCenter)

	f.clock.Advance(30 * day)
	second, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
	require.NoError(t, err)
	assert.True(t, second.Accepted)

	f.clock.Advance(30 * day)
	third, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
	require.NoError(t, err)
	assert.False(t, third.Accepted)
	require.NotNil(t, third.Rejection)
	assert.Equal(t, string(claims.ReasonAnnualLimitExceeded), third.Rejection.Code)
	assert.Equal(t, model.KindLimitExceeded, third.Rejection.Kind)
	assert.Equal(t, model.ClaimRejected, third.Claim.Status)
	assert.Equal(t, "CCP000003", third.Claim.ID)

	list, err := f.svc.ShowMyClaims(ctx, cid)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	events := f.notifier.kinds()
	assert.Equal(t, notify.KindClaimFiled, events[len(events)-1])
}

func TestLifetimeLimitSurvivesCCPRebuy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)
	f.covered(t, cid, "KA01MX2024")

	for _, damage := range []string{"rodent", "insect", "fuel", "rodent", "insect"} {
		f.clock.Advance(2 * day)
		req := rodentClaim(f.clock.Now())
		req.DamageType = damage
		out, err := f.svc.FileCCPClaim(ctx, cid, req)
		require.NoError(t, err)
		require.True(t, out.Accepted, "%s claim rejected: %+v", damage, out.Rejection)
	}

	f.clock.Advance(day)
	_, err := f.svc.CancelPlan(ctx, cid, "KA01MX2024", model.PlanCCP)
	require.NoError(t, err)
	_, err = f.svc.PurchaseCCP(ctx, cid, "KA01MX2024", 1)
	require.NoError(t, err)

	f.clock.Advance(day)
	req := rodentClaim(f.clock.Now())
	req.DamageType = "water"
	out, err := f.svc.FileCCPClaim(ctx, cid, req)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	require.NotNil(t, out.Rejection)
	assert.Equal(t, string(claims.ReasonLifetimeLimitExceeded), out.Rejection.Code)
	assert.Equal(t, model.KindLimitExceeded, out.Rejection.Kind)
}

func TestFileCCPClaimRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)

	out, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, string(claims.ReasonNoActiveCCP), out.Rejection.Code)

	f.covered(t, cid, "KA01MX2024")
	f.clock.Advance(3 * day)
	now := f.clock.Now()

	tests := []struct {
		name string
		req  ClaimRequest
		code string
		kind model.ErrorKind
	}{
		{
			name: "water reported late",
			req:  ClaimRequest{Registration: "KA01MX2024", DamageType: "water", IncidentAt: now.Add(-25 * time.Hour), Amount: model.Rupees(20000)},
			code: string(claims.ReasonReportWindowExceeded),
			kind: model.KindIneligible,
		},
		{
			name: "insect over limit",
			req:  ClaimRequest{Registration: "KA01MX2024", DamageType: "insect", IncidentAt: now.Add(-time.Hour), Amount: model.Rupees(20001)},
			code: string(claims.ReasonAmountExceedsLimit),
			kind: model.KindLimitExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.svc.FileCCPClaim(ctx, cid, tt.req)
			require.NoError(t, err)
			assert.False(t, out.Accepted)
			require.NotNil(t, out.Rejection)
			assert.Equal(t, tt.code, out.Rejection.Code)
			assert.Equal(t, tt.kind, out.Rejection.Kind)
		})
	}
}

func TestFileCCPClaimInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)
	other := f.owner(t, "vikram@example.in", "MH12AB1234", 5000)
	now := f.clock.Now()

	req := rodentClaim(now)
	req.DamageType = "hail"
	_, err := f.svc.FileCCPClaim(ctx, cid, req)
	assert.ErrorIs(t, err, model.KindValidation)

	req = rodentClaim(now)
	req.ReportedAt = now.Add(time.Hour)
	_, err = f.svc.FileCCPClaim(ctx, cid, req)
	assert.ErrorIs(t, err, model.KindValidation)

	req = rodentClaim(now)
	req.Amount = 0
	_, err = f.svc.FileCCPClaim(ctx, cid, req)
	assert.ErrorIs(t, err, model.KindValidation)

	req = rodentClaim(now)
	req.ServiceCenter = "Atlantis Motors"
	_, err = f.svc.FileCCPClaim(ctx, cid, req)
	assert.ErrorIs(t, err, repository.ErrServiceCenterNotFound)

	_, err = f.svc.FileCCPClaim(ctx, other, rodentClaim(now))
	assert.ErrorIs(t, err, model.KindNotFound)

	list, err := f.svc.ShowMyClaims(ctx, cid)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileCCPClaimDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)
	f.covered(t, cid, "KA01MX2024")
	f.clock.Advance(2 * day)

	f.notifier.err = fmt.Errorf("%w: smtp unavailable", model.KindDeliveryFailed)
	out, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.False(t, out.Notified)

	stored, err := f.svc.GetClaimStatus(ctx, cid, out.Claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimSubmitted, stored.Status)
}

func TestFileCCPClaimConcurrentLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)
	f.covered(t, cid, "KA01MX2024")
	f.clock.Advance(2 * day)

	first, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
	require.NoError(t, err)
	require.True(t, first.Accepted)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		limited  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.Accepted {
				accepted++
				return
			}
			if out.Rejection.Code == string(claims.ReasonAnnualLimitExceeded) {
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, limited)
	assert.Zero(t, f.svc.locks.size())
}

func TestAdvanceClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)
	other := f.owner(t, "vikram@example.in", "MH12AB1234", 5000)
	f.covered(t, cid, "KA01MX2024")
	f.clock.Advance(day)

	out, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
	require.NoError(t, err)
	id := out.Claim.ID

	for _, to := range []model.ClaimStatus{model.ClaimUnderReview, model.ClaimApproved, model.ClaimClosed} {
		c, err := f.svc.AdvanceClaim(ctx, id, to, "")
		require.NoError(t, err)
		assert.Equal(t, to, c.Status)
	}

	_, err = f.svc.AdvanceClaim(ctx, id, model.ClaimUnderReview, "")
	assert.ErrorIs(t, err, model.KindIllegalTransition)
	_, err = f.svc.AdvanceClaim(ctx, id, model.ClaimSubmitted, "")
	assert.ErrorIs(t, err, model.KindIllegalTransition)
	_, err = f.svc.AdvanceClaim(ctx, "CCP999999", model.ClaimApproved, "")
	assert.ErrorIs(t, err, model.KindNotFound)
	_, err = f.svc.AdvanceClaim(ctx, "12", model.ClaimApproved, "")
	assert.ErrorIs(t, err, model.KindValidation)

	c, err := f.svc.GetClaimStatus(ctx, cid, "ccp000001")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimClosed, c.Status)

	_, err = f.svc.GetClaimStatus(ctx, other, id)
	assert.ErrorIs(t, err, repository.ErrClaimNotFound)

	kinds := f.notifier.kinds()
	assert.Equal(t, notify.KindClaimStatusChanged, kinds[len(kinds)-1])
}

func TestAdvanceClaimRejectOnReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cid := f.owner(t, "asha@example.in", "KA01MX2024", 20000)
	f.covered(t, cid, "KA01MX2024")
	f.clock.Advance(day)

	out, err := f.svc.FileCCPClaim(ctx, cid, rodentClaim(f.clock.Now()))
	require.NoError(t, err)

	_, err = f.svc.AdvanceClaim(ctx, out.Claim.ID, model.ClaimUnderReview, "")
	require.NoError(t, err)
	c, err := f.svc.AdvanceClaim(ctx, out.Claim.ID, model.ClaimRejected, "Damage pre-dates the package")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimRejected, c.Status)
	assert.Equal(t, "Damage pre-dates the package", c.RejectReason)
}
