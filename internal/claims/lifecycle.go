package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/mmeshcher/warranty-desk/internal/model"
)

const (
	// EventReview берёт претензию в работу.
	EventReview = "review"
	// EventApprove одобряет претензию после проверки.
	EventApprove = "approve"
	// EventReject отклоняет претензию после проверки.
	EventReject = "reject"
	// EventClose закрывает одобренную претензию после ремонта.
	EventClose = "close"
	// EventVoid аннулирует незакрытую претензию при отмене расширенной гарантии.
	EventVoid = "void"
)

var lifecycleEvents = fsm.Events{
	{Name: EventReview, Src: []string{string(model.ClaimSubmitted)}, Dst: string(model.ClaimUnderReview)},
	{Name: EventApprove, Src: []string{string(model.ClaimUnderReview)}, Dst: string(model.ClaimApproved)},
	{Name: EventReject, Src: []string{string(model.ClaimUnderReview)}, Dst: string(model.ClaimRejected)},
	{Name: EventClose, Src: []string{string(model.ClaimApproved)}, Dst: string(model.ClaimClosed)},
	{Name: EventVoid, Src: []string{
		string(model.ClaimSubmitted),
		string(model.ClaimUnderReview),
		string(model.ClaimApproved),
	}, Dst: string(model.ClaimRejected)},
}

var errVoidDisabled = errors.New("cancellation does not void open claims")

type transition struct {
	claim  *model.Claim
	reason string
	at     time.Time
}

func wrapEvent(fn func(ctx context.Context, e *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		if err := fn(ctx, e); err != nil {
			e.Err = err
		}
	}
}

func (m *Manager) newMachine(initial model.ClaimStatus) *fsm.FSM {
	return fsm.NewFSM(string(initial), lifecycleEvents, fsm.Callbacks{
		"before_" + EventVoid:                 wrapEvent(m.guardVoid),
		"enter_" + string(model.ClaimRejected): wrapEvent(actionEnterRejected),
		"enter_state":                         wrapEvent(actionEnterState),
	})
}

func (m *Manager) guardVoid(_ context.Context, e *fsm.Event) error {
	if !m.policy.CancellationVoidsOpenClaims() {
		e.Cancel(errVoidDisabled)
	}
	return nil
}

func actionEnterRejected(_ context.Context, e *fsm.Event) error {
	tr := e.Args[0].(*transition)
	switch {
	case e.Event == EventVoid:
		tr.claim.RejectReason = string(ReasonExtendedWarrantyCancelled)
	case tr.reason != "":
		tr.claim.RejectReason = tr.reason
	default:
		tr.claim.RejectReason = "RejectedOnReview"
	}
	return nil
}

func actionEnterState(_ context.Context, e *fsm.Event) error {
	tr := e.Args[0].(*transition)
	tr.claim.Status = model.ClaimStatus(e.Dst)
	tr.claim.UpdatedAt = tr.at
	return nil
}

// eventFor выбирает событие, ведущее в целевой статус. Событие void сюда не
// входит: его запускает только Void.
func eventFor(to model.ClaimStatus) (string, bool) {
	switch to {
	case model.ClaimUnderReview:
		return EventReview, true
	case model.ClaimApproved:
		return EventApprove, true
	case model.ClaimRejected:
		return EventReject, true
	case model.ClaimClosed:
		return EventClose, true
	}
	return "", false
}

// Advance переводит претензию в новый статус. Допустимы только переходы
// submitted → under_review → {approved, rejected} и approved → closed; всё остальное
// возвращает отказ класса IllegalTransition. Исходная претензия не изменяется.
func (m *Manager) Advance(ctx context.Context, claim model.Claim, to model.ClaimStatus, reason string, at time.Time) (model.Claim, error) {
	event, ok := eventFor(to)
	if !ok && to == model.ClaimSubmitted {
		return claim, illegalTransition(claim, to, nil)
	}
	if !ok {
		return claim, model.NewRejection(model.KindValidation, "UnknownStatus",
			fmt.Sprintf("unknown claim status %q", to))
	}
	return m.fire(ctx, claim, event, to, reason, at)
}

func (m *Manager) fire(ctx context.Context, claim model.Claim, event string, to model.ClaimStatus, reason string, at time.Time) (model.Claim, error) {
	next := claim
	machine := m.newMachine(claim.Status)
	if err := machine.Event(ctx, event, &transition{claim: &next, reason: reason, at: at}); err != nil {
		return claim, illegalTransition(claim, to, err)
	}
	return next, nil
}

// Void аннулирует незакрытую претензию после отмены расширенной гарантии, если это
// разрешено политикой.
func (m *Manager) Void(ctx context.Context, claim model.Claim, at time.Time) (model.Claim, error) {
	return m.fire(ctx, claim, EventVoid, model.ClaimRejected, string(ReasonExtendedWarrantyCancelled), at)
}

// CanVoid сообщает, будет ли Void успешным для претензии.
func (m *Manager) CanVoid(claim model.Claim) bool {
	if !m.policy.CancellationVoidsOpenClaims() {
		return false
	}
	return m.newMachine(claim.Status).Can(EventVoid)
}

func illegalTransition(claim model.Claim, to model.ClaimStatus, cause error) error {
	msg := fmt.Sprintf("claim %s cannot move from %s to %s", claim.ID, claim.Status, to)

	var canceled fsm.CanceledError
	if errors.As(cause, &canceled) && errors.Is(canceled.Err, errVoidDisabled) {
		msg = fmt.Sprintf("claim %s: %v", claim.ID, errVoidDisabled)
	}
	return model.NewRejection(model.KindIllegalTransition, "IllegalTransition", msg)
}
