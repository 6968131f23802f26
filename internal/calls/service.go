package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"callpay-platform/internal/accounts"
	"callpay-platform/internal/ledger"
	"callpay-platform/internal/notify"
	"callpay-platform/internal/presence"
	"callpay-platform/internal/rates"
)

// Options are the lifecycle timing knobs.
type Options struct {
	// RingTimeout is how long a call may stay RINGING before any path
	// (sweep, or a new initiate against the same responder) reclaims it
	// as MISSED.
	RingTimeout time.Duration

	// ConnectTimeout bounds the CONNECTING window; stale connecting
	// calls are reclaimed as zero-billed ENDED.
	ConnectTimeout time.Duration

	// MinCallSeconds is the shortest call the initiator must be able to
	// afford, both at initiation and at activation.
	MinCallSeconds int
}

// Deps are the collaborators the lifecycle engine drives.
type Deps struct {
	Repo     Repository
	Accounts accounts.Repository
	Rates    *rates.Service
	Ledger   *ledger.Service
	Lock     presence.Lock
	Dispatch notify.Dispatcher
	Sched    *TerminationScheduler
	Log      *slog.Logger
}

// Service is the call lifecycle engine. It owns every status
// transition, the responder availability lock, the per-call
// auto-termination timer and the single settlement per call.
//
// Exactly-once settlement rests on the repository's terminal
// compare-and-set: whichever path (explicit end, timer, sweep) wins the
// transition into a terminal status is the only one that settles.
type Service struct {
	repo     Repository
	accounts accounts.Repository
	rates    *rates.Service
	ledger   *ledger.Service
	lock     presence.Lock
	dispatch notify.Dispatcher
	sched    *TerminationScheduler
	log      *slog.Logger
	opts     Options

	clock func() time.Time
}

func NewService(d Deps, opts Options) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.MinCallSeconds <= 0 {
		opts.MinCallSeconds = 60
	}
	return &Service{
		repo:     d.Repo,
		accounts: d.Accounts,
		rates:    d.Rates,
		ledger:   d.Ledger,
		lock:     d.Lock,
		dispatch: d.Dispatch,
		sched:    d.Sched,
		log:      log,
		opts:     opts,
		clock:    time.Now,
	}
}

// InitiateRequest starts a call toward a responder.
type InitiateRequest struct {
	ResponderID string `json:"responder_id"`
	Kind        string `json:"kind"`
}

// Initiate creates a RINGING call after every admission check passes:
// the kind is enabled, the initiator can afford the minimum duration,
// the responder is online, not blocked, takes this kind, and is not
// already held by another call. The availability lock is acquired
// before the call row exists, so two concurrent initiates can never
// both ring the same responder.
func (s *Service) Initiate(ctx context.Context, initiatorID string, req InitiateRequest) (Call, error) {
	kind := rates.CallKind(req.Kind)
	if !kind.Valid() {
		return Call{}, ErrKindDisabled
	}
	enabled, err := s.rates.IsKindEnabled(ctx, kind)
	if err != nil {
		return Call{}, err
	}
	if !enabled {
		return Call{}, ErrKindDisabled
	}
	rate, err := s.rates.CallRate(ctx, kind)
	if err != nil {
		return Call{}, err
	}

	// Unknown users hold a zero ledger balance, so the existence check
	// must come first or a bad initiator id reads as an empty wallet.
	if _, err := s.accounts.Get(ctx, initiatorID); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return Call{}, ErrUserNotFound
		}
		return Call{}, err
	}

	bal, err := s.ledger.GetBalance(ctx, initiatorID)
	if err != nil {
		return Call{}, err
	}
	if ledger.BudgetSeconds(bal.Coins, rate.CoinsPerMinute) < int64(s.opts.MinCallSeconds) {
		return Call{}, ErrInsufficientCoins
	}

	resp, err := s.accounts.Get(ctx, req.ResponderID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return Call{}, ErrUserNotFound
		}
		return Call{}, err
	}
	if resp.Blocked {
		return Call{}, ErrResponderBlocked
	}
	if !resp.Online {
		return Call{}, ErrResponderOffline
	}
	if !kindSupported(resp, kind) {
		return Call{}, ErrResponderIncapable
	}

	now := s.clock().UTC()

	// Self-heal: a ring that nobody reclaimed yet should not keep the
	// responder busy forever.
	if stale, ok, err := s.repo.FindOpenByResponder(ctx, req.ResponderID); err != nil {
		return Call{}, err
	} else if ok && stale.Status == StatusRinging && now.Sub(stale.CreatedAt) > s.opts.RingTimeout {
		s.reclaimRinging(ctx, stale, now)
	}

	callID := uuid.NewString()
	held, err := s.lock.TryAcquire(ctx, req.ResponderID, callID)
	if err != nil {
		return Call{}, err
	}
	if !held {
		return Call{}, ErrResponderBusy
	}

	c := Call{
		ID:          callID,
		RoomID:      uuid.NewString(),
		InitiatorID: initiatorID,
		ResponderID: req.ResponderID,
		Kind:        kind,
		Status:      StatusRinging,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if relErr := s.lock.ReleaseOwned(ctx, req.ResponderID, callID); relErr != nil {
			s.log.Error("lock release after failed create", "call_id", callID, "err", relErr)
		}
		return Call{}, err
	}
	s.setInCall(ctx, req.ResponderID, true)
	s.emit(ctx, c, notify.EventCallRinging)
	s.log.Info("call initiated", "call_id", c.ID, "initiator_id", initiatorID, "responder_id", req.ResponderID, "kind", kind)
	return c, nil
}

// Accept moves the responder's call RINGING -> CONNECTING. Any other
// ring still pending for the same responder loses and is reclaimed as
// MISSED (first accept wins).
func (s *Service) Accept(ctx context.Context, callID, responderID string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.ResponderID != responderID {
		return Call{}, ErrNotCallParty
	}
	if c.Status.Terminal() {
		s.emit(ctx, c, terminalEvent(c.Status))
		return c, nil
	}

	now := s.clock().UTC()
	upd, won, err := s.repo.UpdateStatusIf(ctx, callID, []Status{StatusRinging}, StatusConnecting, now)
	if err != nil {
		return Call{}, err
	}
	if !won {
		cur, err := s.repo.Get(ctx, callID)
		if err != nil {
			return Call{}, err
		}
		if cur.Status == StatusConnecting {
			s.emit(ctx, cur, notify.EventCallConnecting)
			return cur, nil
		}
		if cur.Status.Terminal() {
			s.emit(ctx, cur, terminalEvent(cur.Status))
			return cur, nil
		}
		return Call{}, fmt.Errorf("%w: accept from %s", ErrInvalidState, cur.Status)
	}

	others, err := s.repo.ListRingingForResponder(ctx, responderID, callID)
	if err != nil {
		s.log.Error("list competing rings", "call_id", callID, "err", err)
	}
	for _, other := range others {
		s.reclaimRinging(ctx, other, now)
	}

	s.emit(ctx, upd, notify.EventCallConnecting)
	s.log.Info("call accepted", "call_id", callID, "responder_id", responderID)
	return upd, nil
}

// ConfirmConnection reports that media is flowing and moves the call
// CONNECTING -> ACTIVE, freezing the billing snapshot: the initiator's
// balance, the rate, and the budget-derived hard stop. Confirming an
// already active call is idempotent and returns the stored snapshot.
func (s *Service) ConfirmConnection(ctx context.Context, callID, userID string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.InitiatorID != userID && c.ResponderID != userID {
		return Call{}, ErrNotCallParty
	}
	if c.Status == StatusActive {
		s.emit(ctx, c, notify.EventCallActive)
		return c, nil
	}
	if c.Status.Terminal() {
		s.emit(ctx, c, terminalEvent(c.Status))
		return c, nil
	}
	if c.Status != StatusConnecting {
		return Call{}, fmt.Errorf("%w: confirm from %s", ErrInvalidState, c.Status)
	}

	rate, err := s.rates.CallRate(ctx, c.Kind)
	if err != nil {
		return Call{}, err
	}
	bal, err := s.ledger.GetBalance(ctx, c.InitiatorID)
	if err != nil {
		return Call{}, err
	}
	budget := ledger.BudgetSeconds(bal.Coins, rate.CoinsPerMinute)
	if budget < int64(s.opts.MinCallSeconds) {
		// Balance drained between initiate and connect. End the call
		// unbilled instead of activating a session that would stop
		// immediately.
		if _, err := s.terminate(ctx, callID, []Status{StatusConnecting}, StatusEnded, s.clock().UTC(), ReasonConnectionFailed); err != nil {
			s.log.Error("terminate underfunded call", "call_id", callID, "err", err)
		}
		return Call{}, ErrInsufficientCoins
	}

	now := s.clock().UTC()
	snap := ActivationSnapshot{
		StartTime:          now,
		ScheduledEndTime:   now.Add(time.Duration(budget) * time.Second),
		InitialBalance:     bal.Coins,
		MaxDurationSeconds: budget,
		CoinsPerMinute:     rate.CoinsPerMinute,
	}
	upd, won, err := s.repo.Activate(ctx, callID, snap)
	if err != nil {
		return Call{}, err
	}
	if !won {
		cur, err := s.repo.Get(ctx, callID)
		if err != nil {
			return Call{}, err
		}
		if cur.Status == StatusActive {
			s.emit(ctx, cur, notify.EventCallActive)
			return cur, nil
		}
		if cur.Status.Terminal() {
			s.emit(ctx, cur, terminalEvent(cur.Status))
			return cur, nil
		}
		return Call{}, fmt.Errorf("%w: confirm from %s", ErrInvalidState, cur.Status)
	}

	s.sched.Arm(callID, time.Duration(budget)*time.Second, func() {
		s.expire(callID)
	})
	s.emit(ctx, upd, notify.EventCallActive)
	s.log.Info("call active", "call_id", callID, "budget_seconds", budget, "coins_per_minute", rate.CoinsPerMinute)
	return upd, nil
}

// Reject lets the responder decline a RINGING call. Nothing is billed.
func (s *Service) Reject(ctx context.Context, callID, responderID string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.ResponderID != responderID {
		return Call{}, ErrNotCallParty
	}
	if c.Status.Terminal() {
		s.emit(ctx, c, terminalEvent(c.Status))
		return c, nil
	}
	upd, err := s.terminate(ctx, callID, []Status{StatusRinging}, StatusRejected, s.clock().UTC(), ReasonRejected)
	if err != nil {
		return Call{}, err
	}
	s.log.Info("call rejected", "call_id", callID, "responder_id", responderID)
	return upd, nil
}

// ReportConnectionFailure ends a CONNECTING call that never got media
// flowing. The call terminates as ENDED with zero duration and zero
// charge.
func (s *Service) ReportConnectionFailure(ctx context.Context, callID, userID string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.InitiatorID != userID && c.ResponderID != userID {
		return Call{}, ErrNotCallParty
	}
	if c.Status.Terminal() {
		s.emit(ctx, c, terminalEvent(c.Status))
		return c, nil
	}
	upd, err := s.terminate(ctx, callID, []Status{StatusConnecting}, StatusEnded, s.clock().UTC(), ReasonConnectionFailed)
	if err != nil {
		return Call{}, err
	}
	s.log.Info("connection failure reported", "call_id", callID, "user_id", userID)
	return upd, nil
}

// End hangs the call up. Either party may end at any open stage; a
// call that was ACTIVE settles for its elapsed time, earlier stages
// end unbilled. Ending an already terminal call re-emits its terminal
// event and returns the stored row.
func (s *Service) End(ctx context.Context, callID, userID string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.InitiatorID != userID && c.ResponderID != userID {
		return Call{}, ErrNotCallParty
	}
	if c.Status.Terminal() {
		s.emit(ctx, c, terminalEvent(c.Status))
		return c, nil
	}
	upd, err := s.terminate(ctx, callID, openStatuses, StatusEnded, s.clock().UTC(), ReasonEnded)
	if err != nil {
		return Call{}, err
	}
	s.log.Info("call ended", "call_id", callID, "user_id", userID, "duration_seconds", upd.DurationSeconds)
	return upd, nil
}

// GetStatus returns the call row to one of its parties.
func (s *Service) GetStatus(ctx context.Context, callID, userID string) (Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if c.InitiatorID != userID && c.ResponderID != userID {
		return Call{}, ErrNotCallParty
	}
	return c, nil
}

// History lists the user's calls, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Call, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// CleanupStale is the reclaimer sweep. It enforces, from persisted
// state alone, every deadline an in-process timer may have missed:
// overripe rings become MISSED, stuck connecting calls end unbilled,
// and overdue active calls are settled at their scheduled end time so
// the charge equals exactly the budgeted amount. Returns how many
// calls were reclaimed.
func (s *Service) CleanupStale(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	reclaimed := 0

	ringing, err := s.repo.ListRingingBefore(ctx, now.Add(-s.opts.RingTimeout))
	if err != nil {
		return reclaimed, err
	}
	for _, c := range ringing {
		if s.reclaimRinging(ctx, c, now) {
			reclaimed++
		}
	}

	connecting, err := s.repo.ListConnectingBefore(ctx, now.Add(-s.opts.ConnectTimeout))
	if err != nil {
		return reclaimed, err
	}
	for _, c := range connecting {
		if _, err := s.terminate(ctx, c.ID, []Status{StatusConnecting}, StatusEnded, now, ReasonReclaimed); err != nil {
			s.log.Error("reclaim connecting call", "call_id", c.ID, "err", err)
			continue
		}
		s.log.Warn("stale connecting call reclaimed", "call_id", c.ID)
		reclaimed++
	}

	overdue, err := s.repo.ListActiveOverdue(ctx, now)
	if err != nil {
		return reclaimed, err
	}
	for _, c := range overdue {
		endAt := now
		if c.ScheduledEndTime != nil {
			endAt = *c.ScheduledEndTime
		}
		if _, err := s.terminate(ctx, c.ID, []Status{StatusActive}, StatusEnded, endAt, ReasonExpired); err != nil {
			s.log.Error("reclaim overdue call", "call_id", c.ID, "err", err)
			continue
		}
		s.log.Warn("overdue active call reclaimed", "call_id", c.ID)
		reclaimed++
	}
	return reclaimed, nil
}

// expire is the auto-termination timer callback.
func (s *Service) expire(callID string) {
	ctx := context.Background()
	if _, err := s.terminate(ctx, callID, []Status{StatusActive}, StatusEnded, s.clock().UTC(), ReasonExpired); err != nil {
		s.log.Error("auto-terminate call", "call_id", callID, "err", err)
		return
	}
	s.log.Info("call auto-terminated", "call_id", callID)
}

// terminate is the single terminal path shared by end, reject, timer
// and sweep. The Finish compare-and-set decides the winner; the winner
// then cancels the timer, frees the responder, notifies both parties
// and, when there is billable time, runs settlement exactly once.
// Losing the CAS returns ErrInvalidState with the current status.
func (s *Service) terminate(ctx context.Context, callID string, from []Status, to Status, endAt time.Time, reason string) (Call, error) {
	c, won, err := s.repo.Finish(ctx, callID, from, to, endAt.UTC(), reason)
	if err != nil {
		return Call{}, err
	}
	if !won {
		cur, err := s.repo.Get(ctx, callID)
		if err != nil {
			return Call{}, err
		}
		// Another path got the call to a terminal state first; converge
		// on its outcome instead of erroring.
		if cur.Status.Terminal() {
			s.emit(ctx, cur, terminalEvent(cur.Status))
			return cur, nil
		}
		return Call{}, fmt.Errorf("%w: call is %s", ErrInvalidState, cur.Status)
	}

	s.sched.Cancel(callID)

	if err := s.lock.ReleaseOwned(ctx, c.ResponderID, callID); err != nil {
		s.log.Error("release responder lock", "call_id", callID, "responder_id", c.ResponderID, "err", err)
	}
	s.setInCall(ctx, c.ResponderID, false)

	// Parties hear about the hangup before money moves.
	s.emit(ctx, c, terminalEvent(to))

	if c.DurationSeconds > 0 && c.StartTime != nil {
		settled, err := s.settle(ctx, c)
		if err != nil {
			return c, err
		}
		c = settled
	}
	return c, nil
}

// settle charges the initiator for the call's final duration and
// credits the responder's share, using the per-minute rate frozen at
// activation and the commission in effect now.
func (s *Service) settle(ctx context.Context, c Call) (Call, error) {
	set, err := s.rates.BillingSettings(ctx)
	if err != nil {
		s.log.Error("billing settings unavailable at settlement", "call_id", c.ID, "err", err)
		return c, fmt.Errorf("%w: %v", ledger.ErrSettlementFailed, err)
	}
	res, err := s.ledger.SettleCall(ctx, ledger.SettlementRequest{
		CallID:            c.ID,
		ParticipantID:     c.InitiatorID,
		ResponderID:       c.ResponderID,
		ElapsedSeconds:    c.DurationSeconds,
		CoinsPerMinute:    c.CoinsPerMinute,
		CoinRate:          set.CoinToCurrencyRate,
		CommissionPercent: set.CommissionPercent,
		Currency:          set.Currency,
	})
	if err != nil {
		s.log.Error("settlement failed", "call_id", c.ID, "err", err)
		return c, err
	}
	if err := s.repo.SetCoinsCharged(ctx, c.ID, res.CoinsCharged, s.clock().UTC()); err != nil {
		s.log.Error("persist coins charged", "call_id", c.ID, "err", err)
		return c, err
	}
	c.CoinsCharged = res.CoinsCharged
	s.log.Info("call settled",
		"call_id", c.ID,
		"duration_seconds", c.DurationSeconds,
		"coins_charged", res.CoinsCharged,
		"responder_share", res.ResponderShare,
		"transaction_id", res.TransactionID,
	)
	return c, nil
}

// reclaimRinging moves an expired ring to MISSED and frees the
// responder if this call still holds the lock. Reports whether this
// caller won the transition.
func (s *Service) reclaimRinging(ctx context.Context, c Call, now time.Time) bool {
	upd, won, err := s.repo.Finish(ctx, c.ID, []Status{StatusRinging}, StatusMissed, now, ReasonMissed)
	if err != nil {
		s.log.Error("reclaim ringing call", "call_id", c.ID, "err", err)
		return false
	}
	if !won {
		return false
	}
	if err := s.lock.ReleaseOwned(ctx, c.ResponderID, c.ID); err != nil {
		s.log.Error("release responder lock", "call_id", c.ID, "responder_id", c.ResponderID, "err", err)
	}
	s.setInCall(ctx, c.ResponderID, false)
	s.emit(ctx, upd, notify.EventCallMissed)
	s.log.Warn("ringing call reclaimed as missed", "call_id", c.ID, "responder_id", c.ResponderID)
	return true
}

func (s *Service) setInCall(ctx context.Context, responderID string, inCall bool) {
	if err := s.accounts.SetInCall(ctx, responderID, inCall); err != nil {
		s.log.Warn("update in_call mirror", "responder_id", responderID, "err", err)
	}
}

func (s *Service) emit(ctx context.Context, c Call, event string) {
	ev := notify.CallEvent{
		CallID:      c.ID,
		RoomID:      c.RoomID,
		InitiatorID: c.InitiatorID,
		ResponderID: c.ResponderID,
		Kind:        string(c.Kind),
		Status:      string(c.Status),
		OccurredAt:  s.clock().UTC().Format(time.RFC3339),
	}
	if c.StartTime != nil {
		ev.StartedAt = c.StartTime.UTC().Format(time.RFC3339)
		ev.MaxDurationSeconds = c.MaxDurationSeconds
	}
	if c.Status.Terminal() {
		ev.DurationSeconds = c.DurationSeconds
		ev.CoinsCharged = c.CoinsCharged
		ev.Reason = c.EndReason
	}
	s.dispatch.Notify(ctx, c.InitiatorID, event, ev)
	s.dispatch.Notify(ctx, c.ResponderID, event, ev)
}

func terminalEvent(st Status) string {
	switch st {
	case StatusRejected:
		return notify.EventCallRejected
	case StatusMissed:
		return notify.EventCallMissed
	default:
		return notify.EventCallEnded
	}
}

func kindSupported(a accounts.Account, kind rates.CallKind) bool {
	switch kind {
	case rates.CallKindAudio:
		return a.AudioEnabled
	case rates.CallKindVideo:
		return a.VideoEnabled
	default:
		return false
	}
}
