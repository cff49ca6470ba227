// Package bridge 是动作分发器：校验请求、在 Action Gate 下调用终端驱动与 Trade Mapper，并产出结构化结果。
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"tradebridge/internal/gate"
	"tradebridge/internal/logger"
	"tradebridge/internal/mapper"
	"tradebridge/internal/metrics"
	"tradebridge/internal/pkg/text"
	"tradebridge/internal/session"
	"tradebridge/internal/store/audit"
	"tradebridge/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const maxAuditMessage = 512

// Journal is the audit sink; *audit.Store satisfies it.
type Journal interface {
	Record(ctx context.Context, op *audit.Operation) error
	ListRecent(ctx context.Context, limit int) ([]audit.Operation, error)
	ListByTicket(ctx context.Context, ticket string, limit int) ([]audit.Operation, error)
}

// Alerts receives operator-relevant events; *notifier.Alerter satisfies it.
type Alerts interface {
	ReconciliationFailed(ticket string, candidates []string, reason string)
	CloseAllIncomplete(status string, closed []string, failed map[string]string)
}

type Options struct {
	Journal Journal
	Alerts  Alerts
}

// Service owns the session, the gate and the ticket book for the process.
// Nothing outside reaches the venue except through its methods.
type Service struct {
	gate     *gate.Gate
	guardian *session.Guardian
	mapper   *mapper.Mapper
	journal  Journal
	alerts   Alerts
}

func NewService(g *gate.Gate, guardian *session.Guardian, m *mapper.Mapper, opts Options) *Service {
	return &Service{
		gate:     g,
		guardian: guardian,
		mapper:   m,
		journal:  opts.Journal,
		alerts:   opts.Alerts,
	}
}

// Dispatch runs one validated request under the action gate.
func (s *Service) Dispatch(ctx context.Context, req Request) (Result, error) {
	traceID := uuid.NewString()
	start := time.Now()
	res, err := s.dispatch(ctx, traceID, req)
	res.TraceID = traceID
	res.Action = req.Action
	took := time.Since(start)

	outcome := res.Status
	if err != nil {
		outcome = string(KindOf(err))
		logger.Warnf("[bridge] trace=%s action=%s ticket=%s failed in %s: %v", traceID, req.Action, req.Ticket, took.Round(time.Millisecond), err)
	} else {
		logger.Infof("[bridge] trace=%s action=%s ticket=%s status=%s position=%s took=%s", traceID, req.Action, req.Ticket, res.Status, res.PositionID, took.Round(time.Millisecond))
	}
	metrics.ObserveAction(string(req.Action), outcome)
	s.record(ctx, traceID, req, res, err, took)
	return res, err
}

func (s *Service) dispatch(ctx context.Context, traceID string, req Request) (res Result, err error) {
	release, err := s.gate.Acquire(ctx, gate.RoleAction)
	if err != nil {
		return Result{}, gateError(err)
	}
	defer release()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[bridge] trace=%s panic during %s: %v\n%s", traceID, req.Action, r, debug.Stack())
			res, err = Result{}, New(KindInternal, "internal error")
		}
	}()

	if err := s.guardian.EnsureHealthyLocked(ctx); err != nil {
		return Result{}, Wrap(KindSessionDegraded, "trading session unavailable, retry later", err)
	}

	switch req.Action {
	case ActionTrade:
		return s.open(ctx, req)
	case ActionModify:
		return s.modify(ctx, traceID, req)
	case ActionDelete:
		return s.close(ctx, traceID, req)
	case ActionDeleteAll:
		return s.closeAll(ctx, traceID)
	default:
		return Result{}, New(KindInvalidInput, "Invalid action")
	}
}

// open never re-submits: a second submit could create a duplicate position.
func (s *Service) open(ctx context.Context, req Request) (Result, error) {
	out, err := s.mapper.ReconcileOpen(ctx, req.Ticket, req.Order())
	if err != nil {
		var rerr *mapper.ReconciliationError
		switch {
		case errors.As(err, &rerr):
			if rerr.Ambiguous {
				metrics.ObserveReconcile("ambiguous")
			} else {
				metrics.ObserveReconcile("failed")
			}
			if s.alerts != nil {
				s.alerts.ReconciliationFailed(req.Ticket, rerr.Candidates, rerr.Reason)
			}
			return Result{}, Wrap(KindReconciliationFailed, "order submitted but the new position could not be identified; reconcile via delete_all or audit", err)
		case errors.Is(err, mapper.ErrTicketActive):
			return Result{}, Wrapf(KindInvalidInput, err, "ticket %s is already open", req.Ticket)
		default:
			return Result{}, translate(err, "open failed")
		}
	}
	if out.Recovered {
		metrics.ObserveReconcile("recovered")
	} else {
		metrics.ObserveReconcile("first_pass")
	}
	return Result{
		Status:     StatusSuccess,
		PositionID: out.Mapping.PositionID,
		Body: TradeResult{
			Status:  StatusSuccess,
			Action:  string(req.Direction),
			TradeID: out.Mapping.PositionID,
		},
	}, nil
}

func (s *Service) close(ctx context.Context, traceID string, req Request) (Result, error) {
	mp, _ := s.mapper.Book().Get(req.Ticket)
	var outcome mapper.CloseOutcome
	err := s.retryOnce(ctx, traceID, "close", func() error {
		var err error
		outcome, err = s.mapper.ReconcileClose(ctx, req.Ticket)
		return err
	})
	if err != nil {
		return Result{}, translate(err, fmt.Sprintf("Could not close trade %s", req.Ticket))
	}
	var msg string
	switch outcome {
	case mapper.CloseNotMapped:
		msg = fmt.Sprintf("Trade %s not tracked, nothing to close", req.Ticket)
	case mapper.CloseAlreadyClosed:
		msg = fmt.Sprintf("Trade %s already closed on the terminal, removed from map", req.Ticket)
	default:
		msg = fmt.Sprintf("Successfully closed: %s", mp.PositionID)
	}
	return Result{
		Status:     string(outcome),
		PositionID: mp.PositionID,
		Body:       DeleteResult{Success: msg, Status: string(outcome)},
	}, nil
}

// modify retries once after a refresh when the failure is transient; on a
// partial result only the failed field is retried.
func (s *Service) modify(ctx context.Context, traceID string, req Request) (Result, error) {
	sl, tp := req.StopLoss, req.TakeProfit
	var (
		applied []string
		res     mapper.ModifyResult
		err     error
	)
	for attempt := 0; attempt < 2; attempt++ {
		res, err = s.mapper.ReconcileModify(ctx, req.Ticket, sl, tp)
		if errors.Is(err, mapper.ErrNotMapped) {
			return Result{}, Wrapf(KindNotMapped, err, "Ticket ID %s not found in trade map.", req.Ticket)
		}
		applied = append(applied, res.Applied...)
		failErr := err
		if failErr == nil {
			failErr = res.FailErr
		}
		if attempt > 0 || failErr == nil || !venue.IsTransient(failErr) {
			break
		}
		if err == nil {
			sl, tp = onlyField(res.FailedField, sl, tp)
		}
		if rerr := s.refreshForRetry(ctx, traceID, "modify", failErr); rerr != nil {
			break
		}
	}
	if err != nil && len(applied) == 0 {
		return Result{}, translate(err, fmt.Sprintf("Could not modify trade %s", req.Ticket))
	}

	mp, _ := s.mapper.Book().Get(req.Ticket)
	body := ModifyResult{Status: StatusSuccess, Action: string(ActionModify), TradeID: mp.PositionID, Applied: applied}
	if err != nil || res.Partial() {
		body.Status = StatusPartialModify
		body.FailedField = res.FailedField
		body.Error = fmt.Sprintf("%s edit failed, other edits kept", res.FailedField)
	}
	return Result{Status: body.Status, PositionID: mp.PositionID, Body: body}, nil
}

func onlyField(field string, sl, tp decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if field == venue.FieldStopLoss {
		return sl, decimal.Zero
	}
	return decimal.Zero, tp
}

func (s *Service) closeAll(ctx context.Context, traceID string) (Result, error) {
	var out mapper.CloseAllResult
	err := s.retryOnce(ctx, traceID, "close-all", func() error {
		var err error
		out, err = s.mapper.CloseAll(ctx)
		return err
	})
	if err != nil {
		return Result{}, translate(err, "Could not list open positions")
	}
	if (out.Status == mapper.StatusPartial || out.Status == mapper.StatusFailure) && s.alerts != nil {
		s.alerts.CloseAllIncomplete(out.Status, out.Closed, out.Failed)
	}
	return Result{Status: out.Status, Body: out}, nil
}

func (s *Service) retryOnce(ctx context.Context, traceID, op string, fn func() error) error {
	err := fn()
	if err == nil || !venue.IsTransient(err) {
		return err
	}
	if rerr := s.refreshForRetry(ctx, traceID, op, err); rerr != nil {
		return rerr
	}
	return fn()
}

func (s *Service) refreshForRetry(ctx context.Context, traceID, op string, cause error) error {
	logger.Warnf("[bridge] trace=%s %s hit a transient terminal error, refreshing before retry: %v", traceID, op, cause)
	return s.guardian.ForceRefreshLocked(ctx)
}

// Forget drops a mapping without a venue-side close.
func (s *Service) Forget(ctx context.Context, ticket string) (mapper.Mapping, error) {
	traceID := uuid.NewString()
	start := time.Now()
	req := Request{Action: "forget", Ticket: ticket}

	release, err := s.gate.Acquire(ctx, gate.RoleAction)
	if err != nil {
		err = gateError(err)
		s.record(ctx, traceID, req, Result{}, err, time.Since(start))
		return mapper.Mapping{}, err
	}
	mp, ok := s.mapper.Forget(ticket)
	release()

	if !ok {
		err = Newf(KindNotMapped, "Ticket ID %s not found in trade map.", ticket)
	}
	s.record(ctx, traceID, req, Result{Status: "removed", PositionID: mp.PositionID}, err, time.Since(start))
	return mp, err
}

// Mappings returns a sorted copy of the active mappings.
func (s *Service) Mappings() []mapper.Mapping {
	return s.mapper.Book().Snapshot()
}

func (s *Service) SessionStatus() SessionStatus {
	return newSessionStatus(s.guardian.Status(), s.gate, s.mapper.Book())
}

// RefreshSession waits for the gate and refreshes the terminal session.
func (s *Service) RefreshSession(ctx context.Context) error {
	if err := s.guardian.RefreshNow(ctx); err != nil {
		if errors.Is(err, gate.ErrResourceBusy) || ctx.Err() != nil {
			return gateError(err)
		}
		return Wrap(KindSessionDegraded, "session refresh failed", err)
	}
	return nil
}

// Operations lists recent journal rows, narrowed to one ticket when ticket is
// set; empty when the journal is disabled.
func (s *Service) Operations(ctx context.Context, ticket string, limit int) ([]audit.Operation, error) {
	if s.journal == nil {
		return []audit.Operation{}, nil
	}
	var (
		ops []audit.Operation
		err error
	)
	if ticket = strings.TrimSpace(ticket); ticket != "" {
		ops, err = s.journal.ListByTicket(ctx, ticket, limit)
	} else {
		ops, err = s.journal.ListRecent(ctx, limit)
	}
	if err != nil {
		return nil, Wrap(KindInternal, "could not read audit journal", err)
	}
	return ops, nil
}

func (s *Service) record(ctx context.Context, traceID string, req Request, res Result, err error, took time.Duration) {
	if s.journal == nil {
		return
	}
	payload, _ := json.Marshal(req)
	op := &audit.Operation{
		TraceID:    traceID,
		Action:     string(req.Action),
		Ticket:     req.Ticket,
		PositionID: res.PositionID,
		Status:     res.Status,
		Payload:    datatypes.JSON(payload),
		DurationMS: took.Milliseconds(),
	}
	if err != nil {
		op.Status = "error"
		op.ErrorKind = string(KindOf(err))
		op.ErrorMessage = text.Truncate(err.Error(), maxAuditMessage)
	}
	// 请求已取消时仍需落库
	if rerr := s.journal.Record(context.WithoutCancel(ctx), op); rerr != nil {
		logger.Warnf("[bridge] trace=%s audit record failed: %v", traceID, rerr)
	}
}

func gateError(err error) error {
	if errors.Is(err, gate.ErrResourceBusy) {
		return Wrap(KindResourceBusy, "terminal busy with another action, retry later", err)
	}
	return Wrap(KindResourceBusy, "request cancelled while waiting for the terminal", err)
}

// translate maps a venue or session failure to a caller-facing kind.
func translate(err error, message string) error {
	var be *Error
	switch {
	case errors.As(err, &be):
		return err
	case errors.Is(err, session.ErrSessionDegraded):
		return Wrap(KindSessionDegraded, "trading session unavailable, retry later", err)
	default:
		return Wrap(KindActionFailed, message, err)
	}
}
