// Package mapper 维护外部 ticket 与终端持仓编号之间的映射，并通过持仓快照差集识别新开仓位。
package mapper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradebridge/internal/logger"
	"tradebridge/internal/venue"

	"github.com/shopspring/decimal"
)

// Policy decides what happens when one diff window yields several candidates.
type Policy string

const (
	PolicyReject Policy = "reject"
	PolicyLowest Policy = "lowest"
)

// Refresher restores the session; the caller already holds the gate.
// Implementations may refuse while their refresh breaker is open.
type Refresher interface {
	ForceRefreshLocked(ctx context.Context) error
}

type Options struct {
	// SettleDelay bounds how long discovery keeps polling after a submit.
	SettleDelay  time.Duration
	PollInterval time.Duration
	Ambiguous    Policy
}

// Mapper 的所有方法都假定调用方已持有 Action Gate。
type Mapper struct {
	driver    venue.Driver
	refresher Refresher
	book      *Book
	opts      Options
	now       func() time.Time
}

func New(driver venue.Driver, refresher Refresher, opts Options) *Mapper {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.Ambiguous == "" {
		opts.Ambiguous = PolicyReject
	}
	return &Mapper{
		driver:    driver,
		refresher: refresher,
		book:      NewBook(),
		opts:      opts,
		now:       time.Now,
	}
}

func (m *Mapper) Book() *Book { return m.book }

// OpenResult describes a successful reconciliation.
type OpenResult struct {
	Mapping Mapping
	// Recovered is set when the position only showed up after the recovery
	// refresh.
	Recovered bool
}

// ReconcileOpen submits order and maps the single new position to ticket.
// Errors before the submit are plain driver errors; once the order is
// submitted every failure is a *ReconciliationError.
func (m *Mapper) ReconcileOpen(ctx context.Context, ticket string, order venue.OpenOrder) (OpenResult, error) {
	if cur, ok := m.book.Get(ticket); ok {
		return OpenResult{}, fmt.Errorf("%w: ticket %s -> position %s", ErrTicketActive, ticket, cur.PositionID)
	}
	beforeIDs, err := m.driver.OpenPositionIDs(ctx)
	if err != nil {
		return OpenResult{}, fmt.Errorf("snapshot before open: %w", err)
	}
	before := toSet(beforeIDs)
	if err := m.driver.SubmitOpen(ctx, order); err != nil {
		return OpenResult{}, fmt.Errorf("submit open: %w", err)
	}

	candidates := m.discover(ctx, before)
	recovered := false
	if len(candidates) == 0 {
		logger.Warnf("[mapper] ticket=%s no new position within %s, refreshing and retrying once", ticket, m.opts.SettleDelay)
		if err := m.refresher.ForceRefreshLocked(ctx); err != nil {
			logger.Warnf("[mapper] ticket=%s recovery refresh failed: %v", ticket, err)
		}
		candidates = m.discover(ctx, before)
		recovered = true
	}

	var positionID string
	switch {
	case len(candidates) == 0:
		return OpenResult{}, &ReconciliationError{Ticket: ticket, Reason: "no new position observed after recovery pass"}
	case len(candidates) == 1:
		positionID = candidates[0]
	case m.opts.Ambiguous == PolicyLowest:
		positionID = candidates[0]
		logger.Warnf("[mapper] ticket=%s ambiguous diff %v, picking lowest %s", ticket, candidates, positionID)
	default:
		return OpenResult{}, &ReconciliationError{Ticket: ticket, Candidates: candidates, Ambiguous: true, Reason: "more than one new position in the same window"}
	}

	now := m.now()
	mapping := Mapping{
		Ticket:     ticket,
		PositionID: positionID,
		Symbol:     order.Symbol,
		Direction:  order.Direction,
		Volume:     order.Volume,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		OpenedAt:   now,
		UpdatedAt:  now,
	}
	if err := m.book.Put(mapping); err != nil {
		return OpenResult{}, &ReconciliationError{Ticket: ticket, Candidates: candidates, Reason: err.Error()}
	}
	logger.Infof("[mapper] mapped ticket=%s -> position=%s recovered=%v", ticket, positionID, recovered)
	return OpenResult{Mapping: mapping, Recovered: recovered}, nil
}

// discover polls the position list until a candidate appears or SettleDelay
// elapses. Listing errors count as an empty observation.
func (m *Mapper) discover(ctx context.Context, before map[string]struct{}) []string {
	deadline := m.now().Add(m.opts.SettleDelay)
	for {
		after, err := m.driver.OpenPositionIDs(ctx)
		if err != nil {
			logger.Warnf("[mapper] snapshot after open: %v", err)
		} else if c := newCandidates(before, after, m.book.MappedPositions()); len(c) > 0 {
			return c
		}
		remaining := deadline.Sub(m.now())
		if remaining <= 0 || ctx.Err() != nil {
			return nil
		}
		wait := m.opts.PollInterval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// CloseOutcome is the result of a close by ticket.
type CloseOutcome string

const (
	CloseClosed        CloseOutcome = "closed"
	CloseNotMapped     CloseOutcome = "not_mapped"
	CloseAlreadyClosed CloseOutcome = "already_closed"
)

// ReconcileClose closes the position mapped to ticket. Unknown tickets are a
// no-op; a row that is already gone from the venue still drops the mapping.
func (m *Mapper) ReconcileClose(ctx context.Context, ticket string) (CloseOutcome, error) {
	mp, ok := m.book.Get(ticket)
	if !ok {
		return CloseNotMapped, nil
	}
	err := m.driver.ClosePosition(ctx, mp.PositionID)
	switch {
	case errors.Is(err, venue.ErrPositionNotFound):
		m.book.Remove(ticket)
		logger.Infof("[mapper] ticket=%s position=%s already gone, mapping dropped", ticket, mp.PositionID)
		return CloseAlreadyClosed, nil
	case err != nil:
		return "", fmt.Errorf("close ticket %s position %s: %w", ticket, mp.PositionID, err)
	}
	m.book.Remove(ticket)
	logger.Infof("[mapper] ticket=%s position=%s closed", ticket, mp.PositionID)
	return CloseClosed, nil
}

// ModifyResult reports which fields were applied. FailedField is set for a
// partial modification.
type ModifyResult struct {
	Mapping     Mapping
	Applied     []string
	FailedField string
	FailErr     error
}

func (r ModifyResult) Partial() bool { return r.FailedField != "" }

// ReconcileModify applies take profit and stop loss as independent edits; a
// zero value leaves the field untouched. When both are requested and one
// fails the other is kept and the result is partial. When every requested
// edit fails an error is returned.
func (m *Mapper) ReconcileModify(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) (ModifyResult, error) {
	mp, ok := m.book.Get(ticket)
	if !ok {
		return ModifyResult{}, fmt.Errorf("%w: %s", ErrNotMapped, ticket)
	}
	type edit struct {
		field string
		mod   venue.Modification
	}
	var edits []edit
	if !takeProfit.IsZero() {
		tp := takeProfit
		edits = append(edits, edit{venue.FieldTakeProfit, venue.Modification{TakeProfit: &tp}})
	}
	if !stopLoss.IsZero() {
		sl := stopLoss
		edits = append(edits, edit{venue.FieldStopLoss, venue.Modification{StopLoss: &sl}})
	}
	res := ModifyResult{Mapping: mp}
	if len(edits) == 0 {
		return res, nil
	}

	updated := mp
	var firstErr error
	for _, e := range edits {
		if err := m.driver.ModifyPosition(ctx, mp.PositionID, e.mod); err != nil {
			logger.Warnf("[mapper] ticket=%s position=%s modify %s failed: %v", ticket, mp.PositionID, e.field, err)
			if firstErr == nil {
				firstErr = err
				res.FailedField = e.field
				res.FailErr = err
			}
			continue
		}
		res.Applied = append(res.Applied, e.field)
		switch e.field {
		case venue.FieldTakeProfit:
			updated.TakeProfit = takeProfit
		case venue.FieldStopLoss:
			updated.StopLoss = stopLoss
		}
	}
	if len(res.Applied) > 0 {
		updated.UpdatedAt = m.now()
		if err := m.book.Replace(updated); err != nil {
			return res, err
		}
		res.Mapping = updated
	}
	if len(res.Applied) == 0 {
		return res, fmt.Errorf("modify ticket %s position %s: %w", ticket, mp.PositionID, firstErr)
	}
	return res, nil
}

// Close-all overall statuses.
const (
	StatusNoTrades = "no_trades_to_close"
	StatusSuccess  = "success"
	StatusPartial  = "partial_success"
	StatusFailure  = "failure"
)

// CloseAllResult is keyed by venue position id.
type CloseAllResult struct {
	Status string            `json:"status"`
	Closed []string          `json:"closed"`
	Failed map[string]string `json:"failed"`
}

// CloseAll closes every open venue position, mapped or not, and drops the
// mappings of closed ones.
func (m *Mapper) CloseAll(ctx context.Context) (CloseAllResult, error) {
	ids, err := m.driver.OpenPositionIDs(ctx)
	if err != nil {
		return CloseAllResult{}, fmt.Errorf("list positions: %w", err)
	}
	res := CloseAllResult{Closed: []string{}, Failed: map[string]string{}}
	for _, id := range ids {
		err := m.driver.ClosePosition(ctx, id)
		if err != nil && !errors.Is(err, venue.ErrPositionNotFound) {
			logger.Warnf("[mapper] close-all position=%s failed: %v", id, err)
			res.Failed[id] = failureReason(err)
			continue
		}
		res.Closed = append(res.Closed, id)
		if mp, ok := m.book.RemovePosition(id); ok {
			logger.Infof("[mapper] close-all dropped ticket=%s position=%s", mp.Ticket, id)
		}
	}
	res.Status = closeAllStatus(len(ids), len(res.Closed), len(res.Failed))
	return res, nil
}

// Forget drops a mapping without touching the venue.
func (m *Mapper) Forget(ticket string) (Mapping, bool) {
	mp, ok := m.book.Remove(ticket)
	if ok {
		logger.Infof("[mapper] ticket=%s position=%s forgotten without venue close", ticket, mp.PositionID)
	}
	return mp, ok
}

func closeAllStatus(total, closed, failed int) string {
	switch {
	case total == 0:
		return StatusNoTrades
	case failed == 0:
		return StatusSuccess
	case closed > 0:
		return StatusPartial
	default:
		return StatusFailure
	}
}

// failureReason renders a driver error without internal detail.
func failureReason(err error) string {
	switch {
	case errors.Is(err, venue.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the terminal"
	case errors.Is(err, venue.ErrElementNotFound):
		return "close control not found"
	case errors.Is(err, venue.ErrSessionClosed):
		return "terminal session unavailable"
	default:
		return "close failed"
	}
}
