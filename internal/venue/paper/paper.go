// Package paper 提供一个确定性的内存交易终端，用于演练与测试。
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"tradebridge/internal/logger"
	"tradebridge/internal/venue"

	"github.com/shopspring/decimal"
)

// Op names a driver operation for failure injection and call counting.
type Op string

const (
	OpOpen             Op = "open"
	OpList             Op = "list"
	OpSubmit           Op = "submit"
	OpClose            Op = "close"
	OpModifyTakeProfit Op = "modify_tp"
	OpModifyStopLoss   Op = "modify_sl"
	OpHealth           Op = "health"
	OpRefresh          Op = "refresh"
)

// Position 是纸面终端上的一笔持仓。
type Position struct {
	ID         string
	Order      venue.OpenOrder
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal

	hiddenFor int
}

type Options struct {
	// StartID 为第一笔持仓编号，默认 1000。
	StartID int64
	// ListLag 表示新仓位在前 N 次列表读取中不可见。
	ListLag int
}

type Venue struct {
	mu        sync.Mutex
	nextID    int64
	listLag   int
	positions map[string]*Position
	order     []string
	healthy   bool
	closed    bool
	silent    bool
	fanout    int
	heal      bool
	failures  map[Op][]error
	panics    map[Op]int
	calls     map[Op]int
}

var _ venue.Driver = (*Venue)(nil)

func New(opts Options) *Venue {
	start := opts.StartID
	if start <= 0 {
		start = 1000
	}
	return &Venue{
		nextID:    start,
		listLag:   opts.ListLag,
		positions: make(map[string]*Position),
		healthy:   true,
		fanout:    1,
		heal:      true,
		failures:  make(map[Op][]error),
		panics:    make(map[Op]int),
		calls:     make(map[Op]int),
	}
}

// FailNext queues err for the next call of op.
func (v *Venue) FailNext(op Op, err error) {
	v.mu.Lock()
	v.failures[op] = append(v.failures[op], err)
	v.mu.Unlock()
}

// PanicNext makes the next call of op panic.
func (v *Venue) PanicNext(op Op) {
	v.mu.Lock()
	v.panics[op]++
	v.mu.Unlock()
}

func (v *Venue) SetHealthy(ok bool) {
	v.mu.Lock()
	v.healthy = ok
	v.mu.Unlock()
}

// SetRefreshHeals controls whether RefreshSession restores health.
func (v *Venue) SetRefreshHeals(ok bool) {
	v.mu.Lock()
	v.heal = ok
	v.mu.Unlock()
}

// SetSilentOpen makes SubmitOpen succeed without creating a position.
func (v *Venue) SetSilentOpen(silent bool) {
	v.mu.Lock()
	v.silent = silent
	v.mu.Unlock()
}

// SetOpenFanout makes each SubmitOpen create n positions.
func (v *Venue) SetOpenFanout(n int) {
	v.mu.Lock()
	if n < 1 {
		n = 1
	}
	v.fanout = n
	v.mu.Unlock()
}

func (v *Venue) SetListLag(n int) {
	v.mu.Lock()
	v.listLag = n
	v.mu.Unlock()
}

// AddForeign opens a position that did not come through the bridge, e.g. a
// manual trade in the terminal. It is visible immediately.
func (v *Venue) AddForeign(order venue.OpenOrder) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createLocked(order, 0)
}

// RemoveExternally drops a position as if it was closed outside the bridge.
func (v *Venue) RemoveExternally(id string) {
	v.mu.Lock()
	v.removeLocked(id)
	v.mu.Unlock()
}

func (v *Venue) Calls(op Op) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// Position returns a copy of the position with id.
func (v *Venue) Position(id string) (Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (v *Venue) Open(ctx context.Context) error {
	if err := v.enter(ctx, OpOpen); err != nil {
		return err
	}
	v.mu.Lock()
	v.closed = false
	v.mu.Unlock()
	return nil
}

func (v *Venue) OpenPositionIDs(ctx context.Context) ([]string, error) {
	if err := v.enter(ctx, OpList); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.order))
	for _, id := range v.order {
		p := v.positions[id]
		if p.hiddenFor > 0 {
			p.hiddenFor--
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (v *Venue) SubmitOpen(ctx context.Context, order venue.OpenOrder) error {
	if err := v.enter(ctx, OpSubmit); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.silent {
		logger.Debugf("[paper] submit accepted silently: %s", order)
		return nil
	}
	for i := 0; i < v.fanout; i++ {
		id := v.createLocked(order, v.listLag)
		logger.Debugf("[paper] opened position=%s %s", id, order)
	}
	return nil
}

func (v *Venue) ClosePosition(ctx context.Context, positionID string) error {
	if err := v.enter(ctx, OpClose); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.positions[positionID]; !ok {
		return fmt.Errorf("close %s: %w", positionID, venue.ErrPositionNotFound)
	}
	v.removeLocked(positionID)
	return nil
}

func (v *Venue) ModifyPosition(ctx context.Context, positionID string, mod venue.Modification) error {
	v.mu.Lock()
	_, ok := v.positions[positionID]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("modify %s: %w", positionID, venue.ErrPositionNotFound)
	}
	if mod.TakeProfit != nil {
		if err := v.enter(ctx, OpModifyTakeProfit); err != nil {
			return &venue.FieldError{Field: venue.FieldTakeProfit, Err: err}
		}
		v.mu.Lock()
		if p, ok := v.positions[positionID]; ok {
			p.TakeProfit = *mod.TakeProfit
		}
		v.mu.Unlock()
	}
	if mod.StopLoss != nil {
		if err := v.enter(ctx, OpModifyStopLoss); err != nil {
			return &venue.FieldError{Field: venue.FieldStopLoss, Err: err}
		}
		v.mu.Lock()
		if p, ok := v.positions[positionID]; ok {
			p.StopLoss = *mod.StopLoss
		}
		v.mu.Unlock()
	}
	return nil
}

func (v *Venue) CheckHealth(ctx context.Context) bool {
	if err := v.enter(ctx, OpHealth); err != nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.healthy && !v.closed
}

func (v *Venue) RefreshSession(ctx context.Context) error {
	if err := v.enter(ctx, OpRefresh); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = false
	if v.heal {
		v.healthy = true
	}
	return nil
}

func (v *Venue) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

// enter counts the call, honours ctx and fires any injected failure.
func (v *Venue) enter(ctx context.Context, op Op) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	v.mu.Lock()
	v.calls[op]++
	if v.panics[op] > 0 {
		v.panics[op]--
		v.mu.Unlock()
		panic(fmt.Sprintf("paper: injected panic in %s", op))
	}
	if queue := v.failures[op]; len(queue) > 0 {
		err := queue[0]
		v.failures[op] = queue[1:]
		v.mu.Unlock()
		return err
	}
	v.mu.Unlock()
	return nil
}

func (v *Venue) createLocked(order venue.OpenOrder, hidden int) string {
	id := strconv.FormatInt(v.nextID, 10)
	v.nextID++
	v.positions[id] = &Position{
		ID:         id,
		Order:      order,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		hiddenFor:  hidden,
	}
	v.order = append(v.order, id)
	return id
}

func (v *Venue) removeLocked(id string) {
	if _, ok := v.positions[id]; !ok {
		return
	}
	delete(v.positions, id)
	for i, cur := range v.order {
		if cur == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}
