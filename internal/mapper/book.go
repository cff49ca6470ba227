package mapper

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tradebridge/internal/venue"

	"github.com/shopspring/decimal"
)

// Mapping 记录一个外部 ticket 与终端持仓编号的对应关系。修改时整体替换，不原地变更。
type Mapping struct {
	Ticket     string          `json:"ticket"`
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol,omitempty"`
	Direction  venue.Direction `json:"direction"`
	Volume     decimal.Decimal `json:"volume"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	OpenedAt   time.Time       `json:"opened_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Book holds active mappings indexed both ways. Both identifiers are unique
// across active entries.
type Book struct {
	mu         sync.RWMutex
	byTicket   map[string]Mapping
	byPosition map[string]string
	onChange   func(n int)
}

func NewBook() *Book {
	return &Book{
		byTicket:   make(map[string]Mapping),
		byPosition: make(map[string]string),
	}
}

// OnChange registers fn, called with the number of active mappings after
// every mutation.
func (b *Book) OnChange(fn func(n int)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Put adds a new mapping. It fails when either identifier is already active.
func (b *Book) Put(m Mapping) error {
	if m.Ticket == "" || m.PositionID == "" {
		return fmt.Errorf("mapping requires ticket and position id")
	}
	b.mu.Lock()
	if cur, ok := b.byTicket[m.Ticket]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: ticket %s -> position %s", ErrTicketActive, m.Ticket, cur.PositionID)
	}
	if owner, ok := b.byPosition[m.PositionID]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: position %s owned by ticket %s", ErrPositionMapped, m.PositionID, owner)
	}
	b.byTicket[m.Ticket] = m
	b.byPosition[m.PositionID] = m.Ticket
	n, fn := len(b.byTicket), b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn(n)
	}
	return nil
}

// Replace swaps an existing mapping for m. Identifiers must not change.
func (b *Book) Replace(m Mapping) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.byTicket[m.Ticket]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotMapped, m.Ticket)
	}
	if cur.PositionID != m.PositionID {
		return fmt.Errorf("replace ticket %s: position id changed %s -> %s", m.Ticket, cur.PositionID, m.PositionID)
	}
	b.byTicket[m.Ticket] = m
	return nil
}

func (b *Book) Get(ticket string) (Mapping, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.byTicket[ticket]
	return m, ok
}

func (b *Book) TicketFor(positionID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.byPosition[positionID]
	return t, ok
}

func (b *Book) Remove(ticket string) (Mapping, bool) {
	b.mu.Lock()
	m, ok := b.byTicket[ticket]
	if ok {
		delete(b.byTicket, ticket)
		delete(b.byPosition, m.PositionID)
	}
	n, fn := len(b.byTicket), b.onChange
	b.mu.Unlock()
	if ok && fn != nil {
		fn(n)
	}
	return m, ok
}

func (b *Book) RemovePosition(positionID string) (Mapping, bool) {
	ticket, ok := b.TicketFor(positionID)
	if !ok {
		return Mapping{}, false
	}
	return b.Remove(ticket)
}

// MappedPositions returns the set of currently mapped position ids.
func (b *Book) MappedPositions() map[string]struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]struct{}, len(b.byPosition))
	for id := range b.byPosition {
		out[id] = struct{}{}
	}
	return out
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byTicket)
}

// Snapshot 返回按 ticket 排序的映射副本。
func (b *Book) Snapshot() []Mapping {
	b.mu.RLock()
	out := make([]Mapping, 0, len(b.byTicket))
	for _, m := range b.byTicket {
		out = append(out, m)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].Ticket, out[j].Ticket) })
	return out
}
