package bridge

import (
	"tradebridge/internal/gate"
	"tradebridge/internal/mapper"
	"tradebridge/internal/session"
)

// Status values carried in Result.Status and the response bodies.
const (
	StatusSuccess       = "success"
	StatusPartialModify = "partial_modify"
)

// Result is what Dispatch hands back to the request boundary. Body is the
// JSON response object for the action.
type Result struct {
	TraceID    string
	Action     Action
	Status     string
	PositionID string
	Body       any
}

type TradeResult struct {
	Status  string `json:"status"`
	Action  string `json:"action"`
	TradeID string `json:"trade_id"`
}

type ModifyResult struct {
	Status      string   `json:"status"`
	Action      string   `json:"action"`
	TradeID     string   `json:"trade_id"`
	Applied     []string `json:"applied,omitempty"`
	FailedField string   `json:"failed_field,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type DeleteResult struct {
	Success string `json:"success"`
	Status  string `json:"status"`
}

// SessionStatus is the read-only view served at /api/session.
type SessionStatus struct {
	State       string `json:"state"`
	LastRefresh string `json:"last_refresh,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Refreshes   int64  `json:"refreshes"`
	Failures    int64  `json:"failures"`
	Breaker     string `json:"breaker"`
	GateHolder  string `json:"gate_holder,omitempty"`
	GateHeldMS  int64  `json:"gate_held_ms,omitempty"`
	GatePending int64  `json:"gate_pending"`
	Mapped      int    `json:"mapped_positions"`
}

func newSessionStatus(st session.Status, g *gate.Gate, book *mapper.Book) SessionStatus {
	out := SessionStatus{
		State:       st.State.String(),
		LastError:   st.LastError,
		Refreshes:   st.Refreshes,
		Failures:    st.Failures,
		Breaker:     st.Breaker.String(),
		GatePending: g.Pending(),
		Mapped:      book.Len(),
	}
	if !st.LastRefresh.IsZero() {
		out.LastRefresh = st.LastRefresh.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if role, held := g.Holder(); held {
		out.GateHolder = string(role)
		out.GateHeldMS = g.HeldFor().Milliseconds()
	}
	return out
}
