// Package venue 定义交易终端驱动的抽象：会话生命周期、持仓列表与下单/平仓/改单操作。
package venue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Direction 为下单方向。
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// OrderType 区分市价快捷下单与带 SL/TP 的挂单面板路径。
type OrderType string

const (
	OrderMarket  OrderType = "market"
	OrderPending OrderType = "pending"
)

// OpenOrder 描述一次开仓请求；StopLoss/TakeProfit 为零表示未设置。
type OpenOrder struct {
	Type       OrderType
	Direction  Direction
	Volume     decimal.Decimal
	Symbol     string
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// OrderTypeFor picks the market path when neither SL nor TP is set.
func OrderTypeFor(stopLoss, takeProfit decimal.Decimal) OrderType {
	if stopLoss.IsZero() && takeProfit.IsZero() {
		return OrderMarket
	}
	return OrderPending
}

func (o OpenOrder) String() string {
	return fmt.Sprintf("%s %s vol=%s symbol=%s sl=%s tp=%s",
		o.Type, o.Direction, o.Volume.String(), o.Symbol, o.StopLoss.String(), o.TakeProfit.String())
}

// Modification: nil 字段保持不变。
type Modification struct {
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// Field names used when reporting which half of a modification failed.
const (
	FieldStopLoss   = "stop_loss"
	FieldTakeProfit = "take_profit"
)

// FieldError reports a modification that failed on one specific field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("modify %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Driver 是对交易终端的最小操作集合。所有方法都必须遵守 ctx 的截止时间。
type Driver interface {
	Open(ctx context.Context) error
	// OpenPositionIDs 每次都实时读取终端，不做缓存。
	OpenPositionIDs(ctx context.Context) ([]string, error)
	SubmitOpen(ctx context.Context, order OpenOrder) error
	// ClosePosition 在对应行不存在时返回 ErrPositionNotFound。
	ClosePosition(ctx context.Context, positionID string) error
	// ModifyPosition applies take profit first, then stop loss. A failure on
	// one field is returned as *FieldError.
	ModifyPosition(ctx context.Context, positionID string, mod Modification) error
	CheckHealth(ctx context.Context) bool
	RefreshSession(ctx context.Context) error
	Close() error
}

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrElementNotFound  = errors.New("element not found")
	ErrTimeout          = errors.New("venue operation timed out")
	ErrSessionClosed    = errors.New("venue session closed")
)

// IsTransient 判断错误是否属于可通过刷新会话后重试恢复的界面类错误。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPositionNotFound) {
		return false
	}
	if errors.Is(err, ErrElementNotFound) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrSessionClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

var transientHints = []string{
	"stale element",
	"not interactable",
	"click intercepted",
	"target closed",
	"context canceled",
	"websocket",
}

// NormalizeIDs trims, drops empty and de-duplicates position ids keeping order.
func NormalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
