package bridge

import (
	"fmt"
	"reflect"
	"strings"

	"tradebridge/internal/venue"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

type Action string

const (
	ActionTrade     Action = "trade"
	ActionModify    Action = "modify"
	ActionDelete    Action = "delete"
	ActionDeleteAll Action = "delete_all"
)

// RequiredFields must be present in every command payload.
var RequiredFields = []string{"action", "ticket", "volume", "direction", "take_profit", "stop_loss"}

// Request is one validated command from the order-management side.
type Request struct {
	Action     Action          `json:"action" validate:"required,oneof=trade modify delete delete_all"`
	Ticket     string          `json:"ticket" validate:"required_unless=Action delete_all,max=64"`
	Direction  venue.Direction `json:"direction,omitempty"`
	Volume     decimal.Decimal `json:"volume" validate:"required_if=Action trade,gte=0"`
	StopLoss   decimal.Decimal `json:"stop_loss" validate:"gte=0"`
	TakeProfit decimal.Decimal `json:"take_profit" validate:"gte=0"`
	Symbol     string          `json:"symbol,omitempty" validate:"max=32"`
}

// Order converts a trade request into the venue order; the path follows
// whether SL or TP is set.
func (r Request) Order() venue.OpenOrder {
	return venue.OpenOrder{
		Type:       venue.OrderTypeFor(r.StopLoss, r.TakeProfit),
		Direction:  r.Direction,
		Volume:     r.Volume,
		Symbol:     r.Symbol,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// decimal 按 float64 参与 gte/required 校验
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterStructValidation(validateTrade, Request{})
	return v
}

func validateTrade(sl validator.StructLevel) {
	r := sl.Current().Interface().(Request)
	if r.Action != ActionTrade {
		return
	}
	if !r.Direction.Valid() {
		sl.ReportError(r.Direction, "Direction", "direction", "buy_or_sell", "")
	}
	if r.Order().Type == venue.OrderPending && strings.TrimSpace(r.Symbol) == "" {
		sl.ReportError(r.Symbol, "Symbol", "symbol", "required_for_pending", "")
	}
}

// ParseRequest checks presence with gjson before decoding, so a missing field
// and a zero value stay distinguishable.
func ParseRequest(body []byte) (Request, error) {
	if len(strings.TrimSpace(string(body))) == 0 || !gjson.ValidBytes(body) {
		return Request{}, New(KindInvalidInput, "No JSON data received, or invalid format")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() || len(doc.Map()) == 0 {
		return Request{}, New(KindInvalidInput, "No JSON data received, or invalid format")
	}

	var missing []string
	for _, f := range RequiredFields {
		if !doc.Get(f).Exists() {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Request{}, Newf(KindInvalidInput, "Missing fields: %s", strings.Join(missing, ", "))
	}

	action := Action(strings.ToLower(strings.TrimSpace(doc.Get("action").String())))
	switch action {
	case ActionTrade, ActionModify, ActionDelete, ActionDeleteAll:
	default:
		return Request{}, New(KindInvalidInput, "Invalid action")
	}

	req := Request{
		Action:    action,
		Ticket:    strings.TrimSpace(doc.Get("ticket").String()),
		Direction: venue.Direction(strings.ToUpper(strings.TrimSpace(doc.Get("direction").String()))),
		Symbol:    strings.TrimSpace(doc.Get("symbol").String()),
	}
	var err error
	if req.Volume, err = decimalField(doc, "volume"); err != nil {
		return Request{}, err
	}
	if req.StopLoss, err = decimalField(doc, "stop_loss"); err != nil {
		return Request{}, err
	}
	if req.TakeProfit, err = decimalField(doc, "take_profit"); err != nil {
		return Request{}, err
	}

	if err := validate.Struct(req); err != nil {
		return Request{}, Wrap(KindInvalidInput, describeValidation(err), err)
	}
	return req, nil
}

// decimalField accepts a JSON number or a numeric string; null and "" read as
// zero (unset).
func decimalField(doc gjson.Result, name string) (decimal.Decimal, error) {
	v := doc.Get(name)
	switch v.Type {
	case gjson.Null:
		return decimal.Zero, nil
	case gjson.Number:
		d, err := decimal.NewFromString(v.Raw)
		if err != nil {
			return decimal.Zero, Newf(KindInvalidInput, "invalid %s", name)
		}
		return d, nil
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, Newf(KindInvalidInput, "invalid %s", name)
		}
		return d, nil
	default:
		return decimal.Zero, Newf(KindInvalidInput, "invalid %s", name)
	}
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s (%s)", fieldName(fe.Field()), fe.Tag()))
	}
	return "Invalid fields: " + strings.Join(parts, ", ")
}

func fieldName(structField string) string {
	switch structField {
	case "StopLoss":
		return "stop_loss"
	case "TakeProfit":
		return "take_profit"
	default:
		return strings.ToLower(structField)
	}
}
