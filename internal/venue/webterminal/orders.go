package webterminal

import (
	"context"
	"fmt"

	"tradebridge/internal/logger"
	"tradebridge/internal/venue"

	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
)

// SubmitOpen 提交开仓。市价单走行情面板的快捷买卖按钮；带 SL/TP 的走下单面板。
func (d *Driver) SubmitOpen(ctx context.Context, order venue.OpenOrder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch order.Type {
	case venue.OrderMarket:
		return d.submitMarketLocked(ctx, order)
	case venue.OrderPending:
		return d.submitPendingLocked(ctx, order)
	default:
		return fmt.Errorf("unsupported order type %q", order.Type)
	}
}

func (d *Driver) submitMarketLocked(ctx context.Context, order venue.OpenOrder) error {
	qt := d.selectors.Current().QuickTrade
	button := qt.Buy
	if order.Direction == venue.Sell {
		button = qt.Sell
	}
	if err := d.run(ctx, d.cfg.OpTimeout,
		typeInto(qt.Volume, order.Volume.String()),
		chromedp.Click(button, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("market %s: %w", order.Direction, err)
	}
	logger.Infof("[webterminal] clicked quick %s volume=%s", order.Direction, order.Volume.String())
	return nil
}

func (d *Driver) submitPendingLocked(ctx context.Context, order venue.OpenOrder) error {
	op := d.selectors.Current().OrderPanel
	var found bool
	if err := d.run(ctx, d.cfg.OpTimeout, chromedp.Evaluate(selectSymbolJS(op, order.Symbol), &found)); err != nil {
		return fmt.Errorf("select symbol %s: %w", order.Symbol, err)
	}
	if !found {
		return fmt.Errorf("symbol %s: %w", order.Symbol, venue.ErrElementNotFound)
	}
	button := op.Buy
	if order.Direction == venue.Sell {
		button = op.Sell
	}
	if err := d.run(ctx, d.cfg.OpTimeout,
		chromedp.Click(op.Open, chromedp.ByQuery),
		chromedp.Click(op.SLToggle, chromedp.ByQuery),
		chromedp.Click(op.TPToggle, chromedp.ByQuery),
		typeInto(op.Volume, order.Volume.String()),
		typeInto(op.StopLoss, order.StopLoss.String()),
		typeInto(op.TakeProfit, order.TakeProfit.String()),
		chromedp.Click(button, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("order panel %s %s: %w", order.Direction, order.Symbol, err)
	}
	logger.Infof("[webterminal] submitted %s", order)
	// 订单已提交，关闭面板失败不影响结果。
	if err := d.run(ctx, d.cfg.OpTimeout, chromedp.Click(op.BackXPath, chromedp.BySearch)); err != nil {
		logger.Warnf("[webterminal] close order panel failed: %v", err)
	}
	return nil
}

// OpenPositionIDs 实时读取持仓列表中的编号。
func (d *Driver) OpenPositionIDs(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps := d.selectors.Current().Positions
	var ids []string
	if err := d.run(ctx, d.cfg.OpTimeout, chromedp.Evaluate(listPositionIDsJS(ps), &ids)); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return venue.NormalizeIDs(ids), nil
}

func (d *Driver) ClosePosition(ctx context.Context, positionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps := d.selectors.Current().Positions
	if err := d.clickRowButtonLocked(ctx, ps, positionID, ps.CloseButton); err != nil {
		return fmt.Errorf("close %s: %w", positionID, err)
	}
	var gone bool
	if err := d.run(ctx, d.cfg.OpTimeout,
		chromedp.Poll(rowGoneJS(ps, positionID), &gone, chromedp.WithPollingInterval(pollInterval)),
	); err != nil {
		return fmt.Errorf("close %s: row still listed: %w", positionID, err)
	}
	logger.Infof("[webterminal] closed position=%s", positionID)
	return nil
}

// ModifyPosition edits take profit first, then stop loss, through the row's
// edit popup.
func (d *Driver) ModifyPosition(ctx context.Context, positionID string, mod venue.Modification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.selectors.Current()
	if mod.TakeProfit != nil {
		if err := d.editFieldLocked(ctx, sel, positionID, sel.Positions.EditTakeProfit, *mod.TakeProfit); err != nil {
			return &venue.FieldError{Field: venue.FieldTakeProfit, Err: err}
		}
	}
	if mod.StopLoss != nil {
		if err := d.editFieldLocked(ctx, sel, positionID, sel.Positions.EditStopLoss, *mod.StopLoss); err != nil {
			return &venue.FieldError{Field: venue.FieldStopLoss, Err: err}
		}
	}
	return nil
}

func (d *Driver) editFieldLocked(ctx context.Context, sel Selectors, positionID, button string, value decimal.Decimal) error {
	if err := d.clickRowButtonLocked(ctx, sel.Positions, positionID, button); err != nil {
		return err
	}
	pp := sel.ModifyPopup
	var closed bool
	if err := d.run(ctx, d.cfg.OpTimeout,
		chromedp.WaitVisible(pp.Root, chromedp.ByQuery),
		typeInto(pp.Input, value.String()),
		chromedp.Click(pp.Save, chromedp.ByQuery),
		chromedp.Poll(popupClosedJS(pp), &closed, chromedp.WithPollingInterval(pollInterval)),
	); err != nil {
		return err
	}
	logger.Infof("[webterminal] position=%s set %s", positionID, value.String())
	return nil
}

func (d *Driver) clickRowButtonLocked(ctx context.Context, ps PositionSelectors, positionID, button string) error {
	var res string
	if err := d.run(ctx, d.cfg.OpTimeout, chromedp.Evaluate(clickRowButtonJS(ps, positionID, button), &res)); err != nil {
		return err
	}
	switch res {
	case rowClicked:
		return nil
	case rowMissing:
		return venue.ErrPositionNotFound
	default:
		return fmt.Errorf("button %q: %w", button, venue.ErrElementNotFound)
	}
}
