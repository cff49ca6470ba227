package webterminal

import (
	"encoding/json"
	"fmt"
)

// Row lookup results returned by clickRowButtonJS.
const (
	rowClicked  = "ok"
	rowMissing  = "no_row"
	rowNoButton = "no_button"
)

// Confirmation checkbox results returned by confirmationsOffJS. confirmMissing
// is falsy so chromedp.Poll keeps waiting for the settings dialog to render.
const (
	confirmAlreadyOff = "already_off"
	confirmToggled    = "toggled"
	confirmMissing    = ""
)

func jsString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

// listPositionIDsJS 收集持仓列表中每一行的编号文本；容器不存在时返回空数组。
func listPositionIDsJS(ps PositionSelectors) string {
	return fmt.Sprintf(`(() => {
  const out = [];
  document.querySelectorAll(%s).forEach((row) => {
    const cell = row.querySelector(%s);
    if (!cell) return;
    const text = (cell.textContent || "").trim();
    if (text) out.push(text);
  });
  return out;
})()`, jsString(ps.Rows), jsString(ps.IDCell))
}

// findRowJS is an expression that evaluates to the row whose id cell equals id
// exactly, or null.
func findRowJS(ps PositionSelectors, id string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).find((row) => {
  const cell = row.querySelector(%s);
  return !!cell && (cell.textContent || "").trim() === %s;
}) || null`, jsString(ps.Rows), jsString(ps.IDCell), jsString(id))
}

func rowGoneJS(ps PositionSelectors, id string) string {
	return fmt.Sprintf(`!(%s)`, findRowJS(ps, id))
}

// clickRowButtonJS clicks button inside the row of position id.
func clickRowButtonJS(ps PositionSelectors, id, button string) string {
	return fmt.Sprintf(`(() => {
  const row = %s;
  if (!row) return %s;
  const btn = row.querySelector(%s);
  if (!btn) return %s;
  btn.scrollIntoView({block: "center"});
  btn.click();
  return %s;
})()`, findRowJS(ps, id), jsString(rowMissing), jsString(button), jsString(rowNoButton), jsString(rowClicked))
}

// selectSymbolJS 在行情列表中点击与 symbol 完全匹配的一行。
func selectSymbolJS(op OrderPanelSelectors, symbol string) string {
	return fmt.Sprintf(`(() => {
  const rows = Array.from(document.querySelectorAll(%s));
  const row = rows.find((el) => {
    const span = el.querySelector(%s);
    return !!span && (span.textContent || "").trim() === %s;
  });
  if (!row) return false;
  row.scrollIntoView({block: "center"});
  row.click();
  return true;
})()`, jsString(op.SymbolRows), jsString(op.SymbolText), jsString(symbol))
}

// sessionReadyJS is truthy once either the logged-in menu or the login form
// has rendered.
func sessionReadyJS(sel Selectors) string {
	return fmt.Sprintf(`!!document.querySelector(%s) || !!document.querySelector(%s)`,
		jsString(sel.UserMenu), jsString(sel.Login.Email))
}

func popupClosedJS(pp PopupSelectors) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  return !el || el.offsetParent === null;
})()`, jsString(pp.Root))
}

// confirmationsOffJS ticks the "turn off trade confirmations" checkbox bound to
// the label containing text, unless it already reports true.
func confirmationsOffJS(text string) string {
	return fmt.Sprintf(`(() => {
  const label = Array.from(document.querySelectorAll("label")).find((l) => (l.textContent || "").includes(%s));
  if (!label) return %s;
  const box = document.getElementById(label.getAttribute("for") || "");
  if (!box) return %s;
  if (String(box.value).toLowerCase() === "true" || box.checked === true) return %s;
  box.click();
  return %s;
})()`, jsString(text), jsString(confirmMissing), jsString(confirmMissing), jsString(confirmAlreadyOff), jsString(confirmToggled))
}
