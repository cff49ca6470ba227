package webterminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptsQuoteSelectors(t *testing.T) {
	sel, err := DefaultSelectors()
	require.NoError(t, err)

	js := listPositionIDsJS(sel.Positions)
	assert.Contains(t, js, `"mtr-open-positions-desktop.open-positions-desktop .engine-list--overflow engine-list-element"`)
	assert.Contains(t, js, `".bottom-section-table__position-id"`)

	js = clickRowButtonJS(sel.Positions, `12"); alert("x`, sel.Positions.CloseButton)
	assert.Contains(t, js, `"12\"); alert(\"x"`)
	assert.Contains(t, js, `"button#closePositionButton[title='Close position']"`)
	assert.Contains(t, js, `=== "12\"); alert(\"x"`)
}

func TestRowMatchIsExact(t *testing.T) {
	sel, err := DefaultSelectors()
	require.NoError(t, err)
	js := findRowJS(sel.Positions, "12")
	assert.Contains(t, js, `.trim() === "12"`)
	assert.NotContains(t, js, "includes")
	assert.True(t, strings.HasPrefix(rowGoneJS(sel.Positions, "12"), "!("))
}

func TestSelectSymbolAndConfirmations(t *testing.T) {
	sel, err := DefaultSelectors()
	require.NoError(t, err)
	js := selectSymbolJS(sel.OrderPanel, "EURUSD")
	assert.Contains(t, js, `"#cdk-drop-list-0 engine-list-element"`)
	assert.Contains(t, js, `=== "EURUSD"`)

	js = confirmationsOffJS(sel.Settings.ConfirmationsLabel)
	assert.Contains(t, js, `"Turn off trade confirmations"`)
	assert.Contains(t, js, confirmToggled)
}
