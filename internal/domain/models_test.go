package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAllocation_HasAllClasses(t *testing.T) {
	a := NewAllocation()

	for _, c := range AssetClasses {
		pct, ok := a.TopLevel[c]
		assert.True(t, ok, "missing class %s", c)
		assert.Equal(t, 0.0, pct)
	}
	assert.Equal(t, 0.0, a.Total())
}

func TestAllocation_CloneIsIndependent(t *testing.T) {
	a := NewAllocation()
	a.TopLevel[Equity] = 60
	a.Equity[LargeCap] = 100

	c := a.Clone()
	c.TopLevel[Equity] = 10
	c.Equity[LargeCap] = 0

	assert.Equal(t, 60.0, a.TopLevel[Equity])
	assert.Equal(t, 100.0, a.Equity[LargeCap])
}

func TestTrade_WithDefaults(t *testing.T) {
	trade := Trade{Symbol: "VTI", Quantity: 2, Price: 200}.WithDefaults()

	assert.Equal(t, Buy, trade.Action)
	assert.Equal(t, Equity, trade.Category)
	assert.Equal(t, LargeCap, trade.Subcategory)
	assert.Equal(t, "VTI", trade.Name)
}

func TestParseAssetClass(t *testing.T) {
	c, ok := ParseAssetClass("Crypto")
	assert.True(t, ok)
	assert.Equal(t, Crypto, c)

	_, ok = ParseAssetClass("Commodities")
	assert.False(t, ok)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 33.3, RoundPct(100.0/3))
	assert.Equal(t, 12.35, Round(12.345, 2))
	assert.Equal(t, "1000.00", FormatMoney(1000))
	assert.Equal(t, 0.3, AddMoney(0.1, 0.2))
	assert.Equal(t, 30.0, MulMoney(0.3, 100))
}

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("failed to add goal: %w", MissingFieldError("name"))

	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "Missing required field: name")
	assert.False(t, IsValidationError(errors.New("boom")))
	assert.Equal(t, "amount: must be positive", NewValidationError("amount", "must be positive").Error())
}
