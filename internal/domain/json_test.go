package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestZeroReportEncodesNumbers(t *testing.T) {
	raw, err := json.Marshal(Report{
		Sales:     SalesMetrics{Revenue: decimal.Zero},
		Cost:      decimal.Zero,
		Profit:    decimal.Zero,
		Purchased: decimal.Zero,
		Dues:      decimal.Zero,
		Inventory: InventoryMetrics{StockValue: decimal.Zero},
	})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"stockValue":0`)
	require.Contains(t, string(raw), `"revenue":0`)
	require.Contains(t, string(raw), `"dues":0`)
}

func TestDecimalInputAcceptsQuotedAndBare(t *testing.T) {
	var req PurchaseRequest
	require.NoError(t, json.Unmarshal([]byte(`{"quantity":2,"unit_cost":"12.50"}`), &req))
	require.True(t, decimal.RequireFromString("12.5").Equal(req.UnitCost))

	require.NoError(t, json.Unmarshal([]byte(`{"quantity":2,"unit_cost":7.25}`), &req))
	require.True(t, decimal.RequireFromString("7.25").Equal(req.UnitCost))
}
