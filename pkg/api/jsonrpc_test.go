package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/pkg/perp"
)

func newTestServer(t *testing.T) (*Server, *perp.ManualPriceFeed, *perp.SimpleCollateralLedger) {
	t.Helper()

	feed := perp.NewManualPriceFeed(0)
	collateral := perp.NewSimpleCollateralLedger()
	market, err := perp.NewMarket(perp.MarketConfig{
		Key:        "tBTC-PERP",
		Feed:       feed,
		Settings:   perp.NewStaticSettings(perp.DefaultParameters()),
		Collateral: collateral,
		FeePool:    perp.NewMemoryFeePool(),
		Gate:       perp.NewStaticGate(),
	})
	require.NoError(t, err)

	return NewServer(market, feed, collateral, log.NewNoOpLogger()), feed, collateral
}

func call(t *testing.T, s *Server, method string, params interface{}) JSONRPCResponse {
	t.Helper()

	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      1,
	}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JSONRPCResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func TestJSONRPCProtocol(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("GetNotAllowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("ParseError", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{garbage")))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		var resp JSONRPCResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, ParseError, resp.Error.Code)
	})

	t.Run("WrongVersion", func(t *testing.T) {
		raw := []byte(`{"jsonrpc":"1.0","method":"perp_marketSummary","id":1}`)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		var resp JSONRPCResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})

	t.Run("MethodNotFound", func(t *testing.T) {
		resp := call(t, s, "perp_unknown", nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("MissingParams", func(t *testing.T) {
		resp := call(t, s, "perp_position", nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})
}

func TestTradeLifecycleOverRPC(t *testing.T) {
	s, _, _ := newTestServer(t)

	resp := call(t, s, "perp_setPrice", map[string]string{"price": "100"})
	require.Nil(t, resp.Error)

	resp = call(t, s, "perp_fundAccount", map[string]string{"account": "alice", "amount": "1000"})
	require.Nil(t, resp.Error)

	resp = call(t, s, "perp_transferMargin", map[string]string{"account": "alice", "delta": "1000"})
	require.Nil(t, resp.Error)

	resp = call(t, s, "perp_modifyPosition", map[string]string{"account": "alice", "sizeDelta": "50"})
	require.Nil(t, resp.Error)

	var pos struct {
		ID     uint64          `json:"id"`
		Size   decimal.Decimal `json:"size"`
		Margin decimal.Decimal `json:"margin"`
	}
	remarshal(t, resp.Result, &pos)
	assert.Equal(t, uint64(1), pos.ID)
	assert.True(t, pos.Size.Equal(decimal.RequireFromString("50")))
	assert.True(t, pos.Margin.Equal(decimal.RequireFromString("985")))

	resp = call(t, s, "perp_remainingMargin", map[string]string{"account": "alice"})
	require.Nil(t, resp.Error)
	var rm map[string]decimal.Decimal
	remarshal(t, resp.Result, &rm)
	assert.True(t, rm["remainingMargin"].Equal(decimal.RequireFromString("985")))

	resp = call(t, s, "perp_closePosition", map[string]string{"account": "alice"})
	require.Nil(t, resp.Error)
	remarshal(t, resp.Result, &pos)
	assert.True(t, pos.Size.IsZero())

	resp = call(t, s, "perp_marketSummary", nil)
	require.Nil(t, resp.Error)
	var summary perp.MarketSummary
	remarshal(t, resp.Result, &summary)
	assert.Equal(t, "tBTC-PERP", summary.Key)
	assert.Equal(t, 0, summary.OpenPositions)
}

func TestEngineErrorCodes(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("InvalidPriceBeforeSetPrice", func(t *testing.T) {
		resp := call(t, s, "perp_transferMargin", map[string]string{"account": "alice", "delta": "100"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidPrice, resp.Error.Code)
	})

	resp := call(t, s, "perp_setPrice", map[string]string{"price": "100"})
	require.Nil(t, resp.Error)

	t.Run("InsufficientBalance", func(t *testing.T) {
		resp := call(t, s, "perp_transferMargin", map[string]string{"account": "alice", "delta": "100"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInsufficientBalance, resp.Error.Code)
	})

	t.Run("NilOrder", func(t *testing.T) {
		resp := call(t, s, "perp_modifyPosition", map[string]string{"account": "alice", "sizeDelta": "0"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeNilOrder, resp.Error.Code)
	})

	t.Run("NoPositionOpen", func(t *testing.T) {
		resp := call(t, s, "perp_closePosition", map[string]string{"account": "alice"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeNoPositionOpen, resp.Error.Code)
	})

	t.Run("CannotLiquidate", func(t *testing.T) {
		resp := call(t, s, "perp_liquidate", map[string]string{"account": "alice", "executor": "keeper"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeCannotLiquidate, resp.Error.Code)
	})

	t.Run("MaxLeverageExceeded", func(t *testing.T) {
		resp := call(t, s, "perp_fundAccount", map[string]string{"account": "bob", "amount": "1000"})
		require.Nil(t, resp.Error)
		resp = call(t, s, "perp_transferMargin", map[string]string{"account": "bob", "delta": "1000"})
		require.Nil(t, resp.Error)

		resp = call(t, s, "perp_modifyPosition", map[string]string{"account": "bob", "sizeDelta": "200"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeMaxLeverageExceeded, resp.Error.Code)
	})
}

func TestAdminMethodsDisabled(t *testing.T) {
	feed := perp.NewManualPriceFeed(0)
	market, err := perp.NewMarket(perp.MarketConfig{
		Key:        "tBTC-PERP",
		Feed:       feed,
		Settings:   perp.NewStaticSettings(perp.DefaultParameters()),
		Collateral: perp.NewSimpleCollateralLedger(),
		FeePool:    perp.NewMemoryFeePool(),
		Gate:       perp.NewStaticGate(),
	})
	require.NoError(t, err)
	s := NewServer(market, nil, nil, log.NewNoOpLogger())

	resp := call(t, s, "perp_setPrice", map[string]string{"price": "100"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)

	resp = call(t, s, "perp_fundAccount", map[string]string{"account": "alice", "amount": "1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func remarshal(t *testing.T, from interface{}, to interface{}) {
	t.Helper()
	raw, err := json.Marshal(from)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, to))
}
