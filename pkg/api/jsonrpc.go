// Package api exposes the perps market over JSON-RPC 2.0 with a WebSocket
// event stream.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/perps/pkg/perp"
)

// Server handles JSON-RPC 2.0 requests against one market. The optional
// feed and collateral references enable the admin methods used by the
// server binary and local test setups.
type Server struct {
	market     *perp.Market
	feed       *perp.ManualPriceFeed
	collateral *perp.SimpleCollateralLedger
	logger     log.Logger
	hub        *wsHub
	observer   OpObserver
}

// OpObserver receives a record of every served RPC call. reason is empty
// for successful calls.
type OpObserver interface {
	ObserveOp(method string, duration time.Duration, reason string)
}

// NewServer creates an API server. feed and collateral may be nil, which
// disables perp_setPrice and perp_fundAccount.
func NewServer(market *perp.Market, feed *perp.ManualPriceFeed, collateral *perp.SimpleCollateralLedger, logger log.Logger) *Server {
	return &Server{
		market:     market,
		feed:       feed,
		collateral: collateral,
		logger:     logger,
		hub:        newWSHub(logger),
	}
}

// WithObserver attaches an operation observer. Call before serving.
func (s *Server) WithObserver(obs OpObserver) *Server {
	s.observer = obs
	return s
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Engine error codes, one per entry in the error taxonomy.
const (
	CodeInvalidPrice          = -32001
	CodePriceTooVolatile      = -32002
	CodeInsufficientMargin    = -32003
	CodeMaxLeverageExceeded   = -32004
	CodeMaxMarketSizeExceeded = -32005
	CodeNilOrder              = -32006
	CodeNoPositionOpen        = -32007
	CodeCanLiquidate          = -32008
	CodeCannotLiquidate       = -32009
	CodeNotPermitted          = -32010
	CodeInsufficientBalance   = -32011
)

var errorCodes = []struct {
	err    error
	code   int
	reason string
}{
	{perp.ErrInvalidPrice, CodeInvalidPrice, "invalid_price"},
	{perp.ErrPriceTooVolatile, CodePriceTooVolatile, "price_too_volatile"},
	{perp.ErrInsufficientMargin, CodeInsufficientMargin, "insufficient_margin"},
	{perp.ErrMaxLeverageExceeded, CodeMaxLeverageExceeded, "max_leverage_exceeded"},
	{perp.ErrMaxMarketSizeExceeded, CodeMaxMarketSizeExceeded, "max_market_size_exceeded"},
	{perp.ErrNilOrder, CodeNilOrder, "nil_order"},
	{perp.ErrNoPositionOpen, CodeNoPositionOpen, "no_position_open"},
	{perp.ErrCanLiquidate, CodeCanLiquidate, "can_liquidate"},
	{perp.ErrCannotLiquidate, CodeCannotLiquidate, "cannot_liquidate"},
	{perp.ErrNotPermitted, CodeNotPermitted, "not_permitted"},
	{perp.ErrInsufficientBalance, CodeInsufficientBalance, "insufficient_balance"},
}

func rpcError(err error) *RPCError {
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return &RPCError{Code: m.code, Message: err.Error()}
		}
	}
	return &RPCError{Code: InternalError, Message: err.Error()}
}

func rejectionReason(rpcErr *RPCError) string {
	if rpcErr == nil {
		return ""
	}
	for _, m := range errorCodes {
		if m.code == rpcErr.Code {
			return m.reason
		}
	}
	return "other"
}

// Routes registers the RPC endpoint and the WebSocket event stream on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.Handle("/", s)
	mux.HandleFunc("/ws", s.hub.handleWS)
}

// Publish implements perp.EventSink, streaming events to WebSocket
// subscribers.
func (s *Server) Publish(ev perp.Event) {
	s.hub.broadcast(ev)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, &RPCError{Code: ParseError, Message: "Parse error"})
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, &RPCError{Code: InvalidRequest, Message: "Invalid Request"})
		return
	}

	start := time.Now()
	result, rpcErr := s.handleMethod(req.Method, req.Params)
	if s.observer != nil {
		s.observer.ObserveOp(req.Method, time.Since(start), rejectionReason(rpcErr))
	}
	if rpcErr != nil {
		s.sendError(w, req.ID, rpcErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

func (s *Server) sendError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   rpcErr,
		ID:      id,
	})
}

type accountParams struct {
	Account string `json:"account"`
}

type transferParams struct {
	Account string          `json:"account"`
	Delta   decimal.Decimal `json:"delta"`
}

type modifyParams struct {
	Account   string          `json:"account"`
	SizeDelta decimal.Decimal `json:"sizeDelta"`
}

type liquidateParams struct {
	Account  string `json:"account"`
	Executor string `json:"executor"`
}

type priceParams struct {
	Price decimal.Decimal `json:"price"`
}

type fundParams struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

func (s *Server) handleMethod(method string, params json.RawMessage) (interface{}, *RPCError) {
	switch method {
	case "perp_transferMargin":
		var p transferParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := s.market.TransferMargin(p.Account, p.Delta); err != nil {
			return nil, rpcError(err)
		}
		return map[string]bool{"ok": true}, nil

	case "perp_modifyPosition":
		var p modifyParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := s.market.ModifyPosition(p.Account, p.SizeDelta); err != nil {
			return nil, rpcError(err)
		}
		return s.market.Position(p.Account), nil

	case "perp_closePosition":
		var p accountParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := s.market.ClosePosition(p.Account); err != nil {
			return nil, rpcError(err)
		}
		return s.market.Position(p.Account), nil

	case "perp_liquidate":
		var p liquidateParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := s.market.Liquidate(p.Account, p.Executor); err != nil {
			return nil, rpcError(err)
		}
		return map[string]bool{"ok": true}, nil

	case "perp_position":
		var p accountParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return s.market.Position(p.Account), nil

	case "perp_remainingMargin":
		var p accountParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		margin, err := s.market.RemainingMargin(p.Account)
		if err != nil {
			return nil, rpcError(err)
		}
		return map[string]decimal.Decimal{"remainingMargin": margin}, nil

	case "perp_accessibleMargin":
		var p accountParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		margin, err := s.market.AccessibleMargin(p.Account)
		if err != nil {
			return nil, rpcError(err)
		}
		return map[string]decimal.Decimal{"accessibleMargin": margin}, nil

	case "perp_liquidationPrice":
		var p accountParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		price, err := s.market.ApproxLiquidationPrice(p.Account)
		if err != nil {
			return nil, rpcError(err)
		}
		return map[string]decimal.Decimal{"liquidationPrice": price}, nil

	case "perp_canLiquidate":
		var p accountParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return map[string]bool{"canLiquidate": s.market.CanLiquidate(p.Account)}, nil

	case "perp_marketSummary":
		return s.market.Summary(), nil

	case "perp_fundingRate":
		rate, err := s.market.CurrentFundingRate()
		if err != nil {
			return nil, rpcError(err)
		}
		return map[string]decimal.Decimal{"fundingRate": rate}, nil

	case "perp_maxOrderSizes":
		long, short, err := s.market.MaxOrderSizes()
		if err != nil {
			return nil, rpcError(err)
		}
		return map[string]decimal.Decimal{"long": long, "short": short}, nil

	case "perp_setPrice":
		if s.feed == nil {
			return nil, &RPCError{Code: MethodNotFound, Message: "price feed not managed by this server"}
		}
		var p priceParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		s.feed.SetPrice(p.Price)
		return map[string]bool{"ok": true}, nil

	case "perp_fundAccount":
		if s.collateral == nil {
			return nil, &RPCError{Code: MethodNotFound, Message: "collateral ledger not managed by this server"}
		}
		var p fundParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := s.collateral.Credit(p.Account, p.Amount); err != nil {
			return nil, rpcError(err)
		}
		return map[string]decimal.Decimal{"balance": s.collateral.Balance(p.Account)}, nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func unmarshalParams(params json.RawMessage, v interface{}) *RPCError {
	if len(params) == 0 {
		return &RPCError{Code: InvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: InvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}
