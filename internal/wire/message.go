// Package wire implements the framed protocol that carries requests,
// callbacks, and broadcast streams between a strategy process and the data
// server (spec §4.1, §6). Frames are length-prefixed (u32 big-endian length
// followed by the payload); the payload is a tagged union encoded with
// encoding/gob, which keeps the in-memory record layout close to the wire
// layout for the historical-chunk hot path without pulling in a schema
// compiler the rest of the retrieval pack does not otherwise exercise.
package wire

import (
	"time"

	"github.com/fundforge/ffcore/internal/domain"
)

// RequestKind discriminates the strategy->server alphabet of spec §4.1.
type RequestKind string

const (
	ReqRegister     RequestKind = "register"
	ReqSubscribe    RequestKind = "subscribe"
	ReqUnsubscribe  RequestKind = "unsubscribe"
	ReqHistoryRange RequestKind = "history_range"
	ReqSymbols      RequestKind = "symbols"
	ReqTickSize     RequestKind = "tick_size"
	ReqPlaceOrder   RequestKind = "place_order"
	ReqCancelOrder  RequestKind = "cancel_order"
	ReqUpdateOrder  RequestKind = "update_order"
	ReqFlattenAcct  RequestKind = "flatten_account"
	ReqAccountInfo  RequestKind = "account_info"
)

// Mode selects backtest vs live on Register.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// Request is the tagged union sent strategy -> server. CallbackID is zero for
// one-way requests (Subscribe, Unsubscribe, CancelOrder, UpdateOrder,
// FlattenAccount); non-zero callback-style requests get exactly one Response
// carrying the same CallbackID.
type Request struct {
	Kind       RequestKind
	CallbackID uint64

	Mode         Mode               // Register
	Subscription *domain.Subscription // Subscribe/Unsubscribe/HistoryRange
	StreamName   string             // Subscribe/Unsubscribe
	HistoryLen   int                // Subscribe: warmup window length
	From, To     time.Time          // HistoryRange
	Vendor       string             // Symbols/TickSize
	MarketType   domain.MarketType  // Symbols
	Symbol       *domain.Symbol     // TickSize
	Order        *domain.Order      // PlaceOrder
	OrderID      string             // CancelOrder/UpdateOrder
	Change       *domain.OrderChange // UpdateOrder
	Account      string             // FlattenAccount/AccountInfo
}

// ResponseKind discriminates the server->strategy alphabet of spec §4.1.
type ResponseKind string

const (
	RespSymbols     ResponseKind = "symbols"
	RespTickSize    ResponseKind = "tick_size"
	RespHistory     ResponseKind = "history_chunk"
	RespOrderEvent  ResponseKind = "order_event"
	RespPosEvent    ResponseKind = "position_event"
	RespStreamData  ResponseKind = "stream_data"
	RespError       ResponseKind = "error"
	RespAccountInfo ResponseKind = "account_info"
)

// Response is the tagged union sent server -> strategy.
type Response struct {
	Kind       ResponseKind
	CallbackID uint64 // zero when this response is not completing a callback (StreamData/OrderEvent/PositionEvent)

	Symbols  []domain.Symbol
	TickSize *string // decimal string; see internal/decimal

	HistoryRecords []domain.DataRecord
	HistoryMore    bool

	OrderEvt *domain.OrderEvent
	PosEvt   *domain.PositionEvent

	StreamSubscription *domain.Subscription
	StreamRecord       *domain.DataRecord
	StreamName         string

	Account *domain.Account

	Err *domain.Error
}
