// Package types defines the shared, dependency-free vocabulary used across
// the ingestion pipeline: pair metadata, the wire-level trade and depth
// shapes, and the aggregates the analysis worker produces from them.
package types

// ConnectionStatus is the exchange connection state machine's enumeration.
type ConnectionStatus string

const (
	StatusNotConnected ConnectionStatus = "NOT_CONNECTED"
	StatusConnecting   ConnectionStatus = "CONNECTING"
	StatusConnected    ConnectionStatus = "CONNECTED"
	StatusRateLimited  ConnectionStatus = "RATE_LIMITED"
	StatusError        ConnectionStatus = "ERROR"
)

// Valid reports whether s is one of the five enumerated connection states.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusNotConnected, StatusConnecting, StatusConnected, StatusRateLimited, StatusError:
		return true
	default:
		return false
	}
}

// PairInfo is the immutable per-pair metadata parsed from exchange-info at
// session start and on each refresh. Prices and quantities are integer unit
// amounts at the listed precision (see internal/units).
type PairInfo struct {
	Pair                 string
	BaseSymbol           string
	QuoteSymbol          string
	BasePrecision        int
	BaseStepSize         int64
	MinBaseQty           int64
	MaxBaseQty           int64
	QuotePrecision       int
	QuoteStepSize        int64
	MinQuotePrice        int64
	MaxQuotePrice        int64
	MinNotationalProduct int64
}

// Trade is one executed trade observed on the exchange stream (or replayed
// from an archived log), stamped with the ticker caches in effect at
// observation time.
type Trade struct {
	Pair            string  `json:"-"`
	TradeTimestamp  int64   `json:"trade_timestamp"`
	ServerTimestamp int64   `json:"server_timestamp"`
	Price           float64 `json:"price"`
	Quantity        float64 `json:"quantity"`
	IsBuyerMaker    bool    `json:"is_buyer_maker"`
	BuyerID         int64   `json:"buyer_id"`
	SellerID        int64   `json:"seller_id"`
	Low24           float64 `json:"low24"`
	High24          float64 `json:"high24"`
	Vol24           float64 `json:"vol24"`
}

// DepthEvent is one incremental order-book delta for a single side of a
// single pair. A quantity of zero in Levels means "remove this level".
type DepthEvent struct {
	Pair         string
	PrevUpdateID int64
	LastUpdateID int64
	Levels       map[string]float64
}

// DepthSnapshot is a full depth refresh for a single side of a single pair,
// as returned by the REST depth endpoint.
type DepthSnapshot struct {
	Pair     string
	UpdateID int64
	Levels   map[string]float64
}

// ReconciledDepth is the Order-Book Worker's merged output: a best-effort
// current view of both sides of one pair's book.
type ReconciledDepth struct {
	Pair            string             `json:"-"`
	ServerTimestamp int64              `json:"server_timestamp"`
	Bids            map[string]float64 `json:"bids"`
	Asks            map[string]float64 `json:"asks"`
}

// TradingPeriod is the closed-bin summary the Analysis Worker folds trades
// into before feeding the indicator buffer.
type TradingPeriod struct {
	Pair            string
	PeriodTimestamp int64
	TotalQuantity   float64
	NumTrades       int
	AvgPrice        float64
	LowPrice        float64
	HighPrice       float64
}

// Side distinguishes buy and sell signal events for the Executor.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeSignal is a buy/sell event emitted by the Analysis Worker's
// prediction step once the joint probability crosses its threshold.
type TradeSignal struct {
	Pair      string
	Side      Side
	Timestamp int64
	Prob      float32
}
