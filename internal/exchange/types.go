// Package exchange implements the external exchange interfaces of
// spec.md §6: a REST client for OHLCV/order-book/funding/open-interest/
// fear-greed data, and a multiplexed kline WebSocket client. Grounded on
// the teacher's internal/binance/client.go (REST, raw-array kline
// parsing) and internal/binance/user_data_stream.go (the
// connect/readLoop/keepAliveLoop reconnect-with-backoff idiom), adapted
// from spot-market user-data streams to futures-market kline streams.
package exchange

import "futures-signal-engine/internal/candle"

// OrderBookLevel is one price/size pair on one side of the book.
type OrderBookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is both sides of the book, best price first.
type OrderBook struct {
	Bids []OrderBookLevel
	Asks []OrderBookLevel
}

// KlineEvent is one message from the kline WebSocket stream (spec.md
// §6): `{s: symbol, k: {t, o, h, l, c, v, i, x}}`.
type KlineEvent struct {
	Symbol     string
	Timeframe  candle.Timeframe
	OpenTimeMs int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	IsClosed   bool
}

// RESTClient is the minimal REST surface the engine needs (spec.md §6).
type RESTClient interface {
	FetchOHLCV(symbol string, tf candle.Timeframe, limit int, sinceMs int64) ([]candle.Candle, error)
	FetchOrderBook(symbol string, depth int) (OrderBook, error)
	FetchFundingRate(symbol string) (float64, error)
	FetchOpenInterest(symbol string) (float64, error)
	FetchFearGreed() (int, error)
}

// KlineHandler receives ordered, deduplicated kline events from a
// WSClient (spec.md §4.3).
type KlineHandler func(KlineEvent)
