package exchange

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/logging"
)

const (
	fearGreedURL = "https://api.alternative.me/fng/?limit=1"
	rateLimitSleep = 10 * time.Second
)

// BinanceFuturesClient is the RESTClient implementation for Binance's
// USDM futures API. Grounded on the teacher's internal/binance/client.go
// (plain net/http + url.Values query building, manual JSON decoding of
// the raw kline array), generalized to the futures endpoint and to the
// extra funding-rate/open-interest/fear-greed calls spec.md §6 adds.
type BinanceFuturesClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger

	limiterMu sync.Mutex
	inFlight  int
	maxInFlight int
}

// NewBinanceFuturesClient constructs a client against baseURL (e.g.
// https://fapi.binance.com).
func NewBinanceFuturesClient(baseURL string) *BinanceFuturesClient {
	return &BinanceFuturesClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		log:         logging.WithComponent("exchange_rest"),
		maxInFlight: 10,
	}
}

func (c *BinanceFuturesClient) acquire() {
	for {
		c.limiterMu.Lock()
		if c.inFlight < c.maxInFlight {
			c.inFlight++
			c.limiterMu.Unlock()
			return
		}
		c.limiterMu.Unlock()
		time.Sleep(50 * time.Millisecond)
	}
}

func (c *BinanceFuturesClient) release() {
	c.limiterMu.Lock()
	c.inFlight--
	c.limiterMu.Unlock()
}

// get performs a GET with the 10-concurrent limiter and a single
// rate-limit retry (10s sleep then one more attempt), per spec.md §5/§6.
func (c *BinanceFuturesClient) get(endpoint string) ([]byte, error) {
	c.acquire()
	defer c.release()

	resp, err := c.httpClient.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("exchange: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.log.Warn("rate limited, sleeping before retry")
		time.Sleep(rateLimitSleep)
		resp2, err := c.httpClient.Get(endpoint)
		if err != nil {
			return nil, fmt.Errorf("exchange: retry failed: %w", err)
		}
		defer resp2.Body.Close()
		return readBody(resp2)
	}

	return readBody(resp)
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange: api error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func tfToInterval(tf candle.Timeframe) string {
	return string(tf)
}

func parseFloatAny(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}

// FetchOHLCV implements spec.md §6's fetch_ohlcv.
func (c *BinanceFuturesClient) FetchOHLCV(symbol string, tf candle.Timeframe, limit int, sinceMs int64) ([]candle.Candle, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", tfToInterval(tf))
	params.Set("limit", strconv.Itoa(limit))
	if sinceMs > 0 {
		params.Set("startTime", strconv.FormatInt(sinceMs, 10))
	}
	endpoint := fmt.Sprintf("%s/fapi/v1/klines?%s", c.baseURL, params.Encode())

	body, err := c.get(endpoint)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("exchange: parsing klines: %w", err)
	}

	candles := make([]candle.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		candles = append(candles, candle.Candle{
			OpenTimeMs: int64(openTime),
			Open:       parseFloatAny(row[1]),
			High:       parseFloatAny(row[2]),
			Low:        parseFloatAny(row[3]),
			Close:      parseFloatAny(row[4]),
			Volume:     parseFloatAny(row[5]),
		})
	}
	return candles, nil
}

type depthResponse struct {
	Bids [][2]interface{} `json:"bids"`
	Asks [][2]interface{} `json:"asks"`
}

// FetchOrderBook implements spec.md §6's fetch_order_book.
func (c *BinanceFuturesClient) FetchOrderBook(symbol string, depth int) (OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	endpoint := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d", c.baseURL, symbol, depth)
	body, err := c.get(endpoint)
	if err != nil {
		return OrderBook{}, err
	}
	var raw depthResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderBook{}, fmt.Errorf("exchange: parsing depth: %w", err)
	}
	ob := OrderBook{}
	for _, b := range raw.Bids {
		ob.Bids = append(ob.Bids, OrderBookLevel{Price: parseFloatAny(b[0]), Size: parseFloatAny(b[1])})
	}
	for _, a := range raw.Asks {
		ob.Asks = append(ob.Asks, OrderBookLevel{Price: parseFloatAny(a[0]), Size: parseFloatAny(a[1])})
	}
	return ob, nil
}

type premiumIndexResponse struct {
	LastFundingRate string `json:"lastFundingRate"`
}

// FetchFundingRate implements spec.md §6's fetch_funding_rate.
func (c *BinanceFuturesClient) FetchFundingRate(symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", c.baseURL, symbol)
	body, err := c.get(endpoint)
	if err != nil {
		return 0, err
	}
	var raw premiumIndexResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("exchange: parsing funding rate: %w", err)
	}
	f, _ := strconv.ParseFloat(raw.LastFundingRate, 64)
	return f, nil
}

type openInterestResponse struct {
	OpenInterest string `json:"openInterest"`
}

// FetchOpenInterest implements spec.md §6's fetch_open_interest.
func (c *BinanceFuturesClient) FetchOpenInterest(symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/fapi/v1/openInterest?symbol=%s", c.baseURL, symbol)
	body, err := c.get(endpoint)
	if err != nil {
		return 0, err
	}
	var raw openInterestResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("exchange: parsing open interest: %w", err)
	}
	f, _ := strconv.ParseFloat(raw.OpenInterest, 64)
	return f, nil
}

type fearGreedResponse struct {
	Data []struct {
		Value string `json:"value"`
	} `json:"data"`
}

// FetchFearGreed implements spec.md §6's fetch_fear_greed, falling back
// to the neutral value 50 on any failure.
func (c *BinanceFuturesClient) FetchFearGreed() (int, error) {
	resp, err := c.httpClient.Get(fearGreedURL)
	if err != nil {
		return 50, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return 50, nil
	}
	var raw fearGreedResponse
	if err := json.Unmarshal(body, &raw); err != nil || len(raw.Data) == 0 {
		return 50, nil
	}
	v, err := strconv.Atoi(raw.Data[0].Value)
	if err != nil {
		return 50, nil
	}
	return v, nil
}
