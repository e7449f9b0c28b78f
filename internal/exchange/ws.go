package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"futures-signal-engine/internal/candle"
	"futures-signal-engine/internal/logging"
)

const (
	wsReadTimeout     = 30 * time.Second
	wsPingInterval    = 20 * time.Second
	backoffBase       = 5 * time.Second
	backoffFactor     = 2
	defaultMaxRetries = 10
)

// FatalErrHandler is invoked when the WSClient exhausts its reconnect
// budget (spec.md §4.3's "raise a fatal recoverable error to the
// Engine, not to the process").
type FatalErrHandler func(err error)

// WSClient is the multiplexed kline-stream client of spec.md §4.3/§6.
// Grounded on the teacher's internal/binance/user_data_stream.go: the
// same connect()/readLoop()/keepAliveLoop() shape and reconnect-counter
// idiom, adapted from a single user-data listen-key stream to a
// multiplexed public kline stream with no listen-key renewal.
type WSClient struct {
	baseURL     string
	streams     []string
	handler     KlineHandler
	onFatal     FatalErrHandler
	maxRetries  int
	log         *logging.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	running   bool
	stopCh    chan struct{}
	attempt   int

	dedupMu sync.Mutex
	seen    map[string]struct{}
}

// streamKey formats one {symbol}@kline_{tf} stream name.
func streamKey(symbol string, tf candle.Timeframe) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), tf)
}

// NewWSClient constructs a WSClient for the given (symbol, timeframe)
// pairs against baseURL (e.g. wss://fstream.binance.com/stream).
func NewWSClient(baseURL string, pairs []struct {
	Symbol string
	TF     candle.Timeframe
}, handler KlineHandler, onFatal FatalErrHandler) *WSClient {
	streams := make([]string, 0, len(pairs))
	for _, p := range pairs {
		streams = append(streams, streamKey(p.Symbol, p.TF))
	}
	return &WSClient{
		baseURL:    baseURL,
		streams:    streams,
		handler:    handler,
		onFatal:    onFatal,
		maxRetries: defaultMaxRetries,
		log:        logging.WithComponent("exchange_ws"),
		seen:       make(map[string]struct{}),
	}
}

// Start begins the connect/read loop in a background goroutine.
func (w *WSClient) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	go w.connectLoop()
}

// Stop tears down the connection and halts reconnect attempts.
func (w *WSClient) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	if w.conn != nil {
		w.conn.Close()
	}
}

func (w *WSClient) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *WSClient) connectLoop() {
	url := fmt.Sprintf("%s?streams=%s", w.baseURL, strings.Join(w.streams, "/"))
	for w.isRunning() {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			w.attempt++
			if w.attempt > w.maxRetries {
				if w.onFatal != nil {
					w.onFatal(fmt.Errorf("exchange: exceeded %d reconnect attempts: %w", w.maxRetries, err))
				}
				return
			}
			delay := backoffBase * time.Duration(pow(backoffFactor, w.attempt-1))
			w.log.WithField("attempt", w.attempt).WithError(err).Warn("ws dial failed, retrying")
			select {
			case <-time.After(delay):
				continue
			case <-w.stopCh:
				return
			}
		}

		w.mu.Lock()
		w.conn = conn
		w.attempt = 0
		w.mu.Unlock()
		w.log.Info("ws connected")

		stopPing := make(chan struct{})
		go w.keepAliveLoop(conn, stopPing)

		w.readLoop(conn)
		close(stopPing)

		if !w.isRunning() {
			return
		}
	}
}

func pow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

func (w *WSClient) keepAliveLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

type combinedStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineMessage struct {
	Symbol string    `json:"s"`
	K      klinePart `json:"k"`
}

type klinePart struct {
	OpenTimeMs int64  `json:"t"`
	Open       string `json:"o"`
	High       string `json:"h"`
	Low        string `json:"l"`
	Close      string `json:"c"`
	Volume     string `json:"v"`
	Interval   string `json:"i"`
	IsClosed   bool   `json:"x"`
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			w.log.WithError(err).Warn("ws read failed")
			return
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) handleMessage(message []byte) {
	var env combinedStreamEnvelope
	if err := json.Unmarshal(message, &env); err != nil || len(env.Data) == 0 {
		return
	}
	var km klineMessage
	if err := json.Unmarshal(env.Data, &km); err != nil {
		return
	}

	dedupKey := fmt.Sprintf("%s|%s|%d", km.Symbol, km.K.Interval, km.K.OpenTimeMs)
	if km.K.IsClosed {
		w.dedupMu.Lock()
		if _, ok := w.seen[dedupKey]; ok {
			w.dedupMu.Unlock()
			return
		}
		w.seen[dedupKey] = struct{}{}
		w.dedupMu.Unlock()
	}

	ev := KlineEvent{
		Symbol:     km.Symbol,
		Timeframe:  candle.Timeframe(km.K.Interval),
		OpenTimeMs: km.K.OpenTimeMs,
		Open:       parseFloatAny(km.K.Open),
		High:       parseFloatAny(km.K.High),
		Low:        parseFloatAny(km.K.Low),
		Close:      parseFloatAny(km.K.Close),
		Volume:     parseFloatAny(km.K.Volume),
		IsClosed:   km.K.IsClosed,
	}
	if w.handler != nil {
		w.handler(ev)
	}
}
