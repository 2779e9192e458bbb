package feeds

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE PRICE FEED - Last traded prices for prediction validation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Trade stream over websocket keeps prices fresh; a slow REST poll fills in
// when the stream is down. Lookup only serves prices younger than maxAge.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	binanceAPIURL    = "https://api.binance.com/api/v3/ticker/price"
	binanceStreamURL = "wss://stream.binance.com:9443/stream"
	pollInterval     = 5 * time.Second
	defaultMaxAge    = time.Minute
	maxReconnectWait = 30 * time.Second
)

type pricePoint struct {
	price decimal.Decimal
	at    time.Time
}

// BinanceFeed provides last traded prices
type BinanceFeed struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}

	symbols   []string
	restURL   string
	streamURL string
	client    *http.Client
	maxAge    time.Duration

	prices map[string]pricePoint // "BTCUSDT" -> last price
}

// NewBinanceFeed creates a feed for the given symbols
func NewBinanceFeed(symbols []string) *BinanceFeed {
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(s))
	}
	return &BinanceFeed{
		stopCh:    make(chan struct{}),
		symbols:   upper,
		restURL:   binanceAPIURL,
		streamURL: binanceStreamURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		maxAge:    defaultMaxAge,
		prices:    make(map[string]pricePoint),
	}
}

// Start begins streaming and polling
func (f *BinanceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.streamLoop()
	go f.pollLoop()
	log.Info().Strs("symbols", f.symbols).Msg("📈 Binance feed started")
}

// Stop stops the feed
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}

	f.running = false
	close(f.stopCh)
	log.Info().Msg("Binance feed stopped")
}

// Lookup returns the last price for symbol if it is fresh
func (f *BinanceFeed) Lookup(symbol string) (float64, bool) {
	f.mu.RLock()
	p, ok := f.prices[strings.ToUpper(symbol)]
	f.mu.RUnlock()

	if !ok || time.Since(p.at) > f.maxAge || !p.price.IsPositive() {
		return 0, false
	}
	return p.price.InexactFloat64(), true
}

// lastPrice returns the last price for symbol, fresh or not
func (f *BinanceFeed) lastPrice(symbol string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prices[strings.ToUpper(symbol)].price
}

func (f *BinanceFeed) setPrice(symbol string, price decimal.Decimal, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.prices[symbol]; ok && cur.at.After(at) {
		return
	}
	f.prices[symbol] = pricePoint{price: price, at: at}
}

// ═══════════════════════════════════════════════════════════════════════════════
// REST POLL
// ═══════════════════════════════════════════════════════════════════════════════

func (f *BinanceFeed) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	f.fetchPrices()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.fetchPrices()
		}
	}
}

func (f *BinanceFeed) fetchPrices() {
	for _, symbol := range f.symbols {
		price, err := f.fetchPrice(symbol)
		if err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("Price poll failed")
			continue
		}
		f.setPrice(symbol, price, time.Now())
	}
}

// fetchPrice gets a single price from the REST API
func (f *BinanceFeed) fetchPrice(symbol string) (decimal.Decimal, error) {
	resp, err := f.client.Get(fmt.Sprintf("%s?symbol=%s", f.restURL, url.QueryEscape(symbol)))
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker %s: status %d", symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromString(result.Price)
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE STREAM
// ═══════════════════════════════════════════════════════════════════════════════

type streamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Time   int64  `json:"T"` // ms
	} `json:"data"`
}

func (f *BinanceFeed) streamLoop() {
	wait := time.Second
	for {
		err := f.runStream()

		select {
		case <-f.stopCh:
			return
		default:
		}

		log.Warn().Err(err).Dur("retry_in", wait).Msg("Binance stream disconnected")
		select {
		case <-f.stopCh:
			return
		case <-time.After(wait):
		}
		if wait *= 2; wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}

func (f *BinanceFeed) streamEndpoint() string {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}
	return f.streamURL + "?streams=" + strings.Join(streams, "/")
}

func (f *BinanceFeed) runStream() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.streamEndpoint(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-f.stopCh:
			conn.Close()
		case <-done:
		}
	}()

	log.Info().Msg("🔌 Binance trade stream connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleStreamMessage(data)
	}
}

func (f *BinanceFeed) handleStreamMessage(data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Data.Symbol == "" {
		return
	}
	price, err := decimal.NewFromString(msg.Data.Price)
	if err != nil {
		return
	}
	at := time.Now()
	if msg.Data.Time > 0 {
		at = time.UnixMilli(msg.Data.Time)
	}
	f.setPrice(strings.ToUpper(msg.Data.Symbol), price, at)
}
