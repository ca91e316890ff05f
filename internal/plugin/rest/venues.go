package rest

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
)

// Binance spot klines: GET /api/v3/klines?symbol=BTCUSDT&interval=1m&startTime=...&limit=...
// Response: [[openTime, open, high, low, close, volume, closeTime, ...], ...]
var Binance = VenueSpec{
	PluginKey:    "binance",
	Providers:    []string{"binance"},
	BaseURL:      "https://api.binance.com",
	WebSocketURL: "wss://stream.binance.com:9443/ws",
	MaxPageSize:  1000,
	SupportsWS:   true,
	HistoricalPath: func(symbol string, sinceMs int64, limit int) string {
		return fmt.Sprintf("/api/v3/klines?symbol=%s&interval=1m&startTime=%d&limit=%d", symbol, sinceMs, limit)
	},
	DecodeHistorical: func(body []byte) ([]bar.Bar, error) {
		var rows [][]interface{}
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, err
		}
		out := make([]bar.Bar, 0, len(rows))
		for _, row := range rows {
			if len(row) < 6 {
				continue
			}
			ts, _ := row[0].(float64)
			open, _ := strconv.ParseFloat(row[1].(string), 64)
			high, _ := strconv.ParseFloat(row[2].(string), 64)
			low, _ := strconv.ParseFloat(row[3].(string), 64)
			closePx, _ := strconv.ParseFloat(row[4].(string), 64)
			vol, _ := strconv.ParseFloat(row[5].(string), 64)
			out = append(out, bar.Bar{TsMs: int64(ts), Open: open, High: high, Low: low, Close: closePx, Volume: vol})
		}
		return out, nil
	},
}

// Kraken OHLC: GET /0/public/OHLC?pair=XBTUSD&interval=1&since=...
// Response: {"result": {"<pair>": [[time, open, high, low, close, vwap, volume, count], ...]}}
var Kraken = VenueSpec{
	PluginKey:    "kraken",
	Providers:    []string{"kraken"},
	BaseURL:      "https://api.kraken.com",
	WebSocketURL: "wss://ws.kraken.com",
	MaxPageSize:  720,
	SupportsWS:   true,
	HistoricalPath: func(symbol string, sinceMs int64, limit int) string {
		return fmt.Sprintf("/0/public/OHLC?pair=%s&interval=1&since=%d", symbol, sinceMs/1000)
	},
	DecodeHistorical: func(body []byte) ([]bar.Bar, error) {
		var env struct {
			Result map[string]json.RawMessage `json:"result"`
			Error  []string                   `json:"error"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		if len(env.Error) > 0 {
			return nil, fmt.Errorf("kraken error: %v", env.Error)
		}
		var out []bar.Bar
		for key, raw := range env.Result {
			if key == "last" {
				continue
			}
			var rows [][]interface{}
			if err := json.Unmarshal(raw, &rows); err != nil {
				continue
			}
			for _, row := range rows {
				if len(row) < 7 {
					continue
				}
				ts, _ := row[0].(float64)
				open, _ := strconv.ParseFloat(row[1].(string), 64)
				high, _ := strconv.ParseFloat(row[2].(string), 64)
				low, _ := strconv.ParseFloat(row[3].(string), 64)
				closePx, _ := strconv.ParseFloat(row[4].(string), 64)
				vol, _ := strconv.ParseFloat(row[6].(string), 64)
				out = append(out, bar.Bar{TsMs: int64(ts) * 1000, Open: open, High: high, Low: low, Close: closePx, Volume: vol})
			}
		}
		return out, nil
	},
}

// Coinbase Exchange candles: GET /products/{product_id}/candles?granularity=60&start=...
// Response: [[time, low, high, open, close, volume], ...] (seconds, descending).
var Coinbase = VenueSpec{
	PluginKey:   "coinbase",
	Providers:   []string{"coinbase"},
	BaseURL:     "https://api.exchange.coinbase.com",
	MaxPageSize: 300,
	SupportsWS:  false,
	HistoricalPath: func(symbol string, sinceMs int64, limit int) string {
		return fmt.Sprintf("/products/%s/candles?granularity=60&start=%d", symbol, sinceMs/1000)
	},
	DecodeHistorical: func(body []byte) ([]bar.Bar, error) {
		var rows [][]float64
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, err
		}
		out := make([]bar.Bar, 0, len(rows))
		for _, row := range rows {
			if len(row) < 6 {
				continue
			}
			out = append(out, bar.Bar{
				TsMs: int64(row[0]) * 1000, Low: row[1], High: row[2],
				Open: row[3], Close: row[4], Volume: row[5],
			})
		}
		return out, nil
	},
}

// OKX candlesticks: GET /api/v5/market/history-candles?instId=BTC-USDT&bar=1m&after=...
// Response: {"data": [["ts","o","h","l","c","vol","volCcy",...], ...]} (ms, descending).
var OKX = VenueSpec{
	PluginKey:   "okx",
	Providers:   []string{"okx"},
	BaseURL:     "https://www.okx.com",
	MaxPageSize: 300,
	SupportsWS:  false,
	HistoricalPath: func(symbol string, sinceMs int64, limit int) string {
		return fmt.Sprintf("/api/v5/market/history-candles?instId=%s&bar=1m&after=%d&limit=%d", symbol, sinceMs, limit)
	},
	DecodeHistorical: func(body []byte) ([]bar.Bar, error) {
		var env struct {
			Data [][]string `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		out := make([]bar.Bar, 0, len(env.Data))
		for _, row := range env.Data {
			if len(row) < 6 {
				continue
			}
			ts, _ := strconv.ParseInt(row[0], 10, 64)
			open, _ := strconv.ParseFloat(row[1], 64)
			high, _ := strconv.ParseFloat(row[2], 64)
			low, _ := strconv.ParseFloat(row[3], 64)
			closePx, _ := strconv.ParseFloat(row[4], 64)
			vol, _ := strconv.ParseFloat(row[5], 64)
			out = append(out, bar.Bar{TsMs: ts, Open: open, High: high, Low: low, Close: closePx, Volume: vol})
		}
		return out, nil
	},
}
