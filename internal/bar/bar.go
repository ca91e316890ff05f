// Package bar defines the OHLCV candle type shared across the engine
// and the invariant checks applied at ingest (spec §3).
package bar

import (
	"fmt"
	"sort"
)

// Bar is a single OHLCV candle. TsMs is UTC epoch milliseconds,
// bucket-aligned to the bar's timeframe (the bucket start).
type Bar struct {
	TsMs   int64   `json:"ts_ms" db:"ts_ms"`
	Open   float64 `json:"open" db:"open"`
	High   float64 `json:"high" db:"high"`
	Low    float64 `json:"low" db:"low"`
	Close  float64 `json:"close" db:"close"`
	Volume float64 `json:"volume" db:"volume"`
}

// ErrInvalidBar reports why a bar was rejected at ingest.
type ErrInvalidBar struct {
	Bar    Bar
	Reason string
}

func (e *ErrInvalidBar) Error() string {
	return fmt.Sprintf("invalid bar at ts_ms=%d: %s", e.Bar.TsMs, e.Reason)
}

// Validate enforces low <= open,close <= high and volume >= 0 (spec §3).
func Validate(b Bar) error {
	if b.Low > b.Open || b.Open > b.High {
		return &ErrInvalidBar{Bar: b, Reason: "open out of [low, high] range"}
	}
	if b.Low > b.Close || b.Close > b.High {
		return &ErrInvalidBar{Bar: b, Reason: "close out of [low, high] range"}
	}
	if b.Volume < 0 {
		return &ErrInvalidBar{Bar: b, Reason: "negative volume"}
	}
	return nil
}

// FilterValid returns the bars that pass Validate, in order, dropping
// the rest. Callers are expected to log the dropped bars themselves
// since only they know the (market, provider, symbol) context.
func FilterValid(bars []Bar) (valid []Bar, rejected []error) {
	valid = make([]Bar, 0, len(bars))
	for _, b := range bars {
		if err := Validate(b); err != nil {
			rejected = append(rejected, err)
			continue
		}
		valid = append(valid, b)
	}
	return valid, rejected
}

// SortAscending sorts bars by TsMs ascending, in place.
func SortAscending(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].TsMs < bars[j].TsMs })
}

// DedupKeepLast removes duplicate TsMs entries from an ascending-sorted
// slice, keeping the last occurrence of each timestamp.
func DedupKeepLast(bars []Bar) []Bar {
	if len(bars) == 0 {
		return bars
	}
	out := make([]Bar, 0, len(bars))
	for i, b := range bars {
		if i+1 < len(bars) && bars[i+1].TsMs == b.TsMs {
			continue
		}
		out = append(out, b)
	}
	return out
}

// MergePreferLater merges two ascending, deduped bar slices on TsMs.
// When both sides have a bar at the same TsMs, the bar from `preferred`
// wins — used by the orchestrator to let fresher plugin data overwrite
// older cached copies (spec §4.5 tie-break rule).
func MergePreferLater(base, preferred []Bar) []Bar {
	out := make([]Bar, 0, len(base)+len(preferred))
	i, j := 0, 0
	for i < len(base) && j < len(preferred) {
		switch {
		case base[i].TsMs < preferred[j].TsMs:
			out = append(out, base[i])
			i++
		case base[i].TsMs > preferred[j].TsMs:
			out = append(out, preferred[j])
			j++
		default:
			out = append(out, preferred[j])
			i++
			j++
		}
	}
	out = append(out, base[i:]...)
	out = append(out, preferred[j:]...)
	return out
}
