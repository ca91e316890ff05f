package cache

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
)

// wireFloat encodes a float64 the way encoding/json refuses to on its
// own (json.Marshal errors on NaN/Inf): finite values marshal as a
// JSON number, non-finite values marshal as the literal strings
// "NaN", "Infinity" and "-Infinity" (spec §4.3), so they survive a
// round trip bit-identical instead of collapsing into JSON null.
type wireFloat float64

func (w wireFloat) MarshalJSON() ([]byte, error) {
	f := float64(w)
	switch {
	case math.IsNaN(f):
		return json.Marshal("NaN")
	case math.IsInf(f, 1):
		return json.Marshal("Infinity")
	case math.IsInf(f, -1):
		return json.Marshal("-Infinity")
	default:
		return json.Marshal(f)
	}
}

func (w *wireFloat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "NaN":
			*w = wireFloat(math.NaN())
		case "Infinity":
			*w = wireFloat(math.Inf(1))
		case "-Infinity":
			*w = wireFloat(math.Inf(-1))
		default:
			return fmt.Errorf("cache: invalid float literal %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*w = wireFloat(f)
	return nil
}

// wireBar mirrors bar.Bar, using *wireFloat so a genuinely missing
// field decodes as JSON null while a non-finite sample decodes as its
// "NaN"/"Infinity"/"-Infinity" literal — the two stay distinguishable
// on the wire per spec §4.3, even though bar.Bar itself has no separate
// representation for "missing" and falls back to NaN for both.
type wireBar struct {
	TsMs   int64      `json:"ts_ms"`
	Open   *wireFloat `json:"open"`
	High   *wireFloat `json:"high"`
	Low    *wireFloat `json:"low"`
	Close  *wireFloat `json:"close"`
	Volume *wireFloat `json:"volume"`
}

func toWire(b bar.Bar) wireBar {
	return wireBar{
		TsMs:   b.TsMs,
		Open:   wireFloatPtr(b.Open),
		High:   wireFloatPtr(b.High),
		Low:    wireFloatPtr(b.Low),
		Close:  wireFloatPtr(b.Close),
		Volume: wireFloatPtr(b.Volume),
	}
}

func wireFloatPtr(f float64) *wireFloat {
	w := wireFloat(f)
	return &w
}

func fromWire(w wireBar) bar.Bar {
	return bar.Bar{
		TsMs:   w.TsMs,
		Open:   wireFloatVal(w.Open),
		High:   wireFloatVal(w.High),
		Low:    wireFloatVal(w.Low),
		Close:  wireFloatVal(w.Close),
		Volume: wireFloatVal(w.Volume),
	}
}

// wireFloatVal reports NaN for a missing (null) field, same as the
// encoded NaN literal, since bar.Bar has no separate "absent" zero
// value to fall back to.
func wireFloatVal(w *wireFloat) float64 {
	if w == nil {
		return math.NaN()
	}
	return float64(*w)
}

// EncodeBars serializes bars for storage in the KV layer.
func EncodeBars(bars []bar.Bar) ([]byte, error) {
	wire := make([]wireBar, len(bars))
	for i, b := range bars {
		wire[i] = toWire(b)
	}
	return json.Marshal(wire)
}

// DecodeBars is the inverse of EncodeBars.
func DecodeBars(data []byte) ([]bar.Bar, error) {
	var wire []wireBar
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	out := make([]bar.Bar, len(wire))
	for i, w := range wire {
		out[i] = fromWire(w)
	}
	return out, nil
}
