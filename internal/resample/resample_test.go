package resample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
	"github.com/churst90/accessible-trader-sub001/internal/timeframe"
)

func TestResample_Empty(t *testing.T) {
	r := New()
	out := r.Resample(nil, timeframe.MustParse("5m"))
	assert.Empty(t, out)
}

func TestResample_FiveMinuteScenario(t *testing.T) {
	// spec §4.1 scenario 2: ts [0,60000,120000,180000,240000], closes [10..14]
	bars := []bar.Bar{
		{TsMs: 0, Open: 10, High: 10, Low: 10, Close: 10, Volume: 1},
		{TsMs: 60_000, Open: 11, High: 11, Low: 11, Close: 11, Volume: 1},
		{TsMs: 120_000, Open: 12, High: 12, Low: 12, Close: 12, Volume: 1},
		{TsMs: 180_000, Open: 13, High: 13, Low: 13, Close: 13, Volume: 1},
		{TsMs: 240_000, Open: 14, High: 14, Low: 14, Close: 14, Volume: 1},
	}
	r := NewWithClock(func() time.Time { return time.UnixMilli(300_000) })
	out := r.Resample(bars, timeframe.MustParse("5m"))
	require.Len(t, out, 1)
	got := out[0]
	assert.Equal(t, int64(0), got.TsMs)
	assert.Equal(t, 10.0, got.Open)
	assert.Equal(t, 14.0, got.High)
	assert.Equal(t, 10.0, got.Low)
	assert.Equal(t, 14.0, got.Close)
	assert.Equal(t, 5.0, got.Volume)
}

func TestResample_DedupKeepsLast(t *testing.T) {
	bars := []bar.Bar{
		{TsMs: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{TsMs: 0, Open: 1, High: 1, Low: 1, Close: 2, Volume: 9},
	}
	r := New()
	out := r.Resample(bars, timeframe.MustParse("1m"))
	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].Close)
	assert.Equal(t, 9.0, out[0].Volume)
}

func TestResample_PartialLastBucketIncluded(t *testing.T) {
	bars := []bar.Bar{{TsMs: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}
	r := NewWithClock(func() time.Time { return time.UnixMilli(30_000) }) // mid-bucket
	tf := timeframe.MustParse("5m")
	out := r.Resample(bars, tf)
	require.Len(t, out, 1)
	assert.False(t, r.IsClosed(out[0].TsMs, tf))
}

func TestResample_BucketAlignment(t *testing.T) {
	bars := []bar.Bar{
		{TsMs: 61_000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
	}
	r := New()
	out := r.Resample(bars, timeframe.MustParse("5m"))
	require.Len(t, out, 1)
	assert.Equal(t, int64(60_000), out[0].TsMs)
}
