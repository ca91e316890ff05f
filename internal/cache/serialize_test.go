package cache

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churst90/accessible-trader-sub001/internal/bar"
)

func TestEncodeDecodeBars_RoundTrip(t *testing.T) {
	bars := []bar.Bar{
		{TsMs: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{TsMs: 60_000, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 20},
	}
	encoded, err := EncodeBars(bars)
	require.NoError(t, err)

	decoded, err := DecodeBars(encoded)
	require.NoError(t, err)
	assert.Equal(t, bars, decoded)
}

func TestEncodeDecodeBars_NonFiniteRoundTrip(t *testing.T) {
	bars := []bar.Bar{
		{TsMs: 0, Open: math.NaN(), High: math.Inf(1), Low: math.Inf(-1), Close: 1, Volume: 1},
	}
	encoded, err := EncodeBars(bars)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"open":"NaN"`)
	assert.Contains(t, string(encoded), `"high":"Infinity"`)
	assert.Contains(t, string(encoded), `"low":"-Infinity"`)

	decoded, err := DecodeBars(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.True(t, math.IsNaN(decoded[0].Open))
	assert.True(t, math.IsInf(decoded[0].High, 1))
	assert.True(t, math.IsInf(decoded[0].Low, -1))
	assert.Equal(t, 1.0, decoded[0].Close)
}

func TestEncodeDecodeBars_MissingFieldDecodesAsNaNDistinctFromZero(t *testing.T) {
	decoded, err := DecodeBars([]byte(`[{"ts_ms":0,"open":null,"high":0,"low":0,"close":0,"volume":0}]`))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.True(t, math.IsNaN(decoded[0].Open), "null must decode distinctly from the literal 0.0")
	assert.Equal(t, 0.0, decoded[0].High)
}

func TestEncodeBars_Empty(t *testing.T) {
	encoded, err := EncodeBars(nil)
	require.NoError(t, err)
	decoded, err := DecodeBars(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}
