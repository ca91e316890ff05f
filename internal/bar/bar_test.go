package bar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	good := Bar{TsMs: 0, Open: 10, High: 12, Low: 9, Close: 11, Volume: 5}
	require.NoError(t, Validate(good))

	badOpen := good
	badOpen.Open = 13
	require.Error(t, Validate(badOpen))

	badClose := good
	badClose.Close = 8
	require.Error(t, Validate(badClose))

	badVolume := good
	badVolume.Volume = -1
	require.Error(t, Validate(badVolume))
}

func TestFilterValid(t *testing.T) {
	bars := []Bar{
		{TsMs: 0, Open: 1, High: 2, Low: 0, Close: 1, Volume: 1},
		{TsMs: 60_000, Open: 5, High: 1, Low: 0, Close: 1, Volume: 1}, // invalid: open > high
	}
	valid, rejected := FilterValid(bars)
	assert.Len(t, valid, 1)
	assert.Len(t, rejected, 1)
}

func TestDedupKeepLast(t *testing.T) {
	bars := []Bar{
		{TsMs: 0, Close: 1},
		{TsMs: 60_000, Close: 2},
		{TsMs: 60_000, Close: 3},
		{TsMs: 120_000, Close: 4},
	}
	out := DedupKeepLast(bars)
	require.Len(t, out, 3)
	assert.Equal(t, 3.0, out[1].Close)
}

func TestMergePreferLater(t *testing.T) {
	base := []Bar{{TsMs: 0, Close: 1}, {TsMs: 60_000, Close: 2}}
	preferred := []Bar{{TsMs: 60_000, Close: 99}, {TsMs: 120_000, Close: 3}}
	merged := MergePreferLater(base, preferred)
	require.Len(t, merged, 3)
	assert.Equal(t, 1.0, merged[0].Close)
	assert.Equal(t, 99.0, merged[1].Close)
	assert.Equal(t, 3.0, merged[2].Close)
}
