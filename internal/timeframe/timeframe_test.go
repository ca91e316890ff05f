package timeframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	cases := map[string]Timeframe{
		"1m":  {1, Minute},
		"5m":  {5, Minute},
		"1h":  {1, Hour},
		"4h":  {4, Hour},
		"1d":  {1, Day},
		"2w":  {2, Week},
		"15m": {15, Minute},
	}
	for input, want := range cases {
		got, err := Parse(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
		assert.Equal(t, input, got.String(), input)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "m", "0m", "5", "5x", "-5m", "5 m", "05m"} {
		_, err := Parse(input)
		require.Error(t, err, input)
		var target *ErrInvalidTimeframe
		assert.ErrorAs(t, err, &target, input)
	}
}

func TestMs(t *testing.T) {
	assert.Equal(t, int64(60_000), MustParse("1m").Ms())
	assert.Equal(t, int64(300_000), MustParse("5m").Ms())
	assert.Equal(t, int64(3_600_000), MustParse("1h").Ms())
	assert.Equal(t, int64(86_400_000), MustParse("1d").Ms())
	assert.Equal(t, int64(604_800_000), MustParse("1w").Ms())
}

func TestCoarserThanOneMinute(t *testing.T) {
	assert.False(t, MustParse("1m").CoarserThanOneMinute())
	assert.True(t, MustParse("5m").CoarserThanOneMinute())
	assert.True(t, MustParse("1h").CoarserThanOneMinute())
}

func TestBucketStart(t *testing.T) {
	tf := MustParse("5m")
	assert.Equal(t, int64(0), BucketStart(0, tf))
	assert.Equal(t, int64(0), BucketStart(299_999, tf))
	assert.Equal(t, int64(300_000), BucketStart(300_000, tf))
	assert.Equal(t, int64(300_000), BucketStart(599_999, tf))
}
