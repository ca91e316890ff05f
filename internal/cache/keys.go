package cache

import "fmt"

// OneMinuteBucketMs is the width of a 1m cache bucket (one hour of
// bars per key, spec §4.3: "bars1m:{market}:{provider}:{symbol}:{bucket_hour_ms}").
const OneMinuteBucketMs = 3_600_000

// OneMinuteKey returns the cache key for the hour-bucket containing tsMs.
func OneMinuteKey(market, provider, symbol string, tsMs int64) string {
	bucket := (tsMs / OneMinuteBucketMs) * OneMinuteBucketMs
	return fmt.Sprintf("bars1m:%s:%s:%s:%d", market, provider, symbol, bucket)
}

// ResampleKey returns the cache key for a resampled-range lookup.
func ResampleKey(market, provider, symbol, tf string, sinceMs, untilMs int64, limit int) string {
	return fmt.Sprintf("res:%s:%s:%s:%s:%d:%d:%d", market, provider, symbol, tf, sinceMs, untilMs, limit)
}

// FeedChannel returns the pub/sub channel name a streaming feed
// publishes updates on (spec §4.3/§5): feed:{market}:{provider}:{symbol}:{stream_type}.
func FeedChannel(market, provider, symbol, streamType string) string {
	return fmt.Sprintf("feed:%s:%s:%s:%s", market, provider, symbol, streamType)
}
