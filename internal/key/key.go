// Package key defines the SubscriptionKey tuple shared by the
// streaming manager, subscription service and HTTP API so none of them
// need to import each other just to agree on identity.
package key

import "fmt"

// SubscriptionKey identifies one (market, provider, symbol, timeframe)
// feed, spec glossary: "canonical hashable tuple; equality is
// case-sensitive on provider/symbol, case-insensitive only where the
// plugin normalizes" — normalization is the plugin's job, this type
// just carries whatever string the caller already normalized.
type SubscriptionKey struct {
	Market    string
	Provider  string
	Symbol    string
	Timeframe string
}

func (k SubscriptionKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Market, k.Provider, k.Symbol, k.Timeframe)
}
