package plugin

import (
	"crypto/sha256"
	"encoding/hex"
)

// CredentialResolver looks up per-user API credentials for a provider.
// Trading/account auth is out of scope for the core engine (spec §4.4
// "Trading (optional, out of scope for core)"); this callback is the
// engine's one narrow hook into whatever external auth system a
// deployment wires up, kept interface-only per SPEC_FULL.md's decision
// to resolve that boundary without inventing an auth subsystem.
type CredentialResolver interface {
	Resolve(userID, provider string) (*Credentials, error)
}

// CredentialResolverFunc adapts a plain function to CredentialResolver.
type CredentialResolverFunc func(userID, provider string) (*Credentials, error)

func (f CredentialResolverFunc) Resolve(userID, provider string) (*Credentials, error) {
	return f(userID, provider)
}

// AnonymousResolver never returns credentials; used when a deployment
// only needs public market data.
var AnonymousResolver CredentialResolver = CredentialResolverFunc(func(string, string) (*Credentials, error) {
	return nil, nil
})

// Fingerprint computes a stable, non-reversible identifier for a
// credential set so it can be used as part of an InstanceCacheKey
// without the cache ever holding the raw secret.
func Fingerprint(c *Credentials) string {
	if c == nil {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(c.APIKey + "\x00" + c.APISecret))
	return hex.EncodeToString(sum[:8])
}
