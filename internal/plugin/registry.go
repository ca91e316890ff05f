package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// InstanceCacheKey identifies one constructed plugin instance, spec
// §4.4: market+provider resolve a plugin_key, and credentials are
// folded in via fingerprint so two users never share an authenticated
// instance by accident.
type InstanceCacheKey struct {
	PluginKey   string
	Provider    string
	CredFP      string
	Testnet     bool
}

func (k InstanceCacheKey) String() string {
	return fmt.Sprintf("%s/%s/%s/testnet=%t", k.PluginKey, k.Provider, k.CredFP, k.Testnet)
}

type entry struct {
	plugin       Plugin
	lastAccessed time.Time
	refcount     int
	closeMu      sync.Mutex
	closed       bool
}

// Registry resolves (market, provider, user) to a shared Plugin
// instance, constructing lazily and evicting idle entries. Grounded on
// the teacher's DefaultProviderRegistry (internal/provider/registry.go)
// but reshaped around spec §4.4's get_plugin resolution algorithm and
// refcounted idle eviction rather than the teacher's static
// register-all-at-boot model.
type Registry struct {
	mu       sync.Mutex
	entries  map[InstanceCacheKey]*entry
	keyMu    sync.Map // InstanceCacheKey -> *sync.Mutex, construction lock

	classes    []Identity
	factories  map[string]Factory // pluginKey -> factory
	marketMap  map[string]string  // market -> pluginKey, discovery map
	resolver   CredentialResolver

	idleTTL         time.Duration
	idleSweep       time.Duration
	evictionGrace   time.Duration

	stopSweep chan struct{}
	swept     sync.WaitGroup
}

// Config holds the registry's idle-eviction tuning (spec §6 defaults).
type Config struct {
	IdleTTL            time.Duration
	IdleSweepInterval  time.Duration
	EvictionGrace      time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTTL:           15 * time.Minute,
		IdleSweepInterval: 5 * time.Minute,
		EvictionGrace:     10 * time.Second,
	}
}

// New creates a Registry. marketMap routes a market name to the
// plugin_key responsible for it; factories maps a plugin_key to its
// constructor.
func New(cfg Config, resolver CredentialResolver, classes []Identity, factories map[string]Factory, marketMap map[string]string) *Registry {
	if resolver == nil {
		resolver = AnonymousResolver
	}
	r := &Registry{
		entries:       make(map[InstanceCacheKey]*entry),
		classes:       classes,
		factories:     factories,
		marketMap:     marketMap,
		resolver:      resolver,
		idleTTL:       cfg.IdleTTL,
		idleSweep:     cfg.IdleSweepInterval,
		evictionGrace: cfg.EvictionGrace,
		stopSweep:     make(chan struct{}),
	}
	r.swept.Add(1)
	go r.sweepLoop()
	return r
}

// Borrowed wraps a Plugin with the release callback that drops the
// registry's refcount once the caller is done using it.
type Borrowed struct {
	Plugin
	release func()
}

// Release must be called when the caller is finished with the
// instance so the idle sweeper can consider it for eviction.
func (b *Borrowed) Release() {
	if b.release != nil {
		b.release()
	}
}

// Get resolves and returns a shared plugin instance per spec §4.4's
// get_plugin algorithm. userID may be empty for anonymous access.
func (r *Registry) Get(ctx context.Context, market, provider, userID string, testnet bool) (*Borrowed, error) {
	pluginKey, err := r.resolvePluginKey(market, provider)
	if err != nil {
		return nil, err
	}
	if err := r.verifyProviderSupported(pluginKey, provider); err != nil {
		return nil, err
	}

	var creds *Credentials
	if userID != "" {
		creds, err = r.resolver.Resolve(userID, provider)
		if err != nil {
			return nil, &Error{Code: CodeAuth, Provider: provider, Message: "credential resolution failed", Cause: err}
		}
	}

	key := InstanceCacheKey{PluginKey: pluginKey, Provider: provider, CredFP: Fingerprint(creds), Testnet: testnet}

	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		e.lastAccessed = time.Now()
		e.refcount++
		r.mu.Unlock()
		return r.borrow(key, e), nil
	}
	r.mu.Unlock()

	// Double-check construction under a per-key lock so concurrent
	// Get calls for the same key never race to build two instances
	// (spec §8 invariant: exactly one instance per InstanceCacheKey).
	lockIface, _ := r.keyMu.LoadOrStore(key, &sync.Mutex{})
	constructLock := lockIface.(*sync.Mutex)
	constructLock.Lock()
	defer constructLock.Unlock()

	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		e.lastAccessed = time.Now()
		e.refcount++
		r.mu.Unlock()
		return r.borrow(key, e), nil
	}
	r.mu.Unlock()

	factory, ok := r.factories[pluginKey]
	if !ok {
		return nil, &Error{Code: CodeInternal, Provider: provider, Message: fmt.Sprintf("no factory for plugin_key %s", pluginKey)}
	}
	p, err := factory(provider, creds, testnet)
	if err != nil {
		return nil, Wrap(provider, err)
	}

	e := &entry{plugin: p, lastAccessed: time.Now(), refcount: 1}
	r.mu.Lock()
	r.entries[key] = e
	r.mu.Unlock()

	log.Info().Str("key", key.String()).Msg("plugin instance constructed")
	return r.borrow(key, e), nil
}

func (r *Registry) borrow(key InstanceCacheKey, e *entry) *Borrowed {
	return &Borrowed{
		Plugin: e.plugin,
		release: func() {
			r.mu.Lock()
			e.refcount--
			r.mu.Unlock()
		},
	}
}

func (r *Registry) resolvePluginKey(market, provider string) (string, error) {
	if pk, ok := r.marketMap[market]; ok {
		return pk, nil
	}
	if _, ok := r.factories[provider]; ok {
		return provider, nil
	}
	return "", &Error{Code: CodeInternal, Provider: provider, Message: fmt.Sprintf("no plugin_key resolvable for market=%s provider=%s", market, provider)}
}

func (r *Registry) verifyProviderSupported(pluginKey, provider string) error {
	for _, c := range r.classes {
		if c.PluginKey() != pluginKey {
			continue
		}
		for _, p := range c.ListConfigurableProviders() {
			if p == provider {
				return nil
			}
		}
		return &Error{Code: CodeInternal, Provider: provider, Message: fmt.Sprintf("provider %s not configurable for plugin_key %s", provider, pluginKey)}
	}
	return &Error{Code: CodeInternal, Provider: provider, Message: fmt.Sprintf("unknown plugin_key %s", pluginKey)}
}

func (r *Registry) sweepLoop() {
	defer r.swept.Done()
	ticker := time.NewTicker(r.idleSweep)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Registry) sweepOnce() {
	now := time.Now()
	r.mu.Lock()
	var toEvict []InstanceCacheKey
	for k, e := range r.entries {
		if now.Sub(e.lastAccessed) > r.idleTTL {
			toEvict = append(toEvict, k)
		}
	}
	r.mu.Unlock()

	for _, k := range toEvict {
		r.evict(k)
	}
}

func (r *Registry) evict(key InstanceCacheKey) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return
	}

	deadline := time.Now().Add(r.evictionGrace)
	for {
		r.mu.Lock()
		refcount := e.refcount
		r.mu.Unlock()
		if refcount == 0 || time.Now().After(deadline) {
			if refcount > 0 {
				log.Warn().Str("key", key.String()).Int("refcount", refcount).Msg("forcing plugin eviction past grace period")
			}
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := e.plugin.Close(); err != nil {
		log.Warn().Err(err).Str("key", key.String()).Msg("plugin close failed during eviction")
	}
	e.closed = true

	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
	log.Info().Str("key", key.String()).Msg("plugin instance evicted")
}

// Close stops the sweeper and closes every cached instance, used on
// engine shutdown (spec §5).
func (r *Registry) Close() error {
	close(r.stopSweep)
	r.swept.Wait()

	r.mu.Lock()
	keys := make([]InstanceCacheKey, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.evict(k)
	}
	return nil
}
