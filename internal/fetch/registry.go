package fetch

import (
	"sync"

	"sjsage522/estateworker/services/cache"
)

// RegistryOptions is the template every per-domain Policy is built from
type RegistryOptions struct {
	Scheduler         SchedulerConfig
	Policy            PolicyConfig
	RotateMinRequests int
	RotateMaxRequests int
	AcceptLanguage    string
	MinBodyBytes      int
}

// Registry owns one Policy per domain. Domains never share pacing or
// identity state; the proxy pool is shared.
type Registry struct {
	mu       sync.Mutex
	policies map[string]*Policy
	opts     RegistryOptions
	fetcher  Fetcher
	proxies  ProxySource
	cache    cache.CacheService
	observer Observer
}

// NewRegistry creates a registry. proxies, cacheSvc and observer may be nil.
func NewRegistry(opts RegistryOptions, fetcher Fetcher, proxies ProxySource, cacheSvc cache.CacheService, observer Observer) *Registry {
	return &Registry{
		policies: make(map[string]*Policy),
		opts:     opts,
		fetcher:  fetcher,
		proxies:  proxies,
		cache:    cacheSvc,
		observer: observer,
	}
}

// For returns the policy for a domain, creating it on first use
func (r *Registry) For(domain string) *Policy {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.policies[domain]; ok {
		return p
	}

	cfg := r.opts.Policy
	cfg.Domain = domain
	p := NewPolicy(cfg,
		r.fetcher,
		NewScheduler(r.opts.Scheduler),
		NewIdentity(r.opts.RotateMinRequests, r.opts.RotateMaxRequests, r.opts.AcceptLanguage),
		NewClassifier(r.opts.MinBodyBytes),
		r.proxies,
		r.cache,
		r.observer,
	)
	r.policies[domain] = p
	return p
}

// Domains lists the domains with a policy
func (r *Registry) Domains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.policies))
	for d := range r.policies {
		out = append(out, d)
	}
	return out
}
