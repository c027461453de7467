package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/compliance-gate/internal/pkg/logger"
)

// Store caches the decoded catalog for a fixed TTL. It is safe for
// concurrent use.
type Store struct {
	repo     Repository
	defaults Defaults
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	current *Policy
	expires time.Time
}

// DefaultLookupTimeout bounds one catalog read.
const DefaultLookupTimeout = 250 * time.Millisecond

// NewStore creates a policy store. A zero ttl reloads on every call.
func NewStore(repo Repository, defaults Defaults, ttl time.Duration) *Store {
	return &Store{repo: repo, defaults: defaults, ttl: ttl, timeout: DefaultLookupTimeout, now: time.Now}
}

// WithLookupTimeout overrides the bound on one catalog read. Zero leaves the
// read bounded only by the caller's context.
func (s *Store) WithLookupTimeout(d time.Duration) *Store {
	s.timeout = d
	return s
}

// WithClock overrides the clock used for cache expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Load reads and decodes the catalog, bypassing the cache. Undecodable rows
// are skipped and logged. The result replaces the cached snapshot.
func (s *Store) Load(ctx context.Context) (*Policy, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	raw, err := s.repo.ListActiveComplianceRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list compliance rules: %w", err)
	}
	lockdownRules, err := s.repo.ListActiveLockdownRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list lockdown rules: %w", err)
	}

	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		decoded, err := Decode(r)
		if err != nil {
			logger.Warn("skipping compliance rule", "rule_key", r.RuleKey, "rule_type", r.RuleType, "error", err)
			continue
		}
		rules = append(rules, decoded)
	}

	now := s.now()
	p := Build(s.defaults, rules, lockdownRules, now)

	s.mu.Lock()
	s.current = p
	s.expires = now.Add(s.ttl)
	s.mu.Unlock()

	logger.Debug("policy catalog loaded", "rules", len(rules), "skipped", len(raw)-len(rules), "lockdown_rules", len(lockdownRules))
	return p, nil
}

// Current returns the cached policy, reloading it when stale. If the reload
// fails or times out it keeps serving the last good snapshot, or DefaultPolicy when
// nothing has loaded yet. It never returns nil.
func (s *Store) Current(ctx context.Context) *Policy {
	s.mu.RLock()
	p, expires := s.current, s.expires
	s.mu.RUnlock()

	if p != nil && s.now().Before(expires) {
		return p
	}

	fresh, err := s.Load(ctx)
	if err == nil {
		return fresh
	}
	if p != nil {
		logger.Warn("policy reload failed, serving stale catalog", "error", err, "loaded_at", p.LoadedAt())
		return p
	}
	logger.Warn("policy load failed, serving default policy", "error", err)
	return DefaultPolicy(s.defaults)
}

// Invalidate drops the cached snapshot so the next Current reloads.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.expires = time.Time{}
	s.mu.Unlock()
}
