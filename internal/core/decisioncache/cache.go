package decisioncache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

const (
	defaultMaxEntries    = 200
	defaultStaleAfter    = 30 * 24 * time.Hour
	defaultSnapshotKey   = "decision_cache"
	pruneMinFailures     = 5
	pruneMaxReliability  = 30.0
	rollingWeightOld     = 0.7
	rollingWeightNew     = 0.3
	hintMaxTools         = 5
	hintMaxAntiPatterns  = 3
	insightTopStrategies = 3
)

type Options struct {
	MaxEntries int
	StaleAfter time.Duration
	Now        func() time.Time
	Store      ports.SnapshotStore
	// SnapshotKey defaults to "decision_cache".
	SnapshotKey string
}

// Hint is what a run starts with: an optional prior strategy and any known
// failed strategies for the same situation.
type Hint struct {
	Entry    domain.CacheEntry
	Found    bool
	Text     string
	Warnings string
}

// Cache learns which strategies worked for which kinds of requests. It is
// shared across sessions.
type Cache struct {
	opts Options

	mu      sync.RWMutex
	entries map[string]*domain.CacheEntry
}

func New(ctx context.Context, opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SnapshotKey == "" {
		opts.SnapshotKey = defaultSnapshotKey
	}
	c := &Cache{
		opts:    opts,
		entries: make(map[string]*domain.CacheEntry),
	}
	c.restore(ctx)
	return c
}

func entryKey(intentType domain.IntentType, domainName, pattern string) string {
	return strings.ToLower(fmt.Sprintf("%s:%s:%s", intentType, domainName, pattern))
}

// RecordSuccess upserts the entry and replaces its strategy with the latest one.
func (c *Cache) RecordSuccess(ctx context.Context, intentType domain.IntentType, domainName, pattern string, toolSequence []string, strategy string, steps int, complexity domain.Complexity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	key := entryKey(intentType, domainName, pattern)
	e := c.getOrCreateLocked(key, intentType, domainName, pattern, now)

	if e.SuccessCount == 0 {
		e.AvgSteps = float64(steps)
	} else {
		e.AvgSteps = rollingWeightOld*e.AvgSteps + rollingWeightNew*float64(steps)
	}
	if steps > 0 && (e.BestSteps == 0 || steps < e.BestSteps) {
		e.BestSteps = steps
	}
	e.SuccessCount++
	e.ToolSequence = append([]string(nil), toolSequence...)
	e.Strategy = strategy
	if complexity != "" {
		e.Complexity = complexity
	}
	e.LastUsed = now

	c.pruneLocked(key)
	c.persistLocked(ctx)
}

// RecordFailure counts a failure and remembers the strategy that failed.
func (c *Cache) RecordFailure(ctx context.Context, intentType domain.IntentType, domainName, pattern, failedStrategy string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	key := entryKey(intentType, domainName, pattern)
	e := c.getOrCreateLocked(key, intentType, domainName, pattern, now)

	e.FailureCount++
	failedStrategy = strings.TrimSpace(failedStrategy)
	if failedStrategy != "" && !contains(e.AntiPatterns, failedStrategy) && len(e.AntiPatterns) < domain.MaxAntiPatterns {
		e.AntiPatterns = append(e.AntiPatterns, failedStrategy)
	}
	e.LastUsed = now

	c.pruneLocked(key)
	c.persistLocked(ctx)
}

func (c *Cache) getOrCreateLocked(key string, intentType domain.IntentType, domainName, pattern string, now time.Time) *domain.CacheEntry {
	if e, ok := c.entries[key]; ok {
		return e
	}
	e := &domain.CacheEntry{
		IntentType: intentType,
		Domain:     domainName,
		Pattern:    pattern,
		CreatedAt:  now,
		LastUsed:   now,
	}
	c.entries[key] = e
	return e
}

// Lookup returns the most reliable matching strategy. A hit refreshes the
// entry's last use.
func (c *Cache) Lookup(ctx context.Context, intentType domain.IntentType, domains []string, message string) (domain.CacheEntry, bool) {
	if len(domains) == 0 {
		return domain.CacheEntry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	var best *domain.CacheEntry
	for _, e := range c.entries {
		if e.IntentType != intentType || !hasDomain(domains, e.Domain) {
			continue
		}
		if !e.IsReliable() || e.IsStale(now, c.opts.StaleAfter) {
			continue
		}
		if !fuzzyMatch(message, e.Pattern) {
			continue
		}
		if best == nil || better(e, best) {
			best = e
		}
	}
	if best == nil {
		return domain.CacheEntry{}, false
	}
	best.LastUsed = now
	c.persistLocked(ctx)
	return best.Clone(), true
}

func better(a, b *domain.CacheEntry) bool {
	ra, rb := a.Reliability(), b.Reliability()
	if ra != rb {
		return ra > rb
	}
	return a.LastUsed.After(b.LastUsed)
}

// LookupWithContext renders the lookup and anti-patterns as prompt text.
func (c *Cache) LookupWithContext(ctx context.Context, intentType domain.IntentType, domains []string, message string) Hint {
	var hint Hint
	if entry, ok := c.Lookup(ctx, intentType, domains, message); ok {
		hint.Entry = entry
		hint.Found = true
		tools := entry.ToolSequence
		if len(tools) > hintMaxTools {
			tools = tools[:hintMaxTools]
		}
		hint.Text = fmt.Sprintf("[Decision cache: Previously succeeded with strategy: %s. Tools: %s]",
			entry.Strategy, strings.Join(tools, ", "))
	}

	if anti := c.GetAntiPatterns(intentType, domains); len(anti) > 0 {
		if len(anti) > hintMaxAntiPatterns {
			anti = anti[:hintMaxAntiPatterns]
		}
		var b strings.Builder
		b.WriteString("KNOWN ANTI-PATTERNS (avoid these):")
		for _, a := range anti {
			b.WriteString("\n- ")
			b.WriteString(a)
		}
		hint.Warnings = b.String()
	}
	return hint
}

// GetAntiPatterns lists failed strategies recorded for the intent type in
// any of the domains, deduplicated, most recently used entries first.
func (c *Cache) GetAntiPatterns(intentType domain.IntentType, domains []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []*domain.CacheEntry
	for _, e := range c.entries {
		if e.IntentType == intentType && hasDomain(domains, e.Domain) && len(e.AntiPatterns) > 0 {
			matched = append(matched, e)
		}
	}
	sortByRecency(matched)

	var out []string
	for _, e := range matched {
		for _, a := range e.AntiPatterns {
			if !contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}

func (c *Cache) GetDomainInsights(domainName string) domain.DomainInsights {
	c.mu.RLock()
	defer c.mu.RUnlock()

	insights := domain.DomainInsights{Domain: domainName}
	var reliable []*domain.CacheEntry
	successes, uses := 0, 0
	for _, e := range c.entries {
		if e.Domain != domainName {
			continue
		}
		insights.Entries++
		successes += e.SuccessCount
		uses += e.Uses()
		if e.IsReliable() && e.Strategy != "" {
			reliable = append(reliable, e)
		}
		for _, a := range e.AntiPatterns {
			if !contains(insights.AntiPatterns, a) {
				insights.AntiPatterns = append(insights.AntiPatterns, a)
			}
		}
	}
	if uses > 0 {
		insights.SuccessRate = float64(successes) / float64(uses) * 100
	}

	sort.Slice(reliable, func(i, j int) bool {
		if reliable[i].Reliability() != reliable[j].Reliability() {
			return reliable[i].Reliability() > reliable[j].Reliability()
		}
		return reliable[i].SuccessCount > reliable[j].SuccessCount
	})
	for _, e := range reliable {
		if len(insights.TopStrategy) == insightTopStrategies {
			break
		}
		if !contains(insights.TopStrategy, e.Strategy) {
			insights.TopStrategy = append(insights.TopStrategy, e.Strategy)
		}
	}
	sort.Strings(insights.AntiPatterns)
	return insights
}

// Entries returns copies of all entries, most recently used first.
func (c *Cache) Entries() []domain.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := make([]*domain.CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e)
	}
	sortByRecency(list)

	out := make([]domain.CacheEntry, 0, len(list))
	for _, e := range list {
		out = append(out, e.Clone())
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// pruneLocked drops stale and persistently failing entries, then evicts the
// least recently used until the cache fits. protect is never evicted.
func (c *Cache) pruneLocked(protect string) {
	now := c.opts.Now()
	for key, e := range c.entries {
		if key == protect {
			continue
		}
		if e.IsStale(now, c.opts.StaleAfter) {
			delete(c.entries, key)
			continue
		}
		if e.FailureCount > pruneMinFailures && e.Reliability() < pruneMaxReliability {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.opts.MaxEntries {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		if key != protect {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.Before(b.LastUsed)
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		if len(c.entries) <= c.opts.MaxEntries {
			break
		}
		delete(c.entries, key)
	}
}

func sortByRecency(list []*domain.CacheEntry) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastUsed.Equal(list[j].LastUsed) {
			return list[i].LastUsed.After(list[j].LastUsed)
		}
		return entryKey(list[i].IntentType, list[i].Domain, list[i].Pattern) <
			entryKey(list[j].IntentType, list[j].Domain, list[j].Pattern)
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
