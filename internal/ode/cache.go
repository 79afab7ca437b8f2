package ode

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Cache memoizes compiled systems by normalized source text and
// parameter values, so a submission fanning out over many initial
// conditions parses and compiles exactly once.
type Cache struct {
	mu      sync.Mutex
	systems map[string]*System
}

func NewCache() *Cache {
	return &Cache{systems: make(map[string]*System)}
}

// NormalizeSource collapses runs of whitespace so that texts differing
// only in spacing share a cache entry.
func NormalizeSource(source string) string {
	return strings.Join(strings.Fields(source), " ")
}

func cacheKey(source string, params map[string]float64) string {
	if len(params) == 0 {
		return NormalizeSource(source)
	}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	var sb strings.Builder
	sb.WriteString(NormalizeSource(source))
	for _, k := range names {
		fmt.Fprintf(&sb, "|%s=%v", k, params[k])
	}
	return sb.String()
}

// Build returns the compiled system for the given source, compiling it
// on first use. build runs outside the lock on a miss; concurrent
// first builds of the same key are possible but harmless since
// compiled systems for equal inputs are interchangeable.
func (c *Cache) Build(source string, params map[string]float64, build func() (*System, error)) (*System, error) {
	key := cacheKey(source, params)

	c.mu.Lock()
	if sys, ok := c.systems[key]; ok {
		c.mu.Unlock()
		return sys, nil
	}
	c.mu.Unlock()

	sys, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if prior, ok := c.systems[key]; ok {
		sys = prior
	} else {
		c.systems[key] = sys
	}
	c.mu.Unlock()
	return sys, nil
}
