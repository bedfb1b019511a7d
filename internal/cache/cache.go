// Package cache provides a TTL read cache for query results with targeted
// per-location invalidation. A refresh for one location never evicts entries
// belonging to other locations.
package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// Operation identifies a cacheable query. Each operation carries its own TTL.
type Operation string

const (
	OpCurrentWeather Operation = "current_weather"
	OpWeatherHistory Operation = "weather_history"
	OpCurrentRisk    Operation = "current_risk"
	OpRiskHistory    Operation = "risk_history"
	OpStatistics     Operation = "statistics"
	OpLocations      Operation = "locations"
)

// locationsKey caches the location list, which is not scoped to any single
// location and is invalidated on every refresh.
const locationsKey = "locations||"

// Cache wraps an expiring in-memory store keyed by operation and location.
// A nil or disabled Cache is a valid pass-through: every lookup misses.
type Cache struct {
	data    *gocache.Cache
	ttls    map[Operation]time.Duration
	metrics *observability.Metrics
	enabled bool
}

// New builds a cache with per-operation TTLs from cfg. When cfg disables
// caching the returned value never stores or returns entries.
func New(cfg *config.Config, metrics *observability.Metrics) *Cache {
	return &Cache{
		data: gocache.New(gocache.NoExpiration, 10*time.Minute),
		ttls: map[Operation]time.Duration{
			OpCurrentWeather: cfg.CurrentWeatherTTL,
			OpWeatherHistory: cfg.HistoryTTL,
			OpCurrentRisk:    cfg.CurrentRiskTTL,
			OpRiskHistory:    cfg.HistoryTTL,
			OpStatistics:     cfg.StatisticsTTL,
			OpLocations:      cfg.LocationListTTL,
		},
		metrics: metrics,
		enabled: cfg.CacheEnabled,
	}
}

// Key builds the cache key for an operation against a location with optional
// query parameters, e.g. "risk_history|kigali|2025-03-01..2025-03-14".
func Key(op Operation, locationKey, params string) string {
	if op == OpLocations {
		return locationsKey
	}
	return string(op) + "|" + locationKey + "|" + params
}

// Get returns the cached value for key, or nil when absent or expired.
func (c *Cache) Get(op Operation, key string) any {
	if c == nil || !c.enabled {
		return nil
	}
	val, found := c.data.Get(key)
	if !found {
		c.metrics.CacheLookups.WithLabelValues(string(op), "miss").Inc()
		return nil
	}
	c.metrics.CacheLookups.WithLabelValues(string(op), "hit").Inc()
	return val
}

// Set stores val under key with the operation's TTL.
func (c *Cache) Set(op Operation, key string, val any) {
	if c == nil || !c.enabled {
		return
	}
	ttl, ok := c.ttls[op]
	if !ok || ttl <= 0 {
		return
	}
	c.data.Set(key, val, ttl)
}

// InvalidateLocation drops every cached entry scoped to the location, plus
// the location list. Entries for other locations are left intact.
func (c *Cache) InvalidateLocation(locationKey string) {
	if c == nil || !c.enabled {
		return
	}
	marker := "|" + locationKey + "|"
	for key := range c.data.Items() {
		if strings.Contains(key, marker) {
			c.data.Delete(key)
		}
	}
	c.data.Delete(locationsKey)
}

// Len reports the number of live entries, for tests and debugging.
func (c *Cache) Len() int {
	if c == nil || !c.enabled {
		return 0
	}
	return c.data.ItemCount()
}
