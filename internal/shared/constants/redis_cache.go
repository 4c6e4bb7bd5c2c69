package constants

import (
	"fmt"
	"time"
)

// Redis Cache Configuration
// Pattern: stallbook:{module}:{operation}:{identifier}:{params?}

// ================== CACHE TTL DURATIONS ==================

// Stall status flips on every reservation, keep listings short-lived
const (
	TTL_REALTIME_MEDIUM = 1 * time.Minute
	TTL_REALTIME_SHORT  = 30 * time.Second
)

// ================== REDIS KEY PREFIXES ==================

const (
	CACHE_PREFIX = "stallbook"
)

// ================== STALLS MODULE ==================

const (
	CACHE_KEY_STALLS_LIST  = CACHE_PREFIX + ":stalls:list"         // + :zone:X:status:Y:page:Z:limit:W
	CACHE_KEY_STALL_DETAIL = CACHE_PREFIX + ":stalls:detail:uuid:" // + stall-id
	CACHE_PATTERN_STALLS   = CACHE_PREFIX + ":stalls:*"
	CACHE_KEY_RATELIMIT    = CACHE_PREFIX + ":ratelimit"
)

func BuildStallListKey(zone, status string, page, limit int) string {
	return fmt.Sprintf("%s:zone:%s:status:%s:page:%d:limit:%d", CACHE_KEY_STALLS_LIST, zone, status, page, limit)
}

func BuildStallDetailKey(stallID string) string {
	return CACHE_KEY_STALL_DETAIL + stallID
}

func BuildRateLimitKey(clientIP, limitType string) string {
	return CACHE_KEY_RATELIMIT + ":" + clientIP + ":" + limitType
}
