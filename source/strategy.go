package source

import "strings"

// CacheControlStrategy selects the conditional-request shape a source
// uses to detect changes.
type CacheControlStrategy string

const (
	// StrategyNone refetches unconditionally on every call.
	StrategyNone CacheControlStrategy = "none"
	// StrategyIfModifiedSince sends If-Modified-Since on the fetch.
	StrategyIfModifiedSince CacheControlStrategy = "if-modified-since"
	// StrategyETag sends If-None-Match on the fetch.
	StrategyETag CacheControlStrategy = "etag"
	// StrategyLastModifiedHead probes with HEAD and compares
	// Last-Modified before paying for the body.
	StrategyLastModifiedHead CacheControlStrategy = "last-modified-head"
	// StrategyETagHead probes with HEAD and compares ETag before
	// paying for the body.
	StrategyETagHead CacheControlStrategy = "etag-head"
)

// NormalizeStrategy maps aliases and the empty string onto a canonical
// strategy value. Unknown inputs pass through lowercased for Validate
// to reject.
func NormalizeStrategy(s CacheControlStrategy) CacheControlStrategy {
	trimmed := strings.ToLower(strings.TrimSpace(string(s)))
	switch trimmed {
	case "":
		return StrategyETag
	case "none":
		return StrategyNone
	case "if-modified-since", "if_modified_since", "last-modified", "last_modified":
		return StrategyIfModifiedSince
	case "etag", "e-tag":
		return StrategyETag
	case "last-modified-head", "last_modified_head", "head-last-modified":
		return StrategyLastModifiedHead
	case "etag-head", "etag_head", "head-etag":
		return StrategyETagHead
	default:
		return CacheControlStrategy(trimmed)
	}
}

// IsSupportedStrategy reports whether s is one of the five canonical
// strategies.
func IsSupportedStrategy(s CacheControlStrategy) bool {
	switch s {
	case StrategyNone, StrategyIfModifiedSince, StrategyETag, StrategyLastModifiedHead, StrategyETagHead:
		return true
	default:
		return false
	}
}

// ViaProbe reports whether the strategy checks for changes with a
// body-less probe before fetching.
func (s CacheControlStrategy) ViaProbe() bool {
	return s == StrategyLastModifiedHead || s == StrategyETagHead
}

// TracksKind returns the version kind this strategy negotiates with,
// KindEmpty for StrategyNone.
func (s CacheControlStrategy) TracksKind() VersionKind {
	switch s {
	case StrategyIfModifiedSince, StrategyLastModifiedHead:
		return KindLastModified
	case StrategyETag, StrategyETagHead:
		return KindETag
	default:
		return KindEmpty
	}
}
