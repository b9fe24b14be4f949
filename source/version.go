package source

import (
	"fmt"
	"time"
)

// VersionKind tells which validator produced a Version.
type VersionKind string

const (
	KindEmpty        VersionKind = "empty"
	KindLastModified VersionKind = "last-modified"
	KindETag         VersionKind = "etag"
)

// Version is an opaque revision token for a resource. The zero value is
// the empty version, the only legal value before any fetch.
type Version struct {
	kind VersionKind
	time time.Time
	tag  string
}

// LastModified builds a last-modified version from a timestamp.
func LastModified(t time.Time) Version {
	return Version{kind: KindLastModified, time: t}
}

// ETag builds an etag version from a validator token.
func ETag(tag string) Version {
	return Version{kind: KindETag, tag: tag}
}

func (v Version) Kind() VersionKind {
	if v.kind == "" {
		return KindEmpty
	}
	return v.kind
}

// IsEmpty reports whether no fetch has produced this version yet.
func (v Version) IsEmpty() bool {
	return v.Kind() == KindEmpty
}

// Time returns the timestamp payload, zero unless KindLastModified.
func (v Version) Time() time.Time {
	return v.time
}

// Tag returns the etag payload, empty unless KindETag.
func (v Version) Tag() string {
	return v.tag
}

// Equal reports whether two versions identify the same revision. The
// empty version never equals anything, not even another empty version.
func (v Version) Equal(other Version) bool {
	if v.IsEmpty() || other.IsEmpty() {
		return false
	}
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindLastModified:
		return v.time.Equal(other.time)
	case KindETag:
		return v.tag == other.tag
	default:
		return false
	}
}

func (v Version) String() string {
	switch v.Kind() {
	case KindLastModified:
		return fmt.Sprintf("last-modified:%s", v.time.UTC().Format(time.RFC3339))
	case KindETag:
		return fmt.Sprintf("etag:%s", v.tag)
	default:
		return "empty"
	}
}
