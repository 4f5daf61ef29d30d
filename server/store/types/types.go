// Package types contains data structures shared between the storage adapters
// and the rest of the server.
package types

import (
	"time"
)

// StoreError satisfies Error interface but allows constant values for direct comparison.
type StoreError string

func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the input is malformed.
	ErrMalformed = StoreError("malformed")
	// ErrDuplicate means duplicate record, e.g. adding a channel with an id
	// which is already taken.
	ErrDuplicate = StoreError("duplicate")
	// ErrNotFound means the requested record was not found.
	ErrNotFound = StoreError("not found")
	// ErrUnsupported means an operation is not supported.
	ErrUnsupported = StoreError("unsupported")
)

// AccessMode is a bitmap of access modes a subscriber needs on a resource.
type AccessMode uint

const (
	// ModeRead permits reading the resource's content and metadata.
	ModeRead AccessMode = 1 << iota
	// ModeWrite permits modifying the resource.
	ModeWrite

	// ModeNone means no access.
	ModeNone AccessMode = 0
)

// IsRead checks if read access is set.
func (m AccessMode) IsRead() bool {
	return m&ModeRead != 0
}

// ChannelRequest is a parsed and validated subscription body: the fields every
// channel kind shares. Transport-specific values are carried separately as
// features.
type ChannelRequest struct {
	// Identifier of the watched resource.
	Topic string
	// Name of the channel kind requested.
	Type string
	// Optional delivery window, unix milliseconds. Zero means unset.
	StartAt int64
	EndAt   int64
	// Optional minimal spacing between deliveries in milliseconds. Zero means unset.
	Rate int64
	// Preferred media type of serialized notifications.
	Accept string
	// Opaque client token requesting a one-time "current state" notification.
	State string
}

// Channel is a persisted subscription record binding a topic to a delivery
// transport and its configuration.
type Channel struct {
	// Globally unique channel identifier. Assigned at creation, immutable.
	ID string
	// Identifier of the watched resource. Immutable.
	Topic string
	// Name of the channel kind which created this record.
	Type string

	// Delivery window, unix milliseconds. Zero means unset.
	StartAt int64
	EndAt   int64
	// Minimal spacing between deliveries in milliseconds. Zero means unset.
	Rate int64
	// Preferred media type of serialized notifications.
	Accept string
	// One-shot "current state" token. Cleared after the state notification is
	// delivered.
	State string
	// Time of the most recent successful delivery, unix milliseconds.
	// Transport-internal, never exposed to subscribers.
	LastEmit int64

	// Transport-specific values, e.g. the target URL of a webhook channel.
	Features map[string]any

	// Record creation time.
	CreatedAt time.Time
}

// Expired checks if the channel's delivery window has closed.
func (ch *Channel) Expired(now int64) bool {
	return ch.EndAt > 0 && now >= ch.EndAt
}

// Feature returns a string-valued feature or "" if it's missing.
func (ch *Channel) Feature(name string) string {
	if ch.Features == nil {
		return ""
	}
	val, _ := ch.Features[name].(string)
	return val
}

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
