// Package adapter contains the interface to be implemented by a channel
// storage adapter.
package adapter

import (
	"encoding/json"

	t "github.com/podgrid/notifier/server/store/types"
)

// Adapter is the interface which must be implemented by a storage backend
// holding channel records. The server ships with an in-memory adapter; a
// database-backed one can be plugged in without touching the rest of the code.
type Adapter interface {
	// Open and configure the adapter.
	Open(jsonconf json.RawMessage) error
	// Close the adapter, releasing its resources.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string
	// Stats returns a function to be called by the stats exporter.
	Stats() func() any

	// ChannelAdd persists a new channel record.
	ChannelAdd(ch *t.Channel) error
	// ChannelGet loads a channel by id. Returns (nil, nil) when the channel
	// was never stored or has expired.
	ChannelGet(id string) (*t.Channel, error)
	// ChannelsForTopic returns ids of all channels watching the given topic.
	// The result may include ids of expired channels; callers must re-check
	// each id through ChannelGet.
	ChannelsForTopic(topic string) ([]string, error)
	// ChannelUpdate overwrites the mutable fields of a stored channel.
	// A no-op if the id is not on record.
	ChannelUpdate(ch *t.Channel) error
	// ChannelDelete removes a channel. A no-op if the id is not on record.
	ChannelDelete(id string) error
}
