// Package store provides methods for registering and accessing storage
// adapters holding channel records.
package store

import (
	"encoding/json"
	"errors"

	"github.com/podgrid/notifier/server/store/adapter"
	"github.com/podgrid/notifier/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator.
var uGen types.UidGenerator

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// Adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerID int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only registered adapter.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: adapter is not specified. Please set `store_config.use_adapter` in the config file")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	// Initialize snowflake.
	if workerID < 0 || workerID > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := uGen.Init(uint(workerID), config.UidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interaction with
// persistent storage.
type PersistentStorageInterface interface {
	Open(workerID int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	GetUidString() string
	DbStats() func() any
}

// Store is the main object for interacting with persistent storage.
var Store PersistentStorageInterface

type storeObj struct{}

// Open initializes the persistence system.
func (storeObj) Open(workerID int, jsonconf json.RawMessage) error {
	return openAdapter(workerID, jsonconf)
}

// Close terminates connection to persistent storage.
func (storeObj) Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}

	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	if adp != nil {
		return adp.IsOpen()
	}

	return false
}

// GetAdapterName returns the name of the current adapter.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}

	return ""
}

// GetUidString generates a unique id as a string.
func (storeObj) GetUidString() string {
	return uGen.GetStr()
}

// DbStats returns a callback returning storage stats, if available.
func (storeObj) DbStats() func() any {
	if !Store.IsOpen() {
		return nil
	}
	return adp.Stats()
}

// RegisterAdapter makes a storage adapter available by its name.
// If RegisterAdapter is called twice with the same name or if the adapter is
// nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// ChannelsPersistenceInterface is an interface which defines methods for
// persistent storage of channel records.
type ChannelsPersistenceInterface interface {
	Create(req *types.ChannelRequest, idPrefix string, features map[string]any) *types.Channel
	Add(ch *types.Channel) error
	Get(id string) (*types.Channel, error)
	GetAll(topic string) ([]string, error)
	Update(ch *types.Channel) error
	Delete(id string) error
}

// Channels is the ancor for storing/retrieving channel records.
var Channels ChannelsPersistenceInterface

type channelsMapper struct{}

// Create builds a new channel record from a parsed subscription request.
// It does not persist the record; the caller is expected to finish the
// transport-specific setup and then call Add.
func (channelsMapper) Create(req *types.ChannelRequest, idPrefix string, features map[string]any) *types.Channel {
	return &types.Channel{
		ID:        idPrefix + uGen.GetStr(),
		Topic:     req.Topic,
		Type:      req.Type,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		Rate:      req.Rate,
		Accept:    req.Accept,
		State:     req.State,
		Features:  features,
		CreatedAt: types.TimeNow(),
	}
}

// Add persists a channel record.
func (channelsMapper) Add(ch *types.Channel) error {
	return adp.ChannelAdd(ch)
}

// Get loads a channel by id. Returns (nil, nil) when the channel was never
// stored or has expired.
func (channelsMapper) Get(id string) (*types.Channel, error) {
	return adp.ChannelGet(id)
}

// GetAll returns ids of all channels watching the given topic, expired ones
// included. Callers must re-check each id through Get.
func (channelsMapper) GetAll(topic string) ([]string, error) {
	return adp.ChannelsForTopic(topic)
}

// Update overwrites the mutable fields of a stored channel.
func (channelsMapper) Update(ch *types.Channel) error {
	return adp.ChannelUpdate(ch)
}

// Delete removes a channel record. A no-op if the id is not on record.
func (channelsMapper) Delete(id string) error {
	return adp.ChannelDelete(id)
}

func init() {
	Store = storeObj{}
	Channels = channelsMapper{}
}
