// Package mem is an in-memory channel storage adapter. Channel records do not
// survive a server restart, which matches the best-effort delivery contract:
// live connections are gone after a restart anyway and subscribers are
// expected to re-subscribe.
package mem

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/podgrid/notifier/server/store"
	t "github.com/podgrid/notifier/server/store/types"
)

// adapterName must match the "use_adapter" value in the config file.
const adapterName = "mem"

// Default period between garbage collection of expired records.
const defaultGcPeriod = 15 * time.Minute

type adapter struct {
	lock sync.RWMutex
	// All channel records by id, including expired ones not yet collected.
	channels map[string]*t.Channel
	// Topic -> set of channel ids. Ids of expired channels linger here until
	// the next GC pass.
	topics map[string]map[string]struct{}

	gcTicker *time.Ticker
	gcDone   chan bool
}

type configType struct {
	// Period between sweeps of expired records, in seconds.
	GcPeriod int `json:"gc_period"`
}

// Open initializes the adapter and starts the expired-record collector.
func (a *adapter) Open(jsonconf json.RawMessage) error {
	if a.channels != nil {
		return errors.New("adapter mem is already open")
	}

	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return errors.New("adapter mem failed to parse config: " + err.Error())
		}
	}

	gcPeriod := defaultGcPeriod
	if config.GcPeriod > 0 {
		gcPeriod = time.Duration(config.GcPeriod) * time.Second
	}

	a.channels = make(map[string]*t.Channel)
	a.topics = make(map[string]map[string]struct{})
	a.gcTicker = time.NewTicker(gcPeriod)
	a.gcDone = make(chan bool, 1)

	go func() {
		for {
			select {
			case <-a.gcTicker.C:
				a.gc(t.TimeNow().UnixMilli())
			case <-a.gcDone:
				return
			}
		}
	}()

	return nil
}

// Close terminates the collector and drops all records.
func (a *adapter) Close() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.channels == nil {
		return nil
	}

	a.gcTicker.Stop()
	a.gcDone <- true
	a.channels = nil
	a.topics = nil

	return nil
}

// IsOpen checks if the adapter is initialized.
func (a *adapter) IsOpen() bool {
	a.lock.RLock()
	defer a.lock.RUnlock()

	return a.channels != nil
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// Stats returns a callback for the stats exporter reporting record counts.
func (a *adapter) Stats() func() any {
	return func() any {
		a.lock.RLock()
		defer a.lock.RUnlock()

		if a.channels == nil {
			return nil
		}
		return map[string]int{
			"Channels": len(a.channels),
			"Topics":   len(a.topics),
		}
	}
}

// ChannelAdd persists a new channel record.
func (a *adapter) ChannelAdd(ch *t.Channel) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.channels == nil {
		return t.ErrInternal
	}
	if _, found := a.channels[ch.ID]; found {
		return t.ErrDuplicate
	}

	a.channels[ch.ID] = copyChannel(ch)
	idx := a.topics[ch.Topic]
	if idx == nil {
		idx = make(map[string]struct{})
		a.topics[ch.Topic] = idx
	}
	idx[ch.ID] = struct{}{}

	return nil
}

// ChannelGet loads a channel by id. Expired channels are reported as absent
// even before the collector has removed them.
func (a *adapter) ChannelGet(id string) (*t.Channel, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	ch := a.channels[id]
	if ch == nil || ch.Expired(t.TimeNow().UnixMilli()) {
		return nil, nil
	}
	return copyChannel(ch), nil
}

// ChannelsForTopic returns ids of all channels watching the topic, expired
// ones included.
func (a *adapter) ChannelsForTopic(topic string) ([]string, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	idx := a.topics[topic]
	if len(idx) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	return ids, nil
}

// ChannelUpdate overwrites the mutable fields of a stored channel. Id and
// topic are immutable: the stored values win.
func (a *adapter) ChannelUpdate(ch *t.Channel) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	old := a.channels[ch.ID]
	if old == nil {
		// Channel deleted or expired mid-flight. Not an error.
		return nil
	}

	upd := copyChannel(ch)
	upd.Topic = old.Topic
	upd.CreatedAt = old.CreatedAt
	a.channels[ch.ID] = upd

	return nil
}

// ChannelDelete removes a channel record. A no-op if the id is not on record.
func (a *adapter) ChannelDelete(id string) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	ch := a.channels[id]
	if ch == nil {
		return nil
	}

	delete(a.channels, id)
	if idx := a.topics[ch.Topic]; idx != nil {
		delete(idx, id)
		if len(idx) == 0 {
			delete(a.topics, ch.Topic)
		}
	}

	return nil
}

// gc drops expired records. Returns the number of records removed.
func (a *adapter) gc(now int64) int {
	a.lock.Lock()
	defer a.lock.Unlock()

	var count int
	for id, ch := range a.channels {
		if !ch.Expired(now) {
			continue
		}
		delete(a.channels, id)
		if idx := a.topics[ch.Topic]; idx != nil {
			delete(idx, id)
			if len(idx) == 0 {
				delete(a.topics, ch.Topic)
			}
		}
		count++
	}
	return count
}

func copyChannel(ch *t.Channel) *t.Channel {
	cp := *ch
	if ch.Features != nil {
		cp.Features = make(map[string]any, len(ch.Features))
		for k, v := range ch.Features {
			cp.Features[k] = v
		}
	}
	return &cp
}

func init() {
	store.RegisterAdapter(&adapter{})
}
