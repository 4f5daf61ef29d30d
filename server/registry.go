/******************************************************************************
 *
 *  Description :
 *
 *    Registries of live delivery connections. A registry is a multi-map from
 *    a key (channel id for sockets, topic for streams) to the set of open
 *    transport handles. Handles deregister themselves on close or error; a
 *    periodic sweep force-closes handles whose channel is gone from the
 *    store.
 *
 *****************************************************************************/

package main

import (
	"sync"
	"time"

	"github.com/podgrid/notifier/server/logs"
	"github.com/podgrid/notifier/server/store"
)

// connHandle is one open delivery connection.
type connHandle interface {
	// queue hands a serialized notification to the connection for writing.
	// Returns false if the connection can no longer accept data.
	queue(data []byte) bool
	// terminate closes the connection.
	terminate()
}

// connRegistry is a multi-map of live connections.
type connRegistry struct {
	lock  sync.Mutex
	conns map[string]map[connHandle]struct{}
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[string]map[connHandle]struct{})}
}

// add registers a live connection under the given key.
func (r *connRegistry) add(key string, h connHandle) {
	r.lock.Lock()
	defer r.lock.Unlock()

	set := r.conns[key]
	if set == nil {
		set = make(map[connHandle]struct{})
		r.conns[key] = set
	}
	set[h] = struct{}{}
}

// remove deregisters a connection. The key is dropped entirely when its set
// becomes empty so iteration stays proportional to distinct live keys.
func (r *connRegistry) remove(key string, h connHandle) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if set := r.conns[key]; set != nil {
		delete(set, h)
		if len(set) == 0 {
			delete(r.conns, key)
		}
	}
}

// handles returns a snapshot of connections registered under the key.
func (r *connRegistry) handles(key string) []connHandle {
	r.lock.Lock()
	defer r.lock.Unlock()

	set := r.conns[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]connHandle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// keys returns a snapshot of all keys with live connections.
func (r *connRegistry) keys() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	out := make([]string, 0, len(r.conns))
	for key := range r.conns {
		out = append(out, key)
	}
	return out
}

// count returns the number of live connections across all keys.
func (r *connRegistry) count() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

// sweep force-closes all connections whose key no longer passes the check.
// Returns the number of connections closed.
func (r *connRegistry) sweep(alive func(key string) bool) int {
	var count int
	for _, key := range r.keys() {
		if alive(key) {
			continue
		}
		for _, h := range r.handles(key) {
			h.terminate()
			r.remove(key, h)
			count++
		}
	}
	return count
}

// shutdown closes every registered connection.
func (r *connRegistry) shutdown() {
	for _, key := range r.keys() {
		for _, h := range r.handles(key) {
			h.terminate()
			r.remove(key, h)
		}
	}
}

// sweepLoop periodically drops connections whose channel has expired or was
// deleted. Stopped by closing the done channel.
func sweepLoop(interval time.Duration, done <-chan bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			closed := globals.sockReg.sweep(channelAlive)
			closed += globals.streamReg.sweep(topicStreamAlive)
			if closed > 0 {
				logs.Info.Println("sweep: closed", closed, "stale connections")
				statsInc("SweepClosedConnections", closed)
			}
		case <-done:
			return
		}
	}
}

// channelAlive checks that a socket registry key (channel id) still resolves
// to a stored, non-expired channel.
func channelAlive(id string) bool {
	ch, err := store.Channels.Get(id)
	if err != nil {
		logs.Err.Println("sweep: store failure:", err)
		// Keep the connection on store failure, retry next sweep.
		return true
	}
	return ch != nil
}

// topicStreamAlive checks that a stream registry key (topic) still has at
// least one live streaming channel.
func topicStreamAlive(topic string) bool {
	ids, err := store.Channels.GetAll(topic)
	if err != nil {
		logs.Err.Println("sweep: store failure:", err)
		return true
	}
	for _, id := range ids {
		ch, err := store.Channels.Get(id)
		if err != nil || ch == nil {
			continue
		}
		if ch.Type == chanStreaming {
			return true
		}
	}
	return false
}
