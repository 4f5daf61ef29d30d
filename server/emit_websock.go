// Socket emitter: pushes serialized notifications to all open websocket
// connections registered under the channel id.

package main

import (
	"github.com/podgrid/notifier/server/store/types"
)

type websockEmitter struct {
	reg *connRegistry
}

// Emit writes the payload to every open socket of the channel. Silently
// discards when no connection is registered.
func (e *websockEmitter) Emit(ch *types.Channel, data []byte, contentType string) error {
	for _, h := range e.reg.handles(ch.ID) {
		if !h.queue(data) {
			// Connection is wedged; drop it so the next emit doesn't retry it.
			h.terminate()
			e.reg.remove(ch.ID, h)
		}
	}
	return nil
}
