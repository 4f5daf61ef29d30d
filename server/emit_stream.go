// Streaming emitter: pushes serialized notifications to all open streaming
// responses registered under the channel's topic. One logical stream channel
// exists per topic, so the registry is keyed by topic, not channel id.

package main

import (
	"github.com/podgrid/notifier/server/store/types"
)

type streamEmitter struct {
	reg *connRegistry
}

// Emit writes the payload as one indivisible chunk to every open stream of
// the topic. Silently discards when no connection is registered.
func (e *streamEmitter) Emit(ch *types.Channel, data []byte, contentType string) error {
	for _, h := range e.reg.handles(ch.Topic) {
		if !h.queue(data) {
			e.reg.remove(ch.Topic, h)
		}
	}
	return nil
}
