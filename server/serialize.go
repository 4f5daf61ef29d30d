// Rendering of notification documents to their wire representation.

package main

import (
	"encoding/json"
)

// serializeNotification renders a notification as JSON-LD bytes together with
// the declared media type. Round-trip stable: deserializing the produced
// bytes and serializing again yields semantically equal output.
func serializeNotification(n *Notification) ([]byte, string, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, "", err
	}
	return data, mediaTypeJSONLD, nil
}

// deserializeNotification parses serialized notification bytes back into a
// structured document.
func deserializeNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
