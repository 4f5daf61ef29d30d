/******************************************************************************
 *
 *  Description :
 *
 *    Notification generator: turns an activity on a topic into a
 *    notification document. Behavior is selected by activity kind; an empty
 *    kind means "current state" and is resolved by checking whether the
 *    resource exists.
 *
 *****************************************************************************/

package main

import (
	"errors"

	"github.com/podgrid/notifier/server/store"
)

// ResourceMeta is the slice of resource metadata the generator needs.
type ResourceMeta struct {
	// Entity tag of the resource's current representation.
	ETag string
}

// ResourceStore is the boundary to the resource storage layer. The generator
// only reads existence and entity tags through it; it never modifies
// resources.
type ResourceStore interface {
	// GetRepresentation returns metadata of the resource's current
	// representation.
	GetRepresentation(topic string) (*ResourceMeta, error)
	// HasResource checks whether the resource currently exists.
	HasResource(topic string) (bool, error)
}

type generator struct {
	resources ResourceStore
}

// generate builds a notification for one activity. The meta map carries
// out-of-band values; Add/Remove activities require exactly one "object"
// entry naming the member which was added or removed.
func (g *generator) generate(topic, kind string, meta map[string][]string) (*Notification, error) {
	if kind == "" {
		// State-feature trigger: no activity was supplied. Derive one from
		// the resource's current existence and re-enter.
		exists, err := g.resources.HasResource(topic)
		if err != nil {
			return nil, errors.New("generate: existence check failed: " + err.Error())
		}
		if exists {
			return g.generate(topic, ActUpdate, meta)
		}
		return g.generate(topic, ActDelete, meta)
	}

	n := &Notification{
		Context:   []string{contextActivityStreams, contextNotification},
		ID:        "urn:uid:" + store.Store.GetUidString(),
		Type:      kind,
		Object:    topic,
		Published: formatISOTime(timeNowMillis()),
	}

	switch kind {
	case ActDelete:
		// The resource is gone, no metadata to attach.
		return n, nil

	case ActAdd, ActRemove:
		objects := meta["object"]
		if len(objects) != 1 {
			// Server-side invariant violation, not a subscriber error.
			return nil, errors.New("generate: " + kind + " activity requires exactly one object value")
		}
		n.Object = objects[0]
		n.Target = topic
		return n, nil

	default:
		rep, err := g.resources.GetRepresentation(topic)
		if err != nil {
			return nil, errors.New("generate: failed to read representation of " + topic + ": " + err.Error())
		}
		n.State = rep.ETag
		return n, nil
	}
}
