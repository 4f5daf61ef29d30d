/******************************************************************************
 *
 *  Description :
 *
 *    Registry of channel kinds. Each kind knows how to validate a
 *    subscription body, create a channel record, report the access modes a
 *    subscriber needs, and render the record back to the subscriber.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"

	"github.com/podgrid/notifier/server/store/types"
)

// ChannelType is the interface which must be implemented by channel kinds.
type ChannelType interface {
	// Validate parses and validates a subscription body, returning the shared
	// channel descriptor and transport-specific features.
	Validate(body []byte) (*types.ChannelRequest, map[string]any, error)

	// InitChannel builds a channel record from a validated descriptor. The
	// record is not yet persisted. Credentials identify the subscriber, e.g.
	// the bearer of the subscription request.
	InitChannel(req *types.ChannelRequest, features map[string]any, creds string) (*types.Channel, error)

	// RequiredAccessModes reports which access the subscriber needs on which
	// resources for this channel to be permitted.
	RequiredAccessModes(ch *types.Channel) map[string]types.AccessMode

	// ToWireFormat renders a channel record as the subscription confirmation
	// document. Transport-internal fields (lastEmit, secrets) are omitted.
	ToWireFormat(ch *types.Channel) map[string]any

	// OnSubscribed runs the transport-specific finishing step after the
	// channel is persisted, e.g. triggering an immediate state notification.
	OnSubscribed(ch *types.Channel)
}

var channelTypes map[string]ChannelType

// registerChannelType makes a channel kind available by its name.
// Panics on a nil handler or a duplicate name.
func registerChannelType(name string, ct ChannelType) {
	if channelTypes == nil {
		channelTypes = make(map[string]ChannelType)
	}

	if ct == nil {
		panic("registerChannelType: channel type is nil")
	}
	if _, dup := channelTypes[name]; dup {
		panic("registerChannelType: called twice for " + name)
	}
	channelTypes[name] = ct
}

func getChannelType(name string) ChannelType {
	return channelTypes[name]
}

// subscriptionError is a subscriber-caused validation failure, reported back
// as a 4xx response.
type subscriptionError string

func (e subscriptionError) Error() string {
	return string(e)
}

// parseSubscription applies the base validation rules shared by all channel
// kinds: exactly one topic, a type matching the requested kind, optional
// state/startAt/endAt/rate/accept each at most once and well-formed.
// Transport-specific checks are layered on top by each kind.
func parseSubscription(body []byte, kind string) (*types.ChannelRequest, *subscriptionDoc, error) {
	var doc subscriptionDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, nil, subscriptionError("malformed subscription body: " + err.Error())
	}

	req := &types.ChannelRequest{Type: kind}

	switch topic := doc.Topic.(type) {
	case string:
		req.Topic = topic
	case []any:
		if len(topic) != 1 {
			return nil, nil, subscriptionError("exactly one topic is required")
		}
		val, ok := topic[0].(string)
		if !ok {
			return nil, nil, subscriptionError("topic must be a string")
		}
		req.Topic = val
	case nil:
		// Left empty, rejected below.
	default:
		return nil, nil, subscriptionError("topic must be a string")
	}
	if req.Topic == "" {
		return nil, nil, subscriptionError("exactly one topic is required")
	}

	if doc.Type == "" {
		return nil, nil, subscriptionError("subscription type is required")
	}
	if doc.Type != kind {
		return nil, nil, subscriptionError("subscription type " + doc.Type + " does not match " + kind)
	}

	var err error
	if doc.StartAt != nil {
		if req.StartAt, err = parseISOTime(*doc.StartAt); err != nil {
			return nil, nil, subscriptionError("invalid startAt: " + err.Error())
		}
	}
	if doc.EndAt != nil {
		if req.EndAt, err = parseISOTime(*doc.EndAt); err != nil {
			return nil, nil, subscriptionError("invalid endAt: " + err.Error())
		}
	}
	if doc.Rate != nil {
		if req.Rate, err = parseISODuration(*doc.Rate); err != nil {
			return nil, nil, subscriptionError("invalid rate: " + err.Error())
		}
	}
	if doc.Accept != nil {
		req.Accept = *doc.Accept
	}
	if doc.State != nil {
		if *doc.State == "" {
			return nil, nil, subscriptionError("state must not be empty")
		}
		req.State = *doc.State
	}

	return req, &doc, nil
}

// baseWireFormat renders the fields shared by all channel kinds.
func baseWireFormat(ch *types.Channel) map[string]any {
	doc := map[string]any{
		"@context": contextNotification,
		"id":       ch.ID,
		"type":     ch.Type,
		"topic":    ch.Topic,
	}
	if ch.StartAt > 0 {
		doc["startAt"] = formatISOTime(ch.StartAt)
	}
	if ch.EndAt > 0 {
		doc["endAt"] = formatISOTime(ch.EndAt)
	}
	if ch.Rate > 0 {
		doc["rate"] = formatISODuration(ch.Rate)
	}
	if ch.Accept != "" {
		doc["accept"] = ch.Accept
	}
	return doc
}

// channelRoute returns the id prefix for channels of the given kind.
func channelRoute(kind string) string {
	return globals.servingURL + "/.notifications/" + kind + "/"
}
