/******************************************************************************
 *
 *  Description :
 *
 *    StreamingHTTPChannel2023: subscribers hold a long-lived GET request
 *    open at the `receiveFrom` URL; notifications are written to the
 *    response as indivisible chunks. One logical stream exists per topic.
 *
 *****************************************************************************/

package main

import (
	"net/url"

	"github.com/podgrid/notifier/server/store"
	"github.com/podgrid/notifier/server/store/types"
)

const chanStreaming = "StreamingHTTPChannel2023"

type streamChannelType struct{}

// Validate checks a subscription body. Streaming channels have no required
// transport properties beyond the shared base rules.
func (streamChannelType) Validate(body []byte) (*types.ChannelRequest, map[string]any, error) {
	req, _, err := parseSubscription(body, chanStreaming)
	if err != nil {
		return nil, nil, err
	}
	return req, nil, nil
}

// InitChannel builds the channel record.
func (streamChannelType) InitChannel(req *types.ChannelRequest, features map[string]any, creds string) (*types.Channel, error) {
	return store.Channels.Create(req, channelRoute(chanStreaming), features), nil
}

// RequiredAccessModes: the subscriber must be able to read the watched topic.
func (streamChannelType) RequiredAccessModes(ch *types.Channel) map[string]types.AccessMode {
	return map[string]types.AccessMode{ch.Topic: types.ModeRead}
}

// ToWireFormat renders the subscription confirmation. Streams are per topic,
// not per channel, so receiveFrom addresses the topic.
func (streamChannelType) ToWireFormat(ch *types.Channel) map[string]any {
	doc := baseWireFormat(ch)
	doc["receiveFrom"] = streamRoute(ch.Topic)
	return doc
}

// OnSubscribed pushes the current resource state if the subscriber asked for it.
func (streamChannelType) OnSubscribed(ch *types.Channel) {
	globals.dispatcher.scheduleState(ch)
}

// streamRoute returns the streaming endpoint URL for a topic.
func streamRoute(topic string) string {
	return channelRoute(chanStreaming) + "?topic=" + url.QueryEscape(topic)
}

func init() {
	registerChannelType(chanStreaming, streamChannelType{})
}
