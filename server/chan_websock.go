/******************************************************************************
 *
 *  Description :
 *
 *    WebSocketChannel2023: subscribers open a websocket at the URL returned
 *    in `receiveFrom` and get notifications pushed over it. See also
 *    chan_webhook.go and chan_stream.go for the other transports.
 *
 *****************************************************************************/

package main

import (
	"github.com/podgrid/notifier/server/store"
	"github.com/podgrid/notifier/server/store/types"
)

const chanWebSocket = "WebSocketChannel2023"

type websockChannelType struct{}

// Validate checks a subscription body. Websocket channels have no required
// transport properties beyond the shared base rules.
func (websockChannelType) Validate(body []byte) (*types.ChannelRequest, map[string]any, error) {
	req, _, err := parseSubscription(body, chanWebSocket)
	if err != nil {
		return nil, nil, err
	}
	return req, nil, nil
}

// InitChannel builds the channel record. The channel id doubles as the
// websocket endpoint URL (with the scheme swapped to ws/wss).
func (websockChannelType) InitChannel(req *types.ChannelRequest, features map[string]any, creds string) (*types.Channel, error) {
	return store.Channels.Create(req, channelRoute(chanWebSocket), features), nil
}

// RequiredAccessModes: the subscriber must be able to read the watched topic.
func (websockChannelType) RequiredAccessModes(ch *types.Channel) map[string]types.AccessMode {
	return map[string]types.AccessMode{ch.Topic: types.ModeRead}
}

// ToWireFormat renders the subscription confirmation.
func (websockChannelType) ToWireFormat(ch *types.Channel) map[string]any {
	doc := baseWireFormat(ch)
	doc["receiveFrom"] = wsScheme(ch.ID)
	return doc
}

// OnSubscribed pushes the current resource state if the subscriber asked for it.
func (websockChannelType) OnSubscribed(ch *types.Channel) {
	globals.dispatcher.scheduleState(ch)
}

func init() {
	registerChannelType(chanWebSocket, websockChannelType{})
}
