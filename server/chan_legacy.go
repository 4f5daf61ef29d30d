/******************************************************************************
 *
 *  Description :
 *
 *    Legacy 2021 subscription kinds, kept for older clients. They ride the
 *    same transports as the 2023 kinds but use the older vocabulary:
 *    `source` instead of `receiveFrom` for websockets, `target` instead of
 *    `sendTo` for webhooks.
 *
 *****************************************************************************/

package main

import (
	"net/url"

	"github.com/podgrid/notifier/server/store"
	"github.com/podgrid/notifier/server/store/types"
)

const (
	chanWebSocket2021 = "WebSocketSubscription2021"
	chanWebhook2021   = "WebHookSubscription2021"
)

// Feature key holding the legacy webhook target URL.
const featTarget = "target"

type websock2021ChannelType struct{}

func (websock2021ChannelType) Validate(body []byte) (*types.ChannelRequest, map[string]any, error) {
	req, _, err := parseSubscription(body, chanWebSocket2021)
	if err != nil {
		return nil, nil, err
	}
	return req, nil, nil
}

func (websock2021ChannelType) InitChannel(req *types.ChannelRequest, features map[string]any, creds string) (*types.Channel, error) {
	return store.Channels.Create(req, channelRoute(chanWebSocket2021), features), nil
}

func (websock2021ChannelType) RequiredAccessModes(ch *types.Channel) map[string]types.AccessMode {
	return map[string]types.AccessMode{ch.Topic: types.ModeRead}
}

func (websock2021ChannelType) ToWireFormat(ch *types.Channel) map[string]any {
	doc := baseWireFormat(ch)
	doc["source"] = wsScheme(ch.ID)
	return doc
}

func (websock2021ChannelType) OnSubscribed(ch *types.Channel) {
	globals.dispatcher.scheduleState(ch)
}

type webhook2021ChannelType struct{}

func (webhook2021ChannelType) Validate(body []byte) (*types.ChannelRequest, map[string]any, error) {
	req, doc, err := parseSubscription(body, chanWebhook2021)
	if err != nil {
		return nil, nil, err
	}

	if doc.Target == nil || *doc.Target == "" {
		return nil, nil, subscriptionError("target is required")
	}
	tgt, err := url.Parse(*doc.Target)
	if err != nil || !tgt.IsAbs() {
		return nil, nil, subscriptionError("target must be an absolute URL")
	}

	// Stored under the same feature key the webhook emitter reads.
	return req, map[string]any{featSendTo: *doc.Target}, nil
}

func (webhook2021ChannelType) InitChannel(req *types.ChannelRequest, features map[string]any, creds string) (*types.Channel, error) {
	return store.Channels.Create(req, channelRoute(chanWebhook2021), features), nil
}

func (webhook2021ChannelType) RequiredAccessModes(ch *types.Channel) map[string]types.AccessMode {
	return map[string]types.AccessMode{ch.Topic: types.ModeRead}
}

func (webhook2021ChannelType) ToWireFormat(ch *types.Channel) map[string]any {
	doc := baseWireFormat(ch)
	doc[featTarget] = ch.Feature(featSendTo)
	doc["unsubscribe_endpoint"] = ch.ID
	return doc
}

func (webhook2021ChannelType) OnSubscribed(ch *types.Channel) {
	globals.dispatcher.scheduleState(ch)
}

func init() {
	registerChannelType(chanWebSocket2021, websock2021ChannelType{})
	registerChannelType(chanWebhook2021, webhook2021ChannelType{})
}
