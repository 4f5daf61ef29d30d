/******************************************************************************
 *
 *  Description :
 *
 *    WebhookChannel2023: the server POSTs notifications to the subscriber's
 *    `sendTo` URL, authenticating with DPoP-bound tokens. See emit_webhook.go
 *    for the outbound call.
 *
 *****************************************************************************/

package main

import (
	"net/url"

	"github.com/podgrid/notifier/server/store"
	"github.com/podgrid/notifier/server/store/types"
)

const chanWebhook = "WebhookChannel2023"

// Feature key holding the webhook target URL.
const featSendTo = "sendTo"

type webhookChannelType struct{}

// Validate checks a subscription body. Webhook channels require a single
// absolute `sendTo` URL.
func (webhookChannelType) Validate(body []byte) (*types.ChannelRequest, map[string]any, error) {
	req, doc, err := parseSubscription(body, chanWebhook)
	if err != nil {
		return nil, nil, err
	}

	if doc.SendTo == nil || *doc.SendTo == "" {
		return nil, nil, subscriptionError("sendTo is required")
	}
	target, err := url.Parse(*doc.SendTo)
	if err != nil || !target.IsAbs() {
		return nil, nil, subscriptionError("sendTo must be an absolute URL")
	}

	return req, map[string]any{featSendTo: *doc.SendTo}, nil
}

// InitChannel builds the channel record. The channel id doubles as the
// unsubscribe endpoint.
func (webhookChannelType) InitChannel(req *types.ChannelRequest, features map[string]any, creds string) (*types.Channel, error) {
	return store.Channels.Create(req, channelRoute(chanWebhook), features), nil
}

// RequiredAccessModes: the subscriber must be able to read the watched topic.
func (webhookChannelType) RequiredAccessModes(ch *types.Channel) map[string]types.AccessMode {
	return map[string]types.AccessMode{ch.Topic: types.ModeRead}
}

// ToWireFormat renders the subscription confirmation.
func (webhookChannelType) ToWireFormat(ch *types.Channel) map[string]any {
	doc := baseWireFormat(ch)
	doc[featSendTo] = ch.Feature(featSendTo)
	doc["unsubscribe_endpoint"] = ch.ID
	return doc
}

// OnSubscribed pushes the current resource state if the subscriber asked for it.
func (webhookChannelType) OnSubscribed(ch *types.Channel) {
	globals.dispatcher.scheduleState(ch)
}

func init() {
	registerChannelType(chanWebhook, webhookChannelType{})
}
