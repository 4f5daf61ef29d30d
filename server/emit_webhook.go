/******************************************************************************
 *
 *  Description :
 *
 *    Webhook emitter: POSTs serialized notifications to the channel's
 *    configured target URL, authenticating with a DPoP-bound access token
 *    and a request-bound proof. Fire and forget: a rejected or failed POST
 *    is logged, never raised.
 *
 *****************************************************************************/

package main

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/podgrid/notifier/server/logs"
	"github.com/podgrid/notifier/server/store/types"
)

// Webhook POSTs which take longer than this are abandoned.
const webhookCallTimeout = 10 * time.Second

type webhookEmitter struct {
	client *http.Client
	keys   *keyStore
	// Identity the access token is issued for, normally the serving URL.
	serverID string
	// Validity window of issued access tokens.
	tokenExpiry time.Duration
}

func newWebhookEmitter(keys *keyStore, serverID string, tokenExpiry time.Duration) *webhookEmitter {
	if tokenExpiry <= 0 {
		tokenExpiry = defaultTokenExpiry
	}
	return &webhookEmitter{
		client:      &http.Client{Timeout: webhookCallTimeout},
		keys:        keys,
		serverID:    serverID,
		tokenExpiry: tokenExpiry,
	}
}

// Emit performs one signed POST to the channel's target URL.
func (e *webhookEmitter) Emit(ch *types.Channel, data []byte, contentType string) error {
	target := ch.Feature(featSendTo)
	if target == "" {
		return errors.New("webhook: channel " + ch.ID + " has no target URL")
	}

	priv, err := e.keys.get()
	if err != nil {
		return errors.New("webhook: no signing key: " + err.Error())
	}

	token, err := accessToken(priv, e.serverID, target, e.tokenExpiry)
	if err != nil {
		return errors.New("webhook: failed to build access token: " + err.Error())
	}
	proof, err := dpopProof(priv, target, http.MethodPost)
	if err != nil {
		return errors.New("webhook: failed to build proof: " + err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return errors.New("webhook: bad target URL " + target + ": " + err.Error())
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "DPoP "+token)
	req.Header.Set("DPoP", proof)

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.New("webhook: POST to " + target + " failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		// Delivery failure, contained here. The subscriber sees nothing.
		logs.Warn.Println("webhook: target", target, "rejected notification:", resp.Status)
		statsInc("WebhookRejectedTotal", 1)
		return nil
	}

	statsInc("OutgoingNotificationsWebhookTotal", 1)
	return nil
}
