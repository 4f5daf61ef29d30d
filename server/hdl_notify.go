/******************************************************************************
 *
 *  Description :
 *
 *    HTTP entry points of the notification subsystem: the discovery
 *    document, per-kind subscription endpoints, unsubscription, and the
 *    loopback activity ingest used by an external storage tier.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/podgrid/notifier/server/logs"
	"github.com/podgrid/notifier/server/store"
)

const notificationsPrefix = "/.notifications/"

// Largest accepted subscription or activity body.
const maxBodySize = 64 * 1024

// serveNotifications routes everything under /.notifications/:
//   - GET  /.notifications/                  -> discovery document
//   - POST /.notifications/<Kind>/           -> subscribe
//   - GET  /.notifications/<Kind>/...        -> live transport connection
//   - DELETE /.notifications/<Kind>/<suffix> -> unsubscribe
func serveNotifications(wrt http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, notificationsPrefix)
	if rest == "" {
		serveDiscovery(wrt, req)
		return
	}

	kind, _, _ := strings.Cut(rest, "/")
	ct := getChannelType(kind)
	if ct == nil {
		writeError(wrt, http.StatusNotFound, "unknown channel kind "+kind)
		return
	}

	switch {
	case req.Method == http.MethodPost:
		serveSubscribe(wrt, req, kind, ct)
	case req.Method == http.MethodDelete:
		serveUnsubscribe(wrt, req)
	case req.Method == http.MethodGet && kind == chanStreaming:
		serveStream(wrt, req)
	case req.Method == http.MethodGet &&
		(kind == chanWebSocket || kind == chanWebSocket2021) && websocket.IsWebSocketUpgrade(req):
		serveWebSocket(wrt, req)
	default:
		writeError(wrt, http.StatusMethodNotAllowed, "invalid request")
	}
}

// serveDiscovery lists the registered channel kinds and their endpoints.
func serveDiscovery(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(wrt, http.StatusMethodNotAllowed, "invalid HTTP method "+req.Method)
		return
	}

	services := make([]map[string]any, 0, len(channelTypes))
	for name := range channelTypes {
		services = append(services, map[string]any{
			"id":          channelRoute(name),
			"channelType": name,
			"feature":     []string{"state", "startAt", "endAt", "rate", "accept"},
		})
	}

	doc := map[string]any{
		"@context":             contextNotification,
		"id":                   globals.servingURL + notificationsPrefix,
		"subscriptionServices": services,
	}

	wrt.Header().Set("Content-Type", mediaTypeJSONLD)
	if err := json.NewEncoder(wrt).Encode(doc); err != nil {
		logs.Err.Println("discovery: failed to write response:", err)
	}
}

// serveSubscribe validates a subscription body against the requested channel
// kind, checks access, persists the channel and confirms it to the
// subscriber.
func serveSubscribe(wrt http.ResponseWriter, req *http.Request, kind string, ct ChannelType) {
	body, err := io.ReadAll(http.MaxBytesReader(wrt, req.Body, maxBodySize))
	if err != nil {
		writeError(wrt, http.StatusBadRequest, "failed to read request body")
		return
	}

	chReq, features, err := ct.Validate(body)
	if err != nil {
		if _, ok := err.(subscriptionError); ok {
			writeError(wrt, http.StatusBadRequest, err.Error())
		} else {
			logs.Err.Println("subscribe: validation failure:", err)
			writeError(wrt, http.StatusInternalServerError, "internal error")
		}
		return
	}

	creds := req.Header.Get("Authorization")
	ch, err := ct.InitChannel(chReq, features, creds)
	if err != nil {
		logs.Err.Println("subscribe: failed to init channel:", err)
		writeError(wrt, http.StatusInternalServerError, "internal error")
		return
	}

	if !globals.accessChecker.Allowed(creds, ct.RequiredAccessModes(ch)) {
		writeError(wrt, http.StatusForbidden, "access denied")
		return
	}

	if err := store.Channels.Add(ch); err != nil {
		logs.Err.Println("subscribe: failed to store channel:", err)
		writeError(wrt, http.StatusInternalServerError, "internal error")
		return
	}
	statsInc("SubscriptionsTotal", 1)
	logs.Info.Println("subscribe:", kind, "channel", ch.ID, "for topic", ch.Topic)

	// Transport-specific finishing step, e.g. the one-shot state push.
	ct.OnSubscribed(ch)

	wrt.Header().Set("Content-Type", mediaTypeJSONLD)
	wrt.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(wrt).Encode(ct.ToWireFormat(ch)); err != nil {
		logs.Err.Println("subscribe: failed to write response:", err)
	}
}

// serveUnsubscribe removes the channel whose id is the request URL. Removal
// of an unknown or already-expired channel succeeds: delete is a no-op then.
func serveUnsubscribe(wrt http.ResponseWriter, req *http.Request) {
	chanID := globals.servingURL + req.URL.Path
	if err := store.Channels.Delete(chanID); err != nil {
		logs.Err.Println("unsubscribe: failed to delete channel:", err)
		writeError(wrt, http.StatusInternalServerError, "internal error")
		return
	}

	logs.Info.Println("unsubscribe: channel", chanID)
	wrt.WriteHeader(http.StatusNoContent)
}

// serveActivity ingests one activity from an external storage tier. Guarded
// by a shared key so only the storage tier can feed the bus.
func serveActivity(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(wrt, http.StatusMethodNotAllowed, "invalid HTTP method "+req.Method)
		return
	}
	if globals.activityKey == "" || req.Header.Get("X-Notifier-Key") != globals.activityKey {
		writeError(wrt, http.StatusForbidden, "invalid or missing activity key")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(wrt, req.Body, maxBodySize))
	if err != nil {
		writeError(wrt, http.StatusBadRequest, "failed to read request body")
		return
	}

	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		writeError(wrt, http.StatusBadRequest, "malformed activity: "+err.Error())
		return
	}
	if act.Topic == "" {
		writeError(wrt, http.StatusBadRequest, "activity topic is required")
		return
	}
	switch act.Kind {
	case ActUpdate, ActAdd, ActRemove, ActDelete:
	default:
		writeError(wrt, http.StatusBadRequest, "unknown activity type "+act.Kind)
		return
	}

	globals.activityBus.Emit(&act)
	wrt.WriteHeader(http.StatusAccepted)
}
