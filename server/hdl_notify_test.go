package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/podgrid/notifier/server/store"
	"github.com/podgrid/notifier/server/store/types"
)

// denyAllChecker rejects every subscription.
type denyAllChecker struct{}

func (denyAllChecker) Allowed(creds string, modes map[string]types.AccessMode) bool {
	return false
}

func doNotifications(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	serveNotifications(rec, req)
	return rec
}

func TestServeDiscovery(t *testing.T) {
	rec := doNotifications(http.MethodGet, notificationsPrefix, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != mediaTypeJSONLD {
		t.Errorf("unexpected content type: %s", ct)
	}

	var doc struct {
		Context  string `json:"@context"`
		ID       string `json:"id"`
		Services []struct {
			ID          string   `json:"id"`
			ChannelType string   `json:"channelType"`
			Feature     []string `json:"feature"`
		} `json:"subscriptionServices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal("malformed discovery document:", err)
	}
	if doc.Context != contextNotification {
		t.Errorf("unexpected context: %s", doc.Context)
	}
	if len(doc.Services) != len(channelTypes) {
		t.Errorf("expected %d services, got %d", len(channelTypes), len(doc.Services))
	}
	for _, svc := range doc.Services {
		if getChannelType(svc.ChannelType) == nil {
			t.Errorf("discovery lists unregistered kind %s", svc.ChannelType)
		}
		if svc.ID != channelRoute(svc.ChannelType) {
			t.Errorf("unexpected endpoint for %s: %s", svc.ChannelType, svc.ID)
		}
	}
}

func TestServeSubscribeWebhook(t *testing.T) {
	body := `{
		"@context": ["https://www.w3.org/ns/solid/notification/v1"],
		"type": "WebhookChannel2023",
		"topic": "http://ex/subscribed",
		"sendTo": "https://client.example/inbox"
	}`
	rec := doNotifications(http.MethodPost, "/.notifications/WebhookChannel2023/", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal("malformed confirmation:", err)
	}
	id, _ := doc["id"].(string)
	if !strings.HasPrefix(id, channelRoute(chanWebhook)) {
		t.Errorf("unexpected channel id: %s", id)
	}
	t.Cleanup(func() { store.Channels.Delete(id) })

	if doc["sendTo"] != "https://client.example/inbox" {
		t.Errorf("unexpected sendTo: %v", doc["sendTo"])
	}
	if doc["unsubscribe_endpoint"] != id {
		t.Errorf("unexpected unsubscribe_endpoint: %v", doc["unsubscribe_endpoint"])
	}

	// The channel is on record and watching the topic.
	ch, err := store.Channels.Get(id)
	if err != nil || ch == nil {
		t.Fatalf("channel not stored: %v %v", ch, err)
	}
	if ch.Topic != "http://ex/subscribed" || ch.Type != chanWebhook {
		t.Errorf("unexpected stored channel: %+v", ch)
	}
}

func TestServeSubscribeRejects(t *testing.T) {
	cases := map[string]struct {
		path string
		body string
		code int
	}{
		"unknown kind": {
			path: "/.notifications/CarrierPigeon2023/",
			body: `{"type": "CarrierPigeon2023", "topic": "http://ex/r"}`,
			code: http.StatusNotFound,
		},
		"malformed body": {
			path: "/.notifications/WebSocketChannel2023/",
			body: `{]`,
			code: http.StatusBadRequest,
		},
		"missing topic": {
			path: "/.notifications/WebSocketChannel2023/",
			body: `{"type": "WebSocketChannel2023"}`,
			code: http.StatusBadRequest,
		},
		"webhook without sendTo": {
			path: "/.notifications/WebhookChannel2023/",
			body: `{"type": "WebhookChannel2023", "topic": "http://ex/r"}`,
			code: http.StatusBadRequest,
		},
	}
	for name, tc := range cases {
		rec := doNotifications(http.MethodPost, tc.path, tc.body)
		if rec.Code != tc.code {
			t.Errorf("%s: expected %d, got %d: %s", name, tc.code, rec.Code, rec.Body)
			continue
		}
		var doc errorDoc
		if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil || doc.Status != tc.code {
			t.Errorf("%s: malformed error document: %s", name, rec.Body)
		}
	}
}

func TestServeSubscribeForbidden(t *testing.T) {
	orig := globals.accessChecker
	globals.accessChecker = denyAllChecker{}
	t.Cleanup(func() { globals.accessChecker = orig })

	body := `{"type": "WebSocketChannel2023", "topic": "http://ex/forbidden"}`
	rec := doNotifications(http.MethodPost, "/.notifications/WebSocketChannel2023/", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body)
	}

	// Nothing was stored.
	ids, _ := store.Channels.GetAll("http://ex/forbidden")
	if len(ids) != 0 {
		t.Errorf("rejected subscription left channels behind: %v", ids)
	}
}

func TestServeUnsubscribe(t *testing.T) {
	ch := addTestChannel(t, chanWebhook, "http://ex/unsub", nil)

	path := strings.TrimPrefix(ch.ID, globals.servingURL)
	rec := doNotifications(http.MethodDelete, path, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body)
	}

	if got, _ := store.Channels.Get(ch.ID); got != nil {
		t.Error("channel still on record after unsubscribe")
	}

	// Unsubscribing again succeeds: delete is a no-op then.
	rec = doNotifications(http.MethodDelete, path, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 on repeat unsubscribe, got %d", rec.Code)
	}
}

func TestServeStreamRejects(t *testing.T) {
	rec := doNotifications(http.MethodGet, "/.notifications/StreamingHTTPChannel2023/", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a topic, got %d", rec.Code)
	}

	rec = doNotifications(http.MethodGet,
		"/.notifications/StreamingHTTPChannel2023/?topic=http%3A%2F%2Fex%2Funwatched", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a topic without streaming channels, got %d", rec.Code)
	}
}

func TestServeStreamDelivery(t *testing.T) {
	const topic = "http://ex/streamed"
	addTestChannel(t, chanStreaming, topic, nil)

	req := httptest.NewRequest(http.MethodGet,
		streamRoute(topic), nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	handlerDone := make(chan struct{})
	go func() {
		serveStream(rec, req)
		close(handlerDone)
	}()

	// Wait for the connection to register, push one notification, then hang
	// up as the client.
	deadline := time.Now().Add(2 * time.Second)
	for globals.streamReg.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	handles := globals.streamReg.handles(topic)
	if len(handles) != 1 {
		t.Fatalf("expected 1 live stream, got %d", len(handles))
	}
	if !handles[0].queue([]byte(`{"type":"Update"}`)) {
		t.Error("queue on a live stream failed")
	}

	cancel()
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not stop on client disconnect")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != mediaTypeJSONLD {
		t.Errorf("unexpected content type: %s", ct)
	}
	if got := rec.Body.String(); got != "{\"type\":\"Update\"}\n" {
		t.Errorf("unexpected stream payload: %q", got)
	}
	if globals.streamReg.count() != 0 {
		t.Error("stream connection leaked in the registry")
	}
}

func TestServeActivity(t *testing.T) {
	origKey := globals.activityKey
	globals.activityKey = "test-secret"
	t.Cleanup(func() { globals.activityKey = origKey })

	received := make(chan *Activity, 4)
	globals.activityBus.Subscribe(func(act *Activity) { received <- act })

	post := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/.activity", strings.NewReader(body))
		if key != "" {
			req.Header.Set("X-Notifier-Key", key)
		}
		rec := httptest.NewRecorder()
		serveActivity(rec, req)
		return rec
	}

	rec := post("test-secret",
		`{"topic": "http://ex/ingested", "type": "Add", "metadata": {"object": ["http://ex/ingested/member"]}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	select {
	case act := <-received:
		if act.Topic != "http://ex/ingested" || act.Kind != ActAdd {
			t.Errorf("unexpected activity on the bus: %+v", act)
		}
		if len(act.Meta["object"]) != 1 {
			t.Errorf("metadata lost in transit: %+v", act.Meta)
		}
	case <-time.After(time.Second):
		t.Fatal("activity never reached the bus")
	}

	if rec := post("wrong-secret", `{"topic": "http://ex/t", "type": "Update"}`); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 with a bad key, got %d", rec.Code)
	}
	if rec := post("", `{"topic": "http://ex/t", "type": "Update"}`); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without a key, got %d", rec.Code)
	}
	if rec := post("test-secret", `{"type": "Update"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a topic, got %d", rec.Code)
	}
	if rec := post("test-secret", `{"topic": "http://ex/t", "type": "Explode"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown activity type, got %d", rec.Code)
	}
	if rec := post("test-secret", `{]`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/.activity", nil)
	getRec := httptest.NewRecorder()
	serveActivity(getRec, req)
	if getRec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", getRec.Code)
	}
}
