/******************************************************************************
 *
 *  Description :
 *
 *    Definition of messages on the wire: subscription bodies, subscription
 *    confirmations, notification documents, error responses.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"

	"github.com/podgrid/notifier/server/logs"
)

const (
	// JSON-LD contexts stamped on outgoing documents.
	contextNotification    = "https://www.w3.org/ns/solid/notification/v1"
	contextActivityStreams = "https://www.w3.org/ns/activitystreams"

	// Media type of serialized notifications and subscription documents.
	mediaTypeJSONLD = "application/ld+json"
)

// Activity vocabulary terms.
const (
	ActUpdate = "Update"
	ActAdd    = "Add"
	ActRemove = "Remove"
	ActDelete = "Delete"
)

// Activity describes one change of a watched resource, as emitted by the
// resource store on the activity bus.
type Activity struct {
	// Identifier of the changed resource.
	Topic string `json:"topic"`
	// Vocabulary term of the change: Update, Add, Remove, Delete. Empty means
	// "current state", resolved by the generator against the resource store.
	Kind string `json:"type"`
	// Out-of-band metadata. For Add/Remove activities the "object" key holds
	// the member resource which was added or removed.
	Meta map[string][]string `json:"metadata,omitempty"`
}

// Notification is the ephemeral document describing one occurrence of an
// activity. Generated per delivery, never persisted.
type Notification struct {
	Context []string `json:"@context"`
	// Freshly generated per emission, not reused from the channel id.
	ID   string `json:"id"`
	Type string `json:"type"`
	// The changed resource, or for Add/Remove the member which was added or
	// removed.
	Object string `json:"object"`
	// For Add/Remove: the container topic.
	Target string `json:"target,omitempty"`
	// Entity tag of the resource's current representation.
	State string `json:"state,omitempty"`
	// Generation timestamp, ISO 8601.
	Published string `json:"published"`
}

// subscriptionDoc is the raw client-supplied subscription body before
// validation. Fields which must occur at most once are pointers so a missing
// value is distinguishable from an empty one; `topic` is `any` so that both a
// single string and a (rejected) array parse.
type subscriptionDoc struct {
	Context any     `json:"@context"`
	Type    string  `json:"type"`
	Topic   any     `json:"topic"`
	State   *string `json:"state"`
	StartAt *string `json:"startAt"`
	EndAt   *string `json:"endAt"`
	Rate    *string `json:"rate"`
	Accept  *string `json:"accept"`

	// Transport-specific properties. Each kind checks its own.
	SendTo      *string `json:"sendTo"`
	ReceiveFrom *string `json:"receiveFrom"`
	// Legacy 2021 vocabulary.
	Target *string `json:"target"`
	Source *string `json:"source"`
}

// errorDoc is the body of a 4xx/5xx response.
type errorDoc struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// writeError sends an error document to the subscriber.
func writeError(wrt http.ResponseWriter, code int, text string) {
	wrt.Header().Set("Content-Type", "application/json")
	wrt.WriteHeader(code)
	if err := json.NewEncoder(wrt).Encode(&errorDoc{Status: code, Error: text}); err != nil {
		logs.Err.Println("http: failed to write error response:", err)
	}
}
