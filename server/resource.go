/******************************************************************************
 *
 *  Description :
 *
 *    Default collaborators: a resource store which reads existence and
 *    entity tags over HTTP, and an access checker. Larger deployments embed
 *    the notifier next to their storage tier and replace both.
 *
 *****************************************************************************/

package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/podgrid/notifier/server/store/types"
)

const resourceCallTimeout = 5 * time.Second

// httpResourceStore resolves topics as plain HTTP resources: a HEAD request
// answers both existence and the current entity tag.
type httpResourceStore struct {
	client *http.Client
}

func newHTTPResourceStore() *httpResourceStore {
	return &httpResourceStore{client: &http.Client{Timeout: resourceCallTimeout}}
}

// GetRepresentation returns metadata of the resource's current representation.
func (rs *httpResourceStore) GetRepresentation(topic string) (*ResourceMeta, error) {
	resp, err := rs.head(topic)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.New("resource " + topic + " not readable: " + resp.Status)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		// Fall back to the last modification time so state dedup still works.
		etag = resp.Header.Get("Last-Modified")
	}
	return &ResourceMeta{ETag: etag}, nil
}

// HasResource checks whether the resource currently exists.
func (rs *httpResourceStore) HasResource(topic string) (bool, error) {
	resp, err := rs.head(topic)
	if err != nil {
		return false, err
	}
	return resp.StatusCode < http.StatusBadRequest, nil
}

func (rs *httpResourceStore) head(topic string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodHead, topic, nil)
	if err != nil {
		return nil, errors.New("invalid topic " + topic + ": " + err.Error())
	}
	resp, err := rs.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}

// AccessChecker decides whether a subscriber may receive a channel's events.
// The notification subsystem does not implement authorization itself; it only
// reports the modes each channel kind requires.
type AccessChecker interface {
	Allowed(creds string, modes map[string]types.AccessMode) bool
}

// allowAllChecker grants every subscription. The default for standalone
// deployments which gate access in front of the notifier.
type allowAllChecker struct{}

func (allowAllChecker) Allowed(creds string, modes map[string]types.AccessMode) bool {
	return true
}
