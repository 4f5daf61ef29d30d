/******************************************************************************
 *
 *  Description :
 *
 *    Handler of long-lived streaming HTTP delivery connections. The client
 *    holds a GET request open; each notification is written to the response
 *    as one indivisible chunk followed by a newline.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"sync"

	"github.com/podgrid/notifier/server/logs"
	"github.com/podgrid/notifier/server/store"
)

// streamConn is one open streaming delivery connection.
type streamConn struct {
	lock sync.Mutex
	wrt  http.ResponseWriter
	fl   http.Flusher
	// Topic this connection serves.
	topic string
	// Closed when the connection must be dropped.
	done chan struct{}
	// Guards against double close of done.
	closed bool
}

// queue writes a serialized notification as a single chunk. Writing directly
// from the emitter's goroutine is safe: the lock serializes concurrent
// deliveries so chunks never interleave.
func (st *streamConn) queue(data []byte) bool {
	st.lock.Lock()
	defer st.lock.Unlock()

	select {
	case <-st.done:
		return false
	default:
	}

	if _, err := st.wrt.Write(append(data, '\n')); err != nil {
		logs.Err.Println("stream: write failed for", st.topic, err)
		st.close()
		return false
	}
	st.fl.Flush()
	statsInc("OutgoingNotificationsStreamTotal", 1)
	return true
}

// terminate closes the connection.
func (st *streamConn) terminate() {
	st.lock.Lock()
	defer st.lock.Unlock()
	st.close()
}

// close must be called with the lock held.
func (st *streamConn) close() {
	if !st.closed {
		st.closed = true
		close(st.done)
	}
}

// serveStream registers a long-lived streaming response for the topic in the
// request query. The connection is held open until the client goes away, the
// sweep drops it, or the server shuts down.
func serveStream(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(wrt, http.StatusMethodNotAllowed, "invalid HTTP method "+req.Method)
		return
	}

	topic := req.URL.Query().Get("topic")
	if topic == "" {
		writeError(wrt, http.StatusBadRequest, "missing topic")
		return
	}

	// A stream is only served while at least one streaming channel watches
	// the topic. Without one the caller would never get a push anyway.
	if !topicStreamAlive(topic) {
		writeError(wrt, http.StatusNotFound, "no streaming channel for topic")
		logs.Info.Println("stream: rejected connection, no channel for topic", topic)
		return
	}

	fl, ok := wrt.(http.Flusher)
	if !ok {
		writeError(wrt, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	contentType := mediaTypeJSONLD
	if accept := streamAccept(topic); accept != "" {
		contentType = accept
	}
	wrt.Header().Set("Content-Type", contentType)
	wrt.Header().Set("Cache-Control", "no-store")
	wrt.WriteHeader(http.StatusOK)
	fl.Flush()

	st := &streamConn{
		wrt:   wrt,
		fl:    fl,
		topic: topic,
		done:  make(chan struct{}),
	}
	globals.streamReg.add(topic, st)
	statsInc("LiveStreams", 1)
	defer func() {
		globals.streamReg.remove(topic, st)
		statsInc("LiveStreams", -1)
	}()

	logs.Info.Println("stream: connection opened for topic", topic)

	select {
	case <-st.done:
	case <-req.Context().Done():
		st.terminate()
	}
}

// streamAccept returns the accept preference of the first live streaming
// channel for the topic, if any declares one.
func streamAccept(topic string) string {
	ids, err := store.Channels.GetAll(topic)
	if err != nil {
		return ""
	}
	for _, id := range ids {
		ch, err := store.Channels.Get(id)
		if err != nil || ch == nil {
			continue
		}
		if ch.Type == chanStreaming && ch.Accept != "" {
			return ch.Accept
		}
	}
	return ""
}
