/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket delivery connections. See hdl_stream.go for the
 *    streaming HTTP transport.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/podgrid/notifier/server/logs"
	"github.com/podgrid/notifier/server/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 55 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum number of queued notifications per connection.
	sendQueueLimit = 128
)

// sockConn is one open websocket delivery connection.
type sockConn struct {
	ws *websocket.Conn
	// Id of the channel this connection serves.
	chanID string
	// Outbound serialized notifications.
	send chan []byte
	// Shutdown request; the payload, if any, is written before closing.
	stop chan []byte
}

// queue hands a serialized notification to the connection.
func (sc *sockConn) queue(data []byte) bool {
	select {
	case sc.send <- data:
		return true
	default:
		logs.Warn.Println("ws: outbound queue limit exceeded", sc.chanID)
		return false
	}
}

// terminate closes the connection with a normal close frame.
func (sc *sockConn) terminate() {
	select {
	case sc.stop <- websocket.FormatCloseMessage(websocket.CloseNormalClosure, "channel closed"):
	default:
	}
}

func (sc *sockConn) readLoop() {
	defer func() {
		sc.ws.Close()
		globals.sockReg.remove(sc.chanID, sc)
	}()

	sc.ws.SetReadLimit(globals.maxMessageSize)
	sc.ws.SetReadDeadline(time.Now().Add(pongWait))
	sc.ws.SetPongHandler(func(string) error {
		sc.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Subscribers don't talk back; reads only detect pongs and closes.
		if _, _, err := sc.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Err.Println("ws: readLoop", sc.chanID, err)
			}
			return
		}
	}
}

func (sc *sockConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		sc.ws.Close()
	}()

	for {
		select {
		case data, ok := <-sc.send:
			if !ok {
				return
			}
			statsInc("OutgoingNotificationsWebsockTotal", 1)
			if err := wsWrite(sc.ws, websocket.TextMessage, data); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop", sc.chanID, err)
				}
				return
			}

		case msg := <-sc.stop:
			// Shutdown requested, don't care if the message is delivered.
			if msg != nil {
				wsWrite(sc.ws, websocket.CloseMessage, msg)
			}
			return

		case <-ticker.C:
			if err := wsWrite(sc.ws, websocket.PingMessage, nil); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop ping", sc.chanID, err)
				}
				return
			}
		}
	}
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, data)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: false,
	// Allow connections from any Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWebSocket upgrades an inbound connection whose path encodes a channel
// id, validates the id against the channel store and registers the live
// connection for delivery.
func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(wrt, http.StatusMethodNotAllowed, "invalid HTTP method "+req.Method)
		logs.Err.Println("ws: invalid HTTP method", req.Method)
		return
	}

	chanID := globals.servingURL + req.URL.Path
	ch, err := store.Channels.Get(chanID)
	if err != nil {
		logs.Err.Println("ws: store failure", err)
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Err.Println("ws: not a websocket handshake")
		return
	} else if err != nil {
		logs.Err.Println("ws: failed to upgrade", err)
		return
	}

	if ch == nil {
		// No such channel, or it has expired: reject with a terminal close.
		wsWrite(ws, websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "no such channel"))
		ws.Close()
		logs.Info.Println("ws: rejected connection to unknown channel", chanID)
		return
	}

	sc := &sockConn{
		ws:     ws,
		chanID: ch.ID,
		send:   make(chan []byte, sendQueueLimit),
		stop:   make(chan []byte, 1),
	}
	globals.sockReg.add(ch.ID, sc)
	statsInc("LiveWebsockets", 1)

	logs.Info.Println("ws: connection opened for channel", ch.ID)

	// Do work in goroutines to return from serveWebSocket() and release the
	// request's resources.
	go func() {
		sc.writeLoop()
		statsInc("LiveWebsockets", -1)
	}()
	go sc.readLoop()
}
