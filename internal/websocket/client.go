package websocket

import (
	"log"
	"sync"
	"time"

	"support-desk-backend/internal/broadcast"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 16
	readLimit      = 512 * 1024
	pingInterval   = 30 * time.Second
)

// Client wraps one live connection together with its bound principal.
type Client struct {
	conn      *websocket.Conn
	principal Principal
	send      chan interface{}
	done      chan struct{}

	mu       sync.Mutex
	subs     map[string]struct{}
	isClosed bool
	unbound  bool
}

func newClient(conn *websocket.Conn, principal Principal) *Client {
	return &Client{
		conn:      conn,
		principal: principal,
		send:      make(chan interface{}, sendBufferSize),
		done:      make(chan struct{}),
		subs:      make(map[string]struct{}),
	}
}

func (cl *Client) Principal() Principal {
	return cl.principal
}

func (cl *Client) trackSubscription(conversationID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.subs[conversationID] = struct{}{}
}

func (cl *Client) subscriptions() []string {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]string, 0, len(cl.subs))
	for id := range cl.subs {
		out = append(out, id)
	}
	return out
}

func (cl *Client) markUnbound() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.unbound {
		return false
	}
	cl.unbound = true
	return true
}

// trySend queues an event without blocking; a full buffer means the client
// is not keeping up and delivery is skipped.
func (cl *Client) trySend(event broadcast.Event) bool {
	cl.mu.Lock()
	closed := cl.isClosed
	cl.mu.Unlock()
	if closed {
		return false
	}

	select {
	case cl.send <- event:
		return true
	default:
		return false
	}
}

func (cl *Client) sendFrame(frame interface{}) {
	cl.mu.Lock()
	closed := cl.isClosed
	cl.mu.Unlock()
	if closed {
		return
	}

	select {
	case cl.send <- frame:
	default:
	}
}

func (cl *Client) Close() {
	cl.mu.Lock()
	if cl.isClosed {
		cl.mu.Unlock()
		return
	}
	cl.isClosed = true
	cl.mu.Unlock()

	close(cl.done)
	cl.conn.Close()
}

func (cl *Client) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("websocket: ping %s: %v", cl.principal.Identifier, err)
				return
			}
		}
	}
}

func (cl *Client) writePump() {
	defer cl.Close()

	for {
		select {
		case <-cl.done:
			return
		case frame := <-cl.send:
			if err := cl.conn.WriteJSON(frame); err != nil {
				log.Printf("websocket: write to %s: %v", cl.principal.Identifier, err)
				return
			}
		}
	}
}

func (cl *Client) readPump(handler *Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("websocket: recovered in readPump: %v", r)
		}
		cl.Close()
		handler.hub.Unbind(cl)
		log.Printf("websocket: %s disconnected", cl.principal.Identifier)
	}()

	cl.conn.SetReadLimit(readLimit)

	for {
		_, payload, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				break
			}
			log.Printf("websocket: read from %s: %v", cl.principal.Identifier, err)
			break
		}

		handler.handleCommand(cl, payload)
	}
}
