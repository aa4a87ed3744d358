// Package stream relays live script output to WebSocket subscribers, keyed
// by request ID. Subscribers that connect mid-run get the buffered output
// replayed first, so the page always shows the full transcript.
package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/sandbox"
)

const (
	// historyLimit bounds the replay buffer per request.
	historyLimit = 500
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Frame is one WebSocket message to a subscriber.
type Frame struct {
	Type   string               `json:"type"` // "output" or "done"
	Entry  *sandbox.OutputEntry `json:"entry,omitempty"`
	Status string               `json:"status,omitempty"`
}

type subscriber struct {
	frames chan Frame
}

// Broker fans out execution output frames per request.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	history     map[string][]Frame
	upgrader    websocket.Upgrader
}

// NewBroker creates a new stream broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[*subscriber]struct{}),
		history:     make(map[string][]Frame),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The portal is same-origin behind auth middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Publish buffers and fans out one output entry. Never blocks the execution
// path: slow subscribers lose frames rather than stalling the script.
func (b *Broker) Publish(requestID string, entry sandbox.OutputEntry) {
	frame := Frame{Type: "output", Entry: &entry}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history[requestID]) < historyLimit {
		b.history[requestID] = append(b.history[requestID], frame)
	}

	// Fanout stays under the lock: attach and detach mutate the subscriber
	// map, and the non-blocking sends cannot stall it.
	for sub := range b.subscribers[requestID] {
		select {
		case sub.frames <- frame:
		default:
			log.Warn().Str("request", requestID).Msg("Stream subscriber buffer full, dropping frame")
		}
	}
}

// Complete tells subscribers the run is over and drops the replay buffer.
func (b *Broker) Complete(requestID, status string) {
	frame := Frame{Type: "done", Status: status}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, requestID)

	for sub := range b.subscribers[requestID] {
		select {
		case sub.frames <- frame:
		default:
		}
	}
}

func (b *Broker) attach(requestID string, sub *subscriber) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[requestID] == nil {
		b.subscribers[requestID] = make(map[*subscriber]struct{})
	}
	b.subscribers[requestID][sub] = struct{}{}
	return append([]Frame(nil), b.history[requestID]...)
}

func (b *Broker) detach(requestID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.subscribers[requestID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, requestID)
		}
	}
}

// ServeRequest upgrades the connection and streams output for one request
// until the client disconnects.
func (b *Broker) ServeRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := &subscriber{frames: make(chan Frame, 64)}
	backlog := b.attach(requestID, sub)
	defer b.detach(requestID, sub)

	for _, frame := range backlog {
		if err := writeFrame(conn, frame); err != nil {
			return
		}
	}

	// Reader only consumes control frames; any client message or error ends
	// the subscription.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case frame := <-sub.frames:
			if err := writeFrame(conn, frame); err != nil {
				return
			}
			if frame.Type == "done" {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
		case <-pinger.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}
