package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/solaris-dev/pylon/internal/observability"
	"github.com/solaris-dev/pylon/internal/presence"
	"github.com/solaris-dev/pylon/internal/store"
)

const (
	outboundBuffer = 256
	writeTimeout   = 10 * time.Second
	readLimit      = 1 << 20
	readTimeout    = 120 * time.Second
)

// Hub hands each upgraded downstream socket to a Conn.
type Hub struct {
	store   *store.Store
	metrics *observability.Metrics
}

func New(st *store.Store, metrics *observability.Metrics) *Hub {
	return &Hub{store: st, metrics: metrics}
}

// ServeConn owns the socket until the client disconnects or ctx is
// cancelled. It closes the socket before returning.
func (h *Hub) ServeConn(ctx context.Context, sock *websocket.Conn) {
	c := newConn(h.store, h.metrics, sock)
	h.metrics.ConnectedClients.Inc()
	defer h.metrics.ConnectedClients.Dec()
	c.run(ctx)
}

// Conn is the per-socket state: the watched id set and the outbound queue.
type Conn struct {
	id      string
	sock    *websocket.Conn
	store   *store.Store
	metrics *observability.Metrics

	mu       sync.RWMutex
	watched  map[string]struct{}
	outbound chan serverEnvelope
}

func newConn(st *store.Store, metrics *observability.Metrics, sock *websocket.Conn) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		sock:     sock,
		store:    st,
		metrics:  metrics,
		watched:  make(map[string]struct{}),
		outbound: make(chan serverEnvelope, outboundBuffer),
	}
}

func (c *Conn) run(ctx context.Context) {
	defer c.sock.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.outbound:
				_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.sock.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				c.metrics.WSMessages.WithLabelValues("outbound", opLabel(msg.Op)).Inc()
			}
		}
	}()

	// Store notifications for watched ids are relayed through the outbound
	// queue. The callback must never block, so a full queue drops the
	// message instead.
	unsubscribe := c.store.Subscribe(func(userID string, rec presence.Record) {
		if !c.watching(userID) {
			return
		}
		c.enqueue(eventMessage(userID, rec))
	})

	c.enqueue(serverEnvelope{Op: OpEvent, D: helloPayload{
		Message:      "connected",
		ConnectionID: c.id,
	}})

	c.sock.SetReadLimit(readLimit)
	_ = c.sock.SetReadDeadline(time.Now().Add(readTimeout))
	c.sock.SetPongHandler(func(string) error {
		_ = c.sock.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := c.sock.ReadMessage()
		if err != nil {
			break
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := ParseClientMessage(data)
		if err != nil {
			c.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			c.enqueue(errorMessage(err))
			continue
		}

		switch msg := parsed.(type) {
		case TrackRequest:
			c.metrics.WSMessages.WithLabelValues("inbound", opLabel(msg.Op)).Inc()
			c.handleTrack(msg)
		case HeartbeatRequest:
			c.metrics.WSMessages.WithLabelValues("inbound", opLabel(OpHeartbeat)).Inc()
			c.enqueue(serverEnvelope{Op: OpHeartbeat, D: heartbeatAck{
				Status: "ok",
				TS:     time.Now().UnixMilli(),
			}})
		}
	}

	// Unsubscribe before tearing down so no notification races a closed
	// queue consumer.
	unsubscribe()
	cancel()
	<-writerDone
}

func (c *Conn) handleTrack(req TrackRequest) {
	for _, id := range req.UserIDs {
		if id == "" {
			continue
		}
		c.track(id)
		if req.Op != OpHydrate {
			continue
		}
		if rec, ok := c.store.Get(id); ok {
			c.enqueue(eventMessage(id, rec))
		}
	}
}

func (c *Conn) enqueue(msg serverEnvelope) {
	select {
	case c.outbound <- msg:
	default:
		// Writes stay single-threaded and never block the store; a
		// saturated client loses the message.
		log.Printf("hub: conn %s outbound queue full, dropping op %d", c.id, msg.Op)
	}
}

func (c *Conn) track(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watched[id] = struct{}{}
}

func (c *Conn) watching(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.watched[id]
	return ok
}

func opLabel(op Opcode) string {
	switch op {
	case OpEvent:
		return "event"
	case OpTrack:
		return "track"
	case OpHydrate:
		return "hydrate"
	case OpHeartbeat:
		return "heartbeat"
	case OpError:
		return "error"
	default:
		return "unknown"
	}
}
