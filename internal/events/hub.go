// Package events fans relay and rule events out to websocket subscribers.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okieraised/relay-controller/internal/common"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"go.uber.org/zap"
)

const broadcastBuffer = 256

// Hub owns the client set. Only Run touches it; everything else goes
// through channels.
type Hub struct {
	systemName   string
	controllerID string
	logger       *log.Logger

	seq       atomic.Int64
	dropped   atomic.Int64
	clients   map[*Client]struct{}
	count     atomic.Int32
	broadcast chan common.EventMessage
	regCh     chan *Client
	unregCh   chan *Client
	done      chan struct{}
	stopOnce  sync.Once
}

func NewHub(systemName, controllerID string) *Hub {
	return &Hub{
		systemName:   systemName,
		controllerID: controllerID,
		logger:       log.Component("events"),
		clients:      make(map[*Client]struct{}),
		broadcast:    make(chan common.EventMessage, broadcastBuffer),
		regCh:        make(chan *Client),
		unregCh:      make(chan *Client),
		done:         make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Started event hub")
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			h.logger.Info("Stopped event hub")
			return
		case c := <-h.regCh:
			h.clients[c] = struct{}{}
			h.count.Store(int32(len(h.clients)))
			h.logger.Debug("Websocket client connected",
				zap.String("client_id", c.ID.String()), zap.Int("clients", len(h.clients)))
		case c := <-h.unregCh:
			h.remove(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("Websocket client too slow, disconnecting", zap.String("client_id", c.ID.String()))
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int32(len(h.clients)))
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.regCh <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregCh <- c:
	case <-h.done:
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Dropped returns how many events were discarded because the hub lagged.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Publish queues an event without blocking the caller.
func (h *Hub) Publish(eventType constants.EventType, payload any) {
	msg := common.EventMessage{
		Header: common.Header{
			HeaderID:     h.seq.Add(1),
			Version:      constants.EventMessageVersion,
			SystemName:   h.systemName,
			ControllerID: h.controllerID,
			Timestamp:    time.Now().UTC(),
			EventType:    eventType,
		},
		Payload: payload,
	}
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}
