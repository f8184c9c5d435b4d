// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package gateway

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tripmesh/chatrelay/internal/identity"
	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// readLimit allows for frame envelope overhead on top of the largest
	// accepted message body.
	readLimit = 8 * 1024

	sendQueueSize = 256
)

// clientIDCounter assigns unique IDs so broadcast order is stable.
var clientIDCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	id       uint64
	identity identity.Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan OutboundFrame
	limiter  *rate.Limiter
	closed   atomic.Bool
}

// NewClient wraps an upgraded connection. ratePerSec of 0 disables the
// per-connection send limiter.
func NewClient(hub *Hub, conn *websocket.Conn, ident identity.Identity, ratePerSec float64, burst int) *Client {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &Client{
		id:       clientIDCounter.Add(1),
		identity: ident,
		hub:      hub,
		conn:     conn,
		send:     make(chan OutboundFrame, sendQueueSize),
		limiter:  limiter,
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 { return c.id }

// Identity returns the authenticated identity bound at upgrade time.
func (c *Client) Identity() identity.Identity { return c.identity }

// trySend queues a frame without blocking. Returns false when the queue is
// full or the client is already closed.
func (c *Client) trySend(frame OutboundFrame) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once. Returns true on the first
// call.
func (c *Client) closeSend() bool {
	if c.closed.CompareAndSwap(false, true) {
		close(c.send)
		return true
	}
	return false
}

// readPump pumps frames from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			break
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.trySend(errorFrame(ErrorCodeBadFrame, "malformed frame"))
			continue
		}

		if frame.Type == FrameTypeSend && c.limiter != nil && !c.limiter.Allow() {
			metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
			c.trySend(errorFrame(ErrorCodeRateLimited, "sending too fast"))
			continue
		}

		c.hub.inbound <- inboundEnvelope{client: c, frame: frame}
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				logging.Error().Err(err).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start registers the client with the hub and begins its pumps.
func (c *Client) Start() {
	c.hub.Register <- c
	go c.writePump()
	go c.readPump()
}
