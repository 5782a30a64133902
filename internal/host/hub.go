// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	"github.com/ManuGH/watchrelay/internal/bus"
	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/metrics"
	"github.com/ManuGH/watchrelay/internal/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 16

	defaultEventRate  = rate.Limit(5)
	defaultEventBurst = 10
)

// Error codes sent back to the companion in error frames.
const (
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInvalidFrame   = "invalid_frame"
	ErrCodeUnknownEvent   = "unknown_event"
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeUnavailable    = "unavailable"
)

// EventDispatcher delivers one event and reports the handler result.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithEventRate sets the per-connection inbound event limit.
func WithEventRate(limit rate.Limit, burst int) HubOption {
	return func(h *Hub) {
		h.limit = limit
		h.burst = burst
	}
}

// WithCheckOrigin replaces the upgrader origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// Hub serves the companion websocket. Every connection receives the frames
// published on the device and host topics and may send lifecycle events.
type Hub struct {
	bus        bus.Bus
	dispatcher EventDispatcher
	upgrader   websocket.Upgrader
	limit      rate.Limit
	burst      int
	logger     zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*client
	closed bool
	wg     sync.WaitGroup
}

// NewHub returns a hub forwarding bus frames and dispatching inbound events.
func NewHub(b bus.Bus, d EventDispatcher, opts ...HubOption) *Hub {
	h := &Hub{
		bus:        b,
		dispatcher: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		limit:  defaultEventRate,
		burst:  defaultEventBurst,
		logger: xglog.WithComponent("hub"),
		conns:  make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type client struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger := xglog.WithContext(r.Context(), h.logger)
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "hub.upgrade_failed").
			Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	ctx := xglog.ContextWithConnectionID(context.Background(), id)
	if reqID := xglog.RequestIDFromContext(r.Context()); reqID != "" {
		ctx = xglog.ContextWithRequestID(ctx, reqID)
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &client{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(h.limit, h.burst),
		logger:  xglog.WithContext(ctx, h.logger),
	}

	if !h.register(c) {
		cancel()
		_ = ws.Close()
		return
	}
	defer h.unregister(c)

	h.serve(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	metrics.WSConnections.Inc()
	c.logger.Info().Str(xglog.FieldEvent, "hub.connected").Int("connections", len(h.conns)).Msg("companion connected")
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.conns, c.id)
	n := len(h.conns)
	h.mu.Unlock()
	metrics.WSConnections.Dec()
	c.logger.Info().Str(xglog.FieldEvent, "hub.disconnected").Int("connections", n).Msg("companion disconnected")
	h.wg.Done()
}

// serve runs the connection until the peer goes away or the hub closes.
func (h *Hub) serve(c *client) {
	var workers sync.WaitGroup
	defer func() {
		c.cancel()
		workers.Wait()
		_ = c.ws.Close()
	}()

	topics := []string{bus.TopicAppMessage, bus.TopicOpenURL, bus.ConnTopic(bus.TopicOpenURL, c.id)}
	for _, topic := range topics {
		sub, err := h.bus.Subscribe(c.ctx, topic)
		if err != nil {
			c.logger.Error().Err(err).Str(xglog.FieldTopic, topic).Msg("bus subscribe failed")
			return
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			h.forward(c, sub)
		}()
	}

	workers.Add(1)
	go func() {
		defer workers.Done()
		h.writeLoop(c)
	}()

	h.readLoop(c)
}

func (h *Hub) forward(c *client, sub bus.Subscriber) {
	defer func() { _ = sub.Close() }()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			select {
			case c.send <- msg:
			default:
				metrics.WSFramesTotal.WithLabelValues("out", "dropped").Inc()
				c.logger.Warn().Msg("companion send buffer full, dropping frame")
			}
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				metrics.WSFramesTotal.WithLabelValues("out", metrics.OutcomeError).Inc()
				c.cancel()
				return
			}
			metrics.WSFramesTotal.WithLabelValues("out", metrics.OutcomeOK).Inc()
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("companion read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			metrics.WSFramesTotal.WithLabelValues("in", "rate_limited").Inc()
			h.reply(c, ErrCodeRateLimited)
			continue
		}
		h.handleFrame(c, data)
	}
}

func (h *Hub) handleFrame(c *client, data []byte) {
	frame, err := appmsg.Decode(data)
	if err != nil {
		metrics.WSFramesTotal.WithLabelValues("in", metrics.OutcomeInvalid).Inc()
		h.reply(c, ErrCodeInvalidFrame)
		return
	}

	ev := Event{Name: frame.Type}
	if frame.Response != nil {
		ev.Payload = *frame.Response
	}

	err = h.dispatcher.Dispatch(c.ctx, ev)
	switch {
	case err == nil:
		metrics.WSFramesTotal.WithLabelValues("in", metrics.OutcomeOK).Inc()
	case errors.Is(err, ErrUnknownEvent):
		metrics.WSFramesTotal.WithLabelValues("in", metrics.OutcomeInvalid).Inc()
		h.reply(c, ErrCodeUnknownEvent)
	case errors.Is(err, relay.ErrInvalidPayload):
		metrics.WSFramesTotal.WithLabelValues("in", metrics.OutcomeInvalid).Inc()
		c.logger.Warn().Err(err).Str(xglog.FieldHostEvent, ev.Name).Msg("ignoring malformed webview response")
		h.reply(c, ErrCodeInvalidPayload)
	case errors.Is(err, context.Canceled):
	default:
		metrics.WSFramesTotal.WithLabelValues("in", metrics.OutcomeError).Inc()
		c.logger.Error().Err(err).Str(xglog.FieldHostEvent, ev.Name).Msg("event dispatch failed")
		h.reply(c, ErrCodeUnavailable)
	}
}

func (h *Hub) reply(c *client, code string) {
	data, err := json.Marshal(appmsg.Frame{Type: appmsg.TypeError, Error: code})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close disconnects every companion and waits for their goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.wg.Wait()
		return nil
	}
	h.closed = true
	for _, c := range h.conns {
		c.cancel()
		// Unblocks ReadMessage.
		_ = c.ws.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}
