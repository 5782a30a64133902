// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Client connects a Face to the relay websocket the way the phone companion
// does: it announces ready on every connect and applies the frames it receives.
type Client struct {
	url    string
	face   *Face
	dialer *websocket.Dialer
	hook   func(appmsg.Frame)
	logger zerolog.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithFrameHook observes every decoded frame after it has been applied.
func WithFrameHook(fn func(appmsg.Frame)) ClientOption {
	return func(c *Client) { c.hook = fn }
}

// NewClient returns a client for the relay websocket at url.
func NewClient(url string, face *Face, opts ...ClientOption) *Client {
	c := &Client{
		url:    url,
		face:   face,
		dialer: websocket.DefaultDialer,
		logger: xglog.WithComponent("watch-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run keeps a session open until ctx is done, reconnecting with backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("relay connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	ready, err := json.Marshal(appmsg.Frame{Type: appmsg.TypeReady})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, ready); err != nil {
		return fmt.Errorf("send ready: %w", err)
	}
	c.logger.Info().Str(xglog.FieldURL, c.url).Msg("connected to relay")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("relay closed the connection")
			}
			return fmt.Errorf("read frame: %w", err)
		}
		frame, err := appmsg.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("ignoring undecodable frame")
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame appmsg.Frame) {
	switch frame.Type {
	case appmsg.TypeAppMessage:
		c.face.Apply(frame)
	case appmsg.TypeOpenURL:
		c.logger.Info().Str(xglog.FieldURL, frame.URL).Msg("companion asked to open settings page")
	case appmsg.TypeError:
		c.logger.Warn().Str("code", frame.Error).Msg("relay rejected a frame")
	}
	if c.hook != nil {
		c.hook(frame)
	}
}
