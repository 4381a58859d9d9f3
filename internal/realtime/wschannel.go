// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/stagesense/internal/logging"
	"github.com/tomtom215/stagesense/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB, stat deltas are tiny
)

// Message types on the realtime wire protocol.
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeStatsUpdate = "stats_update"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
)

// wireMessage is one frame on the realtime socket. Per-show subscriptions
// are multiplexed over a single connection, keyed by show_id.
type wireMessage struct {
	Type   string          `json:"type"`
	ShowID string          `json:"show_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// WSChannel is a Channel backed by a single websocket connection to the
// realtime stats service. Subscribe/unsubscribe frames are sent upstream;
// stats_update frames are routed to the registered handler for their show.
type WSChannel struct {
	conn *websocket.Conn

	writeMu  sync.Mutex // gorilla permits one concurrent writer
	handlers struct {
		sync.RWMutex
		byShow map[string]UpdateFunc
	}

	closed chan struct{}
}

// DialWS connects to the realtime service at url (ws:// or wss://) and
// starts the read pump.
func DialWS(ctx context.Context, url string) (*WSChannel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime channel %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &WSChannel{
		conn:   conn,
		closed: make(chan struct{}),
	}
	c.handlers.byShow = make(map[string]UpdateFunc)

	go c.readPump()
	go c.pingLoop()

	logging.Info().Str("url", url).Msg("realtime channel connected")
	return c, nil
}

// Subscribe registers an update handler for a show and tells the service
// to start streaming its stat deltas.
func (c *WSChannel) Subscribe(showID string, onUpdate UpdateFunc) (Unsubscribe, error) {
	select {
	case <-c.closed:
		return nil, fmt.Errorf("realtime channel closed")
	default:
	}

	c.handlers.Lock()
	c.handlers.byShow[showID] = onUpdate
	c.handlers.Unlock()

	if err := c.write(wireMessage{Type: MessageTypeSubscribe, ShowID: showID}); err != nil {
		c.handlers.Lock()
		delete(c.handlers.byShow, showID)
		c.handlers.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", showID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlers.Lock()
			delete(c.handlers.byShow, showID)
			c.handlers.Unlock()
			// Best effort: the service stops streaming either way when the
			// socket closes.
			if err := c.write(wireMessage{Type: MessageTypeUnsubscribe, ShowID: showID}); err != nil {
				logging.Debug().Err(err).Str("show_id", showID).Msg("unsubscribe frame not sent")
			}
		})
	}, nil
}

// Done is closed when the connection is gone, whether by Close or by a
// read failure.
func (c *WSChannel) Done() <-chan struct{} {
	return c.closed
}

// Close tears down the connection.
func (c *WSChannel) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	return c.conn.Close()
}

// write sends one frame, serializing writers.
func (c *WSChannel) write(msg wireMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump routes incoming frames until the connection dies.
func (c *WSChannel) readPump() {
	defer func() {
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Msg("realtime channel read failed")
			}
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn().Err(err).Msg("malformed realtime frame dropped")
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch routes one frame to its show handler.
func (c *WSChannel) dispatch(msg wireMessage) {
	switch msg.Type {
	case MessageTypeStatsUpdate:
		c.handlers.RLock()
		handler := c.handlers.byShow[msg.ShowID]
		c.handlers.RUnlock()
		if handler == nil {
			return
		}

		var delta models.LiveStatsDelta
		if err := json.Unmarshal(msg.Data, &delta); err != nil {
			logging.Warn().Err(err).Str("show_id", msg.ShowID).Msg("malformed stats delta dropped")
			return
		}
		if delta.ShowID == "" {
			delta.ShowID = msg.ShowID
		}
		handler(delta)

	case MessageTypePing:
		if err := c.write(wireMessage{Type: MessageTypePong}); err != nil {
			logging.Debug().Err(err).Msg("pong not sent")
		}

	default:
		// Unknown frame types are ignored for forward compatibility.
	}
}

// pingLoop keeps the connection alive.
func (c *WSChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
