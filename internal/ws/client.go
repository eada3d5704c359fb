package ws

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"supmap-location/internal/location"
	"sync"
	"time"
)

const (
	// sendChannelSize controls the max number
	// of messages that can be queued for a client.
	sendChannelSize = 16
	pingPeriod      = (60 * 9 * time.Second) / 10
)

var errClientClosed = errors.New("client connection closed")

// Client is a connected device. It is the location.Provider of its own session:
// positions and errors it sends are routed to the session while a run is active.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Manager *Manager
	send    chan Message
	ctx     context.Context
	cancel  context.CancelFunc
	session *location.Session

	mu       sync.Mutex
	onUpdate func(location.Position)
	onError  func(error)
}

func NewClient(id string, conn *websocket.Conn, manager *Manager, opts ...location.Option) *Client {
	ctx, cancel := context.WithCancel(manager.ctx)
	c := &Client{
		ID:      id,
		Conn:    conn,
		Manager: manager,
		send:    make(chan Message, sendChannelSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	opts = append([]location.Option{
		location.WithLogger(manager.logger.With("clientID", id)),
		location.WithConfig(manager.sessionConfig),
	}, opts...)
	c.session = location.NewSession(providerAdapter{c}, opts...)
	return c
}

func (c *Client) Session() *location.Session {
	return c.session
}

func (c *Client) Start() {
	select {
	case c.Manager.register <- c:
	case <-c.Manager.ctx.Done():
	}
	go c.readPump()
	go c.writePump()
}

// Close stops the pumps and the session before the close handshake, which may
// take several seconds with an unresponsive peer.
func (c *Client) Close() {
	c.cancel()
	c.session.Close()
	if err := c.Conn.Close(websocket.StatusNormalClosure, "bye :P"); err != nil {
		c.Manager.logger.Debug("failed to close connection", "clientID", c.ID, "error", err)
	}
}

func (c *Client) Send(msg Message) {
	if c.ctx.Err() != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		go c.Manager.forceDisconnect(c)
	}
}

// StartProvider asks the device to start streaming positions.
func (c *Client) StartProvider(onUpdate func(location.Position), onError func(error)) error {
	if c.ctx.Err() != nil {
		return errClientClosed
	}
	c.mu.Lock()
	c.onUpdate = onUpdate
	c.onError = onError
	c.mu.Unlock()
	c.Send(NewMessage(TypeStart, nil))
	return nil
}

func (c *Client) StopProvider() {
	c.mu.Lock()
	running := c.onUpdate != nil
	c.onUpdate = nil
	c.onError = nil
	c.mu.Unlock()
	if running {
		c.Send(NewMessage(TypeStop, nil))
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.Manager.unregister <- c:
		case <-c.Manager.ctx.Done():
		}
		c.Close()
	}()

	for {
		var msg Message
		if err := wsjson.Read(c.ctx, c.Conn, &msg); err != nil {
			c.Manager.logger.Debug("failed to read message", "clientID", c.ID, "error", err)
			break
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if err := wsjson.Write(c.ctx, c.Conn, msg); err != nil {
				c.Manager.logger.Warn("failed to write message", "clientID", c.ID, "error", err)
				return
			}
			c.Manager.logger.Debug("message sent", "clientID", c.ID, "type", msg.Type)
		case <-ticker.C:
			if err := c.Conn.Ping(c.ctx); err != nil {
				c.Manager.logger.Debug("failed to ping client", "clientID", c.ID, "error", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case TypePosition:
		var pos location.Position
		if err := json.Unmarshal(msg.Data, &pos); err != nil {
			c.Manager.logger.Warn("failed to unmarshal position", "clientID", c.ID, "error", err)
			return
		}
		c.Manager.publishPosition(c.ctx, c.ID, pos)

		c.mu.Lock()
		onUpdate := c.onUpdate
		c.mu.Unlock()
		if onUpdate != nil {
			onUpdate(pos)
		}
	case TypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Message == "" {
			c.Manager.logger.Warn("failed to unmarshal device error", "clientID", c.ID, "error", err)
			return
		}
		c.Manager.publishError(c.ctx, c.ID, payload.Message)

		c.mu.Lock()
		onError := c.onError
		c.mu.Unlock()
		if onError != nil {
			onError(errors.New(payload.Message))
		}
	case TypeLocate:
		var req LocateRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				c.sendError(err)
				return
			}
		}
		c.locate(req)
	case TypeCancel:
		c.session.Cancel()
		c.Send(NewMessage(TypeCancelled, map[string]string{"session_id": c.session.ID()}))
	default:
		c.Manager.logger.Debug("received unknown type message", "clientID", c.ID, "type", msg.Type)
	}
}

func (c *Client) locate(req LocateRequest) {
	if c.ctx.Err() != nil {
		return
	}
	if err := c.session.SetConfig(req.Apply(c.Manager.sessionConfig)); err != nil {
		c.sendError(err)
		return
	}
	if err := c.session.WaitForValidLocation(c.complete); err != nil {
		c.sendError(err)
	}
}

func (c *Client) complete(pos location.Position, err error) {
	if err != nil {
		c.sendError(err)
		return
	}
	if err := c.Manager.cache.SetLastPosition(c.ctx, c.ID, pos); err != nil {
		c.Manager.logger.Warn("failed to cache last position", "clientID", c.ID, "error", err)
	}
	c.Send(NewMessage(TypeLocation, LocationPayload{Position: pos, SessionID: c.session.ID()}))
}

func (c *Client) sendError(err error) {
	c.Send(NewMessage(TypeError, ErrorPayload{Message: err.Error(), SessionID: c.session.ID()}))
}

// providerAdapter exposes the client through the location.Provider method names.
type providerAdapter struct{ *Client }

func (p providerAdapter) Start(onUpdate func(location.Position), onError func(error)) error {
	return p.StartProvider(onUpdate, onError)
}

func (p providerAdapter) Stop() { p.StopProvider() }
