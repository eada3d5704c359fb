package ws

import (
	"context"
	"errors"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"log/slog"
	"supmap-location/internal/cache"
	"supmap-location/internal/location"
	"sync"
)

var ErrUnknownDevice = errors.New("device not connected")

// PositionPublisher forwards device readings to other consumers (the Redis positions channel).
type PositionPublisher interface {
	PublishPosition(ctx context.Context, deviceID string, pos location.Position) error
	PublishError(ctx context.Context, deviceID string, reason string) error
}

type Manager struct {
	clients       map[string]*Client
	register      chan *Client
	unregister    chan *Client
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger
	cache         cache.PositionCache
	publisher     PositionPublisher
	sessionConfig location.SessionConfig
}

// NewManager creates a device manager. publisher may be nil.
func NewManager(ctx context.Context, logger *slog.Logger, positionCache cache.PositionCache, publisher PositionPublisher, sessionConfig location.SessionConfig) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		clients:       make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		cache:         positionCache,
		publisher:     publisher,
		sessionConfig: sessionConfig,
	}
}

func (m *Manager) Start() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			previous, replaced := m.clients[client.ID]
			m.clients[client.ID] = client
			m.mu.Unlock()
			if replaced {
				go previous.Close()
			}
			m.logger.Info("client connected", "clientID", client.ID, "replaced", replaced)
		case client := <-m.unregister:
			m.mu.Lock()
			if current, ok := m.clients[client.ID]; ok && current == client {
				delete(m.clients, client.ID)
				m.logger.Info("client disconnected", "clientID", client.ID)
			}
			m.mu.Unlock()
		case <-m.ctx.Done():
			return
		}
	}
}

// HandleNewConnection registers a device connection, seeding its session with the
// cached last known position.
func (m *Manager) HandleNewConnection(deviceID string, conn *websocket.Conn) {
	var opts []location.Option
	pos, err := m.cache.GetLastPosition(m.ctx, deviceID)
	switch {
	case err == nil:
		opts = append(opts, location.WithLastPosition(pos))
	case !errors.Is(err, cache.ErrNotFound):
		m.logger.Warn("failed to load last position", "clientID", deviceID, "error", err)
	}

	client := NewClient(deviceID, conn, m, opts...)
	client.Start()
}

func (m *Manager) Client(deviceID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[deviceID]
	return c, ok
}

// Watch streams every raw update of a device's session to conn until either side goes away.
func (m *Manager) Watch(ctx context.Context, deviceID string, conn *websocket.Conn) error {
	client, ok := m.Client(deviceID)
	if !ok {
		return ErrUnknownDevice
	}
	sub := client.Session().Subscribe(0)
	defer sub.Close()

	ctx = conn.CloseRead(ctx)
	m.logger.Info("watcher attached", "clientID", deviceID, "watchers", client.Session().Observers())
	for {
		select {
		case pos, ok := <-sub.C:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "device disconnected")
				return nil
			}
			if err := wsjson.Write(ctx, conn, NewMessage(TypeUpdate, pos)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		case <-m.ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		}
	}
}

func (m *Manager) publishPosition(ctx context.Context, deviceID string, pos location.Position) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishPosition(ctx, deviceID, pos); err != nil {
		m.logger.Warn("failed to publish position", "clientID", deviceID, "error", err)
	}
}

func (m *Manager) publishError(ctx context.Context, deviceID string, reason string) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishError(ctx, deviceID, reason); err != nil {
		m.logger.Warn("failed to publish device error", "clientID", deviceID, "error", err)
	}
}

func (m *Manager) forceDisconnect(c *Client) {
	c.Close()
}

func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.Lock()
	for _, client := range m.clients {
		client.Close()
	}
	m.mu.Unlock()
}
