package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crewlink/internal/identity"
	"crewlink/internal/infrastructure/config"
	"crewlink/internal/infrastructure/logging"
	"crewlink/internal/presence"
	"crewlink/internal/registration"
	"crewlink/internal/version"
)

// shutdownTimeout bounds the websocket listener's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// handlerFunc processes one inbound server-addressed event.
type handlerFunc func(ctx context.Context, c *Client, ev Event)

// Backuper runs a backup of the data directory.
type Backuper interface {
	Run(ctx context.Context) error
}

// BackupFunc adapts a function to the Backuper interface.
type BackupFunc func(ctx context.Context) error

// Run calls the wrapped function.
func (f BackupFunc) Run(ctx context.Context) error { return f(ctx) }

// Mirror republishes hub activity to an external broker.
// Optional; a nil mirror disables republishing.
type Mirror interface {
	PublishUpdate(collection string) error
	PublishPresence(count int) error
}

// Stats records hub activity metrics.
// Optional; a nil recorder disables metrics.
type Stats interface {
	RecordFrame(eventType string)
	RecordPresence(count int)
}

// upgrader configures the websocket upgrader. Clients authenticate
// in-band after the upgrade, so any origin may open a socket.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub routes websocket frames between connected clients and handles
// the frames addressed to the server itself: handshakes, registration
// approvals, logins, pings and backup triggers.
type Hub struct {
	identities *identity.Store
	broker     *registration.Broker
	presence   *presence.Tracker
	ledger     *version.Ledger
	logger     *logging.Logger
	cfg        config.SocketConfig
	security   config.SecurityConfig

	handlers map[string]handlerFunc // server-addressed, by event type

	mu      sync.RWMutex
	clients map[*Client]struct{}

	backup Backuper
	mirror Mirror
	stats  Stats

	baseCtx context.Context
	server  *http.Server
}

// New creates a hub wired to the given subsystems.
func New(
	cfg config.SocketConfig,
	security config.SecurityConfig,
	identities *identity.Store,
	broker *registration.Broker,
	tracker *presence.Tracker,
	ledger *version.Ledger,
	logger *logging.Logger,
) *Hub {
	h := &Hub{
		identities: identities,
		broker:     broker,
		presence:   tracker,
		ledger:     ledger,
		logger:     logger,
		cfg:        cfg,
		security:   security,
		clients:    make(map[*Client]struct{}),
		baseCtx:    context.Background(),
	}

	h.handlers = map[string]handlerFunc{
		TypeHandshake: h.handleHandshake,
		TypeAuth:      h.handleAuth,
		TypeLogin:     h.handleLogin,
		TypeBackup:    h.handleBackup,
		TypePing:      h.handlePing,
	}

	// Every presence transition is pushed to clients as a devices
	// update so connected-roster views stay current.
	tracker.Subscribe(func(_ string, _ bool) {
		h.NotifyUpdate("devices")
		count := tracker.ConnectedCount()
		if h.mirror != nil {
			if err := h.mirror.PublishPresence(count); err != nil {
				h.logger.Warn("publishing presence to mirror", "error", err)
			}
		}
		if h.stats != nil {
			h.stats.RecordPresence(count)
		}
	})

	return h
}

// SetBackup installs the backup runner invoked by BACKUP frames.
func (h *Hub) SetBackup(b Backuper) { h.backup = b }

// SetMirror installs an optional external mirror.
func (h *Hub) SetMirror(m Mirror) { h.mirror = m }

// SetStats installs an optional metrics recorder.
func (h *Hub) SetStats(s Stats) { h.stats = s }

// Start begins listening for websocket connections and starts the
// ping loop. It returns once the listener is running; ctx cancellation
// is observed by the ping loop and by Close.
func (h *Hub) Start(ctx context.Context) error {
	h.baseCtx = ctx

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleUpgrade)

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", h.cfg.Host, h.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		h.logger.Info("websocket hub listening", "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("websocket listener failed", "error", err)
		}
	}()

	go h.pingLoop(ctx)

	return nil
}

// Close shuts down the listener and disconnects every client.
func (h *Hub) Close() error {
	var err error
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = h.server.Shutdown(ctx)
	}

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
	h.mu.Unlock()

	return err
}

// handleUpgrade upgrades an HTTP request into a hub client.
// The connection starts unidentified; the first HANDSHAKE or LOGIN
// frame binds it to an id.
func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn, "")
	h.register(client)

	go client.writePump()
	go client.readPump()
}

// register adds a client to the hub.
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client connected", "clients", h.ClientCount())
}

// unregister removes a client, drops any pending registration parked
// on it and marks its identity disconnected. Presence is notified even
// if the client never completed a handshake.
//
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}

	h.broker.Forget(client)

	if id := client.IdentityID(); id != "" {
		h.presence.Disconnect(id)
	}
	h.logger.Debug("client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// dispatch routes one raw inbound frame.
//
// Malformed frames are logged and dropped; a panicking handler takes
// down only the offending frame, never the hub.
func (h *Hub) dispatch(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic handling frame", "id", c.IdentityID(), "panic", r)
		}
	}()

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.logger.Warn("dropping malformed frame", "id", c.IdentityID(), "error", err)
		return
	}

	if h.stats != nil {
		h.stats.RecordFrame(ev.Type)
	}

	if ev.To == ToServer {
		handler, ok := h.handlers[ev.Type]
		if !ok {
			h.logger.Debug("dropping unhandled server frame", "type", ev.Type, "from", ev.From)
			return
		}
		handler(h.baseCtx, c, ev)
		return
	}

	h.relay(c, ev)
}

// relay forwards a client-addressed event.
//
// Broadcast addresses reach every client, the sender included, so all
// peers observe an identical stream. Targeted relay only admits device
// ids; frames addressed to web operators, pending tokens or arbitrary
// strings are dropped.
func (h *Hub) relay(_ *Client, ev Event) {
	if matches(ToAll, ev.To) {
		h.Broadcast(ev)
		return
	}

	if !matches("device", ev.To) {
		h.logger.Debug("dropping frame for non-device target", "to", ev.To, "type", ev.Type)
		return
	}

	if !h.SendTo(ev.To, ev) {
		h.logger.Debug("dropping frame for absent target", "to", ev.To, "type", ev.Type)
	}
}

// Broadcast delivers an event verbatim to every connected client.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshalling broadcast", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
}

// SendTo delivers an event to every client bound to the given id.
// Reports whether at least one client received it.
func (h *Hub) SendTo(id string, ev Event) bool {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := false
	for _, client := range clients {
		if client.IdentityID() == id {
			client.sendEvent(ev)
			sent = true
		}
	}
	return sent
}

// NotifyUpdate bumps a collection's version counter and pushes an
// UPDATE frame to every connected client. A failed persist is logged
// but the push still happens; memory is authoritative.
func (h *Hub) NotifyUpdate(collection string) {
	v, err := h.ledger.Bump(h.baseCtx, collection)
	if err != nil {
		h.logger.Error("bumping collection version", "collection", collection, "error", err)
	}

	h.pushUpdate(collection, v)
}

// PushUpdate fans out an UPDATE frame carrying a collection's current
// version without bumping it. Used by callers that have already moved
// the ledger themselves.
func (h *Hub) PushUpdate(collection string) {
	h.pushUpdate(collection, h.ledger.Get(collection))
}

// pushUpdate fans an UPDATE frame out to every client, individually
// addressed so each receiver sees its own id in the envelope.
func (h *Hub) pushUpdate(collection string, v int64) {
	data := mustMarshal(UpdateData{Collection: collection, Version: v})

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.sendEvent(Event{
			From: FromServer,
			To:   client.IdentityID(),
			Type: TypeUpdate,
			Data: data,
		})
	}

	if h.mirror != nil {
		if err := h.mirror.PublishUpdate(collection); err != nil {
			h.logger.Warn("publishing update to mirror", "collection", collection, "error", err)
		}
	}
}

// pingLoop sends a PING frame to every client on the configured
// cadence until the context is cancelled.
func (h *Hub) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval())
	defer ticker.Stop()

	data := mustMarshal(PingData{Interval: h.cfg.PingInterval})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				client.sendEvent(Event{
					From: FromServer,
					To:   client.IdentityID(),
					Type: TypePing,
					Data: data,
				})
			}
		}
	}
}
