// Package ws is the WebSocket transport for the event relay: it upgrades HTTP
// requests, registers each socket with the relay and pumps frames both ways.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aparajitverma/TheExportExpress-sub004/internal/config"
	"github.com/aparajitverma/TheExportExpress-sub004/internal/relay"
	"github.com/aparajitverma/TheExportExpress-sub004/pkg/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configure the transport.
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	// AllowedOrigins restricts browser origins; "*" or an empty list allows any.
	AllowedOrigins []string
}

// DefaultOptions mirror the service defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps service configuration onto transport options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadBufferSize:  cfg.WS.ReadBufferSize,
		WriteBufferSize: cfg.WS.WriteBufferSize,
		WriteTimeout:    cfg.WS.WriteTimeout,
		PongTimeout:     cfg.WS.PongTimeout,
		PingInterval:    cfg.WS.PingInterval,
		MaxMessageSize:  cfg.WS.MaxMessageSize,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	}
}

// Handler accepts relay connections over WebSocket.
type Handler struct {
	relay    *relay.Relay
	logger   *zap.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewHandler creates a transport bound to r.
func NewHandler(r *relay.Relay, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		relay:  r,
		logger: logger.Named("ws"),
		opts:   opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// client couples one socket with its relay connection.
type client struct {
	ws   *websocket.Conn
	conn *relay.Conn
	h    *Handler
}

// ServeHTTP upgrades the request and starts the read and write pumps.
// Once the handler is closing it answers 503 without upgrading.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	// reserve both pumps before the connection is hijacked
	h.wg.Add(2)
	h.mu.Unlock()

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wg.Add(-2)
		h.logger.Warn("WebSocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn, err := h.relay.Connect(r.RemoteAddr)
	if err != nil {
		h.logger.Info("Rejected connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		sock.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		sock.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay is shutting down"))
		sock.Close()
		h.wg.Add(-2)
		return
	}
	c := &client{
		ws:   sock,
		conn: conn,
		h:    h,
	}
	go c.writePump()
	go c.readPump()
}

// Close stops accepting new connections. Existing ones are ended by closing the relay.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
}

// Wait closes the handler and blocks until every pump has exited or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	h.Close()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump publishes inbound events. It owns disconnecting from the relay:
// any read error, including a close frame, ends the connection.
func (c *client) readPump() {
	logger := c.h.logger.With(zap.String("conn_id", c.conn.ID()))
	defer func() {
		c.h.relay.Disconnect(c.conn.ID())
		c.ws.Close()
		c.h.wg.Done()
	}()

	c.ws.SetReadLimit(c.h.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.h.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.h.opts.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		ev, err := relay.DecodeEvent(data)
		if err != nil {
			metrics.RelayMalformedEvents.WithLabelValues("websocket").Inc()
			logger.Warn("Dropped malformed event", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		c.h.relay.Publish(ev, c.conn.ID())
	}
}

// writePump drains the relay connection onto the socket in order and keeps
// the peer alive with pings. A write failure closes the socket, which in turn
// ends readPump.
func (c *client) writePump() {
	ticker := time.NewTicker(c.h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.h.wg.Done()
	}()

	for {
		select {
		case ev, ok := <-c.conn.Outbound():
			c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				c.h.logger.Warn("WebSocket write failed",
					zap.String("conn_id", c.conn.ID()),
					zap.String("kind", ev.Kind.String()),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
