// Package relay fans typed domain events out to every registered connection.
//
// Connections are owned by an injected Registry. Each connection has its own
// bounded outbound queue, so a slow or broken peer never holds up the rest of
// a broadcast. Delivery is at-most-once: there is no replay for late joiners
// and no acknowledgement.
package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aparajitverma/TheExportExpress-sub004/pkg/metrics"
	"go.uber.org/zap"
)

// ErrRelayClosed is returned by Connect once Close has been called.
var ErrRelayClosed = errors.New("relay closed")

// DefaultSendBuffer is the outbound queue length used when Options.SendBuffer is zero.
const DefaultSendBuffer = 256

// Options tune a Relay.
type Options struct {
	// ExcludeSender skips the publishing connection in Publish. The default
	// echoes every event back to its sender.
	ExcludeSender bool
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

// Delivery summarises one broadcast. It is informational; failures are never errors.
type Delivery struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Stats is a point-in-time view of relay activity.
type Stats struct {
	Connections int            `json:"connections"`
	Published   map[Kind]int64 `json:"published"`
	Failed      int64          `json:"failed_deliveries"`
	StartedAt   time.Time      `json:"started_at"`
}

// Relay broadcasts events to the connections in its registry.
type Relay struct {
	registry  *Registry
	logger    *zap.Logger
	opts      Options
	startedAt time.Time

	published map[Kind]*atomic.Int64
	failed    atomic.Int64

	// lifecycle is held shared by Connect and exclusively by Close, so no
	// connection can register after Close has taken its snapshot.
	lifecycle sync.RWMutex
	closed    bool
}

// New creates a relay over registry. A nil registry gets a fresh one.
func New(registry *Registry, logger *zap.Logger, opts Options) *Relay {
	if registry == nil {
		registry = NewRegistry(DefaultShards)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	published := make(map[Kind]*atomic.Int64, len(kinds))
	for _, k := range kinds {
		published[k] = new(atomic.Int64)
	}
	return &Relay{
		registry:  registry,
		logger:    logger.Named("relay"),
		opts:      opts,
		startedAt: time.Now(),
		published: published,
	}
}

// Registry exposes the relay's connection registry.
func (r *Relay) Registry() *Registry { return r.registry }

// Connect registers a new connection for the peer labelled remote.
// It fails with ErrRelayClosed after Close.
func (r *Relay) Connect(remote string) (*Conn, error) {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	if r.closed {
		return nil, ErrRelayClosed
	}
	c := newConn(remote, r.opts.SendBuffer)
	r.registry.Add(c)
	metrics.RelayConnections.Inc()
	metrics.RelayConnectionsTotal.Inc()
	r.logger.Info("Client connected", zap.String("conn_id", c.ID()), zap.String("remote", remote))
	return c, nil
}

// Disconnect unregisters and closes the connection. Unknown IDs are ignored.
func (r *Relay) Disconnect(id string) {
	c := r.registry.Remove(id)
	if c == nil {
		return
	}
	c.Close()
	metrics.RelayConnections.Dec()
	r.logger.Info("Client disconnected",
		zap.String("conn_id", id),
		zap.Duration("connected_for", time.Since(c.CreatedAt())))
}

// Publish broadcasts ev using the relay's sender policy. An empty sender
// identifies an internal producer.
func (r *Relay) Publish(ev Event, sender string) Delivery {
	return r.Broadcast(ev, sender, r.opts.ExcludeSender)
}

// Broadcast enqueues ev to every registered connection, skipping sender when
// excludeSender is set. Events of an unknown kind are dropped and counted as
// malformed. A failed recipient is logged and skipped; it is not
// disconnected.
func (r *Relay) Broadcast(ev Event, sender string, excludeSender bool) Delivery {
	if !ev.Kind.Valid() {
		metrics.RelayMalformedEvents.WithLabelValues("publish").Inc()
		r.logger.Warn("Dropped event with unknown kind",
			zap.String("kind", ev.Kind.String()),
			zap.String("sender", sender))
		return Delivery{}
	}
	start := time.Now()
	r.published[ev.Kind].Add(1)
	metrics.RelayEventsPublished.WithLabelValues(ev.Kind.String()).Inc()

	var d Delivery
	for _, c := range r.registry.Snapshot() {
		if excludeSender && sender != "" && c.ID() == sender {
			continue
		}
		d.Attempted++
		err := c.Send(ev)
		if err == nil {
			d.Delivered++
			metrics.RelayDeliveries.WithLabelValues(ev.Kind.String(), metrics.ResultDelivered).Inc()
			continue
		}
		d.Failed++
		r.failed.Add(1)
		result := metrics.ResultSlow
		if errors.Is(err, ErrConnClosed) {
			result = metrics.ResultClosed
		}
		metrics.RelayDeliveries.WithLabelValues(ev.Kind.String(), result).Inc()
		r.logger.Warn("Dropped event for recipient",
			zap.String("conn_id", c.ID()),
			zap.String("kind", ev.Kind.String()),
			zap.String("sender", sender),
			zap.Error(err))
	}
	metrics.RelayBroadcastLatency.Observe(time.Since(start).Seconds())

	r.logger.Debug("Event broadcast",
		zap.String("kind", ev.Kind.String()),
		zap.String("sender", sender),
		zap.Int("delivered", d.Delivered),
		zap.Int("failed", d.Failed))
	return d
}

// Stats returns current counters.
func (r *Relay) Stats() Stats {
	published := make(map[Kind]int64, len(r.published))
	for k, ctr := range r.published {
		published[k] = ctr.Load()
	}
	return Stats{
		Connections: r.registry.Len(),
		Published:   published,
		Failed:      r.failed.Load(),
		StartedAt:   r.startedAt,
	}
}

// Close disconnects every registered connection and refuses new ones.
// It is safe to call more than once.
func (r *Relay) Close() {
	r.lifecycle.Lock()
	r.closed = true
	r.lifecycle.Unlock()

	for _, id := range r.registry.IDs() {
		r.Disconnect(id)
	}
}
