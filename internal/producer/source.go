// Package producer bridges upstream systems (pricing engine, order-status
// updater) into the relay. Producers publish without a connection, so every
// registered client receives their events.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aparajitverma/TheExportExpress-sub004/internal/relay"
	"go.uber.org/zap"
)

// Publisher is the part of the relay a producer needs.
type Publisher interface {
	Publish(ev relay.Event, sender string) relay.Delivery
}

// Source is a long-running upstream feed.
type Source interface {
	Name() string
	// Run publishes until ctx is cancelled. A nil return means a clean stop.
	Run(ctx context.Context) error
}

// decodeMessage accepts a full envelope, or a bare JSON payload when hint
// names a valid kind (a channel suffix or message header).
func decodeMessage(hint string, data []byte) (relay.Event, error) {
	ev, err := relay.DecodeEvent(data)
	if err == nil {
		return ev, nil
	}
	kind := relay.Kind(kindHint(hint))
	if kind.Valid() && json.Valid(data) {
		var probe struct {
			Kind *string `json:"kind"`
		}
		// an object that carries its own kind is an envelope, even a bad one
		if json.Unmarshal(data, &probe) != nil || probe.Kind == nil {
			return relay.NewEvent(kind, data), nil
		}
	}
	return relay.Event{}, err
}

// kindHint takes the last ':' or '.' separated segment, so both
// "exportexpress:price_update" and "exportexpress.price_update" yield "price_update".
func kindHint(name string) string {
	if i := strings.LastIndexAny(name, ":."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Runner runs sources side by side.
type Runner struct {
	sources []Source
	logger  *zap.Logger
}

// NewRunner creates a runner over sources.
func NewRunner(logger *zap.Logger, sources ...Source) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{sources: sources, logger: logger.Named("producer")}
}

// Len returns the number of sources.
func (r *Runner) Len() int { return len(r.sources) }

// Run blocks until every source has returned. Source failures are logged and
// joined into the returned error; one failing source does not stop the others.
func (r *Runner) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, src := range r.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			r.logger.Info("Starting producer source", zap.String("source", src.Name()))
			err := src.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("Producer source stopped", zap.String("source", src.Name()), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
				mu.Unlock()
				return
			}
			r.logger.Info("Producer source stopped", zap.String("source", src.Name()))
		}(src)
	}
	wg.Wait()
	return errors.Join(errs...)
}
