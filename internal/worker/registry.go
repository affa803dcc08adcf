package worker

import (
	"context"
	"os"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
)

// Registry keeps the worker's dispatch_workers row alive: registered at
// boot, heartbeated on an interval with the dispatcher's tick counters,
// marked stopped on clean shutdown.
type Registry struct {
	store      WorkerRegistry
	dispatcher *Dispatcher
	name       string
	interval   time.Duration
	log        *logger.Logger
}

// NewRegistry creates a registry keeper for the given dispatcher.
func NewRegistry(store WorkerRegistry, d *Dispatcher, interval time.Duration) *Registry {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Registry{
		store:      store,
		dispatcher: d,
		name:       d.WorkerName(),
		interval:   interval,
		log:        logger.New("registry"),
	}
}

// Run registers the worker, heartbeats until the context is canceled, and
// marks it stopped on the way out. Registry failures are logged and never
// interfere with dispatch.
func (r *Registry) Run(ctx context.Context) {
	hostname, _ := os.Hostname()
	if err := r.store.Register(ctx, r.name, hostname); err != nil {
		r.log.Error("worker registration failed", "worker", r.name, "error", err.Error())
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Fresh context: the root one is already canceled.
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.beat(stopCtx)
			if err := r.store.MarkStopped(stopCtx, r.name); err != nil {
				r.log.Warn("mark stopped failed", "worker", r.name, "error", err.Error())
			}
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Registry) beat(ctx context.Context) {
	sent, failed := r.dispatcher.TakeTickCounters()
	if err := r.store.Heartbeat(ctx, r.name, sent, failed); err != nil {
		r.log.Warn("heartbeat failed", "worker", r.name, "error", err.Error())
	}
}
