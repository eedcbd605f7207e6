package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/models"
)

// Registry is the process-wide name → queue lookup. Queues are created on
// first access; the creating caller's options win and later options are
// ignored. Applications own a Registry and inject it where queues are needed.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue
	logger *common.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *common.Logger) *Registry {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Registry{
		queues: make(map[string]*Queue),
		logger: logger,
	}
}

// Get returns the named queue, creating it with opts on first access.
func (r *Registry) Get(name string, opts Options) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q
	}
	q := New(name, opts, r.logger)
	r.queues[name] = q
	r.logger.Info().Str("queue", name).Int("concurrency", q.opts.Concurrency).Msg("Queue created")
	return q
}

// Lookup returns the named queue without creating it.
func (r *Registry) Lookup(name string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	return q, ok
}

// AllStats returns a snapshot across all queues.
func (r *Registry) AllStats() map[string]models.QueueStats {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	stats := make(map[string]models.QueueStats, len(queues))
	for _, q := range queues {
		stats[q.Name()] = q.Stats()
	}
	return stats
}

// Shutdown drains all queues concurrently.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		g.Go(func() error { return q.Shutdown(ctx) })
	}
	return g.Wait()
}
