package offlinecache

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registration drives the lifecycle of the workers of one application.
// It serves every request through the active worker, or straight from the
// network while no worker is active.
type Registration struct {
	// serializes registrations
	mutex       sync.Mutex
	config      Config
	active      atomic.Pointer[Worker]
	passThrough http.Handler
	log         zerolog.Logger
}

func NewRegistration(config Config) *Registration {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Registration{
		config:      config,
		passThrough: NewPassThrough(config),
		log:         logger,
	}
}

// Active returns the active worker, or nil.
func (reg *Registration) Active() *Worker {
	return reg.active.Load()
}

// Register installs a new worker for the configured cache version and
// activates it right away, without waiting for the previous worker to go idle.
// The new worker takes over all requests as soon as it starts activating.
// If the install fails, the previous worker stays active.
func (reg *Registration) Register(ctx context.Context) (*Worker, error) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	return reg.register(ctx, reg.config)
}

// Update registers a worker for another cache version. An empty name
// re-registers the current version.
func (reg *Registration) Update(ctx context.Context, cacheName string) (*Worker, error) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	config := reg.config
	if cacheName != "" {
		config.CacheName = cacheName
	}
	w, err := reg.register(ctx, config)
	if err == nil {
		reg.config = config
	}
	return w, err
}

func (reg *Registration) register(ctx context.Context, config Config) (*Worker, error) {
	w := CreateWorker(config)
	reg.log.Info().Str("cache", w.CacheName()).Msg("Installing worker")
	if err := w.Install(ctx); err != nil {
		return nil, err
	}

	// skip waiting and claim all clients
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return nil, err
	}
	if previous := reg.active.Swap(w); previous != nil {
		previous.setState(StateRedundant)
	}
	if err := w.activate(ctx); err != nil {
		reg.log.Warn().Err(err).Str("cache", w.CacheName()).Msg("Activated with errors")
	}
	reg.log.Info().Str("cache", w.CacheName()).Msg("Worker activated")
	return w, nil
}

// ServeHTTP implements the http.Handler interface.
func (reg *Registration) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w := reg.active.Load(); w != nil {
		w.ServeHTTP(rw, r)
		return
	}
	reg.passThrough.ServeHTTP(rw, r)
}
