package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/bassam-ai/offline-cache/cache"
	cachestatus "github.com/bassam-ai/offline-cache/pkg/cache-status"
	fetchrules "github.com/bassam-ai/offline-cache/pkg/fetch-rules"
	serializer "github.com/bassam-ai/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultCacheName is the store of the current version.
	// Bump the version suffix to replace the whole cache on the next activation.
	DefaultCacheName = "bassam-ai-cache-v1"

	tracerName = "github.com/bassam-ai/offline-cache"
)

// DefaultOfflineURLs are pre-cached on install.
var DefaultOfflineURLs = []string{
	"/",
	"/static/manifest.json",
}

// ErrNoResponse is returned by Fetch when the network failed and no
// cached response exists.
var ErrNoResponse = errors.New("no response")

type Config struct {
	// Storage for cache stores.
	Storage *cache.Storage
	// Name of the store of this version. DefaultCacheName if empty.
	CacheName string
	// Paths fetched into the store on install. DefaultOfflineURLs if nil.
	OfflineURLs []string
	// URL of the origin server.
	OriginURL url.URL
	// Hostname to use for HTTP requests.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Client for network requests. NewClient() is used if nil.
	Client *http.Client
	// Optional rules selecting the fetch strategy per request.
	Rules fetchrules.Rules
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Worker is the offline cache proxy of one cache version.
type Worker struct {
	storage     *cache.Storage
	cacheName   string
	offlineURLs []string
	network     *network
	rules       fetchrules.Rules
	log         zerolog.Logger
	tracer      trace.Tracer
	state       atomic.Int32
	activated   chan struct{}
}

// CreateWorker initializes a worker in the parsed state.
// Install and Activate need to be called before it controls anything,
// which is what a Registration does.
func CreateWorker(config Config) *Worker {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}
	cacheName := config.CacheName
	if cacheName == "" {
		cacheName = DefaultCacheName
	}
	offlineURLs := config.OfflineURLs
	if offlineURLs == nil {
		offlineURLs = DefaultOfflineURLs
	}

	return &Worker{
		storage:     config.Storage,
		cacheName:   cacheName,
		offlineURLs: offlineURLs,
		network:     newNetwork(config.Client, config.OriginURL, config.OriginHost),
		rules:       config.Rules,
		log:         logger.With().Str("cache", cacheName).Logger(),
		tracer:      otel.Tracer(tracerName),
		activated:   make(chan struct{}),
	}
}

func (w *Worker) CacheName() string {
	return w.cacheName
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Fetch handles an intercepted request.
// A stored response is returned without a network call. Otherwise the
// request goes to the network and the response is stored before it is
// returned; its body can still be read in full. If the network fails and
// nothing is stored, the response is nil and the error wraps ErrNoResponse.
func (w *Worker) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	res, _, err := w.fetch(ctx, r)
	return res, err
}

func (w *Worker) fetch(ctx context.Context, r *http.Request) (*http.Response, cachestatus.CacheStatus, error) {
	var cs cachestatus.CacheStatus
	ctx, span := w.tracer.Start(ctx, "offlinecache.fetch", trace.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("url.path", r.URL.Path),
	))
	defer span.End()
	logger := w.requestLogger(r)

	// fetches wait for a running activation
	if w.State() == StateActivating {
		select {
		case <-w.activated:
		case <-ctx.Done():
			return nil, cs, ctx.Err()
		}
	}

	if w.rules.Strategy(r, *logger) == fetchrules.NetworkOnly {
		cs.Forward(cachestatus.FwdReasonBypass)
		res, err := w.network.fetch(ctx, r, false)
		if err != nil {
			cs.Detail = "offline"
			return nil, cs, fmt.Errorf("%w: %s: %w", ErrNoResponse, r.URL, err)
		}
		return res.Response, cs, nil
	}

	cached, ok, err := w.storage.Match(r)
	varyMiss := errors.Is(err, cache.ErrVaryMiss)
	if err != nil && !varyMiss {
		logger.Warn().Err(err).Msg("Error matching request, going to network")
	} else if ok {
		logger.Trace().Msg("Cache hit")
		cs.Hit()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached.Response, cs, nil
	}
	switch {
	case r.Method != http.MethodGet:
		cs.Forward(cachestatus.FwdReasonMethod)
	case varyMiss:
		cs.Forward(cachestatus.FwdReasonVaryMiss)
	default:
		cs.Forward(cachestatus.FwdReasonUriMiss)
	}

	logger.Trace().Msg("Forwarding to network")
	res, err := w.network.fetch(ctx, r, false)
	if err != nil {
		// the network failed, return whatever was cached, which is nothing
		logger.Warn().Err(err).Msg("Network failed and nothing cached")
		span.RecordError(err)
		cs.Detail = "offline"
		return nil, cs, fmt.Errorf("%w: %s: %w", ErrNoResponse, r.URL, err)
	}

	if r.Method == http.MethodGet {
		cs.Stored = w.put(r, res)
	}
	return res.Response, cs, nil
}

// put stores a copy of the response in the store of this version.
// Only an existing store is written to: a replaced worker must not bring
// back the store its successor deleted.
// Failing to store is logged and otherwise ignored.
func (w *Worker) put(r *http.Request, res serializer.TimedResponse) bool {
	if w.State() == StateRedundant {
		w.requestLogger(r).Trace().Msg("Worker replaced, not storing response")
		return false
	}
	store, err := w.storage.Lookup(w.cacheName)
	if err == nil {
		err = store.Put(r, res)
	}
	if errors.Is(err, cache.ErrResponseNotCacheable) || errors.Is(err, cache.ErrStoreNotFound) {
		w.requestLogger(r).Trace().Err(err).Msg("Not storing response")
		return false
	} else if err != nil {
		w.requestLogger(r).Error().Err(err).Msg("Could not write to cache")
		return false
	}
	return true
}

// ServeHTTP implements the http.Handler interface.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer w.recover(rw, r)
	res, cs, err := w.fetch(r.Context(), r)
	if err != nil {
		rw.Header().Set(cachestatus.HeaderName, cs.String())
		http.Error(rw, "Offline and no cached response", http.StatusBadGateway)
		w.logRequest(r, http.StatusBadGateway, cs)
		return
	}
	w.send(rw, r, res, cs)
}

// recover recovers from panics and passes the request to the network.
func (w *Worker) recover(rw http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		w.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in fetch handler")
		passThrough{network: w.network, log: w.log}.ServeHTTP(rw, r)
	}
}

func (w *Worker) send(rw http.ResponseWriter, r *http.Request, res *http.Response, cs cachestatus.CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	header := res.Header.Clone()
	removeHopByHopHeaders(header)
	copyHeader(rw.Header(), header)
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	rw.WriteHeader(res.StatusCode)
	var bytesWritten int64
	var err error
	if res.Body != nil {
		bytesWritten, err = io.Copy(rw, res.Body)
	}
	if err != nil {
		w.requestLogger(r).Error().Err(err).Msg("Could not write response body to client")
	}
	w.logRequest(r, res.StatusCode, cs)
	w.requestLogger(r).Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (w *Worker) logRequest(r *http.Request, status int, cs cachestatus.CacheStatus) {
	isHit := 0
	if cs.Status == cachestatus.StatusHit {
		isHit = 1
	}
	w.requestLogger(r).Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("code", status).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

// requestLogger returns the logger from the request context,
// falling back to the worker logger.
func (w *Worker) requestLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		return &w.log
	}
	l := logger.With().Str("cache", w.cacheName).Logger()
	return &l
}

// passThrough sends requests straight to the network, bypassing the cache.
type passThrough struct {
	network *network
	log     zerolog.Logger
}

// NewPassThrough returns a handler that proxies every request to the origin
// without touching the cache.
func NewPassThrough(config Config) http.Handler {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return passThrough{
		network: newNetwork(config.Client, config.OriginURL, config.OriginHost),
		log:     logger,
	}
}

func (p passThrough) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	res, err := p.network.fetch(r.Context(), r, false)
	if err != nil {
		p.log.Error().Err(err).Msg("Error connecting to origin")
		http.Error(rw, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	defer res.Response.Body.Close()
	header := res.Response.Header.Clone()
	removeHopByHopHeaders(header)
	copyHeader(rw.Header(), header)
	rw.WriteHeader(res.Response.StatusCode)
	if _, err := io.Copy(rw, res.Response.Body); err != nil {
		p.log.Error().Err(err).Msg("Error writing to client")
	}
}
