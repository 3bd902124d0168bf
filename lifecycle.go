package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bassam-ai/offline-cache/cache"
	serializer "github.com/bassam-ai/offline-cache/pkg/response-serializer"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a worker.
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	// StateRedundant is final: the install failed or a newer worker replaced this one.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	ErrInstallFailed = errors.New("install failed")
	ErrInvalidState  = errors.New("invalid worker state")
	errBadStatus     = errors.New("bad response status")
)

// transition moves the worker from one state to the next.
func (w *Worker) transition(from, to State) error {
	if !w.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s, expected %s", ErrInvalidState, w.State(), from)
	}
	w.log.Debug().Str("state", to.String()).Msg("Worker state changed")
	return nil
}

// Install opens (or creates) the store of this version and fills it with
// the offline URLs. All URLs are fetched before anything is written: if a
// single one fails to fetch or store, nothing stays stored, the worker
// becomes redundant and an error wrapping ErrInstallFailed is returned.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	ctx, span := w.tracer.Start(ctx, "offlinecache.install")
	defer span.End()
	span.SetAttributes(
		attribute.String("cache.name", w.cacheName),
		attribute.StringSlice("cache.offline_urls", w.offlineURLs),
	)

	err := w.install(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.setState(StateRedundant)
		w.log.Error().Err(err).Msg("Install failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	w.setState(StateInstalled)
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	store, err := w.storage.Open(w.cacheName)
	if err != nil {
		return err
	}
	return w.addAll(ctx, store, w.offlineURLs)
}

// addAll fetches all URLs concurrently and only then stores the responses.
func (w *Worker) addAll(ctx context.Context, store *cache.Store, urls []string) error {
	requests := make([]*http.Request, len(urls))
	for i, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request for %s: %w", u, err)
		}
		requests[i] = req
	}

	responses := make([]serializer.TimedResponse, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			res, err := w.network.fetch(gctx, req, true)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", req.URL, err)
			}
			if res.Response.StatusCode < 200 || res.Response.StatusCode > 299 {
				return fmt.Errorf("fetch %s: %w: %d", req.URL, errBadStatus, res.Response.StatusCode)
			}
			responses[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, req := range requests {
		if err := store.Put(req, responses[i]); err != nil {
			w.purge(store, requests[:i])
			return fmt.Errorf("store %s: %w", req.URL, err)
		}
		w.log.Debug().Str("url", req.URL.String()).Str("store", store.Name()).Msg("Pre-cached offline URL")
	}
	return nil
}

// purge removes the responses already stored by a failed install.
func (w *Worker) purge(store *cache.Store, requests []*http.Request) {
	for _, req := range requests {
		if _, err := store.Delete(req); err != nil {
			w.log.Error().Err(err).Str("url", req.URL.String()).Msg("Could not purge pre-cached URL")
		}
	}
}

// Activate deletes every store whose name is not the name of this
// version. The worker is activated even if a store could not be deleted;
// the first such error is returned.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	return w.activate(ctx)
}

func (w *Worker) activate(ctx context.Context) error {
	_, span := w.tracer.Start(ctx, "offlinecache.activate")
	defer span.End()
	span.SetAttributes(attribute.String("cache.name", w.cacheName))
	defer func() {
		w.setState(StateActivated)
		close(w.activated)
	}()

	names, err := w.storage.Keys()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list stores: %w", err)
	}
	var firstErr error
	for _, name := range names {
		if name == w.cacheName {
			continue
		}
		if _, err := w.storage.Delete(name); err != nil {
			w.log.Error().Err(err).Str("store", name).Msg("Could not delete stale store")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.log.Info().Str("store", name).Msg("Deleted stale store")
	}
	if firstErr != nil {
		span.RecordError(firstErr)
	}
	return firstErr
}
