package offlinecache

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bassam-ai/offline-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// AdminPrefix is the path under which the cache can be inspected and managed.
// Requests below it are never intercepted.
const AdminPrefix = "/.offline-cache"

type storeInfo struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

type workerInfo struct {
	CacheName string `json:"cacheName"`
	State     string `json:"state"`
}

type installRequest struct {
	CacheName string `json:"cacheName"`
}

// NewRouter returns the public handler serving all requests through the
// registration. Below AdminPrefix only the read-only worker info is served.
func NewRouter(reg *Registration, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	useLogging(r, logger)
	r.Route(AdminPrefix, func(r chi.Router) {
		r.Get("/worker", activeWorker(reg))
	})
	r.Handle("/*", reg)
	return r
}

// NewAdminRouter returns the handler managing stores and installs.
// Serve it on a listener that only operators can reach.
func NewAdminRouter(reg *Registration, storage *cache.Storage, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	useLogging(r, logger)
	r.Use(middleware.Recoverer)
	r.Route(AdminPrefix, func(r chi.Router) {
		r.Get("/stores", listStores(storage))
		r.Delete("/stores/{name}", deleteStore(storage))
		r.Get("/worker", activeWorker(reg))
		r.Post("/install", install(reg))
	})
	return r
}

func useLogging(r chi.Router, logger zerolog.Logger) {
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("code", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request done")
	}))
}

func listStores(storage *cache.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := storage.Keys()
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		stores := make([]storeInfo, 0, len(names))
		for _, name := range names {
			store, err := storage.Lookup(name)
			if errors.Is(err, cache.ErrStoreNotFound) {
				// deleted meanwhile
				continue
			}
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, err)
				return
			}
			requests, err := store.Keys()
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, err)
				return
			}
			keys := make([]string, 0, len(requests))
			for _, req := range requests {
				keys = append(keys, req.Method+" "+req.URL.String())
			}
			stores = append(stores, storeInfo{Name: name, Keys: keys})
		}
		writeJSON(w, r, http.StatusOK, stores)
	}
}

func deleteStore(storage *cache.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		deleted, err := storage.Delete(name)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		if !deleted {
			writeError(w, r, http.StatusNotFound, cache.ErrStoreNotFound)
			return
		}
		hlog.FromRequest(r).Info().Str("store", name).Msg("Store deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}

func activeWorker(reg *Registration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := reg.Active()
		if active == nil {
			writeError(w, r, http.StatusNotFound, errors.New("no active worker"))
			return
		}
		writeJSON(w, r, http.StatusOK, workerInfo{CacheName: active.CacheName(), State: active.State().String()})
	}
}

func install(reg *Registration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body installRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, r, http.StatusBadRequest, err)
				return
			}
		}
		active, err := reg.Update(r.Context(), body.CacheName)
		if err != nil {
			writeError(w, r, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, r, http.StatusOK, workerInfo{CacheName: active.CacheName(), State: active.State().String()})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response body to client")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	hlog.FromRequest(r).Error().Err(err).Int("code", status).Msg("Admin request failed")
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}
