package offlinecache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *Registration, Config) {
	o := newOrigin(t, appHandler)
	config := testConfig(t, o)
	reg := NewRegistration(config)
	return NewRouter(reg, zerolog.Nop()), reg, config
}

func newTestAdminRouter(t *testing.T) (http.Handler, *Registration, Config) {
	o := newOrigin(t, appHandler)
	config := testConfig(t, o)
	reg := NewRegistration(config)
	return NewAdminRouter(reg, config.Storage, zerolog.Nop()), reg, config
}

func TestRouterProxiesThroughWorker(t *testing.T) {
	router, reg, _ := newTestRouter(t)
	_, err := reg.Register(context.Background())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/manifest.json", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"name":"Bassam AI"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("Request-Id"))
}

func TestRouterListStores(t *testing.T) {
	router, reg, _ := newTestAdminRouter(t)
	_, err := reg.Register(context.Background())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, AdminPrefix+"/stores", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var stores []storeInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stores))
	require.Len(t, stores, 1)
	assert.Equal(t, DefaultCacheName, stores[0].Name)
	assert.ElementsMatch(t, []string{"GET /", "GET /static/manifest.json"}, stores[0].Keys)
}

func TestRouterDeleteStore(t *testing.T) {
	router, reg, config := newTestAdminRouter(t)
	_, err := reg.Register(context.Background())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, AdminPrefix+"/stores/"+DefaultCacheName, nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	has, err := config.Storage.Has(DefaultCacheName)
	require.NoError(t, err)
	assert.False(t, has)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, AdminPrefix+"/stores/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterWorker(t *testing.T) {
	router, reg, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, AdminPrefix+"/worker", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	_, err := reg.Register(context.Background())
	require.NoError(t, err)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, AdminPrefix+"/worker", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var info workerInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, workerInfo{CacheName: DefaultCacheName, State: "activated"}, info)
}

func TestRouterInstall(t *testing.T) {
	router, reg, _ := newTestAdminRouter(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, AdminPrefix+"/install", strings.NewReader(`{"cacheName":"bassam-ai-cache-v2"}`))
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "bassam-ai-cache-v2", reg.Active().CacheName())

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, AdminPrefix+"/install", strings.NewReader(`{`))
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterKeepsAdminOffPublicListener(t *testing.T) {
	router, reg, config := newTestRouter(t)
	_, err := reg.Register(context.Background())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, AdminPrefix+"/stores/"+DefaultCacheName, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	has, err := config.Storage.Has(DefaultCacheName)
	require.NoError(t, err)
	assert.True(t, has)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, AdminPrefix+"/install", strings.NewReader(`{"cacheName":"bassam-ai-cache-v2"}`)))
	assert.NotEqual(t, http.StatusOK, rr.Code)
	assert.Equal(t, DefaultCacheName, reg.Active().CacheName())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, AdminPrefix+"/stores", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
