package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SynthPerp/internal/engine"
	"SynthPerp/internal/observability"
	"SynthPerp/internal/oracle"
	"SynthPerp/internal/server"
	"SynthPerp/internal/store"
)

const (
	goldFeed = "feed:gold"
	solFeed  = "feed:sol"
	btcFeed  = "feed:btc"
)

type harness struct {
	mux    http.Handler
	health *observability.HealthChecker
	admin  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	resolver := oracle.NewStatic(map[oracle.FeedID]int64{
		goldFeed: 2_000_000_000,
		solFeed:  150_000_000,
		btcFeed:  50_000_000_000,
	})
	eng := engine.New(engine.Deps{
		Store:  store.NewMemory(),
		Oracle: resolver,
		Logger: zerolog.Nop(),
	})
	health := observability.NewHealthChecker()
	srv := server.New(eng, nil, zerolog.Nop())

	return &harness{
		mux:    srv.Router(health),
		health: health,
		admin:  uuid.New(),
	}
}

func (h *harness) do(t *testing.T, method, path string, caller uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != uuid.Nil {
		req.Header.Set("X-Caller-Id", caller.String())
	}

	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/v1/initialize", h.admin, map[string]interface{}{
		"feeds": map[string]string{"GOLD": goldFeed, "SOL": solFeed, "BTC": btcFeed},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (h *harness) createAccount(t *testing.T) uuid.UUID {
	t.Helper()
	owner := uuid.New()
	rec := h.do(t, http.MethodPost, "/v1/accounts", owner, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return owner
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthProbes(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/readyz", uuid.Nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.health.SetReady(true)
	rec = h.do(t, http.MethodGet, "/readyz", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingCallerHeader(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/accounts", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitializeConflict(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	rec := h.do(t, http.MethodPost, "/v1/initialize", h.admin, map[string]interface{}{
		"feeds": map[string]string{"GOLD": goldFeed, "SOL": solFeed, "BTC": btcFeed},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInitializeMissingFeed(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/initialize", h.admin, map[string]interface{}{
		"feeds": map[string]string{"GOLD": goldFeed, "SOL": solFeed},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenPositionFlow(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	owner := h.createAccount(t)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/v1/accounts/%s/positions", owner), owner, map[string]interface{}{
		"asset":    "GOLD",
		"size":     1_000_000,
		"leverage": 5,
		"feed":     goldFeed,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "GOLD", body["asset"])
	assert.EqualValues(t, 2_002_000_000, body["entry_price"])
	assert.EqualValues(t, 200_200_000, body["margin"])
	assert.EqualValues(t, 1_000_000, body["skew"])
}

func TestOpenPositionErrors(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	owner := h.createAccount(t)
	stranger := h.createAccount(t)

	cases := []struct {
		name   string
		caller uuid.UUID
		body   map[string]interface{}
		want   int
	}{
		{
			name:   "unknown asset",
			caller: owner,
			body:   map[string]interface{}{"asset": "DOGE", "size": 1, "leverage": 1, "feed": goldFeed},
			want:   http.StatusBadRequest,
		},
		{
			name:   "wrong feed",
			caller: owner,
			body:   map[string]interface{}{"asset": "GOLD", "size": 1_000_000, "leverage": 5, "feed": btcFeed},
			want:   http.StatusBadRequest,
		},
		{
			name:   "stranger forbidden",
			caller: stranger,
			body:   map[string]interface{}{"asset": "GOLD", "size": 1_000_000, "leverage": 5, "feed": goldFeed},
			want:   http.StatusForbidden,
		},
		{
			name:   "margin exceeds balance",
			caller: owner,
			body:   map[string]interface{}{"asset": "BTC", "size": 3_000_000, "leverage": 5, "feed": btcFeed},
			want:   http.StatusUnprocessableEntity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, fmt.Sprintf("/v1/accounts/%s/positions", owner), tc.caller, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCloseWithoutPosition(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	owner := h.createAccount(t)

	rec := h.do(t, http.MethodPost, fmt.Sprintf("/v1/accounts/%s/positions/GOLD/close", owner), owner, map[string]interface{}{
		"feed": goldFeed,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	owner := h.createAccount(t)

	path := fmt.Sprintf("/v1/accounts/%s/status?GOLD=%s&SOL=%s&BTC=%s", owner, goldFeed, solFeed, btcFeed)
	rec := h.do(t, http.MethodGet, path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.EqualValues(t, 10_000_000_000, body["balance"])
	assert.Len(t, body["positions"], engine.AssetCount)
}

func TestMarketStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	path := fmt.Sprintf("/v1/markets/status?GOLD=%s&SOL=%s&BTC=%s", goldFeed, solFeed, btcFeed)
	rec := h.do(t, http.MethodGet, path, uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Len(t, body["markets"], engine.AssetCount)
}

func TestMarketStatusMissingFeeds(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	rec := h.do(t, http.MethodGet, "/v1/markets/status", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	rec := h.do(t, http.MethodGet, "/v1/history/events", uuid.Nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/history/funding/GOLD", uuid.Nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
