// Package server exposes the engine over an HTTP/JSON API. The caller's
// identity arrives in the X-Caller-Id header; authenticating that identity
// is the deployment's concern, the engine only compares it against account
// owners and the admin.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"SynthPerp/internal/engine"
	"SynthPerp/internal/history"
	"SynthPerp/internal/observability"
	"SynthPerp/internal/oracle"
)

const callerHeader = "X-Caller-Id"

// History serves the read side of the event projection. Nil when the
// projection is disabled.
type History interface {
	RecentEvents(ctx context.Context, eventType string, limit int) ([]history.EventRecord, error)
	FundingByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]history.FundingEntry, error)
	FundingByAsset(ctx context.Context, asset engine.Asset, limit int) ([]history.FundingEntry, error)
}

type Server struct {
	engine  *engine.Engine
	history History
	log     zerolog.Logger
}

func New(eng *engine.Engine, hist History, log zerolog.Logger) *Server {
	return &Server{engine: eng, history: hist, log: log}
}

// Router builds the API routes plus the health probes.
func (s *Server) Router(health *observability.HealthChecker) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", health.ReadinessHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/initialize", s.handleInitialize).Methods(http.MethodPost)
	v1.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	v1.HandleFunc("/funding/advance", s.handleAdvanceFunding).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{owner}/funding/settle", s.handleSettleFunding).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{owner}/positions", s.handleOpenPosition).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{owner}/positions/{asset}/close", s.handleClosePosition).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{owner}/status", s.handleUserStatus).Methods(http.MethodGet)
	v1.HandleFunc("/markets/status", s.handleMarketStatus).Methods(http.MethodGet)
	v1.HandleFunc("/history/events", s.handleEventHistory).Methods(http.MethodGet)
	v1.HandleFunc("/history/funding/{asset}", s.handleAssetFundingHistory).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{owner}/funding/history", s.handleOwnerFundingHistory).Methods(http.MethodGet)

	return r
}

type initializeRequest struct {
	Feeds map[string]string `json:"feeds"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if !s.decode(w, r, &req) {
		return
	}
	feeds, err := feedsFromSymbols(req.Feeds)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.engine.Initialize(r.Context(), caller, feeds); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"admin": caller.String()})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}

	account, err := s.engine.CreateUserAccount(r.Context(), caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"owner":   account.Owner,
		"balance": account.Balance,
	})
}

func (s *Server) handleAdvanceFunding(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}

	if err := s.engine.AdvanceFunding(r.Context(), caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSettleFunding(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	owner, ok := s.pathUUID(w, r, "owner")
	if !ok {
		return
	}

	if err := s.engine.SettleUserFunding(r.Context(), caller, owner); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

type openPositionRequest struct {
	Asset    string `json:"asset"`
	Size     int64  `json:"size"`
	Leverage int64  `json:"leverage"`
	Feed     string `json:"feed"`
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	owner, ok := s.pathUUID(w, r, "owner")
	if !ok {
		return
	}
	var req openPositionRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, ok := engine.ParseAsset(req.Asset)
	if !ok {
		s.writeError(w, engine.ErrInvalidAssetType)
		return
	}

	res, err := s.engine.OpenPosition(r.Context(), caller, owner, asset, req.Size, req.Leverage, oracle.FeedID(req.Feed))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"asset":       res.Asset.String(),
		"size":        res.Size,
		"leverage":    res.Leverage,
		"entry_price": res.EntryPrice,
		"margin":      res.Margin,
		"skew":        res.Skew,
	})
}

type closePositionRequest struct {
	Feed string `json:"feed"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	owner, ok := s.pathUUID(w, r, "owner")
	if !ok {
		return
	}
	asset, ok := engine.ParseAsset(mux.Vars(r)["asset"])
	if !ok {
		s.writeError(w, engine.ErrInvalidAssetType)
		return
	}
	var req closePositionRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.engine.ClosePosition(r.Context(), caller, owner, asset, oracle.FeedID(req.Feed))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":      res.Asset.String(),
		"size":       res.Size,
		"exit_price": res.ExitPrice,
		"pnl":        res.PnL,
		"margin":     res.Margin,
		"skew":       res.Skew,
	})
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	owner, ok := s.pathUUID(w, r, "owner")
	if !ok {
		return
	}
	feeds, err := feedsFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := s.engine.UserStatus(r.Context(), caller, owner, feeds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	feeds, err := feedsFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snaps, err := s.engine.MarketStatus(r.Context(), feeds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"markets": snaps})
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeStatus(w, http.StatusServiceUnavailable, "event history disabled")
		return
	}

	records, err := s.history.RecentEvents(r.Context(), r.URL.Query().Get("type"), limitParam(r))
	if err != nil {
		s.log.Error().Err(err).Msg("event history query")
		s.writeStatus(w, http.StatusInternalServerError, "history query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": records})
}

func (s *Server) handleAssetFundingHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeStatus(w, http.StatusServiceUnavailable, "event history disabled")
		return
	}
	asset, ok := engine.ParseAsset(mux.Vars(r)["asset"])
	if !ok {
		s.writeError(w, engine.ErrInvalidAssetType)
		return
	}

	entries, err := s.history.FundingByAsset(r.Context(), asset, limitParam(r))
	if err != nil {
		s.log.Error().Err(err).Msg("funding history query")
		s.writeStatus(w, http.StatusInternalServerError, "history query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"funding": entries})
}

func (s *Server) handleOwnerFundingHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeStatus(w, http.StatusServiceUnavailable, "event history disabled")
		return
	}
	owner, ok := s.pathUUID(w, r, "owner")
	if !ok {
		return
	}

	entries, err := s.history.FundingByOwner(r.Context(), owner, limitParam(r))
	if err != nil {
		s.log.Error().Err(err).Msg("funding history query")
		s.writeStatus(w, http.StatusInternalServerError, "history query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"funding": entries})
}

// --- helpers ---

// limitParam reads the optional limit query parameter; the history layer
// applies its own default and cap.
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

// feedsFromSymbols builds the per-asset feed array from a symbol-keyed map.
func feedsFromSymbols(m map[string]string) ([engine.AssetCount]oracle.FeedID, error) {
	var feeds [engine.AssetCount]oracle.FeedID
	for _, asset := range engine.Assets() {
		feed, ok := m[asset.String()]
		if !ok || feed == "" {
			return feeds, engine.ErrInvalidOracleAccount
		}
		feeds[asset] = oracle.FeedID(feed)
	}
	return feeds, nil
}

// feedsFromQuery reads one feed handle per instrument from query params
// named after the instrument symbols (lowercased).
func feedsFromQuery(r *http.Request) ([engine.AssetCount]oracle.FeedID, error) {
	q := r.URL.Query()
	m := make(map[string]string, engine.AssetCount)
	for _, asset := range engine.Assets() {
		m[asset.String()] = q.Get(asset.String())
	}
	return feedsFromSymbols(m)
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		s.writeStatus(w, http.StatusBadRequest, "missing "+callerHeader+" header")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, "malformed "+callerHeader+" header")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, "malformed "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeStatus(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("encode response")
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeStatus(w, httpStatus(err), err.Error())
}

// httpStatus maps engine error kinds onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthorizedAccess):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidAssetType),
		errors.Is(err, engine.ErrInvalidPositionSize),
		errors.Is(err, engine.ErrInvalidLeverage),
		errors.Is(err, engine.ErrInvalidOracleAccount),
		errors.Is(err, engine.ErrInvalidOraclePrice):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrPositionAlreadyExists),
		errors.Is(err, engine.ErrAlreadyInitialized),
		errors.Is(err, engine.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoPositionExists),
		errors.Is(err, engine.ErrAccountNotFound),
		errors.Is(err, engine.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
