package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/metrics"
)

// Server is the caller-facing surface of the coordinator: source selection,
// listing reads (snapshot and stream), the selected-listing slot, mutation
// requests, history, and feed import.
type Server struct {
	catalog     *catalog.Catalog
	coordinator *catalog.Coordinator
	history     catalog.MutationHistory
	logger      *log.Logger
	authToken   string
	maxBody     int64
	router      *mux.Router
}

type ServerOptions struct {
	Catalog     *catalog.Catalog
	Coordinator *catalog.Coordinator
	History     catalog.MutationHistory
	Logger      *log.Logger
	// AuthToken, when set, is required as a bearer token on /v1 routes.
	AuthToken    string
	MaxBodyBytes int64
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	s := &Server{
		catalog:     opts.Catalog,
		coordinator: opts.Coordinator,
		history:     opts.History,
		logger:      logger,
		authToken:   strings.TrimSpace(opts.AuthToken),
		maxBody:     maxBody,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/source/select", s.handleSelectSource).Methods(http.MethodPost)
	api.HandleFunc("/sources/{kind}/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/listings", s.handleListings).Methods(http.MethodGet)
	api.HandleFunc("/listings/stream", s.handleStream).Methods(http.MethodGet)
	api.HandleFunc("/selected", s.handleGetSelected).Methods(http.MethodGet)
	api.HandleFunc("/selected", s.handlePutSelected).Methods(http.MethodPut)
	api.HandleFunc("/mutations", s.handleMutation).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")) != s.authToken {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type selectSourceRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var req selectSourceRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		return
	}
	kind, err := catalog.ParseSourceIndex(req.Index)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_selection", err.Error())
		return
	}
	if err := s.catalog.SelectSource(r.Context(), kind); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_selection", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "source": kind.String()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseSourceName(mux.Vars(r)["kind"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_selection", "unknown source: "+mux.Vars(r)["kind"])
		return
	}
	// Clearing first defeats the populated-cache guard for sources that
	// otherwise skip the refetch.
	s.catalog.ClearSource(kind)
	if err := s.catalog.SelectSource(r.Context(), kind); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_selection", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "source": kind.String()})
}

type listingsResponse struct {
	Source   *string           `json:"source"`
	Listings []catalog.Listing `json:"listings"`
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	resp := listingsResponse{Listings: s.catalog.Listings()}
	if kind, ok := s.catalog.ActiveSource(); ok {
		name := kind.String()
		resp.Source = &name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSelected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"selected": s.catalog.Selected()})
}

func (s *Server) handlePutSelected(w http.ResponseWriter, r *http.Request) {
	var listing *catalog.Listing
	if err := s.decodeBody(w, r, &listing); err != nil {
		return
	}
	s.catalog.SetSelected(listing)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mutationRequest struct {
	Source   *string `json:"source,omitempty"`
	Key      string  `json:"key"`
	Quantity int     `json:"quantity"`
}

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key is required")
		return
	}
	var kind catalog.SourceKind
	if req.Source != nil {
		parsed, ok := parseSourceName(*req.Source)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_selection", "unknown source: "+*req.Source)
			return
		}
		kind = parsed
	} else {
		active, ok := s.catalog.ActiveSource()
		if !ok {
			writeError(w, http.StatusConflict, "no_active_source", "no source selected and none given")
			return
		}
		kind = active
	}
	if err := s.coordinator.Request(kind, req.Key, req.Quantity); err != nil {
		if errors.Is(err, catalog.ErrInvalidSelection) {
			writeError(w, http.StatusBadRequest, "invalid_selection", err.Error())
			return
		}
		writeError(w, http.StatusConflict, "coordinator_closed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	records, err := s.history.Recent(limit)
	if err != nil {
		s.logger.Printf("reading mutation history: %v", err)
		writeError(w, http.StatusInternalServerError, "history_unavailable", "could not read mutation history")
		return
	}
	if records == nil {
		records = []catalog.MutationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseSourceName(r.URL.Query().Get("source"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_selection", "source query parameter is required")
		return
	}
	opts := catalog.FeedOptions{
		DecodeWindows1251: r.URL.Query().Get("cp1251") == "1",
	}
	items, err := catalog.ParseQuantityFeed(io.LimitReader(r.Body, s.maxBody), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_feed", err.Error())
		return
	}
	applied, skipped, err := s.coordinator.ApplyFeed(r.Context(), kind, items)
	if err != nil {
		s.logger.Printf("feed import for %s aborted: %v", kind, err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":  "aborted",
			"applied": applied,
			"skipped": skipped,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"applied": applied,
		"skipped": skipped,
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, s.maxBody))
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return err
	}
	return nil
}

func parseSourceName(name string) (catalog.SourceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "shopify":
		return catalog.SourceShopify, true
	case "square":
		return catalog.SourceSquare, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
