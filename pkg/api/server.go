package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/pacfleet/pacfleet/pkg/analyzer"
	"github.com/pacfleet/pacfleet/pkg/auth"
	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/coordinator"
	"github.com/pacfleet/pacfleet/pkg/events"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/metrics"
	"github.com/pacfleet/pacfleet/pkg/pool"
	"github.com/pacfleet/pacfleet/pkg/state"
	"github.com/pacfleet/pacfleet/pkg/storage"
)

// Server is the HTTP and WebSocket surface of the coordination core.
type Server struct {
	store    *storage.Store
	auth     *auth.Manager
	pools    *pool.Manager
	states   *state.Manager
	analyzer *analyzer.Analyzer
	coord    *coordinator.Coordinator
	broker   *events.Broker
	logger   zerolog.Logger

	router *mux.Router
	http   *http.Server
}

// Deps carries the server's collaborators.
type Deps struct {
	Store    *storage.Store
	Auth     *auth.Manager
	Pools    *pool.Manager
	States   *state.Manager
	Analyzer *analyzer.Analyzer
	Coord    *coordinator.Coordinator
	Broker   *events.Broker
}

// NewServer wires the route table and middleware chain.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		store:    deps.Store,
		auth:     deps.Auth,
		pools:    deps.Pools,
		states:   deps.States,
		analyzer: deps.Analyzer,
		coord:    deps.Coord,
		broker:   deps.Broker,
		logger:   log.WithComponent("api"),
	}
	s.router = s.routes()

	allowed := cfg.CORSAllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(s.instrument(s.router))

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until the listener closes. Blocking.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	// Unauthenticated surface.
	r.HandleFunc("/api/endpoints/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/health/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", metrics.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Everything under /api (bar registration) requires a bearer token.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/endpoints", s.handleListEndpoints).Methods(http.MethodGet)
	api.HandleFunc("/endpoints/{id}", s.handleGetEndpoint).Methods(http.MethodGet)
	api.HandleFunc("/endpoints/{id}/status", s.requireSelf("id", s.handleUpdateEndpointStatus)).Methods(http.MethodPut)
	api.HandleFunc("/endpoints/{id}/heartbeat", s.requireSelf("id", s.handleHeartbeat)).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{id}/snapshots", s.requireSelf("id", s.handleSaveSnapshot)).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{id}/snapshots", s.handleListSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/endpoints/{id}/repositories", s.requireSelf("id", s.handleReplaceRepositories)).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{id}/repositories", s.handleListRepositories).Methods(http.MethodGet)
	api.HandleFunc("/endpoints/{id}", s.requireSelf("id", s.handleDeleteEndpoint)).Methods(http.MethodDelete)

	api.HandleFunc("/pools", s.requireAdmin(s.handleCreatePool)).Methods(http.MethodPost)
	api.HandleFunc("/pools", s.handleListPools).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}", s.handleGetPool).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}", s.requireAdmin(s.handleUpdatePool)).Methods(http.MethodPut)
	api.HandleFunc("/pools/{id}", s.requireAdmin(s.handleDeletePool)).Methods(http.MethodDelete)
	api.HandleFunc("/pools/{id}/status", s.handlePoolStatus).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}/endpoints", s.requireAdmin(s.handleAssignEndpoint)).Methods(http.MethodPost)
	api.HandleFunc("/pools/{id}/endpoints/{eid}", s.requireAdmin(s.handleDetachEndpoint)).Methods(http.MethodDelete)
	api.HandleFunc("/pools/{id}/endpoints/{eid}/move/{target_pool_id}", s.requireAdmin(s.handleMoveEndpoint)).Methods(http.MethodPut)

	api.HandleFunc("/endpoints/{id}/sync", s.rejectWhenDraining(s.requireSelf("id", s.handleSyncToLatest))).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{id}/set-latest", s.rejectWhenDraining(s.requireSelf("id", s.handleSetAsLatest))).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{id}/revert", s.rejectWhenDraining(s.requireSelf("id", s.handleRevert))).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{id}/operations", s.handleEndpointOperations).Methods(http.MethodGet)
	api.HandleFunc("/pools/{id}/operations", s.handlePoolOperations).Methods(http.MethodGet)
	api.HandleFunc("/operations/{id}", s.handleGetOperation).Methods(http.MethodGet)
	api.HandleFunc("/operations/{id}", s.handleCancelOperation).Methods(http.MethodDelete)
	api.HandleFunc("/repositories/analysis/{pool_id}", s.handleAnalysis).Methods(http.MethodGet)

	// WebSocket push channel; authenticates via bearer token like the rest.
	r.Handle("/ws/operations", s.authenticate(http.HandlerFunc(s.handleOperationsWS))).Methods(http.MethodGet)

	return r
}

func pathVarValue(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
