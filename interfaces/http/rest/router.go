// Package rest exposes the remote-store contract over HTTP for local
// development. The sync core's HTTP client talks to these routes.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"synccore/interfaces/http/rest/handlers"
	"synccore/interfaces/http/rest/middleware"

	"synccore/infrastructure/remote"
)

// Router creates and configures the HTTP router
type Router struct {
	store      *remote.MemoryStore
	logger     *zap.Logger
	enableCORS bool
}

// NewRouter creates a new router instance
func NewRouter(store *remote.MemoryStore, logger *zap.Logger, enableCORS bool) *Router {
	return &Router{
		store:      store,
		logger:     logger,
		enableCORS: enableCORS,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.enableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)

	// Graph endpoints
	graphHandler := handlers.NewGraphHandler(rt.store, rt.logger)
	router.Get("/projects/{projectID}/graph", graphHandler.GetGraph)

	// Node endpoints
	nodeHandler := handlers.NewNodeHandler(rt.store, rt.logger)
	router.Patch("/nodes/{nodeID}", nodeHandler.UpdateNode)

	// Edge endpoints: edges are addressed by endpoints and type in the
	// body, so delete and update live on the collection route.
	edgeHandler := handlers.NewEdgeHandler(rt.store, rt.logger)
	router.Route("/edges", func(r chi.Router) {
		r.Post("/", edgeHandler.CreateEdge)
		r.Delete("/", edgeHandler.DeleteEdge)
		r.Patch("/", edgeHandler.UpdateEdge)
	})

	// Working-memory endpoints
	memoryHandler := handlers.NewMemoryHandler(rt.store, rt.logger)
	router.Route("/working-memory", func(r chi.Router) {
		r.Post("/context", memoryHandler.FetchContext)
		r.Patch("/{part}", memoryHandler.PatchPart)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
