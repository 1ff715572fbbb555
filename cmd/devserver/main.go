// Command devserver runs an in-memory remote store behind the HTTP
// contract the sync core consumes, for local end-to-end development.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	domainconfig "synccore/domain/config"
	"synccore/domain/core/entities"
	"synccore/infrastructure/config"
	"synccore/infrastructure/remote"
	"synccore/interfaces/http/rest"
	"synccore/pkg/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	store := remote.NewMemoryStoreWithRules(domainconfig.LoadDomainConfig(cfg.Environment))
	seedDemoData(store)

	router := rest.NewRouter(store, logger, cfg.EnableCORS)
	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("dev server listening", zap.String("address", cfg.ServerAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// seedDemoData populates a small sample project so a fresh checkout has
// something to sync against.
func seedDemoData(store *remote.MemoryStore) {
	const projectID = "demo"

	store.SeedNode(projectID, "plan-root", "Project Plan", "The root planning node", map[string]interface{}{
		"builder":      "project",
		"project_data": map[string]interface{}{"type": "milestone"},
	})
	store.SeedNode(projectID, "plan-research", "Research", "Collect references", map[string]interface{}{
		"builder": "project",
	})
	store.SeedNode(projectID, "widget-card", "Card Widget", "", map[string]interface{}{
		"builder":      "elements",
		"element_data": map[string]interface{}{"type": "card"},
	})

	// Stable session id so a local client can hydrate without discovery.
	const sessionID = "demo-session"
	store.SeedMessage(sessionID, entities.Message{
		Role:    entities.RoleUser,
		Content: "Lay out the milestones for the quarter",
	})
	store.SeedWorkingHistory(sessionID, "Initial planning session")
}
