// Package di wires the sync core's components together. Collaborators are
// passed in explicitly; there are no module-level singletons.
package di

import (
	"go.uber.org/zap"

	"synccore/application/autosave"
	"synccore/application/ports"
	"synccore/application/structure"
	"synccore/application/workingmemory"
	domaincfg "synccore/domain/config"
	"synccore/infrastructure/config"
	"synccore/infrastructure/remote"
	"synccore/pkg/observability"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Environment, cfg.LogLevel)
}

// ProvideDomainConfig loads the domain rules and applies the deployment
// overrides from the application config.
func ProvideDomainConfig(cfg *config.Config) *domaincfg.DomainConfig {
	dc := domaincfg.LoadDomainConfig(cfg.Environment)
	if cfg.CommitDelay > 0 {
		dc.DefaultCommitDelay = dc.ClampCommitDelay(cfg.CommitDelay)
	}
	if cfg.HistoryLength > 0 {
		dc.DefaultHistoryLength = dc.ClampHistoryLength(cfg.HistoryLength)
	}
	return dc
}

// ProvideRemoteStore creates the HTTP remote store
func ProvideRemoteStore(cfg *config.Config, logger *zap.Logger) ports.RemoteStore {
	return remote.NewHTTPStore(cfg.RemoteBaseURL, cfg.RequestTimeout, logger)
}

// ProvideStructureService creates the structure cache/sync service
func ProvideStructureService(store ports.RemoteStore, logger *zap.Logger) *structure.Service {
	return structure.NewService(store, logger)
}

// ProvideWorkingMemory creates the working-memory store
func ProvideWorkingMemory(store ports.RemoteStore, dc *domaincfg.DomainConfig, logger *zap.Logger) *workingmemory.Store {
	return workingmemory.NewStore(store, dc, logger)
}

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Domain     *domaincfg.DomainConfig
	Logger     *zap.Logger
	Remote     ports.RemoteStore
	Structures *structure.Service
	Memory     *workingmemory.Store
}

// NewCommitter creates a committer bound to one project, wired to this
// container's remote store, structure service and working memory.
func (c *Container) NewCommitter(projectID string) *autosave.Committer {
	return autosave.NewCommitter(c.Remote, c.Structures, c.Memory, c.Domain, c.Logger, projectID)
}

// Close releases the container's resources
func (c *Container) Close() {
	c.Memory.Close()
	_ = c.Logger.Sync()
}
