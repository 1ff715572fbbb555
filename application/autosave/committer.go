// Package autosave buffers in-memory mutations to graph entities and
// commits them to the remote store in debounced, coalesced batches.
package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"synccore/application/ports"
	domaincfg "synccore/domain/config"
	"synccore/domain/core/entities"
	"synccore/domain/core/valueobjects"
	"synccore/domain/partition"
)

// StructureSync is the slice of the structure service the committer needs:
// force-invalidate and rebuild after structural commits.
type StructureSync interface {
	RebuildStructure(ctx context.Context, projectID string) (*partition.Structure, error)
}

// MemoryRefresher lets the committer ask working memory to re-derive state
// for the node ids a commit touched.
type MemoryRefresher interface {
	RefreshNodes(ctx context.Context, projectID string, nodeIDs []string)
}

// pendingLink is one coalesced edge entry in the dirty set
type pendingLink struct {
	action LinkAction
	edge   *entities.Edge
}

// Committer accumulates dirty nodes and links and flushes them on a
// debounce timer, on explicit request, or on lifecycle signals. At most
// one commit pass runs at a time; a second request defers rather than
// interleaving.
type Committer struct {
	remote     ports.GraphStore
	structures StructureSync
	memory     MemoryRefresher
	domain     *domaincfg.DomainConfig
	logger     *zap.Logger
	projectID  string

	mu         sync.Mutex
	dirtyNodes map[string]entities.NodeChange
	dirtyLinks map[valueobjects.EdgeKey]*pendingLink
	status     Status
	listeners  map[int]StatusListener
	nextID     int
	timer      *time.Timer
	delay      time.Duration
	inFlight   bool
	rerun      bool
}

// NewCommitter creates a committer for one project. structures and memory
// may be nil when the caller does not need post-commit propagation.
func NewCommitter(
	remote ports.GraphStore,
	structures StructureSync,
	memory MemoryRefresher,
	domain *domaincfg.DomainConfig,
	logger *zap.Logger,
	projectID string,
) *Committer {
	if domain == nil {
		domain = domaincfg.DefaultDomainConfig()
	}
	return &Committer{
		remote:     remote,
		structures: structures,
		memory:     memory,
		domain:     domain,
		logger:     logger,
		projectID:  projectID,
		dirtyNodes: make(map[string]entities.NodeChange),
		dirtyLinks: make(map[valueobjects.EdgeKey]*pendingLink),
		status:     StatusIdle,
		listeners:  make(map[int]StatusListener),
		delay:      domain.ClampCommitDelay(domain.DefaultCommitDelay),
	}
}

// SetCommitDelay overrides the debounce delay, enforcing the minimum floor
func (c *Committer) SetCommitDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = c.domain.ClampCommitDelay(d)
}

// Status returns the current autosave status
func (c *Committer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe registers a status listener and returns an unsubscribe func
func (c *Committer) Subscribe(listener StatusListener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// MarkNodeDirty drains the node's accumulated field changes into the dirty
// set, moves the status to dirty unless a commit is in flight, and
// schedules a debounced commit.
func (c *Committer) MarkNodeDirty(node *entities.Node, reason string) {
	if node == nil {
		return
	}
	change, ok := node.TakeChanges()
	if !ok {
		return
	}

	c.mu.Lock()
	entry := c.dirtyNodes[node.ID()]
	entry.Merge(change)
	c.dirtyNodes[node.ID()] = entry

	var emit []Status
	if !c.inFlight {
		emit = c.setStatusLocked(StatusDirty)
	}
	c.scheduleLocked(c.delay)
	c.mu.Unlock()

	c.logger.Debug("node marked dirty",
		zap.String("nodeID", node.ID()),
		zap.String("reason", reason),
	)
	c.notify(emit)
}

// MarkLinkChange coalesces an edge mutation into the dirty set using the
// merge policy:
//
//	create over create  -> replace props
//	delete over create  -> cancel the entry entirely (net no-op)
//	delete over other   -> delete, props discarded
//	update over delete  -> no-op, deletion wins
//	update over create  -> merge props into the pending create
//	update, no entry    -> update
func (c *Committer) MarkLinkChange(change LinkChange) error {
	key, err := valueobjects.NewEdgeKey(change.From, change.To, change.Type)
	if err != nil {
		return err
	}
	edge, err := entities.NewEdge(change.From, change.To, change.Type, change.Props)
	if err != nil {
		return err
	}

	c.mu.Lock()
	existing := c.dirtyLinks[key]

	switch change.Action {
	case LinkActionCreate:
		c.dirtyLinks[key] = &pendingLink{action: LinkActionCreate, edge: edge}

	case LinkActionDelete:
		if existing != nil && existing.action == LinkActionCreate {
			// Create then delete before any commit: nothing to send.
			delete(c.dirtyLinks, key)
		} else {
			c.dirtyLinks[key] = &pendingLink{
				action: LinkActionDelete,
				edge:   &entities.Edge{From: edge.From, To: edge.To, Type: edge.Type},
			}
		}

	case LinkActionUpdate:
		switch {
		case existing == nil:
			c.dirtyLinks[key] = &pendingLink{action: LinkActionUpdate, edge: edge}
		case existing.action == LinkActionDelete:
			// Deletion wins.
		default:
			merged := existing.edge.Clone()
			for k, v := range edge.Props {
				merged.Props[k] = v
			}
			c.dirtyLinks[key] = &pendingLink{action: existing.action, edge: merged}
		}

	default:
		c.mu.Unlock()
		c.logger.Warn("unknown link action ignored", zap.String("action", string(change.Action)))
		return nil
	}

	var emit []Status
	if !c.inFlight {
		emit = c.setStatusLocked(StatusDirty)
	}
	c.scheduleLocked(c.delay)
	c.mu.Unlock()

	c.notify(emit)
	return nil
}

// HasPending reports whether anything is waiting to commit or committing
func (c *Committer) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirtyNodes) > 0 || len(c.dirtyLinks) > 0 || c.inFlight
}

// Flush commits immediately with best-effort lifecycle semantics. Intended
// for page-hide/unload hooks: the pass is bounded by the keepalive timeout
// and errors are logged, not returned to block unload.
func (c *Committer) Flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.domain.KeepaliveTimeout)
	defer cancel()
	if err := c.Commit(ctx, CommitOptions{Keepalive: true}); err != nil {
		c.logger.Warn("flush commit failed", zap.Error(err))
	}
}

// Commit flushes the dirty sets to the remote store. If a commit is
// already in flight the call defers: exactly one additional pass runs
// after the current one completes. Per-entity failures are isolated; any
// failure marks the pass as errored and schedules a retry.
func (c *Committer) Commit(ctx context.Context, opts CommitOptions) error {
	c.mu.Lock()
	if c.inFlight {
		c.rerun = true
		c.mu.Unlock()
		return nil
	}
	if len(c.dirtyNodes) == 0 && len(c.dirtyLinks) == 0 {
		var emit []Status
		if c.status == StatusSaved {
			emit = c.setStatusLocked(StatusIdle)
		}
		c.mu.Unlock()
		c.notify(emit)
		return nil
	}

	c.inFlight = true
	c.stopTimerLocked()
	emit := c.setStatusLocked(StatusSaving)

	// Take ownership of the current entries; failures are merged back
	// under anything that arrives while the pass runs.
	nodes := c.dirtyNodes
	links := c.dirtyLinks
	c.dirtyNodes = make(map[string]entities.NodeChange)
	c.dirtyLinks = make(map[valueobjects.EdgeKey]*pendingLink)
	c.mu.Unlock()
	c.notify(emit)

	reqOpts := ports.RequestOptions{ProjectID: c.projectID, Keepalive: opts.Keepalive}
	failed := false
	structureChanged := false
	touched := make(map[string]bool)

	for id, change := range nodes {
		if change.IsEmpty() {
			continue
		}
		if err := c.remote.UpdateNode(ctx, id, change, reqOpts); err != nil {
			c.logger.Warn("node commit failed, will retry",
				zap.String("nodeID", id),
				zap.Error(err),
			)
			failed = true
			c.requeueNode(id, change)
			continue
		}
		touched[id] = true
	}

	for key, link := range links {
		var err error
		switch link.action {
		case LinkActionCreate:
			err = c.remote.CreateEdge(ctx, link.edge, reqOpts)
		case LinkActionDelete:
			err = c.remote.DeleteEdge(ctx, link.edge, reqOpts)
		case LinkActionUpdate:
			err = c.remote.UpdateEdge(ctx, link.edge, reqOpts)
		}
		if err != nil {
			c.logger.Warn("link commit failed, will retry",
				zap.String("edge", key.String()),
				zap.String("action", string(link.action)),
				zap.Error(err),
			)
			failed = true
			c.requeueLink(key, link)
			continue
		}
		if link.action != LinkActionUpdate {
			structureChanged = true
		}
		touched[link.edge.From] = true
		touched[link.edge.To] = true
	}

	c.mu.Lock()
	c.inFlight = false
	rerun := c.rerun
	c.rerun = false

	if failed {
		emit = c.setStatusLocked(StatusError)
		c.scheduleLocked(c.domain.RetryDelay)
	} else {
		emit = c.setStatusLocked(StatusSaved)
		if len(c.dirtyNodes) == 0 && len(c.dirtyLinks) == 0 && !rerun {
			emit = append(emit, c.setStatusLocked(StatusIdle)...)
		}
	}
	if rerun {
		c.scheduleLocked(c.domain.MinCommitDelay)
	}
	c.mu.Unlock()
	c.notify(emit)

	if structureChanged {
		c.propagate(ctx, touched)
	}
	return nil
}

// propagate rebuilds the partitioned structure and asks working memory to
// refresh the node ids this pass touched.
func (c *Committer) propagate(ctx context.Context, touched map[string]bool) {
	if c.structures != nil {
		if _, err := c.structures.RebuildStructure(ctx, c.projectID); err != nil {
			c.logger.Warn("structure rebuild after commit failed", zap.Error(err))
		}
	}
	if c.memory != nil {
		ids := make([]string, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		c.memory.RefreshNodes(ctx, c.projectID, ids)
	}
}

// requeueNode returns a failed node change to the dirty set without
// overriding newer changes recorded while the commit ran.
func (c *Committer) requeueNode(id string, change entities.NodeChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	newer := c.dirtyNodes[id]
	newer.MergeUnder(change)
	c.dirtyNodes[id] = newer
}

// requeueLink returns a failed link entry unless a newer entry for the
// same key superseded it during the commit.
func (c *Committer) requeueLink(key valueobjects.EdgeKey, link *pendingLink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirtyLinks[key]; !ok {
		c.dirtyLinks[key] = link
	}
}

// Close stops the debounce timer. Pending entries stay in the dirty sets.
func (c *Committer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

// setStatusLocked transitions the status, returning the transitions to
// emit after the lock is released. No-op when the status is unchanged.
func (c *Committer) setStatusLocked(s Status) []Status {
	if c.status == s {
		return nil
	}
	c.status = s
	return []Status{s}
}

// notify fans a batch of transitions out to listeners
func (c *Committer) notify(statuses []Status) {
	if len(statuses) == 0 {
		return
	}
	c.mu.Lock()
	listeners := make([]StatusListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, s := range statuses {
		for _, l := range listeners {
			l(s)
		}
	}
}

// scheduleLocked (re)arms the debounce timer; a stale timer is stopped
// rather than allowed to fire.
func (c *Committer) scheduleLocked(d time.Duration) {
	c.stopTimerLocked()
	c.timer = time.AfterFunc(d, func() {
		if err := c.Commit(context.Background(), CommitOptions{}); err != nil {
			c.logger.Warn("scheduled commit failed", zap.Error(err))
		}
	})
}

func (c *Committer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
