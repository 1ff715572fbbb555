package workingmemory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"synccore/application/ports"
	"synccore/domain/config"
	"synccore/domain/core/entities"
	"synccore/domain/partition"
	"synccore/pkg/utils"
)

// Working-memory parts persisted individually via PatchWorkingMemory
const (
	PartSession          = "session"
	PartProjectStructure = "project_structure"
	PartNodeContext      = "node_context"
	PartFetchedContext   = "fetched_context"
	PartWorkingHistory   = "working_history"
	PartMessages         = "messages"
	PartSettings         = "settings"
)

// Listener receives a full snapshot copy on every change
type Listener func(Snapshot)

// SettingsListener receives the settings facet on settings changes
type SettingsListener func(Settings)

// InitOptions seeds a fresh working-memory session
type InitOptions struct {
	ProjectID    string `validate:"required"`
	SessionID    string `validate:"required"`
	ActiveNodeID string
}

// Store owns the mutable working-memory snapshot. All state behind mu;
// notifications and remote persistence happen outside the lock.
type Store struct {
	remote ports.MemoryStore
	domain *config.DomainConfig
	logger *zap.Logger

	mu   sync.Mutex
	snap Snapshot

	// Authoritative values for the gated facets. Setters always write
	// here; the visible snapshot mirrors them only while the matching
	// include flag is on, so nothing is lost while suppressed.
	shadowNodeContext    string
	shadowFetchedContext string
	shadowWorkingHistory string
	hiddenStructure      *partition.Structure

	listeners         map[int]Listener
	settingsListeners map[int]SettingsListener
	nextListenerID    int

	// Hydration bookkeeping: only the response matching the latest seq
	// is applied, superseded fetches are cancelled.
	hydrateSeq    uint64
	hydrateKey    string
	hydrating     bool
	hydrateCancel context.CancelFunc

	refreshFlight singleflight.Group
}

// NewStore creates a working-memory store backed by the given remote store
func NewStore(remote ports.MemoryStore, domainCfg *config.DomainConfig, logger *zap.Logger) *Store {
	return &Store{
		remote:            remote,
		domain:            domainCfg,
		logger:            logger,
		snap:              defaultSnapshot(domainCfg),
		listeners:         make(map[int]Listener),
		settingsListeners: make(map[int]SettingsListener),
	}
}

func defaultSnapshot(domainCfg *config.DomainConfig) Snapshot {
	return Snapshot{
		Messages: []entities.Message{},
		Config: Settings{
			IncludeProjectStructure: true,
			IncludeContext:          true,
			IncludeWorkingHistory:   true,
			HistoryLength:           domainCfg.DefaultHistoryLength,
		},
	}
}

// Initialise resets the snapshot to defaults for the given session and
// triggers remote hydration. Overlapping hydrations for the same session
// collapse onto one in-flight load.
func (s *Store) Initialise(opts InitOptions) error {
	if err := utils.ValidateStruct(opts); err != nil {
		return err
	}

	s.mu.Lock()
	s.snap = defaultSnapshot(s.domain)
	s.snap.Session = Session{
		SessionID:    opts.SessionID,
		ProjectID:    opts.ProjectID,
		ActiveNodeID: opts.ActiveNodeID,
		Timestamp:    utils.NowRFC3339(),
	}
	s.shadowNodeContext = ""
	s.shadowFetchedContext = ""
	s.shadowWorkingHistory = ""
	s.hiddenStructure = nil
	s.mu.Unlock()

	s.notify()
	s.hydrate()
	return nil
}

// SetSession applies a partial session update. A session-id change
// triggers re-hydration; an active-node change alone triggers a scoped
// refresh deduplicated per (projectID, nodeID, reason).
func (s *Store) SetSession(patch SessionPatch) {
	s.mu.Lock()
	prev := s.snap.Session
	if patch.SessionID != nil {
		s.snap.Session.SessionID = *patch.SessionID
	}
	if patch.ProjectID != nil {
		s.snap.Session.ProjectID = *patch.ProjectID
	}
	if patch.ActiveNodeID != nil {
		s.snap.Session.ActiveNodeID = *patch.ActiveNodeID
	}
	s.snap.Session.Timestamp = utils.NowRFC3339()
	sessionChanged := s.snap.Session.SessionID != prev.SessionID
	nodeChanged := s.snap.Session.ActiveNodeID != prev.ActiveNodeID
	projectID := s.snap.Session.ProjectID
	nodeID := s.snap.Session.ActiveNodeID
	session := s.snap.Session
	s.mu.Unlock()

	s.notify()
	s.persist(PartSession, session)

	if sessionChanged {
		s.hydrate()
	} else if nodeChanged && nodeID != "" {
		go s.refreshScope(projectID, nodeID, "active_node")
	}
}

// SetProjectGraph replaces the project half of the structure facet
func (s *Store) SetProjectGraph(sub partition.Subgraph) {
	cloned := (&partition.Structure{Project: sub}).Clone().Project
	s.setStructureFacet(func(st *partition.Structure) {
		st.Project = cloned
	})
}

// SetElementsGraph replaces the elements half of the structure facet
func (s *Store) SetElementsGraph(sub partition.Subgraph) {
	cloned := (&partition.Structure{Elements: sub}).Clone().Elements
	s.setStructureFacet(func(st *partition.Structure) {
		st.Elements = cloned
	})
}

// SetProjectStructure replaces the whole structure facet
func (s *Store) SetProjectStructure(st *partition.Structure) {
	if st == nil {
		st = &partition.Structure{}
	}
	incoming := st.Clone()
	s.setStructureFacet(func(target *partition.Structure) {
		*target = *incoming
	})
}

// setStructureFacet routes a structure update either into the visible
// snapshot or, while include_project_structure is off, into the hidden
// holding area. Hidden updates are frozen, not discarded: re-enabling the
// flag thaws them back into the visible snapshot.
func (s *Store) setStructureFacet(apply func(*partition.Structure)) {
	s.mu.Lock()
	var persisted *partition.Structure
	if s.snap.Config.IncludeProjectStructure {
		if s.snap.ProjectStructure == nil {
			s.snap.ProjectStructure = &partition.Structure{}
		}
		apply(s.snap.ProjectStructure)
		persisted = s.snap.ProjectStructure.Clone()
	} else {
		if s.hiddenStructure == nil {
			s.hiddenStructure = &partition.Structure{}
		}
		apply(s.hiddenStructure)
		persisted = s.hiddenStructure.Clone()
	}
	s.snap.Session.Timestamp = utils.NowRFC3339()
	s.mu.Unlock()

	s.notify()
	s.persist(PartProjectStructure, persisted)
}

// SetNodeContext updates the active-node context facet
func (s *Store) SetNodeContext(v string) {
	s.mu.Lock()
	s.shadowNodeContext = v
	if s.snap.Config.IncludeContext {
		s.snap.NodeContext = v
	}
	s.snap.Session.Timestamp = utils.NowRFC3339()
	s.mu.Unlock()

	s.notify()
	s.persist(PartNodeContext, v)
}

// SetFetchedContext updates the remotely fetched context facet
func (s *Store) SetFetchedContext(v string) {
	s.mu.Lock()
	s.shadowFetchedContext = v
	if s.snap.Config.IncludeContext {
		s.snap.FetchedContext = v
	}
	s.snap.Session.Timestamp = utils.NowRFC3339()
	s.mu.Unlock()

	s.notify()
	s.persist(PartFetchedContext, v)
}

// SetWorkingHistory updates the free-text working history facet
func (s *Store) SetWorkingHistory(v string) {
	s.mu.Lock()
	s.shadowWorkingHistory = v
	if s.snap.Config.IncludeWorkingHistory {
		s.snap.WorkingHistory = v
	}
	s.snap.Session.Timestamp = utils.NowRFC3339()
	s.mu.Unlock()

	s.notify()
	s.persist(PartWorkingHistory, v)
}

// SetMessages replaces the message history: entries are sanitized, sorted
// chronologically with numeric-then-lexical id tie-break, and truncated to
// the configured history length keeping the most recent.
func (s *Store) SetMessages(messages []entities.Message, meta entities.MessagesMeta) {
	s.mu.Lock()
	msgs := sanitizeMessages(messages)
	sortMessages(msgs)
	msgs = truncateMessages(msgs, s.snap.Config.HistoryLength)
	s.snap.Messages = msgs
	s.snap.MessagesMeta = meta.Clone()
	s.snap.LastUserMessage = lastUserMessage(msgs)
	s.snap.Session.Timestamp = utils.NowRFC3339()
	persisted := append([]entities.Message(nil), msgs...)
	s.mu.Unlock()

	s.notify()
	s.persist(PartMessages, persisted)
}

// GetSnapshot returns a deep copy of the current snapshot
func (s *Store) GetSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// GetSnapshotForNode derives a node-scoped view: structure restricted to
// the node's 1-hop neighborhood, messages filtered to global entries and
// those addressed to the node, counts and last_user_message recomputed.
// Ids in neither subgraph yield an empty view, never an error.
func (s *Store) GetSnapshotForNode(nodeID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.snap.Clone()
	if s.snap.ProjectStructure != nil {
		out.ProjectStructure = s.snap.ProjectStructure.Scoped(nodeID)
	} else {
		out.ProjectStructure = &partition.Structure{}
	}

	// Membership is decided against the authoritative structure even while
	// the structure facet is gated off.
	authoritative := s.snap.ProjectStructure
	if authoritative == nil {
		authoritative = s.hiddenStructure
	}
	known := false
	if authoritative != nil {
		_, known = authoritative.Contains(nodeID)
	}

	filtered := make([]entities.Message, 0, len(s.snap.Messages))
	if known {
		for _, m := range s.snap.Messages {
			if m.NodeID == "" || m.NodeID == nodeID {
				filtered = append(filtered, m)
			}
		}
	}
	out.Messages = filtered
	out.LastUserMessage = lastUserMessage(filtered)
	if out.MessagesMeta == nil {
		out.MessagesMeta = entities.MessagesMeta{}
	}
	out.MessagesMeta["count"] = len(filtered)
	return out
}

// UpdateSettings merges a partial settings update, clamps the history
// length, re-applies the visibility gates and notifies both listener sets.
func (s *Store) UpdateSettings(patch SettingsPatch) {
	s.mu.Lock()
	cfg := &s.snap.Config
	prevStructure := cfg.IncludeProjectStructure
	if patch.IncludeProjectStructure != nil {
		cfg.IncludeProjectStructure = *patch.IncludeProjectStructure
	}
	if patch.IncludeContext != nil {
		cfg.IncludeContext = *patch.IncludeContext
	}
	if patch.IncludeWorkingHistory != nil {
		cfg.IncludeWorkingHistory = *patch.IncludeWorkingHistory
	}
	if patch.HistoryLength != nil {
		cfg.HistoryLength = s.domain.ClampHistoryLength(*patch.HistoryLength)
	}

	// Re-apply the gates against the authoritative values.
	if cfg.IncludeProjectStructure && !prevStructure {
		if s.hiddenStructure != nil {
			s.snap.ProjectStructure = s.hiddenStructure
			s.hiddenStructure = nil
		}
	} else if !cfg.IncludeProjectStructure && prevStructure {
		if s.snap.ProjectStructure != nil {
			s.hiddenStructure = s.snap.ProjectStructure
		}
		s.snap.ProjectStructure = nil
	}
	if cfg.IncludeContext {
		s.snap.NodeContext = s.shadowNodeContext
		s.snap.FetchedContext = s.shadowFetchedContext
	} else {
		s.snap.NodeContext = ""
		s.snap.FetchedContext = ""
	}
	if cfg.IncludeWorkingHistory {
		s.snap.WorkingHistory = s.shadowWorkingHistory
	} else {
		s.snap.WorkingHistory = ""
	}

	s.snap.Messages = truncateMessages(s.snap.Messages, cfg.HistoryLength)
	s.snap.LastUserMessage = lastUserMessage(s.snap.Messages)
	s.snap.Session.Timestamp = utils.NowRFC3339()
	settings := *cfg
	s.mu.Unlock()

	s.notify()
	s.notifySettings(settings)
	s.persist(PartSettings, settings)
}

// Subscribe registers a snapshot listener with an immediate synchronous
// replay of the current state. The returned func unsubscribes.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = l
	current := s.snap.Clone()
	s.mu.Unlock()

	l(current)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SubscribeSettings registers a settings listener with immediate replay
func (s *Store) SubscribeSettings(l SettingsListener) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.settingsListeners[id] = l
	current := s.snap.Config
	s.mu.Unlock()

	l(current)
	return func() {
		s.mu.Lock()
		delete(s.settingsListeners, id)
		s.mu.Unlock()
	}
}

// RefreshNodes reconciles the snapshot after a commit touched the given
// node ids. Only the active node's scope matters; anything else leaves the
// current context valid.
func (s *Store) RefreshNodes(ctx context.Context, projectID string, nodeIDs []string) {
	s.mu.Lock()
	active := s.snap.Session.ActiveNodeID
	s.mu.Unlock()

	if active == "" {
		return
	}
	touched := len(nodeIDs) == 0
	for _, id := range nodeIDs {
		if id == active {
			touched = true
			break
		}
	}
	if !touched {
		return
	}
	s.refreshScope(projectID, active, "commit")
}

// Close cancels any in-flight hydration
func (s *Store) Close() {
	s.mu.Lock()
	if s.hydrateCancel != nil {
		s.hydrateCancel()
		s.hydrateCancel = nil
	}
	s.hydrating = false
	s.mu.Unlock()
}

// hydrate loads session context from the remote store. A newer hydration
// cancels and supersedes an older one; a duplicate for the same scope
// joins the in-flight load instead of issuing another.
func (s *Store) hydrate() {
	s.mu.Lock()
	sess := s.snap.Session
	key := sess.SessionID + "|" + sess.ProjectID + "|" + sess.ActiveNodeID
	if s.hydrating && s.hydrateKey == key {
		s.mu.Unlock()
		return
	}
	if s.hydrateCancel != nil {
		s.hydrateCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.hydrateSeq++
	seq := s.hydrateSeq
	s.hydrateKey = key
	s.hydrating = true
	s.hydrateCancel = cancel
	query := ports.ContextQuery{
		SessionID:             sess.SessionID,
		ProjectID:             sess.ProjectID,
		NodeID:                sess.ActiveNodeID,
		HistoryLength:         s.snap.Config.HistoryLength,
		IncludeWorkingHistory: s.snap.Config.IncludeWorkingHistory,
	}
	s.mu.Unlock()

	go func() {
		defer cancel()
		payload, err := s.remote.FetchWorkingMemoryContext(ctx, query)

		s.mu.Lock()
		if seq != s.hydrateSeq {
			// Superseded while in flight, drop the response.
			s.mu.Unlock()
			return
		}
		s.hydrating = false
		if err != nil {
			s.mu.Unlock()
			s.logger.Warn("working-memory hydration failed",
				zap.String("sessionID", query.SessionID),
				zap.Error(err),
			)
			return
		}
		s.applyContextLocked(payload)
		s.mu.Unlock()
		s.notify()
	}()
}

// refreshScope re-fetches context for one node scope. Concurrent calls
// for the same (projectID, nodeID, reason) collapse onto one fetch.
func (s *Store) refreshScope(projectID, nodeID, reason string) {
	key := projectID + "|" + nodeID + "|" + reason
	_, err, _ := s.refreshFlight.Do(key, func() (interface{}, error) {
		s.mu.Lock()
		query := ports.ContextQuery{
			SessionID:             s.snap.Session.SessionID,
			ProjectID:             projectID,
			NodeID:                nodeID,
			HistoryLength:         s.snap.Config.HistoryLength,
			IncludeWorkingHistory: s.snap.Config.IncludeWorkingHistory,
		}
		s.mu.Unlock()

		payload, err := s.remote.FetchWorkingMemoryContext(context.Background(), query)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.snap.Session.ActiveNodeID != nodeID {
			// Selection moved on while fetching, discard.
			s.mu.Unlock()
			return nil, nil
		}
		s.applyContextLocked(payload)
		s.mu.Unlock()
		s.notify()
		return nil, nil
	})
	if err != nil {
		s.logger.Warn("scoped context refresh failed",
			zap.String("projectID", projectID),
			zap.String("nodeID", nodeID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// applyContextLocked folds a remote context payload into the snapshot.
// Caller holds the lock. Remote data passes through the same sanitize,
// sort, truncate pipeline as local updates.
func (s *Store) applyContextLocked(payload *ports.ContextPayload) {
	if payload == nil {
		return
	}
	msgs := sanitizeMessages(payload.Messages)
	sortMessages(msgs)
	msgs = truncateMessages(msgs, s.snap.Config.HistoryLength)
	s.snap.Messages = msgs
	s.snap.MessagesMeta = payload.MessagesMeta.Clone()
	s.snap.LastUserMessage = lastUserMessage(msgs)

	s.shadowWorkingHistory = payload.WorkingHistory
	if s.snap.Config.IncludeWorkingHistory {
		s.snap.WorkingHistory = payload.WorkingHistory
	}
	s.snap.Session.Timestamp = utils.NowRFC3339()
}

// notify fans the current snapshot out to all listeners, outside the lock
func (s *Store) notify() {
	s.mu.Lock()
	snapshot := s.snap.Clone()
	targets := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		targets = append(targets, l)
	}
	s.mu.Unlock()

	for _, l := range targets {
		l(snapshot)
	}
}

func (s *Store) notifySettings(settings Settings) {
	s.mu.Lock()
	targets := make([]SettingsListener, 0, len(s.settingsListeners))
	for _, l := range s.settingsListeners {
		targets = append(targets, l)
	}
	s.mu.Unlock()

	for _, l := range targets {
		l(settings)
	}
}

// persist pushes one changed field to the remote store, best effort.
// Failures are logged, the local snapshot is never rolled back.
func (s *Store) persist(part string, value interface{}) {
	s.mu.Lock()
	patch := ports.MemoryPatch{
		SessionID: s.snap.Session.SessionID,
		ProjectID: s.snap.Session.ProjectID,
		NodeID:    s.snap.Session.ActiveNodeID,
		Value:     value,
	}
	s.mu.Unlock()

	if patch.SessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.remote.PatchWorkingMemory(ctx, part, patch); err != nil {
			s.logger.Warn("working-memory persistence failed",
				zap.String("part", part),
				zap.Error(err),
			)
		}
	}()
}
