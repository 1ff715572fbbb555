package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"synccore/application/ports"
	domainconfig "synccore/domain/config"
	"synccore/domain/core/entities"
	"synccore/domain/core/valueobjects"
	"synccore/domain/partition"
	pkgerrors "synccore/pkg/errors"
)

// nodeRecord is the server-side shape of a node
type nodeRecord struct {
	ID      string
	Label   string
	Content string
	Meta    map[string]interface{}
}

// MemoryStore is an in-memory ports.RemoteStore. It backs the dev server
// and tests; state is scoped per project and per session, and writes are
// checked against the domain's graph rules.
type MemoryStore struct {
	mu       sync.Mutex
	rules    *domainconfig.DomainConfig
	nodes    map[string]map[string]*nodeRecord
	edges    map[string]map[valueobjects.EdgeKey]partition.FlatEdge
	messages map[string][]entities.Message
	history  map[string]string
	parts    map[string]map[string]interface{}
}

// NewMemoryStore creates an empty in-memory remote store with the default
// domain rules
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithRules(domainconfig.DefaultDomainConfig())
}

// NewMemoryStoreWithRules creates an empty in-memory remote store enforcing
// the given domain rules
func NewMemoryStoreWithRules(rules *domainconfig.DomainConfig) *MemoryStore {
	return &MemoryStore{
		rules:    rules,
		nodes:    make(map[string]map[string]*nodeRecord),
		edges:    make(map[string]map[valueobjects.EdgeKey]partition.FlatEdge),
		messages: make(map[string][]entities.Message),
		history:  make(map[string]string),
		parts:    make(map[string]map[string]interface{}),
	}
}

// SeedNode inserts or replaces a node, creating the project on demand
func (s *MemoryStore) SeedNode(projectID, id, label, content string, meta map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodes[projectID] == nil {
		s.nodes[projectID] = make(map[string]*nodeRecord)
	}
	if _, exists := s.nodes[projectID][id]; !exists {
		if max := s.rules.MaxNodesPerProject; max > 0 && len(s.nodes[projectID]) >= max {
			return pkgerrors.NewValidationError("project node limit reached")
		}
	}
	s.nodes[projectID][id] = &nodeRecord{ID: id, Label: label, Content: content, Meta: meta}
	return nil
}

// SeedMessage appends a message to a session's history, assigning an id
// and timestamp when missing.
func (s *MemoryStore) SeedMessage(sessionID string, msg entities.Message) entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return msg
}

// SeedWorkingHistory sets a session's free-text working history
func (s *MemoryStore) SeedWorkingHistory(sessionID, history string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = history
}

// FetchGraph returns the project's flat node/edge lists
func (s *MemoryStore) FetchGraph(ctx context.Context, projectID string) (*ports.GraphPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := &ports.GraphPayload{}
	for _, n := range s.nodes[projectID] {
		payload.Nodes = append(payload.Nodes, partition.FlatNode{
			ID: n.ID, Label: n.Label, Content: n.Content, Meta: cloneMeta(n.Meta),
		})
	}
	for _, e := range s.edges[projectID] {
		payload.Edges = append(payload.Edges, e)
	}
	return payload, nil
}

// UpdateNode applies a partial node update
func (s *MemoryStore) UpdateNode(ctx context.Context, id string, change entities.NodeChange, opts ports.RequestOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project := s.nodes[opts.ProjectID]
	node, ok := project[id]
	if !ok {
		return pkgerrors.NewNotFoundError("node " + id)
	}
	if change.Label != nil {
		node.Label = *change.Label
	}
	if change.Content != nil {
		node.Content = *change.Content
	}
	if len(change.MetaUpdates) > 0 {
		if node.Meta == nil {
			node.Meta = make(map[string]interface{}, len(change.MetaUpdates))
		}
		for k, v := range change.MetaUpdates {
			if v == nil {
				delete(node.Meta, k)
			} else {
				node.Meta[k] = v
			}
		}
	}
	return nil
}

// CreateEdge inserts an edge, enforcing the graph rules: dangling
// endpoints are rejected, self links and repeat creates only pass when the
// rules allow them, and the per-project edge limit is honored. A repeat
// create under permissive rules replaces the stored edge, since identity
// is the order-independent key.
func (s *MemoryStore) CreateEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	key := edge.Key()
	if key.IsZero() {
		return pkgerrors.NewValidationError("edge endpoints cannot be empty")
	}
	if edge.From == edge.To && !s.rules.AllowSelfLinks {
		return pkgerrors.NewValidationError("self links are not allowed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	project := s.nodes[opts.ProjectID]
	if _, ok := project[edge.From]; !ok {
		return pkgerrors.NewNotFoundError("node " + edge.From)
	}
	if _, ok := project[edge.To]; !ok {
		return pkgerrors.NewNotFoundError("node " + edge.To)
	}

	if s.edges[opts.ProjectID] == nil {
		s.edges[opts.ProjectID] = make(map[valueobjects.EdgeKey]partition.FlatEdge)
	}
	if _, exists := s.edges[opts.ProjectID][key]; exists {
		if !s.rules.AllowDuplicateEdges {
			return pkgerrors.NewConflictError("edge already exists")
		}
	} else if max := s.rules.MaxEdgesPerProject; max > 0 && len(s.edges[opts.ProjectID]) >= max {
		return pkgerrors.NewValidationError("project edge limit reached")
	}
	s.edges[opts.ProjectID][key] = partition.FlatEdge{
		From: edge.From, To: edge.To, Type: edge.Type, Props: edge.Props,
	}
	return nil
}

// DeleteEdge removes an edge by its order-independent key
func (s *MemoryStore) DeleteEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	key := edge.Key()
	if key.IsZero() {
		return pkgerrors.NewValidationError("edge endpoints cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edges[opts.ProjectID][key]; !ok {
		return pkgerrors.NewNotFoundError("edge " + key.String())
	}
	delete(s.edges[opts.ProjectID], key)
	return nil
}

// UpdateEdge replaces the props of an existing edge
func (s *MemoryStore) UpdateEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	key := edge.Key()
	if key.IsZero() {
		return pkgerrors.NewValidationError("edge endpoints cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.edges[opts.ProjectID][key]
	if !ok {
		return pkgerrors.NewNotFoundError("edge " + key.String())
	}
	existing.Props = edge.Props
	s.edges[opts.ProjectID][key] = existing
	return nil
}

// FetchWorkingMemoryContext serves a session's message history and
// working history, bounded by the requested history length.
func (s *MemoryStore) FetchWorkingMemoryContext(ctx context.Context, q ports.ContextQuery) (*ports.ContextPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[q.SessionID]
	if q.NodeID != "" {
		filtered := make([]entities.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.NodeID == "" || m.NodeID == q.NodeID {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}
	if q.HistoryLength > 0 && len(msgs) > q.HistoryLength {
		msgs = msgs[len(msgs)-q.HistoryLength:]
	}

	payload := &ports.ContextPayload{
		Messages:     append([]entities.Message(nil), msgs...),
		MessagesMeta: entities.MessagesMeta{"count": len(msgs)},
	}
	if q.IncludeWorkingHistory {
		payload.WorkingHistory = s.history[q.SessionID]
	}
	return payload, nil
}

// PatchWorkingMemory records a per-field persistence call keyed by session
func (s *MemoryStore) PatchWorkingMemory(ctx context.Context, part string, patch ports.MemoryPatch) error {
	if patch.SessionID == "" {
		return pkgerrors.NewValidationError("session_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parts[patch.SessionID] == nil {
		s.parts[patch.SessionID] = make(map[string]interface{})
	}
	s.parts[patch.SessionID][part] = patch.Value

	// Mirror the fields the store reads back on hydration.
	switch part {
	case "working_history":
		if v, ok := patch.Value.(string); ok {
			s.history[patch.SessionID] = v
		}
	case "messages":
		if v, ok := patch.Value.([]entities.Message); ok {
			s.messages[patch.SessionID] = append([]entities.Message(nil), v...)
		}
	}
	return nil
}

// Part returns the last persisted value for a session's part
func (s *MemoryStore) Part(sessionID, part string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.parts[sessionID][part]
	return v, ok
}

func cloneMeta(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
