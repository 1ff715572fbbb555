// Package ports declares the abstract remote-store contract the sync core
// depends on. Implementations live in infrastructure; the core never sees
// transport details.
package ports

import (
	"context"

	"synccore/domain/core/entities"
	"synccore/domain/partition"
)

// GraphPayload is the response shape of FetchGraph. The remote store
// returns either a flat node/edge list or an already partitioned
// structure; IsPartitioned distinguishes the two.
type GraphPayload struct {
	Nodes []partition.FlatNode `json:"nodes,omitempty"`
	Edges []partition.FlatEdge `json:"edges,omitempty"`

	ProjectGraph  *partition.Subgraph   `json:"project_graph,omitempty"`
	ElementsGraph *partition.Subgraph   `json:"elements_graph,omitempty"`
	CrossLinks    []partition.CrossLink `json:"cross_links,omitempty"`
}

// IsPartitioned reports whether the payload arrived pre-partitioned
func (p *GraphPayload) IsPartitioned() bool {
	return p.ProjectGraph != nil || p.ElementsGraph != nil
}

// Structure assembles the payload into a validated partition structure
func (p *GraphPayload) Structure() *partition.Structure {
	if !p.IsPartitioned() {
		return partition.Partition(p.Nodes, p.Edges)
	}
	s := &partition.Structure{CrossLinks: p.CrossLinks}
	if p.ProjectGraph != nil {
		s.Project = *p.ProjectGraph
	}
	if p.ElementsGraph != nil {
		s.Elements = *p.ElementsGraph
	}
	// Pre-partitioned responses pass through revalidation, not partitioning.
	return partition.Revalidate(s)
}

// RequestOptions carries per-call routing and lifecycle hints
type RequestOptions struct {
	ProjectID string
	// Keepalive marks a best-effort call issued during page hide/unload;
	// implementations should not block on it longer than necessary.
	Keepalive bool
}

// GraphStore is the remote contract for graph entities
type GraphStore interface {
	// FetchGraph retrieves the full graph for a project
	FetchGraph(ctx context.Context, projectID string) (*GraphPayload, error)

	// UpdateNode persists only the changed fields of a node
	UpdateNode(ctx context.Context, id string, change entities.NodeChange, opts RequestOptions) error

	// CreateEdge persists a new edge
	CreateEdge(ctx context.Context, edge *entities.Edge, opts RequestOptions) error

	// DeleteEdge removes an edge by its endpoints and type
	DeleteEdge(ctx context.Context, edge *entities.Edge, opts RequestOptions) error

	// UpdateEdge replaces the props of an existing edge
	UpdateEdge(ctx context.Context, edge *entities.Edge, opts RequestOptions) error
}

// ContextQuery selects which working-memory context to fetch
type ContextQuery struct {
	SessionID             string `json:"session_id,omitempty"`
	ProjectID             string `json:"project_id,omitempty"`
	NodeID                string `json:"node_id,omitempty"`
	HistoryLength         int    `json:"history_length,omitempty"`
	IncludeWorkingHistory bool   `json:"include_working_history,omitempty"`
}

// ContextPayload is the remote store's working-memory context response
type ContextPayload struct {
	Messages       []entities.Message    `json:"messages,omitempty"`
	MessagesMeta   entities.MessagesMeta `json:"messages_meta,omitempty"`
	WorkingHistory string                `json:"working_history,omitempty"`
}

// MemoryPatch is the body of a per-field working-memory persistence call
type MemoryPatch struct {
	SessionID string                 `json:"session_id"`
	ProjectID string                 `json:"project_id,omitempty"`
	NodeID    string                 `json:"node_id,omitempty"`
	Value     interface{}            `json:"value"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// MemoryStore is the remote contract for working-memory state
type MemoryStore interface {
	// FetchWorkingMemoryContext hydrates session/message/history state
	FetchWorkingMemoryContext(ctx context.Context, q ContextQuery) (*ContextPayload, error)

	// PatchWorkingMemory persists a single working-memory field ("part")
	PatchWorkingMemory(ctx context.Context, part string, patch MemoryPatch) error
}

// RemoteStore is the full remote contract
type RemoteStore interface {
	GraphStore
	MemoryStore
}
