package partition

import (
	"synccore/domain/core/entities"
)

// FlatNode is the wire shape of a node in an unpartitioned graph response
type FlatNode struct {
	ID      string                 `json:"id"`
	Label   string                 `json:"label"`
	Content string                 `json:"content,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// FlatEdge is the wire shape of an edge in an unpartitioned graph response
type FlatEdge struct {
	From  string                 `json:"from"`
	To    string                 `json:"to"`
	Type  string                 `json:"type,omitempty"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// CrossLink is an edge whose endpoints live in different subgraphs
type CrossLink struct {
	From  string                 `json:"from"`
	To    string                 `json:"to"`
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// NodeSummary is a partitioned node entry. Children is populated for
// project nodes from CHILD_OF edges; Links is a derived index over the
// structure's cross-links, recorded on both endpoints.
type NodeSummary struct {
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Type     string           `json:"type"`
	Builder  entities.Builder `json:"builder"`
	Children []string         `json:"children,omitempty"`
	Links    []CrossLink      `json:"links,omitempty"`
}

// EdgeSummary is a partitioned edge entry
type EdgeSummary struct {
	From  string                 `json:"from"`
	To    string                 `json:"to"`
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// Subgraph is one of the two typed halves of a partitioned structure
type Subgraph struct {
	Nodes []NodeSummary `json:"nodes"`
	Edges []EdgeSummary `json:"edges"`
}

// Structure is the full partition result
type Structure struct {
	Project    Subgraph    `json:"project_graph"`
	Elements   Subgraph    `json:"elements_graph"`
	CrossLinks []CrossLink `json:"cross_links"`
}

// IsEmpty reports a structure with no nodes and no edges. Callers must not
// overwrite a previously non-empty cache with an empty structure.
func (s *Structure) IsEmpty() bool {
	return len(s.Project.Nodes) == 0 && len(s.Elements.Nodes) == 0 &&
		len(s.Project.Edges) == 0 && len(s.Elements.Edges) == 0
}

// Contains reports which subgraph owns the given node id
func (s *Structure) Contains(nodeID string) (entities.Builder, bool) {
	for _, n := range s.Project.Nodes {
		if n.ID == nodeID {
			return entities.BuilderProject, true
		}
	}
	for _, n := range s.Elements.Nodes {
		if n.ID == nodeID {
			return entities.BuilderElements, true
		}
	}
	return "", false
}

// Neighborhood returns the ids of the node plus its 1-hop neighbors
// reachable through the owning subgraph's edges, in both directions.
// Unknown ids return an empty set.
func (s *Structure) Neighborhood(nodeID string) map[string]bool {
	builder, ok := s.Contains(nodeID)
	if !ok {
		return map[string]bool{}
	}

	sub := &s.Project
	if builder == entities.BuilderElements {
		sub = &s.Elements
	}

	ids := map[string]bool{nodeID: true}
	for _, e := range sub.Edges {
		if e.From == nodeID {
			ids[e.To] = true
		}
		if e.To == nodeID {
			ids[e.From] = true
		}
	}
	return ids
}

// Scoped returns a copy of the structure restricted to the given node and
// its 1-hop neighborhood in the owning subgraph.
func (s *Structure) Scoped(nodeID string) *Structure {
	builder, ok := s.Contains(nodeID)
	if !ok {
		return &Structure{}
	}

	ids := s.Neighborhood(nodeID)
	out := &Structure{}

	src := &s.Project
	dst := &out.Project
	if builder == entities.BuilderElements {
		src = &s.Elements
		dst = &out.Elements
	}

	for _, n := range src.Nodes {
		if ids[n.ID] {
			dst.Nodes = append(dst.Nodes, cloneNodeSummary(n))
		}
	}
	for _, e := range src.Edges {
		if ids[e.From] && ids[e.To] {
			dst.Edges = append(dst.Edges, cloneEdgeSummary(e))
		}
	}
	for _, cl := range s.CrossLinks {
		if cl.From == nodeID || cl.To == nodeID {
			out.CrossLinks = append(out.CrossLinks, cloneCrossLink(cl))
		}
	}
	return out
}

// Clone returns a deep copy of the structure. Cache and store hand out
// clones only, never the live object.
func (s *Structure) Clone() *Structure {
	out := &Structure{
		Project:  cloneSubgraph(s.Project),
		Elements: cloneSubgraph(s.Elements),
	}
	for _, cl := range s.CrossLinks {
		out.CrossLinks = append(out.CrossLinks, cloneCrossLink(cl))
	}
	return out
}

func cloneSubgraph(sub Subgraph) Subgraph {
	out := Subgraph{}
	for _, n := range sub.Nodes {
		out.Nodes = append(out.Nodes, cloneNodeSummary(n))
	}
	for _, e := range sub.Edges {
		out.Edges = append(out.Edges, cloneEdgeSummary(e))
	}
	return out
}

func cloneNodeSummary(n NodeSummary) NodeSummary {
	out := n
	if n.Children != nil {
		out.Children = append([]string(nil), n.Children...)
	}
	if n.Links != nil {
		out.Links = make([]CrossLink, len(n.Links))
		for i, l := range n.Links {
			out.Links[i] = cloneCrossLink(l)
		}
	}
	return out
}

func cloneEdgeSummary(e EdgeSummary) EdgeSummary {
	out := e
	out.Props = cloneProps(e.Props)
	return out
}

func cloneCrossLink(cl CrossLink) CrossLink {
	out := cl
	out.Props = cloneProps(cl.Props)
	return out
}

func cloneProps(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return nil
	}
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
