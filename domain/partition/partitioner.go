// Package partition splits a flat node/edge graph into the project and
// elements subgraphs plus the cross-links between them. Partition is a pure
// function: no state, no I/O.
package partition

import (
	"synccore/domain/core/entities"
	"synccore/domain/core/valueobjects"
)

// builderProfile is the per-kind behavior table. Classification falls back
// to payload inspection when the discriminator is missing or unknown.
type builderProfile struct {
	payloadKey  string
	defaultType string
}

var builderProfiles = map[entities.Builder]builderProfile{
	entities.BuilderProject:  {payloadKey: "project_data", defaultType: "project"},
	entities.BuilderElements: {payloadKey: "element_data", defaultType: "element"},
}

// classify resolves a node's subgraph from its meta discriminator, falling
// back to builder-payload presence, defaulting to project.
func classify(meta map[string]interface{}) entities.Builder {
	if meta != nil {
		if raw, ok := meta["builder"].(string); ok {
			if b, known := entities.ParseBuilder(raw); known {
				return b
			}
		}
		// Deterministic fallback order: project payload wins over elements.
		for _, builder := range []entities.Builder{entities.BuilderProject, entities.BuilderElements} {
			if _, ok := meta[builderProfiles[builder].payloadKey]; ok {
				return builder
			}
		}
	}
	return entities.BuilderProject
}

// summaryType extracts the display type from the builder payload
func summaryType(builder entities.Builder, meta map[string]interface{}) string {
	profile := builderProfiles[builder]
	if meta != nil {
		if payload, ok := meta[profile.payloadKey].(map[string]interface{}); ok {
			if t, ok := payload["type"].(string); ok && t != "" {
				return t
			}
		}
	}
	return profile.defaultType
}

// Partition splits flat node/edge lists into the two typed subgraphs plus
// cross-links. Nodes with blank ids and edges referencing unknown nodes are
// dropped; duplicate edges keyed by (from, to, type) are dropped, not
// merged. Per-node link lists are a derived index over the cross-links,
// recorded on both endpoints.
func Partition(nodes []FlatNode, edges []FlatEdge) *Structure {
	out := &Structure{}

	builders := make(map[string]entities.Builder, len(nodes))
	index := make(map[string]*NodeSummary, len(nodes))
	var projectIDs, elementIDs []string

	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		if _, dup := index[n.ID]; dup {
			continue
		}
		builder := classify(n.Meta)
		index[n.ID] = &NodeSummary{
			ID:      n.ID,
			Label:   n.Label,
			Type:    summaryType(builder, n.Meta),
			Builder: builder,
		}
		builders[n.ID] = builder

		if builder == entities.BuilderElements {
			elementIDs = append(elementIDs, n.ID)
		} else {
			projectIDs = append(projectIDs, n.ID)
		}
	}

	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		edgeType := valueobjects.NormalizeEdgeType(e.Type)

		// Dangling edges are an expected transient state during sync;
		// drop them rather than erroring.
		fromBuilder, fromOK := builders[e.From]
		toBuilder, toOK := builders[e.To]
		if !fromOK || !toOK {
			continue
		}

		dedupKey := e.From + "|" + e.To + "|" + edgeType
		if seen[dedupKey] {
			continue
		}
		seen[dedupKey] = true

		switch {
		case fromBuilder == entities.BuilderProject && toBuilder == entities.BuilderProject:
			out.Project.Edges = append(out.Project.Edges, EdgeSummary{
				From: e.From, To: e.To, Type: edgeType, Props: cloneProps(e.Props),
			})
			if edgeType == valueobjects.EdgeTypeChild {
				parent := index[e.To]
				if !containsString(parent.Children, e.From) {
					parent.Children = append(parent.Children, e.From)
				}
			}
		case fromBuilder == entities.BuilderElements && toBuilder == entities.BuilderElements:
			out.Elements.Edges = append(out.Elements.Edges, EdgeSummary{
				From: e.From, To: e.To, Type: edgeType, Props: cloneProps(e.Props),
			})
		default:
			link := CrossLink{From: e.From, To: e.To, Type: edgeType, Props: cloneProps(e.Props)}
			out.CrossLinks = append(out.CrossLinks, link)
			index[e.From].Links = append(index[e.From].Links, link)
			index[e.To].Links = append(index[e.To].Links, link)
		}
	}

	for _, id := range projectIDs {
		out.Project.Nodes = append(out.Project.Nodes, *index[id])
	}
	for _, id := range elementIDs {
		out.Elements.Nodes = append(out.Elements.Nodes, *index[id])
	}

	return out
}

// Revalidate re-derives the invariants of an externally assembled
// structure: dangling edges and cross-links are dropped and the per-node
// links index is rebuilt. Pre-partitioned remote responses pass through
// here instead of Partition.
func Revalidate(s *Structure) *Structure {
	nodes := make([]FlatNode, 0, len(s.Project.Nodes)+len(s.Elements.Nodes))
	for _, n := range s.Project.Nodes {
		nodes = append(nodes, summaryToFlat(n, entities.BuilderProject))
	}
	for _, n := range s.Elements.Nodes {
		nodes = append(nodes, summaryToFlat(n, entities.BuilderElements))
	}

	edges := make([]FlatEdge, 0, len(s.Project.Edges)+len(s.Elements.Edges)+len(s.CrossLinks))
	for _, e := range s.Project.Edges {
		edges = append(edges, FlatEdge{From: e.From, To: e.To, Type: e.Type, Props: e.Props})
	}
	for _, e := range s.Elements.Edges {
		edges = append(edges, FlatEdge{From: e.From, To: e.To, Type: e.Type, Props: e.Props})
	}
	for _, cl := range s.CrossLinks {
		edges = append(edges, FlatEdge{From: cl.From, To: cl.To, Type: cl.Type, Props: cl.Props})
	}

	return Partition(nodes, edges)
}

func summaryToFlat(n NodeSummary, builder entities.Builder) FlatNode {
	meta := map[string]interface{}{"builder": string(builder)}
	profile := builderProfiles[builder]
	if n.Type != "" && n.Type != profile.defaultType {
		meta[profile.payloadKey] = map[string]interface{}{"type": n.Type}
	}
	return FlatNode{ID: n.ID, Label: n.Label, Meta: meta}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
