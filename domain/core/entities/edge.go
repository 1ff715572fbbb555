package entities

import (
	"synccore/domain/core/valueobjects"
	pkgerrors "synccore/pkg/errors"
)

// Edge is a typed connection between two nodes. Identity is order
// independent: the canonical key sorts the endpoints.
type Edge struct {
	From  string                 `json:"from"`
	To    string                 `json:"to"`
	Type  string                 `json:"type"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// NewEdge creates an edge with a normalized type
func NewEdge(from, to, edgeType string, props map[string]interface{}) (*Edge, error) {
	if from == "" || to == "" {
		return nil, pkgerrors.NewValidationError("edge endpoints cannot be empty")
	}
	return &Edge{
		From:  from,
		To:    to,
		Type:  valueobjects.NormalizeEdgeType(edgeType),
		Props: cloneMap(props),
	}, nil
}

// Key returns the edge's order-independent identity
func (e *Edge) Key() valueobjects.EdgeKey {
	key, _ := valueobjects.NewEdgeKey(e.From, e.To, e.Type)
	return key
}

// Touches reports whether the edge references the given node
func (e *Edge) Touches(nodeID string) bool {
	return e.From == nodeID || e.To == nodeID
}

// Clone returns a structural copy of the edge
func (e *Edge) Clone() *Edge {
	return &Edge{
		From:  e.From,
		To:    e.To,
		Type:  e.Type,
		Props: cloneMap(e.Props),
	}
}
