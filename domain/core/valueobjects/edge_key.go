package valueobjects

import (
	"errors"
	"strings"
)

// Canonical edge types. EdgeTypeLink is the default relationship;
// EdgeTypeChild expresses project hierarchy.
const (
	EdgeTypeLink  = "LINKS_TO"
	EdgeTypeChild = "CHILD_OF"
)

// EdgeKey is the order-independent identity of an edge. Endpoints are
// canonicalized by sorting so (A,B) and (B,A) collide; edges between the
// same pair with different types stay distinct.
type EdgeKey struct {
	low  string
	high string
	typ  string
}

// NewEdgeKey builds the canonical key for an endpoint pair and edge type.
// The type is normalized (trimmed, upper-cased) the same way the
// partitioner normalizes edge types.
func NewEdgeKey(from, to, edgeType string) (EdgeKey, error) {
	if from == "" || to == "" {
		return EdgeKey{}, errors.New("edge endpoints cannot be empty")
	}
	low, high := from, to
	if high < low {
		low, high = high, low
	}
	return EdgeKey{low: low, high: high, typ: NormalizeEdgeType(edgeType)}, nil
}

// NormalizeEdgeType trims and upper-cases an edge type, defaulting to
// EdgeTypeLink for blank input.
func NormalizeEdgeType(edgeType string) string {
	t := strings.ToUpper(strings.TrimSpace(edgeType))
	if t == "" {
		return EdgeTypeLink
	}
	return t
}

// Endpoints returns the canonically ordered endpoints
func (k EdgeKey) Endpoints() (string, string) {
	return k.low, k.high
}

// Type returns the normalized edge type
func (k EdgeKey) Type() string {
	return k.typ
}

// String returns the string representation of the key
func (k EdgeKey) String() string {
	return k.low + "|" + k.high + "|" + k.typ
}

// Equals checks if two keys are equal
func (k EdgeKey) Equals(other EdgeKey) bool {
	return k == other
}

// IsZero checks if the key is the zero value
func (k EdgeKey) IsZero() bool {
	return k.low == "" && k.high == ""
}
