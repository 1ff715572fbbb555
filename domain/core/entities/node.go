package entities

import (
	"synccore/domain/core/valueobjects"
	pkgerrors "synccore/pkg/errors"
)

// Builder discriminates which logical subgraph a node belongs to
type Builder string

const (
	BuilderProject  Builder = "project"
	BuilderElements Builder = "elements"
)

// ParseBuilder normalizes a raw discriminator value. Unknown values
// return false so callers can fall back to payload inspection.
func ParseBuilder(raw string) (Builder, bool) {
	switch Builder(raw) {
	case BuilderProject:
		return BuilderProject, true
	case BuilderElements:
		return BuilderElements, true
	default:
		return BuilderProject, false
	}
}

// Meta carries the builder discriminator, the builder-specific payload
// and the canvas position.
type Meta struct {
	Builder  Builder                `json:"builder,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Position valueobjects.Position  `json:"position"`
}

// Clone returns a structural copy of the meta
func (m Meta) Clone() Meta {
	out := Meta{Builder: m.Builder, Position: m.Position}
	if m.Payload != nil {
		out.Payload = cloneMap(m.Payload)
	}
	return out
}

// NodeChange is the pending-change payload for one node: only the fields
// touched since the last successful commit. Nil pointers mean "unchanged".
type NodeChange struct {
	Label       *string
	Content     *string
	MetaUpdates map[string]interface{}
}

// IsEmpty reports whether there is anything to send
func (c NodeChange) IsEmpty() bool {
	return c.Label == nil && c.Content == nil && len(c.MetaUpdates) == 0
}

// Merge folds a newer change into this one, last write wins per field
func (c *NodeChange) Merge(in NodeChange) {
	if in.Label != nil {
		c.Label = in.Label
	}
	if in.Content != nil {
		c.Content = in.Content
	}
	if len(in.MetaUpdates) > 0 {
		if c.MetaUpdates == nil {
			c.MetaUpdates = make(map[string]interface{}, len(in.MetaUpdates))
		}
		for k, v := range in.MetaUpdates {
			c.MetaUpdates[k] = v
		}
	}
}

// MergeUnder fills in fields from an older change without overriding
// anything already set. Used when a failed commit entry is returned to a
// dirty set that picked up newer changes in the meantime.
func (c *NodeChange) MergeUnder(older NodeChange) {
	if c.Label == nil {
		c.Label = older.Label
	}
	if c.Content == nil {
		c.Content = older.Content
	}
	if len(older.MetaUpdates) > 0 {
		if c.MetaUpdates == nil {
			c.MetaUpdates = make(map[string]interface{}, len(older.MetaUpdates))
		}
		for k, v := range older.MetaUpdates {
			if _, ok := c.MetaUpdates[k]; !ok {
				c.MetaUpdates[k] = v
			}
		}
	}
}

// Node is the editor's unit of content. The UI layer owns the
// authoritative copy; everything else references it by value. The entity
// tracks which fields changed so commits send deltas, not whole nodes.
type Node struct {
	id      string
	label   string
	content string
	meta    Meta

	pending NodeChange
}

// NewNode creates a node with the given identity
func NewNode(id, label, content string, meta Meta) (*Node, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("node id cannot be empty")
	}
	return &Node{
		id:      id,
		label:   label,
		content: content,
		meta:    meta.Clone(),
	}, nil
}

// ID returns the node's unique identifier
func (n *Node) ID() string {
	return n.id
}

// Label returns the node's display label
func (n *Node) Label() string {
	return n.label
}

// Content returns the node's content body
func (n *Node) Content() string {
	return n.content
}

// Meta returns a copy of the node's metadata
func (n *Node) Meta() Meta {
	return n.meta.Clone()
}

// Builder returns the node's subgraph discriminator, falling back to
// payload inspection and defaulting to project.
func (n *Node) Builder() Builder {
	if b, ok := ParseBuilder(string(n.meta.Builder)); ok {
		return b
	}
	if _, ok := n.meta.Payload["element_data"]; ok {
		return BuilderElements
	}
	return BuilderProject
}

// Position returns the node's canvas position
func (n *Node) Position() valueobjects.Position {
	return n.meta.Position
}

// SetLabel updates the label and records the change
func (n *Node) SetLabel(label string) {
	if label == n.label {
		return
	}
	n.label = label
	v := label
	n.pending.Label = &v
}

// SetContent updates the content and records the change
func (n *Node) SetContent(content string) {
	if content == n.content {
		return
	}
	n.content = content
	v := content
	n.pending.Content = &v
}

// MergeMeta applies a partial metadata update and records the delta.
// Keys with nil values clear the corresponding payload entry.
func (n *Node) MergeMeta(updates map[string]interface{}) {
	if len(updates) == 0 {
		return
	}
	if n.meta.Payload == nil {
		n.meta.Payload = make(map[string]interface{}, len(updates))
	}
	if n.pending.MetaUpdates == nil {
		n.pending.MetaUpdates = make(map[string]interface{}, len(updates))
	}
	for k, v := range updates {
		if v == nil {
			delete(n.meta.Payload, k)
		} else {
			n.meta.Payload[k] = cloneValue(v)
		}
		n.pending.MetaUpdates[k] = cloneValue(v)
	}
}

// MoveTo moves the node and records the position delta
func (n *Node) MoveTo(pos valueobjects.Position) {
	if pos.Equals(n.meta.Position) {
		return
	}
	n.meta.Position = pos
	if n.pending.MetaUpdates == nil {
		n.pending.MetaUpdates = make(map[string]interface{}, 1)
	}
	n.pending.MetaUpdates["position"] = map[string]interface{}{"x": pos.X, "y": pos.Y}
}

// HasPendingChanges reports whether any field changed since the last drain
func (n *Node) HasPendingChanges() bool {
	return !n.pending.IsEmpty()
}

// TakeChanges drains the accumulated field changes. This is the node's
// serialization hook: the committer calls it when the node is marked
// dirty and sends exactly the drained fields.
func (n *Node) TakeChanges() (NodeChange, bool) {
	if n.pending.IsEmpty() {
		return NodeChange{}, false
	}
	out := n.pending
	n.pending = NodeChange{}
	return out, true
}

// Clone returns a structural copy of the node without pending changes
func (n *Node) Clone() *Node {
	return &Node{
		id:      n.id,
		label:   n.label,
		content: n.content,
		meta:    n.meta.Clone(),
	}
}

// cloneValue deep-copies the JSON-shaped values that node metadata holds
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}
