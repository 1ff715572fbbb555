// Package workingmemory maintains the canonical derived snapshot of
// session, structure and message state. The store owns the snapshot;
// subscribers and callers only ever see deep copies.
package workingmemory

import (
	"sort"
	"strconv"
	"strings"

	"synccore/domain/core/entities"
	"synccore/domain/partition"
)

// Session identifies the current editing session
type Session struct {
	SessionID    string `json:"session_id"`
	ProjectID    string `json:"project_id"`
	ActiveNodeID string `json:"active_node_id,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// SessionPatch is a partial session update, nil fields are unchanged
type SessionPatch struct {
	SessionID    *string
	ProjectID    *string
	ActiveNodeID *string
}

// Settings are the visibility flags and history bound of the snapshot
type Settings struct {
	IncludeProjectStructure bool `json:"include_project_structure"`
	IncludeContext          bool `json:"include_context"`
	IncludeWorkingHistory   bool `json:"include_working_history"`
	HistoryLength           int  `json:"history_length"`
}

// SettingsPatch is a partial settings update, nil fields are unchanged
type SettingsPatch struct {
	IncludeProjectStructure *bool
	IncludeContext          *bool
	IncludeWorkingHistory   *bool
	HistoryLength           *int
}

// Snapshot is the canonical working-memory state handed to subscribers
type Snapshot struct {
	Session          Session               `json:"session"`
	ProjectStructure *partition.Structure  `json:"project_structure,omitempty"`
	NodeContext      string                `json:"node_context,omitempty"`
	FetchedContext   string                `json:"fetched_context,omitempty"`
	WorkingHistory   string                `json:"working_history,omitempty"`
	Messages         []entities.Message    `json:"messages"`
	MessagesMeta     entities.MessagesMeta `json:"messages_meta,omitempty"`
	LastUserMessage  string                `json:"last_user_message,omitempty"`
	Config           Settings              `json:"config"`
}

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.ProjectStructure != nil {
		out.ProjectStructure = s.ProjectStructure.Clone()
	}
	if s.Messages != nil {
		out.Messages = append([]entities.Message(nil), s.Messages...)
	}
	out.MessagesMeta = s.MessagesMeta.Clone()
	return out
}

// sanitizeMessages drops entries with neither id nor content and
// normalizes roles. Malformed remote payloads degrade, they never error.
func sanitizeMessages(in []entities.Message) []entities.Message {
	out := make([]entities.Message, 0, len(in))
	for _, m := range in {
		if m.ID == "" && strings.TrimSpace(m.Content) == "" {
			continue
		}
		m.Role = strings.ToLower(strings.TrimSpace(m.Role))
		if m.Role == "" {
			m.Role = entities.RoleUser
		}
		out = append(out, m)
	}
	return out
}

// sortMessages orders chronologically by timestamp, ties broken by id with
// numeric ids comparing numerically before falling back to lexical order.
func sortMessages(msgs []entities.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return compareMessageIDs(msgs[i].ID, msgs[j].ID) < 0
	})
}

func compareMessageIDs(a, b string) int {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// truncateMessages keeps the most recent limit entries of a sorted list
func truncateMessages(msgs []entities.Message, limit int) []entities.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}

// lastUserMessage returns the content of the latest user-role entry
func lastUserMessage(msgs []entities.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == entities.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
