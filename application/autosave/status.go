package autosave

// Status is the user-visible autosave state
type Status string

const (
	StatusIdle   Status = "idle"
	StatusDirty  Status = "dirty"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// LinkAction tags a pending edge change
type LinkAction string

const (
	LinkActionCreate LinkAction = "create"
	LinkActionDelete LinkAction = "delete"
	LinkActionUpdate LinkAction = "update"
)

// LinkChange is a requested edge mutation. Endpoints are canonicalized by
// sorting before keying, so (A,B) and (B,A) address the same pending entry.
type LinkChange struct {
	Action LinkAction             `json:"action"`
	From   string                 `json:"from"`
	To     string                 `json:"to"`
	Type   string                 `json:"type,omitempty"`
	Props  map[string]interface{} `json:"props,omitempty"`
}

// CommitOptions tunes a single commit pass
type CommitOptions struct {
	// Keepalive marks a best-effort lifecycle commit (page hide/unload)
	Keepalive bool
}

// StatusListener receives status transitions. Listeners fire only when the
// status actually changes.
type StatusListener func(Status)
