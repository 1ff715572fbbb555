package workingmemory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"synccore/application/ports"
	"synccore/domain/config"
	"synccore/domain/core/entities"
	"synccore/domain/partition"
)

// fakeMemoryStore records patches and serves a canned context payload
type fakeMemoryStore struct {
	mu      sync.Mutex
	payload *ports.ContextPayload
	patches []string
	fetches int32
	gate    chan struct{}
}

func (f *fakeMemoryStore) FetchWorkingMemoryContext(ctx context.Context, q ports.ContextQuery) (*ports.ContextPayload, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payload == nil {
		return &ports.ContextPayload{}, nil
	}
	return f.payload, nil
}

func (f *fakeMemoryStore) PatchWorkingMemory(ctx context.Context, part string, patch ports.MemoryPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, part)
	return nil
}

func newTestStore(remote ports.MemoryStore) *Store {
	return NewStore(remote, config.DefaultDomainConfig(), zap.NewNop())
}

func ts(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

func TestInitialise_RequiresIdentity(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	err := store.Initialise(InitOptions{ProjectID: "p1"})

	require.Error(t, err)
}

func TestSetMessages_TruncatesAndRecomputesLastUserMessage(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})
	limit := 3
	store.UpdateSettings(SettingsPatch{HistoryLength: &limit})

	store.SetMessages([]entities.Message{
		{ID: "1", Role: "user", Content: "first", Timestamp: ts(1)},
		{ID: "2", Role: "assistant", Content: "second", Timestamp: ts(2)},
		{ID: "3", Role: "user", Content: "third", Timestamp: ts(3)},
		{ID: "4", Role: "assistant", Content: "fourth", Timestamp: ts(4)},
		{ID: "5", Role: "assistant", Content: "fifth", Timestamp: ts(5)},
	}, nil)

	snap := store.GetSnapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "3", snap.Messages[0].ID)
	assert.Equal(t, "5", snap.Messages[2].ID)
	assert.Equal(t, "third", snap.LastUserMessage)
}

func TestSetMessages_SortsByTimestampThenID(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	store.SetMessages([]entities.Message{
		{ID: "10", Role: "user", Content: "ten", Timestamp: ts(1)},
		{ID: "2", Role: "user", Content: "two", Timestamp: ts(1)},
		{ID: "b", Role: "user", Content: "bee", Timestamp: ts(1)},
		{ID: "a", Role: "user", Content: "ay", Timestamp: ts(0)},
	}, nil)

	snap := store.GetSnapshot()
	ids := make([]string, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		ids = append(ids, m.ID)
	}
	// Earlier timestamp first; numeric ids compare numerically on ties.
	assert.Equal(t, []string{"a", "2", "10", "b"}, ids)
}

func TestSetMessages_SanitizesMalformedEntries(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	store.SetMessages([]entities.Message{
		{ID: "", Content: "   ", Timestamp: ts(1)},
		{ID: "1", Role: " USER ", Content: "kept", Timestamp: ts(2)},
		{ID: "2", Content: "defaulted role", Timestamp: ts(3)},
	}, nil)

	snap := store.GetSnapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, entities.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, entities.RoleUser, snap.Messages[1].Role)
	assert.Equal(t, "defaulted role", snap.LastUserMessage)
}

func TestHiddenStructure_NoDataLossAcrossHideAndReEnable(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	off := false
	store.UpdateSettings(SettingsPatch{IncludeProjectStructure: &off})
	assert.Nil(t, store.GetSnapshot().ProjectStructure)

	pushed := &partition.Structure{
		Project: partition.Subgraph{
			Nodes: []partition.NodeSummary{{ID: "p1", Label: "Plan", Builder: entities.BuilderProject}},
		},
	}
	store.SetProjectStructure(pushed)

	// Still suppressed from the visible snapshot.
	assert.Nil(t, store.GetSnapshot().ProjectStructure)

	on := true
	store.UpdateSettings(SettingsPatch{IncludeProjectStructure: &on})

	snap := store.GetSnapshot()
	require.NotNil(t, snap.ProjectStructure)
	require.Len(t, snap.ProjectStructure.Project.Nodes, 1)
	assert.Equal(t, "p1", snap.ProjectStructure.Project.Nodes[0].ID)
}

func TestContextFacets_SuppressedWithoutLosingValues(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	off := false
	store.UpdateSettings(SettingsPatch{IncludeContext: &off, IncludeWorkingHistory: &off})

	store.SetNodeContext("node notes")
	store.SetFetchedContext("fetched notes")
	store.SetWorkingHistory("history text")

	snap := store.GetSnapshot()
	assert.Empty(t, snap.NodeContext)
	assert.Empty(t, snap.FetchedContext)
	assert.Empty(t, snap.WorkingHistory)

	on := true
	store.UpdateSettings(SettingsPatch{IncludeContext: &on, IncludeWorkingHistory: &on})

	snap = store.GetSnapshot()
	assert.Equal(t, "node notes", snap.NodeContext)
	assert.Equal(t, "fetched notes", snap.FetchedContext)
	assert.Equal(t, "history text", snap.WorkingHistory)
}

func TestUpdateSettings_ClampsHistoryLength(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	tests := []struct {
		name string
		in   int
		want int
	}{
		{name: "below minimum", in: 0, want: 1},
		{name: "above maximum", in: 5000, want: 200},
		{name: "in range", in: 42, want: 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.UpdateSettings(SettingsPatch{HistoryLength: &tt.in})
			assert.Equal(t, tt.want, store.GetSnapshot().Config.HistoryLength)
		})
	}
}

func TestUpdateSettings_ShrinkingHistoryTruncatesExistingMessages(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	store.SetMessages([]entities.Message{
		{ID: "1", Role: "user", Content: "a", Timestamp: ts(1)},
		{ID: "2", Role: "user", Content: "b", Timestamp: ts(2)},
		{ID: "3", Role: "user", Content: "c", Timestamp: ts(3)},
	}, nil)

	limit := 2
	store.UpdateSettings(SettingsPatch{HistoryLength: &limit})

	snap := store.GetSnapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "2", snap.Messages[0].ID)
	assert.Equal(t, "c", snap.LastUserMessage)
}

func TestGetSnapshotForNode_EmptyStructureNeverErrors(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	snap := store.GetSnapshotForNode("ghost")

	require.NotNil(t, snap.ProjectStructure)
	assert.Empty(t, snap.ProjectStructure.Project.Nodes)
	assert.Empty(t, snap.ProjectStructure.Elements.Nodes)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, 0, snap.MessagesMeta["count"])
}

func TestGetSnapshotForNode_ScopesStructureAndMessages(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	store.SetProjectStructure(&partition.Structure{
		Project: partition.Subgraph{
			Nodes: []partition.NodeSummary{
				{ID: "a", Builder: entities.BuilderProject},
				{ID: "b", Builder: entities.BuilderProject},
				{ID: "far", Builder: entities.BuilderProject},
			},
			Edges: []partition.EdgeSummary{{From: "a", To: "b", Type: "LINKS_TO"}},
		},
	})
	store.SetMessages([]entities.Message{
		{ID: "1", Role: "user", Content: "global", Timestamp: ts(1)},
		{ID: "2", Role: "user", Content: "for a", NodeID: "a", Timestamp: ts(2)},
		{ID: "3", Role: "user", Content: "for other", NodeID: "far", Timestamp: ts(3)},
	}, nil)

	snap := store.GetSnapshotForNode("a")

	require.NotNil(t, snap.ProjectStructure)
	ids := make([]string, 0, len(snap.ProjectStructure.Project.Nodes))
	for _, n := range snap.ProjectStructure.Project.Nodes {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "for a", snap.LastUserMessage)
	assert.Equal(t, 2, snap.MessagesMeta["count"])
}

func TestGetSnapshotForNode_UnknownIdGetsNoMessages(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	store.SetProjectStructure(&partition.Structure{
		Project: partition.Subgraph{
			Nodes: []partition.NodeSummary{{ID: "a", Builder: entities.BuilderProject}},
		},
	})
	store.SetMessages([]entities.Message{
		{ID: "1", Role: "user", Content: "global", Timestamp: ts(1)},
		{ID: "2", Role: "user", Content: "for a", NodeID: "a", Timestamp: ts(2)},
	}, nil)

	snap := store.GetSnapshotForNode("ghost")

	// An id in neither subgraph scopes everything to empty; even global
	// messages stay out of the view.
	require.NotNil(t, snap.ProjectStructure)
	assert.Empty(t, snap.ProjectStructure.Project.Nodes)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.LastUserMessage)
	assert.Equal(t, 0, snap.MessagesMeta["count"])

	// A known id still sees the global and addressed messages.
	known := store.GetSnapshotForNode("a")
	require.Len(t, known.Messages, 2)
	assert.Equal(t, "for a", known.LastUserMessage)
}

func TestSubscribe_ReplaysImmediatelyAndUnsubscribes(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	var mu sync.Mutex
	var got []Snapshot
	unsubscribe := store.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	mu.Lock()
	require.Len(t, got, 1)
	mu.Unlock()

	store.SetWorkingHistory("one")
	mu.Lock()
	assert.Len(t, got, 2)
	mu.Unlock()

	unsubscribe()
	store.SetWorkingHistory("two")
	mu.Lock()
	assert.Len(t, got, 2)
	mu.Unlock()
}

func TestSubscribeSettings_NotifiedOnSettingsChange(t *testing.T) {
	store := newTestStore(&fakeMemoryStore{})

	var mu sync.Mutex
	var got []Settings
	store.SubscribeSettings(func(s Settings) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	limit := 7
	store.UpdateSettings(SettingsPatch{HistoryLength: &limit})

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, 7, got[1].HistoryLength)
	mu.Unlock()
}

func TestHydration_AppliesRemoteContext(t *testing.T) {
	remote := &fakeMemoryStore{payload: &ports.ContextPayload{
		Messages: []entities.Message{
			{ID: "1", Role: "user", Content: "hydrated", Timestamp: ts(1)},
		},
		WorkingHistory: "remote history",
	}}
	store := newTestStore(remote)

	err := store.Initialise(InitOptions{ProjectID: "p1", SessionID: "s1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := store.GetSnapshot()
		return len(snap.Messages) == 1 && snap.WorkingHistory == "remote history"
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "hydrated", store.GetSnapshot().LastUserMessage)
}

func TestHydration_StaleResponseDiscarded(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeMemoryStore{
		payload: &ports.ContextPayload{WorkingHistory: "slow"},
		gate:    gate,
	}
	store := newTestStore(remote)

	require.NoError(t, store.Initialise(InitOptions{ProjectID: "p1", SessionID: "s1"}))

	// Supersede the first hydration before it completes.
	newSession := "s2"
	store.SetSession(SessionPatch{SessionID: &newSession})
	close(gate)

	require.Eventually(t, func() bool {
		return store.GetSnapshot().WorkingHistory == "slow" ||
			atomic.LoadInt32(&remote.fetches) >= 2
	}, time.Second, 10*time.Millisecond)

	// Give any stray first response a chance to land, then verify the
	// snapshot still belongs to the newer session.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "s2", store.GetSnapshot().Session.SessionID)
}

func TestRefreshNodes_IgnoresUntouchedActiveNode(t *testing.T) {
	remote := &fakeMemoryStore{}
	store := newTestStore(remote)
	require.NoError(t, store.Initialise(InitOptions{ProjectID: "p1", SessionID: "s1", ActiveNodeID: "n1"}))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&remote.fetches) == 1
	}, time.Second, 10*time.Millisecond)

	store.RefreshNodes(context.Background(), "p1", []string{"other-node"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.fetches))
}

func TestRefreshNodes_RefreshesWhenActiveNodeTouched(t *testing.T) {
	remote := &fakeMemoryStore{payload: &ports.ContextPayload{
		Messages: []entities.Message{
			{ID: "1", Role: "user", Content: "refreshed", Timestamp: ts(1)},
		},
	}}
	store := newTestStore(remote)
	require.NoError(t, store.Initialise(InitOptions{ProjectID: "p1", SessionID: "s1", ActiveNodeID: "n1"}))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&remote.fetches) == 1
	}, time.Second, 10*time.Millisecond)

	store.RefreshNodes(context.Background(), "p1", []string{"n1", "n2"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&remote.fetches) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "refreshed", store.GetSnapshot().LastUserMessage)
}

func TestPersistence_PatchesChangedParts(t *testing.T) {
	remote := &fakeMemoryStore{}
	store := newTestStore(remote)
	require.NoError(t, store.Initialise(InitOptions{ProjectID: "p1", SessionID: "s1"}))

	store.SetWorkingHistory("notes")
	store.SetMessages([]entities.Message{
		{ID: "1", Role: "user", Content: "hi", Timestamp: ts(1)},
	}, nil)

	require.Eventually(t, func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		seen := map[string]bool{}
		for _, p := range remote.patches {
			seen[p] = true
		}
		return seen[PartWorkingHistory] && seen[PartMessages]
	}, time.Second, 10*time.Millisecond)
}
