package autosave

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
	domaincfg "synccore/domain/config"
	"synccore/domain/core/entities"
	"synccore/domain/partition"
)

// recordedCall captures one remote mutation for inspection
type recordedCall struct {
	op     string
	nodeID string
	change entities.NodeChange
	edge   *entities.Edge
}

// fakeGraphStore records mutations; failNodes/failEdges force errors
type fakeGraphStore struct {
	mu        sync.Mutex
	calls     []recordedCall
	failNodes map[string]bool
	failEdges bool
	gate      chan struct{}

	active    int32
	maxActive int32
}

func (f *fakeGraphStore) enter(ctx context.Context) error {
	n := atomic.AddInt32(&f.active, 1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, n) {
			break
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			atomic.AddInt32(&f.active, -1)
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeGraphStore) exit() {
	atomic.AddInt32(&f.active, -1)
}

func (f *fakeGraphStore) record(call recordedCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeGraphStore) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeGraphStore) FetchGraph(ctx context.Context, projectID string) (*ports.GraphPayload, error) {
	return &ports.GraphPayload{}, nil
}

func (f *fakeGraphStore) UpdateNode(ctx context.Context, id string, change entities.NodeChange, opts ports.RequestOptions) error {
	if err := f.enter(ctx); err != nil {
		return err
	}
	defer f.exit()
	f.mu.Lock()
	shouldFail := f.failNodes[id]
	f.mu.Unlock()
	if shouldFail {
		return assert.AnError
	}
	f.record(recordedCall{op: "updateNode", nodeID: id, change: change})
	return nil
}

func (f *fakeGraphStore) CreateEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	if err := f.enter(ctx); err != nil {
		return err
	}
	defer f.exit()
	if f.failEdges {
		return assert.AnError
	}
	f.record(recordedCall{op: "createEdge", edge: edge})
	return nil
}

func (f *fakeGraphStore) DeleteEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	if err := f.enter(ctx); err != nil {
		return err
	}
	defer f.exit()
	if f.failEdges {
		return assert.AnError
	}
	f.record(recordedCall{op: "deleteEdge", edge: edge})
	return nil
}

func (f *fakeGraphStore) UpdateEdge(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error {
	if err := f.enter(ctx); err != nil {
		return err
	}
	defer f.exit()
	if f.failEdges {
		return assert.AnError
	}
	f.record(recordedCall{op: "updateEdge", edge: edge})
	return nil
}

// fakeStructureSync records rebuild requests
type fakeStructureSync struct {
	mu       sync.Mutex
	rebuilds []string
}

func (f *fakeStructureSync) RebuildStructure(ctx context.Context, projectID string) (*partition.Structure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds = append(f.rebuilds, projectID)
	return &partition.Structure{}, nil
}

// fakeMemoryRefresher records refresh requests
type fakeMemoryRefresher struct {
	mu      sync.Mutex
	nodeIDs [][]string
}

func (f *fakeMemoryRefresher) RefreshNodes(ctx context.Context, projectID string, nodeIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodeIDs = append(f.nodeIDs, nodeIDs)
}

func testDomainConfig() *domaincfg.DomainConfig {
	cfg := domaincfg.DefaultDomainConfig()
	cfg.DefaultCommitDelay = 20 * time.Millisecond
	cfg.MinCommitDelay = 5 * time.Millisecond
	cfg.RetryDelay = 20 * time.Millisecond
	return cfg
}

func newTestCommitter(store *fakeGraphStore) *Committer {
	return NewCommitter(store, nil, nil, testDomainConfig(), zap.NewNop(), "proj-1")
}

func mustNode(t *testing.T, id string) *entities.Node {
	t.Helper()
	node, err := entities.NewNode(id, "label", "content", entities.Meta{})
	require.NoError(t, err)
	return node
}

func TestMarkNodeDirty_SendsOnlyChangedFields(t *testing.T) {
	store := &fakeGraphStore{}
	c := newTestCommitter(store)
	defer c.Close()

	node := mustNode(t, "n1")
	node.SetLabel("renamed")
	c.MarkNodeDirty(node, "edit")
	require.NoError(t, c.Commit(context.Background(), CommitOptions{}))

	calls := store.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "updateNode", calls[0].op)
	require.NotNil(t, calls[0].change.Label)
	assert.Equal(t, "renamed", *calls[0].change.Label)
	assert.Nil(t, calls[0].change.Content)
	assert.Empty(t, calls[0].change.MetaUpdates)
}

func TestMarkNodeDirty_NoopWithoutPendingChanges(t *testing.T) {
	store := &fakeGraphStore{}
	c := newTestCommitter(store)
	defer c.Close()

	c.MarkNodeDirty(mustNode(t, "n1"), "noop")

	assert.False(t, c.HasPending())
	assert.Equal(t, StatusIdle, c.Status())
}

func TestMarkLinkChange_MergePolicy(t *testing.T) {
	props := func(k, v string) map[string]interface{} {
		return map[string]interface{}{k: v}
	}
	tests := []struct {
		name     string
		sequence []LinkChange
		wantOps  []string
		check    func(t *testing.T, calls []recordedCall)
	}{
		{
			name: "create then delete cancels entirely",
			sequence: []LinkChange{
				{Action: LinkActionCreate, From: "a", To: "b"},
				{Action: LinkActionDelete, From: "a", To: "b"},
			},
			wantOps: nil,
		},
		{
			name: "create then delete with reversed endpoints cancels",
			sequence: []LinkChange{
				{Action: LinkActionCreate, From: "a", To: "b"},
				{Action: LinkActionDelete, From: "b", To: "a"},
			},
			wantOps: nil,
		},
		{
			name: "create over create replaces props",
			sequence: []LinkChange{
				{Action: LinkActionCreate, From: "a", To: "b", Props: props("w", "old")},
				{Action: LinkActionCreate, From: "a", To: "b", Props: props("w", "new")},
			},
			wantOps: []string{"createEdge"},
			check: func(t *testing.T, calls []recordedCall) {
				assert.Equal(t, "new", calls[0].edge.Props["w"])
			},
		},
		{
			name: "delete over update wins and discards props",
			sequence: []LinkChange{
				{Action: LinkActionUpdate, From: "a", To: "b", Props: props("w", "x")},
				{Action: LinkActionDelete, From: "a", To: "b"},
			},
			wantOps: []string{"deleteEdge"},
			check: func(t *testing.T, calls []recordedCall) {
				assert.Empty(t, calls[0].edge.Props)
			},
		},
		{
			name: "update over delete is a no-op",
			sequence: []LinkChange{
				{Action: LinkActionDelete, From: "a", To: "b"},
				{Action: LinkActionUpdate, From: "a", To: "b", Props: props("w", "x")},
			},
			wantOps: []string{"deleteEdge"},
		},
		{
			name: "update over create merges into the pending create",
			sequence: []LinkChange{
				{Action: LinkActionCreate, From: "a", To: "b", Props: props("color", "red")},
				{Action: LinkActionUpdate, From: "a", To: "b", Props: props("weight", "3")},
			},
			wantOps: []string{"createEdge"},
			check: func(t *testing.T, calls []recordedCall) {
				assert.Equal(t, "red", calls[0].edge.Props["color"])
				assert.Equal(t, "3", calls[0].edge.Props["weight"])
			},
		},
		{
			name: "update with no prior entry stays an update",
			sequence: []LinkChange{
				{Action: LinkActionUpdate, From: "a", To: "b", Props: props("w", "x")},
			},
			wantOps: []string{"updateEdge"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeGraphStore{}
			c := newTestCommitter(store)
			defer c.Close()

			for _, change := range tt.sequence {
				require.NoError(t, c.MarkLinkChange(change))
			}
			require.NoError(t, c.Commit(context.Background(), CommitOptions{}))

			calls := store.recorded()
			var ops []string
			for _, call := range calls {
				ops = append(ops, call.op)
			}
			assert.Equal(t, tt.wantOps, ops)
			if tt.check != nil {
				require.Len(t, calls, len(tt.wantOps))
				tt.check(t, calls)
			}
		})
	}
}

func TestCommit_NeverOverlaps(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeGraphStore{gate: gate}
	c := newTestCommitter(store)
	defer c.Close()

	node := mustNode(t, "n1")
	node.SetLabel("one")
	c.MarkNodeDirty(node, "edit")

	done := make(chan struct{})
	go func() {
		_ = c.Commit(context.Background(), CommitOptions{})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return c.Status() == StatusSaving
	}, time.Second, time.Millisecond)

	// A second request while in flight defers instead of interleaving.
	node.SetContent("two")
	c.MarkNodeDirty(node, "edit")
	require.NoError(t, c.Commit(context.Background(), CommitOptions{}))

	close(gate)
	<-done

	require.Eventually(t, func() bool {
		return len(store.recorded()) == 2 && !c.HasPending()
	}, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&store.maxActive), int32(1))
}

func TestCommit_EmptyDirtySetMovesSavedToIdle(t *testing.T) {
	store := &fakeGraphStore{}
	c := newTestCommitter(store)
	defer c.Close()

	var mu sync.Mutex
	var seen []Status
	c.Subscribe(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	node := mustNode(t, "n1")
	node.SetLabel("x")
	c.MarkNodeDirty(node, "edit")
	require.NoError(t, c.Commit(context.Background(), CommitOptions{}))

	mu.Lock()
	assert.Equal(t, []Status{StatusDirty, StatusSaving, StatusSaved, StatusIdle}, seen)
	mu.Unlock()
	assert.Equal(t, StatusIdle, c.Status())
}

func TestCommit_FailedEntryRetriesWithoutLoss(t *testing.T) {
	store := &fakeGraphStore{failNodes: map[string]bool{"n1": true}}
	c := newTestCommitter(store)
	defer c.Close()

	node := mustNode(t, "n1")
	node.SetLabel("kept")
	c.MarkNodeDirty(node, "edit")
	require.NoError(t, c.Commit(context.Background(), CommitOptions{}))

	assert.Equal(t, StatusError, c.Status())
	assert.True(t, c.HasPending())

	store.mu.Lock()
	store.failNodes = nil
	store.mu.Unlock()

	// The scheduled retry flushes the requeued entry.
	require.Eventually(t, func() bool {
		calls := store.recorded()
		return len(calls) == 1 && calls[0].nodeID == "n1"
	}, time.Second, 5*time.Millisecond)
	require.NotNil(t, store.recorded()[0].change.Label)
	assert.Equal(t, "kept", *store.recorded()[0].change.Label)
	assert.Equal(t, StatusIdle, c.Status())
}

func TestCommit_FailureDoesNotBlockOtherEntries(t *testing.T) {
	store := &fakeGraphStore{failNodes: map[string]bool{"bad": true}}
	c := newTestCommitter(store)
	defer c.Close()

	bad := mustNode(t, "bad")
	bad.SetLabel("x")
	good := mustNode(t, "good")
	good.SetLabel("y")
	c.MarkNodeDirty(bad, "edit")
	c.MarkNodeDirty(good, "edit")
	require.NoError(t, c.Commit(context.Background(), CommitOptions{}))

	calls := store.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "good", calls[0].nodeID)
	assert.Equal(t, StatusError, c.Status())
}

func TestCommit_StructuralChangeTriggersPropagation(t *testing.T) {
	store := &fakeGraphStore{}
	structures := &fakeStructureSync{}
	memory := &fakeMemoryRefresher{}
	c := NewCommitter(store, structures, memory, testDomainConfig(), zap.NewNop(), "proj-1")
	defer c.Close()

	require.NoError(t, c.MarkLinkChange(LinkChange{Action: LinkActionCreate, From: "a", To: "b"}))
	require.NoError(t, c.Commit(context.Background(), CommitOptions{}))

	structures.mu.Lock()
	require.Len(t, structures.rebuilds, 1)
	assert.Equal(t, "proj-1", structures.rebuilds[0])
	structures.mu.Unlock()

	memory.mu.Lock()
	require.Len(t, memory.nodeIDs, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, memory.nodeIDs[0])
	memory.mu.Unlock()
}

func TestCommit_PropUpdateDoesNotTriggerPropagation(t *testing.T) {
	store := &fakeGraphStore{}
	structures := &fakeStructureSync{}
	memory := &fakeMemoryRefresher{}
	c := NewCommitter(store, structures, memory, testDomainConfig(), zap.NewNop(), "proj-1")
	defer c.Close()

	require.NoError(t, c.MarkLinkChange(LinkChange{
		Action: LinkActionUpdate, From: "a", To: "b",
		Props: map[string]interface{}{"weight": 2},
	}))
	require.NoError(t, c.Commit(context.Background(), CommitOptions{}))

	structures.mu.Lock()
	assert.Empty(t, structures.rebuilds)
	structures.mu.Unlock()
}

func TestDebounce_MarkDirtySchedulesCommit(t *testing.T) {
	store := &fakeGraphStore{}
	c := newTestCommitter(store)
	defer c.Close()

	node := mustNode(t, "n1")
	node.SetLabel("debounced")
	c.MarkNodeDirty(node, "edit")

	require.Eventually(t, func() bool {
		return len(store.recorded()) == 1 && c.Status() == StatusIdle
	}, time.Second, 5*time.Millisecond)
}

func TestSetCommitDelay_EnforcesMinimumFloor(t *testing.T) {
	store := &fakeGraphStore{}
	cfg := testDomainConfig()
	c := NewCommitter(store, nil, nil, cfg, zap.NewNop(), "proj-1")
	defer c.Close()

	c.SetCommitDelay(0)

	c.mu.Lock()
	delay := c.delay
	c.mu.Unlock()
	assert.Equal(t, cfg.MinCommitDelay, delay)
}

func TestSubscribe_NotifiesOnlyOnRealTransitions(t *testing.T) {
	store := &fakeGraphStore{}
	c := newTestCommitter(store)
	defer c.Close()

	var mu sync.Mutex
	var seen []Status
	unsubscribe := c.Subscribe(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	node := mustNode(t, "n1")
	node.SetLabel("a")
	c.MarkNodeDirty(node, "edit")
	node.SetContent("b")
	c.MarkNodeDirty(node, "edit")

	mu.Lock()
	assert.Equal(t, []Status{StatusDirty}, seen)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, c.Commit(context.Background(), CommitOptions{}))
	mu.Lock()
	assert.Equal(t, []Status{StatusDirty}, seen)
	mu.Unlock()
}

func TestFlush_BestEffortCommit(t *testing.T) {
	store := &fakeGraphStore{}
	c := newTestCommitter(store)
	defer c.Close()

	node := mustNode(t, "n1")
	node.SetLabel("bye")
	c.MarkNodeDirty(node, "unload")
	c.Flush(context.Background())

	calls := store.recorded()
	require.Len(t, calls, 1)
	assert.False(t, c.HasPending())
}
