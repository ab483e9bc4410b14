package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clickup-metrics/clickup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed task tree from memory. Its maps are populated
// before a fetch starts and only read afterwards.
type fakeSource struct {
	tasks      map[string]clickup.Task
	history    map[string]clickup.TimeInStatus
	taskErr    map[string]error
	historyErr map[string]error
	delay      map[string]time.Duration
	barrier    *barrier

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu       sync.Mutex
	requests []clickup.TaskRequest
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tasks:      map[string]clickup.Task{},
		history:    map[string]clickup.TimeInStatus{},
		taskErr:    map[string]error{},
		historyErr: map[string]error{},
		delay:      map[string]time.Duration{},
	}
}

func (s *fakeSource) add(id string, children ...string) {
	task := clickup.Task{ID: id, Name: "task " + id}
	for _, c := range children {
		task.SubTasks = append(task.SubTasks, clickup.SubTask{ID: c, Name: "task " + c})
	}
	s.tasks[id] = task
	s.history[id] = clickup.TimeInStatus{
		CurrentStatus: clickup.CurrentStatus{Status: "done"},
		StatusHistory: []clickup.StatusPeriod{{Status: "in progress " + id, TotalTime: clickup.TotalTime{ByMinute: 1440}}},
	}
}

func (s *fakeSource) enter() func() {
	n := s.inFlight.Add(1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { s.inFlight.Add(-1) }
}

func (s *fakeSource) sleep(ctx context.Context, id string) error {
	d, ok := s.delay[id]
	if !ok {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSource) FetchTask(ctx context.Context, req clickup.TaskRequest) (*clickup.Task, error) {
	defer s.enter()()
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.barrier != nil && s.barrier.ids[req.TaskID] {
		if err := s.barrier.wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := s.sleep(ctx, req.TaskID); err != nil {
		return nil, err
	}
	if err, ok := s.taskErr[req.TaskID]; ok {
		return nil, err
	}
	task, ok := s.tasks[req.TaskID]
	if !ok {
		return nil, &clickup.ParseError{Op: "get_task", StatusCode: 404, Body: "not found"}
	}
	task.SubTasks = append([]clickup.SubTask(nil), task.SubTasks...)
	return &task, nil
}

func (s *fakeSource) FetchStatusHistory(ctx context.Context, req clickup.TaskRequest) (*clickup.TimeInStatus, error) {
	defer s.enter()()
	if err, ok := s.historyErr[req.TaskID]; ok {
		return nil, err
	}
	tis := s.history[req.TaskID]
	return &tis, nil
}

// barrier blocks the listed ids until all of them have arrived, which can
// only happen if they are in flight at the same time.
type barrier struct {
	ids     map[string]bool
	count   atomic.Int32
	release chan struct{}
	once    sync.Once
}

func newBarrier(ids ...string) *barrier {
	b := &barrier{ids: map[string]bool{}, release: make(chan struct{})}
	for _, id := range ids {
		b.ids[id] = true
	}
	return b
}

func (b *barrier) wait(ctx context.Context) error {
	if int(b.count.Add(1)) == len(b.ids) {
		b.once.Do(func() { close(b.release) })
	}
	select {
	case <-b.release:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("barrier timeout: subtasks were not fetched concurrently")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sequential builds the expected tree with a plain depth-first walk.
func sequential(s *fakeSource, id string) *clickup.Task {
	task := s.tasks[id]
	task.SubTasks = append([]clickup.SubTask(nil), task.SubTasks...)
	tis := s.history[id]
	task.TimeInStatus = &tis
	for i := range task.SubTasks {
		task.SubTasks[i].Task = sequential(s, task.SubTasks[i].ID)
	}
	return &task
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchTree_ResolvesWholeTree(t *testing.T) {
	src := newFakeSource()
	src.add("root", "a", "b")
	src.add("a", "a1", "a2")
	src.add("b")
	src.add("a1")
	src.add("a2", "a21")
	src.add("a21")

	tree, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	require.NoError(t, err)

	assert.Equal(t, sequential(src, "root"), tree)
	assert.Equal(t, 6, countTasks(tree))
}

func TestFetchTree_MatchesChildrenByIDForAnyCompletionOrder(t *testing.T) {
	ids := []string{"c1", "c2", "c3"}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, perm := range perms {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			src := newFakeSource()
			src.add("root", ids...)
			for _, id := range ids {
				src.add(id)
			}
			// perm[i] is the finishing position of ids[i].
			for i, pos := range perm {
				src.delay[ids[i]] = time.Duration(pos) * 15 * time.Millisecond
			}

			tree, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
			require.NoError(t, err)

			require.Len(t, tree.SubTasks, len(ids))
			for i, ref := range tree.SubTasks {
				assert.Equal(t, ids[i], ref.ID)
				require.NotNil(t, ref.Task)
				assert.Equal(t, ref.ID, ref.Task.ID)
			}
		})
	}
}

func TestFetchTree_FetchesSiblingsConcurrently(t *testing.T) {
	src := newFakeSource()
	src.add("root", "c1", "c2", "c3", "c4")
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		src.add(id)
	}
	src.barrier = newBarrier("c1", "c2", "c3", "c4")

	tree, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	require.NoError(t, err)
	assert.Equal(t, 5, countTasks(tree))
}

func TestFetchTree_ChildFailureFailsWholeFetch(t *testing.T) {
	src := newFakeSource()
	src.add("root", "c1", "c2", "c3")
	src.add("c1")
	src.add("c2")
	src.add("c3")
	src.historyErr["c2"] = clickup.ErrTimeInStatusDisabled

	tree, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	assert.Nil(t, tree)
	assert.ErrorIs(t, err, clickup.ErrTimeInStatusDisabled)
	assert.Contains(t, err.Error(), "subtask c2")
}

func TestFetchTree_DeepFailurePropagatesToRoot(t *testing.T) {
	src := newFakeSource()
	src.add("root", "a", "b")
	src.add("a", "a1")
	src.add("b")
	src.add("a1")
	src.taskErr["a1"] = &clickup.TransportError{Op: "get_task", Err: errors.New("connection reset")}

	tree, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	assert.Nil(t, tree)

	var transportErr *clickup.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestFetchTree_FailureCancelsSlowSiblings(t *testing.T) {
	src := newFakeSource()
	src.add("root", "fast", "slow")
	src.add("fast")
	src.add("slow")
	src.taskErr["fast"] = errors.New("boom")
	src.delay["slow"] = 10 * time.Second

	start := time.Now()
	tree, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	assert.Nil(t, tree)
	assert.EqualError(t, err, "subtask fast: boom")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchTree_RootFailure(t *testing.T) {
	src := newFakeSource()
	src.add("root", "c1")
	src.add("c1")
	src.taskErr["root"] = clickup.ErrCustomIDRequiresWorkspace

	tree, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	assert.Nil(t, tree)
	assert.ErrorIs(t, err, clickup.ErrCustomIDRequiresWorkspace)
}

func TestFetchTree_BoundsInFlightRequests(t *testing.T) {
	src := newFakeSource()
	children := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	src.add("root", children...)
	for _, id := range children {
		src.add(id, id+"x")
		src.add(id + "x")
		src.delay[id] = 10 * time.Millisecond
	}

	tree, err := New(src, 2, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	require.NoError(t, err)

	assert.Equal(t, sequential(src, "root"), tree)
	assert.LessOrEqual(t, src.maxInFlight.Load(), int32(2))
}

func TestFetchTree_UnmatchedChildIsUnexpected(t *testing.T) {
	src := newFakeSource()
	src.add("root", "c1")
	src.add("c1")
	stray := src.tasks["c1"]
	stray.ID = "someone-else"
	src.tasks["c1"] = stray

	tree, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	assert.Nil(t, tree)
	assert.ErrorIs(t, err, ErrUnexpected)
}

func TestFetchTree_DuplicateSubtaskIsUnexpected(t *testing.T) {
	src := newFakeSource()
	src.add("root", "c1", "c1")
	src.add("c1")

	_, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	assert.ErrorIs(t, err, ErrUnexpected)
}

func TestFetchTree_WorkspaceOnlyQualifiesRoot(t *testing.T) {
	src := newFakeSource()
	src.add("ENG-1", "c1")
	src.add("c1")

	_, err := New(src, 0, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "ENG-1", WorkspaceID: "9001"})
	require.NoError(t, err)

	require.Len(t, src.requests, 2)
	for _, req := range src.requests {
		if req.TaskID == "ENG-1" {
			assert.Equal(t, "9001", req.WorkspaceID)
		} else {
			assert.Empty(t, req.WorkspaceID)
		}
	}
}

func TestFetchTree_AgainstClickUpClient(t *testing.T) {
	srv := newClickUpServer(t)
	defer srv.Close()

	client := clickup.NewClient(clickup.ClientConfig{BaseURL: srv.URL, Token: "t", Timeout: 5 * time.Second})
	tree, err := New(client, 4, quietLogger()).FetchTree(context.Background(), clickup.TaskRequest{TaskID: "root"})
	require.NoError(t, err)

	require.Len(t, tree.SubTasks, 2)
	assert.Equal(t, "child-1", tree.SubTasks[0].Task.ID)
	assert.Equal(t, "child-2", tree.SubTasks[1].Task.ID)
	require.NotNil(t, tree.TimeInStatus)
	assert.Len(t, tree.TimeInStatus.StatusHistory, 1)
	assert.NotNil(t, tree.SubTasks[1].Task.TimeInStatus)
}
