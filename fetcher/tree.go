// Package fetcher resolves a whole ClickUp task tree, fetching every subtree
// concurrently.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clickup-metrics/clickup"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrUnexpected marks a broken internal invariant, such as a fetched child
// that matches none of its parent's subtask references.
var ErrUnexpected = errors.New("unexpected task tree state")

// TaskSource is the remote API as seen by the fetcher. *clickup.Client
// implements it.
type TaskSource interface {
	FetchTask(ctx context.Context, req clickup.TaskRequest) (*clickup.Task, error)
	FetchStatusHistory(ctx context.Context, req clickup.TaskRequest) (*clickup.TimeInStatus, error)
}

// Fetcher builds fully resolved task trees.
type Fetcher struct {
	source TaskSource
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// New creates a Fetcher. maxConcurrent caps the number of API calls in
// flight across the whole tree; zero or less means no cap.
func New(source TaskSource, maxConcurrent int, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{source: source, logger: logger}
	if maxConcurrent > 0 {
		f.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return f
}

// FetchTree fetches the task named by req and every task below it. On success
// every SubTask.Task in the tree is set and every task carries its status
// history. On failure no tree is returned.
//
// Only the root is requested with req.WorkspaceID; subtasks are always
// referenced by their canonical id.
func (f *Fetcher) FetchTree(ctx context.Context, req clickup.TaskRequest) (*clickup.Task, error) {
	log := f.logger.With("run_id", uuid.NewString(), "root", req.TaskID)
	start := time.Now()

	root, err := f.fetchSubtree(ctx, log, req, 0)
	if err != nil {
		log.Warn("task tree fetch failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	log.Info("fetched task tree", "tasks", countTasks(root), "elapsed", time.Since(start))
	return root, nil
}

func (f *Fetcher) fetchSubtree(ctx context.Context, log *slog.Logger, req clickup.TaskRequest, depth int) (*clickup.Task, error) {
	task, err := f.fetchNode(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Debug("fetched task", "task_id", task.ID, "depth", depth, "subtasks", len(task.SubTasks))

	if len(task.SubTasks) == 0 {
		return task, nil
	}

	slots := make(map[string]*clickup.SubTask, len(task.SubTasks))
	for i := range task.SubTasks {
		ref := &task.SubTasks[i]
		if _, dup := slots[ref.ID]; dup {
			return nil, fmt.Errorf("%w: task %s lists subtask %s twice", ErrUnexpected, task.ID, ref.ID)
		}
		slots[ref.ID] = ref
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan *clickup.Task, len(task.SubTasks))
	for _, ref := range task.SubTasks {
		childReq := clickup.TaskRequest{TaskID: ref.ID}
		g.Go(func() error {
			child, err := f.fetchSubtree(gctx, log, childReq, depth+1)
			if err != nil {
				return fmt.Errorf("subtask %s: %w", childReq.TaskID, err)
			}
			results <- child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	// Completion order is arbitrary, so children are matched by id.
	for child := range results {
		slot, ok := slots[child.ID]
		if !ok {
			return nil, fmt.Errorf("%w: fetched task %s is not a subtask of %s", ErrUnexpected, child.ID, task.ID)
		}
		if slot.Task != nil {
			return nil, fmt.Errorf("%w: subtask %s of %s resolved twice", ErrUnexpected, child.ID, task.ID)
		}
		slot.Task = child
	}
	for _, ref := range task.SubTasks {
		if ref.Task == nil {
			return nil, fmt.Errorf("%w: subtask %s of %s was never resolved", ErrUnexpected, ref.ID, task.ID)
		}
	}

	return task, nil
}

// fetchNode issues the task and status history calls concurrently and joins
// them.
func (f *Fetcher) fetchNode(ctx context.Context, req clickup.TaskRequest) (*clickup.Task, error) {
	var (
		task    *clickup.Task
		history *clickup.TimeInStatus
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.limited(gctx, func() (err error) {
			task, err = f.source.FetchTask(gctx, req)
			return err
		})
	})
	g.Go(func() error {
		return f.limited(gctx, func() (err error) {
			history, err = f.source.FetchStatusHistory(gctx, req)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if task == nil || history == nil {
		return nil, fmt.Errorf("%w: empty response for task %s", ErrUnexpected, req.TaskID)
	}
	task.TimeInStatus = history
	return task, nil
}

// limited runs fn while holding a semaphore slot. Slots are held only for the
// duration of a single API call, never while waiting on children.
func (f *Fetcher) limited(ctx context.Context, fn func() error) error {
	if f.sem == nil {
		return fn()
	}
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer f.sem.Release(1)
	return fn()
}

func countTasks(t *clickup.Task) int {
	n := 1
	for _, sub := range t.SubTasks {
		if sub.Task != nil {
			n += countTasks(sub.Task)
		}
	}
	return n
}
