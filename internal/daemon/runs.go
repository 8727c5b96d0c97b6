package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"storyloom/internal/pipeline"
	"storyloom/internal/progress"
)

type run struct {
	orch     *pipeline.Orchestrator
	reporter *progress.Reporter
	started  time.Time
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func (r *run) finish(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

func (r *run) result() (bool, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return true, r.err
	default:
		return false, nil
	}
}

// runRegistry holds the runs of this process keyed by run id.
type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*run
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*run)}
}

func (r *runRegistry) add(id string, entry *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = entry
}

func (r *runRegistry) get(id string) (*run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.runs[id]
	return entry, ok
}

func (r *runRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

func (r *runRegistry) active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, entry := range r.runs {
		if done, _ := entry.result(); !done {
			count++
		}
	}
	return count
}

func (r *runRegistry) snapshots() []pipeline.Snapshot {
	r.mu.RLock()
	entries := make([]*run, 0, len(r.runs))
	for _, entry := range r.runs {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].started.Before(entries[j].started) })
	out := make([]pipeline.Snapshot, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.orch.Snapshot())
	}
	return out
}

// wait blocks until the run finishes or ctx ends.
func (r *run) wait(ctx context.Context) error {
	select {
	case <-r.done:
		_, err := r.result()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
