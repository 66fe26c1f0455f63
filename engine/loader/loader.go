package loader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/culledrenderer"
)

var (
	// ErrDuplicateRequest is returned when a key is requested again before it failed.
	ErrDuplicateRequest = errors.New("loader: key already requested")

	// ErrClosed is returned by Request after Close.
	ErrClosed = errors.New("loader: closed")
)

const idleTimeout = time.Second

type built[V, I any] struct {
	key  string
	desc culledrenderer.LoadDesc[V, I]
}

// loader is the implementation of the Loader interface.
type loader[V, I any] struct {
	settings

	target Target[V, I]
	pool   worker.DynamicWorkerPool
	wg     sync.WaitGroup

	mu     sync.Mutex
	states map[string]State
	errs   map[string]error
	ready  []built[V, I]
	taskID int
	closed bool
}

// Loader streams content into one Target. Requests are built on a worker pool and queued;
// Update, called once per frame on the main goroutine, reserves room for every queued
// result and hands the fills back to the pool, where they run concurrently.
//
// A failing request is logged and marked StateFailed. It never affects other requests.
type Loader[V, I any] interface {
	// Request queues the build of key.
	//
	// Parameters:
	//   - key: identifies the request in the state map; a failed key may be requested again
	//   - build: produces the load on a worker
	//
	// Returns:
	//   - error: ErrDuplicateRequest or ErrClosed
	Request(key string, build BuildFunc[V, I]) error

	// Update reserves every built request and dispatches its fill.
	//
	// Returns:
	//   - int: the number of fills dispatched
	Update() int

	// Wait blocks until every build and fill in flight has finished. It must not run
	// concurrently with Request or Update.
	Wait()

	// State returns the progress of key.
	State(key string) State

	// Err returns the error a failed key failed with.
	Err(key string) error

	// Summary counts the requests per state.
	Summary() map[State]int

	// Close waits for the work in flight and stops the pool.
	Close()
}

var _ Loader[int, int] = &loader[int, int]{}

// NewLoader creates a Loader filling target.
//
// Parameters:
//   - target: the renderer to fill
//   - options: a variadic list of LoaderBuilderOption functions to configure the Loader
//
// Returns:
//   - Loader[V, I]: the loader, its pool started
func NewLoader[V, I any](target Target[V, I], options ...LoaderBuilderOption) Loader[V, I] {
	l := &loader[V, I]{
		settings: settings{label: target.Label(), workers: 4, queueSize: 256},
		target:   target,
		states:   make(map[string]State),
		errs:     make(map[string]error),
	}
	for _, option := range options {
		option(&l.settings)
	}
	l.pool = worker.NewDynamicWorkerPool(l.workers, l.queueSize, idleTimeout)
	return l
}

func (l *loader[V, I]) Request(key string, build BuildFunc[V, I]) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("loader %s: request %s: %w", l.label, key, ErrClosed)
	}
	if st := l.states[key]; st != StateUnknown && st != StateFailed {
		l.mu.Unlock()
		return fmt.Errorf("loader %s: request %s is %s: %w", l.label, key, st, ErrDuplicateRequest)
	}
	l.states[key] = StateQueued
	delete(l.errs, key)
	id := l.nextTaskID()
	// Added under mu so Close cannot start waiting between the closed check and the Add.
	l.wg.Add(1)
	l.mu.Unlock()

	l.pool.SubmitTask(worker.Task{
		ID:      id,
		Payload: key,
		Do: func() (any, error) {
			defer l.wg.Done()
			desc, err := build()
			if err != nil {
				l.fail(key, "build", err)
				return nil, err
			}
			l.mu.Lock()
			l.ready = append(l.ready, built[V, I]{key: key, desc: desc})
			l.states[key] = StateBuilt
			l.mu.Unlock()
			return nil, nil
		},
	})
	return nil
}

func (l *loader[V, I]) Update() int {
	l.mu.Lock()
	batch := l.ready
	l.ready = nil
	if l.closed {
		for _, b := range batch {
			l.states[b.key] = StateFailed
			l.errs[b.key] = fmt.Errorf("loader %s: fill %s: %w", l.label, b.key, ErrClosed)
		}
		l.mu.Unlock()
		return 0
	}
	l.mu.Unlock()

	dispatched := 0
	for _, b := range batch {
		offs, err := l.target.Reserve(b.desc.ReserveInfo())
		if err != nil {
			l.fail(b.key, "reserve", err)
			continue
		}
		desc := b.desc
		desc.Offsets = offs

		l.mu.Lock()
		if l.closed {
			l.states[b.key] = StateFailed
			l.errs[b.key] = fmt.Errorf("loader %s: fill %s: %w", l.label, b.key, ErrClosed)
			l.mu.Unlock()
			continue
		}
		l.states[b.key] = StateLoading
		id := l.nextTaskID()
		l.wg.Add(1)
		l.mu.Unlock()

		key := b.key
		l.pool.SubmitTask(worker.Task{
			ID:      id,
			Payload: key,
			Do: func() (any, error) {
				defer l.wg.Done()
				if err := l.target.Load(desc); err != nil {
					l.fail(key, "load", err)
					return nil, err
				}
				l.setState(key, StateLoaded)
				return nil, nil
			},
		})
		dispatched++
	}
	if dispatched > 0 {
		common.Logger().Debug("loader dispatched fills", "loader", l.label, "count", dispatched)
	}
	return dispatched
}

func (l *loader[V, I]) Wait() {
	l.wg.Wait()
}

func (l *loader[V, I]) State(key string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[key]
}

func (l *loader[V, I]) Err(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errs[key]
}

func (l *loader[V, I]) Summary() map[State]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[State]int)
	for _, st := range l.states {
		counts[st]++
	}
	return counts
}

func (l *loader[V, I]) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
	l.pool.Stop()
}

// nextTaskID must be called with mu held.
func (l *loader[V, I]) nextTaskID() int {
	l.taskID++
	return l.taskID
}

func (l *loader[V, I]) setState(key string, st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[key] = st
}

func (l *loader[V, I]) fail(key, stage string, err error) {
	l.mu.Lock()
	l.states[key] = StateFailed
	l.errs[key] = err
	l.mu.Unlock()
	common.Logger().Error("load request failed", "loader", l.label, "key", key, "stage", stage, "err", err)
}
