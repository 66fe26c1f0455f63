package renderer

import "sync"

// readbackQueue holds finished map results until the next Poll delivers them, so that
// ReadbackFuncs always run on the goroutine driving the frame.
type readbackQueue struct {
	mu      sync.Mutex
	results []readbackResult
}

type readbackResult struct {
	done ReadbackFunc
	data []byte
	err  error
}

func (q *readbackQueue) push(done ReadbackFunc, data []byte, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, readbackResult{done: done, data: data, err: err})
}

// fail queues err for every request of a submission that never reached the GPU.
func (q *readbackQueue) fail(maps []MapRequest, err error) {
	for _, m := range maps {
		q.push(m.Done, nil, err)
	}
}

// deliver runs the queued callbacks in completion order, outside the lock.
func (q *readbackQueue) deliver() int {
	q.mu.Lock()
	results := q.results
	q.results = nil
	q.mu.Unlock()
	for _, r := range results {
		r.done(r.data, r.err)
	}
	return len(results)
}
