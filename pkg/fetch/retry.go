package fetch

import (
	"sync"
)

// retryExecutor runs single-item retries off the fetcher workers so a
// slow retry never stalls batch processing. In inline mode tasks run on
// the submitting goroutine, which unit tests rely on for determinism.
type retryExecutor struct {
	inline bool
	tasks  chan func()
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func newRetryExecutor(workers int, inline bool) *retryExecutor {
	e := &retryExecutor{inline: inline}
	if inline {
		return e
	}
	e.tasks = make(chan func(), 128)
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for task := range e.tasks {
				task()
			}
		}()
	}
	return e
}

// submit schedules a task, falling back to running it inline when the
// executor is stopped so no retry is silently lost
func (e *retryExecutor) submit(task func()) {
	if e.inline {
		task()
		return
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		task()
		return
	}
	// sending under the lock keeps stop() from closing the channel
	// between the check and the send
	e.tasks <- task
	e.mu.Unlock()
}

// stop joins the pool after draining queued tasks
func (e *retryExecutor) stop() {
	if e.inline {
		return
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()
	close(e.tasks)
	e.wg.Wait()
}
