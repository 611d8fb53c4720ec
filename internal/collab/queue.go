package collab

import "sync"

// Queue is a FIFO serialization point: a task entering it runs to
// completion before the next begins (spec.md §5's Owner queue / Purse
// queue). Grounded on internal/storage's single-writer-mutex idiom,
// generalized from a struct-wide lock to a named, reusable serialization
// point shared by several independent goroutines.
type Queue struct {
	mu sync.Mutex
}

// Run executes f with exclusive access to the queue, blocking until any
// earlier caller's f has returned.
func (q *Queue) Run(f func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return f()
}
