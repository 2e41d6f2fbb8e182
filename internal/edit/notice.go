package edit

import "sync"

// Notice is a short user-facing message about a load or save failure.
type Notice struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Notifier receives user-facing notices.
type Notifier interface {
	Notify(n Notice)
}

// NoticeQueue collects notices until they are drained.
type NoticeQueue struct {
	mu      sync.Mutex
	pending []Notice
}

// Notify appends n to the queue.
func (q *NoticeQueue) Notify(n Notice) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, n)
}

// Drain returns and clears all pending notices.
func (q *NoticeQueue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}
