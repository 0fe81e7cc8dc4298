package fingerprinter

import "sync"

// Executor runs callbacks on a fixed context. Post must run tasks in the
// order they were posted.
type Executor interface {
	Post(task func())
}

// Inline runs every task immediately on the posting goroutine
type Inline struct{}

// Post implements Executor
func (Inline) Post(task func()) { task() }

// Loop runs tasks one at a time on its own goroutine. A single consumer
// reading a FIFO channel keeps tasks in posting order.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewLoop starts a loop that queues up to buffer tasks before Post blocks
func NewLoop(buffer int) *Loop {
	l := &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for task := range l.tasks {
		task()
	}
}

// Post implements Executor. Tasks posted after Close are dropped.
func (l *Loop) Post(task func()) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	l.tasks <- task
}

// Close stops accepting tasks and waits for queued ones to finish. It must
// not be called from a task.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.tasks)
	}
	l.mu.Unlock()
	<-l.done
}
