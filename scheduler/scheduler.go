// Package scheduler provides the admission queue that fetchcache engines
// submit fetch attempts to. Concurrency is unbounded: every admitted task
// runs in its own goroutine. Priority affects only the relative order of
// tasks that are waiting for admission in the same dispatch turn; once a
// task has started, priority has no further effect on it. Preemption of
// queued work is the caller's concern (fetchcache cancels attempts through
// their token before they start).
package scheduler

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/gammazero/channelqueue"
)

// Task is one unit of admitted work.
type Task func()

type item struct {
	task Task
	prio int
	seq  uint64 // submission order; breaks priority ties FIFO
}

type itemHeap []item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio > h[j].prio
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Scheduler admits tasks from an unbounded intake queue; Submit never blocks
// and has no failure mode. One Scheduler is normally shared process-wide
// (see Default); tests construct their own for isolation.
type Scheduler struct {
	in        chan<- item
	out       <-chan item
	seq       atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}
}

// New starts a scheduler with its own dispatch goroutine.
func New() *Scheduler {
	cq := channelqueue.New[item](-1)
	s := &Scheduler{
		in:   cq.In(),
		out:  cq.Out(),
		done: make(chan struct{}),
	}
	go s.dispatch()
	return s
}

var defaultScheduler = New()

// Default returns the shared process-wide scheduler.
func Default() *Scheduler { return defaultScheduler }

// Submit queues task for admission. Higher priority is admitted first among
// tasks waiting in the same dispatch turn. Task-body failures are the task's
// own concern.
func (s *Scheduler) Submit(task Task, priority int) {
	s.in <- item{task: task, prio: priority, seq: s.seq.Add(1)}
}

// Close stops intake. Tasks already queued are still admitted; Close does
// not wait for running tasks. Closing the Default scheduler is almost
// always a mistake.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.in) })
}

// Done is closed once the dispatcher has drained the queue after Close.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// dispatch drains everything queued at the moment it wakes into one turn,
// orders the turn by priority, and launches each task in its own goroutine.
func (s *Scheduler) dispatch() {
	defer close(s.done)
	var pending itemHeap
	for {
		it, ok := <-s.out
		if !ok {
			break
		}
		heap.Push(&pending, it)
	drain:
		for {
			select {
			case more, ok := <-s.out:
				if !ok {
					break drain
				}
				heap.Push(&pending, more)
			default:
				break drain
			}
		}
		for pending.Len() > 0 {
			next := heap.Pop(&pending).(item)
			go next.task()
		}
		// intake may have closed during the drain; the outer receive
		// handles it once the buffered items are gone
	}
	for pending.Len() > 0 {
		next := heap.Pop(&pending).(item)
		go next.task()
	}
}
