package future

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

//Scheduler runs continuations. Post must be safe to call from any goroutine.
type Scheduler interface {
	Post(fn func())
}

//SchedulerFunc adapts a plain function to the Scheduler interface.
type SchedulerFunc func(fn func())

//Post implement Scheduler interface
func (f SchedulerFunc) Post(fn func()) {
	f(fn)
}

//Inline runs every continuation on the goroutine that completed the future.
//Meant for tests; production code should drive a Queue.
var Inline Scheduler = SchedulerFunc(func(fn func()) {
	runSafely(fn)
})

//Queue is a FIFO of ready continuations drained by a single logical driver.
//Post is thread safe; Drain and Run serialize with each other.
type Queue struct {
	mutex sync.Mutex
	ready []func()
	wake  chan struct{}

	//held for the duration of a drain so only one driver mutates state at a time
	driveMutex sync.Mutex
}

//NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

//Post enqueue fn to run on the next drain.
func (q *Queue) Post(fn func()) {
	q.mutex.Lock()
	q.ready = append(q.ready, fn)
	q.mutex.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

//Len number of continuations waiting for a drain.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.ready)
}

//Drain runs the continuations that were ready when it was called and returns how many ran.
//Anything posted while draining waits for the next call, so one call is one host "tick".
func (q *Queue) Drain() int {
	q.driveMutex.Lock()
	defer q.driveMutex.Unlock()

	q.mutex.Lock()
	batch := q.ready
	q.ready = nil
	q.mutex.Unlock()

	for _, fn := range batch {
		runSafely(fn)
	}
	return len(batch)
}

//Run drains the queue until ctx is done. Meant to be run as a goroutine.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for q.Drain() > 0 {
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

func runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[f]continuation panic = %v\n", r)
		}
	}()
	fn()
}
