//Package future implements deferred results with exactly-once completion and ordered continuations.
//
//Work runs on goroutines; continuations are posted to a Scheduler so that everything that
//touches shared state runs on one logical driver instead of on whichever goroutine
//finished the I/O.
package future

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

//Status lifecycle of a Future. Terminal states are sticky.
type Status int32

//Future Status Values
const (
	Created Status = iota
	Running
	RanToCompletion
	Faulted
	Canceled
)

func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case RanToCompletion:
		return "RanToCompletion"
	case Faulted:
		return "Faulted"
	case Canceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

//Terminal true for RanToCompletion, Faulted and Canceled.
func (s Status) Terminal() bool {
	return s >= RanToCompletion
}

//ErrCanceled is the error of a canceled future. Work returning it cancels instead of faulting.
var ErrCanceled = errors.New("future canceled")

//ErrNotCompleted returned by Result when the future has not reached a terminal state.
var ErrNotCompleted = errors.New("future not completed")

//AggregateError collects every failure cause recorded on a faulted future.
type AggregateError struct {
	Errors []error
}

// Error implement Error interface
func (ae *AggregateError) Error() string {
	messages := make([]string, len(ae.Errors))
	for i, err := range ae.Errors {
		messages[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred: %s", len(ae.Errors), strings.Join(messages, "; "))
}

//Unwrap lets errors.Is and errors.As see every cause.
func (ae *AggregateError) Unwrap() []error {
	return ae.Errors
}

//Future a result that arrives later.
type Future[T any] struct {
	sched Scheduler
	work  func() (T, error)

	mutex  sync.Mutex
	status Status
	result T
	errs   []error
	conts  []func()
	done   chan struct{}

	//true while finish is posting; continuations attached meanwhile queue behind it
	posting bool
}

func newFuture[T any](sched Scheduler) *Future[T] {
	if sched == nil {
		sched = Inline
	}
	return &Future[T]{
		sched:  sched,
		status: Created,
		done:   make(chan struct{}),
	}
}

//New creates a future wrapping work. Nothing runs until Start.
func New[T any](sched Scheduler, work func() (T, error)) *Future[T] {
	f := newFuture[T](sched)
	f.work = work
	return f
}

//Run creates and starts a future wrapping work.
func Run[T any](sched Scheduler, work func() (T, error)) *Future[T] {
	f := New(sched, work)
	f.Start()
	return f
}

//FromResult a future already completed with v.
func FromResult[T any](sched Scheduler, v T) *Future[T] {
	f := newFuture[T](sched)
	f.finish(RanToCompletion, v, nil)
	return f
}

//FromError a future already faulted with err.
func FromError[T any](sched Scheduler, err error) *Future[T] {
	f := newFuture[T](sched)
	var zero T
	if errors.Is(err, ErrCanceled) {
		f.finish(Canceled, zero, []error{err})
	} else {
		f.finish(Faulted, zero, flatten(err))
	}
	return f
}

//Start moves Created to Running and runs the work on its own goroutine.
//Returns false if the future was already started, completed, or has no work.
func (f *Future[T]) Start() bool {
	f.mutex.Lock()
	if f.status != Created || f.work == nil {
		f.mutex.Unlock()
		return false
	}
	f.status = Running
	f.mutex.Unlock()

	go f.execute()
	return true
}

func (f *Future[T]) execute() {
	v, err := call(f.work)
	var zero T
	switch {
	case err == nil:
		f.finish(RanToCompletion, v, nil)
	case errors.Is(err, ErrCanceled):
		f.finish(Canceled, zero, []error{err})
	default:
		f.finish(Faulted, zero, flatten(err))
	}
}

//finish is the single transition into a terminal state.
func (f *Future[T]) finish(status Status, v T, errs []error) bool {
	f.mutex.Lock()
	if f.status.Terminal() {
		f.mutex.Unlock()
		return false
	}
	f.status = status
	f.result = v
	f.errs = errs
	f.posting = true
	conts := f.conts
	f.conts = nil
	close(f.done)
	f.mutex.Unlock()

	f.postAll(conts)
	return true
}

//postAll posts conts, then whatever was attached while posting, until nothing is left.
//No lock is held across Post, so a synchronous scheduler may attach from inside a continuation.
func (f *Future[T]) postAll(conts []func()) {
	for {
		for _, cont := range conts {
			f.sched.Post(cont)
		}

		f.mutex.Lock()
		conts = f.conts
		f.conts = nil
		if len(conts) == 0 {
			f.posting = false
			f.mutex.Unlock()
			return
		}
		f.mutex.Unlock()
	}
}

//OnComplete registers fn to run once the future is terminal. Continuations registered
//before completion run in registration order; registering on a terminal future schedules fn at once.
func (f *Future[T]) OnComplete(fn func(*Future[T])) {
	cont := func() { fn(f) }

	f.mutex.Lock()
	if !f.status.Terminal() || f.posting {
		f.conts = append(f.conts, cont)
		f.mutex.Unlock()
		return
	}
	f.mutex.Unlock()

	f.sched.Post(cont)
}

//Scheduler the scheduler continuations of this future are posted to.
func (f *Future[T]) Scheduler() Scheduler {
	return f.sched
}

//Status current lifecycle state.
func (f *Future[T]) Status() Status {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.status
}

//Done closed once the future is terminal.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

//Err the failure of a faulted or canceled future, nil otherwise.
func (f *Future[T]) Err() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.errLocked()
}

func (f *Future[T]) errLocked() error {
	switch f.status {
	case Faulted:
		if len(f.errs) == 1 {
			return f.errs[0]
		}
		return &AggregateError{Errors: append([]error(nil), f.errs...)}
	case Canceled:
		return ErrCanceled
	default:
		return nil
	}
}

//Exceptions every recorded failure cause.
func (f *Future[T]) Exceptions() []error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]error(nil), f.errs...)
}

//Result non-blocking read. ErrNotCompleted until terminal.
func (f *Future[T]) Result() (T, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.status.Terminal() {
		var zero T
		return zero, ErrNotCompleted
	}
	return f.result, f.errLocked()
}

//Await blocks until the future is terminal or ctx is done.
//Never call it from a continuation running on the scheduler that must complete this future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("future: panic: %w", e)
			} else {
				err = fmt.Errorf("future: panic: %v", r)
			}
		}
	}()
	return fn()
}

func flatten(err error) []error {
	if ae, ok := err.(*AggregateError); ok {
		return append([]error(nil), ae.Errors...)
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return append([]error(nil), joined.Unwrap()...)
	}
	return []error{err}
}
