package future

import "errors"

//CompletionSource a future that is resolved from the outside instead of by running work.
//Each Try method moves it out of Created exactly once; later calls return false, which
//callers treat as "already resolved", not as an error.
type CompletionSource[T any] struct {
	future *Future[T]
}

//NewCompletionSource creates an unresolved source whose continuations post to sched.
func NewCompletionSource[T any](sched Scheduler) *CompletionSource[T] {
	return &CompletionSource[T]{
		future: newFuture[T](sched),
	}
}

//Future the future controlled by this source.
func (s *CompletionSource[T]) Future() *Future[T] {
	return s.future
}

//TrySetResult completes with v.
func (s *CompletionSource[T]) TrySetResult(v T) bool {
	return s.future.finish(RanToCompletion, v, nil)
}

//TrySetException faults with every non-nil cause. An AggregateError is unwrapped into its causes.
func (s *CompletionSource[T]) TrySetException(errs ...error) bool {
	var causes []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		causes = append(causes, flatten(err)...)
	}
	if len(causes) == 0 {
		causes = []error{errors.New("future faulted without a cause")}
	}
	var zero T
	return s.future.finish(Faulted, zero, causes)
}

//TrySetCanceled cancels.
func (s *CompletionSource[T]) TrySetCanceled() bool {
	var zero T
	return s.future.finish(Canceled, zero, []error{ErrCanceled})
}

//settle resolves s from a (value, error) pair.
func (s *CompletionSource[T]) settle(v T, err error) bool {
	switch {
	case err == nil:
		return s.TrySetResult(v)
	case errors.Is(err, ErrCanceled):
		return s.TrySetCanceled()
	default:
		return s.TrySetException(err)
	}
}
