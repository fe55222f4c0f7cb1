package future

//ContinueWith runs fn once f is terminal, whatever its outcome.
func ContinueWith[T, U any](f *Future[T], fn func(*Future[T]) (U, error)) *Future[U] {
	next := NewCompletionSource[U](f.sched)
	f.OnComplete(func(done *Future[T]) {
		next.settle(call(func() (U, error) {
			return fn(done)
		}))
	})
	return next.Future()
}

//Then runs fn with the result of f when it completes successfully.
//A faulted or canceled f propagates without calling fn.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	next := NewCompletionSource[U](f.sched)
	f.OnComplete(func(done *Future[T]) {
		v, err := done.Result()
		if err != nil {
			var zero U
			next.settle(zero, err)
			return
		}
		next.settle(call(func() (U, error) {
			return fn(v)
		}))
	})
	return next.Future()
}

//ThenFuture like Then, but fn starts another asynchronous step whose outcome becomes the outcome of the returned future.
func ThenFuture[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	next := NewCompletionSource[U](f.sched)
	f.OnComplete(func(done *Future[T]) {
		v, err := done.Result()
		if err != nil {
			var zero U
			next.settle(zero, err)
			return
		}
		inner, err := call(func() (*Future[U], error) {
			return fn(v), nil
		})
		if err != nil {
			var zero U
			next.settle(zero, err)
			return
		}
		if inner == nil {
			var zero U
			next.TrySetResult(zero)
			return
		}
		inner.OnComplete(func(innerDone *Future[U]) {
			next.settle(innerDone.Result())
		})
	})
	return next.Future()
}
