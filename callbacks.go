package signalr

import (
	"sync"
)

// makes a copy of the list on update
type callbackList[T any] struct {
	mutex     sync.Mutex
	nextID    int
	callbacks []callbackEntry[T]
}

type callbackEntry[T any] struct {
	id       int
	callback T
}

func (self *callbackList[T]) get() []T {
	self.mutex.Lock()
	callbacks := self.callbacks
	self.mutex.Unlock()

	out := make([]T, len(callbacks))
	for i, entry := range callbacks {
		out[i] = entry.callback
	}
	return out
}

// returns a function that removes the callback
func (self *callbackList[T]) add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	id := self.nextID
	self.nextID++

	nextCallbacks := make([]callbackEntry[T], len(self.callbacks), len(self.callbacks)+1)
	copy(nextCallbacks, self.callbacks)
	nextCallbacks = append(nextCallbacks, callbackEntry[T]{id: id, callback: callback})
	self.callbacks = nextCallbacks

	return func() {
		self.remove(id)
	}
}

func (self *callbackList[T]) remove(id int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := -1
	for j, entry := range self.callbacks {
		if entry.id == id {
			i = j
			break
		}
	}
	if i < 0 {
		// not present
		return
	}
	nextCallbacks := make([]callbackEntry[T], 0, len(self.callbacks)-1)
	nextCallbacks = append(nextCallbacks, self.callbacks[:i]...)
	nextCallbacks = append(nextCallbacks, self.callbacks[i+1:]...)
	self.callbacks = nextCallbacks
}
