package view

import "sync"

// listeners is a copy-on-update callback list. Callbacks run outside of any store lock.
type listeners struct {
	mu        sync.Mutex
	nextID    int
	callbacks map[int]func()
}

func (l *listeners) add(callback func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[int]func(), len(l.callbacks)+1)
	for id, cb := range l.callbacks {
		next[id] = cb
	}
	l.nextID++
	id := l.nextID
	next[id] = callback
	l.callbacks = next

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.callbacks[id]; !ok {
		return
	}
	next := make(map[int]func(), len(l.callbacks))
	for other, cb := range l.callbacks {
		if other != id {
			next[other] = cb
		}
	}
	l.callbacks = next
}

func (l *listeners) notify() {
	l.mu.Lock()
	callbacks := l.callbacks
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
