package channel

import "sync"

// Handler receives events of the name it was subscribed to.
type Handler func(Event)

type handle struct {
	id uint64
	fn Handler
}

// registry maps event names to ordered handler handles. Unsubscribing removes exactly
// the handle that was added, even when the same func is registered twice.
type registry struct {
	mu     sync.Mutex
	nextID uint64
	byName map[string][]handle
}

func newRegistry() *registry {
	return &registry{byName: make(map[string][]handle)}
}

func (r *registry) add(name string, fn Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.byName[name] = append(r.byName[name], handle{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.remove(name, id)
		})
	}
}

func (r *registry) remove(name string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.byName[name]
	for i, h := range handles {
		if h.id == id {
			handles = append(handles[:i:i], handles[i+1:]...)
			break
		}
	}

	if len(handles) == 0 {
		delete(r.byName, name)
		return
	}
	r.byName[name] = handles
}

func (r *registry) handlers(name string) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.byName[name]
	fns := make([]Handler, len(handles))
	for i, h := range handles {
		fns[i] = h.fn
	}

	return fns
}

func (r *registry) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName[name])
}

func (r *registry) clear() {
	r.mu.Lock()
	r.byName = make(map[string][]handle)
	r.mu.Unlock()
}
