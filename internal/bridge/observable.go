package bridge

import "sync"

// Observable is an embeddable subscriber registry giving a source both
// notification capabilities. The zero value is ready to use.
//
// Thread-safety model:
//   - all methods safe from any goroutine
//   - listeners are invoked outside the registry lock, so a listener may
//     add or remove listeners (including itself) without deadlocking
type Observable struct {
	mu         sync.Mutex
	nextID     ListenerID
	collection map[ListenerID]func(CollectionEvent)
	property   map[ListenerID]func(PropertyEvent)
}

// AddCollectionListener implements CollectionNotifier.
func (o *Observable) AddCollectionListener(fn func(CollectionEvent)) ListenerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.collection == nil {
		o.collection = make(map[ListenerID]func(CollectionEvent))
	}
	o.nextID++
	o.collection[o.nextID] = fn
	return o.nextID
}

// RemoveCollectionListener implements CollectionNotifier. Unknown ids are
// ignored.
func (o *Observable) RemoveCollectionListener(id ListenerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.collection, id)
}

// AddPropertyListener implements PropertyNotifier.
func (o *Observable) AddPropertyListener(fn func(PropertyEvent)) ListenerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.property == nil {
		o.property = make(map[ListenerID]func(PropertyEvent))
	}
	o.nextID++
	o.property[o.nextID] = fn
	return o.nextID
}

// RemovePropertyListener implements PropertyNotifier. Unknown ids are
// ignored.
func (o *Observable) RemovePropertyListener(id ListenerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.property, id)
}

// NotifyCollection publishes ev to every collection listener registered at
// the time of the call.
func (o *Observable) NotifyCollection(ev CollectionEvent) {
	o.mu.Lock()
	fns := make([]func(CollectionEvent), 0, len(o.collection))
	for _, fn := range o.collection {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// NotifyProperty publishes a change of the named property. An empty name
// signals that every property may have changed.
func (o *Observable) NotifyProperty(name string, value any) {
	ev := PropertyEvent{Name: name, Value: value}
	o.mu.Lock()
	fns := make([]func(PropertyEvent), 0, len(o.property))
	for _, fn := range o.property {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// CollectionListeners returns the number of registered collection
// listeners. Used by teardown tests.
func (o *Observable) CollectionListeners() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.collection)
}

// PropertyListeners returns the number of registered property listeners.
func (o *Observable) PropertyListeners() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.property)
}
