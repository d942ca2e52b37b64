package mail

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured transports keyed by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[AdapterName]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[AdapterName]Adapter)}
}

// Register adds an adapter. Registering the same name twice replaces the
// earlier entry.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name AdapterName) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []AdapterName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]AdapterName, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Sender returns the named adapter's send capability.
func (r *Registry) Sender(name AdapterName) (Sender, error) {
	a, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("mail adapter not registered: %s", name)
	}
	s, ok := a.(Sender)
	if !ok {
		return nil, fmt.Errorf("mail adapter %s cannot send", name)
	}
	return s, nil
}

// Fetcher returns the named adapter's on-demand fetch capability.
func (r *Registry) Fetcher(name AdapterName) (Fetcher, error) {
	a, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("mail adapter not registered: %s", name)
	}
	f, ok := a.(Fetcher)
	if !ok {
		return nil, fmt.Errorf("mail adapter %s cannot fetch", name)
	}
	return f, nil
}

// ThreadReader returns the named adapter's thread lookup capability, or
// (nil, false) when the transport has none. Callers treat absence as
// "no thread history available", not as an error.
func (r *Registry) ThreadReader(name AdapterName) (ThreadReader, bool) {
	a, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	tr, ok := a.(ThreadReader)
	return tr, ok
}

// MessageReader returns the named adapter's by-id lookup capability, or
// (nil, false) when the transport has none.
func (r *Registry) MessageReader(name AdapterName) (MessageReader, bool) {
	a, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	mr, ok := a.(MessageReader)
	return mr, ok
}

// Receiver returns the named adapter's push capability, or (nil, false)
// for poll-only transports.
func (r *Registry) Receiver(name AdapterName) (Receiver, bool) {
	a, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	rcv, ok := a.(Receiver)
	return rcv, ok
}

// WebhookReceiver returns the named adapter's webhook parser, or
// (nil, false) when the transport has none.
func (r *Registry) WebhookReceiver(name AdapterName) (WebhookReceiver, bool) {
	a, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	wr, ok := a.(WebhookReceiver)
	return wr, ok
}
