package device

import (
	"fmt"
	"sync"
)

// Registry is the table of live devices. It is the only long-lived owner of
// a Device; everything else addresses nodes through it by Key.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Register adds d at the end of the enumeration order.
func (r *Registry) Register(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[d.ID()]; ok {
		return fmt.Errorf("device %s already registered: %w", d.ID(), ErrInvalidArgument)
	}
	r.devices[d.ID()] = d
	r.order = append(r.order, d.ID())
	return nil
}

// Unregister removes a device. Every key rooted at it resolves to NotFound
// afterwards, including through Device values callers still hold.
func (r *Registry) Unregister(id string) (*Device, error) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return nil, notFoundf("device %s", id)
	}
	delete(r.devices, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	d.markRemoved()
	return d, nil
}

// List returns device ids in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Devices returns the registered devices in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	d, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return nil, notFoundf("device %s", id)
	}
	return d, nil
}

// Resolve maps a handle to its device and checks that the addressed child
// still exists.
func (r *Registry) Resolve(path string) (*Device, Key, error) {
	k, err := ParseKey(path)
	if err != nil {
		return nil, Key{}, err
	}
	d, err := r.Get(k.Device)
	if err != nil {
		return nil, Key{}, err
	}
	if err := d.Exists(k); err != nil {
		return nil, Key{}, err
	}
	return d, k, nil
}
