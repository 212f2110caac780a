package device

import (
	"sync"
)

// Logger defines the logging interface used by Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the thread-safe table of discovered devices.
//
// Entries keep their insertion order. All reads return deep copies so
// callers cannot mutate registry state.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]*Device
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// IsPresent reports whether a device with id is registered.
func (r *Registry) IsPresent(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// AddOrUpdate merges u into the registry.
//
// If the ID is already registered every mutable field is overwritten in
// place and the entry keeps its position. Otherwise the device is appended.
// Updates with an empty ID are ignored.
//
// Returns:
//   - bool: true if a new entry was appended
func (r *Registry) AddOrUpdate(u Update) bool {
	if u.ID == "" {
		return false
	}
	d := fromUpdate(u)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[u.ID]; ok {
		existing.Name = d.Name
		existing.RSSI = d.RSSI
		existing.Relay = d.Relay
		return false
	}

	r.byID[d.ID] = &d
	r.order = append(r.order, d.ID)
	r.logger.Debug("device registered", "device_id", d.ID, "name", d.Name)
	return true
}

// Get returns every registered device in insertion order.
func (r *Registry) Get() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// Lookup returns a copy of the device with id.
func (r *Registry) Lookup(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byID[id]
	if !ok {
		return Device{}, false
	}
	return d.clone(), true
}

// Find is Lookup with an error result, for callers that propagate misses.
func (r *Registry) Find(id string) (Device, error) {
	if id == "" {
		return Device{}, ErrInvalidDeviceID
	}
	d, ok := r.Lookup(id)
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return d, nil
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear removes every device.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.order)
	r.order = nil
	r.byID = make(map[string]*Device)
	if n > 0 {
		r.logger.Debug("device registry cleared", "removed", n)
	}
}
