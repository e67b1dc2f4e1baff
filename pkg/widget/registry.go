package widget

import (
	"sort"
	"sync"
)

const (
	DefaultWidgetID = "punku-chat-widget"
	apiSuffix       = "_api"
)

// Handle is the part of a widget reachable from outside its host.
type Handle interface {
	Open()
	Close()
	Toggle()
	IsOpen() bool
}

// APIKey is the registry key a widget publishes its handle under.
func APIKey(widgetID string) string {
	if widgetID == "" {
		widgetID = DefaultWidgetID
	}
	return widgetID + apiSuffix
}

// Registry maps keys to widget handles. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: map[string]Handle{}}
}

// Publish stores h under key, replacing any previous handle. The returned
// func removes h again, unless it was replaced in the meantime.
func (r *Registry) Publish(key string, h Handle) func() {
	if r == nil || h == nil {
		return func() {}
	}
	r.mu.Lock()
	r.handles[key] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if cur, ok := r.handles[key]; ok && cur == h {
				delete(r.handles, key)
			}
		})
	}
}

func (r *Registry) Lookup(key string) (Handle, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	return h, ok
}

func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
