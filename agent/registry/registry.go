// Package registry maps logical handler names to handler instances.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	contractx "github.com/napatsw/deskmate/agent/contract"
)

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]contractx.Handler
}

func New() *Registry {
	return &Registry{
		handlers: make(map[string]contractx.Handler, 8),
	}
}

func (r *Registry) Register(h contractx.Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", contractx.ErrValidation)
	}
	name := strings.TrimSpace(h.Name())
	if name == "" {
		return fmt.Errorf("%w: handler name is empty", contractx.ErrValidation)
	}
	if name == contractx.ReceiverExternal {
		return fmt.Errorf("%w: %q is reserved", contractx.ErrValidation, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: handler %q already registered", contractx.ErrValidation, name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler for name after its cheap CanHandle pre-check.
func (r *Registry) Lookup(name string, msg contractx.Message) (contractx.Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnknownHandler, name)
	}
	if !h.CanHandle(msg) {
		return nil, fmt.Errorf("%w: handler %q rejected message type=%s", contractx.ErrValidation, name, msg.Type)
	}
	return h, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
