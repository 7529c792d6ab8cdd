package server

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dotside-studios/nfcdata/protocol"
)

// HandlerFunc handles one relay request. The returned payload is sent back
// as the response; a returned error is sent as an error response.
type HandlerFunc func(ctx context.Context, conn *Conn, req protocol.Request) (any, error)

type route struct {
	handler HandlerFunc
	// open routes run before the connection has a session token.
	open bool
}

// Router maps request types to handlers.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]route)}
}

// Handle registers a handler that requires a valid session token.
func (r *Router) Handle(requestType string, handler HandlerFunc) error {
	return r.add(requestType, route{handler: handler})
}

// HandleOpen registers a handler that runs without a session token.
func (r *Router) HandleOpen(requestType string, handler HandlerFunc) error {
	return r.add(requestType, route{handler: handler, open: true})
}

func (r *Router) add(requestType string, rt route) error {
	switch {
	case requestType == "":
		return fmt.Errorf("request type cannot be empty")
	case rt.handler == nil:
		return fmt.Errorf("handler for %q cannot be nil", requestType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.routes[requestType]; dup {
		return fmt.Errorf("request type %q already routed", requestType)
	}
	r.routes[requestType] = rt
	return nil
}

func (r *Router) lookup(requestType string) (route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[requestType]
	return rt, ok
}

// Types returns the routed request types, sorted.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
