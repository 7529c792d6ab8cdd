package nfc

import (
	"fmt"
	"sort"
	"sync"
)

// PayloadHandler turns a delivered message into a rendered value.
type PayloadHandler func(msg ProximityMessage) (any, error)

// MimeRenderer turns a decoded mime payload into a rendered value.
type MimeRenderer func(p *MimePayload) any

// Registry maps protocol ids to payload handlers and mime types to
// renderers. It is safe for concurrent use.
type Registry struct {
	handlers  map[string]PayloadHandler
	renderers map[string]MimeRenderer
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:  make(map[string]PayloadHandler),
		renderers: make(map[string]MimeRenderer),
	}
}

// NewDefaultRegistry registers the mime family (decoded with framer) and
// Person records (decoded with codec), plus text/plain and image/png
// renderers. Nil arguments select the defaults.
func NewDefaultRegistry(framer *MimeFramer, codec PersonCodec) *Registry {
	if framer == nil {
		framer = DefaultMimeFramer
	}
	if codec == nil {
		codec = JSONPersonCodec{}
	}

	r := NewRegistry()
	r.mustHandle(MimeSubscriptionID, r.mimeHandler(framer))
	r.mustHandle(PersonSubscriptionID, personHandler(codec))
	r.mustHandleMime(MimeTextPlain, renderText)
	r.mustHandleMime(MimeImagePNG, renderPNG)
	return r
}

// Handle registers a handler for a protocol id.
// Returns an error if a handler for the same id is already registered.
func (r *Registry) Handle(protocolID string, handler PayloadHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if protocolID == "" {
		return fmt.Errorf("protocol id cannot be empty")
	}
	if _, err := ParseProtocolID(protocolID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[protocolID]; exists {
		return fmt.Errorf("handler for protocol id '%s' already registered", protocolID)
	}
	r.handlers[protocolID] = handler
	return nil
}

// HandleMime registers a renderer for a mime type.
func (r *Registry) HandleMime(mimeType string, renderer MimeRenderer) error {
	if renderer == nil {
		return fmt.Errorf("renderer cannot be nil")
	}
	if mimeType == "" {
		return fmt.Errorf("mime type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.renderers[mimeType]; exists {
		return fmt.Errorf("renderer for mime type '%s' already registered", mimeType)
	}
	r.renderers[mimeType] = renderer
	return nil
}

func (r *Registry) mustHandle(protocolID string, handler PayloadHandler) {
	if err := r.Handle(protocolID, handler); err != nil {
		panic(err)
	}
}

func (r *Registry) mustHandleMime(mimeType string, renderer MimeRenderer) {
	if err := r.HandleMime(mimeType, renderer); err != nil {
		panic(err)
	}
}

// Get retrieves the handler for a protocol id.
func (r *Registry) Get(protocolID string) (PayloadHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[protocolID]
	return handler, ok
}

// Has checks if a handler exists for the given protocol id.
func (r *Registry) Has(protocolID string) bool {
	_, ok := r.Get(protocolID)
	return ok
}

// ProtocolIDs returns all registered protocol ids, sorted.
func (r *Registry) ProtocolIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup finds the handler for a delivered message type: first by exact id,
// then by the subscription id that receives it.
func (r *Registry) Lookup(messageType string) (PayloadHandler, bool) {
	if handler, ok := r.Get(messageType); ok {
		return handler, true
	}
	id, err := ParseProtocolID(messageType)
	if err != nil {
		return nil, false
	}
	if handler, ok := r.Get(id.Peer().String()); ok {
		return handler, true
	}
	return r.Get(id.Subscription().String())
}

// Dispatch renders msg with the handler registered for its message type.
func (r *Registry) Dispatch(msg ProximityMessage) (any, error) {
	handler, ok := r.Lookup(msg.MessageType)
	if !ok {
		return nil, Errorf(ErrCodeNotSupported, "Dispatch", "no handler for %q", msg.MessageType)
	}
	return handler(msg)
}

// Render selects the renderer for a decoded mime payload. Unregistered mime
// types render as UnknownMime.
func (r *Registry) Render(p *MimePayload) any {
	r.mu.RLock()
	renderer, ok := r.renderers[p.MimeType]
	r.mu.RUnlock()

	if !ok {
		return UnknownMime{MimeType: p.MimeType, Body: p.Body}
	}
	return renderer(p)
}

func (r *Registry) mimeHandler(framer *MimeFramer) PayloadHandler {
	return func(msg ProximityMessage) (any, error) {
		payload, err := framer.Decode(msg.Data)
		if err != nil {
			return nil, err
		}
		return r.Render(payload), nil
	}
}

func personHandler(codec PersonCodec) PayloadHandler {
	return func(msg ProximityMessage) (any, error) {
		return codec.Decode(msg.Data)
	}
}
