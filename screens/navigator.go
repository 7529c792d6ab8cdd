// Package screens drives the proximity session the way the app's pages do:
// two screens publish a payload, two subscribe and render what arrives.
//
// Screens report everything they would display as Event values on the
// navigator's channel, which a single UI goroutine consumes.
package screens

import (
	"errors"
	"log"
	"sync"

	"github.com/dotside-studios/nfcdata/nfc"
)

// DefaultEventBuffer is the capacity of the event channel.
const DefaultEventBuffer = 64

// Screen is one page of the app.
type Screen interface {
	Name() string
	// OnNavigatedTo runs when the screen becomes current.
	OnNavigatedTo(env *Env)
	// OnNavigatedFrom runs when the screen stops being current. It must
	// release whatever the screen registered on the session.
	OnNavigatedFrom()
}

// Env is what a screen gets to work with while it is current.
type Env struct {
	Session  *nfc.Session
	Registry *nfc.Registry
	Codec    nfc.PersonCodec
	Target   nfc.Target

	nav *Navigator
}

// Available reports whether a proximity device is open.
func (e *Env) Available() bool {
	return e.Session != nil && e.Session.State() == nfc.SessionOpen
}

// Emit sends an event from screen.
func (e *Env) Emit(screen Screen, ev Event) {
	ev.Screen = screen.Name()
	e.nav.emit(ev)
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithTarget selects whether writer screens publish to tags or peers.
func WithTarget(target nfc.Target) Option {
	return func(n *Navigator) {
		n.env.Target = target
	}
}

// WithRegistry sets the registry reader screens dispatch with.
func WithRegistry(registry *nfc.Registry) Option {
	return func(n *Navigator) {
		n.env.Registry = registry
	}
}

// WithPersonCodec sets the Person record codec.
func WithPersonCodec(codec nfc.PersonCodec) Option {
	return func(n *Navigator) {
		n.env.Codec = codec
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(size int) Option {
	return func(n *Navigator) {
		if size >= 0 {
			n.buffer = size
		}
	}
}

// Navigator keeps the screen stack and owns the proximity session shared by
// all screens.
type Navigator struct {
	env    *Env
	buffer int

	mu    sync.Mutex
	stack []Screen

	emitMu sync.RWMutex
	events chan Event
	done   chan struct{}
	closed bool
}

// NewNavigator creates a navigator whose session opens deviceStr with
// manager. The device is opened lazily on the first navigation.
func NewNavigator(manager nfc.Manager, deviceStr string, opts ...Option) *Navigator {
	n := &Navigator{
		env: &Env{
			Target: nfc.TargetTag,
			Codec:  nfc.JSONPersonCodec{},
		},
		buffer: DefaultEventBuffer,
		done:   make(chan struct{}),
	}
	n.env.nav = n
	for _, opt := range opts {
		opt(n)
	}
	if n.env.Registry == nil {
		n.env.Registry = nfc.NewDefaultRegistry(nfc.DefaultMimeFramer, n.env.Codec)
	}
	n.events = make(chan Event, n.buffer)
	n.env.Session = nfc.NewSession(manager, deviceStr,
		nfc.WithSessionName("screens"),
		nfc.WithErrorHandler(n.reportFailure))
	return n
}

// Events returns the channel screens report on. It is closed by Close.
func (n *Navigator) Events() <-chan Event {
	return n.events
}

// Session returns the shared proximity session.
func (n *Navigator) Session() *nfc.Session {
	return n.env.Session
}

// Navigate makes s the current screen. The previous screen is notified
// first and stays on the stack.
func (n *Navigator) Navigate(s Screen) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.isClosed() {
		return nfc.NewSessionClosedError("Navigate")
	}

	if cur := n.currentLocked(); cur != nil {
		cur.OnNavigatedFrom()
	}
	n.stack = append(n.stack, s)
	n.enterLocked(s)
	return nil
}

// CanGoBack reports whether there is a screen to return to.
func (n *Navigator) CanGoBack() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.stack) > 1
}

// GoBack leaves the current screen and returns to the previous one. It
// reports false when there is nothing to go back to.
func (n *Navigator) GoBack() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.stack) < 2 || n.isClosed() {
		return false
	}

	n.currentLocked().OnNavigatedFrom()
	n.stack = n.stack[:len(n.stack)-1]
	n.enterLocked(n.currentLocked())
	return true
}

// Current returns the current screen, or nil.
func (n *Navigator) Current() Screen {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentLocked()
}

// Close leaves the current screen, closes the session and closes the event
// channel.
func (n *Navigator) Close() error {
	n.mu.Lock()
	if n.isClosed() {
		n.mu.Unlock()
		return nil
	}
	if cur := n.currentLocked(); cur != nil {
		cur.OnNavigatedFrom()
	}
	n.stack = nil
	close(n.done)
	n.mu.Unlock()

	err := n.env.Session.Close()

	n.emitMu.Lock()
	n.closed = true
	close(n.events)
	n.emitMu.Unlock()
	return err
}

func (n *Navigator) isClosed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func (n *Navigator) currentLocked() Screen {
	if len(n.stack) == 0 {
		return nil
	}
	return n.stack[len(n.stack)-1]
}

// enterLocked opens the device if needed and enters s. A missing device is
// not an error here; screens check Env.Available.
func (n *Navigator) enterLocked(s Screen) {
	if n.env.Session.State() == nfc.SessionNew {
		if err := n.env.Session.Open(); err != nil {
			log.Printf("[screens] no proximity device: %v", err)
		}
	}
	s.OnNavigatedTo(n.env)
}

func (n *Navigator) emit(ev Event) {
	n.emitMu.RLock()
	defer n.emitMu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

func (n *Navigator) reportFailure(err error) {
	name := "session"
	n.mu.Lock()
	if cur := n.currentLocked(); cur != nil {
		name = cur.Name()
	}
	n.mu.Unlock()

	status := "Transfer failed"
	switch {
	case errors.Is(err, nfc.ErrReadOnly):
		status = "Tag is read-only"
	case errors.Is(err, nfc.ErrCapacityExceeded):
		status = "Data does not fit on the tag"
	}
	n.emit(Event{Screen: name, Kind: EventError, Status: status, Err: err})
}
