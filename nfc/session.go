package nfc

import (
	"log"
	"sync"
)

// PublicationID identifies an active publication on a Session.
type PublicationID int64

// SubscriptionID identifies an active subscription on a Session.
type SubscriptionID int64

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionOpen
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionClosed:
		return "closed"
	default:
		return "new"
	}
}

// SlotState is the state of the publication or subscription slot.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotActive
)

func (s SlotState) String() string {
	if s == SlotActive {
		return "active"
	}
	return "idle"
}

type publicationSlot struct {
	active      bool
	id          int64
	gen         uint64
	messageType string
	onPublished func(PublicationID)
}

type subscriptionSlot struct {
	active      bool
	id          int64
	gen         uint64
	messageType string
	onMessage   func(ProximityMessage)
}

// Session owns one proximity device and holds at most one publication and
// one subscription at a time.
//
// Starting a publication or subscription while one is active stops the old
// id on the device before the new one is registered. A publication is
// released automatically after its callback runs. Deliveries for ids that
// were stopped or replaced are dropped; a callback that was already running
// when its id was stopped is allowed to finish.
//
// Subscription callbacks are serialized. Callbacks never run with the
// session lock held, so they may call back into the session.
type Session struct {
	manager   Manager
	deviceStr string
	name      string
	onError   func(error)

	mu      sync.Mutex
	state   SessionState
	device  Device
	pub     publicationSlot
	sub     subscriptionSlot
	nextGen uint64
	done    chan struct{}

	deliverMu sync.Mutex
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithErrorHandler registers a function that receives transport failures.
// It runs on the device's failure goroutine.
func WithErrorHandler(fn func(error)) SessionOption {
	return func(s *Session) {
		s.onError = fn
	}
}

// WithSessionName sets the name used in log lines.
func WithSessionName(name string) SessionOption {
	return func(s *Session) {
		s.name = name
	}
}

// NewSession creates a session that will open deviceStr with manager.
// No device is acquired until Open is called.
func NewSession(manager Manager, deviceStr string, opts ...SessionOption) *Session {
	s := &Session{
		manager:   manager,
		deviceStr: deviceStr,
		name:      "session",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) logf(format string, args ...any) {
	log.Printf("["+s.name+"] "+format, args...)
}

// Open acquires the device. It fails with ErrNoDevice when the manager has
// no usable device, in which case Open may be retried. Opening an open
// session is a no-op.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionOpen:
		return nil
	case SessionClosed:
		return NewSessionClosedError("Open")
	}

	if s.manager == nil {
		return NewNoDeviceError("Open", nil)
	}
	dev, err := s.manager.OpenDevice(s.deviceStr)
	if err != nil {
		if IsNoDeviceError(err) {
			return err
		}
		return NewNoDeviceError("Open", err)
	}
	if dev == nil {
		return NewNoDeviceError("Open", nil)
	}

	s.device = dev
	s.state = SessionOpen
	s.done = make(chan struct{})
	if notifier, ok := dev.(FailureNotifier); ok {
		go s.watchFailures(notifier.Failures(), s.done)
	}

	s.logf("opened device %s", dev.String())
	return nil
}

// Publish registers data under protocolID, replacing any active publication.
// The session keeps its own copy of data. onPublished, if non-nil, is called
// at most once when the device reports delivery; the publication is then
// released.
func (s *Session) Publish(protocolID string, data []byte, onPublished func(PublicationID)) (PublicationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return 0, NewSessionClosedError("Publish")
	}
	if _, err := ParseProtocolID(protocolID); err != nil {
		return 0, err
	}
	body := make([]byte, len(data))
	copy(body, data)

	s.stopPublicationLocked()

	s.nextGen++
	gen := s.nextGen
	id, err := s.device.PublishBinaryMessage(protocolID, body, func(_ Device, id int64) {
		s.handlePublished(gen, id)
	})
	if err != nil {
		return 0, err
	}

	s.pub = publicationSlot{
		active:      true,
		id:          id,
		gen:         gen,
		messageType: protocolID,
		onPublished: onPublished,
	}
	s.logf("publishing %s (%d bytes, id %d)", protocolID, len(body), id)
	return PublicationID(id), nil
}

// Subscribe registers onMessage for protocolID, replacing any active
// subscription.
func (s *Session) Subscribe(protocolID string, onMessage func(ProximityMessage)) (SubscriptionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return 0, NewSessionClosedError("Subscribe")
	}
	if _, err := ParseProtocolID(protocolID); err != nil {
		return 0, err
	}

	s.stopSubscriptionLocked()

	s.nextGen++
	gen := s.nextGen
	id, err := s.device.SubscribeForMessage(protocolID, func(_ Device, msg ProximityMessage) {
		s.handleMessage(gen, msg)
	})
	if err != nil {
		return 0, err
	}

	s.sub = subscriptionSlot{
		active:      true,
		id:          id,
		gen:         gen,
		messageType: protocolID,
		onMessage:   onMessage,
	}
	s.logf("subscribed to %s (id %d)", protocolID, id)
	return SubscriptionID(id), nil
}

// StopPublish releases the active publication, if any.
func (s *Session) StopPublish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return NewSessionClosedError("StopPublish")
	}
	s.stopPublicationLocked()
	return nil
}

// StopSubscribe releases the active subscription, if any.
func (s *Session) StopSubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return NewSessionClosedError("StopSubscribe")
	}
	s.stopSubscriptionLocked()
	return nil
}

// Close releases both slots and then the device. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return nil
	}

	dev := s.device
	if s.state == SessionOpen {
		s.stopPublicationLocked()
		s.stopSubscriptionLocked()
		close(s.done)
	}
	s.state = SessionClosed
	s.device = nil
	s.mu.Unlock()

	if dev == nil {
		return nil
	}
	s.logf("closing device %s", dev.String())
	return dev.Close()
}

// State returns the session lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PublicationState reports the publication slot.
func (s *Session) PublicationState() (SlotState, PublicationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pub.active {
		return SlotIdle, 0
	}
	return SlotActive, PublicationID(s.pub.id)
}

// SubscriptionState reports the subscription slot.
func (s *Session) SubscriptionState() (SlotState, SubscriptionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sub.active {
		return SlotIdle, 0
	}
	return SlotActive, SubscriptionID(s.sub.id)
}

// DeviceName returns the name of the open device, or "" when not open.
func (s *Session) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return ""
	}
	return s.device.String()
}

func (s *Session) stopPublicationLocked() {
	if !s.pub.active {
		return
	}
	s.device.StopPublishingMessage(s.pub.id)
	s.pub = publicationSlot{}
}

func (s *Session) stopSubscriptionLocked() {
	if !s.sub.active {
		return
	}
	s.device.StopSubscribingForMessage(s.sub.id)
	s.sub = subscriptionSlot{}
}

func (s *Session) handlePublished(gen uint64, id int64) {
	s.mu.Lock()
	if s.state != SessionOpen || !s.pub.active || s.pub.gen != gen || s.pub.id != id {
		s.mu.Unlock()
		return
	}
	cb := s.pub.onPublished
	dev := s.device
	s.pub = publicationSlot{}
	s.mu.Unlock()

	if cb != nil {
		cb(PublicationID(id))
	}

	s.mu.Lock()
	if s.state == SessionOpen && s.device == dev {
		dev.StopPublishingMessage(id)
	}
	s.mu.Unlock()
}

func (s *Session) handleMessage(gen uint64, msg ProximityMessage) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.state != SessionOpen || !s.sub.active || s.sub.gen != gen {
		s.mu.Unlock()
		return
	}
	cb := s.sub.onMessage
	s.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

func (s *Session) watchFailures(failures <-chan TransportFailure, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case f, ok := <-failures:
			if !ok {
				return
			}
			s.handleFailure(f)
		}
	}
}

func (s *Session) handleFailure(f TransportFailure) {
	s.mu.Lock()
	matched := false
	switch f.Kind {
	case PublicationFailure:
		if s.state == SessionOpen && s.pub.active && s.pub.id == f.ID {
			s.stopPublicationLocked()
			matched = true
		}
	case SubscriptionFailure:
		if s.state == SessionOpen && s.sub.active && s.sub.id == f.ID {
			s.stopSubscriptionLocked()
			matched = true
		}
	}
	onError := s.onError
	s.mu.Unlock()

	if !matched {
		return
	}
	s.logf("%s %d failed: %v", f.Kind, f.ID, f.Err)
	if onError != nil {
		onError(NewTransportError(f.Kind.String(), f.Err))
	}
}
