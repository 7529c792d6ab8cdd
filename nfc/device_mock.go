package nfc

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockPublication is a publication registered on a MockDevice.
type MockPublication struct {
	ID          int64
	MessageType string
	Data        []byte
	Handler     MessageTransmittedHandler
}

// MockSubscription is a subscription registered on a MockDevice.
type MockSubscription struct {
	ID          int64
	MessageType string
	Handler     MessageReceivedHandler
}

// MockDevice is a test implementation of Device that records publications
// and subscriptions and lets tests trigger deliveries.
//
// Trigger methods call handlers on the calling goroutine, never while the
// mock's lock is held.
//
// Example:
//
//	mock := NewMockDevice()
//	session := NewSession(&MockManager{MockDevice: mock}, "")
//	session.Subscribe("WindowsMime", onMessage)
//	mock.Deliver(subID, "WindowsMime.text/plain", framed)
type MockDevice struct {
	// DeviceName is the simulated device name returned by String()
	DeviceName string

	// DeviceConnection is the simulated connection string returned by Connection()
	DeviceConnection string

	// IsOpen tracks whether the device is currently open
	IsOpen bool

	// PublishError, if set, will be returned by PublishBinaryMessage()
	PublishError error

	// SubscribeError, if set, will be returned by SubscribeForMessage()
	SubscribeError error

	// CloseError, if set, will be returned by Close()
	CloseError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	publications  map[int64]*MockPublication
	subscriptions map[int64]*MockSubscription
	stopped       []int64
	nextID        int64
	failures      chan TransportFailure

	mu sync.Mutex
}

// NewMockDevice creates a new MockDevice with default values.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		DeviceName:       "Mock Proximity Device",
		DeviceConnection: "mock:001",
		IsOpen:           true,
		CallLog:          make([]string, 0),
		publications:     make(map[int64]*MockPublication),
		subscriptions:    make(map[int64]*MockSubscription),
		failures:         make(chan TransportFailure, 16),
	}
}

func (m *MockDevice) PublishBinaryMessage(messageType string, data []byte, handler MessageTransmittedHandler) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("Publish(%s)", messageType))

	if !m.IsOpen {
		return 0, fmt.Errorf("device not open")
	}
	if m.PublishError != nil {
		return 0, m.PublishError
	}

	m.nextID++
	m.publications[m.nextID] = &MockPublication{
		ID:          m.nextID,
		MessageType: messageType,
		Data:        data,
		Handler:     handler,
	}
	return m.nextID, nil
}

func (m *MockDevice) SubscribeForMessage(messageType string, handler MessageReceivedHandler) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("Subscribe(%s)", messageType))

	if !m.IsOpen {
		return 0, fmt.Errorf("device not open")
	}
	if m.SubscribeError != nil {
		return 0, m.SubscribeError
	}

	m.nextID++
	m.subscriptions[m.nextID] = &MockSubscription{
		ID:          m.nextID,
		MessageType: messageType,
		Handler:     handler,
	}
	return m.nextID, nil
}

func (m *MockDevice) StopPublishingMessage(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("StopPublish(%d)", id))
	if _, ok := m.publications[id]; ok {
		delete(m.publications, id)
		m.stopped = append(m.stopped, id)
	}
}

func (m *MockDevice) StopSubscribingForMessage(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("StopSubscribe(%d)", id))
	if _, ok := m.subscriptions[id]; ok {
		delete(m.subscriptions, id)
		m.stopped = append(m.stopped, id)
	}
}

// Close simulates closing the device.
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Close")

	if !m.IsOpen {
		return fmt.Errorf("device already closed")
	}

	m.IsOpen = false
	return m.CloseError
}

// String returns the simulated device name.
func (m *MockDevice) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeviceName
}

// Connection returns the simulated connection string.
func (m *MockDevice) Connection() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeviceConnection
}

// Failures implements FailureNotifier.
func (m *MockDevice) Failures() <-chan TransportFailure {
	return m.failures
}

// Published simulates delivery of a publication. The handler captured at
// publish time is called even if the id was stopped since, so tests can
// exercise late deliveries.
func (m *MockDevice) Published(pub *MockPublication) {
	if pub != nil && pub.Handler != nil {
		pub.Handler(m, pub.ID)
	}
}

// Deliver simulates a message arriving for a subscription.
func (m *MockDevice) Deliver(sub *MockSubscription, messageType string, data []byte) {
	if sub == nil || sub.Handler == nil {
		return
	}
	sub.Handler(m, ProximityMessage{
		MessageType:    messageType,
		SubscriptionID: sub.ID,
		Data:           data,
		ReceivedAt:     time.Now(),
	})
}

// Fail reports a transport failure for id.
func (m *MockDevice) Fail(kind FailureKind, id int64, err error) {
	m.failures <- TransportFailure{Kind: kind, ID: id, Err: err}
}

// Publication returns the active publication with the given id.
func (m *MockDevice) Publication(id int64) *MockPublication {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publications[id]
}

// Subscription returns the active subscription with the given id.
func (m *MockDevice) Subscription(id int64) *MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[id]
}

// ActivePublications returns the ids of active publications, sorted.
func (m *MockDevice) ActivePublications() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.publications))
	for id := range m.publications {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ActiveSubscriptions returns the ids of active subscriptions, sorted.
func (m *MockDevice) ActiveSubscriptions() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.subscriptions))
	for id := range m.subscriptions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// StoppedIDs returns the ids stopped so far, in order. Stopping an unknown
// id is not recorded.
func (m *MockDevice) StoppedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, len(m.stopped))
	copy(ids, m.stopped)
	return ids
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockDevice) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// ClearCallLog clears the call log.
func (m *MockDevice) ClearCallLog() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = make([]string, 0)
}
