package nfc

import "sync"

// MockManager hands out one MockDevice. Set the error fields to make
// discovery fail.
type MockManager struct {
	Devices          []string
	MockDevice       *MockDevice
	OpenDeviceError  error
	ListDevicesError error

	mu     sync.Mutex
	opened []string
}

var _ Manager = (*MockManager)(nil)

// NewMockManager returns a manager listing "mock:001".
func NewMockManager() *MockManager {
	return &MockManager{
		Devices:    []string{"mock:001"},
		MockDevice: NewMockDevice(),
	}
}

func (m *MockManager) OpenDevice(deviceStr string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opened = append(m.opened, deviceStr)
	if m.OpenDeviceError != nil {
		return nil, m.OpenDeviceError
	}
	if m.MockDevice == nil {
		m.MockDevice = NewMockDevice()
	}
	if deviceStr != "" {
		m.MockDevice.mu.Lock()
		m.MockDevice.DeviceConnection = deviceStr
		m.MockDevice.mu.Unlock()
	}
	return m.MockDevice, nil
}

func (m *MockManager) ListDevices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListDevicesError != nil {
		return nil, m.ListDevicesError
	}
	return append([]string(nil), m.Devices...), nil
}

// Opened returns the device strings passed to OpenDevice, in call order.
func (m *MockManager) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opened...)
}
