package peernfc

import (
	"fmt"
	"sync"

	"github.com/dotside-studios/nfcdata/nfc"
)

// Manager opens devices on a Field. It implements nfc.Manager.
type Manager struct {
	field *Field

	mu       sync.Mutex
	disabled bool
	names    []string
}

var (
	_ nfc.Manager              = (*Manager)(nil)
	_ nfc.DeviceChangeNotifier = (*Manager)(nil)
)

// NewManager returns a manager for field. names are the device names
// reported by ListDevices; OpenDevice accepts any name.
func NewManager(field *Field, names ...string) *Manager {
	return &Manager{field: field, names: names}
}

// SetDisabled simulates a device with proximity turned off. While disabled,
// OpenDevice and ListDevices fail with nfc.ErrNoDevice.
func (m *Manager) SetDisabled(disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.disabled != disabled
	m.disabled = disabled
	if changed {
		m.field.mu.Lock()
		m.field.changedLocked()
		m.field.mu.Unlock()
	}
}

// DeviceChanges implements nfc.DeviceChangeNotifier.
func (m *Manager) DeviceChanges() <-chan struct{} {
	return m.field.Changes()
}

// Field returns the field devices are opened on.
func (m *Manager) Field() *Field {
	return m.field
}

// OpenDevice opens a device named deviceStr, or an automatically named
// device when deviceStr is empty.
func (m *Manager) OpenDevice(deviceStr string) (nfc.Device, error) {
	m.mu.Lock()
	disabled := m.disabled
	m.mu.Unlock()

	if disabled {
		return nil, nfc.NewNoDeviceError("OpenDevice", fmt.Errorf("proximity is disabled"))
	}
	d, err := m.field.OpenDevice(deviceStr)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDevices returns the configured device names.
func (m *Manager) ListDevices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return nil, nfc.NewNoDeviceError("ListDevices", fmt.Errorf("proximity is disabled"))
	}
	if len(m.names) == 0 {
		return []string{"default"}, nil
	}
	return append([]string(nil), m.names...), nil
}
