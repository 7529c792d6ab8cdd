// Package multimanager routes device strings to the proximity platforms
// (tag reader, peer field, relay) under one namespace.
//
// A device string "<manager>:<device>" goes to the named manager. Anything
// else, including the empty string, is offered to each manager in turn:
//
//	mm := multimanager.NewMultiManager(
//	    multimanager.ManagerEntry{Name: "tag", Manager: tagnfc.NewManager()},
//	    multimanager.ManagerEntry{Name: "peer", Manager: peernfc.NewManager(field)},
//	    multimanager.ManagerEntry{Name: "relay", Manager: remotenfc.NewManager("kiosk", "")},
//	)
//	dev, err := mm.OpenDevice("relay:ws://10.0.0.2:18393/ws")
package multimanager

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/dotside-studios/nfcdata/nfc"
)

// ManagerEntry names a manager.
type ManagerEntry struct {
	Name    string
	Manager nfc.Manager
}

// MultiManager implements nfc.Manager over several named managers.
type MultiManager struct {
	mu      sync.RWMutex
	entries []ManagerEntry

	changes   chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

var (
	_ nfc.Manager              = (*MultiManager)(nil)
	_ nfc.DeviceChangeNotifier = (*MultiManager)(nil)
)

// NewMultiManager registers entries in order. Entries without a name or
// manager, and repeated names, are skipped.
func NewMultiManager(entries ...ManagerEntry) *MultiManager {
	mm := &MultiManager{
		changes: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	for _, e := range entries {
		if err := mm.Add(e.Name, e.Manager); err != nil {
			log.Printf("[multi] skipping manager %q: %v", e.Name, err)
		}
	}
	return mm
}

// Add appends a manager. It is tried after those already registered.
func (mm *MultiManager) Add(name string, manager nfc.Manager) error {
	if name == "" {
		return fmt.Errorf("manager name cannot be empty")
	}
	if manager == nil {
		return fmt.Errorf("manager cannot be nil")
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, e := range mm.entries {
		if e.Name == name {
			return fmt.Errorf("manager %q already registered", name)
		}
	}
	mm.entries = append(mm.entries, ManagerEntry{Name: name, Manager: manager})

	if notifier, ok := manager.(nfc.DeviceChangeNotifier); ok {
		go mm.forward(notifier.DeviceChanges())
	}
	log.Printf("[multi] manager registered: %s", name)
	return nil
}

// Names returns the manager names in the order they are tried.
func (mm *MultiManager) Names() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	names := make([]string, len(mm.entries))
	for i, e := range mm.entries {
		names[i] = e.Name
	}
	return names
}

// Manager returns the manager registered as name.
func (mm *MultiManager) Manager(name string) (nfc.Manager, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	for _, e := range mm.entries {
		if e.Name == name {
			return e.Manager, true
		}
	}
	return nil, false
}

func (mm *MultiManager) snapshot() []ManagerEntry {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return append([]ManagerEntry(nil), mm.entries...)
}

// OpenDevice opens deviceStr. A prefix that is not a registered manager
// name is part of the device string; libnfc connection strings such as
// "pn532_uart:/dev/ttyUSB0" contain colons.
func (mm *MultiManager) OpenDevice(deviceStr string) (nfc.Device, error) {
	entries := mm.snapshot()
	if len(entries) == 0 {
		return nil, nfc.NewNoDeviceError("OpenDevice", fmt.Errorf("no managers registered"))
	}

	if prefix, rest, ok := strings.Cut(deviceStr, ":"); ok {
		if manager, found := mm.Manager(prefix); found {
			dev, err := manager.OpenDevice(rest)
			if err != nil {
				return nil, nfc.NewNoDeviceError("OpenDevice", fmt.Errorf("%s manager cannot open %q: %w", prefix, rest, err))
			}
			return dev, nil
		}
	}

	var errs []string
	for _, e := range entries {
		dev, err := e.Manager.OpenDevice(deviceStr)
		if err == nil {
			return dev, nil
		}
		errs = append(errs, e.Name+": "+err.Error())
	}
	return nil, nfc.NewNoDeviceError("OpenDevice", fmt.Errorf("no manager could open %q (%s)", deviceStr, strings.Join(errs, "; ")))
}

// ListDevices lists every manager's devices as "<manager>:<device>", in
// manager order. A manager that fails to list is skipped.
func (mm *MultiManager) ListDevices() ([]string, error) {
	var devices []string
	for _, e := range mm.snapshot() {
		names, err := e.Manager.ListDevices()
		if err != nil {
			log.Printf("[multi] %s: cannot list devices: %v", e.Name, err)
			continue
		}
		for _, name := range names {
			devices = append(devices, e.Name+":"+name)
		}
	}
	if len(devices) == 0 {
		return nil, nfc.NewNoDeviceError("ListDevices", nil)
	}
	return devices, nil
}

// DeviceChanges signals when any manager reports added or removed devices.
func (mm *MultiManager) DeviceChanges() <-chan struct{} {
	return mm.changes
}

func (mm *MultiManager) forward(ch <-chan struct{}) {
	for {
		select {
		case <-mm.stop:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case mm.changes <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops change forwarding and closes managers that hold resources.
func (mm *MultiManager) Close() {
	mm.closeOnce.Do(func() {
		close(mm.stop)
		for _, e := range mm.snapshot() {
			if c, ok := e.Manager.(interface{ Close() }); ok {
				log.Printf("[multi] closing manager: %s", e.Name)
				c.Close()
			}
		}
	})
}
