package multimanager

import (
	"errors"
	"testing"
	"time"

	"github.com/dotside-studios/nfcdata/nfc"
	"github.com/dotside-studios/nfcdata/nfc/peernfc"
)

func newTestManagers(t *testing.T) (*MultiManager, *peernfc.Field, *nfc.MockManager) {
	t.Helper()
	field := peernfc.NewField()
	t.Cleanup(field.Close)

	failing := nfc.NewMockManager()
	failing.OpenDeviceError = errors.New("no reader attached")
	failing.ListDevicesError = errors.New("no reader attached")

	mm := NewMultiManager(
		ManagerEntry{Name: "tag", Manager: failing},
		ManagerEntry{Name: "peer", Manager: peernfc.NewManager(field, "kiosk", "phone")},
	)
	return mm, field, failing
}

func TestNewMultiManager(t *testing.T) {
	mm := NewMultiManager(
		ManagerEntry{Name: "peer", Manager: nfc.NewMockManager()},
		ManagerEntry{Name: "", Manager: nfc.NewMockManager()},
		ManagerEntry{Name: "tag", Manager: nil},
		ManagerEntry{Name: "peer", Manager: nfc.NewMockManager()},
	)
	if got := mm.Names(); len(got) != 1 || got[0] != "peer" {
		t.Errorf("Names() = %v, want [peer]", got)
	}
	if err := mm.Add("peer", nfc.NewMockManager()); err == nil {
		t.Error("Add() with a duplicate name succeeded")
	}
	if _, ok := mm.Manager("tag"); ok {
		t.Error("Manager(tag) found an unregistered manager")
	}
}

func TestMultiManager_DeviceChanges(t *testing.T) {
	mm, field, _ := newTestManagers(t)
	defer mm.Close()

	dev, err := mm.OpenDevice("peer:kiosk")
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}
	defer dev.Close()

	select {
	case <-mm.DeviceChanges():
	case <-time.After(2 * time.Second):
		t.Fatal("no device change after a device entered the field")
	}
	if devices := field.Devices(); len(devices) != 1 || devices[0] != "kiosk" {
		t.Errorf("field.Devices() = %v", devices)
	}
}

func TestMultiManager_ListDevices(t *testing.T) {
	mm, _, _ := newTestManagers(t)

	devices, err := mm.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	want := []string{"peer:kiosk", "peer:phone"}
	if len(devices) != len(want) {
		t.Fatalf("ListDevices() = %v, want %v", devices, want)
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Errorf("ListDevices()[%d] = %q, want %q", i, devices[i], want[i])
		}
	}
}

func TestMultiManager_OpenDevice(t *testing.T) {
	mm, field, failing := newTestManagers(t)

	tests := []struct {
		name      string
		deviceStr string
		wantErr   bool
		wantName  string
	}{
		{"explicit manager", "peer:kiosk", false, "kiosk"},
		{"fallback through managers", "phone", false, "phone"},
		{"explicit failing manager", "tag:pn532_uart:/dev/ttyUSB0", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := mm.OpenDevice(tt.deviceStr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenDevice(%q) error = %v, wantErr %v", tt.deviceStr, err, tt.wantErr)
			}
			if err != nil {
				if !nfc.IsNoDeviceError(err) {
					t.Errorf("OpenDevice() error = %v, want no device", err)
				}
				opened := failing.Opened()
				if len(opened) == 0 || opened[len(opened)-1] != "pn532_uart:/dev/ttyUSB0" {
					t.Errorf("tag manager opened %v, want prefix stripped", opened)
				}
				return
			}
			defer dev.Close()
			if dev.String() != tt.wantName {
				t.Errorf("device = %q, want %q", dev.String(), tt.wantName)
			}
			if _, ok := field.Device(tt.wantName); !ok {
				t.Errorf("device %q not in field", tt.wantName)
			}
		})
	}
}

func TestMultiManager_SessionOverPeer(t *testing.T) {
	mm, _, _ := newTestManagers(t)

	s := nfc.NewSession(mm, "peer:kiosk")
	if err := s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	if s.DeviceName() != "kiosk" {
		t.Errorf("DeviceName() = %q, want kiosk", s.DeviceName())
	}
}

func TestMultiManager_Empty(t *testing.T) {
	mm := NewMultiManager()
	if _, err := mm.OpenDevice(""); !nfc.IsNoDeviceError(err) {
		t.Errorf("OpenDevice() error = %v, want no device", err)
	}
	if _, err := mm.ListDevices(); !nfc.IsNoDeviceError(err) {
		t.Errorf("ListDevices() error = %v, want no device", err)
	}
}
