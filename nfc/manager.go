package nfc

// Manager discovers and opens proximity devices. The empty device string
// selects the platform default. When nothing can be opened, errors satisfy
// IsNoDeviceError.
//
//	manager := peernfc.NewManager(field)
//	devices, _ := manager.ListDevices()
//	device, _ := manager.OpenDevice(devices[0])
type Manager interface {
	OpenDevice(deviceStr string) (Device, error)
	ListDevices() ([]string, error)
}

// DeviceChangeNotifier is implemented by managers whose device set changes
// at runtime. The channel signals after a device appears or goes away.
type DeviceChangeNotifier interface {
	DeviceChanges() <-chan struct{}
}
