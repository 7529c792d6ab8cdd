package tagnfc

import (
	"fmt"
	"log"
	"time"

	"github.com/clausecker/freefare"
	libnfc "github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/nfcdata/nfc"
)

// deviceEnumRetries is the number of attempts made to list readers.
const deviceEnumRetries = 3

// ultralightTag adapts a freefare Ultralight tag (which includes NTAG21x)
// to PageTag.
type ultralightTag struct {
	tag freefare.UltralightTag
}

var _ PageTag = (*ultralightTag)(nil)

func (u *ultralightTag) UID() string {
	return u.tag.UID()
}

func (u *ultralightTag) Connect() error {
	return u.tag.Connect()
}

func (u *ultralightTag) Disconnect() error {
	return u.tag.Disconnect()
}

func (u *ultralightTag) ReadPage(page byte) ([4]byte, error) {
	data, err := u.tag.ReadPage(page)
	if err != nil {
		return [4]byte{}, fmt.Errorf("ultralight read page %d: %w", page, err)
	}
	return data, nil
}

func (u *ultralightTag) WritePage(page byte, data [4]byte) error {
	if err := u.tag.WritePage(page, data); err != nil {
		return fmt.Errorf("ultralight write page %d: %w", page, err)
	}
	return nil
}

// libnfcReader polls a libnfc device for Type 2 tags.
type libnfcReader struct {
	device libnfc.Device
}

func (r *libnfcReader) Tags() ([]PageTag, error) {
	ffTags, err := freefare.GetTags(r.device)
	if err != nil {
		return nil, fmt.Errorf("freefare.GetTags: %w", err)
	}

	var tags []PageTag
	for _, ffTag := range ffTags {
		switch t := ffTag.(type) {
		case freefare.UltralightTag:
			tags = append(tags, &ultralightTag{tag: t})
		default:
			log.Printf("[tag] ignoring tag %s of type %T", ffTag.UID(), ffTag)
		}
	}
	return tags, nil
}

func (r *libnfcReader) String() string {
	return r.device.String()
}

func (r *libnfcReader) Connection() string {
	return r.device.Connection()
}

func (r *libnfcReader) Close() error {
	return r.device.Close()
}

// Manager opens libnfc readers as tag proximity devices.
type Manager struct {
	PollInterval time.Duration
	// Framer frames mime deliveries; nil means nfc.DefaultMimeFramer.
	Framer *nfc.MimeFramer
}

var _ nfc.Manager = (*Manager)(nil)

// NewManager returns a libnfc-backed manager.
func NewManager() *Manager {
	return &Manager{PollInterval: DefaultPollInterval}
}

// OpenDevice opens and initializes the reader at deviceStr, or the first
// reader libnfc finds when deviceStr is empty.
func (m *Manager) OpenDevice(deviceStr string) (nfc.Device, error) {
	dev, err := libnfc.Open(deviceStr)
	if err != nil {
		return nil, nfc.NewNoDeviceError("OpenDevice", err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, nfc.NewNoDeviceError("OpenDevice", fmt.Errorf("failed to initialize device %s: %w", deviceStr, err))
	}
	log.Printf("[tag] connected to reader %s", dev.String())
	return NewDevice(&libnfcReader{device: dev}, WithPollInterval(m.PollInterval), WithFramer(m.Framer)), nil
}

// ListDevices lists libnfc connection strings.
func (m *Manager) ListDevices() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < deviceEnumRetries; i++ {
		devices, err = libnfc.ListDevices()
		if err == nil {
			if len(devices) == 0 {
				return nil, nfc.NewNoDeviceError("ListDevices", fmt.Errorf("no readers found"))
			}
			return devices, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, nfc.NewNoDeviceError("ListDevices", fmt.Errorf("failed after %d retries: %w", deviceEnumRetries, err))
}
