// Package peernfc provides an in-process proximity field: devices opened on
// the same Field are in range of each other and of any tag presented to it.
//
// It serves as the proximity platform for tests, for the relay server, and
// for running the screens without radio hardware.
package peernfc

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dotside-studios/nfcdata/nfc"
	"github.com/dotside-studios/nfcdata/nfc/internal/callq"
)

// DefaultTagCapacity is the NDEF capacity of tags presented without one.
const DefaultTagCapacity = 8 * 1024

type publication struct {
	id       int64
	device   *Device
	protocol nfc.ProtocolID
	data     []byte
	handler  nfc.MessageTransmittedHandler

	deliveredTo map[*subscription]bool
	writtenTo   map[string]bool
	failed      bool
}

type subscription struct {
	id       int64
	device   *Device
	protocol nfc.ProtocolID
	handler  nfc.MessageReceivedHandler

	// Tag presences already read, keyed by presence number.
	readPresences map[uint64]bool
}

// Field is a shared proximity zone. All methods are safe for concurrent use.
type Field struct {
	framer *nfc.MimeFramer

	mu       sync.Mutex
	devices  map[string]*Device
	tags     map[string]*Tag
	nextID   int64
	presence uint64
	autoName int
	closed   bool
	changes  chan struct{}

	queue *callq.Queue
}

// FieldOption configures a Field.
type FieldOption func(*Field)

// WithFramer sets the framer used for mime family deliveries.
func WithFramer(framer *nfc.MimeFramer) FieldOption {
	return func(f *Field) {
		f.framer = framer
	}
}

// NewField creates an empty field and starts its delivery worker.
func NewField(opts ...FieldOption) *Field {
	f := &Field{
		framer:  nfc.DefaultMimeFramer,
		devices: make(map[string]*Device),
		tags:    make(map[string]*Tag),
		changes: make(chan struct{}, 1),
		queue:   callq.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close closes all devices and stops the delivery worker.
func (f *Field) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	devices := make([]*Device, 0, len(f.devices))
	for _, d := range f.devices {
		devices = append(devices, d)
	}
	f.mu.Unlock()

	for _, d := range devices {
		d.Close()
	}
	f.queue.Close()
}

// Flush waits until all deliveries queued so far have run. It must not be
// called from a handler.
func (f *Field) Flush() {
	f.queue.Flush()
}

// Changes signals when a device enters or leaves the field. Signals
// coalesce while nobody is receiving.
func (f *Field) Changes() <-chan struct{} {
	return f.changes
}

func (f *Field) changedLocked() {
	select {
	case f.changes <- struct{}{}:
	default:
	}
}

// Devices returns the names of open devices, sorted.
func (f *Field) Devices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.devices))
	for name := range f.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenDevice adds a device to the field. Names must be unique among open
// devices.
func (f *Field) OpenDevice(name string) (*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, nfc.NewNoDeviceError("OpenDevice", fmt.Errorf("field closed"))
	}
	if name == "" {
		for name == "" || f.devices[name] != nil {
			f.autoName++
			name = fmt.Sprintf("peer-%d", f.autoName)
		}
	}
	if _, exists := f.devices[name]; exists {
		return nil, fmt.Errorf("device %q already open", name)
	}

	d := &Device{
		field:         f,
		name:          name,
		publications:  make(map[int64]*publication),
		subscriptions: make(map[int64]*subscription),
		failures:      make(chan nfc.TransportFailure, failureBuffer),
	}
	f.devices[name] = d
	f.changedLocked()
	log.Printf("[peer] device %s entered the field", name)
	return d, nil
}

// PresentTag brings a tag into range. Pending tag writes are applied to it
// and its content is delivered to matching subscriptions.
func (f *Field) PresentTag(tag *Tag) error {
	if tag == nil || tag.ID == "" {
		return fmt.Errorf("tag must have an id")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("field closed")
	}
	if _, exists := f.tags[tag.ID]; exists {
		return fmt.Errorf("tag %s already present", tag.ID)
	}
	f.presence++
	tag.presence = f.presence
	f.tags[tag.ID] = tag
	log.Printf("[peer] tag %s presented", tag.ID)

	f.writePendingLocked()
	f.readTagsLocked()
	return nil
}

// RemoveTag takes a tag out of range.
func (f *Field) RemoveTag(id string) (*Tag, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tag, ok := f.tags[id]
	if ok {
		delete(f.tags, id)
		log.Printf("[peer] tag %s removed", id)
	}
	return tag, ok
}

// Device returns an open device by name.
func (f *Field) Device(name string) (*Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[name]
	return d, ok
}

// Tag returns a present tag.
func (f *Field) Tag(id string) (*Tag, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag, ok := f.tags[id]
	return tag, ok
}

func (f *Field) allocIDLocked() int64 {
	f.nextID++
	return f.nextID
}

// matchLocked delivers every active peer publication to every matching
// subscription on another device, once per pair.
func (f *Field) matchLocked() {
	for _, src := range f.devices {
		for _, pub := range src.publications {
			if pub.protocol.WriteTag {
				continue
			}
			for _, dst := range f.devices {
				if dst == src {
					continue
				}
				for _, sub := range dst.subscriptions {
					if pub.deliveredTo[sub] || !pub.protocol.Matches(sub.protocol) {
						continue
					}
					pub.deliveredTo[sub] = true
					f.deliverLocked(sub, pub.protocol, pub.data)
					f.transmittedLocked(pub)
				}
			}
		}
	}
}

// writePendingLocked applies tag-write publications to present tags, once
// per tag.
func (f *Field) writePendingLocked() {
	for _, tag := range f.tags {
		for _, d := range f.devices {
			for _, pub := range d.publications {
				if !pub.protocol.WriteTag || pub.failed || pub.writtenTo[tag.ID] {
					continue
				}
				if err := tag.write(pub.protocol, pub.data); err != nil {
					pub.failed = true
					d.reportLocked(nfc.TransportFailure{Kind: nfc.PublicationFailure, ID: pub.id, Err: err})
					continue
				}
				pub.writtenTo[tag.ID] = true
				log.Printf("[peer] %s wrote %s to tag %s (%d bytes)", d.name, pub.protocol, tag.ID, len(pub.data))
				f.transmittedLocked(pub)
			}
		}
	}
}

// readTagsLocked delivers present tag contents to matching subscriptions,
// once per tag presence.
func (f *Field) readTagsLocked() {
	for _, tag := range f.tags {
		protocol, data, ok := tag.content()
		if !ok {
			continue
		}
		for _, d := range f.devices {
			for _, sub := range d.subscriptions {
				if sub.readPresences[tag.presence] || !protocol.Matches(sub.protocol) {
					continue
				}
				sub.readPresences[tag.presence] = true
				f.deliverLocked(sub, protocol.Peer(), data)
			}
		}
	}
}

func (f *Field) deliverLocked(sub *subscription, protocol nfc.ProtocolID, body []byte) {
	data, err := nfc.DeliveryPayload(f.framer, protocol, body)
	if err != nil {
		log.Printf("[peer] cannot frame %s for %s: %v", protocol, sub.device.name, err)
		return
	}
	msg := nfc.ProximityMessage{
		MessageType:    protocol.String(),
		SubscriptionID: sub.id,
		Data:           data,
		ReceivedAt:     time.Now(),
	}
	f.queue.Enqueue(func() {
		if !sub.device.isSubscribed(sub) || sub.handler == nil {
			return
		}
		sub.handler(sub.device, msg)
	})
}

func (f *Field) transmittedLocked(pub *publication) {
	f.queue.Enqueue(func() {
		if !pub.device.isPublishing(pub) || pub.handler == nil {
			return
		}
		pub.handler(pub.device, pub.id)
	})
}
