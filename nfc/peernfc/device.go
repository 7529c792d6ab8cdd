package peernfc

import (
	"fmt"
	"log"

	"github.com/dotside-studios/nfcdata/nfc"
)

const failureBuffer = 16

// Device is a proximity device in a Field. It implements nfc.Device and
// nfc.FailureNotifier.
type Device struct {
	field *Field
	name  string

	// guarded by field.mu
	publications  map[int64]*publication
	subscriptions map[int64]*subscription
	failures      chan nfc.TransportFailure
	closed        bool
}

var (
	_ nfc.Device          = (*Device)(nil)
	_ nfc.FailureNotifier = (*Device)(nil)
)

// PublishBinaryMessage publishes data to nearby devices, or to the next
// writable tag when messageType carries the WriteTag qualifier.
func (d *Device) PublishBinaryMessage(messageType string, data []byte, handler nfc.MessageTransmittedHandler) (int64, error) {
	protocol, err := nfc.ParseProtocolID(messageType)
	if err != nil {
		return 0, err
	}
	if protocol.SubType == "" {
		return 0, nfc.Errorf(nfc.ErrCodeInvalidProtocolID, "PublishBinaryMessage", "publication %q has no subtype", messageType)
	}

	f := d.field
	f.mu.Lock()
	defer f.mu.Unlock()

	if d.closed {
		return 0, nfc.NewSessionClosedError("PublishBinaryMessage")
	}

	body := make([]byte, len(data))
	copy(body, data)
	pub := &publication{
		id:          f.allocIDLocked(),
		device:      d,
		protocol:    protocol,
		data:        body,
		handler:     handler,
		deliveredTo: make(map[*subscription]bool),
		writtenTo:   make(map[string]bool),
	}
	d.publications[pub.id] = pub

	if protocol.WriteTag {
		f.writePendingLocked()
		f.readTagsLocked()
	} else {
		f.matchLocked()
	}
	return pub.id, nil
}

// SubscribeForMessage subscribes to publications from other devices and to
// the contents of present tags.
func (d *Device) SubscribeForMessage(messageType string, handler nfc.MessageReceivedHandler) (int64, error) {
	protocol, err := nfc.ParseProtocolID(messageType)
	if err != nil {
		return 0, err
	}
	if protocol.WriteTag {
		return 0, nfc.Errorf(nfc.ErrCodeInvalidProtocolID, "SubscribeForMessage", "cannot subscribe to %q", messageType)
	}

	f := d.field
	f.mu.Lock()
	defer f.mu.Unlock()

	if d.closed {
		return 0, nfc.NewSessionClosedError("SubscribeForMessage")
	}

	sub := &subscription{
		id:            f.allocIDLocked(),
		device:        d,
		protocol:      protocol,
		handler:       handler,
		readPresences: make(map[uint64]bool),
	}
	d.subscriptions[sub.id] = sub

	f.matchLocked()
	f.readTagsLocked()
	return sub.id, nil
}

// StopPublishingMessage stops a publication. Unknown ids are ignored.
func (d *Device) StopPublishingMessage(id int64) {
	d.field.mu.Lock()
	defer d.field.mu.Unlock()
	delete(d.publications, id)
}

// StopSubscribingForMessage stops a subscription. Unknown ids are ignored.
func (d *Device) StopSubscribingForMessage(id int64) {
	d.field.mu.Lock()
	defer d.field.mu.Unlock()
	delete(d.subscriptions, id)
}

// Failures implements nfc.FailureNotifier.
func (d *Device) Failures() <-chan nfc.TransportFailure {
	return d.failures
}

// Fail reports a transport failure for id, as a radio would when the link
// drops. It returns false if id is not active on d.
func (d *Device) Fail(id int64, err error) bool {
	d.field.mu.Lock()
	defer d.field.mu.Unlock()

	kind := nfc.PublicationFailure
	if _, ok := d.publications[id]; !ok {
		if _, ok := d.subscriptions[id]; !ok {
			return false
		}
		kind = nfc.SubscriptionFailure
	}
	if err == nil {
		err = nfc.NewTransportError("link", fmt.Errorf("id %d lost", id))
	}
	d.reportLocked(nfc.TransportFailure{Kind: kind, ID: id, Err: err})
	return true
}

// ActivePublications returns the number of active publications.
func (d *Device) ActivePublications() int {
	d.field.mu.Lock()
	defer d.field.mu.Unlock()
	return len(d.publications)
}

// ActiveSubscriptions returns the number of active subscriptions.
func (d *Device) ActiveSubscriptions() int {
	d.field.mu.Lock()
	defer d.field.mu.Unlock()
	return len(d.subscriptions)
}

func (d *Device) String() string {
	return d.name
}

// Connection returns the device connection string.
func (d *Device) Connection() string {
	return "peer:" + d.name
}

// Close removes d from the field. Its publications and subscriptions stop
// and its failure channel is closed.
func (d *Device) Close() error {
	f := d.field
	f.mu.Lock()
	defer f.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.publications = make(map[int64]*publication)
	d.subscriptions = make(map[int64]*subscription)
	close(d.failures)
	if f.devices[d.name] == d {
		delete(f.devices, d.name)
		f.changedLocked()
	}
	log.Printf("[peer] device %s left the field", d.name)
	return nil
}

func (d *Device) isPublishing(pub *publication) bool {
	d.field.mu.Lock()
	defer d.field.mu.Unlock()
	return d.publications[pub.id] == pub
}

func (d *Device) isSubscribed(sub *subscription) bool {
	d.field.mu.Lock()
	defer d.field.mu.Unlock()
	return d.subscriptions[sub.id] == sub
}

// reportLocked sends a failure without blocking. Failures are dropped when
// nobody drains the channel.
func (d *Device) reportLocked(failure nfc.TransportFailure) {
	if d.closed {
		return
	}
	select {
	case d.failures <- failure:
		log.Printf("[peer] %s %s %d failed: %v", d.name, failure.Kind, failure.ID, failure.Err)
	default:
		log.Printf("[peer] %s dropped %s failure for %d", d.name, failure.Kind, failure.ID)
	}
}
