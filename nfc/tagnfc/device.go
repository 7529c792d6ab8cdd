package tagnfc

import (
	"log"
	"sync"
	"time"

	"github.com/dotside-studios/nfcdata/nfc"
)

// DefaultPollInterval is how often the reader is polled for tags.
const DefaultPollInterval = 250 * time.Millisecond

const failureBuffer = 16

// Reader lists the tags currently in range of an NFC reader.
type Reader interface {
	Tags() ([]PageTag, error)
	String() string
	Connection() string
	Close() error
}

type tagPublication struct {
	id       int64
	protocol nfc.ProtocolID
	data     []byte
	handler  nfc.MessageTransmittedHandler
	written  map[string]bool
}

type tagSubscription struct {
	id       int64
	protocol nfc.ProtocolID
	handler  nfc.MessageReceivedHandler
	// presence number of the last read per tag UID
	read map[string]uint64
}

// Device is a tag-only proximity device. Tag-write publications are stored
// on the next tag brought to the reader; subscriptions receive the content
// of each tag once per presence. Publishing to peers is not supported.
type Device struct {
	reader   Reader
	interval time.Duration
	framer   *nfc.MimeFramer

	mu       sync.Mutex
	nextID   int64
	pubs     map[int64]*tagPublication
	subs     map[int64]*tagSubscription
	present  map[string]uint64
	presence uint64
	failures chan nfc.TransportFailure
	closed   bool

	stop chan struct{}
	done chan struct{}
}

var (
	_ nfc.Device          = (*Device)(nil)
	_ nfc.FailureNotifier = (*Device)(nil)
)

// Option configures a Device.
type Option func(*Device)

// WithPollInterval sets the tag polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.interval = d
		}
	}
}

// WithFramer sets the framer used for mime family deliveries.
func WithFramer(framer *nfc.MimeFramer) Option {
	return func(dev *Device) {
		if framer != nil {
			dev.framer = framer
		}
	}
}

// NewDevice starts polling reader for tags.
func NewDevice(reader Reader, opts ...Option) *Device {
	d := &Device{
		reader:   reader,
		interval: DefaultPollInterval,
		framer:   nfc.DefaultMimeFramer,
		pubs:     make(map[int64]*tagPublication),
		subs:     make(map[int64]*tagSubscription),
		present:  make(map[string]uint64),
		failures: make(chan nfc.TransportFailure, failureBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.pollLoop()
	return d
}

// PublishBinaryMessage queues data for the next tag. Only WriteTag ids are
// accepted.
func (d *Device) PublishBinaryMessage(messageType string, data []byte, handler nfc.MessageTransmittedHandler) (int64, error) {
	protocol, err := nfc.ParseProtocolID(messageType)
	if err != nil {
		return 0, err
	}
	if !protocol.WriteTag {
		return 0, nfc.NewNotSupportedError("PublishBinaryMessage " + messageType + " (tag reader cannot reach peers)")
	}
	if _, err := nfc.NDEFRecordFor(protocol, nil); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, nfc.NewSessionClosedError("PublishBinaryMessage")
	}

	d.nextID++
	d.pubs[d.nextID] = &tagPublication{
		id:       d.nextID,
		protocol: protocol,
		data:     append([]byte(nil), data...),
		handler:  handler,
		written:  make(map[string]bool),
	}
	return d.nextID, nil
}

// SubscribeForMessage receives the content of tags matching messageType.
func (d *Device) SubscribeForMessage(messageType string, handler nfc.MessageReceivedHandler) (int64, error) {
	protocol, err := nfc.ParseProtocolID(messageType)
	if err != nil {
		return 0, err
	}
	if protocol.WriteTag {
		return 0, nfc.Errorf(nfc.ErrCodeInvalidProtocolID, "SubscribeForMessage", "cannot subscribe to %q", messageType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, nfc.NewSessionClosedError("SubscribeForMessage")
	}

	d.nextID++
	d.subs[d.nextID] = &tagSubscription{
		id:       d.nextID,
		protocol: protocol,
		handler:  handler,
		read:     make(map[string]uint64),
	}
	return d.nextID, nil
}

func (d *Device) StopPublishingMessage(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pubs, id)
}

func (d *Device) StopSubscribingForMessage(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, id)
}

// Failures implements nfc.FailureNotifier.
func (d *Device) Failures() <-chan nfc.TransportFailure {
	return d.failures
}

func (d *Device) String() string {
	return d.reader.String()
}

func (d *Device) Connection() string {
	return d.reader.Connection()
}

// Close stops polling and closes the reader. It does not wait for a
// handler that is running.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.pubs = make(map[int64]*tagPublication)
	d.subs = make(map[int64]*tagSubscription)
	close(d.failures)
	close(d.stop)
	d.mu.Unlock()

	return d.reader.Close()
}

func (d *Device) pollLoop() {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.poll()
		}
	}
}

func (d *Device) poll() {
	tags, err := d.reader.Tags()
	if err != nil {
		log.Printf("[tag] error polling %s: %v", d.reader.String(), err)
		return
	}

	d.mu.Lock()
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		uid := tag.UID()
		seen[uid] = true
		if _, ok := d.present[uid]; !ok {
			d.presence++
			d.present[uid] = d.presence
			log.Printf("[tag] tag %s in range of %s", uid, d.reader.String())
		}
	}
	for uid := range d.present {
		if !seen[uid] {
			delete(d.present, uid)
			log.Printf("[tag] tag %s left %s", uid, d.reader.String())
		}
	}
	d.mu.Unlock()

	for _, tag := range tags {
		d.writePending(tag)
		d.readFor(tag)
	}
}

func (d *Device) writePending(tag PageTag) {
	uid := tag.UID()

	d.mu.Lock()
	var pending []*tagPublication
	for _, pub := range d.pubs {
		if !pub.written[uid] {
			pending = append(pending, pub)
		}
	}
	d.mu.Unlock()

	for _, pub := range pending {
		err := WriteContent(tag, pub.protocol, pub.data)

		d.mu.Lock()
		if d.pubs[pub.id] != pub {
			d.mu.Unlock()
			continue
		}
		if err != nil {
			delete(d.pubs, pub.id)
			d.reportLocked(nfc.TransportFailure{Kind: nfc.PublicationFailure, ID: pub.id, Err: err})
			d.mu.Unlock()
			continue
		}
		pub.written[uid] = true
		d.mu.Unlock()

		log.Printf("[tag] wrote %s to tag %s (%d bytes)", pub.protocol, uid, len(pub.data))
		if pub.handler != nil {
			pub.handler(d, pub.id)
		}
	}
}

func (d *Device) readFor(tag PageTag) {
	uid := tag.UID()

	d.mu.Lock()
	presence := d.present[uid]
	var waiting []*tagSubscription
	for _, sub := range d.subs {
		if sub.read[uid] != presence {
			waiting = append(waiting, sub)
		}
	}
	d.mu.Unlock()

	if len(waiting) == 0 {
		return
	}

	protocol, body, err := ReadContent(tag)
	if err != nil {
		if nfc.GetErrorCode(err) == nfc.ErrCodeTransportFailed {
			// Retried on the next poll while the tag stays in range.
			log.Printf("[tag] error reading tag %s: %v", uid, err)
			return
		}
		log.Printf("[tag] tag %s has no readable content: %v", uid, err)
	}

	for _, sub := range waiting {
		d.mu.Lock()
		active := d.subs[sub.id] == sub
		if active {
			sub.read[uid] = presence
		}
		d.mu.Unlock()

		if !active || err != nil || !protocol.Matches(sub.protocol) || sub.handler == nil {
			continue
		}
		data, ferr := nfc.DeliveryPayload(d.framer, protocol, body)
		if ferr != nil {
			log.Printf("[tag] cannot frame %s from tag %s: %v", protocol, uid, ferr)
			continue
		}
		sub.handler(d, nfc.ProximityMessage{
			MessageType:    protocol.Peer().String(),
			SubscriptionID: sub.id,
			Data:           data,
			ReceivedAt:     time.Now(),
		})
	}
}

func (d *Device) reportLocked(failure nfc.TransportFailure) {
	if d.closed {
		return
	}
	select {
	case d.failures <- failure:
		log.Printf("[tag] %s %d failed: %v", failure.Kind, failure.ID, failure.Err)
	default:
		log.Printf("[tag] dropped %s failure for %d", failure.Kind, failure.ID)
	}
}
