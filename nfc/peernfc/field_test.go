package peernfc

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/dotside-studios/nfcdata/nfc"
)

const waitTimeout = 2 * time.Second

func openSession(t *testing.T, m *Manager, name string, opts ...nfc.SessionOption) *nfc.Session {
	t.Helper()
	s := nfc.NewSession(m, name, opts...)
	if err := s.Open(); err != nil {
		t.Fatalf("Open(%q) error = %v", name, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestField(t *testing.T) (*Field, *Manager) {
	t.Helper()
	f := NewField()
	t.Cleanup(f.Close)
	return f, NewManager(f)
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timed out waiting for %s", what)
		return zero
	}
}

func TestPeer_PersonRoundTrip(t *testing.T) {
	_, m := newTestField(t)
	writer := openSession(t, m, "writer")
	reader := openSession(t, m, "reader")

	messages := make(chan nfc.ProximityMessage, 1)
	if _, err := reader.Subscribe(nfc.PersonSubscriptionID, func(msg nfc.ProximityMessage) {
		messages <- msg
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	sent := nfc.Person{FirstName: "Ada", LastName: "Lovelace"}
	data, err := nfc.EncodePerson(sent)
	if err != nil {
		t.Fatalf("EncodePerson() error = %v", err)
	}
	if got, err := nfc.DecodePerson(data); err != nil || got != sent {
		t.Fatalf("DecodePerson() = %v, %v; want %v", got, err, sent)
	}

	published := make(chan nfc.PublicationID, 1)
	pubID, err := writer.Publish(nfc.PersonProtocolID(nfc.TargetPeer), data, func(id nfc.PublicationID) {
		published <- id
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg := receive(t, messages, "person delivery")
	if msg.MessageType != "Windows.Person" {
		t.Errorf("MessageType = %q, want Windows.Person", msg.MessageType)
	}
	got, err := nfc.DecodePerson(msg.Data)
	if err != nil {
		t.Fatalf("DecodePerson() error = %v", err)
	}
	if got != sent {
		t.Errorf("received %v, want %v", got, sent)
	}

	if id := receive(t, published, "publish callback"); id != pubID {
		t.Errorf("callback id = %d, want %d", id, pubID)
	}
	if state, _ := writer.PublicationState(); state != nfc.SlotIdle {
		t.Errorf("PublicationState() = %v, want idle", state)
	}
}

func TestPeer_MimeDeliveryIsFramed(t *testing.T) {
	f, m := newTestField(t)
	writer := openSession(t, m, "writer")
	reader := openSession(t, m, "reader")

	// Publishing first: the subscription is matched when it is created.
	if _, err := writer.Publish(nfc.MimeProtocolID("text/plain", nfc.TargetPeer), []byte("Hello world!"), nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	messages := make(chan nfc.ProximityMessage, 4)
	if _, err := reader.Subscribe(nfc.MimeSubscriptionID, func(msg nfc.ProximityMessage) {
		messages <- msg
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msg := receive(t, messages, "mime delivery")
	if len(msg.Data) != nfc.MimeHeaderSize+12 {
		t.Errorf("len(Data) = %d, want %d", len(msg.Data), nfc.MimeHeaderSize+12)
	}
	payload, err := nfc.DecodeMime(msg.Data)
	if err != nil {
		t.Fatalf("DecodeMime() error = %v", err)
	}
	if payload.MimeType != "text/plain" || string(payload.Body) != "Hello world!" {
		t.Errorf("payload = (%q, %q)", payload.MimeType, payload.Body)
	}

	f.Flush()
	select {
	case extra := <-messages:
		t.Errorf("unexpected second delivery %q", extra.MessageType)
	default:
	}
}

func TestPeer_NoSelfDeliveryOrMismatch(t *testing.T) {
	f, m := newTestField(t)
	alone := openSession(t, m, "alone")
	other := openSession(t, m, "other")

	var got []string
	if _, err := alone.Subscribe(nfc.PersonSubscriptionID, func(msg nfc.ProximityMessage) {
		got = append(got, msg.MessageType)
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := alone.Publish(nfc.PersonProtocolID(nfc.TargetPeer), []byte("{}"), nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, err := other.Publish(nfc.MimeProtocolID("text/plain", nfc.TargetPeer), []byte("x"), nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	f.Flush()
	if len(got) != 0 {
		t.Errorf("deliveries = %v, want none", got)
	}
}

func TestTag_WriteThenRead(t *testing.T) {
	f, m := newTestField(t)
	writer := openSession(t, m, "writer")
	reader := openSession(t, m, "reader")

	messages := make(chan nfc.ProximityMessage, 4)
	if _, err := reader.Subscribe(nfc.MimeSubscriptionID, func(msg nfc.ProximityMessage) {
		messages <- msg
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	written := make(chan nfc.PublicationID, 1)
	if _, err := writer.Publish(nfc.MimeProtocolID("text/plain", nfc.TargetTag), []byte("Hello world!"), func(id nfc.PublicationID) {
		written <- id
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	f.Flush()
	select {
	case <-written:
		t.Fatal("write reported before a tag was presented")
	case msg := <-messages:
		t.Fatalf("unexpected delivery %q before a tag was presented", msg.MessageType)
	default:
	}

	tag := NewTag("04:A1:B2")
	if err := f.PresentTag(tag); err != nil {
		t.Fatalf("PresentTag() error = %v", err)
	}
	receive(t, written, "write callback")

	msg := receive(t, messages, "tag read")
	if msg.MessageType != "WindowsMime.text/plain" {
		t.Errorf("MessageType = %q, want WindowsMime.text/plain", msg.MessageType)
	}
	payload, err := nfc.DecodeMime(msg.Data)
	if err != nil {
		t.Fatalf("DecodeMime() error = %v", err)
	}
	if payload.MimeType != "text/plain" || string(payload.Body) != "Hello world!" {
		t.Errorf("payload = (%q, %q)", payload.MimeType, payload.Body)
	}

	protocol, body, err := tag.Content()
	if err != nil || protocol.String() != "WindowsMime:WriteTag.text/plain" || string(body) != "Hello world!" {
		t.Errorf("Content() = %s, %q, %v", protocol, body, err)
	}
}

func TestTag_ReadOncePerPresence(t *testing.T) {
	f, m := newTestField(t)
	reader := openSession(t, m, "reader")

	tag, err := NewTagWithContent("04:00:01", nfc.PersonProtocolID(nfc.TargetTag), []byte(`{"FirstName":"Ada","LastName":"Lovelace"}`))
	if err != nil {
		t.Fatalf("NewTagWithContent() error = %v", err)
	}
	if err := f.PresentTag(tag); err != nil {
		t.Fatalf("PresentTag() error = %v", err)
	}

	messages := make(chan nfc.ProximityMessage, 4)
	if _, err := reader.Subscribe(nfc.PersonSubscriptionID, func(msg nfc.ProximityMessage) {
		messages <- msg
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	msg := receive(t, messages, "first read")
	if p, err := nfc.DecodePerson(msg.Data); err != nil || p.FirstName != "Ada" {
		t.Errorf("DecodePerson() = %v, %v", p, err)
	}

	f.Flush()
	if len(messages) != 0 {
		t.Fatalf("got %d extra deliveries during one presence", len(messages))
	}

	if _, ok := f.RemoveTag(tag.ID); !ok {
		t.Fatal("RemoveTag() = false")
	}
	if err := f.PresentTag(tag); err != nil {
		t.Fatalf("PresentTag() again error = %v", err)
	}
	receive(t, messages, "read after re-presenting")
}

func TestTag_WriteFailures(t *testing.T) {
	tests := []struct {
		name string
		tag  *Tag
		body []byte
		want error
	}{
		{"read-only", &Tag{ID: "ro", ReadOnly: true}, []byte("x"), nfc.ErrReadOnly},
		{"too small", &Tag{ID: "small", Capacity: 48}, bytes.Repeat([]byte("x"), 100), nfc.ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, m := newTestField(t)
			failures := make(chan error, 1)
			writer := openSession(t, m, "writer", nfc.WithErrorHandler(func(err error) {
				failures <- err
			}))

			written := make(chan nfc.PublicationID, 1)
			if _, err := writer.Publish(nfc.MimeProtocolID("text/plain", nfc.TargetTag), tt.body, func(id nfc.PublicationID) {
				written <- id
			}); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if err := f.PresentTag(tt.tag); err != nil {
				t.Fatalf("PresentTag() error = %v", err)
			}

			err := receive(t, failures, "transport failure")
			if !errors.Is(err, nfc.ErrTransportFailed) || !errors.Is(err, tt.want) {
				t.Errorf("failure = %v, want transport failure wrapping %v", err, tt.want)
			}
			if state, _ := writer.PublicationState(); state != nfc.SlotIdle {
				t.Errorf("PublicationState() = %v, want idle", state)
			}
			f.Flush()
			if len(written) != 0 {
				t.Error("write callback ran for a failed write")
			}
			if len(tt.tag.Memory()) != 0 {
				t.Error("tag memory changed")
			}
		})
	}
}

func TestPeer_LateDeliveriesDropped(t *testing.T) {
	f, m := newTestField(t)
	writer := openSession(t, m, "writer")
	reader := openSession(t, m, "reader")

	started := make(chan struct{})
	gate := make(chan struct{})
	var first []string
	if _, err := reader.Subscribe(nfc.PersonSubscriptionID, func(msg nfc.ProximityMessage) {
		first = append(first, string(msg.Data))
		if len(first) == 1 {
			close(started)
			<-gate
		}
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	var publishedFirst int
	if _, err := writer.Publish("Windows.Person", []byte("one"), func(nfc.PublicationID) {
		publishedFirst++
	}); err != nil {
		t.Fatalf("Publish(one) error = %v", err)
	}
	<-started

	// While the first callback is blocked: replace the publication, then the
	// subscription. Both queue deliveries for ids that are no longer active.
	if _, err := writer.Publish("Windows.Person", []byte("two"), nil); err != nil {
		t.Fatalf("Publish(two) error = %v", err)
	}
	var second []string
	if _, err := reader.Subscribe(nfc.PersonSubscriptionID, func(msg nfc.ProximityMessage) {
		second = append(second, string(msg.Data))
	}); err != nil {
		t.Fatalf("Subscribe() again error = %v", err)
	}

	close(gate)
	f.Flush()

	if len(first) != 1 || first[0] != "one" {
		t.Errorf("first subscription got %v, want [one]", first)
	}
	if len(second) != 1 || second[0] != "two" {
		t.Errorf("second subscription got %v, want [two]", second)
	}
	if publishedFirst != 0 {
		t.Errorf("replaced publication callback ran %d times", publishedFirst)
	}
}

func TestManager_Disabled(t *testing.T) {
	_, m := newTestField(t)
	m.SetDisabled(true)

	s := nfc.NewSession(m, "")
	if err := s.Open(); !errors.Is(err, nfc.ErrNoDevice) {
		t.Fatalf("Open() error = %v, want ErrNoDevice", err)
	}
	if _, err := m.ListDevices(); !errors.Is(err, nfc.ErrNoDevice) {
		t.Errorf("ListDevices() error = %v, want ErrNoDevice", err)
	}

	m.SetDisabled(false)
	if err := s.Open(); err != nil {
		t.Fatalf("Open() after enabling error = %v", err)
	}
	defer s.Close()
	if s.DeviceName() != "peer-1" {
		t.Errorf("DeviceName() = %q, want peer-1", s.DeviceName())
	}
}

func TestDevice_CloseAndFail(t *testing.T) {
	f, _ := newTestField(t)
	d, err := f.OpenDevice("x")
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}
	if _, err := f.OpenDevice("x"); err == nil {
		t.Error("duplicate OpenDevice() error = nil, want error")
	}

	id, err := d.SubscribeForMessage("WindowsMime", nil)
	if err != nil {
		t.Fatalf("SubscribeForMessage() error = %v", err)
	}
	if _, err := d.SubscribeForMessage("WindowsMime:WriteTag.text/plain", nil); !errors.Is(err, nfc.ErrInvalidProtocolID) {
		t.Errorf("SubscribeForMessage(WriteTag) error = %v, want ErrInvalidProtocolID", err)
	}
	if !d.Fail(id, nil) {
		t.Fatal("Fail() = false for active subscription")
	}
	failure := <-d.Failures()
	if failure.Kind != nfc.SubscriptionFailure || failure.ID != id {
		t.Errorf("failure = %+v", failure)
	}
	if d.Fail(999, nil) {
		t.Error("Fail(unknown) = true")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-d.Failures(); ok {
		t.Error("Failures() not closed after Close")
	}
	if _, err := d.PublishBinaryMessage("Windows.Person", nil, nil); !errors.Is(err, nfc.ErrSessionClosed) {
		t.Errorf("PublishBinaryMessage() after Close error = %v, want ErrSessionClosed", err)
	}
	if _, ok := f.Device("x"); ok {
		t.Error("closed device still in field")
	}
}

func TestField_Changes(t *testing.T) {
	f, m := newTestField(t)

	d, err := f.OpenDevice("kiosk")
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}
	receive(t, m.DeviceChanges(), "change on open")

	d.Close()
	receive(t, f.Changes(), "change on close")

	m.SetDisabled(true)
	receive(t, f.Changes(), "change on disable")
	m.SetDisabled(true)
	select {
	case <-f.Changes():
		t.Error("change signaled without a state change")
	default:
	}
}
