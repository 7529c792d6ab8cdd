package remotenfc

import (
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/nfcdata/nfc"
	"github.com/dotside-studios/nfcdata/protocol"
	"github.com/dotside-studios/nfcdata/server"
)

const waitTimeout = 2 * time.Second

func newRelay(t *testing.T, secret string) (*server.Server, *httptest.Server) {
	t.Helper()
	s := server.New(server.Config{APISecret: secret, DisableMDNS: true})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Stop()
	})
	return s, srv
}

func openSession(t *testing.T, srv *httptest.Server, name string, opts ...nfc.SessionOption) *nfc.Session {
	t.Helper()
	s := nfc.NewSession(NewManager(name, ""), srv.URL, opts...)
	if err := s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
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

func TestRelayURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ws://relay:18393/ws", "ws://relay:18393/ws"},
		{"wss://relay/ws", "wss://relay/ws"},
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/ws"},
		{"https://relay.local/", "wss://relay.local/ws"},
		{"10.0.0.2:18393", "ws://10.0.0.2:18393/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := RelayURL(tt.in); got != tt.want {
				t.Errorf("RelayURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEntryURL(t *testing.T) {
	plain := zeroconf.NewServiceEntry("relay", protocol.ServiceType, "local.")
	plain.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	plain.Port = 18393

	secure := zeroconf.NewServiceEntry("relay", protocol.ServiceType, "local.")
	secure.HostName = "relay.local."
	secure.Port = 443
	secure.Text = []string{"tls=1", "path=/relay"}

	empty := zeroconf.NewServiceEntry("relay", protocol.ServiceType, "local.")

	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  string
	}{
		{"ipv4", plain, "ws://192.168.1.20:18393/ws"},
		{"tls hostname", secure, "wss://relay.local:443/relay"},
		{"no address", empty, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entryURL(tt.entry); got != tt.want {
				t.Errorf("entryURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSession_PersonOverRelay(t *testing.T) {
	_, srv := newRelay(t, "")
	reader := openSession(t, srv, "reader")
	writer := openSession(t, srv, "writer")

	received := make(chan nfc.ProximityMessage, 1)
	if _, err := reader.Subscribe(nfc.PersonSubscriptionID, func(msg nfc.ProximityMessage) {
		received <- msg
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	record, err := nfc.EncodePerson(nfc.Person{FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatalf("EncodePerson() error = %v", err)
	}
	published := make(chan nfc.PublicationID, 1)
	pubID, err := writer.Publish(nfc.PersonProtocolID(nfc.TargetPeer), record, func(id nfc.PublicationID) {
		published <- id
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msg := waitFor(t, received, "person delivery")
	person, err := nfc.DecodePerson(msg.Data)
	if err != nil || person.String() != "Ada Lovelace" {
		t.Errorf("DecodePerson() = %+v, %v", person, err)
	}
	if id := waitFor(t, published, "published callback"); id != pubID {
		t.Errorf("published id = %d, want %d", id, pubID)
	}

	deadline := time.Now().Add(waitTimeout)
	for {
		if state, _ := writer.PublicationState(); state == nfc.SlotIdle {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("publication not released after delivery")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_ReadOnlyTagOverRelay(t *testing.T) {
	_, srv := newRelay(t, "")
	failures := make(chan error, 1)
	s := openSession(t, srv, "writer", nfc.WithErrorHandler(func(err error) {
		failures <- err
	}))

	if _, err := s.Publish(nfc.MimeProtocolID("text/plain", nfc.TargetTag), []byte("hi"), nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	dev, err := Dial(t.Context(), RelayURL(srv.URL), WithName("tagger"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer dev.Close()
	if err := dev.PresentTag(protocol.PresentTagPayload{UID: "04:99", ReadOnly: true}); err != nil {
		t.Fatalf("PresentTag() error = %v", err)
	}

	err = waitFor(t, failures, "tag write failure")
	if !errors.Is(err, nfc.ErrReadOnly) || !errors.Is(err, nfc.ErrTransportFailed) {
		t.Errorf("failure = %v, want read-only transport failure", err)
	}
}

func TestSession_RelayErrors(t *testing.T) {
	_, srv := newRelay(t, "")
	s := openSession(t, srv, "phone")

	if _, err := s.Subscribe("WindowsMime:WriteTag.text/plain", nil); !errors.Is(err, nfc.ErrInvalidProtocolID) {
		t.Errorf("Subscribe(WriteTag) error = %v, want ErrInvalidProtocolID", err)
	}
	if _, err := s.Publish("WindowsMime", []byte("x"), nil); !errors.Is(err, nfc.ErrInvalidProtocolID) {
		t.Errorf("Publish(no subtype) error = %v, want ErrInvalidProtocolID", err)
	}
}

func TestManager_Unauthorized(t *testing.T) {
	_, srv := newRelay(t, "s3cret")

	if _, err := NewManager("phone", "wrong").OpenDevice(srv.URL); !nfc.IsNoDeviceError(err) {
		t.Errorf("OpenDevice(wrong secret) error = %v, want no device", err)
	}

	dev, err := NewManager("phone", "s3cret").OpenDevice(srv.URL)
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}
	if dev.(*Device).ID() == "" {
		t.Error("device has no relay id")
	}
	dev.Close()
}

func TestDevice_ConnectionLost(t *testing.T) {
	relay, srv := newRelay(t, "")
	failures := make(chan error, 1)
	s := openSession(t, srv, "phone", nfc.WithErrorHandler(func(err error) {
		failures <- err
	}))

	if _, err := s.Subscribe(nfc.MimeSubscriptionID, func(nfc.ProximityMessage) {}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	relay.Stop()

	err := waitFor(t, failures, "connection lost failure")
	if !errors.Is(err, nfc.ErrTransportFailed) {
		t.Errorf("failure = %v, want ErrTransportFailed", err)
	}
	if state, _ := s.SubscriptionState(); state != nfc.SlotIdle {
		t.Errorf("SubscriptionState() = %v, want idle", state)
	}
}
