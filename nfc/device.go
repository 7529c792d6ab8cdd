package nfc

import "time"

// ProximityMessage is a payload delivered to a subscription.
type ProximityMessage struct {
	// MessageType is the publication id the payload was sent under.
	MessageType string
	// SubscriptionID is the platform id of the receiving subscription.
	SubscriptionID int64
	// Data is the delivered payload. Mime family payloads arrive framed.
	Data       []byte
	ReceivedAt time.Time
}

// MessageReceivedHandler is called by a Device for each delivery to a
// subscription.
type MessageReceivedHandler func(dev Device, msg ProximityMessage)

// MessageTransmittedHandler is called by a Device once a publication has
// been delivered (or written to a tag).
type MessageTransmittedHandler func(dev Device, publicationID int64)

// Device is a proximity device that publishes and subscribes to messages by
// protocol id.
//
// Implementations run handlers on their own goroutines and must never call a
// handler from inside PublishBinaryMessage or SubscribeForMessage. Stopping an
// id must not wait for a handler that is already running. Ids are never
// reused within a Device.
//
// Example:
//
//	dev, err := manager.OpenDevice("")
//	id, err := dev.SubscribeForMessage("WindowsMime", func(d nfc.Device, m nfc.ProximityMessage) {
//	    payload, _ := nfc.DecodeMime(m.Data)
//	    log.Printf("received %s", payload.MimeType)
//	})
//	defer dev.StopSubscribingForMessage(id)
type Device interface {
	PublishBinaryMessage(messageType string, data []byte, handler MessageTransmittedHandler) (int64, error)
	SubscribeForMessage(messageType string, handler MessageReceivedHandler) (int64, error)
	StopPublishingMessage(id int64)
	StopSubscribingForMessage(id int64)
	String() string
	Connection() string
	Close() error
}

// FailureKind tells which slot a transport failure affected.
type FailureKind int

const (
	PublicationFailure FailureKind = iota
	SubscriptionFailure
)

func (k FailureKind) String() string {
	if k == SubscriptionFailure {
		return "subscription"
	}
	return "publication"
}

// ParseFailureKind is the inverse of FailureKind.String.
func ParseFailureKind(s string) FailureKind {
	if s == "subscription" {
		return SubscriptionFailure
	}
	return PublicationFailure
}

// TransportFailure reports that a platform gave up on a publication or
// subscription id.
type TransportFailure struct {
	Kind FailureKind
	ID   int64
	Err  error
}

// FailureNotifier is optionally implemented by Devices that report transport
// failures for individual ids.
type FailureNotifier interface {
	// Failures returns a channel of failures. It is closed when the device closes.
	Failures() <-chan TransportFailure
}
