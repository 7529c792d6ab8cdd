package peernfc

import (
	"fmt"
	"sync"

	"github.com/dotside-studios/nfcdata/nfc"
)

// Tag is a simulated NDEF tag. Its memory holds the TLV block a real tag
// would carry, so tag content written here reads back the same way as on
// hardware.
type Tag struct {
	ID       string
	ReadOnly bool
	// Capacity is the usable NDEF area in bytes. Zero means DefaultTagCapacity.
	Capacity int

	mu       sync.Mutex
	memory   []byte
	presence uint64
}

// NewTag returns a blank writable tag.
func NewTag(id string) *Tag {
	return &Tag{ID: id}
}

// NewTagWithContent returns a tag that already carries a record for
// messageType, e.g. one written by another device.
func NewTagWithContent(id, messageType string, body []byte) (*Tag, error) {
	protocol, err := nfc.ParseProtocolID(messageType)
	if err != nil {
		return nil, err
	}
	memory, err := nfc.EncodeTagContent(protocol, body)
	if err != nil {
		return nil, err
	}
	return &Tag{ID: id, memory: memory}, nil
}

// Memory returns a copy of the tag's TLV block.
func (t *Tag) Memory() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.memory...)
}

// Content returns the publication id and body stored on the tag.
func (t *Tag) Content() (nfc.ProtocolID, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return nfc.DecodeTagContent(t.memory)
}

func (t *Tag) content() (nfc.ProtocolID, []byte, bool) {
	protocol, body, err := t.Content()
	return protocol, body, err == nil
}

func (t *Tag) write(protocol nfc.ProtocolID, body []byte) error {
	if t.ReadOnly {
		return nfc.WrapError(nfc.ErrCodeReadOnly, "WriteTag", fmt.Sprintf("tag %s is read-only", t.ID), nil)
	}
	memory, err := nfc.EncodeTagContent(protocol, body)
	if err != nil {
		return err
	}
	capacity := t.Capacity
	if capacity <= 0 {
		capacity = DefaultTagCapacity
	}
	if len(memory) > capacity {
		return nfc.WrapError(nfc.ErrCodeCapacityExceeded, "WriteTag",
			fmt.Sprintf("%d bytes do not fit tag %s (%d bytes)", len(memory), t.ID, capacity), nil)
	}

	t.mu.Lock()
	t.memory = memory
	t.mu.Unlock()
	return nil
}
