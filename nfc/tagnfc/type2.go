// Package tagnfc is the tag proximity platform: it drives an NFC reader
// through libnfc and stores publications on NFC Forum Type 2 tags
// (MIFARE Ultralight and NTAG21x).
package tagnfc

import (
	"fmt"

	"github.com/dotside-studios/nfcdata/nfc"
)

// Type 2 tag memory layout.
const (
	pageSize      = 4
	lockPage      = 2
	ccPage        = 3
	userStartPage = 4

	ccMagic         = 0xE1
	ccWriteAccessRO = 0x0F

	// Ultralight tags without a capability container have 48 user bytes.
	ultralightDataArea = 48
)

// PageTag is a tag addressed in 4-byte pages.
type PageTag interface {
	UID() string
	Connect() error
	Disconnect() error
	ReadPage(page byte) ([4]byte, error)
	WritePage(page byte, data [4]byte) error
}

// Capability describes the NDEF area of a tag.
type Capability struct {
	// DataArea is the size of the NDEF area in bytes.
	DataArea int
	ReadOnly bool
}

// ReadCapability reads the capability container and the static lock bytes.
func ReadCapability(tag PageTag) (Capability, error) {
	cc, err := tag.ReadPage(ccPage)
	if err != nil {
		return Capability{}, nfc.NewTransportError("ReadCapability", err)
	}
	lock, err := tag.ReadPage(lockPage)
	if err != nil {
		return Capability{}, nfc.NewTransportError("ReadCapability", err)
	}

	capability := Capability{DataArea: ultralightDataArea}
	if cc[0] == ccMagic {
		capability.DataArea = int(cc[2]) * 8
		capability.ReadOnly = cc[3]&0x0F == ccWriteAccessRO
	}
	if lock[2] == 0xFF && lock[3] == 0xFF {
		capability.ReadOnly = true
	}
	return capability, nil
}

// ReadTLV reads the TLV block from the start of the user area, stopping at
// the terminator or the end of the data area.
func ReadTLV(tag PageTag, capability Capability) ([]byte, error) {
	pages := (capability.DataArea + pageSize - 1) / pageSize
	data := make([]byte, 0, pages*pageSize)

	for i := 0; i < pages; i++ {
		page, err := tag.ReadPage(byte(userStartPage + i))
		if err != nil {
			return nil, nfc.NewTransportError("ReadTLV", fmt.Errorf("page %d: %w", userStartPage+i, err))
		}
		data = append(data, page[:]...)
		if n := nfc.TLVTotalLength(data); n >= 0 {
			return data[:n], nil
		}
	}
	return data, nil
}

// WriteTLV writes a TLV block to the start of the user area.
func WriteTLV(tag PageTag, capability Capability, tlv []byte) error {
	if capability.ReadOnly {
		return nfc.WrapError(nfc.ErrCodeReadOnly, "WriteTLV", fmt.Sprintf("tag %s is read-only", tag.UID()), nil)
	}
	if len(tlv) > capability.DataArea {
		return nfc.WrapError(nfc.ErrCodeCapacityExceeded, "WriteTLV",
			fmt.Sprintf("%d bytes do not fit tag %s (%d bytes)", len(tlv), tag.UID(), capability.DataArea), nil)
	}

	for offset := 0; offset < len(tlv); offset += pageSize {
		var page [4]byte
		copy(page[:], tlv[offset:])
		if err := tag.WritePage(byte(userStartPage+offset/pageSize), page); err != nil {
			return nfc.NewTransportError("WriteTLV", fmt.Errorf("page %d: %w", userStartPage+offset/pageSize, err))
		}
	}
	return nil
}

// WriteContent stores a publication on tag as a single NDEF record.
func WriteContent(tag PageTag, protocol nfc.ProtocolID, body []byte) error {
	tlv, err := nfc.EncodeTagContent(protocol, body)
	if err != nil {
		return err
	}
	if err := tag.Connect(); err != nil {
		return nfc.NewTransportError("WriteContent", err)
	}
	defer tag.Disconnect()

	capability, err := ReadCapability(tag)
	if err != nil {
		return err
	}
	return WriteTLV(tag, capability, tlv)
}

// ReadContent returns the publication id and body stored on tag.
func ReadContent(tag PageTag) (nfc.ProtocolID, []byte, error) {
	if err := tag.Connect(); err != nil {
		return nfc.ProtocolID{}, nil, nfc.NewTransportError("ReadContent", err)
	}
	defer tag.Disconnect()

	capability, err := ReadCapability(tag)
	if err != nil {
		return nfc.ProtocolID{}, nil, err
	}
	tlv, err := ReadTLV(tag, capability)
	if err != nil {
		return nfc.ProtocolID{}, nil, err
	}
	return nfc.DecodeTagContent(tlv)
}
