package nfc

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// NDEF Type Name Formats.
const (
	TNFEmpty     uint8 = 0x00
	TNFWellKnown uint8 = 0x01
	TNFMedia     uint8 = 0x02
	TNFExternal  uint8 = 0x04
)

// Windows family payloads are stored as NFC Forum external types under
// this domain, e.g. "windows.com/Person".
const windowsExternalPrefix = "windows.com/"

// NDEFRecord is a single NDEF record.
type NDEFRecord struct {
	TNF     uint8
	Type    []byte
	ID      []byte
	Payload []byte
}

// GetText returns the text of a well-known Text record.
func (r NDEFRecord) GetText() (string, bool) {
	if r.TNF != TNFWellKnown || string(r.Type) != "T" {
		return "", false
	}
	text, err := parseTextRecordPayload(r.Payload)
	if err != nil {
		return "", false
	}
	return text, true
}

// NDEFRecordFor returns the record a tag write stores for a publication.
// Mime family bodies become media records; Windows family bodies become
// external type records.
func NDEFRecordFor(protocol ProtocolID, body []byte) (NDEFRecord, error) {
	if protocol.SubType == "" {
		return NDEFRecord{}, Errorf(ErrCodeInvalidProtocolID, "NDEFRecordFor", "%q has no subtype", protocol)
	}
	payload := make([]byte, len(body))
	copy(payload, body)

	switch protocol.Family {
	case FamilyMime:
		return NDEFRecord{TNF: TNFMedia, Type: []byte(protocol.SubType), Payload: payload}, nil
	case FamilyWindows:
		return NDEFRecord{TNF: TNFExternal, Type: []byte(windowsExternalPrefix + protocol.SubType), Payload: payload}, nil
	default:
		return NDEFRecord{}, NewNotSupportedError("NDEFRecordFor " + protocol.String())
	}
}

// ProtocolForNDEFRecord maps a record read from a tag back to the tag
// publication id it was written under, and the body a subscriber receives.
// Well-known Text records written by other tools read as text/plain.
func ProtocolForNDEFRecord(r NDEFRecord) (ProtocolID, []byte, error) {
	switch r.TNF {
	case TNFMedia:
		if len(r.Type) == 0 {
			return ProtocolID{}, nil, NewMalformedRecordError("ProtocolForNDEFRecord", fmt.Errorf("media record without type"))
		}
		return ProtocolID{Family: FamilyMime, SubType: string(r.Type), WriteTag: true}, r.Payload, nil
	case TNFExternal:
		sub, ok := strings.CutPrefix(string(r.Type), windowsExternalPrefix)
		if !ok || sub == "" {
			break
		}
		return ProtocolID{Family: FamilyWindows, SubType: sub, WriteTag: true}, r.Payload, nil
	case TNFWellKnown:
		if text, ok := r.GetText(); ok {
			return ProtocolID{Family: FamilyMime, SubType: MimeTextPlain, WriteTag: true}, []byte(text), nil
		}
	}
	return ProtocolID{}, nil, NewNotSupportedError(fmt.Sprintf("ProtocolForNDEFRecord (tnf %d, type %q)", r.TNF, r.Type))
}

// EncodeTagContent builds the NDEF Message TLV a tag write stores for a
// publication.
func EncodeTagContent(protocol ProtocolID, body []byte) ([]byte, error) {
	record, err := NDEFRecordFor(protocol, body)
	if err != nil {
		return nil, err
	}
	msg, err := EncodeNDEFMessage([]NDEFRecord{record})
	if err != nil {
		return nil, err
	}
	return TLVEncode(msg, TLVNDEF), nil
}

// DecodeTagContent finds the NDEF message in tag memory and returns the
// first record that maps to a protocol id.
func DecodeTagContent(memory []byte) (ProtocolID, []byte, error) {
	msg, ok := TLVFindNDEF(memory)
	if !ok {
		return ProtocolID{}, nil, NewMalformedRecordError("DecodeTagContent", fmt.Errorf("no NDEF message TLV"))
	}
	if len(msg) == 0 {
		return ProtocolID{}, nil, NewMalformedRecordError("DecodeTagContent", fmt.Errorf("empty NDEF message"))
	}
	records, err := ParseNDEFMessage(msg)
	if err != nil {
		return ProtocolID{}, nil, NewMalformedRecordError("DecodeTagContent", err)
	}
	for _, r := range records {
		if protocol, body, err := ProtocolForNDEFRecord(r); err == nil {
			return protocol, body, nil
		}
	}
	return ProtocolID{}, nil, NewNotSupportedError("DecodeTagContent")
}

// ParseNDEFMessage parses raw NDEF message bytes into records.
func ParseNDEFMessage(ndefMessage []byte) ([]NDEFRecord, error) {
	if len(ndefMessage) == 0 {
		return nil, fmt.Errorf("empty NDEF message")
	}

	var records []NDEFRecord
	offset := 0

	for offset < len(ndefMessage) {
		header := ndefMessage[offset]
		me := header&0x40 != 0 // Message End
		sr := header&0x10 != 0 // Short Record
		il := header&0x08 != 0 // ID Length present
		tnf := header & 0x07

		pos := offset + 1
		if pos+1 > len(ndefMessage) {
			return nil, fmt.Errorf("truncated type length at offset %d", pos)
		}
		typeLength := int(ndefMessage[pos])
		pos++

		var payloadLength int
		if sr {
			if pos+1 > len(ndefMessage) {
				return nil, fmt.Errorf("truncated payload length at offset %d", pos)
			}
			payloadLength = int(ndefMessage[pos])
			pos++
		} else {
			if pos+4 > len(ndefMessage) {
				return nil, fmt.Errorf("truncated payload length at offset %d", pos)
			}
			payloadLength = int(binary.BigEndian.Uint32(ndefMessage[pos : pos+4]))
			pos += 4
		}

		var idLength int
		if il {
			if pos+1 > len(ndefMessage) {
				return nil, fmt.Errorf("truncated ID length at offset %d", pos)
			}
			idLength = int(ndefMessage[pos])
			pos++
		}

		if payloadLength < 0 || pos+typeLength+idLength+payloadLength > len(ndefMessage) {
			return nil, fmt.Errorf("record at offset %d overruns message", offset)
		}

		record := NDEFRecord{TNF: tnf}
		record.Type = append([]byte(nil), ndefMessage[pos:pos+typeLength]...)
		pos += typeLength
		if idLength > 0 {
			record.ID = append([]byte(nil), ndefMessage[pos:pos+idLength]...)
			pos += idLength
		}
		record.Payload = append([]byte{}, ndefMessage[pos:pos+payloadLength]...)
		pos += payloadLength

		records = append(records, record)
		offset = pos

		if me {
			break
		}
	}

	return records, nil
}

// EncodeNDEFMessage encodes records into raw NDEF message bytes.
func EncodeNDEFMessage(records []NDEFRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("cannot encode empty record list")
	}

	var result []byte
	for i, record := range records {
		if len(record.Type) > 0xFF || len(record.ID) > 0xFF {
			return nil, fmt.Errorf("record %d: type or id longer than 255 bytes", i)
		}

		short := len(record.Payload) <= 0xFF
		header := record.TNF & 0x07
		if i == 0 {
			header |= 0x80 // MB
		}
		if i == len(records)-1 {
			header |= 0x40 // ME
		}
		if short {
			header |= 0x10 // SR
		}
		if len(record.ID) > 0 {
			header |= 0x08 // IL
		}

		result = append(result, header, byte(len(record.Type)))
		if short {
			result = append(result, byte(len(record.Payload)))
		} else {
			result = binary.BigEndian.AppendUint32(result, uint32(len(record.Payload)))
		}
		if len(record.ID) > 0 {
			result = append(result, byte(len(record.ID)))
		}
		result = append(result, record.Type...)
		result = append(result, record.ID...)
		result = append(result, record.Payload...)
	}

	return result, nil
}

// MakeTextRecord creates a well-known Text record.
func MakeTextRecord(text, langCode string) NDEFRecord {
	if langCode == "" {
		langCode = "en"
	}
	lang := []byte(langCode)
	if len(lang) > 0x3F {
		lang = lang[:0x3F]
	}
	payload := make([]byte, 1+len(lang)+len(text))
	payload[0] = byte(len(lang)) // UTF-8
	copy(payload[1:], lang)
	copy(payload[1+len(lang):], text)
	return NDEFRecord{TNF: TNFWellKnown, Type: []byte("T"), Payload: payload}
}

func parseTextRecordPayload(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("text record payload too short (status byte missing)")
	}
	status := payload[0]
	langLength := int(status & 0x3F)
	isUTF16 := status&0x80 != 0

	start := 1 + langLength
	if start > len(payload) {
		return "", fmt.Errorf("text record payload too short (language code missing)")
	}
	text := payload[start:]

	if !isUTF16 {
		return string(text), nil
	}
	if len(text)%2 != 0 {
		return "", fmt.Errorf("invalid UTF-16 text length: %d", len(text))
	}
	u16s := make([]uint16, len(text)/2)
	for i := range u16s {
		u16s[i] = binary.LittleEndian.Uint16(text[i*2:])
	}
	return string(utf16.Decode(u16s)), nil
}
