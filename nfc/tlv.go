package nfc

// TLV types used in tag memory.
const (
	TLVNull       = 0x00
	TLVLockCtrl   = 0x01
	TLVMemCtrl    = 0x02
	TLVNDEF       = 0x03
	TLVTerminator = 0xFE
)

// TLVEncode encodes data as [Type][Length][Value][Terminator].
// Lengths of 0xFF and above use the three byte form.
func TLVEncode(data []byte, tlvType byte) []byte {
	length := len(data)
	result := make([]byte, 0, length+5)
	result = append(result, tlvType)

	if length < 0xFF {
		result = append(result, byte(length))
	} else {
		result = append(result, 0xFF, byte(length>>8), byte(length))
	}

	result = append(result, data...)
	return append(result, TLVTerminator)
}

// tlvHeader returns the value offset and length of the TLV starting at
// data[0]. ok is false when the header is truncated.
func tlvHeader(data []byte) (valueStart, length int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	if data[1] == 0xFF {
		if len(data) < 4 {
			return 0, 0, false
		}
		return 4, int(data[2])<<8 | int(data[3]), true
	}
	return 2, int(data[1]), true
}

// TLVFindNDEF finds the NDEF Message TLV in a TLV block, skipping Null
// and unknown TLVs.
func TLVFindNDEF(data []byte) ([]byte, bool) {
	offset := 0
	for offset < len(data) {
		switch data[offset] {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return nil, false
		}

		valueStart, length, ok := tlvHeader(data[offset:])
		if !ok || offset+valueStart+length > len(data) {
			return nil, false
		}
		if data[offset] == TLVNDEF {
			return data[offset+valueStart : offset+valueStart+length], true
		}
		offset += valueStart + length
	}
	return nil, false
}

// TLVTotalLength returns the number of bytes of the TLV block up to and
// including the NDEF TLV's terminator, or -1 if the block is incomplete.
// Tag readers use it to stop reading pages early.
func TLVTotalLength(data []byte) int {
	offset := 0
	for offset < len(data) {
		switch data[offset] {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return offset + 1
		}
		valueStart, length, ok := tlvHeader(data[offset:])
		if !ok {
			return -1
		}
		offset += valueStart + length
		if offset > len(data) {
			return -1
		}
	}
	return -1
}
