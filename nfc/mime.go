package nfc

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// MimeHeaderSize is the fixed size of the header that carries the mime type.
	// Encoder and decoder both derive the body offset from it.
	MimeHeaderSize = 256

	// MaxMimeLength is the longest encoded mime type that still leaves room
	// for the terminator inside the header.
	MaxMimeLength = MimeHeaderSize - 1

	mimeTerminator = 0x00
)

// MimePayload is a decoded mime-framed message.
type MimePayload struct {
	MimeType string
	Body     []byte
}

// MimeFramer encodes and decodes mime-framed payloads: a fixed header holding
// the zero-terminated mime type, followed by the opaque body.
//
// A MimeFramer is immutable and safe for concurrent use.
type MimeFramer struct {
	headerSize    int
	maxMimeLength int
	encoding      encoding.Encoding
	encodingName  string
}

// MimeFramerOption configures a MimeFramer.
type MimeFramerOption func(*MimeFramer)

// WithHeaderSize overrides the header size. Peers must agree on it.
func WithHeaderSize(size int) MimeFramerOption {
	return func(f *MimeFramer) {
		f.headerSize = size
	}
}

// WithMaxMimeLength caps the encoded mime type length. It is clamped to
// header size minus one.
func WithMaxMimeLength(n int) MimeFramerOption {
	return func(f *MimeFramer) {
		f.maxMimeLength = n
	}
}

// WithMimeEncoding sets the text codec used for the mime type.
func WithMimeEncoding(name string, enc encoding.Encoding) MimeFramerOption {
	return func(f *MimeFramer) {
		f.encoding = enc
		f.encodingName = name
	}
}

// DefaultMimeFramer uses a 256 byte header and UTF-8 mime types.
var DefaultMimeFramer = NewMimeFramer()

// NewMimeFramer creates a MimeFramer with the given options applied over the
// defaults.
func NewMimeFramer(opts ...MimeFramerOption) *MimeFramer {
	f := &MimeFramer{
		headerSize:    MimeHeaderSize,
		maxMimeLength: MaxMimeLength,
		encoding:      unicode.UTF8,
		encodingName:  "utf-8",
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.headerSize < 1 {
		f.headerSize = MimeHeaderSize
	}
	if f.maxMimeLength < 0 || f.maxMimeLength > f.headerSize-1 {
		f.maxMimeLength = f.headerSize - 1
	}
	if f.encoding == nil {
		f.encoding = unicode.UTF8
		f.encodingName = "utf-8"
	}
	return f
}

// HeaderSize returns the configured header size.
func (f *MimeFramer) HeaderSize() int { return f.headerSize }

// MaxMimeLength returns the configured mime type limit in encoded bytes.
func (f *MimeFramer) MaxMimeLength() int { return f.maxMimeLength }

// EncodingName returns the name of the mime type text codec.
func (f *MimeFramer) EncodingName() string { return f.encodingName }

func (f *MimeFramer) isUTF8() bool {
	return f.encoding == unicode.UTF8 || strings.EqualFold(f.encodingName, "utf-8")
}

// Encode frames body behind a header holding mimeType.
//
// The result is HeaderSize()+len(body) bytes long. The mime type occupies the
// first bytes of the header, followed by a single 0x00. The rest of the header
// is zero filled.
func (f *MimeFramer) Encode(mimeType string, body []byte) ([]byte, error) {
	encoded, err := f.encodeMimeType(mimeType)
	if err != nil {
		return nil, err
	}
	if len(encoded) > f.maxMimeLength {
		return nil, Errorf(ErrCodeMimeTooLong, "EncodeMime",
			"mime type is %d bytes, limit is %d", len(encoded), f.maxMimeLength)
	}

	buf := make([]byte, f.headerSize+len(body))
	copy(buf, encoded)
	buf[len(encoded)] = mimeTerminator
	copy(buf[f.headerSize:], body)
	return buf, nil
}

func (f *MimeFramer) encodeMimeType(mimeType string) ([]byte, error) {
	if !utf8.ValidString(mimeType) {
		return nil, WrapError(ErrCodeInvalidMimeEncoding, "EncodeMime", "mime type is not valid text", nil)
	}
	if strings.IndexByte(mimeType, mimeTerminator) >= 0 {
		return nil, WrapError(ErrCodeInvalidMimeEncoding, "EncodeMime", "mime type contains the header terminator", nil)
	}
	if f.isUTF8() {
		return []byte(mimeType), nil
	}

	encoded, _, err := transform.Bytes(f.encoding.NewEncoder(), []byte(mimeType))
	if err != nil {
		return nil, WrapError(ErrCodeInvalidMimeEncoding, "EncodeMime",
			fmt.Sprintf("mime type not representable in %s", f.encodingName), err)
	}
	if bytes.IndexByte(encoded, mimeTerminator) >= 0 {
		return nil, WrapError(ErrCodeInvalidMimeEncoding, "EncodeMime", "encoded mime type contains the header terminator", nil)
	}
	return encoded, nil
}

// Decode splits a mime-framed buffer into its mime type and body.
//
// Checks run in a fixed order: the terminator is searched in the first
// HeaderSize() bytes (or fewer if buf is shorter), then the length is
// checked, then the mime type is decoded. Header bytes after the terminator
// are never inspected. The returned body does not alias buf.
func (f *MimeFramer) Decode(buf []byte) (*MimePayload, error) {
	window := buf
	if len(window) > f.headerSize {
		window = window[:f.headerSize]
	}
	k := bytes.IndexByte(window, mimeTerminator)
	if k < 0 {
		return nil, Errorf(ErrCodeMissingMimeTerminator, "DecodeMime",
			"no terminator in first %d bytes", len(window))
	}
	if len(buf) < f.headerSize {
		return nil, Errorf(ErrCodeTruncatedPayload, "DecodeMime",
			"payload is %d bytes, header needs %d", len(buf), f.headerSize)
	}

	mimeType, err := f.decodeMimeType(buf[:k])
	if err != nil {
		return nil, err
	}

	body := make([]byte, len(buf)-f.headerSize)
	copy(body, buf[f.headerSize:])
	return &MimePayload{MimeType: mimeType, Body: body}, nil
}

func (f *MimeFramer) decodeMimeType(raw []byte) (string, error) {
	if f.isUTF8() {
		if _, _, err := transform.Bytes(encoding.UTF8Validator, raw); err != nil {
			return "", WrapError(ErrCodeInvalidMimeEncoding, "DecodeMime", "mime type is not valid utf-8", err)
		}
		return string(raw), nil
	}

	decoded, _, err := transform.Bytes(f.encoding.NewDecoder(), raw)
	if err != nil {
		return "", WrapError(ErrCodeInvalidMimeEncoding, "DecodeMime",
			fmt.Sprintf("mime type is not valid %s", f.encodingName), err)
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", WrapError(ErrCodeInvalidMimeEncoding, "DecodeMime",
			fmt.Sprintf("mime type is not valid %s", f.encodingName), nil)
	}
	return string(decoded), nil
}

// EncodeMime frames body with DefaultMimeFramer.
func EncodeMime(mimeType string, body []byte) ([]byte, error) {
	return DefaultMimeFramer.Encode(mimeType, body)
}

// DecodeMime decodes buf with DefaultMimeFramer.
func DecodeMime(buf []byte) (*MimePayload, error) {
	return DefaultMimeFramer.Decode(buf)
}
