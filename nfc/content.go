package nfc

import (
	"bytes"
	"encoding/hex"
	"image"
	"image/png"
	"strings"
	"unicode/utf8"
)

// Well-known mime types rendered by the default registry.
const (
	MimeTextPlain = "text/plain"
	MimeImagePNG  = "image/png"
)

// TextContent is a text/plain payload decoded as UTF-8. Invalid sequences
// are replaced with U+FFFD.
type TextContent struct {
	Text string
}

// ImageContent is an encoded raster image. Decoding is left to the caller.
type ImageContent struct {
	MimeType string
	Data     []byte
}

// Decode decodes a PNG image.
func (c ImageContent) Decode() (image.Image, error) {
	return png.Decode(bytes.NewReader(c.Data))
}

// Config returns the image dimensions without decoding pixel data.
func (c ImageContent) Config() (image.Config, error) {
	return png.DecodeConfig(bytes.NewReader(c.Data))
}

// UnknownMime is a mime payload with no registered renderer. It is a value,
// not an error; callers may ignore it or show the body as hex.
type UnknownMime struct {
	MimeType string
	Body     []byte
}

// Hex returns the body as space separated hex bytes.
func (u UnknownMime) Hex() string {
	var sb strings.Builder
	for i, b := range u.Body {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{b})))
	}
	return sb.String()
}

// HexDump returns a multi-line dump of the body.
func (u UnknownMime) HexDump() string {
	return hex.Dump(u.Body)
}

func renderText(p *MimePayload) any {
	if utf8.Valid(p.Body) {
		return TextContent{Text: string(p.Body)}
	}
	return TextContent{Text: strings.ToValidUTF8(string(p.Body), "\uFFFD")}
}

func renderPNG(p *MimePayload) any {
	return ImageContent{MimeType: p.MimeType, Data: p.Body}
}
