package nfc

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestEncodeMime_HelloWorld(t *testing.T) {
	buf, err := EncodeMime("text/plain", []byte("Hello world!"))
	if err != nil {
		t.Fatalf("EncodeMime() error = %v", err)
	}

	if len(buf) != 268 {
		t.Fatalf("len = %d, want 268", len(buf))
	}

	wantPrefix := []byte{0x74, 0x65, 0x78, 0x74, 0x2F, 0x70, 0x6C, 0x61, 0x69, 0x6E, 0x00, 0x00}
	if !bytes.Equal(buf[:12], wantPrefix) {
		t.Errorf("prefix = % X, want % X", buf[:12], wantPrefix)
	}
	for i := 10; i < MimeHeaderSize; i++ {
		if buf[i] != 0 {
			t.Fatalf("filler byte %d = %#x, want 0", i, buf[i])
		}
	}
	if got := string(buf[MimeHeaderSize:]); got != "Hello world!" {
		t.Errorf("body = %q, want %q", got, "Hello world!")
	}

	payload, err := DecodeMime(buf)
	if err != nil {
		t.Fatalf("DecodeMime() error = %v", err)
	}
	if payload.MimeType != "text/plain" || string(payload.Body) != "Hello world!" {
		t.Errorf("DecodeMime() = (%q, %q), want (text/plain, Hello world!)", payload.MimeType, payload.Body)
	}
}

func TestEncodeMime_PNG(t *testing.T) {
	body := []byte{0x89, 0x50, 0x4E}
	buf, err := EncodeMime("image/png", body)
	if err != nil {
		t.Fatalf("EncodeMime() error = %v", err)
	}
	if len(buf) != 259 {
		t.Fatalf("len = %d, want 259", len(buf))
	}
	if !bytes.Equal(buf[256:259], body) {
		t.Errorf("body bytes = % X, want % X", buf[256:259], body)
	}
	if buf[len("image/png")] != 0 {
		t.Errorf("terminator = %#x, want 0", buf[len("image/png")])
	}
}

func TestEncodeMime_Lengths(t *testing.T) {
	tests := []struct {
		name     string
		mimeLen  int
		wantCode ErrorCode
	}{
		{"empty mime", 0, 0},
		{"max length", 255, 0},
		{"one over", 256, ErrCodeMimeTooLong},
		{"far over", 400, ErrCodeMimeTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime := strings.Repeat("a", tt.mimeLen)
			buf, err := EncodeMime(mime, []byte{1, 2})
			if tt.wantCode != 0 {
				if GetErrorCode(err) != tt.wantCode {
					t.Fatalf("EncodeMime() error = %v, want code %v", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("EncodeMime() error = %v", err)
			}
			if len(buf) != MimeHeaderSize+2 {
				t.Errorf("len = %d, want %d", len(buf), MimeHeaderSize+2)
			}
			if buf[tt.mimeLen] != 0 {
				t.Errorf("terminator at %d = %#x, want 0", tt.mimeLen, buf[tt.mimeLen])
			}
		})
	}
}

func TestEncodeMime_MultiByteLengthCountsBytes(t *testing.T) {
	// 128 two-byte runes encode to 256 bytes.
	mime := strings.Repeat("é", 128)
	if _, err := EncodeMime(mime, nil); !errors.Is(err, ErrMimeTooLong) {
		t.Errorf("EncodeMime() error = %v, want ErrMimeTooLong", err)
	}

	mime = strings.Repeat("é", 127) + "a"
	if _, err := EncodeMime(mime, nil); err != nil {
		t.Errorf("EncodeMime() error = %v, want nil", err)
	}
}

func TestEncodeMime_RejectsUnencodableMime(t *testing.T) {
	tests := []struct {
		name string
		mime string
	}{
		{"embedded terminator", "text/\x00plain"},
		{"invalid utf-8", "text/\xffplain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeMime(tt.mime, nil); !errors.Is(err, ErrInvalidMimeEncoding) {
				t.Errorf("EncodeMime() error = %v, want ErrInvalidMimeEncoding", err)
			}
		})
	}
}

func TestDecodeMime(t *testing.T) {
	longNoTerminator := bytes.Repeat([]byte{'a'}, 300)

	shortWithTerminator := make([]byte, 200)

	shortNoTerminator := bytes.Repeat([]byte{'a'}, 200)

	invalidUTF8 := make([]byte, 260)
	invalidUTF8[0] = 0xFF
	invalidUTF8[1] = 0xFE

	terminatorAfterHeader := bytes.Repeat([]byte{'a'}, 300)
	terminatorAfterHeader[280] = 0

	tests := []struct {
		name     string
		buf      []byte
		wantMime string
		wantBody []byte
		wantCode ErrorCode
	}{
		{"empty mime exact header", make([]byte, 256), "", []byte{}, 0},
		{"truncated", shortWithTerminator, "", nil, ErrCodeTruncatedPayload},
		{"missing terminator long", longNoTerminator, "", nil, ErrCodeMissingMimeTerminator},
		{"missing terminator short", shortNoTerminator, "", nil, ErrCodeMissingMimeTerminator},
		{"terminator beyond header", terminatorAfterHeader, "", nil, ErrCodeMissingMimeTerminator},
		{"empty buffer", []byte{}, "", nil, ErrCodeMissingMimeTerminator},
		{"invalid utf-8", invalidUTF8, "", nil, ErrCodeInvalidMimeEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := DecodeMime(tt.buf)
			if tt.wantCode != 0 {
				if GetErrorCode(err) != tt.wantCode {
					t.Fatalf("DecodeMime() error = %v, want code %v", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeMime() error = %v", err)
			}
			if payload.MimeType != tt.wantMime {
				t.Errorf("MimeType = %q, want %q", payload.MimeType, tt.wantMime)
			}
			if !bytes.Equal(payload.Body, tt.wantBody) {
				t.Errorf("Body = % X, want % X", payload.Body, tt.wantBody)
			}
		})
	}
}

func TestDecodeMime_IgnoresFiller(t *testing.T) {
	buf, err := EncodeMime("image/png", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("EncodeMime() error = %v", err)
	}
	k := len("image/png")
	for i := k + 1; i < MimeHeaderSize; i++ {
		buf[i] = byte(i)
	}
	// Invalid UTF-8 after the terminator must not matter either.
	buf[k+1] = 0xFF

	payload, err := DecodeMime(buf)
	if err != nil {
		t.Fatalf("DecodeMime() error = %v", err)
	}
	if payload.MimeType != "image/png" || !bytes.Equal(payload.Body, []byte{1, 2, 3}) {
		t.Errorf("DecodeMime() = (%q, % X)", payload.MimeType, payload.Body)
	}
}

func TestDecodeMime_BodyDoesNotAlias(t *testing.T) {
	buf, _ := EncodeMime("text/plain", []byte("abc"))
	payload, err := DecodeMime(buf)
	if err != nil {
		t.Fatalf("DecodeMime() error = %v", err)
	}
	buf[MimeHeaderSize] = 'X'
	if string(payload.Body) != "abc" {
		t.Errorf("Body = %q after mutating input, want %q", payload.Body, "abc")
	}
}

func TestMimeRoundTrip(t *testing.T) {
	mimes := []string{"", "text/plain", "image/png", "application/vnd.ms-excel", "text/plain; charset=utf-8", "テキスト/日本語", strings.Repeat("x", 255)}
	bodies := [][]byte{nil, {}, {0}, []byte("Hello world!"), bytes.Repeat([]byte{0xAB}, 1024)}

	for _, mime := range mimes {
		for _, body := range bodies {
			buf, err := EncodeMime(mime, body)
			if err != nil {
				t.Fatalf("EncodeMime(%q) error = %v", mime, err)
			}
			if len(buf) != MimeHeaderSize+len(body) {
				t.Errorf("len = %d, want %d", len(buf), MimeHeaderSize+len(body))
			}
			if buf[len(mime)] != 0 {
				t.Errorf("buf[len(mime)] = %#x, want 0", buf[len(mime)])
			}
			payload, err := DecodeMime(buf)
			if err != nil {
				t.Fatalf("DecodeMime() error = %v", err)
			}
			if payload.MimeType != mime {
				t.Errorf("MimeType = %q, want %q", payload.MimeType, mime)
			}
			if !bytes.Equal(payload.Body, body) && !(len(body) == 0 && len(payload.Body) == 0) {
				t.Errorf("Body mismatch for %q", mime)
			}
		}
	}
}

func TestMimeFramer_Options(t *testing.T) {
	t.Run("smaller header", func(t *testing.T) {
		f := NewMimeFramer(WithHeaderSize(32))
		if f.MaxMimeLength() != 31 {
			t.Errorf("MaxMimeLength() = %d, want 31", f.MaxMimeLength())
		}
		buf, err := f.Encode("text/plain", []byte("hi"))
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if len(buf) != 34 {
			t.Errorf("len = %d, want 34", len(buf))
		}
		payload, err := f.Decode(buf)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if string(payload.Body) != "hi" {
			t.Errorf("Body = %q, want hi", payload.Body)
		}
	})

	t.Run("max mime length clamp", func(t *testing.T) {
		f := NewMimeFramer(WithMaxMimeLength(1000))
		if f.MaxMimeLength() != MaxMimeLength {
			t.Errorf("MaxMimeLength() = %d, want %d", f.MaxMimeLength(), MaxMimeLength)
		}
	})

	t.Run("lower max mime length", func(t *testing.T) {
		f := NewMimeFramer(WithMaxMimeLength(4))
		if _, err := f.Encode("text/plain", nil); !errors.Is(err, ErrMimeTooLong) {
			t.Errorf("Encode() error = %v, want ErrMimeTooLong", err)
		}
	})

	t.Run("latin-1 encoding", func(t *testing.T) {
		f := NewMimeFramer(WithMimeEncoding("iso-8859-1", charmap.ISO8859_1))
		buf, err := f.Encode("text/é", []byte("x"))
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if buf[5] != 0xE9 || buf[6] != 0 {
			t.Errorf("header = % X, want latin-1 e-acute then terminator", buf[:8])
		}
		payload, err := f.Decode(buf)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if payload.MimeType != "text/é" {
			t.Errorf("MimeType = %q, want %q", payload.MimeType, "text/é")
		}
	})

	t.Run("latin-1 unrepresentable", func(t *testing.T) {
		f := NewMimeFramer(WithMimeEncoding("iso-8859-1", charmap.ISO8859_1))
		if _, err := f.Encode("text/日本", nil); !errors.Is(err, ErrInvalidMimeEncoding) {
			t.Errorf("Encode() error = %v, want ErrInvalidMimeEncoding", err)
		}
	})
}
