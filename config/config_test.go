package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dotside-studios/nfcdata/nfc"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Codec.HeaderSize != 256 || cfg.Codec.MaxMimeLength != 255 || cfg.Codec.MimeEncoding != "utf-8" {
		t.Errorf("Codec = %+v", cfg.Codec)
	}
	if cfg.Device.Target != nfc.TargetTag {
		t.Errorf("Target = %v, want tag", cfg.Device.Target)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse(`
[codec]
record_format = "datacontract"

[device]
device = "peer:kiosk"
target = "peer"
poll_interval = "100ms"

[relay]
port = 9000
secret = "s3cret"
session_timeout = "30s"
tls = true
`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Codec.RecordFormat != nfc.RecordFormatDataContract {
		t.Errorf("RecordFormat = %q", cfg.Codec.RecordFormat)
	}
	if cfg.Codec.HeaderSize != 256 {
		t.Errorf("HeaderSize = %d, want default 256", cfg.Codec.HeaderSize)
	}
	if cfg.Device.Device != "peer:kiosk" || cfg.Device.Target != nfc.TargetPeer || cfg.Device.PollInterval != 100*time.Millisecond {
		t.Errorf("Device = %+v", cfg.Device)
	}
	if cfg.Relay.Port != 9000 || cfg.Relay.Secret != "s3cret" || cfg.Relay.SessionTimeout != 30*time.Second || !cfg.Relay.TLS {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
	if cfg.Relay.BootstrapPort != 18394 {
		t.Errorf("BootstrapPort = %d, want default", cfg.Relay.BootstrapPort)
	}
}

func TestParse_HeaderSizeImpliesMaxMimeLength(t *testing.T) {
	cfg, err := Parse("[codec]\nheader_size = 64\n")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Codec.MaxMimeLength != 63 {
		t.Errorf("MaxMimeLength = %d, want 63", cfg.Codec.MaxMimeLength)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown key", "[codec]\nheader = 1\n", "unknown config key"},
		{"bad encoding", "[codec]\nmime_encoding = \"klingon\"\n", "mime_encoding"},
		{"utf-16le encoding", "[codec]\nmime_encoding = \"utf-16le\"\n", "cannot frame mime types"},
		{"utf-16be encoding", "[codec]\nmime_encoding = \"utf-16be\"\n", "cannot frame mime types"},
		{"mime limit too large", "[codec]\nmax_mime_length = 256\n", "max_mime_length"},
		{"header too small", "[codec]\nheader_size = 1\n", "header_size"},
		{"bad record format", "[codec]\nrecord_format = \"yaml\"\n", "record_format"},
		{"bad target", "[device]\ntarget = \"printer\"\n", "device.target"},
		{"bad duration", "[relay]\nsession_timeout = \"soon\"\n", "session_timeout"},
		{"bad port", "[relay]\nport = 70000\n", "relay.port"},
		{"not toml", "[codec", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_ShortMimeLimit(t *testing.T) {
	cfg, err := Parse("[codec]\nmax_mime_length = 1\n")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Codec.MaxMimeLength != 1 {
		t.Errorf("MaxMimeLength = %d, want 1", cfg.Codec.MaxMimeLength)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nfcdata.toml")
	if err := os.WriteFile(path, []byte("[relay]\nport = 1234\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Relay.Port != 1234 {
		t.Errorf("Port = %d, want 1234", cfg.Relay.Port)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load(missing) succeeded")
	}
}

func TestCodecConfig_Framer(t *testing.T) {
	tests := []struct {
		encoding string
		wantName string
	}{
		{"utf-8", "utf-8"},
		{"UTF8", "utf-8"},
		{"latin1", "windows-1252"},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			codec := Default().Codec
			codec.MimeEncoding = tt.encoding
			framer, err := codec.Framer()
			if err != nil {
				t.Fatalf("Framer() error = %v", err)
			}
			if framer.EncodingName() != tt.wantName {
				t.Errorf("EncodingName() = %q, want %q", framer.EncodingName(), tt.wantName)
			}
			if framer.HeaderSize() != 256 || framer.MaxMimeLength() != 255 {
				t.Errorf("framer sizes = %d/%d", framer.HeaderSize(), framer.MaxMimeLength())
			}

			buf, err := framer.Encode("text/plain", []byte("hi"))
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			payload, err := framer.Decode(buf)
			if err != nil || payload.MimeType != "text/plain" || string(payload.Body) != "hi" {
				t.Errorf("Decode() = %+v, %v", payload, err)
			}
		})
	}
}

func TestCodecConfig_PersonCodec(t *testing.T) {
	codec := Default().Codec
	pc, err := codec.PersonCodec()
	if err != nil {
		t.Fatalf("PersonCodec() error = %v", err)
	}
	if pc.Format() != nfc.RecordFormatJSON {
		t.Errorf("Format() = %q, want json", pc.Format())
	}
}
