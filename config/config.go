// Package config loads the nfcdata settings file.
//
// Settings are read from TOML. Keys that are absent keep their defaults, so
// a file only needs the values it changes:
//
//	[codec]
//	header_size = 256
//	mime_encoding = "utf-8"
//	max_mime_length = 255
//	record_format = "json"
//
//	[device]
//	device = "peer:kiosk"
//	target = "tag"
//
//	[relay]
//	port = 18393
//	session_timeout = "5m"
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/dotside-studios/nfcdata/nfc"
)

// CodecConfig holds the framing and record settings every peer must agree on.
type CodecConfig struct {
	HeaderSize    int
	MimeEncoding  string
	MaxMimeLength int
	RecordFormat  nfc.RecordFormat
}

// DeviceConfig selects the proximity device the screens open.
type DeviceConfig struct {
	// Device is a multimanager device string such as "peer:kiosk",
	// "tag:usb:001" or "relay:ws://host:18393/ws". Empty opens the first
	// device found.
	Device       string
	Target       nfc.Target
	PollInterval time.Duration
}

// RelayConfig configures the relay server and relay clients.
type RelayConfig struct {
	Port           int
	Secret         string
	SessionTimeout time.Duration
	TLS            bool
	BootstrapPort  int
	DisableMDNS    bool
}

// Config is the complete settings file.
type Config struct {
	Codec  CodecConfig
	Device DeviceConfig
	Relay  RelayConfig
}

type fileConfig struct {
	Codec struct {
		HeaderSize    int    `toml:"header_size"`
		MimeEncoding  string `toml:"mime_encoding"`
		MaxMimeLength int    `toml:"max_mime_length"`
		RecordFormat  string `toml:"record_format"`
	} `toml:"codec"`
	Device struct {
		Device       string `toml:"device"`
		Target       string `toml:"target"`
		PollInterval string `toml:"poll_interval"`
	} `toml:"device"`
	Relay struct {
		Port           int    `toml:"port"`
		Secret         string `toml:"secret"`
		SessionTimeout string `toml:"session_timeout"`
		TLS            bool   `toml:"tls"`
		BootstrapPort  int    `toml:"bootstrap_port"`
		DisableMDNS    bool   `toml:"disable_mdns"`
	} `toml:"relay"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Codec: CodecConfig{
			HeaderSize:    nfc.MimeHeaderSize,
			MimeEncoding:  "utf-8",
			MaxMimeLength: nfc.MaxMimeLength,
			RecordFormat:  nfc.RecordFormatJSON,
		},
		Device: DeviceConfig{
			Target:       nfc.TargetTag,
			PollInterval: 250 * time.Millisecond,
		},
		Relay: RelayConfig{
			Port:           18393,
			SessionTimeout: 5 * time.Minute,
			BootstrapPort:  18394,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(Default(), raw, meta)
}

// Parse reads TOML data over the defaults and validates the result.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("codec", "header_size") {
		cfg.Codec.HeaderSize = raw.Codec.HeaderSize
	}
	if meta.IsDefined("codec", "mime_encoding") {
		cfg.Codec.MimeEncoding = strings.TrimSpace(raw.Codec.MimeEncoding)
	}
	if meta.IsDefined("codec", "max_mime_length") {
		cfg.Codec.MaxMimeLength = raw.Codec.MaxMimeLength
	} else if meta.IsDefined("codec", "header_size") {
		cfg.Codec.MaxMimeLength = cfg.Codec.HeaderSize - 1
	}
	if meta.IsDefined("codec", "record_format") {
		cfg.Codec.RecordFormat = nfc.RecordFormat(strings.TrimSpace(raw.Codec.RecordFormat))
	}

	if meta.IsDefined("device", "device") {
		cfg.Device.Device = strings.TrimSpace(raw.Device.Device)
	}
	if meta.IsDefined("device", "target") {
		target, err := nfc.ParseTarget(strings.TrimSpace(raw.Device.Target))
		if err != nil {
			return Config{}, fmt.Errorf("parse device.target: %w", err)
		}
		cfg.Device.Target = target
	}
	if meta.IsDefined("device", "poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Device.PollInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse device.poll_interval: %w", err)
		}
		cfg.Device.PollInterval = d
	}

	if meta.IsDefined("relay", "port") {
		cfg.Relay.Port = raw.Relay.Port
	}
	if meta.IsDefined("relay", "secret") {
		cfg.Relay.Secret = raw.Relay.Secret
	}
	if meta.IsDefined("relay", "session_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Relay.SessionTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse relay.session_timeout: %w", err)
		}
		cfg.Relay.SessionTimeout = d
	}
	if meta.IsDefined("relay", "tls") {
		cfg.Relay.TLS = raw.Relay.TLS
	}
	if meta.IsDefined("relay", "bootstrap_port") {
		cfg.Relay.BootstrapPort = raw.Relay.BootstrapPort
	}
	if meta.IsDefined("relay", "disable_mdns") {
		cfg.Relay.DisableMDNS = raw.Relay.DisableMDNS
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	if c.Codec.HeaderSize < 2 {
		return fmt.Errorf("codec.header_size must be at least 2, got %d", c.Codec.HeaderSize)
	}
	if c.Codec.MaxMimeLength < 1 || c.Codec.MaxMimeLength > c.Codec.HeaderSize-1 {
		return fmt.Errorf("codec.max_mime_length must be between 1 and %d, got %d",
			c.Codec.HeaderSize-1, c.Codec.MaxMimeLength)
	}
	framer, err := c.Codec.Framer()
	if err != nil {
		return fmt.Errorf("codec.mime_encoding %q: %w", c.Codec.MimeEncoding, err)
	}
	// Encodings that put 0x00 inside ASCII mime types (utf-16) collide
	// with the header terminator.
	if _, err := framer.Encode(nfc.MimeTextPlain, nil); errors.Is(err, nfc.ErrInvalidMimeEncoding) {
		return fmt.Errorf("codec.mime_encoding %q cannot frame mime types: %w", c.Codec.MimeEncoding, err)
	}
	if _, err := nfc.NewPersonCodec(c.Codec.RecordFormat); err != nil {
		return fmt.Errorf("codec.record_format: %w", err)
	}
	if c.Device.PollInterval <= 0 {
		return fmt.Errorf("device.poll_interval must be positive")
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port out of range: %d", c.Relay.Port)
	}
	if c.Relay.BootstrapPort < 0 || c.Relay.BootstrapPort > 65535 {
		return fmt.Errorf("relay.bootstrap_port out of range: %d", c.Relay.BootstrapPort)
	}
	if c.Relay.SessionTimeout < 0 {
		return fmt.Errorf("relay.session_timeout must not be negative")
	}
	return nil
}

// Framer builds the mime framer the settings describe.
func (c CodecConfig) Framer() (*nfc.MimeFramer, error) {
	enc, err := htmlindex.Get(c.MimeEncoding)
	if err != nil {
		return nil, fmt.Errorf("mime encoding %q: %w", c.MimeEncoding, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = strings.ToLower(c.MimeEncoding)
	}
	return nfc.NewMimeFramer(
		nfc.WithHeaderSize(c.HeaderSize),
		nfc.WithMaxMimeLength(c.MaxMimeLength),
		nfc.WithMimeEncoding(name, enc),
	), nil
}

// PersonCodec returns the configured Person record codec.
func (c CodecConfig) PersonCodec() (nfc.PersonCodec, error) {
	return nfc.NewPersonCodec(c.RecordFormat)
}
