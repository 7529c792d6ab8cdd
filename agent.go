package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/nfcdata/buildinfo"
	"github.com/dotside-studios/nfcdata/config"
	"github.com/dotside-studios/nfcdata/nfc"
	"github.com/dotside-studios/nfcdata/nfc/multimanager"
	"github.com/dotside-studios/nfcdata/nfc/peernfc"
	"github.com/dotside-studios/nfcdata/nfc/remotenfc"
	"github.com/dotside-studios/nfcdata/nfc/tagnfc"
	"github.com/dotside-studios/nfcdata/screens"
	"github.com/dotside-studios/nfcdata/server"
	"github.com/dotside-studios/nfcdata/tls"
)

// Agent wires the proximity platforms, the relay and the screens together.
//
// Device strings are routed by manager name: "tag:<libnfc connstring>",
// "peer:<name>" for the in-process field (shared with relay clients while
// the relay runs) and "relay:<url>" for a remote relay.
type Agent struct {
	Logger    *log.Logger
	Config    config.Config
	ConfigDir string

	framer  *nfc.MimeFramer
	codec   nfc.PersonCodec
	field   *peernfc.Field
	manager *multimanager.MultiManager

	mu        sync.Mutex
	relay     *server.Server
	bootstrap *tls.BootstrapServer
	navs      []*screens.Navigator
}

// NewAgent builds the platforms described by cfg. configDir holds relay
// certificates; it may be empty when TLS is not used.
func NewAgent(cfg config.Config, configDir string) (*Agent, error) {
	framer, err := cfg.Codec.Framer()
	if err != nil {
		return nil, err
	}
	codec, err := cfg.Codec.PersonCodec()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		Logger:    log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Config:    cfg,
		ConfigDir: configDir,
		framer:    framer,
		codec:     codec,
		field:     peernfc.NewField(peernfc.WithFramer(framer)),
	}

	relay := remotenfc.NewManager(buildinfo.Name, cfg.Relay.Secret)
	if dialer := a.relayDialer(); dialer != nil {
		relay.Options = append(relay.Options, remotenfc.WithDialer(dialer))
	}

	a.manager = multimanager.NewMultiManager(
		multimanager.ManagerEntry{Name: "tag", Manager: &tagnfc.Manager{PollInterval: cfg.Device.PollInterval, Framer: a.framer}},
		multimanager.ManagerEntry{Name: "peer", Manager: peernfc.NewManager(a.field)},
		multimanager.ManagerEntry{Name: "relay", Manager: relay},
	)
	return a, nil
}

// relayDialer trusts the local relay CA for wss:// relays when one has been
// issued on this machine.
func (a *Agent) relayDialer() *websocket.Dialer {
	if a.ConfigDir == "" {
		return nil
	}
	clientConfig, err := tls.NewManager(a.ConfigDir).ClientConfig()
	if err != nil {
		return nil
	}
	return &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  clientConfig,
	}
}

// Manager returns the device manager screens open devices with.
func (a *Agent) Manager() nfc.Manager {
	return a.manager
}

// DeviceChanges signals when a platform reports added or removed devices.
func (a *Agent) DeviceChanges() <-chan struct{} {
	return a.manager.DeviceChanges()
}

// Field returns the in-process proximity field.
func (a *Agent) Field() *peernfc.Field {
	return a.field
}

// Devices lists devices from every platform.
func (a *Agent) Devices() ([]string, error) {
	return a.manager.ListDevices()
}

// OpenScreens creates a navigator on deviceStr. An empty deviceStr uses the
// configured device.
func (a *Agent) OpenScreens(deviceStr string) *screens.Navigator {
	if deviceStr == "" {
		deviceStr = a.Config.Device.Device
	}
	nav := screens.NewNavigator(a.manager, deviceStr,
		screens.WithTarget(a.Config.Device.Target),
		screens.WithPersonCodec(a.codec),
		screens.WithRegistry(nfc.NewDefaultRegistry(a.framer, a.codec)))

	a.mu.Lock()
	a.navs = append(a.navs, nav)
	a.mu.Unlock()
	return nav
}

// StartRelay serves the peer field to relay clients.
func (a *Agent) StartRelay() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.relay != nil {
		return errors.New("relay is already running")
	}

	cfg := server.Config{
		Port:           a.Config.Relay.Port,
		APISecret:      a.Config.Relay.Secret,
		SessionTimeout: a.Config.Relay.SessionTimeout,
		Field:          a.field,
		DisableMDNS:    a.Config.Relay.DisableMDNS,
	}

	if a.Config.Relay.TLS {
		if a.ConfigDir == "" {
			return errors.New("relay TLS needs a config directory")
		}
		certs := tls.NewManager(a.ConfigDir)
		certFile, keyFile, err := certs.EnsureCertificates(nil)
		if err != nil {
			return fmt.Errorf("relay certificates: %w", err)
		}
		cfg.CertFile, cfg.KeyFile = certFile, keyFile

		a.bootstrap = tls.NewBootstrapServer(certs, a.Config.Relay.BootstrapPort)
		if err := a.bootstrap.Start(); err != nil {
			a.Logger.Printf("Warning: CA bootstrap server not started: %v", err)
			a.bootstrap = nil
		}
	}

	relay := server.New(cfg)
	a.relay = relay
	go func() {
		if err := relay.Start(); err != nil {
			a.Logger.Printf("Relay stopped: %v", err)
		}
	}()
	return nil
}

// StopRelay stops the relay. Devices on the peer field stay open.
func (a *Agent) StopRelay() {
	a.mu.Lock()
	relay, bootstrap := a.relay, a.bootstrap
	a.relay, a.bootstrap = nil, nil
	a.mu.Unlock()

	if bootstrap != nil {
		bootstrap.Stop()
	}
	if relay != nil {
		relay.Stop()
		a.Logger.Println("Relay stopped")
	}
}

// RelayRunning reports whether the relay is serving.
func (a *Agent) RelayRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.relay != nil
}

// Stop closes every navigator, the relay and the platforms.
func (a *Agent) Stop() {
	a.mu.Lock()
	navs := a.navs
	a.navs = nil
	a.mu.Unlock()

	for _, nav := range navs {
		nav.Close()
	}
	a.StopRelay()
	a.manager.Close()
	a.field.Close()
	a.Logger.Println("Agent stopped")
}

// describeContent formats a received payload for display.
func describeContent(content any) string {
	switch c := content.(type) {
	case nfc.TextContent:
		return c.Text
	case nfc.ImageContent:
		if cfg, err := c.Config(); err == nil {
			return fmt.Sprintf("%s image %dx%d (%d bytes)", c.MimeType, cfg.Width, cfg.Height, len(c.Data))
		}
		return fmt.Sprintf("%s image (%d bytes)", c.MimeType, len(c.Data))
	case nfc.UnknownMime:
		hex := c.Hex()
		if len(hex) > 48 {
			hex = hex[:48] + "..."
		}
		return fmt.Sprintf("%s (%d bytes): %s", c.MimeType, len(c.Body), hex)
	case nfc.Person:
		return strings.TrimSpace(c.FirstName + " " + c.LastName)
	default:
		return fmt.Sprint(content)
	}
}

// describeEvent formats a screen event as one line.
func describeEvent(ev screens.Event) string {
	switch ev.Kind {
	case screens.EventContent:
		return fmt.Sprintf("%s: %s", ev.Screen, describeContent(ev.Content))
	case screens.EventError:
		if ev.Status != "" {
			return fmt.Sprintf("%s: %s: %v", ev.Screen, ev.Status, ev.Err)
		}
		return fmt.Sprintf("%s: error: %v", ev.Screen, ev.Err)
	default:
		return fmt.Sprintf("%s: %s", ev.Screen, ev.Status)
	}
}
