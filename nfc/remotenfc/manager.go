package remotenfc

import (
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/nfcdata/nfc"
	"github.com/dotside-studios/nfcdata/protocol"
)

// DefaultBrowseTimeout is how long ListDevices waits for mDNS answers.
const DefaultBrowseTimeout = time.Second

// Manager opens relay-hosted devices. Device strings are relay URLs
// ("ws://host:port/ws") or bare "host:port" addresses; an empty string
// opens the first relay found on the local network.
type Manager struct {
	Name          string
	Secret        string
	BrowseTimeout time.Duration
	Options       []Option
}

var _ nfc.Manager = (*Manager)(nil)

// NewManager returns a manager that says hello as name.
func NewManager(name, secret string) *Manager {
	return &Manager{
		Name:          name,
		Secret:        secret,
		BrowseTimeout: DefaultBrowseTimeout,
	}
}

// OpenDevice dials the relay at deviceStr.
func (m *Manager) OpenDevice(deviceStr string) (nfc.Device, error) {
	url := deviceStr
	if url == "" {
		relays, err := m.ListDevices()
		if err != nil {
			return nil, err
		}
		url = relays[0]
	}
	url = RelayURL(url)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()

	opts := append([]Option{WithName(m.Name), WithSecret(m.Secret)}, m.Options...)
	dev, err := Dial(ctx, url, opts...)
	if err != nil {
		if nfc.IsNoDeviceError(err) {
			return nil, err
		}
		return nil, nfc.NewNoDeviceError("OpenDevice", err)
	}
	return dev, nil
}

// ListDevices browses mDNS for relays and returns their URLs.
func (m *Manager) ListDevices() ([]string, error) {
	timeout := m.BrowseTimeout
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, nfc.NewNoDeviceError("ListDevices", fmt.Errorf("mDNS resolver: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, protocol.ServiceType, "local.", entries); err != nil {
		return nil, nfc.NewNoDeviceError("ListDevices", fmt.Errorf("mDNS browse: %w", err))
	}

	seen := make(map[string]bool)
	var urls []string
collect:
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				break collect
			}
			if url := entryURL(entry); url != "" && !seen[url] {
				seen[url] = true
				urls = append(urls, url)
				log.Printf("[remote] found relay %q at %s", entry.Instance, url)
			}
		case <-ctx.Done():
			break collect
		}
	}

	if len(urls) == 0 {
		return nil, nfc.NewNoDeviceError("ListDevices", fmt.Errorf("no relays found on the local network"))
	}
	sort.Strings(urls)
	return urls, nil
}

// RelayURL normalizes a relay address to a websocket URL.
func RelayURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		return addr
	case strings.HasPrefix(addr, "http://"):
		return "ws://" + strings.TrimSuffix(strings.TrimPrefix(addr, "http://"), "/") + protocol.WebSocketPath
	case strings.HasPrefix(addr, "https://"):
		return "wss://" + strings.TrimSuffix(strings.TrimPrefix(addr, "https://"), "/") + protocol.WebSocketPath
	default:
		return "ws://" + addr + protocol.WebSocketPath
	}
}

func entryURL(entry *zeroconf.ServiceEntry) string {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return ""
	}

	scheme, path := "ws", protocol.WebSocketPath
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		switch key {
		case "tls":
			if value == "1" {
				scheme = "wss"
			}
		case "path":
			if value != "" {
				path = value
			}
		}
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path
}
