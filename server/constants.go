package server

import (
	"time"

	"github.com/dotside-studios/nfcdata/buildinfo"
	"github.com/dotside-studios/nfcdata/protocol"
)

// mDNS service discovery constants for the relay
var (
	MDNSServiceType = protocol.ServiceType
	MDNSServiceName = buildinfo.DisplayName + " Relay"
	MDNSDomain      = "local."
)

// DefaultPort is the relay's listening port when none is configured.
const DefaultPort = 18393

// DefaultSessionTimeout is how long a relay token stays valid without traffic.
const DefaultSessionTimeout = 5 * time.Minute

// writeWait bounds a single websocket write.
const writeWait = 10 * time.Second

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
