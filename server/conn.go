package server

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dotside-studios/nfcdata/nfc/peernfc"
	"github.com/dotside-studios/nfcdata/protocol"
)

// Conn is one relay websocket connection. After hello it owns a device in
// the relay's field.
type Conn struct {
	ws     *websocket.Conn
	remote string

	// writeMu serializes writes. The request loop holds it while a handler
	// runs so that a response is written before any push it caused.
	writeMu sync.Mutex

	mu       sync.Mutex
	deviceID string
	name     string
	token    string
	device   *peernfc.Device
}

func newConn(ws *websocket.Conn, remote string) *Conn {
	return &Conn{ws: ws, remote: remote}
}

// DeviceID returns the id issued at hello, or "" before hello.
func (c *Conn) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// Device returns the field device opened at hello.
func (c *Conn) Device() *peernfc.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

func (c *Conn) registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device != nil
}

func (c *Conn) register(deviceID, name, token string, device *peernfc.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceID = deviceID
	c.name = name
	c.token = token
	c.device = device
}

// release detaches the device and token so they can be closed once.
func (c *Conn) release() (*peernfc.Device, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, token := c.device, c.token
	c.device, c.token = nil, ""
	return dev, token
}

func (c *Conn) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == "" {
		return c.remote
	}
	return fmt.Sprintf("%s (%s)", c.name, c.remote)
}

// writeLocked writes resp. The caller holds writeMu.
func (c *Conn) writeLocked(resp protocol.Response) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(resp)
}

// Send writes resp to the connection.
func (c *Conn) Send(resp protocol.Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(resp)
}

// Push sends an unsolicited message.
func (c *Conn) Push(msgType string, payload any) {
	resp, err := protocol.NewResponse("", msgType, payload)
	if err != nil {
		log.Printf("[relay] failed to encode %s push: %v", msgType, err)
		return
	}
	if err := c.Send(resp); err != nil {
		log.Printf("[relay] failed to push %s to %s: %v", msgType, c, err)
	}
}

func (c *Conn) sendError(id, code, message string) {
	if err := c.Send(protocol.NewErrorResponse(id, code, message)); err != nil {
		log.Printf("[relay] failed to send error to %s: %v", c, err)
	}
}
