// Package remotenfc provides proximity devices hosted by a relay server.
// A remote device is a websocket connection to the relay; the relay's
// shared field does the matching.
package remotenfc

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dotside-studios/nfcdata/buildinfo"
	"github.com/dotside-studios/nfcdata/nfc"
	"github.com/dotside-studios/nfcdata/nfc/internal/callq"
	"github.com/dotside-studios/nfcdata/protocol"
)

const (
	// DefaultRequestTimeout bounds a request round trip to the relay.
	DefaultRequestTimeout = 5 * time.Second

	writeWait     = 10 * time.Second
	failureBuffer = 16
)

type pendingRequest struct {
	resp chan protocol.Response
	// onSuccess runs on the read loop before any later frame is handled,
	// so handlers are registered before pushes for the new id arrive.
	onSuccess func(protocol.Response)
}

// Device is a proximity device hosted by a relay. It implements nfc.Device
// and nfc.FailureNotifier.
type Device struct {
	url      string
	name     string
	deviceID string
	token    string
	timeout  time.Duration
	ws       *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	pubs     map[int64]nfc.MessageTransmittedHandler
	subs     map[int64]nfc.MessageReceivedHandler
	failures chan nfc.TransportFailure
	closed   bool
	lost     error

	queue *callq.Queue
	done  chan struct{}
}

var (
	_ nfc.Device          = (*Device)(nil)
	_ nfc.FailureNotifier = (*Device)(nil)
)

// Option configures Dial.
type Option func(*dialConfig)

type dialConfig struct {
	name    string
	secret  string
	timeout time.Duration
	dialer  *websocket.Dialer
}

// WithName sets the device name sent in hello.
func WithName(name string) Option {
	return func(c *dialConfig) {
		c.name = name
	}
}

// WithSecret sets the relay API secret.
func WithSecret(secret string) Option {
	return func(c *dialConfig) {
		c.secret = secret
	}
}

// WithRequestTimeout sets how long a request waits for its response.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *dialConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer sets the websocket dialer, e.g. one with a TLS config.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *dialConfig) {
		c.dialer = dialer
	}
}

// Dial connects to the relay at url and says hello.
func Dial(ctx context.Context, url string, opts ...Option) (*Device, error) {
	cfg := dialConfig{
		name:    buildinfo.Name,
		timeout: DefaultRequestTimeout,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	header := http.Header{"User-Agent": []string{buildinfo.UserAgent()}}
	ws, _, err := cfg.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	d := &Device{
		url:      url,
		name:     cfg.name,
		timeout:  cfg.timeout,
		ws:       ws,
		pending:  make(map[string]*pendingRequest),
		pubs:     make(map[int64]nfc.MessageTransmittedHandler),
		subs:     make(map[int64]nfc.MessageReceivedHandler),
		failures: make(chan nfc.TransportFailure, failureBuffer),
		queue:    callq.New(),
		done:     make(chan struct{}),
	}
	go d.readLoop()

	resp, err := d.request("Dial", protocol.TypeHello, protocol.HelloPayload{
		DeviceName: cfg.name,
		AppVersion: buildinfo.FullVersion(),
		Secret:     cfg.secret,
	}, nil)
	if err != nil {
		d.Close()
		return nil, err
	}
	var welcome protocol.WelcomePayload
	if err := resp.Decode(&welcome); err != nil {
		d.Close()
		return nil, fmt.Errorf("invalid welcome from %s: %w", url, err)
	}

	d.mu.Lock()
	d.deviceID = welcome.DeviceID
	d.token = welcome.SessionToken
	d.mu.Unlock()

	log.Printf("[remote] connected to %s %s at %s as %s", welcome.ServerInfo.Name, welcome.ServerInfo.Version, url, welcome.DeviceID)
	return d, nil
}

// PublishBinaryMessage publishes through the relay.
func (d *Device) PublishBinaryMessage(messageType string, data []byte, handler nfc.MessageTransmittedHandler) (int64, error) {
	if _, err := nfc.ParseProtocolID(messageType); err != nil {
		return 0, err
	}
	resp, err := d.request("PublishBinaryMessage", protocol.TypePublish, protocol.PublishPayload{
		MessageType: messageType,
		Data:        data,
	}, func(resp protocol.Response) {
		if id, ok := decodeID(resp); ok {
			d.pubs[id] = handler
		}
	})
	if err != nil {
		return 0, err
	}
	id, _ := decodeID(resp)
	return id, nil
}

// SubscribeForMessage subscribes through the relay.
func (d *Device) SubscribeForMessage(messageType string, handler nfc.MessageReceivedHandler) (int64, error) {
	if _, err := nfc.ParseProtocolID(messageType); err != nil {
		return 0, err
	}
	resp, err := d.request("SubscribeForMessage", protocol.TypeSubscribe, protocol.SubscribePayload{
		MessageType: messageType,
	}, func(resp protocol.Response) {
		if id, ok := decodeID(resp); ok {
			d.subs[id] = handler
		}
	})
	if err != nil {
		return 0, err
	}
	id, _ := decodeID(resp)
	return id, nil
}

// StopPublishingMessage stops id locally at once and tells the relay
// without waiting for its reply.
func (d *Device) StopPublishingMessage(id int64) {
	d.mu.Lock()
	_, ok := d.pubs[id]
	delete(d.pubs, id)
	d.mu.Unlock()
	if ok {
		d.notify(protocol.TypeStopPublish, protocol.IDPayload{ID: id})
	}
}

// StopSubscribingForMessage stops id locally at once and tells the relay
// without waiting for its reply.
func (d *Device) StopSubscribingForMessage(id int64) {
	d.mu.Lock()
	_, ok := d.subs[id]
	delete(d.subs, id)
	d.mu.Unlock()
	if ok {
		d.notify(protocol.TypeStopSubscribe, protocol.IDPayload{ID: id})
	}
}

// PresentTag asks the relay to bring a tag into its field.
func (d *Device) PresentTag(tag protocol.PresentTagPayload) error {
	_, err := d.request("PresentTag", protocol.TypePresentTag, tag, nil)
	return err
}

// RemoveTag asks the relay to take a tag out of its field.
func (d *Device) RemoveTag(uid string) error {
	_, err := d.request("RemoveTag", protocol.TypeRemoveTag, protocol.RemoveTagPayload{UID: uid}, nil)
	return err
}

// Failures implements nfc.FailureNotifier.
func (d *Device) Failures() <-chan nfc.TransportFailure {
	return d.failures
}

// ID returns the device id the relay assigned.
func (d *Device) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceID
}

func (d *Device) String() string {
	return d.name + " via " + d.url
}

// Connection returns the device connection string.
func (d *Device) Connection() string {
	return "relay:" + d.url
}

// Close disconnects from the relay. It does not wait for a running handler.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.pubs = make(map[int64]nfc.MessageTransmittedHandler)
	d.subs = make(map[int64]nfc.MessageReceivedHandler)
	close(d.failures)
	d.mu.Unlock()

	d.queue.Close()

	d.writeMu.Lock()
	d.ws.SetWriteDeadline(time.Now().Add(writeWait))
	d.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	d.writeMu.Unlock()
	return d.ws.Close()
}

func (d *Device) write(req protocol.Request) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return d.ws.WriteJSON(req)
}

// request sends a request and waits for its response.
func (d *Device) request(op, msgType string, payload any, onSuccess func(protocol.Response)) (protocol.Response, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return protocol.Response{}, nfc.NewSessionClosedError(op)
	}
	if d.lost != nil {
		err := d.lost
		d.mu.Unlock()
		return protocol.Response{}, nfc.NewTransportError(op, err)
	}
	id := uuid.NewString()
	p := &pendingRequest{resp: make(chan protocol.Response, 1), onSuccess: onSuccess}
	d.pending[id] = p
	token := d.token
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	req, err := protocol.NewRequest(id, msgType, token, payload)
	if err != nil {
		return protocol.Response{}, err
	}
	if err := d.write(req); err != nil {
		return protocol.Response{}, nfc.NewTransportError(op, err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case resp := <-p.resp:
		if !resp.Success {
			return resp, responseError(op, resp)
		}
		return resp, nil
	case <-d.done:
		return protocol.Response{}, nfc.NewTransportError(op, fmt.Errorf("relay connection lost"))
	case <-timer.C:
		return protocol.Response{}, nfc.NewTransportError(op, fmt.Errorf("no response to %s after %v", msgType, d.timeout))
	}
}

// notify sends a request whose response is ignored.
func (d *Device) notify(msgType string, payload any) {
	d.mu.Lock()
	token, dead := d.token, d.closed || d.lost != nil
	d.mu.Unlock()
	if dead {
		return
	}
	req, err := protocol.NewRequest(uuid.NewString(), msgType, token, payload)
	if err != nil {
		return
	}
	if err := d.write(req); err != nil {
		log.Printf("[remote] failed to send %s to %s: %v", msgType, d.url, err)
	}
}

func (d *Device) readLoop() {
	defer close(d.done)
	for {
		var resp protocol.Response
		if err := d.ws.ReadJSON(&resp); err != nil {
			d.connectionLost(err)
			return
		}

		if resp.ID != "" {
			d.mu.Lock()
			p, ok := d.pending[resp.ID]
			if ok {
				delete(d.pending, resp.ID)
				if resp.Success && p.onSuccess != nil && !d.closed {
					p.onSuccess(resp)
				}
			}
			d.mu.Unlock()
			if ok {
				p.resp <- resp
			}
			continue
		}
		d.handlePush(resp)
	}
}

func (d *Device) handlePush(resp protocol.Response) {
	switch resp.Type {
	case protocol.TypePublished:
		var p protocol.IDPayload
		if err := resp.Decode(&p); err != nil {
			log.Printf("[remote] invalid published push: %v", err)
			return
		}
		d.queue.Enqueue(func() {
			d.mu.Lock()
			handler, ok := d.pubs[p.ID]
			d.mu.Unlock()
			if ok && handler != nil {
				handler(d, p.ID)
			}
		})

	case protocol.TypeMessage:
		var p protocol.MessagePayload
		if err := resp.Decode(&p); err != nil {
			log.Printf("[remote] invalid message push: %v", err)
			return
		}
		d.queue.Enqueue(func() {
			d.mu.Lock()
			handler, ok := d.subs[p.SubscriptionID]
			d.mu.Unlock()
			if ok && handler != nil {
				handler(d, nfc.ProximityMessage{
					MessageType:    p.MessageType,
					SubscriptionID: p.SubscriptionID,
					Data:           p.Data,
					ReceivedAt:     p.ReceivedAt,
				})
			}
		})

	case protocol.TypeFailure:
		var p protocol.FailurePayload
		if err := resp.Decode(&p); err != nil {
			log.Printf("[remote] invalid failure push: %v", err)
			return
		}
		code := nfc.ErrorCode(p.Code)
		if code == 0 {
			code = nfc.ErrCodeTransportFailed
		}
		failure := nfc.TransportFailure{
			Kind: nfc.ParseFailureKind(p.Kind),
			ID:   p.ID,
			Err:  nfc.WrapError(code, "relay", p.Error, nil),
		}
		d.mu.Lock()
		if failure.Kind == nfc.PublicationFailure {
			delete(d.pubs, p.ID)
		} else {
			delete(d.subs, p.ID)
		}
		d.reportLocked(failure)
		d.mu.Unlock()

	default:
		log.Printf("[remote] ignoring %s push from %s: %s", resp.Type, d.url, resp.Error)
	}
}

// connectionLost fails every active id after the relay connection drops.
func (d *Device) connectionLost(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.lost = err
	log.Printf("[remote] lost relay %s: %v", d.url, err)

	cause := nfc.NewTransportError("relay", err)
	for id := range d.pubs {
		d.reportLocked(nfc.TransportFailure{Kind: nfc.PublicationFailure, ID: id, Err: cause})
	}
	for id := range d.subs {
		d.reportLocked(nfc.TransportFailure{Kind: nfc.SubscriptionFailure, ID: id, Err: cause})
	}
	d.pubs = make(map[int64]nfc.MessageTransmittedHandler)
	d.subs = make(map[int64]nfc.MessageReceivedHandler)
}

// reportLocked sends a failure without blocking.
func (d *Device) reportLocked(failure nfc.TransportFailure) {
	if d.closed {
		return
	}
	select {
	case d.failures <- failure:
		log.Printf("[remote] %s %d failed: %v", failure.Kind, failure.ID, failure.Err)
	default:
		log.Printf("[remote] dropped %s failure for %d", failure.Kind, failure.ID)
	}
}

func decodeID(resp protocol.Response) (int64, bool) {
	var p protocol.IDPayload
	if err := resp.Decode(&p); err != nil {
		return 0, false
	}
	return p.ID, true
}

// responseError turns a relay error response into an nfc error.
func responseError(op string, resp protocol.Response) error {
	switch resp.Code {
	case protocol.ErrCodeInvalidID:
		return nfc.Errorf(nfc.ErrCodeInvalidProtocolID, op, "%s", resp.Error)
	case protocol.ErrCodeNotSupported:
		return nfc.Errorf(nfc.ErrCodeNotSupported, op, "%s", resp.Error)
	case protocol.ErrCodeUnauthorized:
		return nfc.NewNoDeviceError(op, fmt.Errorf("relay refused: %s", resp.Error))
	default:
		return nfc.NewTransportError(op, fmt.Errorf("%s: %s", resp.Code, resp.Error))
	}
}
