package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/dotside-studios/nfcdata/buildinfo"
	"github.com/dotside-studios/nfcdata/nfc"
	"github.com/dotside-studios/nfcdata/nfc/peernfc"
	"github.com/dotside-studios/nfcdata/protocol"
)

// requestError is returned by handlers for requests the relay refuses.
type requestError struct {
	code    string
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func invalidRequest(format string, args ...any) error {
	return &requestError{code: protocol.ErrCodeInvalidRequest, message: fmt.Sprintf(format, args...)}
}

// errorCode maps a handler error to a wire error code.
func errorCode(err error) string {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.code
	}
	switch nfc.GetErrorCode(err) {
	case nfc.ErrCodeInvalidProtocolID:
		return protocol.ErrCodeInvalidID
	case nfc.ErrCodeNotSupported:
		return protocol.ErrCodeNotSupported
	case 0:
		return protocol.ErrCodeInternalError
	default:
		return protocol.ErrCodeInvalidRequest
	}
}

// RelayHandler serves relay requests by opening a device per connection in
// a shared proximity field.
type RelayHandler struct {
	field    *peernfc.Field
	sessions *SessionManager
}

// NewRelayHandler creates a handler over field.
func NewRelayHandler(field *peernfc.Field, sessions *SessionManager) *RelayHandler {
	return &RelayHandler{field: field, sessions: sessions}
}

// Register routes the relay requests. Only hello runs without a token.
func (h *RelayHandler) Register(r *Router) {
	r.HandleOpen(protocol.TypeHello, h.handleHello)
	r.Handle(protocol.TypePublish, h.handlePublish)
	r.Handle(protocol.TypeSubscribe, h.handleSubscribe)
	r.Handle(protocol.TypeStopPublish, h.handleStopPublish)
	r.Handle(protocol.TypeStopSubscribe, h.handleStopSubscribe)
	r.Handle(protocol.TypePresentTag, h.handlePresentTag)
	r.Handle(protocol.TypeRemoveTag, h.handleRemoveTag)
}

func (h *RelayHandler) handleHello(_ context.Context, c *Conn, req protocol.Request) (any, error) {
	if c.registered() {
		return nil, invalidRequest("connection already said hello")
	}

	var hello protocol.HelloPayload
	if err := req.Decode(&hello); err != nil {
		return nil, invalidRequest("invalid hello payload: %v", err)
	}
	if hello.DeviceName == "" {
		return nil, invalidRequest("deviceName is required")
	}

	deviceID := uuid.NewString()
	token := h.sessions.Acquire(hello.Secret, deviceID)
	if token == "" {
		return nil, &requestError{code: protocol.ErrCodeUnauthorized, message: "invalid API secret"}
	}

	dev, err := h.field.OpenDevice(deviceID)
	if err != nil {
		h.sessions.Release(token)
		return nil, err
	}
	c.register(deviceID, hello.DeviceName, token, dev)
	go forwardFailures(c, dev)

	log.Printf("[relay] device %q joined as %s (app %s)", hello.DeviceName, deviceID, hello.AppVersion)
	return protocol.WelcomePayload{
		DeviceID:     deviceID,
		SessionToken: token,
		ServerInfo: protocol.ServerInfo{
			Name:     buildinfo.DisplayName,
			Version:  buildinfo.Version,
			Families: []string{nfc.FamilyWindows, nfc.FamilyMime},
		},
	}, nil
}

func (h *RelayHandler) handlePublish(_ context.Context, c *Conn, req protocol.Request) (any, error) {
	var p protocol.PublishPayload
	if err := req.Decode(&p); err != nil {
		return nil, invalidRequest("invalid publish payload: %v", err)
	}

	id, err := c.Device().PublishBinaryMessage(p.MessageType, p.Data, func(_ nfc.Device, id int64) {
		c.Push(protocol.TypePublished, protocol.IDPayload{ID: id})
	})
	if err != nil {
		return nil, err
	}
	return protocol.IDPayload{ID: id}, nil
}

func (h *RelayHandler) handleSubscribe(_ context.Context, c *Conn, req protocol.Request) (any, error) {
	var p protocol.SubscribePayload
	if err := req.Decode(&p); err != nil {
		return nil, invalidRequest("invalid subscribe payload: %v", err)
	}

	id, err := c.Device().SubscribeForMessage(p.MessageType, func(_ nfc.Device, msg nfc.ProximityMessage) {
		c.Push(protocol.TypeMessage, protocol.MessagePayload{
			SubscriptionID: msg.SubscriptionID,
			MessageType:    msg.MessageType,
			Data:           msg.Data,
			ReceivedAt:     msg.ReceivedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return protocol.IDPayload{ID: id}, nil
}

func (h *RelayHandler) handleStopPublish(_ context.Context, c *Conn, req protocol.Request) (any, error) {
	var p protocol.IDPayload
	if err := req.Decode(&p); err != nil {
		return nil, invalidRequest("invalid stopPublish payload: %v", err)
	}
	c.Device().StopPublishingMessage(p.ID)
	return nil, nil
}

func (h *RelayHandler) handleStopSubscribe(_ context.Context, c *Conn, req protocol.Request) (any, error) {
	var p protocol.IDPayload
	if err := req.Decode(&p); err != nil {
		return nil, invalidRequest("invalid stopSubscribe payload: %v", err)
	}
	c.Device().StopSubscribingForMessage(p.ID)
	return nil, nil
}

func (h *RelayHandler) handlePresentTag(_ context.Context, c *Conn, req protocol.Request) (any, error) {
	var p protocol.PresentTagPayload
	if err := req.Decode(&p); err != nil {
		return nil, invalidRequest("invalid presentTag payload: %v", err)
	}
	uid, err := protocol.ParseUID(p.UID)
	if err != nil {
		return nil, invalidRequest("%v", err)
	}

	tag := peernfc.NewTag(uid)
	if p.MessageType != "" {
		if tag, err = peernfc.NewTagWithContent(uid, p.MessageType, p.Data); err != nil {
			return nil, err
		}
	}
	tag.ReadOnly = p.ReadOnly
	tag.Capacity = p.Capacity

	if err := h.field.PresentTag(tag); err != nil {
		return nil, invalidRequest("%v", err)
	}
	log.Printf("[relay] %s presented tag %s", c, uid)
	return nil, nil
}

func (h *RelayHandler) handleRemoveTag(_ context.Context, c *Conn, req protocol.Request) (any, error) {
	var p protocol.RemoveTagPayload
	if err := req.Decode(&p); err != nil {
		return nil, invalidRequest("invalid removeTag payload: %v", err)
	}
	uid, err := protocol.ParseUID(p.UID)
	if err != nil {
		return nil, invalidRequest("%v", err)
	}
	if _, ok := h.field.RemoveTag(uid); !ok {
		return nil, invalidRequest("tag %s is not present", uid)
	}
	return nil, nil
}

// forwardFailures pushes the device's transport failures until it closes.
func forwardFailures(c *Conn, dev *peernfc.Device) {
	for f := range dev.Failures() {
		c.Push(protocol.TypeFailure, protocol.FailurePayload{
			Kind:  f.Kind.String(),
			ID:    f.ID,
			Error: f.Err.Error(),
			Code:  int(nfc.GetErrorCode(f.Err)),
		})
	}
}
