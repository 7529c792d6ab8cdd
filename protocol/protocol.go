// Package protocol provides the relay wire types shared by the relay server
// and remote proximity devices.
// This package is designed to be importable without pulling in server dependencies.
package protocol

import "encoding/json"

// ServiceType is the mDNS service type relays advertise.
const ServiceType = "_nfcdata-relay._tcp"

// WebSocketPath is the relay's websocket endpoint.
const WebSocketPath = "/ws"

// Request types sent by a device to the relay.
const (
	TypeHello         = "hello"
	TypePublish       = "publish"
	TypeSubscribe     = "subscribe"
	TypeStopPublish   = "stopPublish"
	TypeStopSubscribe = "stopSubscribe"
	TypePresentTag    = "presentTag"
	TypeRemoveTag     = "removeTag"
)

// Message types pushed by the relay to a device.
const (
	TypeWelcome   = "welcome"
	TypePublished = "published"
	TypeMessage   = "message"
	TypeFailure   = "failure"
	TypeError     = "error"
)

// Error codes carried in Response.Code.
const (
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidID      = "INVALID_PROTOCOL_ID"
	ErrCodeNotSupported   = "NOT_SUPPORTED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// Request is a message from a device. ID is chosen by the device and echoed
// in the Response.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers a Request, or is pushed unsolicited with an empty ID.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// NewRequest builds a request with a JSON encoded payload.
func NewRequest(id, msgType, token string, payload any) (Request, error) {
	req := Request{ID: id, Type: msgType, Token: token}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Request{}, err
		}
		req.Payload = raw
	}
	return req, nil
}

// NewResponse builds a successful response with a JSON encoded payload.
func NewResponse(id, msgType string, payload any) (Response, error) {
	resp := Response{ID: id, Type: msgType, Success: true}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Response{}, err
		}
		resp.Payload = raw
	}
	return resp, nil
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id, code, message string) Response {
	return Response{ID: id, Type: TypeError, Success: false, Error: message, Code: code}
}

// Decode unmarshals the response payload into v.
func (r Response) Decode(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, v)
}

// Decode unmarshals the request payload into v.
func (r Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, v)
}
