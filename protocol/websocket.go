package protocol

import "time"

// HelloPayload opens a relay session.
type HelloPayload struct {
	DeviceName string `json:"deviceName"`
	AppVersion string `json:"appVersion,omitempty"`
	Secret     string `json:"secret,omitempty"`
}

// WelcomePayload is the reply to hello.
type WelcomePayload struct {
	DeviceID     string     `json:"deviceID"`
	SessionToken string     `json:"sessionToken"`
	ServerInfo   ServerInfo `json:"serverInfo"`
}

// ServerInfo contains information about the relay.
type ServerInfo struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Families []string `json:"families"`
}

// PublishPayload starts a publication.
type PublishPayload struct {
	MessageType string `json:"messageType"`
	Data        []byte `json:"data"`
}

// SubscribePayload starts a subscription.
type SubscribePayload struct {
	MessageType string `json:"messageType"`
}

// IDPayload carries a publication or subscription id. It is the reply to
// publish and subscribe, the request body of stopPublish and stopSubscribe,
// and the body of the published push.
type IDPayload struct {
	ID int64 `json:"id"`
}

// MessagePayload is pushed for each delivery to a subscription.
type MessagePayload struct {
	SubscriptionID int64     `json:"subscriptionID"`
	MessageType    string    `json:"messageType"`
	Data           []byte    `json:"data"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// FailurePayload is pushed when the relay gives up on an id.
type FailurePayload struct {
	Kind  string `json:"kind"` // "publication" or "subscription"
	ID    int64  `json:"id"`
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// PresentTagPayload brings a tag into the relay's field.
type PresentTagPayload struct {
	// UID is the tag's unique identifier in hex format (e.g., "04:AB:CD:EF:12:34:56")
	UID      string `json:"uid"`
	ReadOnly bool   `json:"readOnly,omitempty"`
	Capacity int    `json:"capacity,omitempty"`

	// MessageType and Data describe content already on the tag (optional).
	MessageType string `json:"messageType,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// RemoveTagPayload takes a tag out of the relay's field.
type RemoveTagPayload struct {
	UID string `json:"uid"`
}
