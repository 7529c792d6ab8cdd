package nfc

import (
	"fmt"
	"strings"
)

// Protocol families understood by the proximity platforms.
const (
	FamilyMime    = "WindowsMime"
	FamilyWindows = "Windows"

	// PersonSubType is the Windows family subtype carrying Person records.
	PersonSubType = "Person"

	writeTagQualifier = "WriteTag"
)

// Subscription ids used by the read screens.
const (
	MimeSubscriptionID   = FamilyMime
	PersonSubscriptionID = FamilyWindows + "." + PersonSubType
)

// Target selects where a publication goes.
type Target int

const (
	// TargetPeer publishes to nearby proximity devices.
	TargetPeer Target = iota
	// TargetTag writes to the next writable tag brought in range.
	TargetTag
)

func (t Target) String() string {
	if t == TargetTag {
		return "tag"
	}
	return "peer"
}

// ParseTarget parses "peer" or "tag".
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "peer":
		return TargetPeer, nil
	case "tag":
		return TargetTag, nil
	default:
		return TargetPeer, fmt.Errorf("unknown target %q (want peer or tag)", s)
	}
}

// ProtocolID is a parsed proximity message type such as
// "WindowsMime:WriteTag.text/plain" or "Windows.Person".
type ProtocolID struct {
	Family   string
	SubType  string
	WriteTag bool
}

// ParseProtocolID parses a message type string. The family ends at the first
// '.', so subtypes may themselves contain dots.
func ParseProtocolID(s string) (ProtocolID, error) {
	head, sub, hasSub := strings.Cut(s, ".")
	if hasSub && sub == "" {
		return ProtocolID{}, Errorf(ErrCodeInvalidProtocolID, "ParseProtocolID", "empty subtype in %q", s)
	}

	family, qualifier, qualified := strings.Cut(head, ":")
	if family == "" {
		return ProtocolID{}, Errorf(ErrCodeInvalidProtocolID, "ParseProtocolID", "empty family in %q", s)
	}
	if qualified && qualifier != writeTagQualifier {
		return ProtocolID{}, Errorf(ErrCodeInvalidProtocolID, "ParseProtocolID", "unknown qualifier %q in %q", qualifier, s)
	}

	return ProtocolID{Family: family, SubType: sub, WriteTag: qualified}, nil
}

// MustParseProtocolID is like ParseProtocolID but panics on error.
func MustParseProtocolID(s string) ProtocolID {
	id, err := ParseProtocolID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (p ProtocolID) String() string {
	var sb strings.Builder
	sb.WriteString(p.Family)
	if p.WriteTag {
		sb.WriteString(":")
		sb.WriteString(writeTagQualifier)
	}
	if p.SubType != "" {
		sb.WriteString(".")
		sb.WriteString(p.SubType)
	}
	return sb.String()
}

// IsMime reports whether p is in the mime family.
func (p ProtocolID) IsMime() bool {
	return p.Family == FamilyMime
}

// Peer returns p without the WriteTag qualifier.
func (p ProtocolID) Peer() ProtocolID {
	p.WriteTag = false
	return p
}

// Subscription returns the id a reader subscribes with to receive p.
// Mime publications are received by the family-wide subscription.
func (p ProtocolID) Subscription() ProtocolID {
	if p.IsMime() {
		return ProtocolID{Family: p.Family}
	}
	return p.Peer()
}

// Matches reports whether a publication with id p is delivered to a
// subscription with id sub. Subscriptions never carry WriteTag.
func (p ProtocolID) Matches(sub ProtocolID) bool {
	if sub.WriteTag || p.Family != sub.Family {
		return false
	}
	return sub.SubType == "" || sub.SubType == p.SubType
}

// MimeProtocolID returns the publication id for a mime payload.
func MimeProtocolID(mimeType string, target Target) string {
	return ProtocolID{Family: FamilyMime, SubType: mimeType, WriteTag: target == TargetTag}.String()
}

// PersonProtocolID returns the publication id for a Person record.
func PersonProtocolID(target Target) string {
	return ProtocolID{Family: FamilyWindows, SubType: PersonSubType, WriteTag: target == TargetTag}.String()
}

// DeliveryPayload returns the bytes a subscriber receives for a publication.
// Mime family bodies are framed with their subtype as the mime type; other
// families are delivered unchanged.
func DeliveryPayload(framer *MimeFramer, pub ProtocolID, body []byte) ([]byte, error) {
	if !pub.IsMime() {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
	if framer == nil {
		framer = DefaultMimeFramer
	}
	return framer.Encode(pub.SubType, body)
}
