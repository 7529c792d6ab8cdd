package screens

import (
	"fmt"

	"github.com/dotside-studios/nfcdata/nfc"
)

// Status lines shown by the screens.
const (
	StatusWaitingForTag  = "Waiting for tag..."
	StatusWaitingForPeer = "Waiting for device..."
	StatusWritten        = "Data was written!"
	StatusNoNFC          = "Your phone has no NFC or it is disabled"
)

// EventKind classifies a screen event.
type EventKind int

const (
	// EventStatus carries a new status line.
	EventStatus EventKind = iota
	// EventAlert carries a message that needs the user's attention.
	EventAlert
	// EventContent carries a received payload: nfc.TextContent,
	// nfc.ImageContent, nfc.UnknownMime or nfc.Person.
	EventContent
	// EventError carries a decode or transport error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventAlert:
		return "alert"
	case EventContent:
		return "content"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is something a screen wants shown.
type Event struct {
	Screen  string
	Kind    EventKind
	Status  string
	Content any
	Err     error
}

func (e Event) String() string {
	switch e.Kind {
	case EventContent:
		return fmt.Sprintf("[%s] %s: %v", e.Screen, e.Kind, e.Content)
	case EventError:
		return fmt.Sprintf("[%s] %s: %v", e.Screen, e.Kind, e.Err)
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Screen, e.Kind, e.Status)
	}
}

func waitingStatus(target nfc.Target) string {
	if target == nfc.TargetTag {
		return StatusWaitingForTag
	}
	return StatusWaitingForPeer
}
