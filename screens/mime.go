package screens

import (
	"fmt"
	"os"

	"github.com/dotside-studios/nfcdata/nfc"
)

// WriteMimeScreen publishes text or a PNG image as a mime payload.
type WriteMimeScreen struct {
	env *Env
}

func (s *WriteMimeScreen) Name() string { return "write-mime" }

func (s *WriteMimeScreen) OnNavigatedTo(env *Env) {
	s.env = env
}

func (s *WriteMimeScreen) OnNavigatedFrom() {
	if s.env != nil && s.env.Available() {
		s.env.Session.StopPublish()
	}
}

// WriteText publishes text as text/plain.
func (s *WriteMimeScreen) WriteText(text string) error {
	return s.Write(nfc.MimeTextPlain, []byte(text))
}

// WriteImage publishes the PNG file at path as image/png.
func (s *WriteMimeScreen) WriteImage(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return s.Write(nfc.MimeImagePNG, data)
}

// Write publishes body under mimeType, replacing any pending publication.
func (s *WriteMimeScreen) Write(mimeType string, body []byte) error {
	if s.env == nil {
		return fmt.Errorf("%s: screen is not current", s.Name())
	}
	return publish(s.env, s, nfc.MimeProtocolID(mimeType, s.env.Target), body)
}

// ReadMimeScreen subscribes to mime payloads and renders them.
type ReadMimeScreen struct {
	env *Env
}

func (s *ReadMimeScreen) Name() string { return "read-mime" }

func (s *ReadMimeScreen) OnNavigatedTo(env *Env) {
	s.env = env
	subscribe(env, s, nfc.MimeSubscriptionID)
}

func (s *ReadMimeScreen) OnNavigatedFrom() {
	if s.env != nil && s.env.Available() {
		s.env.Session.StopSubscribe()
	}
}

// publish stops the screen's previous publication and registers a new one.
func publish(env *Env, screen Screen, protocolID string, data []byte) error {
	if !env.Available() {
		env.Emit(screen, Event{Kind: EventAlert, Status: StatusNoNFC})
		return nfc.NewNoDeviceError("Publish", nil)
	}

	env.Session.StopPublish()
	env.Emit(screen, Event{Kind: EventStatus, Status: waitingStatus(env.Target)})
	_, err := env.Session.Publish(protocolID, data, func(id nfc.PublicationID) {
		env.Emit(screen, Event{Kind: EventStatus, Status: StatusWritten})
	})
	if err != nil {
		env.Emit(screen, Event{Kind: EventError, Err: err})
	}
	return err
}

// subscribe registers a subscription that dispatches each message and
// reports the result.
func subscribe(env *Env, screen Screen, protocolID string) {
	if !env.Available() {
		env.Emit(screen, Event{Kind: EventAlert, Status: StatusNoNFC})
		return
	}

	_, err := env.Session.Subscribe(protocolID, func(msg nfc.ProximityMessage) {
		content, err := env.Registry.Dispatch(msg)
		if err != nil {
			env.Emit(screen, Event{Kind: EventError, Err: err})
			return
		}
		env.Emit(screen, Event{Kind: EventContent, Content: content})
	})
	if err != nil {
		env.Emit(screen, Event{Kind: EventError, Err: err})
	}
}
