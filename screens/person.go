package screens

import (
	"fmt"

	"github.com/dotside-studios/nfcdata/nfc"
)

// WritePersonScreen publishes a Person record.
type WritePersonScreen struct {
	env *Env
}

func (s *WritePersonScreen) Name() string { return "write-person" }

func (s *WritePersonScreen) OnNavigatedTo(env *Env) {
	s.env = env
}

func (s *WritePersonScreen) OnNavigatedFrom() {
	if s.env != nil && s.env.Available() {
		s.env.Session.StopPublish()
	}
}

// WritePerson encodes a person with the configured codec and publishes it.
func (s *WritePersonScreen) WritePerson(firstName, lastName string) error {
	if s.env == nil {
		return fmt.Errorf("%s: screen is not current", s.Name())
	}
	data, err := s.env.Codec.Encode(nfc.Person{FirstName: firstName, LastName: lastName})
	if err != nil {
		return err
	}
	return publish(s.env, s, nfc.PersonProtocolID(s.env.Target), data)
}

// ReadPersonScreen subscribes to Person records.
type ReadPersonScreen struct {
	env *Env
}

func (s *ReadPersonScreen) Name() string { return "read-person" }

func (s *ReadPersonScreen) OnNavigatedTo(env *Env) {
	s.env = env
	subscribe(env, s, nfc.PersonSubscriptionID)
}

func (s *ReadPersonScreen) OnNavigatedFrom() {
	if s.env != nil && s.env.Available() {
		s.env.Session.StopSubscribe()
	}
}

// New returns a fresh screen by name: "write-mime", "read-mime",
// "write-person" or "read-person".
func New(name string) (Screen, error) {
	switch name {
	case "write-mime":
		return &WriteMimeScreen{}, nil
	case "read-mime":
		return &ReadMimeScreen{}, nil
	case "write-person":
		return &WritePersonScreen{}, nil
	case "read-person":
		return &ReadPersonScreen{}, nil
	default:
		return nil, fmt.Errorf("unknown screen %q", name)
	}
}

// Names lists the screens New accepts.
func Names() []string {
	return []string{"write-mime", "read-mime", "write-person", "read-person"}
}
