package nfc

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Person is the structured record exchanged under the Windows.Person
// protocol id.
type Person struct {
	FirstName string
	LastName  string
}

func (p Person) String() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// RecordFormat names a Person serialization.
type RecordFormat string

const (
	// RecordFormatJSON is a JSON object with FirstName and LastName members.
	RecordFormatJSON RecordFormat = "json"

	// RecordFormatDataContract is the XML document written by .NET's
	// DataContractSerializer for the NfcData.Person contract.
	RecordFormatDataContract RecordFormat = "datacontract"
)

// DataContractNamespace is the XML namespace of the Person data contract.
const DataContractNamespace = "http://schemas.datacontract.org/2004/07/NfcData"

// PersonCodec serializes Person records. Unknown fields are ignored on
// decode and missing fields decode as empty strings.
type PersonCodec interface {
	Encode(p Person) ([]byte, error)
	Decode(data []byte) (Person, error)
	Format() RecordFormat
}

// NewPersonCodec returns the codec for the named format.
func NewPersonCodec(format RecordFormat) (PersonCodec, error) {
	switch format {
	case "", RecordFormatJSON:
		return JSONPersonCodec{}, nil
	case RecordFormatDataContract:
		return DataContractPersonCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown record format: %q", format)
	}
}

// JSONPersonCodec encodes Person as a JSON object.
type JSONPersonCodec struct{}

type jsonPerson struct {
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
}

func (JSONPersonCodec) Format() RecordFormat { return RecordFormatJSON }

func (JSONPersonCodec) Encode(p Person) ([]byte, error) {
	data, err := json.Marshal(jsonPerson(p))
	if err != nil {
		return nil, fmt.Errorf("encode person: %w", err)
	}
	return data, nil
}

func (JSONPersonCodec) Decode(data []byte) (Person, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Person{}, NewMalformedRecordError("DecodePerson", fmt.Errorf("expected a JSON object"))
	}
	// Keys are matched exactly; encoding/json would fold case.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Person{}, NewMalformedRecordError("DecodePerson", err)
	}
	var p Person
	for key, dst := range map[string]*string{"FirstName": &p.FirstName, "LastName": &p.LastName} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return Person{}, NewMalformedRecordError("DecodePerson", fmt.Errorf("field %s: %w", key, err))
		}
	}
	return p, nil
}

// DataContractPersonCodec encodes Person as DataContractSerializer XML.
type DataContractPersonCodec struct{}

type dataContractPersonOut struct {
	XMLName   xml.Name `xml:"http://schemas.datacontract.org/2004/07/NfcData Person"`
	FirstName string   `xml:"FirstName"`
	LastName  string   `xml:"LastName"`
}

// Decoding accepts the Person element in any namespace.
type dataContractPersonIn struct {
	XMLName   xml.Name `xml:"Person"`
	FirstName string   `xml:"FirstName"`
	LastName  string   `xml:"LastName"`
}

func (DataContractPersonCodec) Format() RecordFormat { return RecordFormatDataContract }

func (DataContractPersonCodec) Encode(p Person) ([]byte, error) {
	data, err := xml.Marshal(dataContractPersonOut{FirstName: p.FirstName, LastName: p.LastName})
	if err != nil {
		return nil, fmt.Errorf("encode person: %w", err)
	}
	return data, nil
}

func (DataContractPersonCodec) Decode(data []byte) (Person, error) {
	var dp dataContractPersonIn
	if err := xml.Unmarshal(data, &dp); err != nil {
		return Person{}, NewMalformedRecordError("DecodePerson", err)
	}
	return Person{FirstName: dp.FirstName, LastName: dp.LastName}, nil
}

// EncodePerson encodes p as JSON.
func EncodePerson(p Person) ([]byte, error) {
	return JSONPersonCodec{}.Encode(p)
}

// DecodePerson decodes a JSON Person record.
func DecodePerson(data []byte) (Person, error) {
	return JSONPersonCodec{}.Decode(data)
}
