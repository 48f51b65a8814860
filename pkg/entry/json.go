package entry

import (
	"encoding/json"
	"fmt"
)

// Each variant marshals as a flat object with a leading "type" discriminator,
// which Decode uses to pick the concrete type back out.

func (n *Network) MarshalJSON() ([]byte, error) {
	type alias Network
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindNetwork, (*alias)(n)})
}

func (n *Navigation) MarshalJSON() ([]byte, error) {
	type alias Navigation
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindNavigation, (*alias)(n)})
}

func (d *Database) MarshalJSON() ([]byte, error) {
	type alias Database
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindDatabase, (*alias)(d)})
}

func (p *Plain) MarshalJSON() ([]byte, error) {
	type alias Plain
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindPlain, (*alias)(p)})
}

// Decode parses a single JSON-encoded entry, selecting the variant by its
// "type" field. Entries with an unknown or missing type are rejected.
func Decode(data []byte) (Entry, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("entry: decode: %w", err)
	}

	var (
		e   Entry
		err error
	)
	switch probe.Type {
	case KindNetwork:
		var n Network
		err = json.Unmarshal(data, &n)
		e = &n
	case KindNavigation:
		var n Navigation
		err = json.Unmarshal(data, &n)
		e = &n
	case KindDatabase:
		var d Database
		err = json.Unmarshal(data, &d)
		e = &d
	case KindPlain:
		var p Plain
		err = json.Unmarshal(data, &p)
		e = &p
	default:
		return nil, fmt.Errorf("entry: decode: unknown type %q", probe.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("entry: decode %s: %w", probe.Type, err)
	}
	return e, nil
}
