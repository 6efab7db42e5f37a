package model

import (
	"fmt"
	"math"
	"strconv"
)

// Status is one raw status snapshot from the cloud: a flat field to value
// mapping. A missing key means "not reported", which is distinct from a
// reported zero.
type Status map[string]float64

// Err returns the device-reported error code, if any.
func (s Status) Err() (int, bool) {
	v, ok := s["err"]
	if !ok || v == 0 {
		return 0, false
	}
	return int(v), true
}

// Kind selects the default decode/encode behavior of a capability.
type Kind int

const (
	Bool Kind = iota
	Enum
	Number
	// Scaled numbers travel as integers on the wire (e.g. a humidity
	// setpoint of 45.5 is transmitted as 4550 with Scale 100).
	Scaled
)

// EnumValue maps a wire ordinal to a capability label.
type EnumValue struct {
	Ordinal int
	Label   string
}

// Capability describes one capability of an appliance model: which raw
// status field feeds it, how the raw value translates to a capability
// value, and how a requested value translates back into a command.
//
// Field == "" marks a write-only capability (never decoded), Param == ""
// a read-only sensor (writes rejected).
type Capability struct {
	ID       string
	Field    string
	Param    string
	Kind     Kind
	Enum     []EnumValue
	Scale    float64
	Triggers bool

	// Decode and Encode override the Kind-driven defaults for
	// capabilities that do not fit the one-field-one-param shape.
	// Decode returns (value, present, err); err marks a decode miss.
	Decode func(Status) (any, bool, error)
	// Encode returns the command sequence for a requested value.
	Encode func(any) ([]string, error)
}

// Value is one decoded capability value.
type Value struct {
	CapabilityID string
	Value        any
}

// Miss records a raw value outside the known table for a capability.
type Miss struct {
	CapabilityID string
	Field        string
	Raw          float64
}

func (m Miss) Error() string {
	return fmt.Sprintf("capability %s: no mapping for %s=%v", m.CapabilityID, m.Field, m.Raw)
}

// Descriptor is the static description of one appliance model.
type Descriptor struct {
	Model       string
	DisplayName string
	// VendorTypes are the cloud "type" codes observed for this model
	// during discovery. Empty when the code is not known; pairing then
	// requires an explicit model choice.
	VendorTypes  []string
	Capabilities []Capability
}

// Capability returns the capability with the given id.
func (d *Descriptor) Capability(id string) (*Capability, bool) {
	for i := range d.Capabilities {
		if d.Capabilities[i].ID == id {
			return &d.Capabilities[i], true
		}
	}
	return nil, false
}

// Decode maps a raw status snapshot to capability values, in declaration
// order. Capabilities whose raw field is absent are skipped entirely, so a
// partial snapshot never resets a value. Raw values outside an enum table
// are returned as misses, never coerced to a nearest label.
func (d *Descriptor) Decode(st Status) ([]Value, []Miss) {
	var (
		values []Value
		misses []Miss
	)
	for i := range d.Capabilities {
		c := &d.Capabilities[i]
		if c.Decode != nil {
			v, present, err := c.Decode(st)
			if err != nil {
				misses = append(misses, missFor(c, st))
				continue
			}
			if present {
				values = append(values, Value{CapabilityID: c.ID, Value: v})
			}
			continue
		}
		if c.Field == "" {
			continue
		}
		raw, ok := st[c.Field]
		if !ok {
			continue
		}
		switch c.Kind {
		case Bool:
			values = append(values, Value{CapabilityID: c.ID, Value: raw == 1})
		case Enum:
			label, ok := labelFor(c.Enum, raw)
			if !ok {
				misses = append(misses, Miss{CapabilityID: c.ID, Field: c.Field, Raw: raw})
				continue
			}
			values = append(values, Value{CapabilityID: c.ID, Value: label})
		case Number:
			values = append(values, Value{CapabilityID: c.ID, Value: raw})
		case Scaled:
			values = append(values, Value{CapabilityID: c.ID, Value: raw / c.Scale})
		}
	}
	return values, misses
}

// Encode translates a requested capability value into the command sequence
// to send. Unknown capabilities, read-only capabilities, and values outside
// the capability's domain are errors, not silent no-ops.
func (d *Descriptor) Encode(capID string, v any) ([]string, error) {
	c, ok := d.Capability(capID)
	if !ok {
		return nil, fmt.Errorf("model %s: unknown capability %q", d.Model, capID)
	}
	if c.Encode != nil {
		return c.Encode(v)
	}
	if c.Param == "" {
		return nil, fmt.Errorf("model %s: capability %q is read-only", d.Model, capID)
	}
	switch c.Kind {
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("capability %q wants a bool, got %T", capID, v)
		}
		return []string{command(c.Param, boolWire(b))}, nil
	case Enum:
		label, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("capability %q wants a label, got %T", capID, v)
		}
		ordinal, ok := ordinalFor(c.Enum, label)
		if !ok {
			return nil, fmt.Errorf("capability %q: unknown value %q", capID, label)
		}
		return []string{command(c.Param, strconv.Itoa(ordinal))}, nil
	case Number:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("capability %q wants a number, got %T", capID, v)
		}
		return []string{command(c.Param, strconv.FormatFloat(f, 'f', -1, 64))}, nil
	case Scaled:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("capability %q wants a number, got %T", capID, v)
		}
		wire := int(math.Round(f * c.Scale))
		return []string{command(c.Param, strconv.Itoa(wire))}, nil
	}
	return nil, fmt.Errorf("capability %q: unhandled kind", capID)
}

func command(param, value string) string {
	return "tune set " + param + " " + value
}

func boolWire(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func labelFor(table []EnumValue, raw float64) (string, bool) {
	ordinal := int(raw)
	if float64(ordinal) != raw {
		return "", false
	}
	for _, e := range table {
		if e.Ordinal == ordinal {
			return e.Label, true
		}
	}
	return "", false
}

func ordinalFor(table []EnumValue, label string) (int, bool) {
	for _, e := range table {
		if e.Label == label {
			return e.Ordinal, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func missFor(c *Capability, st Status) Miss {
	m := Miss{CapabilityID: c.ID, Field: c.Field}
	if c.Field != "" {
		m.Raw = st[c.Field]
	}
	return m
}
