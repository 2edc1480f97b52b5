package layout

import (
	"fmt"
)

// TypeTag is the runtime discriminant identifying a value's shape. It is the
// pointer-sized token stored at the start of every value's header, typically
// the address of the runtime's type object for that shape.
type TypeTag uint64

// String formats the tag as a hex literal.
func (t TypeTag) String() string {
	return fmt.Sprintf("0x%x", uint64(t))
}

// FieldKind describes how a field's raw bytes are interpreted.
type FieldKind int

const (
	// KindInt is a raw integer stored inline in the value.
	KindInt FieldKind = iota
	// KindString is a pointer to a NUL-terminated byte sequence.
	KindString
	// KindValue is a pointer to another tagged value.
	KindValue
	// KindArray is an inline sequence of elements of a single element kind.
	KindArray
)

// String returns the kind's name as used in layout files.
func (k FieldKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindValue:
		return "value"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// ParseKind parses a kind name from a layout file.
func ParseKind(s string) (FieldKind, error) {
	switch s {
	case "int":
		return KindInt, nil
	case "string":
		return KindString, nil
	case "value":
		return KindValue, nil
	case "array":
		return KindArray, nil
	default:
		return 0, fmt.Errorf("unknown field kind %q", s)
	}
}

// FieldDescriptor describes one field of a tagged value: where it lives within
// the value and how to interpret its bytes.
type FieldDescriptor struct {
	// Name is an optional diagnostic label; it does not appear in renderings.
	Name string

	// Offset is the byte offset of the field within the value.
	Offset uint64

	// Kind selects the interpretation of the field's raw bytes.
	Kind FieldKind

	// Count is the element count for KindArray fields.
	Count int

	// Elem is the element kind for KindArray fields.
	Elem FieldKind
}

// LayoutRule associates a display name with an ordered field-decoding recipe.
// Rules are immutable once registered; field order is rendering order.
type LayoutRule struct {
	// Name is the display name used to label renderings.
	Name string

	// Bare marks a rule whose single scalar field renders without the
	// display-name label, so leaf values like integers appear as plain
	// literals inside their parent's rendering.
	Bare bool

	// Fields are decoded and rendered in declaration order.
	Fields []FieldDescriptor
}

// Validate checks that a rule is internally consistent before registration.
func (r *LayoutRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("layout rule has no display name")
	}

	if r.Bare {
		if len(r.Fields) != 1 {
			return fmt.Errorf("bare rule %q must have exactly one field, has %d", r.Name, len(r.Fields))
		}
		if r.Fields[0].Kind == KindArray || r.Fields[0].Kind == KindValue {
			return fmt.Errorf("bare rule %q must have a scalar field, has %s", r.Name, r.Fields[0].Kind)
		}
	}

	for i, f := range r.Fields {
		switch f.Kind {
		case KindInt, KindString, KindValue:
			// Scalar kinds carry no element info.
		case KindArray:
			if f.Count <= 0 {
				return fmt.Errorf("rule %q field %d: array count must be positive, got %d", r.Name, i, f.Count)
			}
			if f.Elem == KindArray {
				return fmt.Errorf("rule %q field %d: arrays cannot nest directly", r.Name, i)
			}
		default:
			return fmt.Errorf("rule %q field %d: invalid kind %d", r.Name, i, int(f.Kind))
		}
	}

	return nil
}
