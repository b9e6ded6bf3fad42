package datapoint

import "strings"

// Kind is the value encoding of a vendor data point.
type Kind int

const (
	KindUnknown Kind = iota
	KindInteger
	KindBoolean
	KindBitmap
	KindRaw
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "Integer"
	case KindBoolean:
		return "Boolean"
	case KindBitmap:
		return "Bitmap"
	case KindRaw:
		return "Raw"
	case KindString:
		return "String"
	default:
		return "Unknown"
	}
}

// ParseKind maps the vendor type name to a Kind. Unrecognized names yield KindUnknown.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "value":
		return KindInteger
	case "boolean", "bool":
		return KindBoolean
	case "bitmap":
		return KindBitmap
	case "raw":
		return KindRaw
	case "string":
		return KindString
	default:
		return KindUnknown
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}
