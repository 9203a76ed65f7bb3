package codec

import (
	"fmt"
)

// RawCodec passes string and []byte bodies through unchanged.
type RawCodec struct{}

func (c *RawCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case fmt.Stringer:
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("RawCodec: cannot encode %T", v)
	}
}

func (c *RawCodec) Decode(data []byte, v any) error {
	switch p := v.(type) {
	case *[]byte:
		*p = append([]byte(nil), data...)
	case *string:
		*p = string(data)
	default:
		return fmt.Errorf("RawCodec: cannot decode into %T", v)
	}
	return nil
}

func (c *RawCodec) Type() CodecType {
	return CodecTypeRaw
}

func (c *RawCodec) ContentType() string {
	return "text/plain; charset=utf-8"
}
