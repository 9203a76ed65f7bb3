// Package codec turns request bodies into bytes and response bodies back
// into the method's payload type.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeRaw  CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	// Decode fills v, which must be a non-nil pointer.
	Decode(data []byte, v any) error
	Type() CodecType
	ContentType() string
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeRaw {
		return &RawCodec{}
	}

	return &JSONCodec{}
}
