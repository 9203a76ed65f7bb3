package registry

import "github.com/go-kit/log"

// Option configures a backend.
type Option func(*Options)

// Options holds the settings shared by every backend.
type Options struct {
	Logger       log.Logger
	Serializer   Serializer
	Deserializer Deserializer
	// KeyPrefix is the root every key is stored under.
	KeyPrefix string
}

func newOptions(opts ...Option) Options {
	o := Options{
		Logger:       log.NewNopLogger(),
		Serializer:   JSONSerializer,
		Deserializer: JSONDeserializer,
		KeyPrefix:    "ranger",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used to report unparsable nodes and ended
// watches.
func WithLogger(l log.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithSerializer overrides how nodes are encoded on Register.
func WithSerializer(s Serializer) Option {
	return func(o *Options) {
		o.Serializer = s
	}
}

// WithDeserializer overrides how stored payloads are decoded.
func WithDeserializer(d Deserializer) Option {
	return func(o *Options) {
		o.Deserializer = d
	}
}

// WithKeyPrefix changes the root key.
func WithKeyPrefix(prefix string) Option {
	return func(o *Options) {
		o.KeyPrefix = prefix
	}
}
