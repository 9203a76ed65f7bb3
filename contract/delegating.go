package contract

import (
	"reflect"

	"github.com/pkg/errors"

	"ranger-rpc/command"
)

// Delegating post-processes another contract's metadata: methods declared
// to return *command.Command[T], *command.Single[T] or
// *command.Observable[T] get T as their ReturnType, so responses decode into
// the payload rather than the wrapper. Run it once per service type.
type Delegating struct {
	delegate Contract
}

// NewDelegating wraps delegate (nil means Default).
func NewDelegating(delegate Contract) *Delegating {
	if delegate == nil {
		delegate = Default{}
	}
	return &Delegating{delegate: delegate}
}

func (d *Delegating) ParseAndValidateMetadata(apiType reflect.Type) ([]*MethodMetadata, error) {
	metadatas, err := d.delegate.ParseAndValidateMetadata(apiType)
	if err != nil {
		return nil, err
	}
	for _, md := range metadatas {
		if md.ReturnType == nil {
			continue
		}
		shape, payload := command.ShapeOf(md.ReturnType)
		if shape == command.Direct {
			continue
		}
		// A wrapper carries its own error; (wrapper, error) has no shape.
		if md.Type != nil && md.Type.NumOut() != 1 {
			return nil, errors.Errorf("contract: %s returns %s with an error; return the wrapper alone", md.ConfigKey, md.ReturnType)
		}
		md.ReturnType = payload
	}
	return metadatas, nil
}
