package client

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"time"

	pkgerrors "github.com/pkg/errors"

	"ranger-rpc/codec"
	"ranger-rpc/contract"
	"ranger-rpc/target"
	"ranger-rpc/transport"
)

// methodHandler is the plain dispatch path for one method: expand the
// template, route it, send it, decode the response. It knows nothing about
// pools or fallbacks.
type methodHandler struct {
	md           *contract.MethodMetadata
	target       target.Target
	client       transport.Client
	encoder      codec.Codec
	decoder      codec.Codec
	interceptors []contract.Interceptor
	decode404    bool
	timeout      time.Duration
}

func (h *methodHandler) invoke(ctx context.Context, args []any) (any, error) {
	tmpl, err := h.md.Expand(args, h.encoder)
	if err != nil {
		return nil, err
	}
	for _, intercept := range h.interceptors {
		intercept(tmpl)
	}
	req, err := h.target.Apply(tmpl)
	if err != nil {
		return nil, err
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	resp, err := h.client.Execute(ctx, req)
	if err != nil {
		return nil, pkgerrors.Wrap(errors.Join(ErrPrimaryCallFailed, err), req.String())
	}
	return h.decode(resp)
}

func (h *methodHandler) decode(resp *transport.Response) (any, error) {
	if resp.Status == http.StatusNotFound && h.decode404 {
		if h.md.ReturnType == nil {
			return nil, nil
		}
		return reflect.Zero(h.md.ReturnType).Interface(), nil
	}
	if !resp.OK() {
		return nil, &StatusError{
			Method: resp.Request.Method,
			URL:    resp.Request.URL,
			Status: resp.Status,
			Body:   resp.Body,
		}
	}
	if h.md.ReturnType == nil {
		return nil, nil
	}
	out := reflect.New(h.md.ReturnType)
	if err := h.decoder.Decode(resp.Body, out.Interface()); err != nil {
		return nil, pkgerrors.Wrapf(errors.Join(ErrPrimaryCallFailed, err), "decode %s", resp.Request)
	}
	return out.Elem().Interface(), nil
}
